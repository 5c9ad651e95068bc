package git

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed hooks/*.tmpl
var embeddedHooks embed.FS

// Marker identifies hook scripts written by install-hooks
const Marker = "installed by phaseforge"

// HookMeta is the frontmatter of a hook template
type HookMeta struct {
	Hook        string `yaml:"hook"`
	Phase       string `yaml:"phase"`
	Description string `yaml:"description"`
}

// hookData is passed to hook templates
type hookData struct {
	Binary string
	Phase  string
	Marker string
}

type hookTemplate struct {
	meta HookMeta
	tmpl *template.Template
}

// templates loads hook templates, preferring files in overrideDirs
type templates struct {
	overrideDirs []string
	cache        map[string]*hookTemplate
	mu           sync.Mutex
}

func newTemplates(overrideDirs ...string) *templates {
	return &templates{overrideDirs: overrideDirs, cache: make(map[string]*hookTemplate)}
}

// names lists the embedded hook names
func (t *templates) names() ([]string, error) {
	entries, err := fs.ReadDir(embeddedHooks, "hooks")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".tmpl"))
	}
	sort.Strings(names)
	return names, nil
}

func (t *templates) loadContent(name string) ([]byte, error) {
	file := name + ".tmpl"
	for _, dir := range t.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, file)); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedHooks, "hooks/"+file)
}

// parseFrontmatter splits content into frontmatter and body
func parseFrontmatter(content []byte) (HookMeta, string, error) {
	var meta HookMeta
	str := string(content)
	if !strings.HasPrefix(str, "---\n") {
		return meta, str, nil
	}
	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return meta, str, nil
	}
	if err := yaml.Unmarshal([]byte(str[4:4+end]), &meta); err != nil {
		return meta, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return meta, str[4+end+5:], nil
}

func (t *templates) load(name string) (*hookTemplate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ht, ok := t.cache[name]; ok {
		return ht, nil
	}

	content, err := t.loadContent(name)
	if err != nil {
		return nil, fmt.Errorf("load hook %s: %w", name, err)
	}
	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("hook %s: %w", name, err)
	}
	if meta.Hook == "" {
		meta.Hook = name
	}
	if meta.Phase == "" {
		meta.Phase = name
	}
	tmpl, err := template.New(name).Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse hook %s: %w", name, err)
	}
	ht := &hookTemplate{meta: meta, tmpl: tmpl}
	t.cache[name] = ht
	return ht, nil
}

// render returns the hook script for name
func (t *templates) render(name, binary string) (HookMeta, []byte, error) {
	ht, err := t.load(name)
	if err != nil {
		return HookMeta{}, nil, err
	}
	var buf bytes.Buffer
	err = ht.tmpl.Execute(&buf, hookData{Binary: binary, Phase: ht.meta.Phase, Marker: Marker})
	if err != nil {
		return HookMeta{}, nil, fmt.Errorf("render hook %s: %w", name, err)
	}
	return ht.meta, buf.Bytes(), nil
}
