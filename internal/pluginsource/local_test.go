package pluginsource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hochfrequenz/phaseforge/internal/domain"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("plugin"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLocalSource_Path(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "docs.so"))
	s := &LocalSource{}

	art, err := s.Resolve(context.Background(), Config{Type: TypeLocal, Name: "docs", Path: filepath.Join(dir, "docs.so")})
	if err != nil {
		t.Fatal(err)
	}
	if art.Path != filepath.Join(dir, "docs.so") {
		t.Errorf("Path = %q", art.Path)
	}

	_, err = s.Resolve(context.Background(), Config{Type: TypeLocal, Name: "docs", Path: filepath.Join(dir, "missing.so")})
	if !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Errorf("err = %v, want ErrArtifactNotFound", err)
	}
}

func TestLocalSource_RelativePathUsesBaseDir(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "plugins", "git.so"))
	s := &LocalSource{}

	art, err := s.Resolve(context.Background(), Config{Type: TypeLocal, Name: "git", Path: "plugins/git.so", BaseDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if art.Path != filepath.Join(dir, "plugins", "git.so") {
		t.Errorf("Path = %q", art.Path)
	}
}

func TestLocalSource_Pattern(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "docs-1.0.0.so"))
	touch(t, filepath.Join(dir, "docs-1.1.0.so"))
	touch(t, filepath.Join(dir, "git-1.0.0.so"))
	s := &LocalSource{BaseDir: dir}

	tests := []struct {
		name    string
		pattern string
		wantErr error
		want    string
	}{
		{"single match", "git-*.so", nil, "git-1.0.0.so"},
		{"placeholders", "{name}-{version}.so", nil, "docs-1.0.0.so"},
		{"no match", "gradle-*.so", domain.ErrArtifactNotFound, ""},
		{"multiple matches", "docs-*.so", domain.ErrAmbiguousArtifact, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art, err := s.Resolve(context.Background(), Config{Type: TypeLocal, Name: "docs", Version: "1.0.0", Pattern: tt.pattern})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if filepath.Base(art.Path) != tt.want {
				t.Errorf("Path = %q, want %s", art.Path, tt.want)
			}
		})
	}
}
