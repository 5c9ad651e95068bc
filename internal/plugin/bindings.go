package plugin

import (
	"fmt"
	"sort"
	"sync"

	"dario.cat/mergo"
	"github.com/go-viper/mapstructure/v2"
	"github.com/hochfrequenz/phaseforge/internal/domain"
)

type binding struct {
	newConfig func() any
	settings  map[string]any
	value     any
}

// Bindings maps context keys to plugin configuration objects. It implements
// domain.PluginContext.
type Bindings struct {
	mu   sync.RWMutex
	byID map[string]*binding
	keys []string
}

// NewBindings creates an empty set of bindings
func NewBindings() *Bindings {
	return &Bindings{byID: make(map[string]*binding)}
}

// Bind decodes settings into a fresh config object from newConfig and binds it under
// key. A nil newConfig binds the settings map itself.
func (b *Bindings) Bind(key string, newConfig func() any, settings map[string]any) error {
	if b.Has(key) {
		return domain.NewConfigurationError(domain.ErrDuplicateContextKey, key)
	}
	value, err := decodeSettings(newConfig, settings)
	if err != nil {
		return fmt.Errorf("decoding settings for %s: %w", key, err)
	}
	return b.commit(key, newConfig, settings, value)
}

func (b *Bindings) commit(key string, newConfig func() any, settings map[string]any, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.byID[key]; exists {
		return domain.NewConfigurationError(domain.ErrDuplicateContextKey, key)
	}
	b.byID[key] = &binding{newConfig: newConfig, settings: copySettings(settings), value: value}
	b.keys = append(b.keys, key)
	return nil
}

// Has reports whether key is bound
func (b *Bindings) Has(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.byID[key]
	return ok
}

// Keys returns the bound keys in binding order
func (b *Bindings) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

func (b *Bindings) Config(key string) (any, bool) {
	if b == nil {
		return nil, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	bd, ok := b.byID[key]
	if !ok {
		return nil, false
	}
	return bd.value, true
}

// ForTarget returns a plugin context for one sub-target. overrides maps context keys
// to settings merged over the base settings, nested tables key by key; keys without
// overrides share the base configuration object.
func (b *Bindings) ForTarget(overrides map[string]map[string]any) (domain.PluginContext, error) {
	if b == nil {
		return staticContext(nil), nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	values := make(map[string]any, len(b.byID))
	for key, bd := range b.byID {
		values[key] = bd.value
	}

	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		bd, ok := b.byID[key]
		if !ok {
			// overrides for plugins that are not loaded are ignored
			continue
		}
		merged := copySettings(bd.settings)
		if err := mergeSettings(merged, copySettings(overrides[key])); err != nil {
			return nil, fmt.Errorf("merging overrides for %s: %w", key, err)
		}
		value, err := decodeSettings(bd.newConfig, merged)
		if err != nil {
			return nil, fmt.Errorf("decoding overrides for %s: %w", key, err)
		}
		values[key] = value
	}
	return staticContext(values), nil
}

type staticContext map[string]any

func (c staticContext) Config(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// decodeSettings decodes settings into a fresh config object. A panicking
// constructor is reported as an error.
func decodeSettings(newConfig func() any, settings map[string]any) (value any, err error) {
	if newConfig == nil {
		return copySettings(settings), nil
	}
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("config constructor panicked: %v", r)
		}
	}()
	target := newConfig()
	if target == nil {
		return nil, nil
	}
	if len(settings) == 0 {
		return target, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(settings); err != nil {
		return nil, err
	}
	return target, nil
}

// mergeSettings merges src into dst. Tables present on both sides are merged
// recursively; any other value in src replaces the one in dst.
func mergeSettings(dst, src map[string]any) error {
	rest := make(map[string]any, len(src))
	for k, v := range src {
		srcTable, ok := v.(map[string]any)
		dstTable, dok := dst[k].(map[string]any)
		if ok && dok {
			if err := mergeSettings(dstTable, srcTable); err != nil {
				return err
			}
			continue
		}
		rest[k] = v
	}
	return mergo.Merge(&dst, rest, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue)
}

func copySettings(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copySettings(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
