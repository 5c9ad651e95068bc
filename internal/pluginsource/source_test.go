package pluginsource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hochfrequenz/phaseforge/internal/domain"
)

type countingSource struct {
	typ   string
	calls atomic.Int32
	err   error
}

func (s *countingSource) Type() string { return s.typ }

func (s *countingSource) Resolve(ctx context.Context, cfg Config) (Artifact, error) {
	s.calls.Add(1)
	if s.err != nil {
		return Artifact{}, s.err
	}
	return Artifact{Path: "/plugins/" + cfg.Name + "-" + cfg.Version + ".so", Source: s.typ, Name: cfg.Name, Version: cfg.Version}, nil
}

func TestResolver_CachesByKey(t *testing.T) {
	src := &countingSource{typ: "fake"}
	r := NewResolver(nil, src)
	cfg := Config{Type: "fake", Name: "docs", Version: "1.0.0"}

	first, err := r.Resolve(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Errorf("second resolution = %+v, want %+v", second, first)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}

	// A different version is a different key
	if _, err := r.Resolve(context.Background(), Config{Type: "fake", Name: "docs", Version: "1.1.0"}); err != nil {
		t.Fatal(err)
	}
	if got := src.calls.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
}

func TestResolver_ConcurrentResolutionFetchesOnce(t *testing.T) {
	src := &countingSource{typ: "fake"}
	r := NewResolver(nil, src)
	cfg := Config{Type: "fake", Name: "gradle", Version: "2.0"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve(context.Background(), cfg); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := src.calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestResolver_FirstMatchingSourceWins(t *testing.T) {
	first := &countingSource{typ: "fake"}
	second := &countingSource{typ: "fake"}
	r := NewResolver(nil, first, second)

	if _, err := r.Resolve(context.Background(), Config{Type: "fake", Name: "x"}); err != nil {
		t.Fatal(err)
	}
	if first.calls.Load() != 1 || second.calls.Load() != 0 {
		t.Errorf("calls = (%d, %d), want (1, 0)", first.calls.Load(), second.calls.Load())
	}
}

func TestResolver_NoMatchingSource(t *testing.T) {
	r := NewResolver(nil, &countingSource{typ: "fake"})

	_, err := r.Resolve(context.Background(), Config{Type: "svn", Name: "x"})
	if !errors.Is(err, domain.ErrNoMatchingSource) {
		t.Fatalf("err = %v, want ErrNoMatchingSource", err)
	}
	if !domain.IsResolutionError(err) {
		t.Error("expected ResolutionError")
	}
}

func TestResolver_WrapsFailures(t *testing.T) {
	cause := errors.New("connection refused")
	src := &countingSource{typ: "fake", err: cause}
	r := NewResolver(nil, src)

	_, err := r.Resolve(context.Background(), Config{Type: "fake", Name: "x", Version: "1"})
	var re *domain.ResolutionError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want ResolutionError", err)
	}
	if !errors.Is(err, cause) {
		t.Error("ResolutionError should wrap the cause")
	}
	if re.Name != "x" || re.Source != "fake" {
		t.Errorf("ResolutionError = %+v", re)
	}

	// Failures are not cached
	r.Resolve(context.Background(), Config{Type: "fake", Name: "x", Version: "1"})
	if got := src.calls.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
}

func TestBuiltinSource(t *testing.T) {
	s := NewBuiltinSource("git", "shell")

	art, err := s.Resolve(context.Background(), Config{Type: TypeBuiltin, Name: "git"})
	if err != nil {
		t.Fatal(err)
	}
	if name, ok := BuiltinName(art.Path); !ok || name != "git" {
		t.Errorf("BuiltinName(%q) = (%q, %v)", art.Path, name, ok)
	}

	if _, err := s.Resolve(context.Background(), Config{Type: TypeBuiltin, Name: "gradle"}); !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Errorf("err = %v, want ErrArtifactNotFound", err)
	}
}
