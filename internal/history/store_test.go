package history

import (
	"errors"
	"testing"
	"time"

	"github.com/hochfrequenz/phaseforge/internal/domain"
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := New(":memory:", opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func emitAll(t *testing.T, s *Store, events ...domain.ExecutionEvent) {
	t.Helper()
	for _, ev := range events {
		if err := s.Emit(ev); err != nil {
			t.Fatal(err)
		}
	}
}

func TestStore_RecordsExecution(t *testing.T) {
	store := newStore(t)
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	emitAll(t, store,
		domain.ExecutionEvent{ExecutionID: "e1", ProjectName: "shop", SubProject: "api", Sequence: 1, Type: domain.EventUpdated, Success: true, PhaseID: "build"},
		domain.ExecutionEvent{ExecutionID: "e1", ProjectName: "shop", SubProject: "api", Sequence: 2, Type: domain.EventStarted, Success: true, PhaseID: "build", TaskID: "compile"},
		domain.ExecutionEvent{ExecutionID: "e1", ProjectName: "shop", SubProject: "api", Sequence: 3, Type: domain.EventOutput, Success: true, PhaseID: "build", TaskID: "compile", Message: "go build"},
		domain.ExecutionEvent{ExecutionID: "e1", ProjectName: "shop", SubProject: "api", Sequence: 4, Type: domain.EventFailed, PhaseID: "build", TaskID: "compile", Message: "failed", ErrorDetail: "exit status 2"},
	)

	st := domain.ExecutionStatus{
		ExecutionID: "e1",
		ProjectName: "shop",
		TaskID:      "build",
		Status:      domain.RunFailed,
		StartTime:   start,
		EndTime:     &end,
		TotalTasks:  2,
		FailedTasks: 1,
		Err:         errors.New("compile: failed"),
	}
	if err := store.Finished(st); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get("e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RunFailed {
		t.Errorf("Status = %q, want FAILED", got.Status)
	}
	if got.Target != "build" {
		t.Errorf("Target = %q, want build", got.Target)
	}
	if got.Module != "api" {
		t.Errorf("Module = %q, want api", got.Module)
	}
	if got.FailedTasks != 1 || got.TotalTasks != 2 {
		t.Errorf("counts = %d/%d, want 1/2", got.FailedTasks, got.TotalTasks)
	}
	if got.Duration() != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", got.Duration())
	}
	if got.Error != "compile: failed" {
		t.Errorf("Error = %q", got.Error)
	}

	events, err := store.Events("e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3 (output skipped)", len(events))
	}
	last := events[2]
	if last.Type != domain.EventFailed || last.ErrorDetail != "exit status 2" || last.ProjectName != "shop" {
		t.Errorf("last event = %+v", last)
	}
}

func TestStore_WithOutput(t *testing.T) {
	store := newStore(t, WithOutput())
	emitAll(t, store, domain.ExecutionEvent{ExecutionID: "e1", ProjectName: "p", Sequence: 1, Type: domain.EventOutput, Message: "line"})

	events, err := store.Events("e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Message != "line" {
		t.Errorf("events = %+v", events)
	}
}

func TestStore_StatusWithoutEvents(t *testing.T) {
	store := newStore(t)
	start := time.Now().UTC()
	if err := store.Finished(domain.ExecutionStatus{ExecutionID: "e9", ProjectName: "p", TaskID: "deploy", Status: domain.RunFailed, StartTime: start, EndTime: &start}); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get("e9")
	if err != nil {
		t.Fatal(err)
	}
	if got.Target != "deploy" {
		t.Errorf("Target = %q, want deploy", got.Target)
	}
}

func TestStore_List(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store := newStore(t)

	for i, tc := range []struct {
		id, project string
		status      domain.RunStatus
	}{
		{"a", "shop", domain.RunCompleted},
		{"b", "shop", domain.RunFailed},
		{"c", "blog", domain.RunCompleted},
	} {
		start := base.Add(time.Duration(i) * time.Minute)
		end := start.Add(time.Second)
		if err := store.Finished(domain.ExecutionStatus{ExecutionID: tc.id, ProjectName: tc.project, TaskID: "test", Status: tc.status, StartTime: start, EndTime: &end}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "c" {
		t.Errorf("List() = %+v, want most recent first", all)
	}

	shop, _ := store.List(ListOptions{Project: "shop"})
	if len(shop) != 2 {
		t.Errorf("List(project=shop) len = %d, want 2", len(shop))
	}

	failed, _ := store.List(ListOptions{Status: domain.RunFailed})
	if len(failed) != 1 || failed[0].ID != "b" {
		t.Errorf("List(status=FAILED) = %+v", failed)
	}

	limited, _ := store.List(ListOptions{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("List(limit=1) len = %d", len(limited))
	}

	removed, err := store.Prune(base.Add(90 * time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("Prune removed %d, want 2", removed)
	}
}

func TestStore_GetUnknown(t *testing.T) {
	store := newStore(t)
	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}
