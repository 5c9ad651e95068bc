package sink

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/phaseforge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failing struct{ calls int }

func (f *failing) Emit(domain.ExecutionEvent) error {
	f.calls++
	return errors.New("unavailable")
}

func TestFanoutDeliversToAll(t *testing.T) {
	bad := &failing{}
	rec := &Recorder{}
	f := NewFanout(bad, nil, rec)

	err := f.Emit(domain.ExecutionEvent{ExecutionID: "e1", Sequence: 1, Type: domain.EventUpdated})
	assert.Error(t, err)
	assert.Equal(t, 1, bad.calls)
	require.Len(t, rec.Events(), 1)

	require.NoError(t, f.Finished(domain.ExecutionStatus{ExecutionID: "e1", Status: domain.RunCompleted}))
	require.Len(t, rec.Statuses(), 1)
}

func TestRecorderForExecution(t *testing.T) {
	rec := &Recorder{}
	for i, id := range []string{"a", "b", "a"} {
		_ = rec.Emit(domain.ExecutionEvent{ExecutionID: id, Sequence: i + 1})
	}
	assert.Len(t, rec.ForExecution("a"), 2)
	assert.Len(t, rec.ForExecution("c"), 0)
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewSlog(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	_ = s.Emit(domain.ExecutionEvent{ExecutionID: "e1", Type: domain.EventOutput, Message: "noise"})
	_ = s.Emit(domain.ExecutionEvent{ExecutionID: "e1", Type: domain.EventFailed, PhaseID: "build", TaskID: "compile", Message: "broken", SubProject: "api"})
	_ = s.Finished(domain.ExecutionStatus{ExecutionID: "e1", Status: domain.RunFailed, Err: errors.New("compile failed")})

	out := buf.String()
	assert.NotContains(t, out, "noise")
	assert.Contains(t, out, "task=compile")
	assert.Contains(t, out, "module=api")
	assert.Contains(t, out, "status=FAILED")
}

func TestConsoleRendering(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return start.Add(3 * time.Second) }

	events := []domain.ExecutionEvent{
		{Type: domain.EventUpdated, PhaseID: "build"},
		{Type: domain.EventStarted, TaskID: "compile"},
		{Type: domain.EventOutput, TaskID: "compile", Message: "go build ./..."},
		{Type: domain.EventCompleted, TaskID: "compile", Message: "ok"},
		{Type: domain.EventSkipped, TaskID: "docs", Success: true, Message: "not applicable"},
		{Type: domain.EventSkipped, TaskID: "coverage", Message: "applicability check failed", ErrorDetail: "predicate panicked: boom"},
		{Type: domain.EventFailed, TaskID: "vet", Message: "vet failed", ErrorDetail: "line1\nline2"},
	}
	for _, ev := range events {
		require.NoError(t, c.Emit(ev))
	}
	end := start.Add(2 * time.Second)
	require.NoError(t, c.Finished(domain.ExecutionStatus{
		TaskID:         "build",
		Status:         domain.RunFailed,
		StartTime:      start,
		EndTime:        &end,
		CompletedTasks: 1,
		SkippedTasks:   1,
		FailedTasks:    1,
	}))

	out := buf.String()
	assert.Contains(t, out, "build")
	assert.NotContains(t, out, "go build ./...", "output is hidden unless verbose")
	assert.Contains(t, out, "compile: ok")
	assert.Contains(t, out, "docs (skipped)")
	assert.NotContains(t, out, "not applicable")
	assert.Contains(t, out, "coverage (skipped): applicability check failed (predicate panicked: boom)")
	assert.Contains(t, out, "vet: vet failed")
	assert.Contains(t, out, "line2")
	assert.Contains(t, out, "build failed: 1 task completed, 1 skipped, 1 failed in 2s")
}

func TestConsoleVerbose(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, true)
	require.NoError(t, c.Emit(domain.ExecutionEvent{Type: domain.EventOutput, SubProject: "api", Message: "PASS"}))
	assert.True(t, strings.Contains(buf.String(), "PASS"))
	assert.Contains(t, buf.String(), "[api]")
}

func TestSummaryPlural(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)
	s := Summary(domain.ExecutionStatus{TaskID: "test", Status: domain.RunCompleted, StartTime: start, EndTime: &end, CompletedTasks: 4}, end)
	assert.Contains(t, s, "test completed: 4 tasks completed in 1.5s")
}
