package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hochfrequenz/phaseforge/internal/domain"
	"github.com/hochfrequenz/phaseforge/internal/registry"
)

// RunRequest describes one execution
type RunRequest struct {
	Target  string
	Project domain.ProjectContext
	Args    []string
	Env     domain.Environment
	// Overrides are per-sub-target plugin settings merged over the loaded ones,
	// keyed by plugin context key
	Overrides map[string]map[string]any
}

// run owns the mutable state of one execution
type run struct {
	engine *Engine
	req    RunRequest
	sink   domain.EventSink
	status *domain.ExecutionStatus

	mu  sync.Mutex
	seq int
}

// Run executes the plan for req.Target and returns its terminal status. Tasks run
// one after another; the first failure aborts the rest of the plan. ctx is passed
// to tasks as is; the engine itself does not stop when it is cancelled.
func (e *Engine) Run(ctx context.Context, req RunRequest, sink domain.EventSink) domain.ExecutionStatus {
	r := &run{
		engine: e,
		req:    req,
		sink:   sink,
		status: domain.NewExecutionStatus(e.newID(), req.Project.Name, req.Target, e.now()),
	}
	r.status.SubProject = req.Project.SubProject
	logger := e.logger.With(
		"execution", r.status.ExecutionID,
		"target", req.Target,
		"project", req.Project.Name,
	)
	if req.Project.SubProject != "" {
		logger = logger.With("module", req.Project.SubProject)
	}

	plan, err := e.Plan(req.Target)
	if err != nil {
		logger.Error("planning failed", "error", err)
		r.event(domain.EventFailed, false, "", "", "planning failed", err.Error())
		return r.finish(domain.RunFailed, &domain.ExecutionError{Phase: req.Target, Message: "planning failed", Err: err})
	}
	r.status.TotalTasks = countTasks(plan)

	pc, err := e.pluginContext(req.Overrides)
	if err != nil {
		logger.Error("plugin configuration failed", "error", err)
		r.event(domain.EventFailed, false, "", "", "plugin configuration failed", err.Error())
		return r.finish(domain.RunFailed, &domain.ExecutionError{Phase: req.Target, Message: "plugin configuration failed", Err: err})
	}

	logger.Info("execution started", "phases", len(plan), "tasks", r.status.TotalTasks)

	for _, step := range plan {
		phaseID := step.Phase.ID()
		r.event(domain.EventUpdated, true, phaseID, "", "entering phase "+phaseID, "")

		for _, entry := range step.Tasks {
			taskID := entry.Task.ID()

			applies, perr := evaluate(entry, pc)
			if perr != nil {
				r.event(domain.EventSkipped, false, phaseID, taskID, "applicability check failed", perr.Error())
				r.status.SkippedTasks++
				logger.Warn("predicate failed, skipping task", "phase", phaseID, "task", taskID, "error", perr)
				continue
			}
			if !applies {
				r.event(domain.EventSkipped, true, phaseID, taskID, "not applicable", "")
				r.status.SkippedTasks++
				logger.Debug("task skipped", "phase", phaseID, "task", taskID)
				continue
			}

			r.event(domain.EventStarted, true, phaseID, taskID, "", "")
			result := r.invoke(ctx, entry.Task, phaseID, pc)

			if result.Succeeded() {
				r.event(domain.EventCompleted, true, phaseID, taskID, result.Message, "")
				r.status.CompletedTasks++
				logger.Debug("task completed", "phase", phaseID, "task", taskID)
				continue
			}

			r.event(domain.EventFailed, false, phaseID, taskID, result.Message, result.ErrorDetail)
			r.status.FailedTasks++
			logger.Warn("task failed", "phase", phaseID, "task", taskID, "message", result.Message, "detail", result.ErrorDetail)
			var cause error
			if result.ErrorDetail != "" {
				cause = fmt.Errorf("%s", result.ErrorDetail)
			}
			return r.finish(domain.RunFailed, &domain.ExecutionError{Phase: phaseID, Task: taskID, Message: result.Message, Err: cause})
		}
	}

	st := r.finish(domain.RunCompleted, nil)
	logger.Info("execution completed",
		"completed", st.CompletedTasks,
		"skipped", st.SkippedTasks,
		"duration", st.Duration(e.now()),
	)
	return st
}

func (e *Engine) pluginContext(overrides map[string]map[string]any) (domain.PluginContext, error) {
	if e.bindings == nil {
		return emptyContext{}, nil
	}
	if len(overrides) == 0 {
		return e.bindings, nil
	}
	return e.bindings.ForTarget(overrides)
}

type emptyContext struct{}

func (emptyContext) Config(string) (any, bool) { return nil, false }

// evaluate runs a predicate, turning a panic into an error
func evaluate(entry registry.Entry, pc domain.PluginContext) (applies bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("predicate panicked: %v", rec)
		}
	}()
	return entry.Applies(pc), nil
}

// invoke runs one task. A panic becomes a FAILURE result.
func (r *run) invoke(ctx context.Context, task domain.Task, phaseID string, pc domain.PluginContext) (result domain.TaskResult) {
	out := &lineWriter{emit: func(line string) {
		r.event(domain.EventOutput, true, phaseID, task.ID(), line, "")
	}}
	defer out.close()

	defer func() {
		if rec := recover(); rec != nil {
			r.engine.logger.Error("task panicked",
				"execution", r.status.ExecutionID,
				"task", task.ID(),
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			result = domain.Failure(fmt.Sprintf("task panicked: %v", rec), fmt.Errorf("%v", rec))
		}
	}()

	result = task.Execute(ctx, domain.Invocation{
		Env:     r.req.Env,
		Project: r.req.Project,
		Args:    append([]string(nil), r.req.Args...),
		Output:  out,
		Plugins: pc,
	})
	if result.Outcome != domain.OutcomeSuccess && result.Outcome != domain.OutcomeFailure {
		return domain.Failure(fmt.Sprintf("task returned invalid outcome %q", result.Outcome), nil)
	}
	return result
}

// event emits the next event of this execution. Sink errors are logged.
func (r *run) event(typ domain.EventType, success bool, phaseID, taskID, message, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	ev := domain.ExecutionEvent{
		ExecutionID: r.status.ExecutionID,
		ProjectName: r.req.Project.Name,
		Sequence:    r.seq,
		Type:        typ,
		Success:     success,
		PhaseID:     phaseID,
		TaskID:      taskID,
		SubProject:  r.req.Project.SubProject,
		Message:     message,
		ErrorDetail: detail,
	}
	if r.sink == nil {
		return
	}
	if err := r.sink.Emit(ev); err != nil {
		r.engine.logger.Warn("event sink failed",
			"execution", ev.ExecutionID,
			"sequence", ev.Sequence,
			"type", ev.Type,
			"error", err,
		)
	}
}

// finish performs the terminal transition and notifies a StatusSink
func (r *run) finish(status domain.RunStatus, cause *domain.ExecutionError) domain.ExecutionStatus {
	if err := r.status.Finish(status, r.engine.now()); err != nil {
		r.engine.logger.Error("invalid terminal transition", "execution", r.status.ExecutionID, "error", err)
	}
	if cause != nil {
		r.status.Err = cause
	}
	st := *r.status

	if ss, ok := r.sink.(domain.StatusSink); ok {
		if err := ss.Finished(st); err != nil {
			r.engine.logger.Warn("status sink failed", "execution", st.ExecutionID, "error", err)
		}
	}
	return st
}
