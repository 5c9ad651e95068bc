package domain

import (
	"context"
	"io"
	"sort"
)

// Environment holds the variables handed to a task invocation
type Environment map[string]string

// Merge returns a new environment with other's entries layered over e
func (e Environment) Merge(other Environment) Environment {
	out := make(Environment, len(e)+len(other))
	for k, v := range e {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Pairs returns KEY=VALUE entries sorted by key
func (e Environment) Pairs() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+e[k])
	}
	return pairs
}

// ProjectContext describes the project (or sub-project) a run targets
type ProjectContext struct {
	Name       string
	Dir        string
	SubProject string // empty for the root project
}

// PluginContext gives access to plugin configuration bound for one sub-target
type PluginContext interface {
	Config(key string) (any, bool)
}

// Invocation carries everything a task receives for one run
type Invocation struct {
	Env     Environment
	Project ProjectContext
	Args    []string
	Output  io.Writer
	Plugins PluginContext
}

// Task is a unit of work bound to one phase
type Task interface {
	ID() string
	Phase() string
	Execute(ctx context.Context, inv Invocation) TaskResult
}

// Predicate decides whether a task applies to a sub-target
type Predicate func(pc PluginContext) bool

// TaskFunc adapts a function to the Task interface
type TaskFunc struct {
	Name    string
	PhaseID string
	Fn      func(ctx context.Context, inv Invocation) TaskResult
}

func (t *TaskFunc) ID() string    { return t.Name }
func (t *TaskFunc) Phase() string { return t.PhaseID }

func (t *TaskFunc) Execute(ctx context.Context, inv Invocation) TaskResult {
	return t.Fn(ctx, inv)
}

// NewTask creates a Task from a function
func NewTask(phase, id string, fn func(ctx context.Context, inv Invocation) TaskResult) *TaskFunc {
	return &TaskFunc{Name: id, PhaseID: phase, Fn: fn}
}

// TaskResult is the immutable outcome of one task invocation
type TaskResult struct {
	Outcome     Outcome
	Message     string
	ErrorDetail string
}

// Succeeded returns true if the outcome is SUCCESS
func (r TaskResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Success builds a SUCCESS result
func Success(message string) TaskResult {
	return TaskResult{Outcome: OutcomeSuccess, Message: message}
}

// Failure builds a FAILURE result; err may be nil
func Failure(message string, err error) TaskResult {
	r := TaskResult{Outcome: OutcomeFailure, Message: message}
	if err != nil {
		r.ErrorDetail = err.Error()
	}
	return r
}
