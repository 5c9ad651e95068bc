package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicatePhase      = errors.New("duplicate phase")
	ErrDuplicateTask       = errors.New("duplicate task")
	ErrDuplicateContextKey = errors.New("duplicate plugin context key")
	ErrUnknownPhase        = errors.New("unknown phase")
	ErrGraphCycle          = errors.New("phase graph cycle")
	ErrFrozen              = errors.New("registration closed")
	ErrNoMatchingSource    = errors.New("no matching plugin source")
	ErrArtifactNotFound    = errors.New("no artifact found")
	ErrAmbiguousArtifact   = errors.New("multiple artifacts match")
	ErrAlreadyTerminal     = errors.New("execution already finished")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// GraphError reports an invalid phase graph: an unresolved reference or a cycle
type GraphError struct {
	Kind  error
	Phase string
	Path  []string
}

func (e *GraphError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("%v: %s", e.Kind, strings.Join(e.Path, " -> "))
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Phase)
}

func (e *GraphError) Unwrap() error {
	return e.Kind
}

// ConfigurationError reports a duplicate identifier detected during load
type ConfigurationError struct {
	Kind error
	ID   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.ID)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Kind
}

// ResolutionError reports a plugin artifact that could not be located or fetched
type ResolutionError struct {
	Source  string
	Name    string
	Version string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve plugin %s@%s (%s): %v", e.Name, e.Version, e.Source, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// ExecutionError describes why a run failed
type ExecutionError struct {
	Phase   string
	Task    string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("execution failed: %s", e.Message)
	}
	return fmt.Sprintf("task %s/%s failed: %s", e.Phase, e.Task, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func NewGraphError(kind error, phase string, path ...string) *GraphError {
	return &GraphError{Kind: kind, Phase: phase, Path: path}
}

func NewConfigurationError(kind error, id string) *ConfigurationError {
	return &ConfigurationError{Kind: kind, ID: id}
}

func NewResolutionError(source, name, version string, err error) *ResolutionError {
	return &ResolutionError{Source: source, Name: name, Version: version, Err: err}
}

func IsGraphError(err error) bool {
	var ge *GraphError
	return errors.As(err, &ge)
}

func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
