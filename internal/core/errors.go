package core

import (
	"errors"
	"fmt"
)

// Error kinds. A run either aborts on the first three or, for ErrTransform,
// skips the offending file and carries on.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrCleanup       = errors.New("cleanup error")
	ErrServerBind    = errors.New("server bind error")
	ErrTransform     = errors.New("transform error")
)

// PipelineError wraps a failure with its kind and the operation that hit it.
type PipelineError struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *PipelineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ConfigErrorf builds an ErrConfiguration error.
func ConfigErrorf(format string, args ...any) error {
	return &PipelineError{Kind: ErrConfiguration, Err: fmt.Errorf(format, args...)}
}

// NewCleanupError reports a destination directory that could not be cleared.
func NewCleanupError(path string, err error) error {
	return &PipelineError{Kind: ErrCleanup, Op: "clear", Path: path, Err: err}
}

// NewServerBindError reports a listener that could not be bound.
func NewServerBindError(addr string, err error) error {
	return &PipelineError{Kind: ErrServerBind, Op: "listen", Path: addr, Err: err}
}

// NewTransformError reports a single input file rejected by a transform step.
func NewTransformError(step, path string, err error) error {
	return &PipelineError{Kind: ErrTransform, Op: step, Path: path, Err: err}
}

// IsFatal reports whether err aborts a pipeline run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrCleanup) || errors.Is(err, ErrServerBind)
}
