package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph = errors.New("invalid step graph")
	ErrCycleFound   = errors.New("step cycle")
)

// GraphError reports a step graph that cannot be executed. Cycle holds one
// witness path, first step repeated at the end, when Kind is ErrCycleFound.
type GraphError struct {
	Kind  error
	Msg   string
	Cycle []string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if len(e.Cycle) > 0 {
		msg += ": " + strings.Join(e.Cycle, " -> ")
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	return msg
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}
