// Package engine implements the constraint solving engines driven by the
// single-objective adapter: the MiniZinc command line tool and an in-process
// finite-domain engine built on a SAT solver.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/me/mowctt/pkg/model"
)

// Status is the outcome of one engine call.
type Status int

const (
	// Unknown means the engine stopped before deciding, usually because it
	// hit its time limit.
	Unknown Status = iota
	Satisfied
	Unsatisfiable
)

func (s Status) String() string {
	switch s {
	case Satisfied:
		return "SATISFIED"
	case Unsatisfiable:
		return "UNSATISFIABLE"
	default:
		return "UNKNOWN"
	}
}

// Result is what an engine call produced.
type Result struct {
	Status     Status
	Assignment model.Assignment // set when Status is Satisfied
	Elapsed    time.Duration
}

// Sentinel errors.
var (
	ErrNoModel     = errors.New("no model file")
	ErrBadOutput   = errors.New("malformed engine output")
	ErrUnknownVar  = errors.New("unknown variable")
	ErrUnsupported = errors.New("constraint not supported by this engine")
)

// ToolError reports a failed run of an external tool.
type ToolError struct {
	Tool     string
	Err      error
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Tool, e.Err)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
