// Package oracle implements the feasibility oracles checked by the
// oracle combinators: the worst-case traversal time analysis driven through
// the Pegase analyser, and a JavaScript predicate oracle. Rejections carry a
// conflict built by a named strategy.
package oracle

import (
	"errors"
	"fmt"

	"github.com/me/mowctt/internal/dzn"
)

// Sentinel errors.
var (
	// ErrModelDiverged reports an analysis result that does not match the
	// constraint model: an unknown service or location name, or a late
	// communication without a receiving service.
	ErrModelDiverged = errors.New("analysis result diverged from the model")
	ErrBadReport     = errors.New("malformed analysis report")
	ErrStrategy      = errors.New("unknown conflict strategy")
)

// ToolError reports a failed run of an external tool.
type ToolError struct {
	Tool     string
	Err      error
	ExitCode int
	Output   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Tool, e.Err)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Output != "" {
		msg += ":\n" + e.Output
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Violation is a communication whose slack is negative.
type Violation struct {
	Name     string // sending service
	Routing  string
	Receiver string // location of the receiving service
	Slack    float64
}

// Instance is the part of the problem data the conflict strategies need.
type Instance struct {
	Services  []string // services2names
	Locations []string // locations2names
	Coms      [][]int  // coms[i][j] != 0 when service i sends to service j
}

// LoadInstance extracts the instance from the problem data.
func LoadInstance(f *dzn.File) (*Instance, error) {
	services, err := f.Strings("services2names")
	if err != nil {
		return nil, err
	}
	locations, err := f.Strings("locations2names")
	if err != nil {
		return nil, err
	}
	coms, err := f.Matrix("coms")
	if err != nil {
		return nil, err
	}
	if len(coms) != len(services) {
		return nil, fmt.Errorf("coms has %d rows for %d services", len(coms), len(services))
	}
	return &Instance{Services: services, Locations: locations, Coms: coms}, nil
}

// service returns the 0-based index of the service called name.
func (in *Instance) service(name string) (int, error) {
	for i, s := range in.Services {
		if s == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown service %q", ErrModelDiverged, name)
}

// location returns the model value (1-based) of the location called name.
func (in *Instance) location(name string) (int, error) {
	for i, l := range in.Locations {
		if l == name {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown location %q", ErrModelDiverged, name)
}
