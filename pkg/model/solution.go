package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/me/mowctt/pkg/formula"
)

// Assignment maps the output variables of the constraint model to their values.
type Assignment map[string]Value

// Lookup resolves name[idx...] to an integer. Indices are 1-based and
// booleans are 0 or 1. It implements formula.Env.
func (a Assignment) Lookup(name string, idx ...int) (int, bool) {
	v, ok := a[name]
	if !ok {
		return 0, false
	}
	v, ok = v.At(idx...)
	if !ok {
		return 0, false
	}
	return v.Int()
}

// Names returns the variable names in sorted order.
func (a Assignment) Names() []string {
	names := make([]string, 0, len(a))
	for n := range a {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Status is the outcome of an oracle check.
type Status uint8

const (
	Unchecked Status = iota
	Accepted
	Rejected
)

func (s Status) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "unchecked", "":
		*s = Unchecked
	case "accepted":
		*s = Accepted
	case "rejected":
		*s = Rejected
	default:
		return fmt.Errorf("unknown status %q", b)
	}
	return nil
}

// Verdict is what an oracle says about a solution. A rejection carries the
// exact Conflict extracted from the analysis, which may or may not exclude
// the solution itself, and a Fallback conflict that always excludes it.
type Verdict struct {
	Status   Status
	Conflict formula.Formula
	Fallback formula.Formula
}

// Accept returns an accepting verdict.
func Accept() Verdict { return Verdict{Status: Accepted} }

// Reject returns a rejecting verdict.
func Reject(conflict, fallback formula.Formula) Verdict {
	return Verdict{Status: Rejected, Conflict: conflict, Fallback: fallback}
}

type verdictJSON struct {
	Status   Status `json:"status"`
	Conflict string `json:"conflict,omitempty"`
	Fallback string `json:"fallback,omitempty"`
}

// MarshalJSON renders the conflicts in formula syntax.
func (v Verdict) MarshalJSON() ([]byte, error) {
	out := verdictJSON{Status: v.Status}
	if v.Conflict != nil {
		out.Conflict = v.Conflict.String()
	}
	if v.Fallback != nil {
		out.Fallback = v.Fallback.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the conflicts back into formulas.
func (v *Verdict) UnmarshalJSON(b []byte) error {
	var in verdictJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*v = Verdict{Status: in.Status}
	var err error
	if in.Conflict != "" {
		if v.Conflict, err = formula.Parse(in.Conflict); err != nil {
			return fmt.Errorf("conflict: %w", err)
		}
	}
	if in.Fallback != "" {
		if v.Fallback, err = formula.Parse(in.Fallback); err != nil {
			return fmt.Errorf("fallback: %w", err)
		}
	}
	return nil
}

// Solution is one assignment produced by the engine.
type Solution struct {
	Assignment Assignment    `json:"assignment"`
	Objectives []int         `json:"objectives"`
	Elapsed    time.Duration `json:"elapsed_ns"` // since the start of the run
	Verdict    Verdict       `json:"verdict"`
}

// NewSolution builds a solution from an engine assignment, reading the
// objective vector from the objs array (or whatever objName names).
func NewSolution(a Assignment, objName string, elapsed time.Duration) (*Solution, error) {
	v, ok := a[objName]
	if !ok {
		return nil, fmt.Errorf("solution has no %q output", objName)
	}
	objs, ok := v.Ints()
	if !ok {
		return nil, fmt.Errorf("output %q is not an integer array", objName)
	}
	return &Solution{Assignment: a, Objectives: objs, Elapsed: elapsed}, nil
}

func (s *Solution) String() string {
	strs := make([]string, len(s.Objectives))
	for i, o := range s.Objectives {
		strs[i] = fmt.Sprint(o)
	}
	return "(" + strings.Join(strs, ", ") + ")"
}
