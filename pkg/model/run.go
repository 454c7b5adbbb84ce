package model

import (
	"fmt"
	"time"
)

// RunKey identifies a computation: two runs with the same key computed the
// same thing.
type RunKey struct {
	Instance         string        `json:"instance"`
	Algorithm        string        `json:"algorithm"`
	Solver           string        `json:"solver"`
	CPStrategy       string        `json:"cp_strategy"`
	ConflictStrategy string        `json:"conflict_strategy,omitempty"`
	Combinator       string        `json:"combinator,omitempty"`
	FZNOptimisation  int           `json:"fzn_optimisation_level"`
	Cores            int           `json:"cores"`
	Timeout          time.Duration `json:"timeout_ns"`
}

func (k RunKey) String() string {
	s := fmt.Sprintf("%s/%s/%s/%s", k.Instance, k.Algorithm, k.Solver, k.CPStrategy)
	if k.ConflictStrategy != "" {
		s += "/" + k.ConflictStrategy + "-" + k.Combinator
	}
	return s
}

// Run is the record of one top-level run.
type Run struct {
	ID                string      `json:"id"`
	Key               RunKey      `json:"key"`
	State             RunState    `json:"state"`
	Exhaustive        bool        `json:"exhaustive"`
	Hypervolume       float64     `json:"hypervolume"`
	HypervolumeBefore *float64    `json:"hypervolume_before,omitempty"`
	Stats             Stats       `json:"stats"`
	Front             []*Solution `json:"front,omitempty"`
	FrontSize         int         `json:"front_size"`
	Error             string      `json:"error,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	CompletedAt       *time.Time  `json:"completed_at"`
}

// Transition moves the run to next, or returns an *InvalidTransitionError.
func (r *Run) Transition(next RunState) error {
	if !r.State.CanTransitionTo(next) {
		return &InvalidTransitionError{ID: r.ID, From: r.State, To: next}
	}
	r.State = next
	return nil
}
