package solver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/me/mowctt/pkg/formula"
	"github.com/me/mowctt/pkg/model"
)

// Sequence runs phases one after the other. Local constraints reach the
// active phase only; global constraints reach every phase.
type Sequence struct {
	phases        []Solver
	ignoreTimeout bool
	active        int
	timedOut      bool
	logger        *slog.Logger
}

// NewSequence chains phases. With ignoreTimeout, a phase running out of time
// hands over to the next one instead of ending the sequence; the sequence
// then ends with ErrTimeout instead of ErrExhausted.
func NewSequence(phases []Solver, ignoreTimeout bool, logger *slog.Logger) *Sequence {
	return &Sequence{phases: phases, ignoreTimeout: ignoreTimeout, logger: logger.With("component", "sequence")}
}

// Solve returns a cursor over the solutions of every phase in turn, starting
// again from the first phase.
func (s *Sequence) Solve() Cursor {
	s.active = 0
	s.timedOut = false
	var cur Cursor
	return newCursor(func(ctx context.Context) (*model.Solution, error) {
		for s.active < len(s.phases) {
			if cur == nil {
				s.logger.Debug("phase started", "phase", s.active)
				cur = s.phases[s.active].Solve()
			}
			sol, err := cur.Next(ctx)
			switch {
			case err == nil:
				return sol, nil
			case errors.Is(err, ErrExhausted):
			case errors.Is(err, ErrTimeout) && s.ignoreTimeout:
				s.logger.Debug("phase timed out", "phase", s.active)
				s.timedOut = true
			default:
				return nil, err
			}
			s.active++
			cur = nil
		}
		if s.timedOut {
			return nil, ErrTimeout
		}
		return nil, ErrExhausted
	})
}

// AddLocalConstraint forwards c to the active phase.
func (s *Sequence) AddLocalConstraint(c formula.Formula) {
	if s.active < len(s.phases) {
		s.phases[s.active].AddLocalConstraint(c)
	}
}

// AddGlobalConstraint forwards c to every phase.
func (s *Sequence) AddGlobalConstraint(c formula.Formula) {
	for _, p := range s.phases {
		p.AddGlobalConstraint(c)
	}
}

// Statistics merges the counters of every phase.
func (s *Sequence) Statistics() model.Stats {
	var st model.Stats
	for _, p := range s.phases {
		st.Merge(p.Statistics())
	}
	return st
}
