package solver

import (
	"context"
	"log/slog"

	"github.com/me/mowctt/pkg/formula"
	"github.com/me/mowctt/pkg/model"
	"github.com/me/mowctt/pkg/pareto"
)

// MO turns a single-objective search into a multi-objective one. Every
// solution is joined to the front, and the next call of the subsolver is
// constrained to points no front member dominates.
type MO struct {
	sub    Solver
	front  *pareto.Front
	logger *slog.Logger
}

// NewMO wraps sub with front.
func NewMO(sub Solver, front *pareto.Front, logger *slog.Logger) *MO {
	return &MO{sub: sub, front: front, logger: logger.With("component", "mo")}
}

// Front returns the front maintained by m.
func (m *MO) Front() *pareto.Front { return m.front }

// Solve starts a search excluding the points dominated by the current front.
// Every solution of the subsolver is yielded, dominated or not.
func (m *MO) Solve() Cursor {
	if m.front.Len() > 0 {
		m.sub.AddLocalConstraint(m.front.Constraint())
	}
	cur := m.sub.Solve()
	return newCursor(func(ctx context.Context) (*model.Solution, error) {
		sol, err := cur.Next(ctx)
		if err != nil {
			return nil, err
		}
		joined := m.front.Join(sol)
		m.logger.Debug("front updated", "solution", sol.String(), "joined", joined, "front_size", m.front.Len())
		m.sub.AddLocalConstraint(m.front.Constraint())
		return sol, nil
	})
}

// AddLocalConstraint forwards c to the subsolver.
func (m *MO) AddLocalConstraint(c formula.Formula) { m.sub.AddLocalConstraint(c) }

// AddGlobalConstraint forwards c to the subsolver.
func (m *MO) AddGlobalConstraint(c formula.Formula) { m.sub.AddGlobalConstraint(c) }

// Statistics returns the subsolver's counters.
func (m *MO) Statistics() model.Stats { return m.sub.Statistics() }
