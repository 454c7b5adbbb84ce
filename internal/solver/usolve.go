package solver

import (
	"context"
	"log/slog"

	"github.com/me/mowctt/pkg/formula"
	"github.com/me/mowctt/pkg/model"
)

// USolve checks every solution of the subsolver with an oracle. A rejected
// solution is never yielded: its conflict becomes a global constraint of the
// subsolver. The conflict must exclude the rejected solution.
type USolve struct {
	sub    Solver
	oracle Oracle
	local  []formula.Formula
	stats  model.Stats
	logger *slog.Logger
}

// NewUSolve wraps sub with oracle.
func NewUSolve(sub Solver, oracle Oracle, logger *slog.Logger) *USolve {
	return &USolve{sub: sub, oracle: oracle, logger: logger.With("component", "usolve")}
}

// Solve returns a cursor over the accepted solutions of the subsolver.
func (u *USolve) Solve() Cursor {
	cur := u.sub.Solve()
	return newCursor(func(ctx context.Context) (*model.Solution, error) {
		for {
			sol, err := cur.Next(ctx)
			if err != nil {
				return nil, err
			}
			v, err := check(ctx, u.oracle, sol, &u.stats)
			if err != nil {
				return nil, err
			}
			if v.Status == model.Accepted {
				u.logger.Debug("solution accepted", "solution", sol.String())
				u.local = nil
				return sol, nil
			}
			conflict, _, err := conflicts(v)
			if err != nil {
				return nil, err
			}
			u.logger.Debug("solution rejected", "solution", sol.String(), "conflict", conflict.String())
			u.sub.AddGlobalConstraint(conflict)
			for _, c := range u.local {
				u.sub.AddLocalConstraint(c)
			}
		}
	})
}

// AddLocalConstraint forwards c to the subsolver and keeps it until a
// solution is accepted.
func (u *USolve) AddLocalConstraint(c formula.Formula) {
	u.local = append(u.local, c)
	u.sub.AddLocalConstraint(c)
}

// AddGlobalConstraint forwards c to the subsolver.
func (u *USolve) AddGlobalConstraint(c formula.Formula) { u.sub.AddGlobalConstraint(c) }

// Statistics returns the oracle counters merged with the subsolver's.
func (u *USolve) Statistics() model.Stats {
	s := u.sub.Statistics()
	s.Merge(u.stats)
	return s
}
