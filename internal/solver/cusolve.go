package solver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/me/mowctt/pkg/formula"
	"github.com/me/mowctt/pkg/model"
)

// conflictFrame is one rejection on the current branch. While active, the
// exact conflict is asserted; once its branch is exhausted the frame asserts
// the negation of the exact conflict together with the fallback, which
// excludes the rejected solution.
type conflictFrame struct {
	active   bool
	exact    formula.Formula
	fallback formula.Formula
}

func (f conflictFrame) assertion() formula.Formula {
	if f.active {
		return f.exact
	}
	return formula.Conj(formula.Negate(f.exact), f.fallback)
}

// conflictStack is the branch being explored, root first.
type conflictStack []conflictFrame

func (s *conflictStack) push(f conflictFrame) { *s = append(*s, f) }

func (s *conflictStack) pop() { *s = (*s)[:len(*s)-1] }

func (s conflictStack) top() *conflictFrame { return &s[len(s)-1] }

// CUSolve checks every solution of the subsolver with an oracle and explores
// the exact conflicts of the rejected ones depth first. A rejection pushes a
// frame asserting the exact conflict; when the subsolver runs out of
// solutions, the innermost active frame is flipped to assert its negation
// and the fallback, and a fresh search starts. The run is exhausted when
// every frame has been flipped and popped.
type CUSolve struct {
	sub    Solver
	oracle Oracle
	stack  conflictStack
	local  []formula.Formula
	cur    Cursor
	stats  model.Stats
	logger *slog.Logger
}

// NewCUSolve wraps sub with oracle.
func NewCUSolve(sub Solver, oracle Oracle, logger *slog.Logger) *CUSolve {
	return &CUSolve{sub: sub, oracle: oracle, logger: logger.With("component", "cusolve")}
}

// Solve returns a cursor over the accepted solutions.
func (c *CUSolve) Solve() Cursor {
	c.cur = nil
	return newCursor(c.next)
}

func (c *CUSolve) next(ctx context.Context) (*model.Solution, error) {
	for {
		if c.cur == nil {
			c.assert()
			c.cur = c.sub.Solve()
		}
		sol, err := c.cur.Next(ctx)
		if errors.Is(err, ErrExhausted) {
			c.cur = nil
			if !c.backtrack() {
				c.logger.Debug("conflict stack empty")
				return nil, ErrExhausted
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		v, err := check(ctx, c.oracle, sol, &c.stats)
		if err != nil {
			return nil, err
		}
		if v.Status == model.Accepted {
			c.logger.Debug("solution accepted", "solution", sol.String(), "depth", len(c.stack))
			c.local = nil
			c.assert()
			return sol, nil
		}
		exact, fallback, err := conflicts(v)
		if err != nil {
			return nil, err
		}
		c.stack.push(conflictFrame{active: true, exact: exact, fallback: fallback})
		c.logger.Debug("solution rejected", "solution", sol.String(), "conflict", exact.String(), "depth", len(c.stack))
		c.assert()
	}
}

// backtrack pops the exhausted frames and flips the innermost active one.
// It returns false when the stack is empty.
func (c *CUSolve) backtrack() bool {
	for len(c.stack) > 0 {
		top := c.stack.top()
		if !top.active {
			c.stack.pop()
			continue
		}
		top.active = false
		c.stats.Backtracks++
		c.logger.Debug("backtrack", "depth", len(c.stack), "backtracks", c.stats.Backtracks)
		return true
	}
	return false
}

// assert adds every frame, then the pending local constraints, to the next
// call of the subsolver.
func (c *CUSolve) assert() {
	for _, f := range c.stack {
		c.sub.AddLocalConstraint(f.assertion())
	}
	for _, l := range c.local {
		c.sub.AddLocalConstraint(l)
	}
}

// AddLocalConstraint keeps f until a solution is accepted.
func (c *CUSolve) AddLocalConstraint(f formula.Formula) {
	c.local = append(c.local, f)
	if c.cur != nil {
		c.sub.AddLocalConstraint(f)
	}
}

// AddGlobalConstraint forwards f to the subsolver.
func (c *CUSolve) AddGlobalConstraint(f formula.Formula) { c.sub.AddGlobalConstraint(f) }

// Statistics returns the oracle and backtrack counters merged with the
// subsolver's.
func (c *CUSolve) Statistics() model.Stats {
	s := c.sub.Statistics()
	s.Merge(c.stats)
	return s
}
