package solver

import (
	"context"
	"log/slog"
	"time"

	"github.com/me/mowctt/internal/engine"
	"github.com/me/mowctt/pkg/formula"
	"github.com/me/mowctt/pkg/model"
)

// OSolve adapts an Engine to the Solver interface. Each Next is one engine
// call under the persisted constraints plus the local constraints added
// since the previous call, bounded by the remaining time.
type OSolve struct {
	engine  Engine
	timer   *Timer
	objName string
	local   []formula.Formula
	err     error // from AddGlobalConstraint, reported by the next call
	stats   model.Stats
	logger  *slog.Logger
}

// NewOSolve creates an adapter over e. objName names the objective array of
// the model.
func NewOSolve(e Engine, timer *Timer, objName string, logger *slog.Logger) *OSolve {
	return &OSolve{
		engine:  e,
		timer:   timer,
		objName: objName,
		logger:  logger.With("component", "osolve"),
	}
}

// Solve returns a cursor over successive engine calls.
func (o *OSolve) Solve() Cursor {
	return newCursor(o.next)
}

func (o *OSolve) next(ctx context.Context) (*model.Solution, error) {
	if o.err != nil {
		return nil, o.err
	}
	remaining := o.timer.Remaining()
	if remaining <= 0 {
		return nil, ErrTimeout
	}
	local := o.local
	o.local = nil

	start := time.Now()
	res, err := o.engine.Solve(ctx, local, remaining)
	o.stats.EngineCalls++
	o.stats.EngineTime += time.Since(start)
	if err != nil {
		return nil, &CallError{Phase: PhaseEngine, Err: err}
	}

	switch res.Status {
	case engine.Satisfied:
		sol, err := model.NewSolution(res.Assignment, o.objName, o.timer.Elapsed())
		if err != nil {
			return nil, &CallError{Phase: PhaseEngine, Err: err}
		}
		o.stats.EngineSolutions++
		o.stats.SolutionTimes = append(o.stats.SolutionTimes, sol.Elapsed)
		o.logger.Debug("solution found", "objectives", sol.String(), "elapsed", sol.Elapsed)
		return sol, nil
	case engine.Unsatisfiable:
		o.logger.Debug("no more solutions", "local_constraints", len(local))
		return nil, ErrExhausted
	default:
		o.logger.Debug("engine stopped without answer", "remaining", remaining)
		return nil, ErrTimeout
	}
}

// AddLocalConstraint adds c to the next engine call only.
func (o *OSolve) AddLocalConstraint(c formula.Formula) {
	o.local = append(o.local, c)
}

// AddGlobalConstraint persists c in the engine.
func (o *OSolve) AddGlobalConstraint(c formula.Formula) {
	if err := o.engine.AddConstraint(c); err != nil && o.err == nil {
		o.err = &CallError{Phase: PhaseEngine, Err: err}
	}
}

// Statistics returns the engine counters.
func (o *OSolve) Statistics() model.Stats {
	s := o.stats
	s.SolutionTimes = append([]time.Duration(nil), o.stats.SolutionTimes...)
	return s
}
