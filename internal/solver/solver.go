// Package solver provides the search combinators: a single-objective adapter
// over an engine (OSolve), the multi-objective composer (MO), the oracle
// filters (USolve, CUSolve, FilterFront) and the phase sequencer (Sequence).
//
// Every combinator implements Solver and can wrap any other. Results are
// pulled one at a time from the Cursor returned by Solve; no work happens
// between two calls to Next.
package solver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/me/mowctt/internal/engine"
	"github.com/me/mowctt/pkg/formula"
	"github.com/me/mowctt/pkg/model"
)

// Sentinel errors ending a cursor.
var (
	ErrExhausted  = errors.New("search space exhausted")
	ErrTimeout    = errors.New("time budget exhausted")
	ErrNoConflict = errors.New("rejected solution carries no conflict")
)

// Cursor yields solutions one at a time. Once Next returns an error, every
// later call returns the same error.
type Cursor interface {
	Next(ctx context.Context) (*model.Solution, error)
}

// Solver is the interface shared by every combinator.
type Solver interface {
	// Solve starts a search over the current constraints.
	Solve() Cursor
	// AddLocalConstraint constrains the next engine call only.
	AddLocalConstraint(c formula.Formula)
	// AddGlobalConstraint constrains every later engine call.
	AddGlobalConstraint(c formula.Formula)
	// Statistics returns the counters of this solver and the ones it wraps.
	Statistics() model.Stats
}

// Engine finds one assignment satisfying the model, the persisted
// constraints and the local constraints of the call.
type Engine interface {
	AddConstraint(c formula.Formula) error
	Solve(ctx context.Context, local []formula.Formula, timeout time.Duration) (engine.Result, error)
}

// Oracle decides whether a solution is acceptable.
type Oracle interface {
	Check(ctx context.Context, sol *model.Solution) (model.Verdict, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, sol *model.Solution) (model.Verdict, error)

// Check calls f.
func (f OracleFunc) Check(ctx context.Context, sol *model.Solution) (model.Verdict, error) {
	return f(ctx, sol)
}

// Call phases.
const (
	PhaseEngine = "engine"
	PhaseOracle = "oracle"
)

// CallError wraps a failure of the engine or of the oracle.
type CallError struct {
	Phase string
	Err   error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

type cursor struct {
	next func(ctx context.Context) (*model.Solution, error)
	err  error
}

func newCursor(next func(ctx context.Context) (*model.Solution, error)) Cursor {
	return &cursor{next: next}
}

func (c *cursor) Next(ctx context.Context) (*model.Solution, error) {
	if c.err != nil {
		return nil, c.err
	}
	sol, err := c.next(ctx)
	if err != nil {
		c.err = err
		return nil, err
	}
	return sol, nil
}

// check runs the oracle on sol, records the call in stats and stores the
// verdict on the solution.
func check(ctx context.Context, o Oracle, sol *model.Solution, stats *model.Stats) (model.Verdict, error) {
	start := time.Now()
	v, err := o.Check(ctx, sol)
	if err != nil {
		return model.Verdict{}, &CallError{Phase: PhaseOracle, Err: err}
	}
	stats.RecordVerdict(v.Status, time.Since(start))
	sol.Verdict = v
	return v, nil
}

// conflicts returns the exact conflict and the fallback of a rejection, each
// standing in for the other when missing. A rejection with neither is an
// oracle failure.
func conflicts(v model.Verdict) (exact, fallback formula.Formula, err error) {
	exact, fallback = v.Conflict, v.Fallback
	if exact == nil {
		exact = fallback
	}
	if fallback == nil {
		fallback = exact
	}
	if exact == nil {
		return nil, nil, &CallError{Phase: PhaseOracle, Err: ErrNoConflict}
	}
	return exact, fallback, nil
}

// Timer is the wall-clock budget of a run, started once.
type Timer struct {
	start   time.Time
	timeout time.Duration
	now     func() time.Time
}

// NewTimer starts a timer with the given budget.
func NewTimer(timeout time.Duration) *Timer {
	return &Timer{start: time.Now(), timeout: timeout, now: time.Now}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration { return t.now().Sub(t.start) }

// Remaining returns what is left of the budget, possibly negative.
func (t *Timer) Remaining() time.Duration { return t.timeout - t.Elapsed() }

// Timeout returns the whole budget.
func (t *Timer) Timeout() time.Duration { return t.timeout }
