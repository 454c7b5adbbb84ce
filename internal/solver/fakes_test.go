package solver

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/me/mowctt/internal/engine"
	"github.com/me/mowctt/pkg/formula"
	"github.com/me/mowctt/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sol(objs ...int) *model.Solution {
	return &model.Solution{
		Assignment: model.Assignment{"objs": model.IntArray(objs...)},
		Objectives: objs,
	}
}

func render(fs []formula.Formula) string {
	strs := make([]string, len(fs))
	for i, f := range fs {
		strs[i] = f.String()
	}
	return strings.Join(strs, " ; ")
}

// fakeSolver yields one scripted list of solutions per call to Solve, then
// ends with end (ErrExhausted by default).
type fakeSolver struct {
	scripts [][]*model.Solution
	end     error
	solves  int
	pending []formula.Formula
	seen    []string // pending local constraints at each call of Next
	global  []formula.Formula
	stats   model.Stats
}

func (f *fakeSolver) Solve() Cursor {
	var script []*model.Solution
	if f.solves < len(f.scripts) {
		script = f.scripts[f.solves]
	}
	f.solves++
	end := f.end
	if end == nil {
		end = ErrExhausted
	}
	return newCursor(func(context.Context) (*model.Solution, error) {
		f.seen = append(f.seen, render(f.pending))
		f.pending = nil
		if len(script) == 0 {
			return nil, end
		}
		s := script[0]
		script = script[1:]
		f.stats.EngineSolutions++
		return s, nil
	})
}

func (f *fakeSolver) AddLocalConstraint(c formula.Formula)  { f.pending = append(f.pending, c) }
func (f *fakeSolver) AddGlobalConstraint(c formula.Formula) { f.global = append(f.global, c) }
func (f *fakeSolver) Statistics() model.Stats               { return f.stats }

// verdicts is an oracle answering from a table keyed by the solution pointer.
type verdicts map[*model.Solution]model.Verdict

func (v verdicts) Check(_ context.Context, s *model.Solution) (model.Verdict, error) {
	verdict, ok := v[s]
	if !ok {
		return model.Accept(), nil
	}
	return verdict, nil
}

// scriptedEngine answers engine calls from a list of results.
type scriptedEngine struct {
	results  []engine.Result
	errs     []error
	calls    int
	locals   [][]formula.Formula
	timeouts []time.Duration
	global   []formula.Formula
	addErr   error
}

func (e *scriptedEngine) AddConstraint(c formula.Formula) error {
	if e.addErr != nil {
		return e.addErr
	}
	e.global = append(e.global, c)
	return nil
}

func (e *scriptedEngine) Solve(_ context.Context, local []formula.Formula, timeout time.Duration) (engine.Result, error) {
	i := e.calls
	e.calls++
	e.locals = append(e.locals, local)
	e.timeouts = append(e.timeouts, timeout)
	if i < len(e.errs) && e.errs[i] != nil {
		return engine.Result{}, e.errs[i]
	}
	if i >= len(e.results) {
		return engine.Result{Status: engine.Unsatisfiable}, nil
	}
	return e.results[i], nil
}

// gridEngine enumerates the points (x, y) of [1, n]² in lexicographic order
// and returns the first one satisfying every constraint. Objectives are x
// and y.
type gridEngine struct {
	n      int
	global []formula.Formula
	calls  int
}

func (e *gridEngine) AddConstraint(c formula.Formula) error {
	e.global = append(e.global, c)
	return nil
}

func (e *gridEngine) Solve(_ context.Context, local []formula.Formula, _ time.Duration) (engine.Result, error) {
	e.calls++
	cs := append(append([]formula.Formula(nil), e.global...), local...)
	for x := 1; x <= e.n; x++ {
	point:
		for y := 1; y <= e.n; y++ {
			a := model.Assignment{
				"x":    model.IntValue(x),
				"y":    model.IntValue(y),
				"objs": model.IntArray(x, y),
			}
			for _, c := range cs {
				ok, err := c.Eval(a)
				if err != nil {
					return engine.Result{}, err
				}
				if !ok {
					continue point
				}
			}
			return engine.Result{Status: engine.Satisfied, Assignment: a}, nil
		}
	}
	return engine.Result{Status: engine.Unsatisfiable}, nil
}

var errBoom = errors.New("boom")
