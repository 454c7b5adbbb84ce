package oracle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dop251/goja"

	"github.com/me/mowctt/pkg/model"
)

// Expr accepts the solutions for which a JavaScript predicate holds, e.g.
// `objs[0] + objs[1] < 40`. The solution variables are bound as globals:
// integers as numbers, arrays as 0-based JavaScript arrays, sets as sorted
// arrays. Rejections carry the conflict of an assignment-level strategy.
type Expr struct {
	source    string
	program   *goja.Program
	library   []string
	conflicts *Conflicts
	logger    *slog.Logger
}

// NewExpr compiles predicate. library holds JavaScript code run before each
// evaluation, such as helper functions. conflicts must use a global
// strategy since there is no violation to explain.
func NewExpr(predicate string, library []string, conflicts *Conflicts, logger *slog.Logger) (*Expr, error) {
	if !IsGlobal(conflicts.Strategy()) {
		return nil, fmt.Errorf("expression oracle: strategy %s needs an analysis report", conflicts.Strategy())
	}
	program, err := goja.Compile("predicate", predicate, true)
	if err != nil {
		return nil, fmt.Errorf("compile predicate: %w", err)
	}
	return &Expr{
		source:    predicate,
		program:   program,
		library:   library,
		conflicts: conflicts,
		logger:    logger.With("component", "expr-oracle"),
	}, nil
}

// setupVM creates a runtime with the library loaded and the variables of a
// bound.
func (e *Expr) setupVM(a model.Assignment) (*goja.Runtime, error) {
	vm := goja.New()
	for i, lib := range e.library {
		if _, err := vm.RunString(lib); err != nil {
			return nil, fmt.Errorf("library[%d]: %w", i, err)
		}
	}
	for _, name := range a.Names() {
		if err := vm.Set(name, export(a[name])); err != nil {
			return nil, fmt.Errorf("set %s: %w", name, err)
		}
	}
	return vm, nil
}

// Check evaluates the predicate on sol.
func (e *Expr) Check(ctx context.Context, sol *model.Solution) (model.Verdict, error) {
	vm, err := e.setupVM(sol.Assignment)
	if err != nil {
		return model.Verdict{}, err
	}
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	val, err := vm.RunProgram(e.program)
	if err != nil {
		if ctx.Err() != nil {
			return model.Verdict{}, ctx.Err()
		}
		return model.Verdict{}, fmt.Errorf("JavaScript error: %w", err)
	}
	ok, isBool := val.Export().(bool)
	if !isBool {
		return model.Verdict{}, fmt.Errorf("predicate %q did not return a boolean: %T", e.source, val.Export())
	}
	e.logger.Debug("predicate evaluated", "solution", sol.String(), "accepted", ok)
	if ok {
		return model.Accept(), nil
	}
	return e.conflicts.Verdict([]Violation{{Name: e.source}}, sol.Assignment)
}

// export converts a value to what goja maps to JavaScript values.
func export(v model.Value) any {
	switch v.Kind() {
	case model.KindInt:
		n, _ := v.Int()
		return n
	case model.KindBool:
		n, _ := v.Int()
		return n != 0
	case model.KindString:
		s, _ := v.Str()
		return s
	case model.KindSet:
		return v.Members()
	default:
		elems := make([]any, v.Len())
		for i := range elems {
			elems[i] = export(v.Elem(i))
		}
		return elems
	}
}
