package oracle

import (
	"fmt"
	"sort"

	"github.com/me/mowctt/pkg/formula"
	"github.com/me/mowctt/pkg/model"
)

// Conflict combinators.
const (
	CombineAnd = "and"
	CombineOr  = "or"
)

// NotAssignment is the name of the strategy excluding exactly the analysed
// assignment. It is also the fallback of every rejection.
const NotAssignment = "not_assignment"

// Model variables read by the strategies.
const (
	placementVar = "services2locs"
	chargeVar    = "charge"
	pathVar      = "shortest_path"
)

type conflictFunc func(c *Conflicts, v Violation, a model.Assignment) (formula.Formula, error)

type strategy struct {
	build conflictFunc
	// global strategies describe the whole assignment, so one violation is
	// enough.
	global bool
}

var strategies = map[string]strategy{
	NotAssignment:                    {build: notAssignment, global: true},
	"decrease_one_link_charge":       {build: decreaseOneLinkCharge, global: true},
	"decrease_max_link_charge":       {build: decreaseMaxLinkCharge, global: true},
	"forbid_source_alloc":            {build: forbidSourceAlloc},
	"forbid_target_alloc":            {build: forbidTargetAlloc},
	"forbid_source_target_alloc_or":  {build: forbidSourceTargetAlloc(formula.Disj)},
	"forbid_source_target_alloc_and": {build: forbidSourceTargetAlloc(formula.Conj)},
	"decrease_hop_or":                {build: decreaseHop(formula.Disj)},
	"decrease_hop_and":               {build: decreaseHop(formula.Conj)},
}

// Strategies returns the names of the conflict strategies, sorted.
func Strategies() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsGlobal reports whether the strategy name ignores the violation details.
func IsGlobal(name string) bool {
	return strategies[name].global
}

// Conflicts turns the violations of an analysis into a verdict.
type Conflicts struct {
	strategy string
	combine  func(...formula.Formula) formula.Formula
	instance *Instance
	decision []string
}

// NewConflicts selects a strategy and a combinator ("and" or "or"). in may
// be nil for global strategies.
func NewConflicts(in *Instance, name, combinator string) (*Conflicts, error) {
	s, ok := strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStrategy, name)
	}
	if in == nil && !s.global {
		return nil, fmt.Errorf("strategy %s needs the instance data", name)
	}
	c := &Conflicts{strategy: name, instance: in, decision: []string{placementVar}}
	switch combinator {
	case CombineAnd:
		c.combine = formula.Conj
	case CombineOr:
		c.combine = formula.Disj
	default:
		if !s.global {
			return nil, fmt.Errorf("unknown conflict combinator %q", combinator)
		}
		c.combine = formula.Conj
	}
	return c, nil
}

// WithDecisionVars sets the variables excluded by not_assignment and by the
// fallback conflict. The default is services2locs.
func (c *Conflicts) WithDecisionVars(names ...string) *Conflicts {
	c.decision = names
	return c
}

// Strategy returns the name of the strategy.
func (c *Conflicts) Strategy() string { return c.strategy }

// Verdict accepts a when there is no violation. Otherwise it rejects a with
// the combined conflicts of the violations and the not-assignment fallback.
func (c *Conflicts) Verdict(violations []Violation, a model.Assignment) (model.Verdict, error) {
	if len(violations) == 0 {
		return model.Accept(), nil
	}
	s := strategies[c.strategy]
	var parts []formula.Formula
	for _, v := range violations {
		f, err := s.build(c, v, a)
		if err != nil {
			return model.Verdict{}, err
		}
		parts = append(parts, f)
		if s.global {
			break
		}
	}
	fallback, err := notAssignment(c, Violation{}, a)
	if err != nil {
		return model.Verdict{}, err
	}
	return model.Reject(c.combine(parts...), fallback), nil
}

func placement(a model.Assignment) ([]int, error) {
	v, ok := a[placementVar]
	if !ok {
		return nil, fmt.Errorf("%w: solution has no %s", ErrModelDiverged, placementVar)
	}
	locs, ok := v.Ints()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an integer array", ErrModelDiverged, placementVar)
	}
	return locs, nil
}

func charges(a model.Assignment) ([]int, error) {
	v, ok := a[chargeVar]
	if !ok {
		return nil, fmt.Errorf("%w: solution has no %s", ErrModelDiverged, chargeVar)
	}
	xs, ok := v.Ints()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an integer array", ErrModelDiverged, chargeVar)
	}
	return xs, nil
}

func notAssignment(c *Conflicts, _ Violation, a model.Assignment) (formula.Formula, error) {
	return ExcludeAssignment(a, c.decision...)
}

// ExcludeAssignment returns the constraint excluding the values that a gives
// to the variables names, scalars or integer arrays.
func ExcludeAssignment(a model.Assignment, names ...string) (formula.Formula, error) {
	var parts []formula.Formula
	for _, name := range names {
		v, ok := a[name]
		if !ok {
			return nil, fmt.Errorf("%w: solution has no %s", ErrModelDiverged, name)
		}
		if n, ok := v.Int(); ok {
			parts = append(parts, formula.VarCmp(name, formula.Ne, n))
			continue
		}
		xs, ok := v.Ints()
		if !ok {
			return nil, fmt.Errorf("%s is neither an integer nor an integer array", name)
		}
		for i, x := range xs {
			parts = append(parts, formula.VarCmp(name, formula.Ne, x, i+1))
		}
	}
	return formula.Disj(parts...), nil
}

func decreaseOneLinkCharge(_ *Conflicts, _ Violation, a model.Assignment) (formula.Formula, error) {
	xs, err := charges(a)
	if err != nil {
		return nil, err
	}
	parts := make([]formula.Formula, len(xs))
	for i, c := range xs {
		parts[i] = formula.VarCmp(chargeVar, formula.Lt, c, i+1)
	}
	return formula.Disj(parts...), nil
}

func decreaseMaxLinkCharge(_ *Conflicts, _ Violation, a model.Assignment) (formula.Formula, error) {
	xs, err := charges(a)
	if err != nil {
		return nil, err
	}
	maxCharge, at := 0, 0
	for i, c := range xs {
		if c > maxCharge {
			maxCharge, at = c, i
		}
	}
	return formula.VarCmp(chargeVar, formula.Lt, maxCharge, at+1), nil
}

// endpoints resolves the sending service of v, its location and the
// location of the receiver.
func endpoints(in *Instance, v Violation, a model.Assignment) (from, locFrom, locTo int, locs []int, err error) {
	locs, err = placement(a)
	if err != nil {
		return
	}
	if from, err = in.service(v.Name); err != nil {
		return
	}
	if from >= len(locs) {
		err = fmt.Errorf("%w: service %q has no location in the solution", ErrModelDiverged, v.Name)
		return
	}
	locFrom = locs[from]
	locTo, err = in.location(v.Receiver)
	return
}

// targets returns the services receiving from service from on location loc.
func targets(in *Instance, from, loc int, locs []int) ([]int, error) {
	var out []int
	for x, com := range in.Coms[from] {
		if com != 0 && x < len(locs) && locs[x] == loc {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: service %q has no communication towards location %d", ErrModelDiverged, in.Services[from], loc)
	}
	return out, nil
}

func avoid(service, locA, locB int) formula.Formula {
	return formula.Conj(
		formula.VarCmp(placementVar, formula.Ne, locA, service+1),
		formula.VarCmp(placementVar, formula.Ne, locB, service+1),
	)
}

func forbidSourceAlloc(c *Conflicts, v Violation, a model.Assignment) (formula.Formula, error) {
	from, locFrom, locTo, _, err := endpoints(c.instance, v, a)
	if err != nil {
		return nil, err
	}
	return avoid(from, locFrom, locTo), nil
}

func forbidTargetAlloc(c *Conflicts, v Violation, a model.Assignment) (formula.Formula, error) {
	from, locFrom, locTo, locs, err := endpoints(c.instance, v, a)
	if err != nil {
		return nil, err
	}
	to, err := targets(c.instance, from, locTo, locs)
	if err != nil {
		return nil, err
	}
	parts := make([]formula.Formula, len(to))
	for i, s := range to {
		parts[i] = avoid(s, locFrom, locTo)
	}
	return formula.Disj(parts...), nil
}

func forbidSourceTargetAlloc(combine func(...formula.Formula) formula.Formula) conflictFunc {
	return func(c *Conflicts, v Violation, a model.Assignment) (formula.Formula, error) {
		source, err := forbidSourceAlloc(c, v, a)
		if err != nil {
			return nil, err
		}
		target, err := forbidTargetAlloc(c, v, a)
		if err != nil {
			return nil, err
		}
		return combine(source, target), nil
	}
}

// hops is the length of the shortest path between two locations.
func hops(a, b formula.Term) formula.Term {
	return formula.Call{Fn: "card", Args: []formula.Term{formula.Ref{Name: pathVar, Index: []formula.Term{a, b}}}}
}

func decreaseHop(combine func(...formula.Formula) formula.Formula) conflictFunc {
	return func(c *Conflicts, v Violation, a model.Assignment) (formula.Formula, error) {
		from, locFrom, locTo, locs, err := endpoints(c.instance, v, a)
		if err != nil {
			return nil, err
		}
		to, err := targets(c.instance, from, locTo, locs)
		if err != nil {
			return nil, err
		}
		current := hops(formula.Int(locFrom), formula.Int(locTo))
		parts := make([]formula.Formula, len(to))
		for i, s := range to {
			parts[i] = formula.Cmp(hops(formula.Var(placementVar, from+1), formula.Var(placementVar, s+1)), formula.Lt, current)
		}
		return combine(parts...), nil
	}
}

// ValidStrategy reports whether name is a known strategy.
func ValidStrategy(name string) bool {
	_, ok := strategies[name]
	return ok
}
