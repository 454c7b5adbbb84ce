// Package pareto maintains the non-dominated set of solutions found during a
// multi-objective search.
package pareto

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/me/mowctt/pkg/formula"
	"github.com/me/mowctt/pkg/model"
)

// ErrInvalidReference is returned by Hypervolume when the reference point
// does not bound the front.
var ErrInvalidReference = errors.New("invalid hypervolume reference point")

// Front is a Pareto front over a fixed vector of minimized or maximized
// objectives. Every solution ever admitted is kept in discovery order; the
// front is the set of indices of the current non-dominated members.
//
// A Front is not safe for concurrent use.
type Front struct {
	minimize  []bool
	objName   string
	solutions []*model.Solution
	removed   []bool
	front     []int // ascending
}

// Option configures a Front.
type Option func(*Front)

// WithObjectiveName sets the name of the objective array used by Constraint.
// The default is "objs".
func WithObjectiveName(name string) Option {
	return func(f *Front) { f.objName = name }
}

// New returns an empty front. minimize[i] tells whether objective i is
// minimized (true) or maximized (false).
func New(minimize []bool, opts ...Option) *Front {
	f := &Front{minimize: append([]bool(nil), minimize...), objName: "objs"}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Minimize returns the objective directions.
func (f *Front) Minimize() []bool { return f.minimize }

// Dominates reports whether x is at least as good as y on every objective.
// The relation is reflexive.
func (f *Front) Dominates(x, y []int) bool {
	for i, m := range f.minimize {
		if m && x[i] > y[i] || !m && x[i] < y[i] {
			return false
		}
	}
	return true
}

// Join adds x to the front. It returns false, leaving the front and the
// solution history unchanged, when a member dominates x (equal objective
// vectors included). Otherwise the members dominated by x are dropped.
func (f *Front) Join(x *model.Solution) bool {
	if len(x.Objectives) != len(f.minimize) {
		return false
	}
	f.solutions = append(f.solutions, x)
	f.removed = append(f.removed, false)
	if !f.join(len(f.solutions) - 1) {
		f.solutions = f.solutions[:len(f.solutions)-1]
		f.removed = f.removed[:len(f.removed)-1]
		return false
	}
	return true
}

func (f *Front) join(i int) bool {
	x := f.solutions[i].Objectives
	kept := f.front[:0:0]
	for _, j := range f.front {
		y := f.solutions[j].Objectives
		if f.Dominates(y, x) {
			return false
		}
		if !f.Dominates(x, y) {
			kept = append(kept, j)
		}
	}
	f.front = append(kept, i)
	return true
}

// Remove drops x from the front. Members found after x stay; every earlier
// solution that was not itself removed is joined again, which restores the
// members x was hiding. It returns false if x is not a front member.
func (f *Front) Remove(x *model.Solution) bool {
	pos := -1
	for p, i := range f.front {
		if f.solutions[i] == x {
			pos = p
			break
		}
	}
	if pos < 0 {
		return false
	}
	xi := f.front[pos]
	f.removed[xi] = true
	f.front = append([]int(nil), f.front[pos+1:]...)
	for j := 0; j < xi; j++ {
		if !f.removed[j] {
			f.join(j)
		}
	}
	sort.Ints(f.front)
	return true
}

// Filter removes the members failing keep, walking the front from the most
// recent member backward. Members restored by a removal have a lower index
// and are checked as well. It returns the number of discarded members; an
// error from keep stops the walk.
func (f *Front) Filter(keep func(*model.Solution) (bool, error)) (int, error) {
	discarded := 0
	limit := len(f.solutions)
	for {
		idx := -1
		for _, i := range f.front {
			if i < limit && i > idx {
				idx = i
			}
		}
		if idx < 0 {
			return discarded, nil
		}
		limit = idx
		sol := f.solutions[idx]
		ok, err := keep(sol)
		if err != nil {
			return discarded, err
		}
		if !ok {
			f.Remove(sol)
			discarded++
		}
	}
}

// Constraint returns a formula satisfied only by objective vectors that no
// member dominates: for each member, one objective must strictly improve.
func (f *Front) Constraint() formula.Formula {
	clauses := make([]formula.Formula, 0, len(f.front))
	for _, i := range f.front {
		objs := f.solutions[i].Objectives
		improve := make([]formula.Formula, len(objs))
		for k, v := range objs {
			op := formula.Lt
			if !f.minimize[k] {
				op = formula.Gt
			}
			improve[k] = formula.VarCmp(f.objName, op, v, k+1)
		}
		clauses = append(clauses, formula.Disj(improve...))
	}
	return formula.Conj(clauses...)
}

// Members returns the current front in discovery order.
func (f *Front) Members() []*model.Solution {
	ms := make([]*model.Solution, len(f.front))
	for p, i := range f.front {
		ms[p] = f.solutions[i]
	}
	return ms
}

// Len returns the size of the front.
func (f *Front) Len() int { return len(f.front) }

// NumFound returns the number of solutions ever admitted.
func (f *Front) NumFound() int { return len(f.solutions) }

// Solutions returns every solution ever admitted, in discovery order.
func (f *Front) Solutions() []*model.Solution { return f.solutions }

func (f *Front) String() string {
	strs := make([]string, len(f.front))
	for p, i := range f.front {
		strs[p] = f.solutions[i].String()
	}
	return "{" + strings.Join(strs, ", ") + "}"
}

// Hypervolume returns the volume of the objective space dominated by the
// front and bounded by ref. Maximized objectives are negated, together with
// their reference coordinate, so that every objective is minimized. Every
// member must be no worse than ref.
func (f *Front) Hypervolume(ref []int) (float64, error) {
	if len(ref) != len(f.minimize) {
		return 0, fmt.Errorf("%w: %d coordinates for %d objectives", ErrInvalidReference, len(ref), len(f.minimize))
	}
	r := make([]int, len(ref))
	for k, v := range ref {
		if f.minimize[k] {
			r[k] = v
		} else {
			r[k] = -v
		}
	}
	points := make([][]int, 0, len(f.front))
	for _, i := range f.front {
		objs := f.solutions[i].Objectives
		p := make([]int, len(objs))
		for k, v := range objs {
			if !f.minimize[k] {
				v = -v
			}
			if v > r[k] {
				return 0, fmt.Errorf("%w: %s is worse than the reference on objective %d", ErrInvalidReference, f.solutions[i], k+1)
			}
			p[k] = v
		}
		points = append(points, p)
	}
	return hypervolume(points, r), nil
}

// hypervolume slices the space along the last dimension and recurses on the
// points below each slice.
func hypervolume(points [][]int, ref []int) float64 {
	d := len(ref)
	if len(points) == 0 || d == 0 {
		return 0
	}
	if d == 1 {
		best := points[0][0]
		for _, p := range points[1:] {
			if p[0] < best {
				best = p[0]
			}
		}
		return float64(ref[0] - best)
	}
	sorted := append([][]int(nil), points...)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a][d-1] < sorted[b][d-1] })
	var (
		vol   float64
		slice [][]int
	)
	for i, p := range sorted {
		slice = append(slice, p[:d-1])
		next := ref[d-1]
		if i+1 < len(sorted) {
			next = sorted[i+1][d-1]
		}
		if h := next - p[d-1]; h > 0 {
			vol += hypervolume(slice, ref[:d-1]) * float64(h)
		}
	}
	return vol
}
