package solver

import (
	"context"
	"log/slog"

	"github.com/me/mowctt/pkg/formula"
	"github.com/me/mowctt/pkg/model"
	"github.com/me/mowctt/pkg/pareto"
)

// FilterFront checks the members of an already computed front with an
// oracle, drops the rejected ones and yields the survivors. The hypervolume
// of the front before filtering is recorded when a reference point is set.
type FilterFront struct {
	front  *pareto.Front
	ref    []int
	oracle Oracle
	stats  model.Stats
	logger *slog.Logger
}

// NewFilterFront creates a filter over front. ref may be nil.
func NewFilterFront(front *pareto.Front, ref []int, oracle Oracle, logger *slog.Logger) *FilterFront {
	return &FilterFront{front: front, ref: ref, oracle: oracle, logger: logger.With("component", "filter-front")}
}

// Solve filters the front on the first call to Next, then yields its
// members.
func (f *FilterFront) Solve() Cursor {
	var members []*model.Solution
	filtered := false
	return newCursor(func(ctx context.Context) (*model.Solution, error) {
		if !filtered {
			if err := f.filter(ctx); err != nil {
				return nil, err
			}
			filtered = true
			members = f.front.Members()
		}
		if len(members) == 0 {
			return nil, ErrExhausted
		}
		sol := members[0]
		members = members[1:]
		return sol, nil
	})
}

func (f *FilterFront) filter(ctx context.Context) error {
	if f.ref != nil {
		hv, err := f.front.Hypervolume(f.ref)
		if err != nil {
			f.logger.Warn("hypervolume before filtering not recorded", "error", err)
		} else {
			f.stats.HypervolumeBefore = hv
		}
	}
	f.stats.Filtered = true
	n, err := f.front.Filter(func(sol *model.Solution) (bool, error) {
		v, err := check(ctx, f.oracle, sol, &f.stats)
		if err != nil {
			return false, err
		}
		return v.Status == model.Accepted, nil
	})
	f.logger.Debug("front filtered", "discarded", n, "front_size", f.front.Len())
	return err
}

// AddLocalConstraint does nothing: the front is already computed.
func (f *FilterFront) AddLocalConstraint(formula.Formula) {}

// AddGlobalConstraint does nothing: the front is already computed.
func (f *FilterFront) AddGlobalConstraint(formula.Formula) {}

// Statistics returns the oracle counters and the hypervolume before filtering.
func (f *FilterFront) Statistics() model.Stats { return f.stats }
