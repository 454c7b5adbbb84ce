package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/me/mowctt/internal/config"
	"github.com/me/mowctt/internal/solver"
	"github.com/me/mowctt/internal/store"
	"github.com/me/mowctt/pkg/model"
)

// ErrAlreadyComputed is returned by Runner.Run when the store already holds a
// completed run with the same key.
var ErrAlreadyComputed = errors.New("run already computed")

// Drain pulls solutions from s until its cursor ends. exhaustive is true
// when the search space was explored completely; running out of time is
// not an error.
func Drain(ctx context.Context, s solver.Solver, logger *slog.Logger) (exhaustive bool, err error) {
	cur := s.Solve()
	for n := 1; ; n++ {
		sol, err := cur.Next(ctx)
		switch {
		case errors.Is(err, solver.ErrExhausted):
			logger.Info("problem completely explored", "solutions", n-1)
			return true, nil
		case errors.Is(err, solver.ErrTimeout):
			logger.Info("time budget exhausted", "solutions", n-1)
			return false, nil
		case err != nil:
			return false, err
		}
		logger.Debug("solution", "n", n, "objectives", sol.String(), "elapsed", sol.Elapsed, "verdict", sol.Verdict.Status)
	}
}

// Finish fills run from the state of p after a drain that ended with
// runErr. Members rejected by the oracle during the search are dropped
// from the front before it is recorded.
func Finish(run *model.Run, p *Pipeline, exhaustive bool, runErr error, logger *slog.Logger) {
	run.Exhaustive = exhaustive && runErr == nil
	run.Stats = p.Solver.Statistics()
	if run.Stats.Filtered && p.RefPoint != nil {
		before := run.Stats.HypervolumeBefore
		run.HypervolumeBefore = &before
	}

	removed, err := p.Front.Filter(func(sol *model.Solution) (bool, error) {
		return sol.Verdict.Status != model.Rejected, nil
	})
	if err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("filter rejected members: %w", err))
	}
	if removed > 0 {
		logger.Debug("rejected members dropped from the front", "removed", removed)
	}
	run.Front = p.Front.Members()
	run.FrontSize = len(run.Front)

	if p.RefPoint != nil {
		hv, err := p.Front.Hypervolume(p.RefPoint)
		if err != nil {
			logger.Warn("hypervolume not computed", "error", err)
		}
		run.Hypervolume = hv
	}

	next := model.RunStateCompleted
	switch {
	case errors.Is(runErr, context.Canceled):
		next = model.RunStateCancelled
		run.Error = runErr.Error()
	case runErr != nil:
		next = model.RunStateFailed
		run.Error = runErr.Error()
	}
	if err := run.Transition(next); err != nil {
		logger.Error("record run", "error", err)
	}
	now := time.Now().UTC()
	run.CompletedAt = &now
}

// Runner executes runs and records them in a store.
type Runner struct {
	Store  store.Store // may be nil
	Force  bool        // recompute runs already in the store
	Logger *slog.Logger

	// build replaces Build in tests.
	build func(ctx context.Context, cfg *config.RunConfig, logger *slog.Logger) (*Pipeline, error)
}

// NewRunner creates a runner recording into st.
func NewRunner(st store.Store, force bool, logger *slog.Logger) *Runner {
	return &Runner{Store: st, Force: force, Logger: logger, build: Build}
}

// Run validates cfg, skips it if already computed, builds the pipeline,
// drains it and records the run. The run is returned even when it failed;
// its error is then returned too.
func (r *Runner) Run(ctx context.Context, cfg config.RunConfig) (*model.Run, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := ResolveCores(ctx, &cfg); err != nil {
		return nil, err
	}
	key := cfg.Key()
	logger := r.Logger.With("component", "pipeline", "instance", cfg.Instance, "algorithm", cfg.Algorithm)

	if r.Store != nil && !r.Force {
		prev, err := r.Store.FindRun(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("find run: %w", err)
		}
		if prev != nil {
			logger.Info("skipping, already computed", "run_id", prev.ID)
			return prev, ErrAlreadyComputed
		}
	}

	run := &model.Run{
		ID:        "run_" + uuid.New().String(),
		Key:       key,
		State:     model.RunStateRunning,
		CreatedAt: time.Now().UTC(),
	}
	if r.Store != nil {
		if err := r.Store.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
	}
	logger = logger.With("run_id", run.ID)
	logger.Info("run started", "key", key.String(), "cores", cfg.Cores, "timeout", cfg.Timeout)

	p, err := r.build(ctx, &cfg, logger)
	if err != nil {
		r.fail(ctx, run, err, logger)
		return run, err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("close pipeline", "error", err)
		}
	}()

	exhaustive, runErr := Drain(ctx, p.Solver, logger)
	if runErr != nil {
		logger.Error("run failed", "error", runErr)
	}
	Finish(run, p, exhaustive, runErr, logger)
	if err := r.save(ctx, run); err != nil {
		return run, err
	}
	logger.Info("run finished", "state", run.State, "exhaustive", run.Exhaustive,
		"front_size", run.FrontSize, "hypervolume", run.Hypervolume)
	if runErr != nil {
		return run, runErr
	}
	return run, nil
}

// fail records a run that could not start.
func (r *Runner) fail(ctx context.Context, run *model.Run, err error, logger *slog.Logger) {
	logger.Error("run failed", "error", err)
	next := model.RunStateFailed
	if errors.Is(err, context.Canceled) {
		next = model.RunStateCancelled
	}
	run.Transition(next)
	run.Error = err.Error()
	now := time.Now().UTC()
	run.CompletedAt = &now
	if saveErr := r.save(ctx, run); saveErr != nil {
		logger.Error("record run", "error", saveErr)
	}
}

// save stores run even when ctx was cancelled.
func (r *Runner) save(ctx context.Context, run *model.Run) error {
	if r.Store == nil {
		return nil
	}
	if err := r.Store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}
