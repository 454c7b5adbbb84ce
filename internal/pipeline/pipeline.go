// Package pipeline assembles the combinators of a run from its config and
// drives the run to its record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/me/mowctt/internal/config"
	"github.com/me/mowctt/internal/dzn"
	"github.com/me/mowctt/internal/engine"
	"github.com/me/mowctt/internal/oracle"
	"github.com/me/mowctt/internal/solver"
	"github.com/me/mowctt/pkg/pareto"
)

// Parameters of the objectives file.
const (
	MinimizeParam = "minimize_objs"
	RefPointParam = "ref_point"
)

// Components are the collaborators a pipeline is composed over.
type Components struct {
	Engine   solver.Engine
	Oracle   solver.Oracle // nil when the algorithm checks nothing
	Minimize []bool
	RefPoint []int // nil when no hypervolume is computed
	Closers  []io.Closer
}

// Pipeline is the solver of a run together with the front it maintains.
type Pipeline struct {
	Solver    solver.Solver
	Front     *pareto.Front
	Timer     *solver.Timer
	RefPoint  []int
	Algorithm string // the algorithm actually composed

	closers []io.Closer
}

// Close releases the engine and the oracle.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i].Close())
	}
	return errors.Join(errs...)
}

// composeFunc wraps the multi-objective solver into an algorithm.
type composeFunc func(mo *solver.MO, comps Components, logger *slog.Logger) solver.Solver

var algorithms = map[string]composeFunc{
	config.AlgorithmOSolveMO: func(mo *solver.MO, _ Components, _ *slog.Logger) solver.Solver {
		return mo
	},
	config.AlgorithmOSolveMOThenUF: func(mo *solver.MO, comps Components, logger *slog.Logger) solver.Solver {
		filter := solver.NewFilterFront(mo.Front(), comps.RefPoint, comps.Oracle, logger)
		return solver.NewSequence([]solver.Solver{mo, filter}, true, logger)
	},
	config.AlgorithmCUSolveMO: func(mo *solver.MO, comps Components, logger *slog.Logger) solver.Solver {
		return solver.NewCUSolve(mo, comps.Oracle, logger)
	},
	config.AlgorithmUSolveMO: func(mo *solver.MO, comps Components, logger *slog.Logger) solver.Solver {
		return solver.NewUSolve(mo, comps.Oracle, logger)
	},
}

// Algorithms returns the registered algorithm names in sorted order.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EffectiveAlgorithm returns the algorithm composed for cfg. Conflict-driven
// backtracking over not_assignment conflicts combined with "or" never
// backtracks, so it runs as usolve-mo.
func EffectiveAlgorithm(cfg *config.RunConfig) string {
	if cfg.Algorithm == config.AlgorithmCUSolveMO &&
		cfg.ConflictStrategy == oracle.NotAssignment && cfg.Combinator == oracle.CombineOr {
		return config.AlgorithmUSolveMO
	}
	return cfg.Algorithm
}

// Compose builds the combinator tree of cfg over comps. The timer starts
// now.
func Compose(cfg *config.RunConfig, comps Components, logger *slog.Logger) (*Pipeline, error) {
	name := EffectiveAlgorithm(cfg)
	build, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("unknown algorithm %q", name)
	}
	if comps.Engine == nil {
		return nil, errors.New("pipeline needs an engine")
	}
	if name != config.AlgorithmOSolveMO && comps.Oracle == nil {
		return nil, fmt.Errorf("algorithm %s needs an oracle", name)
	}
	if len(comps.Minimize) == 0 {
		return nil, errors.New("no objective directions")
	}

	timer := solver.NewTimer(cfg.Timeout)
	front := pareto.New(comps.Minimize, pareto.WithObjectiveName(cfg.Objectives))
	osolve := solver.NewOSolve(comps.Engine, timer, cfg.Objectives, logger)
	mo := solver.NewMO(osolve, front, logger)

	logger.Debug("pipeline composed", "algorithm", name, "objectives", len(comps.Minimize))
	return &Pipeline{
		Solver:    build(mo, comps, logger),
		Front:     front,
		Timer:     timer,
		RefPoint:  comps.RefPoint,
		Algorithm: name,
		closers:   comps.Closers,
	}, nil
}

// ResolveCores sets cfg.Cores from the solver capabilities when it is 0.
func ResolveCores(ctx context.Context, cfg *config.RunConfig) error {
	if cfg.Cores > 0 {
		return nil
	}
	if cfg.Engine != config.EngineMiniZinc {
		cfg.Cores = 1
		return nil
	}
	cores, err := engine.DetectCores(ctx, cfg.MiniZinc, cfg.Solver)
	if err != nil {
		return fmt.Errorf("detect cores: %w", err)
	}
	cfg.Cores = cores
	return nil
}

// Build creates the engine and the oracle described by cfg and composes
// them. The oracle is only started for algorithms that check solutions.
func Build(ctx context.Context, cfg *config.RunConfig, logger *slog.Logger) (*Pipeline, error) {
	if err := ResolveCores(ctx, cfg); err != nil {
		return nil, err
	}
	var comps Components
	fail := func(err error) (*Pipeline, error) {
		for i := len(comps.Closers) - 1; i >= 0; i-- {
			comps.Closers[i].Close()
		}
		return nil, err
	}

	var err error
	switch cfg.Engine {
	case config.EngineMiniZinc:
		err = buildMiniZinc(cfg, &comps, logger)
	case config.EngineFiniteDomain:
		err = buildFiniteDomain(cfg, &comps, logger)
	default:
		err = fmt.Errorf("unknown engine %q", cfg.Engine)
	}
	if err != nil {
		return fail(err)
	}

	if cfg.UsesOracle() {
		o, closer, err := buildOracle(ctx, cfg, logger)
		if err != nil {
			return fail(err)
		}
		comps.Oracle = o
		if closer != nil {
			comps.Closers = append(comps.Closers, closer)
		}
	}

	p, err := Compose(cfg, comps, logger)
	if err != nil {
		return fail(err)
	}
	return p, nil
}

func buildMiniZinc(cfg *config.RunConfig, comps *Components, logger *slog.Logger) error {
	objectives, err := dzn.ReadFile(cfg.ObjectivesDZN)
	if err != nil {
		return fmt.Errorf("read objectives: %w", err)
	}
	if comps.Minimize, err = objectives.Bools(MinimizeParam); err != nil {
		return fmt.Errorf("objectives %s: %w", cfg.ObjectivesDZN, err)
	}
	if _, ok := objectives.Get(RefPointParam); ok {
		if comps.RefPoint, err = objectives.Ints(RefPointParam); err != nil {
			return fmt.Errorf("objectives %s: %w", cfg.ObjectivesDZN, err)
		}
	}

	mzn, err := engine.NewMiniZinc(engine.MiniZincConfig{
		Binary:            cfg.MiniZinc,
		Solver:            cfg.Solver,
		Model:             cfg.ModelMZN,
		Data:              []string{cfg.DataFile(), cfg.ObjectivesDZN},
		WorkDir:           cfg.TmpDir,
		Cores:             cfg.Cores,
		FreeSearch:        cfg.FreeSearch(),
		OptimisationLevel: cfg.FZNOptimisationLevel,
	}, logger)
	if err != nil {
		return err
	}
	comps.Engine = mzn
	comps.Closers = append(comps.Closers, mzn)
	return nil
}

func buildFiniteDomain(cfg *config.RunConfig, comps *Components, logger *slog.Logger) error {
	m, err := engine.LoadFiniteDomainModel(cfg.FDModel)
	if err != nil {
		return err
	}
	fd, err := engine.NewFiniteDomain(m, logger)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cfg.FDModel, err)
	}
	comps.Engine = fd
	comps.Minimize = cfg.Minimize
	comps.RefPoint = cfg.RefPoint
	return nil
}

func buildOracle(ctx context.Context, cfg *config.RunConfig, logger *slog.Logger) (solver.Oracle, io.Closer, error) {
	// The post-hoc filter only reads the verdict status.
	strategy, combinator := cfg.ConflictStrategy, cfg.Combinator
	if !cfg.UsesConflicts() {
		strategy, combinator = oracle.NotAssignment, oracle.CombineOr
	}

	switch cfg.Oracle {
	case config.OracleWCTT:
		data, err := dzn.ReadFile(cfg.DataFile())
		if err != nil {
			return nil, nil, fmt.Errorf("read instance data: %w", err)
		}
		in, err := oracle.LoadInstance(data)
		if err != nil {
			return nil, nil, err
		}
		conflicts, err := oracle.NewConflicts(in, strategy, combinator)
		if err != nil {
			return nil, nil, err
		}
		conflicts.WithDecisionVars(cfg.DecisionVars...)
		w, err := oracle.StartWCTT(ctx, oracle.WCTTConfig{
			Java:      cfg.Java,
			Analyser:  cfg.AnalyserJar(),
			Converter: cfg.Converter(),
			Topology:  cfg.TopologyFile(),
			Data:      cfg.DataFile(),
			WorkDir:   cfg.TmpDir,
			Precision: cfg.Precision,
		}, conflicts, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("start wctt oracle: %w", err)
		}
		return w, w, nil

	case config.OracleExpr:
		conflicts, err := oracle.NewConflicts(nil, strategy, combinator)
		if err != nil {
			return nil, nil, err
		}
		conflicts.WithDecisionVars(cfg.DecisionVars...)
		e, err := oracle.NewExpr(cfg.Predicate, cfg.Library, conflicts, logger)
		if err != nil {
			return nil, nil, err
		}
		return e, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown oracle %q", cfg.Oracle)
	}
}
