package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/mowctt/internal/config"
	"github.com/me/mowctt/internal/pipeline"
)

// runFlags are the command line overrides of a run config.
type runFlags struct {
	instance         string
	algorithm        string
	timeout          time.Duration
	tmpDir           string
	engine           string
	solver           string
	cpStrategy       string
	fznLevel         int
	cores            int
	dznDir           string
	oracle           string
	conflictStrategy string
	combinator       string
	topologyDir      string
	bin              string
}

func newRunCmd() *cobra.Command {
	var configPath string
	var force bool
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compute and record the Pareto front of an instance",
		Long: `Loads a YAML run config, applies the command line overrides, enumerates
the Pareto front with the chosen algorithm and records the run in the
database. A run whose key (instance, algorithm, solver, strategies, cores
and timeout) was already completed is skipped unless --force is given.

Interrupting the command cancels the run; what was found so far is
recorded as a CANCELLED run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultRunConfig()
			if configPath != "" {
				var err error
				if cfg, err = config.LoadRunConfig(configPath); err != nil {
					return err
				}
			}

			fs := cmd.Flags()
			for name, apply := range map[string]func(){
				"instance":               func() { cfg.Instance = f.instance },
				"algorithm":              func() { cfg.Algorithm = f.algorithm },
				"timeout":                func() { cfg.Timeout = f.timeout },
				"tmp-dir":                func() { cfg.TmpDir = f.tmpDir },
				"engine":                 func() { cfg.Engine = f.engine },
				"solver":                 func() { cfg.Solver = f.solver },
				"cp-strategy":            func() { cfg.CPStrategy = f.cpStrategy },
				"fzn-optimisation-level": func() { cfg.FZNOptimisationLevel = f.fznLevel },
				"cores":                  func() { cfg.Cores = f.cores },
				"dzn-dir":                func() { cfg.DZNDir = f.dznDir },
				"oracle":                 func() { cfg.Oracle = f.oracle },
				"conflict-strategy":      func() { cfg.ConflictStrategy = f.conflictStrategy },
				"combinator":             func() { cfg.Combinator = f.combinator },
				"topology-dir":           func() { cfg.TopologyDir = f.topologyDir },
				"bin":                    func() { cfg.Bin = f.bin },
			} {
				if fs.Changed(name) {
					apply()
				}
			}

			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			run, err := pipeline.NewRunner(st, force, logger).Run(ctx, cfg)
			if errors.Is(err, pipeline.ErrAlreadyComputed) {
				fmt.Fprintf(out, "Already computed: %s (use --force to recompute)\n", run.ID)
				return nil
			}
			if run != nil {
				pipeline.PrintRunSummary(out, run)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML run config")
	cmd.Flags().BoolVar(&force, "force", false, "Recompute even if an identical run completed")

	cmd.Flags().StringVar(&f.instance, "instance", "", "Instance name (<dzn-dir>/<instance>.dzn)")
	cmd.Flags().StringVarP(&f.algorithm, "algorithm", "a", "", fmt.Sprintf("Algorithm %v", config.Algorithms))
	cmd.Flags().DurationVarP(&f.timeout, "timeout", "t", 0, "Timeout of the whole run")
	cmd.Flags().StringVar(&f.tmpDir, "tmp-dir", "", "Directory for intermediate files")
	cmd.Flags().StringVar(&f.engine, "engine", "", "Constraint engine (minizinc, finitedomain)")
	cmd.Flags().StringVar(&f.solver, "solver", "", "MiniZinc backend solver id")
	cmd.Flags().StringVar(&f.cpStrategy, "cp-strategy", "", "CP search strategy (free_search ignores the model annotations)")
	cmd.Flags().IntVar(&f.fznLevel, "fzn-optimisation-level", 0, "MiniZinc flattening optimisation level")
	cmd.Flags().IntVar(&f.cores, "cores", 0, "Solver threads (0 detects them)")
	cmd.Flags().StringVar(&f.dznDir, "dzn-dir", "", "Directory of the instance data files")
	cmd.Flags().StringVar(&f.oracle, "oracle", "", "Oracle (wctt, expr)")
	cmd.Flags().StringVar(&f.conflictStrategy, "conflict-strategy", "", "Conflict strategy of rejected solutions")
	cmd.Flags().StringVar(&f.combinator, "combinator", "", "Combinator of per-violation conflicts (and, or)")
	cmd.Flags().StringVar(&f.topologyDir, "topology-dir", "", "Directory of the network topologies")
	cmd.Flags().StringVar(&f.bin, "bin", "", "Directory of the analyser jar and dzn2topology")

	return cmd
}
