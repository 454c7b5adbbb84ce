package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/me/mowctt/internal/config"
	"github.com/me/mowctt/internal/engine"
	"github.com/me/mowctt/internal/solver"
	"github.com/me/mowctt/internal/store"
	"github.com/me/mowctt/pkg/formula"
	"github.com/me/mowctt/pkg/model"
)

// Four placements trading cost against delay: every one is Pareto optimal.
const tradeoffModel = `
variables:
  - {name: x, min: 1, max: 4}
  - {name: objs, size: 2, min: 0, max: 10}
params:
  cost: [1, 2, 3, 4]
  delay: [4, 3, 2, 1]
constraints:
  - "objs[1] = cost[x]"
  - "objs[2] = delay[x]"
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func tradeoffConfig(t *testing.T, algorithm string) config.RunConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tradeoff.yaml")
	if err := os.WriteFile(path, []byte(tradeoffModel), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultRunConfig()
	cfg.Engine = config.EngineFiniteDomain
	cfg.FDModel = path
	cfg.Minimize = []bool{true, true}
	cfg.RefPoint = []int{5, 5}
	cfg.Algorithm = algorithm
	cfg.Timeout = time.Minute
	cfg.Oracle = config.OracleExpr
	cfg.Predicate = "x != 2"
	cfg.DecisionVars = []string{"x"}
	cfg.Combinator = "and"
	cfg.Normalize()
	return cfg
}

func frontOf(run *model.Run) string {
	points := make([]string, len(run.Front))
	for i, sol := range run.Front {
		points[i] = sol.String()
	}
	sort.Strings(points)
	return fmt.Sprint(points)
}

func TestRunAlgorithms(t *testing.T) {
	tests := []struct {
		algorithm   string
		combinator  string
		effective   string
		front       string
		hypervolume float64
		before      float64 // 0 when there is no post-hoc filter
	}{
		{config.AlgorithmOSolveMO, "and", config.AlgorithmOSolveMO, "[(1, 4) (2, 3) (3, 2) (4, 1)]", 10, 0},
		{config.AlgorithmOSolveMOThenUF, "and", config.AlgorithmOSolveMOThenUF, "[(1, 4) (3, 2) (4, 1)]", 9, 10},
		{config.AlgorithmCUSolveMO, "and", config.AlgorithmCUSolveMO, "[(1, 4) (3, 2) (4, 1)]", 9, 0},
		{config.AlgorithmCUSolveMO, "or", config.AlgorithmUSolveMO, "[(1, 4) (3, 2) (4, 1)]", 9, 0},
		{config.AlgorithmUSolveMO, "and", config.AlgorithmUSolveMO, "[(1, 4) (3, 2) (4, 1)]", 9, 0},
	}
	for _, tt := range tests {
		t.Run(tt.algorithm+"/"+tt.combinator, func(t *testing.T) {
			cfg := tradeoffConfig(t, tt.algorithm)
			cfg.Combinator = tt.combinator
			if got := EffectiveAlgorithm(&cfg); got != tt.effective {
				t.Errorf("EffectiveAlgorithm = %s, want %s", got, tt.effective)
			}

			r := NewRunner(nil, false, testLogger())
			run, err := r.Run(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if run.State != model.RunStateCompleted || !run.Exhaustive {
				t.Errorf("state = %s, exhaustive = %v", run.State, run.Exhaustive)
			}
			if got := frontOf(run); got != tt.front {
				t.Errorf("front = %s, want %s", got, tt.front)
			}
			if run.FrontSize != len(run.Front) {
				t.Errorf("front_size = %d, len(front) = %d", run.FrontSize, len(run.Front))
			}
			if run.Hypervolume != tt.hypervolume {
				t.Errorf("hypervolume = %g, want %g", run.Hypervolume, tt.hypervolume)
			}
			if tt.before != 0 {
				if run.HypervolumeBefore == nil || *run.HypervolumeBefore != tt.before {
					t.Errorf("hypervolume before = %v, want %g", run.HypervolumeBefore, tt.before)
				}
			} else if run.HypervolumeBefore != nil {
				t.Errorf("hypervolume before = %g, want none", *run.HypervolumeBefore)
			}
			if tt.algorithm != config.AlgorithmOSolveMO && run.Stats.OracleRejected == 0 {
				t.Errorf("stats = %+v, want a rejection", run.Stats)
			}
			for _, sol := range run.Front {
				if sol.Verdict.Status == model.Rejected {
					t.Errorf("rejected member %s recorded", sol)
				}
			}
			if run.Key.Solver != config.EngineFiniteDomain || run.Key.Cores != 1 {
				t.Errorf("key = %+v", run.Key)
			}
		})
	}
}

func TestRunRecordsAndSkips(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	cfg := tradeoffConfig(t, config.AlgorithmCUSolveMO)
	run, err := NewRunner(st, false, testLogger()).Run(ctx, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := st.GetRun(ctx, run.ID)
	if err != nil || got == nil {
		t.Fatalf("GetRun = %v, %v", got, err)
	}
	if got.State != model.RunStateCompleted || got.FrontSize != 3 || got.Hypervolume != 9 {
		t.Errorf("stored run = %+v", got)
	}

	again, err := NewRunner(st, false, testLogger()).Run(ctx, cfg)
	if !errors.Is(err, ErrAlreadyComputed) {
		t.Fatalf("second Run err = %v, want ErrAlreadyComputed", err)
	}
	if again.ID != run.ID {
		t.Errorf("skipped run = %s, want %s", again.ID, run.ID)
	}

	forced, err := NewRunner(st, true, testLogger()).Run(ctx, cfg)
	if err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if forced.ID == run.ID {
		t.Error("forced run reused the previous record")
	}
	if _, total, _ := st.ListRuns(ctx, model.ListOptions{}); total != 2 {
		t.Errorf("stored runs = %d, want 2", total)
	}

	// A different combinator is a different computation.
	cfg.Combinator = "or"
	if _, err := NewRunner(st, false, testLogger()).Run(ctx, cfg); err != nil {
		t.Errorf("run with another combinator: %v", err)
	}
}

type failingEngine struct{}

func (failingEngine) AddConstraint(formula.Formula) error { return nil }

func (failingEngine) Solve(context.Context, []formula.Formula, time.Duration) (engine.Result, error) {
	return engine.Result{}, &engine.ToolError{Tool: "minizinc", Err: errors.New("exit status 1"), ExitCode: 1, Stderr: "type error"}
}

func TestRunFailure(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	r := NewRunner(st, false, testLogger())
	r.build = func(ctx context.Context, cfg *config.RunConfig, logger *slog.Logger) (*Pipeline, error) {
		return Compose(cfg, Components{Engine: failingEngine{}, Minimize: cfg.Minimize, RefPoint: cfg.RefPoint}, logger)
	}
	run, err := r.Run(ctx, tradeoffConfig(t, config.AlgorithmOSolveMO))
	var callErr *solver.CallError
	if !errors.As(err, &callErr) || callErr.Phase != solver.PhaseEngine {
		t.Fatalf("err = %v, want engine CallError", err)
	}
	var toolErr *engine.ToolError
	if !errors.As(err, &toolErr) || toolErr.Stderr != "type error" {
		t.Errorf("err = %v, want the tool error", err)
	}

	got, err := st.GetRun(ctx, run.ID)
	if err != nil || got == nil {
		t.Fatalf("GetRun = %v, %v", got, err)
	}
	if got.State != model.RunStateFailed || got.Error == "" || got.Exhaustive {
		t.Errorf("stored run = %+v", got)
	}
	if got.Stats.EngineCalls != 1 {
		t.Errorf("engine calls = %d, want 1", got.Stats.EngineCalls)
	}

	// A build failure is recorded too.
	r.build = func(context.Context, *config.RunConfig, *slog.Logger) (*Pipeline, error) {
		return nil, errors.New("start wctt oracle: no port")
	}
	r.Force = true
	run, err = r.Run(ctx, tradeoffConfig(t, config.AlgorithmOSolveMO))
	if err == nil || run == nil || run.State != model.RunStateFailed {
		t.Fatalf("Run = %+v, %v", run, err)
	}
	if got, _ := st.GetRun(ctx, run.ID); got == nil || got.State != model.RunStateFailed {
		t.Errorf("stored build failure = %+v", got)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := tradeoffConfig(t, "solve-mo-then-uf")
	if _, err := NewRunner(nil, false, testLogger()).Run(context.Background(), cfg); err == nil {
		t.Error("expected a validation error")
	}
}

func TestDrainCancelled(t *testing.T) {
	cfg := tradeoffConfig(t, config.AlgorithmOSolveMO)
	p, err := Build(context.Background(), &cfg, testLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exhaustive, err := Drain(ctx, p.Solver, testLogger())
	if !errors.Is(err, context.Canceled) || exhaustive {
		t.Fatalf("Drain = %v, %v, want context.Canceled", exhaustive, err)
	}

	run := &model.Run{ID: "run_cancelled", State: model.RunStateRunning, CreatedAt: time.Now()}
	Finish(run, p, exhaustive, err, testLogger())
	if run.State != model.RunStateCancelled || run.Error == "" || run.CompletedAt == nil {
		t.Errorf("run = %+v", run)
	}
}

func TestDrainTimeout(t *testing.T) {
	cfg := tradeoffConfig(t, config.AlgorithmOSolveMO)
	cfg.Timeout = time.Nanosecond
	p, err := Build(context.Background(), &cfg, testLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer p.Close()
	time.Sleep(time.Millisecond)

	exhaustive, err := Drain(context.Background(), p.Solver, testLogger())
	if err != nil || exhaustive {
		t.Fatalf("Drain = %v, %v, want a silent timeout", exhaustive, err)
	}
	run := &model.Run{ID: "run_timeout", State: model.RunStateRunning, CreatedAt: time.Now()}
	Finish(run, p, exhaustive, nil, testLogger())
	if run.State != model.RunStateCompleted || run.Exhaustive || run.FrontSize != 0 || run.Hypervolume != 0 {
		t.Errorf("run = %+v", run)
	}
}

func TestBuildMiniZinc(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}
	cfg := config.DefaultRunConfig()
	cfg.Instance = "ring_8_1"
	cfg.ModelMZN = write("placement.mzn", "array[1..2] of var 0..10: objs;\n")
	cfg.ObjectivesDZN = write("objectives.dzn", "minimize_objs = [true, false];\nref_point = [100, 0];\n")
	cfg.DZNDir = dir
	write("ring_8_1.dzn", "services2names = [\"a\"];\n")
	cfg.Solver = "gecode"
	cfg.Cores = 4
	cfg.TmpDir = dir

	p, err := Build(context.Background(), &cfg, testLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if fmt.Sprint(p.Front.Minimize()) != "[true false]" || fmt.Sprint(p.RefPoint) != "[100 0]" {
		t.Errorf("minimize = %v, ref = %v", p.Front.Minimize(), p.RefPoint)
	}
	if p.Algorithm != config.AlgorithmOSolveMO {
		t.Errorf("algorithm = %s", p.Algorithm)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	cfg.ObjectivesDZN = write("objectives.dzn", "ref_point = [100, 0];\n")
	if _, err := Build(context.Background(), &cfg, testLogger()); err == nil {
		t.Error("expected an error without minimize_objs")
	}
}

func TestComposeErrors(t *testing.T) {
	cfg := tradeoffConfig(t, config.AlgorithmCUSolveMO)
	if _, err := Compose(&cfg, Components{Engine: failingEngine{}, Minimize: []bool{true}}, testLogger()); err == nil {
		t.Error("expected an error without oracle")
	}
	if _, err := Compose(&cfg, Components{Minimize: []bool{true}}, testLogger()); err == nil {
		t.Error("expected an error without engine")
	}
	cfg.Algorithm = "simulated-annealing"
	if _, err := Compose(&cfg, Components{Engine: failingEngine{}, Minimize: []bool{true}}, testLogger()); err == nil {
		t.Error("expected an error for an unknown algorithm")
	}
	if got := Algorithms(); fmt.Sprint(got) != fmt.Sprint([]string{"cusolve-mo", "osolve-mo", "osolve-mo-then-uf", "usolve-mo"}) {
		t.Errorf("Algorithms = %v", got)
	}
}
