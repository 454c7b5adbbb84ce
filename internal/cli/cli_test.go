package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/me/mowctt/internal/config"
	"github.com/me/mowctt/internal/server"
	"github.com/me/mowctt/internal/store"
	"github.com/me/mowctt/pkg/model"
)

// Four placements trading cost against delay; the predicate rejects x = 2.
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

// writeRunConfig writes the tradeoff model and a run config solving it with
// the expression oracle, and returns the config path.
func writeRunConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "tradeoff.yaml")
	if err := os.WriteFile(modelPath, []byte(tradeoffModel), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := fmt.Sprintf(`algorithm: cusolve-mo
timeout: 1m
engine: finitedomain
fd_model: %s
minimize: [true, true]
ref_point: [5, 5]
oracle: expr
predicate: "x != 2"
decision_vars: [x]
conflict_strategy: not_assignment
combinator: and
`, modelPath)
	path := filepath.Join(dir, "run.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startTestServer starts a server on a seeded in-memory store and returns the URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	created := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	completed := created.Add(42 * time.Second)
	runs := []*model.Run{
		{
			ID: "run_done",
			Key: model.RunKey{
				Instance: "ring_8_1", Algorithm: "cusolve-mo", Solver: "org.chuffed.chuffed", CPStrategy: "free",
				ConflictStrategy: "forbid_target_alloc", Combinator: "or", FZNOptimisation: 1, Cores: 4, Timeout: 5 * time.Minute,
			},
			State:       model.RunStateCompleted,
			Exhaustive:  true,
			Hypervolume: 36,
			Stats:       model.Stats{EngineCalls: 4, EngineSolutions: 3, OracleCalls: 3, OracleAccepted: 2, OracleRejected: 1},
			Front: []*model.Solution{
				{Assignment: model.Assignment{"objs": model.IntArray(2, 7)}, Objectives: []int{2, 7}, Verdict: model.Accept()},
				{Assignment: model.Assignment{"objs": model.IntArray(5, 3)}, Objectives: []int{5, 3}, Verdict: model.Accept()},
			},
			CreatedAt:   created,
			CompletedAt: &completed,
		},
		{
			ID:        "run_broken",
			Key:       model.RunKey{Instance: "star_4_1", Algorithm: "osolve-mo-then-uf", Timeout: time.Minute},
			State:     model.RunStateFailed,
			Error:     "pegase: read port: EOF",
			CreatedAt: created.Add(-time.Hour),
		},
	}
	for _, run := range runs {
		if err := st.CreateRun(ctx, run); err != nil {
			t.Fatalf("seed run: %v", err)
		}
	}

	srv := server.New(config.DefaultServerConfig(), st, testLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLIContext(t, context.Background(), args...)
}

func runCLIContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

func TestRunCommand(t *testing.T) {
	cfg := writeRunConfig(t)
	db := filepath.Join(t.TempDir(), "runs.db")

	output, err := runCLI(t, "--db", db, "run", "--config", cfg)
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, output)
	}
	for _, want := range []string{"=== Run Summary ===", "Instance: tradeoff", "✓ COMPLETED", "Hypervolume: 9", "Front: 3 solutions"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}

	output, err = runCLI(t, "--db", db, "run", "--config", cfg)
	if err != nil {
		t.Fatalf("second run error: %v", err)
	}
	if !strings.Contains(output, "Already computed: run_") {
		t.Errorf("expected the run to be skipped, got: %s", output)
	}

	output, err = runCLI(t, "--db", db, "run", "--config", cfg, "--force")
	if err != nil {
		t.Fatalf("forced run error: %v", err)
	}
	if !strings.Contains(output, "Front: 3 solutions") {
		t.Errorf("expected a recomputed front, got: %s", output)
	}

	// Overrides change the key, so the run is not skipped.
	output, err = runCLI(t, "--db", db, "run", "--config", cfg, "--algorithm", "osolve-mo")
	if err != nil {
		t.Fatalf("osolve-mo run error: %v", err)
	}
	if !strings.Contains(output, "Algorithm: osolve-mo\n") || !strings.Contains(output, "Front: 4 solutions") {
		t.Errorf("expected the unchecked front, got: %s", output)
	}

	st, err := store.NewSQLiteStore(db, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	_, total, err := st.ListRuns(context.Background(), model.DefaultListOptions())
	if err != nil || total != 3 {
		t.Errorf("recorded runs = %d, %v, want 3", total, err)
	}
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	_, err := runCLI(t, "--db", db, "run", "--config", writeRunConfig(t), "--algorithm", "nsga2")
	if err == nil || !strings.Contains(err.Error(), "unknown algorithm") {
		t.Fatalf("err = %v, want unknown algorithm", err)
	}

	_, err = runCLI(t, "--db", db, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestListCommand(t *testing.T) {
	url := startTestServer(t)

	output, err := runCLI(t, "--server", url, "list")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(output, "ID") || !strings.Contains(output, "HYPERVOLUME") {
		t.Errorf("expected table header in output, got: %s", output)
	}
	done := strings.Index(output, "run_done")
	broken := strings.Index(output, "run_broken")
	if done < 0 || broken < 0 || done > broken {
		t.Errorf("expected both runs newest first, got: %s", output)
	}

	output, err = runCLI(t, "--server", url, "list", "--state", "FAILED")
	if err != nil {
		t.Fatalf("list --state error: %v", err)
	}
	if strings.Contains(output, "run_done") || !strings.Contains(output, "run_broken") {
		t.Errorf("expected only the failed run, got: %s", output)
	}

	output, err = runCLI(t, "--server", url, "list", "--limit", "1")
	if err != nil {
		t.Fatalf("list --limit error: %v", err)
	}
	if !strings.Contains(output, "(1 of 2 shown)") {
		t.Errorf("expected a paging note, got: %s", output)
	}

	output, err = runCLI(t, "--server", url, "list", "--instance", "grid_3_3")
	if err != nil {
		t.Fatalf("list --instance error: %v", err)
	}
	if !strings.Contains(output, "No runs found.") {
		t.Errorf("expected no runs, got: %s", output)
	}
}

func TestStatusCommand(t *testing.T) {
	url := startTestServer(t)

	output, err := runCLI(t, "--server", url, "status", "run_done")
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	for _, want := range []string{
		"Run: run_done",
		"Algorithm: cusolve-mo (forbid_target_alloc, or)",
		"Status: ✓ COMPLETED in 42.0s, problem completely explored",
		"Oracle: 3 calls, 2 accepted, 1 rejected",
		"(2, 7)",
		"Front: 2 solutions",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}

	output, err = runCLI(t, "--server", url, "status", "run_broken")
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !strings.Contains(output, "✗ FAILED") || !strings.Contains(output, "Error: pegase: read port: EOF") {
		t.Errorf("expected the failure, got: %s", output)
	}
}

func TestStatusCommand_NotFound(t *testing.T) {
	url := startTestServer(t)
	_, err := runCLI(t, "--server", url, "status", "run_missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestServeCommand_Shutdown(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := runCLIContext(t, ctx, "--db", db, "serve", "--addr", "127.0.0.1:0"); err != nil {
		t.Fatalf("serve error: %v", err)
	}
	if _, err := os.Stat(db); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestRootCommand_InvalidLogFlags(t *testing.T) {
	if _, err := runCLI(t, "--log-level", "verbose", "list"); err == nil || !strings.Contains(err.Error(), "unknown log level") {
		t.Errorf("err = %v, want unknown log level", err)
	}
	if _, err := runCLI(t, "--log-format", "logfmt", "list"); err == nil || !strings.Contains(err.Error(), "unknown log format") {
		t.Errorf("err = %v, want unknown log format", err)
	}
}
