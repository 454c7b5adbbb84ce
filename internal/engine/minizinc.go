package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/me/mowctt/pkg/formula"
	"github.com/me/mowctt/pkg/model"
)

// ConstraintsFile is the name of the generated model file holding the
// persisted and local constraints of a call.
const ConstraintsFile = "constraints.mzn"

// MiniZincConfig configures the MiniZinc command line engine.
type MiniZincConfig struct {
	Binary            string   // defaults to "minizinc"
	Solver            string   // backend solver id or tag, e.g. "gecode"
	Model             string   // .mzn file
	Data              []string // .dzn files passed after the model
	WorkDir           string   // parent of the per-engine work directory
	Cores             int      // passed as -p when greater than 1
	FreeSearch        bool
	OptimisationLevel int
}

// MiniZinc solves the model by running the minizinc tool once per call.
// Constraints are written to a generated model file in a private work
// directory, so the input model is never modified.
type MiniZinc struct {
	cfg         MiniZincConfig
	dir         string
	constraints []formula.Formula
	logger      *slog.Logger
}

// NewMiniZinc checks the model and data files and creates the work
// directory. Close removes it.
func NewMiniZinc(cfg MiniZincConfig, logger *slog.Logger) (*MiniZinc, error) {
	if cfg.Binary == "" {
		cfg.Binary = "minizinc"
	}
	if cfg.Model == "" {
		return nil, ErrNoModel
	}
	for _, f := range append([]string{cfg.Model}, cfg.Data...) {
		if _, err := os.Stat(f); err != nil {
			return nil, fmt.Errorf("minizinc input: %w", err)
		}
	}
	if cfg.WorkDir != "" {
		if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(cfg.WorkDir, "minizinc-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &MiniZinc{
		cfg:    cfg,
		dir:    dir,
		logger: logger.With("component", "minizinc"),
	}, nil
}

// Dir returns the work directory.
func (m *MiniZinc) Dir() string { return m.dir }

// Close removes the work directory.
func (m *MiniZinc) Close() error {
	return os.RemoveAll(m.dir)
}

// AddConstraint persists c for every later call.
func (m *MiniZinc) AddConstraint(c formula.Formula) error {
	m.constraints = append(m.constraints, c)
	return nil
}

// Solve runs minizinc on the model with the persisted constraints and local,
// bounded by timeout.
func (m *MiniZinc) Solve(ctx context.Context, local []formula.Formula, timeout time.Duration) (Result, error) {
	if err := m.writeConstraints(local); err != nil {
		return Result{}, err
	}
	args := m.Args(timeout)
	m.logger.Debug("running minizinc", "args", args, "local", len(local), "global", len(m.constraints))

	start := time.Now()
	cmd := exec.CommandContext(ctx, m.cfg.Binary, args...)
	cmd.Dir = m.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("minizinc: %w", ctx.Err())
	}
	res, parseErr := ParseStream(&stdout)
	res.Elapsed = elapsed
	if runErr != nil {
		te := &ToolError{Tool: "minizinc", Err: runErr, Stderr: strings.TrimSpace(stderr.String())}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			te.ExitCode = exitErr.ExitCode()
		}
		if parseErr != nil {
			te.Err = parseErr
		}
		return Result{}, te
	}
	if parseErr != nil {
		return Result{}, &ToolError{Tool: "minizinc", Err: parseErr, Stderr: strings.TrimSpace(stderr.String())}
	}
	m.logger.Debug("minizinc finished", "status", res.Status, "elapsed", elapsed)
	return res, nil
}

// Args returns the command line of one call.
func (m *MiniZinc) Args(timeout time.Duration) []string {
	args := []string{
		"--solver", m.cfg.Solver,
		"--json-stream",
		"--output-mode", "json",
		"--time-limit", strconv.FormatInt(timeLimit(timeout), 10),
		fmt.Sprintf("-O%d", m.cfg.OptimisationLevel),
	}
	if m.cfg.Cores > 1 {
		args = append(args, "-p", strconv.Itoa(m.cfg.Cores))
	}
	if m.cfg.FreeSearch {
		args = append(args, "-f")
	}
	args = append(args, m.cfg.Model)
	args = append(args, m.cfg.Data...)
	return append(args, filepath.Join(m.dir, ConstraintsFile))
}

// timeLimit converts timeout to the --time-limit value, rounding up: minizinc
// reads 0 as no limit.
func timeLimit(timeout time.Duration) int64 {
	return max(1, int64((timeout+time.Millisecond-1)/time.Millisecond))
}

func (m *MiniZinc) writeConstraints(local []formula.Formula) error {
	var b strings.Builder
	for _, c := range m.constraints {
		fmt.Fprintf(&b, "constraint %s;\n", c)
	}
	for _, c := range local {
		fmt.Fprintf(&b, "constraint %s;\n", c)
	}
	if err := os.WriteFile(filepath.Join(m.dir, ConstraintsFile), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write constraints: %w", err)
	}
	return nil
}

// streamMessage is one line of minizinc --json-stream output.
type streamMessage struct {
	Type   string `json:"type"`
	Output struct {
		JSON map[string]json.RawMessage `json:"json"`
	} `json:"output"`
	Status  string `json:"status"`
	What    string `json:"what"`
	Message string `json:"message"`
}

// ParseStream reads the JSON stream of one minizinc call. The last solution
// wins; keys starting with an underscore (_objective, _checker) are dropped.
// Error messages reported in the stream are returned as an error.
func ParseStream(r io.Reader) (Result, error) {
	var (
		res    Result
		status string
		errs   []string
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg streamMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrBadOutput, err)
		}
		switch msg.Type {
		case "solution":
			a := make(model.Assignment, len(msg.Output.JSON))
			for name, raw := range msg.Output.JSON {
				if strings.HasPrefix(name, "_") {
					continue
				}
				var v model.Value
				if err := json.Unmarshal(raw, &v); err != nil {
					return Result{}, fmt.Errorf("%w: variable %s: %v", ErrBadOutput, name, err)
				}
				a[name] = v
			}
			res.Assignment = a
		case "status":
			status = msg.Status
		case "error":
			errs = append(errs, strings.TrimSpace(msg.What+": "+msg.Message))
		}
	}
	if err := sc.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBadOutput, err)
	}
	if len(errs) > 0 || status == "ERROR" {
		return Result{}, fmt.Errorf("minizinc reported an error: %s", strings.Join(errs, "; "))
	}
	switch {
	case res.Assignment != nil:
		res.Status = Satisfied
	case status == "UNSATISFIABLE" || status == "UNSAT_OR_UNBOUNDED":
		res.Status = Unsatisfiable
	default:
		res.Status = Unknown
	}
	return res, nil
}

// solverInfo is one entry of minizinc --solvers-json.
type solverInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Tags     []string `json:"tags"`
	StdFlags []string `json:"stdFlags"`
}

// DetectCores returns the number of cores to give solver: twice the number
// of CPUs when the solver supports parallel search (-p), 1 otherwise.
func DetectCores(ctx context.Context, binary, solver string) (int, error) {
	if binary == "" {
		binary = "minizinc"
	}
	cmd := exec.CommandContext(ctx, binary, "--solvers-json")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		te := &ToolError{Tool: binary, Err: err, Stderr: strings.TrimSpace(stderr.String())}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			te.ExitCode = exitErr.ExitCode()
		}
		return 0, te
	}
	return coresFromSolvers(out, solver, runtime.NumCPU())
}

func coresFromSolvers(data []byte, solver string, cpus int) (int, error) {
	var infos []solverInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		return 0, fmt.Errorf("%w: solvers list: %v", ErrBadOutput, err)
	}
	for _, info := range infos {
		if !info.matches(solver) {
			continue
		}
		if slices.Contains(info.StdFlags, "-p") {
			return 2 * cpus, nil
		}
		return 1, nil
	}
	return 0, fmt.Errorf("minizinc solver %q not installed", solver)
}

func (s solverInfo) matches(name string) bool {
	if s.ID == name || strings.HasSuffix(s.ID, "."+name) || strings.EqualFold(s.Name, name) {
		return true
	}
	return slices.Contains(s.Tags, name)
}
