package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/mowctt/internal/oracle"
	"github.com/me/mowctt/pkg/model"
)

// Algorithms.
const (
	AlgorithmOSolveMO       = "osolve-mo"
	AlgorithmOSolveMOThenUF = "osolve-mo-then-uf"
	AlgorithmCUSolveMO      = "cusolve-mo"
	AlgorithmUSolveMO       = "usolve-mo"
)

// Engines.
const (
	EngineMiniZinc     = "minizinc"
	EngineFiniteDomain = "finitedomain"
)

// Oracles.
const (
	OracleWCTT = "wctt"
	OracleExpr = "expr"
)

// CPStrategyFreeSearch lets the engine ignore the search annotations of the
// model. Any other CP strategy name is informative only.
const CPStrategyFreeSearch = "free_search"

// Algorithms lists the algorithm names accepted by Validate.
var Algorithms = []string{AlgorithmOSolveMO, AlgorithmOSolveMOThenUF, AlgorithmCUSolveMO, AlgorithmUSolveMO}

// ServerConfig holds configuration for the run API server.
type ServerConfig struct {
	Addr      string // Listen address (default ":8080")
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: text, json
	DBPath    string // SQLite database path (default ~/.mowctt/mowctt.db, ":memory:" for testing)
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// RunConfig describes one top-level run. It is read from YAML and
// overridden by command line flags.
type RunConfig struct {
	// Instance names the data file <dzn_dir>/<instance>.dzn and, minus its
	// last "_" suffix, the topology <topology_dir>/<name>.csv.
	Instance  string        `yaml:"instance"`
	Algorithm string        `yaml:"algorithm"`
	Timeout   time.Duration `yaml:"timeout"`
	TmpDir    string        `yaml:"tmp_dir"`

	// Engine
	Engine               string `yaml:"engine"`
	MiniZinc             string `yaml:"minizinc"` // binary
	ModelMZN             string `yaml:"model_mzn"`
	ObjectivesDZN        string `yaml:"objectives_dzn"`
	DZNDir               string `yaml:"dzn_dir"`
	Solver               string `yaml:"solver"`
	CPStrategy           string `yaml:"cp_strategy"`
	FZNOptimisationLevel int    `yaml:"fzn_optimisation_level"`
	Cores                int    `yaml:"cores"` // 0 detects them from the solver
	FDModel              string `yaml:"fd_model"`
	Minimize             []bool `yaml:"minimize"`
	RefPoint             []int  `yaml:"ref_point"`
	Objectives           string `yaml:"objectives"` // name of the objective array

	// Oracle
	Oracle           string   `yaml:"oracle"`
	ConflictStrategy string   `yaml:"conflict_strategy"`
	Combinator       string   `yaml:"combinator"`
	TopologyDir      string   `yaml:"topology_dir"`
	Bin              string   `yaml:"bin"`
	Java             string   `yaml:"java"`
	Precision        int      `yaml:"precision"`
	Predicate        string   `yaml:"predicate"`
	Library          []string `yaml:"library"`
	DecisionVars     []string `yaml:"decision_vars"`
}

// DefaultRunConfig returns the defaults applied before a config file is read.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Algorithm:            AlgorithmOSolveMO,
		Timeout:              5 * time.Minute,
		Engine:               EngineMiniZinc,
		MiniZinc:             "minizinc",
		CPStrategy:           "free",
		FZNOptimisationLevel: 1,
		Objectives:           "objs",
		Oracle:               OracleWCTT,
		ConflictStrategy:     oracle.NotAssignment,
		Combinator:           oracle.CombineOr,
		Java:                 "java",
		Precision:            1,
		DecisionVars:         []string{"services2locs"},
	}
}

// LoadRunConfig reads a YAML run config on top of the defaults.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Normalize trims trailing slashes from directories and derives the
// instance name of a finite-domain model from its file name.
func (c *RunConfig) Normalize() {
	for _, dir := range []*string{&c.DZNDir, &c.TopologyDir, &c.TmpDir, &c.Bin} {
		if len(*dir) > 1 {
			*dir = strings.TrimRight(*dir, "/")
		}
	}
	if c.Instance == "" && c.Engine == EngineFiniteDomain && c.FDModel != "" {
		c.Instance = strings.TrimSuffix(filepath.Base(c.FDModel), filepath.Ext(c.FDModel))
	}
}

// UsesOracle reports whether the algorithm checks solutions.
func (c *RunConfig) UsesOracle() bool {
	return c.Algorithm != AlgorithmOSolveMO
}

// UsesConflicts reports whether the algorithm learns from oracle conflicts,
// so that the conflict strategy is part of what the run computes.
func (c *RunConfig) UsesConflicts() bool {
	return c.Algorithm == AlgorithmCUSolveMO || c.Algorithm == AlgorithmUSolveMO
}

// Validate checks the config and returns every problem found.
func (c *RunConfig) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Instance == "" {
		add("instance is required")
	}
	if !contains(Algorithms, c.Algorithm) {
		add("unknown algorithm %q (expected one of %s)", c.Algorithm, strings.Join(Algorithms, ", "))
	}
	if c.Timeout <= 0 {
		add("timeout must be positive, got %s", c.Timeout)
	}
	if c.Objectives == "" {
		add("objectives is required")
	}

	switch c.Engine {
	case EngineMiniZinc:
		if c.ModelMZN == "" {
			add("model_mzn is required by the minizinc engine")
		}
		if c.ObjectivesDZN == "" {
			add("objectives_dzn is required by the minizinc engine")
		}
		if c.DZNDir == "" {
			add("dzn_dir is required by the minizinc engine")
		}
		if c.Solver == "" {
			add("solver is required by the minizinc engine")
		}
		if c.FZNOptimisationLevel < 0 || c.FZNOptimisationLevel > 5 {
			add("fzn_optimisation_level must be between 0 and 5, got %d", c.FZNOptimisationLevel)
		}
	case EngineFiniteDomain:
		if c.FDModel == "" {
			add("fd_model is required by the finitedomain engine")
		}
		if len(c.Minimize) == 0 {
			add("minimize is required by the finitedomain engine")
		}
		if c.RefPoint != nil && len(c.RefPoint) != len(c.Minimize) {
			add("ref_point has %d coordinates, minimize has %d", len(c.RefPoint), len(c.Minimize))
		}
	default:
		add("unknown engine %q (expected %s or %s)", c.Engine, EngineMiniZinc, EngineFiniteDomain)
	}
	if c.Cores < 0 {
		add("cores must not be negative")
	}

	if c.UsesOracle() {
		switch c.Oracle {
		case OracleWCTT:
			if c.DZNDir == "" || c.TopologyDir == "" || c.Bin == "" {
				add("the wctt oracle needs dzn_dir, topology_dir and bin")
			}
		case OracleExpr:
			if c.Predicate == "" {
				add("predicate is required by the expr oracle")
			}
		default:
			add("unknown oracle %q (expected %s or %s)", c.Oracle, OracleWCTT, OracleExpr)
		}
	}
	if c.UsesConflicts() {
		if !oracle.ValidStrategy(c.ConflictStrategy) {
			add("unknown conflict strategy %q (expected one of %s)", c.ConflictStrategy, strings.Join(oracle.Strategies(), ", "))
		} else if !oracle.IsGlobal(c.ConflictStrategy) && c.Combinator != oracle.CombineAnd && c.Combinator != oracle.CombineOr {
			add("unknown combinator %q (expected %s or %s)", c.Combinator, oracle.CombineAnd, oracle.CombineOr)
		}
		if c.Oracle == OracleExpr && !oracle.IsGlobal(c.ConflictStrategy) {
			add("conflict strategy %s needs the wctt oracle", c.ConflictStrategy)
		}
	}
	return errors.Join(errs...)
}

// DataFile returns the instance data file.
func (c *RunConfig) DataFile() string {
	return filepath.Join(c.DZNDir, c.Instance+".dzn")
}

// TopologyFile returns the network topology of the instance: instances
// "<topology>_<n>" share the topology file "<topology>.csv".
func (c *RunConfig) TopologyFile() string {
	name := c.Instance
	if i := strings.LastIndex(name, "_"); i >= 0 {
		name = name[:i]
	}
	return filepath.Join(c.TopologyDir, name+".csv")
}

// AnalyserJar returns the path of the Pegase timing analyser.
func (c *RunConfig) AnalyserJar() string {
	return filepath.Join(c.Bin, "pegase-timing-analysis.jar")
}

// Converter returns the path of the solution to topology converter.
func (c *RunConfig) Converter() string {
	return filepath.Join(c.Bin, "dzn2topology")
}

// FreeSearch reports whether the engine may ignore the model's search
// annotations.
func (c *RunConfig) FreeSearch() bool {
	return c.CPStrategy == CPStrategyFreeSearch
}

// Key identifies what the run computes. The conflict strategy only counts
// for the algorithms that learn from conflicts; Cores must be resolved.
func (c *RunConfig) Key() model.RunKey {
	k := model.RunKey{
		Instance:        c.Instance,
		Algorithm:       c.Algorithm,
		Solver:          c.Solver,
		CPStrategy:      c.CPStrategy,
		FZNOptimisation: c.FZNOptimisationLevel,
		Cores:           c.Cores,
		Timeout:         c.Timeout,
	}
	if c.Engine == EngineFiniteDomain {
		k.Solver = EngineFiniteDomain
	}
	if c.UsesConflicts() {
		k.ConflictStrategy = c.ConflictStrategy
		k.Combinator = c.Combinator
		if oracle.IsGlobal(c.ConflictStrategy) && c.Combinator != oracle.CombineAnd && c.Combinator != oracle.CombineOr {
			k.Combinator = oracle.CombineAnd
		}
	}
	return k
}

// ResolveDBPath returns path, or ~/.mowctt/mowctt.db when it is empty,
// creating the directory.
func ResolveDBPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".mowctt")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	return filepath.Join(dir, "mowctt.db"), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
