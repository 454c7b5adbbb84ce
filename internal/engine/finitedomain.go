package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/inter"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
	"gopkg.in/yaml.v3"

	"github.com/me/mowctt/pkg/formula"
	"github.com/me/mowctt/pkg/model"
)

// pollInterval is how often a running SAT search is checked for completion.
const pollInterval = 5 * time.Millisecond

// IntVar declares an integer variable, or an array of Size variables, with
// domain [Min, Max].
type IntVar struct {
	Name string `yaml:"name"`
	Size int    `yaml:"size,omitempty"`
	Min  int    `yaml:"min"`
	Max  int    `yaml:"max"`
}

// FiniteDomainModel is a constraint model over finite integer domains.
type FiniteDomainModel struct {
	Variables   []IntVar
	Params      map[string]model.Value
	Constraints []formula.Formula
}

type fdFile struct {
	Variables   []IntVar       `yaml:"variables"`
	Params      map[string]any `yaml:"params"`
	Constraints []string       `yaml:"constraints"`
}

// LoadFiniteDomainModel reads a model from a YAML file.
func LoadFiniteDomainModel(path string) (*FiniteDomainModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	m, err := ParseFiniteDomainModel(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseFiniteDomainModel decodes a YAML model:
//
//	variables:
//	  - {name: x, min: 1, max: 4}
//	  - {name: objs, size: 2, min: 0, max: 10}
//	params:
//	  cost: [3, 1, 4, 1]
//	constraints:
//	  - "objs[1] = cost[x]"
func ParseFiniteDomainModel(data []byte) (*FiniteDomainModel, error) {
	var f fdFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	m := &FiniteDomainModel{Variables: f.Variables, Params: make(map[string]model.Value, len(f.Params))}
	for name, raw := range f.Params {
		v, err := paramValue(raw)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", name, err)
		}
		m.Params[name] = v
	}
	for i, src := range f.Constraints {
		c, err := formula.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("constraint %d: %w", i+1, err)
		}
		m.Constraints = append(m.Constraints, c)
	}
	return m, nil
}

func paramValue(raw any) (model.Value, error) {
	switch v := raw.(type) {
	case int:
		return model.IntValue(v), nil
	case bool:
		return model.BoolValue(v), nil
	case string:
		return model.StringValue(v), nil
	case []any:
		elems := make([]model.Value, len(v))
		for i, e := range v {
			ev, err := paramValue(e)
			if err != nil {
				return model.Value{}, err
			}
			elems[i] = ev
		}
		return model.ArrayValue(elems...), nil
	default:
		return model.Value{}, fmt.Errorf("unsupported value %v (%T)", raw, raw)
	}
}

// fdVar holds the one-hot literals of a variable: lits[e][k] is true iff
// element e takes the value min+k.
type fdVar struct {
	decl IntVar
	lits [][]z.Lit
}

// FiniteDomain is an in-process engine solving finite-domain models with
// the gini SAT solver. Every integer variable is one-hot encoded, formulas
// are compiled to a circuit, global constraints become clauses and local
// constraints are assumed for a single solve.
type FiniteDomain struct {
	circuit *logic.C
	marks   []int8 // circuit nodes already added to sat
	emitted int
	sat     *gini.Gini
	vars    map[string]*fdVar
	order   []string
	params  map[string]model.Value
	logger  *slog.Logger
}

// NewFiniteDomain encodes m.
func NewFiniteDomain(m *FiniteDomainModel, logger *slog.Logger) (*FiniteDomain, error) {
	fd := &FiniteDomain{
		circuit: logic.NewC(),
		sat:     gini.New(),
		vars:    make(map[string]*fdVar),
		params:  m.Params,
		logger:  logger.With("component", "finite-domain"),
	}
	fd.toCnf()
	for _, d := range m.Variables {
		if err := fd.declare(d); err != nil {
			return nil, err
		}
	}
	for _, c := range m.Constraints {
		if err := fd.AddConstraint(c); err != nil {
			return nil, err
		}
	}
	return fd, nil
}

func (fd *FiniteDomain) declare(d IntVar) error {
	if d.Name == "" {
		return fmt.Errorf("variable without a name")
	}
	if _, dup := fd.vars[d.Name]; dup {
		return fmt.Errorf("variable %s declared twice", d.Name)
	}
	if _, dup := fd.params[d.Name]; dup {
		return fmt.Errorf("variable %s is also a param", d.Name)
	}
	if d.Max < d.Min {
		return fmt.Errorf("variable %s: empty domain [%d, %d]", d.Name, d.Min, d.Max)
	}
	n := max(d.Size, 1)
	v := &fdVar{decl: d, lits: make([][]z.Lit, n)}
	for e := range v.lits {
		lits := make([]z.Lit, d.Max-d.Min+1)
		for k := range lits {
			lits[k] = fd.circuit.Lit()
		}
		v.lits[e] = lits
		fd.exactlyOne(lits)
	}
	fd.vars[d.Name] = v
	fd.order = append(fd.order, d.Name)
	return nil
}

func (fd *FiniteDomain) exactlyOne(lits []z.Lit) {
	for _, m := range lits {
		fd.sat.Add(m)
	}
	fd.sat.Add(0)
	for i := range lits {
		for j := i + 1; j < len(lits); j++ {
			fd.sat.Add(lits[i].Not())
			fd.sat.Add(lits[j].Not())
			fd.sat.Add(0)
		}
	}
}

// AddConstraint adds c as a clause holding in every later solve.
func (fd *FiniteDomain) AddConstraint(c formula.Formula) error {
	m, err := fd.compile(c)
	if err != nil {
		return err
	}
	fd.toCnf(m)
	fd.sat.Add(m)
	fd.sat.Add(0)
	return nil
}

// Solve searches for an assignment satisfying the model, the added
// constraints and local, within timeout.
func (fd *FiniteDomain) Solve(ctx context.Context, local []formula.Formula, timeout time.Duration) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := time.Now()
	assumed := make([]z.Lit, 0, len(local))
	for _, c := range local {
		m, err := fd.compile(c)
		if err != nil {
			return Result{}, err
		}
		assumed = append(assumed, m)
	}
	fd.toCnf(assumed...)
	fd.sat.Assume(assumed...)

	res, err := wait(ctx, fd.sat.GoSolve(), timeout)
	if err != nil {
		return Result{}, err
	}
	out := Result{Elapsed: time.Since(start)}
	switch res {
	case 1:
		out.Status = Satisfied
		out.Assignment = fd.assignment()
	case -1:
		out.Status = Unsatisfiable
	default:
		out.Status = Unknown
	}
	fd.logger.Debug("solve finished", "status", out.Status, "local", len(local), "elapsed", out.Elapsed)
	return out, nil
}

// toCnf adds the clauses of the circuit nodes under roots that earlier calls
// have not added yet.
func (fd *FiniteDomain) toCnf(roots ...z.Lit) {
	var n int
	fd.marks, n = fd.circuit.CnfSince(fd.sat, fd.marks, roots...)
	fd.emitted += n
}

// wait polls a running search until it finishes, the timeout expires
// (result 0) or ctx is cancelled.
func wait(ctx context.Context, s inter.Solve, timeout time.Duration) (int, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if res, done := s.Test(); done {
			return res, nil
		}
		select {
		case <-ctx.Done():
			s.Stop()
			return 0, ctx.Err()
		case <-deadline.C:
			return s.Stop(), nil
		case <-ticker.C:
		}
	}
}

func (fd *FiniteDomain) assignment() model.Assignment {
	a := make(model.Assignment, len(fd.vars))
	for _, name := range fd.order {
		v := fd.vars[name]
		vals := make([]int, len(v.lits))
		for e, lits := range v.lits {
			for k, m := range lits {
				if fd.sat.Value(m) {
					vals[e] = v.decl.Min + k
					break
				}
			}
		}
		if v.decl.Size == 0 {
			a[name] = model.IntValue(vals[0])
		} else {
			a[name] = model.IntArray(vals...)
		}
	}
	return a
}

// alt is one possible value of a term together with the condition under
// which the term takes it. The alternatives of a term are mutually
// exclusive.
type alt struct {
	cond z.Lit
	val  int
}

func (fd *FiniteDomain) compile(f formula.Formula) (z.Lit, error) {
	c := fd.circuit
	switch f := f.(type) {
	case formula.Bool:
		if f {
			return c.T, nil
		}
		return c.F, nil
	case formula.And:
		ms, err := fd.compileAll(f)
		if err != nil {
			return z.LitNull, err
		}
		return c.Ands(ms...), nil
	case formula.Or:
		ms, err := fd.compileAll(f)
		if err != nil {
			return z.LitNull, err
		}
		return c.Ors(ms...), nil
	case formula.Not:
		m, err := fd.compile(f.F)
		if err != nil {
			return z.LitNull, err
		}
		return m.Not(), nil
	case formula.Compare:
		left, err := fd.term(f.Left)
		if err != nil {
			return z.LitNull, err
		}
		right, err := fd.term(f.Right)
		if err != nil {
			return z.LitNull, err
		}
		var ms []z.Lit
		for _, l := range left {
			for _, r := range right {
				if f.Op.Holds(l.val, r.val) {
					ms = append(ms, c.And(l.cond, r.cond))
				}
			}
		}
		return c.Ors(ms...), nil
	default:
		return z.LitNull, fmt.Errorf("%w: %s", ErrUnsupported, f)
	}
}

func (fd *FiniteDomain) compileAll(fs []formula.Formula) ([]z.Lit, error) {
	ms := make([]z.Lit, len(fs))
	for i, f := range fs {
		m, err := fd.compile(f)
		if err != nil {
			return nil, err
		}
		ms[i] = m
	}
	return ms, nil
}

func (fd *FiniteDomain) term(t formula.Term) ([]alt, error) {
	switch t := t.(type) {
	case formula.Int:
		return []alt{{cond: fd.circuit.T, val: int(t)}}, nil
	case formula.Ref:
		return fd.ref(t)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
}

// ref enumerates the values of a possibly indexed reference. Index terms may
// themselves be variables; an out-of-range index contributes no alternative.
func (fd *FiniteDomain) ref(r formula.Ref) ([]alt, error) {
	idx := [][]alt{{}}
	for _, it := range r.Index {
		alts, err := fd.term(it)
		if err != nil {
			return nil, err
		}
		var next [][]alt
		for _, prefix := range idx {
			for _, a := range alts {
				next = append(next, append(append([]alt(nil), prefix...), a))
			}
		}
		idx = next
	}

	if v, ok := fd.vars[r.Name]; ok {
		return fd.varRef(v, r, idx)
	}
	p, ok := fd.params[r.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVar, r.Name)
	}
	var out []alt
	for _, combo := range idx {
		cond, at := fd.conds(combo)
		e, ok := p.At(at...)
		if !ok {
			continue
		}
		n, ok := e.Int()
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an integer", ErrUnsupported, r)
		}
		out = append(out, alt{cond: cond, val: n})
	}
	return out, nil
}

func (fd *FiniteDomain) varRef(v *fdVar, r formula.Ref, idx [][]alt) ([]alt, error) {
	scalar := v.decl.Size == 0
	if scalar != (len(r.Index) == 0) || len(r.Index) > 1 {
		return nil, fmt.Errorf("%w: %s does not match the declaration of %s", ErrUnsupported, r, r.Name)
	}
	var out []alt
	for _, combo := range idx {
		cond, at := fd.conds(combo)
		e := 0
		if !scalar {
			if at[0] < 1 || at[0] > v.decl.Size {
				continue
			}
			e = at[0] - 1
		}
		for k, m := range v.lits[e] {
			out = append(out, alt{cond: fd.circuit.And(cond, m), val: v.decl.Min + k})
		}
	}
	return out, nil
}

func (fd *FiniteDomain) conds(combo []alt) (z.Lit, []int) {
	ms := make([]z.Lit, len(combo))
	at := make([]int, len(combo))
	for i, a := range combo {
		ms[i] = a.cond
		at[i] = a.val
	}
	return fd.circuit.Ands(ms...), at
}

// Variables returns the declared variable names in sorted order.
func (fd *FiniteDomain) Variables() []string {
	names := append([]string(nil), fd.order...)
	sort.Strings(names)
	return names
}
