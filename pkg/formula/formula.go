// Package formula provides the constraint language shared by the combinators,
// the engines and the oracles: boolean combinations of integer comparisons
// over model variables.
//
// A Formula is plain data. It is rendered once, at the engine boundary, as a
// MiniZinc expression (String), and it can be evaluated directly against an
// assignment (Eval), which is what the tests and the in-process engine rely on.
package formula

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnbound is returned by Eval when a variable has no value in the environment.
var ErrUnbound = errors.New("unbound variable")

// ErrUnsupported is returned by Eval for terms that only the external engine
// can interpret (model functions such as card).
var ErrUnsupported = errors.New("unsupported term")

// Env resolves model variables to integers. Indices are 1-based.
type Env interface {
	Lookup(name string, idx ...int) (int, bool)
}

// A Formula is a boolean constraint over model variables.
type Formula interface {
	// String renders the formula as a MiniZinc expression.
	String() string
	// Eval evaluates the formula under env.
	Eval(env Env) (bool, error)
	isFormula()
}

// Bool is a constant formula.
type Bool bool

// True is the tautology. It is the neutral element of conjunctions.
const True = Bool(true)

// False is the contradiction.
const False = Bool(false)

func (b Bool) isFormula() {}

func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

func (b Bool) Eval(Env) (bool, error) { return bool(b), nil }

// And is a conjunction. An empty And is true.
type And []Formula

func (a And) isFormula() {}

func (a And) String() string {
	if len(a) == 0 {
		return True.String()
	}
	return join(a, ` /\ `)
}

func (a And) Eval(env Env) (bool, error) {
	for _, f := range a {
		ok, err := f.Eval(env)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Or is a disjunction. An empty Or is false.
type Or []Formula

func (o Or) isFormula() {}

func (o Or) String() string {
	if len(o) == 0 {
		return False.String()
	}
	return join(o, ` \/ `)
}

func (o Or) Eval(env Env) (bool, error) {
	for _, f := range o {
		ok, err := f.Eval(env)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func join(fs []Formula, sep string) string {
	if len(fs) == 1 {
		return fs[0].String()
	}
	strs := make([]string, len(fs))
	for i, f := range fs {
		strs[i] = f.String()
	}
	return "(" + strings.Join(strs, sep) + ")"
}

// Not negates its operand.
type Not struct {
	F Formula
}

func (n Not) isFormula() {}

func (n Not) String() string {
	return "not (" + n.F.String() + ")"
}

func (n Not) Eval(env Env) (bool, error) {
	ok, err := n.F.Eval(env)
	return !ok, err
}

// Compare is the atomic constraint `Left Op Right`.
type Compare struct {
	Left  Term
	Op    Op
	Right Term
}

func (c Compare) isFormula() {}

func (c Compare) String() string {
	return c.Left.String() + " " + c.Op.String() + " " + c.Right.String()
}

func (c Compare) Eval(env Env) (bool, error) {
	l, err := c.Left.eval(env)
	if err != nil {
		return false, err
	}
	r, err := c.Right.eval(env)
	if err != nil {
		return false, err
	}
	return c.Op.Holds(l, r), nil
}

// Conj builds a simplified conjunction: nested conjunctions are flattened,
// True operands are dropped and a False operand makes the whole formula False.
// Conj() is True.
func Conj(fs ...Formula) Formula {
	var res And
	for _, f := range fs {
		switch f := f.(type) {
		case nil:
		case Bool:
			if !f {
				return False
			}
		case And:
			res = append(res, f...)
		default:
			res = append(res, f)
		}
	}
	switch len(res) {
	case 0:
		return True
	case 1:
		return res[0]
	}
	return res
}

// Disj builds a simplified disjunction, the dual of Conj. Disj() is False.
func Disj(fs ...Formula) Formula {
	var res Or
	for _, f := range fs {
		switch f := f.(type) {
		case nil:
		case Bool:
			if f {
				return True
			}
		case Or:
			res = append(res, f...)
		default:
			res = append(res, f)
		}
	}
	switch len(res) {
	case 0:
		return False
	case 1:
		return res[0]
	}
	return res
}

// Negate returns the negation of f, folding it into constants, comparisons
// and double negations when possible.
func Negate(f Formula) Formula {
	switch f := f.(type) {
	case Bool:
		return !f
	case Not:
		return f.F
	case Compare:
		return Compare{Left: f.Left, Op: f.Op.Negate(), Right: f.Right}
	default:
		return Not{F: f}
	}
}

// Cmp builds the comparison `l op r`.
func Cmp(l Term, op Op, r Term) Formula {
	return Compare{Left: l, Op: op, Right: r}
}

// VarCmp compares the (possibly indexed) variable name[idx...] with a constant.
func VarCmp(name string, op Op, value int, idx ...int) Formula {
	return Compare{Left: Var(name, idx...), Op: op, Right: Int(value)}
}

// Vars returns the names of the variables referenced by f, in order of first
// appearance, without duplicates.
func Vars(f Formula) []string {
	var (
		names []string
		seen  = make(map[string]bool)
	)
	var visitTerm func(t Term)
	visitTerm = func(t Term) {
		switch t := t.(type) {
		case Ref:
			if !seen[t.Name] {
				seen[t.Name] = true
				names = append(names, t.Name)
			}
			for _, i := range t.Index {
				visitTerm(i)
			}
		case Call:
			for _, a := range t.Args {
				visitTerm(a)
			}
		}
	}
	var visit func(f Formula)
	visit = func(f Formula) {
		switch f := f.(type) {
		case And:
			for _, sub := range f {
				visit(sub)
			}
		case Or:
			for _, sub := range f {
				visit(sub)
			}
		case Not:
			visit(f.F)
		case Compare:
			visitTerm(f.Left)
			visitTerm(f.Right)
		}
	}
	visit(f)
	return names
}

// Op is a comparison operator.
type Op uint8

const (
	Lt Op = iota
	Le
	Eq
	Ne
	Ge
	Gt
)

func (o Op) String() string {
	switch o {
	case Lt:
		return "<"
	case Le:
		return "<="
	case Eq:
		return "="
	case Ne:
		return "!="
	case Ge:
		return ">="
	case Gt:
		return ">"
	default:
		panic(fmt.Sprintf("invalid operator %d", uint8(o)))
	}
}

// Negate returns the operator o' such that `a o' b` iff not `a o b`.
func (o Op) Negate() Op {
	switch o {
	case Lt:
		return Ge
	case Le:
		return Gt
	case Eq:
		return Ne
	case Ne:
		return Eq
	case Ge:
		return Lt
	case Gt:
		return Le
	default:
		panic(fmt.Sprintf("invalid operator %d", uint8(o)))
	}
}

// Holds reports whether `a o b`.
func (o Op) Holds(a, b int) bool {
	switch o {
	case Lt:
		return a < b
	case Le:
		return a <= b
	case Eq:
		return a == b
	case Ne:
		return a != b
	case Ge:
		return a >= b
	case Gt:
		return a > b
	default:
		panic(fmt.Sprintf("invalid operator %d", uint8(o)))
	}
}
