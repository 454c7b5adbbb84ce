package formula

import (
	"fmt"
	"strconv"
	"strings"
)

// A Term is an integer-valued expression appearing in a comparison.
type Term interface {
	String() string
	eval(env Env) (int, error)
}

// Int is an integer constant.
type Int int

func (i Int) String() string { return strconv.Itoa(int(i)) }

func (i Int) eval(Env) (int, error) { return int(i), nil }

// Ref is a model variable, possibly an array access such as services2locs[3]
// or shortest_path[services2locs[1], services2locs[4]].
type Ref struct {
	Name  string
	Index []Term
}

// Var returns a reference to name indexed by constant indices.
func Var(name string, idx ...int) Ref {
	r := Ref{Name: name}
	for _, i := range idx {
		r.Index = append(r.Index, Int(i))
	}
	return r
}

func (r Ref) String() string {
	if len(r.Index) == 0 {
		return r.Name
	}
	idx := make([]string, len(r.Index))
	for i, t := range r.Index {
		idx[i] = t.String()
	}
	return r.Name + "[" + strings.Join(idx, ", ") + "]"
}

func (r Ref) eval(env Env) (int, error) {
	idx := make([]int, len(r.Index))
	for i, t := range r.Index {
		v, err := t.eval(env)
		if err != nil {
			return 0, err
		}
		idx[i] = v
	}
	v, ok := env.Lookup(r.Name, idx...)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnbound, r)
	}
	return v, nil
}

// Call applies a model function, e.g. card(shortest_path[a, b]). Calls are
// rendered for the external engine but cannot be evaluated locally.
type Call struct {
	Fn   string
	Args []Term
}

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return c.Fn + "(" + strings.Join(args, ", ") + ")"
}

func (c Call) eval(Env) (int, error) {
	return 0, fmt.Errorf("%w: %s", ErrUnsupported, c)
}
