package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind is the type of a Value.
type Kind uint8

const (
	KindInt Kind = iota
	KindBool
	KindString
	KindSet
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindSet:
		return "set"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Value is a MiniZinc value as found in data files and engine output.
// Arrays of arrays are row-major multi-dimensional arrays.
type Value struct {
	kind  Kind
	i     int
	s     string
	elems []Value // array elements, or set members as ints
}

// IntValue returns an integer value.
func IntValue(i int) Value { return Value{kind: KindInt, i: i} }

// BoolValue returns a boolean value.
func BoolValue(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.i = 1
	}
	return v
}

// StringValue returns a string value.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// SetValue returns a set of integers. Members are sorted and deduplicated.
func SetValue(members ...int) Value {
	ms := append([]int(nil), members...)
	sort.Ints(ms)
	v := Value{kind: KindSet}
	for i, m := range ms {
		if i > 0 && ms[i-1] == m {
			continue
		}
		v.elems = append(v.elems, IntValue(m))
	}
	return v
}

// ArrayValue returns an array of the given elements.
func ArrayValue(elems ...Value) Value {
	return Value{kind: KindArray, elems: elems}
}

// IntArray returns a one-dimensional array of integers.
func IntArray(xs ...int) Value {
	elems := make([]Value, len(xs))
	for i, x := range xs {
		elems[i] = IntValue(x)
	}
	return ArrayValue(elems...)
}

// Kind returns the type of v.
func (v Value) Kind() Kind { return v.kind }

// Int returns the integer held by v. Booleans are 0 or 1.
func (v Value) Int() (int, bool) {
	if v.kind != KindInt && v.kind != KindBool {
		return 0, false
	}
	return v.i, true
}

// Str returns the string held by v.
func (v Value) Str() (string, bool) {
	return v.s, v.kind == KindString
}

// Len returns the number of elements of an array or members of a set.
func (v Value) Len() int { return len(v.elems) }

// Elem returns the i-th element of an array, 0-based.
func (v Value) Elem(i int) Value { return v.elems[i] }

// Members returns the members of a set.
func (v Value) Members() []int {
	ms := make([]int, len(v.elems))
	for i, e := range v.elems {
		ms[i] = e.i
	}
	return ms
}

// At follows 1-based indices through nested arrays.
func (v Value) At(idx ...int) (Value, bool) {
	cur := v
	for _, i := range idx {
		if cur.kind != KindArray || i < 1 || i > len(cur.elems) {
			return Value{}, false
		}
		cur = cur.elems[i-1]
	}
	return cur, true
}

// Ints returns the elements of a one-dimensional integer array.
func (v Value) Ints() ([]int, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	xs := make([]int, len(v.elems))
	for i, e := range v.elems {
		n, ok := e.Int()
		if !ok {
			return nil, false
		}
		xs[i] = n
	}
	return xs, true
}

// Strings returns the elements of a one-dimensional string array.
func (v Value) Strings() ([]string, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	xs := make([]string, len(v.elems))
	for i, e := range v.elems {
		s, ok := e.Str()
		if !ok {
			return nil, false
		}
		xs[i] = s
	}
	return xs, true
}

// Dims returns the dimensions of a rectangular array, outermost first.
func (v Value) Dims() []int {
	var dims []int
	for cur := v; cur.kind == KindArray; {
		dims = append(dims, len(cur.elems))
		if len(cur.elems) == 0 {
			break
		}
		cur = cur.elems[0]
	}
	return dims
}

// Equal reports whether v and w hold the same value.
func (v Value) Equal(w Value) bool {
	if v.kind != w.kind || v.i != w.i || v.s != w.s || len(v.elems) != len(w.elems) {
		return false
	}
	for i := range v.elems {
		if !v.elems[i].Equal(w.elems[i]) {
			return false
		}
	}
	return true
}

// DZN renders v in MiniZinc data syntax. Two-dimensional arrays use the
// `[| ... |]` notation; deeper nesting is not representable as a literal.
func (v Value) DZN() (string, error) {
	switch v.kind {
	case KindInt:
		return strconv.Itoa(v.i), nil
	case KindBool:
		return strconv.FormatBool(v.i != 0), nil
	case KindString:
		return strconv.Quote(v.s), nil
	case KindSet:
		ms := v.Members()
		strs := make([]string, len(ms))
		for i, m := range ms {
			strs[i] = strconv.Itoa(m)
		}
		return "{" + strings.Join(strs, ", ") + "}", nil
	case KindArray:
		dims := v.Dims()
		switch len(dims) {
		case 1:
			return v.dznRow()
		case 2:
			var b strings.Builder
			b.WriteString("[|")
			for i, row := range v.elems {
				if row.kind != KindArray || len(row.elems) != dims[1] {
					return "", fmt.Errorf("ragged 2d array")
				}
				if i > 0 {
					b.WriteString(" |")
				}
				s, err := row.dznRow()
				if err != nil {
					return "", err
				}
				b.WriteString(" " + strings.TrimSuffix(strings.TrimPrefix(s, "["), "]"))
			}
			b.WriteString(" |]")
			return b.String(), nil
		default:
			return "", fmt.Errorf("cannot write %d-dimensional array literal", len(dims))
		}
	}
	return "", fmt.Errorf("unknown value kind %d", v.kind)
}

func (v Value) dznRow() (string, error) {
	strs := make([]string, len(v.elems))
	for i, e := range v.elems {
		if e.kind == KindArray {
			return "", fmt.Errorf("unexpected nested array")
		}
		s, err := e.DZN()
		if err != nil {
			return "", err
		}
		strs[i] = s
	}
	return "[" + strings.Join(strs, ", ") + "]", nil
}

func (v Value) String() string {
	s, err := v.DZN()
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return s
}

// MarshalJSON encodes v the way MiniZinc's JSON output does.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return json.Marshal(v.i)
	case KindBool:
		return json.Marshal(v.i != 0)
	case KindString:
		return json.Marshal(v.s)
	case KindSet:
		return json.Marshal(map[string][]int{"set": v.Members()})
	case KindArray:
		return json.Marshal(v.elems)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON decodes MiniZinc's JSON output: numbers, booleans, strings,
// arrays, sets as {"set": [...]} (members or [lo, hi] ranges) and enum
// members as {"e": name}.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch data[0] {
	case '[':
		var elems []Value
		if err := json.Unmarshal(data, &elems); err != nil {
			return err
		}
		*v = ArrayValue(elems...)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
		return nil
	case '{':
		var obj struct {
			Set []json.RawMessage `json:"set"`
			E   *string           `json:"e"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if obj.E != nil {
			*v = StringValue(*obj.E)
			return nil
		}
		var members []int
		for _, raw := range obj.Set {
			var n int
			if err := json.Unmarshal(raw, &n); err == nil {
				members = append(members, n)
				continue
			}
			var rng [2]int
			if err := json.Unmarshal(raw, &rng); err != nil {
				return fmt.Errorf("invalid set member %s", raw)
			}
			for m := rng[0]; m <= rng[1]; m++ {
				members = append(members, m)
			}
		}
		*v = SetValue(members...)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("unsupported value %s", data)
	}
	*v = IntValue(n)
	return nil
}
