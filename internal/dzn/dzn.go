// Package dzn reads and writes MiniZinc data files.
//
// The reader understands the subset of the DZN language produced by the
// instance generators: integer, boolean and string literals, integer sets
// (`{1, 2}` or `1..5`), one-dimensional arrays, two-dimensional arrays in
// `[| ... |]` notation, `array1d`/`array2d` coercions and `%` comments.
package dzn

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/scanner"

	"github.com/me/mowctt/pkg/model"
)

// File is the content of a data file. Names keeps the declaration order so
// that a file can be written back unchanged.
type File struct {
	Names  []string
	Values map[string]model.Value
}

// New returns an empty data file.
func New() *File {
	return &File{Values: make(map[string]model.Value)}
}

// ReadFile parses the data file at path.
func ReadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	f, err := Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse reads a data file.
func Parse(r io.Reader) (*File, error) {
	p := &parser{}
	p.s.Init(r)
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanStrings
	p.s.Error = func(*scanner.Scanner, string) {}
	p.next()

	f := New()
	for p.tok != scanner.EOF {
		if p.tok != scanner.Ident {
			return nil, p.errorf("expected identifier, found %q", p.text)
		}
		name := p.text
		p.next()
		if err := p.expect('='); err != nil {
			return nil, err
		}
		v, err := p.value()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := p.expect(';'); err != nil {
			return nil, err
		}
		f.Set(name, v)
	}
	return f, nil
}

// Set assigns name, appending it to Names the first time.
func (f *File) Set(name string, v model.Value) {
	if _, ok := f.Values[name]; !ok {
		f.Names = append(f.Names, name)
	}
	f.Values[name] = v
}

// Get returns the value of name.
func (f *File) Get(name string) (model.Value, bool) {
	v, ok := f.Values[name]
	return v, ok
}

// Ints returns the one-dimensional integer array name.
func (f *File) Ints(name string) ([]int, error) {
	v, ok := f.Values[name]
	if !ok {
		return nil, fmt.Errorf("missing parameter %q", name)
	}
	xs, ok := v.Ints()
	if !ok {
		return nil, fmt.Errorf("parameter %q is not an integer array", name)
	}
	return xs, nil
}

// Bools returns the one-dimensional boolean array name.
func (f *File) Bools(name string) ([]bool, error) {
	v, ok := f.Values[name]
	if !ok {
		return nil, fmt.Errorf("missing parameter %q", name)
	}
	if v.Kind() != model.KindArray {
		return nil, fmt.Errorf("parameter %q is not a boolean array", name)
	}
	bs := make([]bool, v.Len())
	for i := range bs {
		e := v.Elem(i)
		if e.Kind() != model.KindBool {
			return nil, fmt.Errorf("parameter %q is not a boolean array", name)
		}
		n, _ := e.Int()
		bs[i] = n != 0
	}
	return bs, nil
}

// Strings returns the one-dimensional string array name.
func (f *File) Strings(name string) ([]string, error) {
	v, ok := f.Values[name]
	if !ok {
		return nil, fmt.Errorf("missing parameter %q", name)
	}
	xs, ok := v.Strings()
	if !ok {
		return nil, fmt.Errorf("parameter %q is not a string array", name)
	}
	return xs, nil
}

// Matrix returns the two-dimensional integer array name as rows.
func (f *File) Matrix(name string) ([][]int, error) {
	v, ok := f.Values[name]
	if !ok {
		return nil, fmt.Errorf("missing parameter %q", name)
	}
	if len(v.Dims()) != 2 {
		return nil, fmt.Errorf("parameter %q is not a two-dimensional array", name)
	}
	rows := make([][]int, v.Len())
	for i := range rows {
		row, ok := v.Elem(i).Ints()
		if !ok {
			return nil, fmt.Errorf("parameter %q is not an integer matrix", name)
		}
		rows[i] = row
	}
	return rows, nil
}

// WriteTo writes every assignment on its own line, in declaration order.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, name := range f.Names {
		s, err := f.Values[name].DZN()
		if err != nil {
			return total, fmt.Errorf("%s: %w", name, err)
		}
		n, err := fmt.Fprintf(w, "%s = %s;\n", name, s)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteFile writes f to path.
func (f *File) WriteFile(path string) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.WriteTo(fh); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

type parser struct {
	s    scanner.Scanner
	tok  rune
	text string
}

// next advances to the next token, skipping `%` comments.
func (p *parser) next() {
	for {
		p.tok = p.s.Scan()
		p.text = p.s.TokenText()
		if p.tok != '%' {
			return
		}
		for ch := p.s.Next(); ch != '\n' && ch != scanner.EOF; ch = p.s.Next() {
		}
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("at %s: %s", p.s.Position, fmt.Sprintf(format, args...))
}

func (p *parser) expect(tok rune) error {
	if p.tok != tok {
		return p.errorf("expected %q, found %q", tok, p.text)
	}
	p.next()
	return nil
}

func (p *parser) integer() (int, error) {
	neg := false
	if p.tok == '-' {
		neg = true
		p.next()
	}
	if p.tok != scanner.Int {
		return 0, p.errorf("expected integer, found %q", p.text)
	}
	n, err := strconv.Atoi(p.text)
	if err != nil {
		return 0, p.errorf("invalid integer %q", p.text)
	}
	p.next()
	if neg {
		n = -n
	}
	return n, nil
}

func (p *parser) value() (model.Value, error) {
	switch {
	case p.tok == scanner.Int || p.tok == '-':
		lo, err := p.integer()
		if err != nil {
			return model.Value{}, err
		}
		if p.tok != '.' {
			return model.IntValue(lo), nil
		}
		hi, err := p.rangeEnd()
		if err != nil {
			return model.Value{}, err
		}
		return rangeSet(lo, hi), nil
	case p.tok == scanner.String:
		s, err := strconv.Unquote(p.text)
		if err != nil {
			return model.Value{}, p.errorf("invalid string %s", p.text)
		}
		p.next()
		return model.StringValue(s), nil
	case p.tok == scanner.Ident && (p.text == "true" || p.text == "false"):
		b := p.text == "true"
		p.next()
		return model.BoolValue(b), nil
	case p.tok == scanner.Ident && (p.text == "array1d" || p.text == "array2d"):
		return p.coercion()
	case p.tok == '{':
		return p.set()
	case p.tok == '[':
		p.next()
		if p.tok == '|' {
			return p.matrix()
		}
		elems, err := p.elements(']')
		if err != nil {
			return model.Value{}, err
		}
		return model.ArrayValue(elems...), nil
	}
	return model.Value{}, p.errorf("unexpected %q", p.text)
}

// rangeEnd parses `..hi` after the lower bound of a range.
func (p *parser) rangeEnd() (int, error) {
	if err := p.expect('.'); err != nil {
		return 0, err
	}
	if err := p.expect('.'); err != nil {
		return 0, err
	}
	return p.integer()
}

func rangeSet(lo, hi int) model.Value {
	var ms []int
	for i := lo; i <= hi; i++ {
		ms = append(ms, i)
	}
	return model.SetValue(ms...)
}

func (p *parser) set() (model.Value, error) {
	p.next()
	var ms []int
	for p.tok != '}' {
		n, err := p.integer()
		if err != nil {
			return model.Value{}, err
		}
		ms = append(ms, n)
		if p.tok == ',' {
			p.next()
		} else if p.tok != '}' {
			return model.Value{}, p.errorf("expected ',' or '}', found %q", p.text)
		}
	}
	p.next()
	return model.SetValue(ms...), nil
}

// elements parses a comma-separated list up to and including closing. The
// opening bracket has been consumed.
func (p *parser) elements(closing rune) ([]model.Value, error) {
	var elems []model.Value
	for p.tok != closing {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		elems = append(elems, v)
		if p.tok == ',' {
			p.next()
		} else if p.tok != closing {
			return nil, p.errorf("expected ',' or %q, found %q", closing, p.text)
		}
	}
	p.next()
	return elems, nil
}

// matrix parses `| a, b | c, d |]` after the opening `[`.
func (p *parser) matrix() (model.Value, error) {
	p.next()
	var (
		rows []model.Value
		row  []model.Value
	)
	for {
		switch p.tok {
		case '|':
			p.next()
			if len(row) > 0 {
				rows = append(rows, model.ArrayValue(row...))
			}
			row = nil
			if p.tok == ']' {
				p.next()
				return model.ArrayValue(rows...), nil
			}
			continue
		case ',':
			p.next()
			continue
		case scanner.EOF:
			return model.Value{}, p.errorf("unterminated array")
		}
		v, err := p.value()
		if err != nil {
			return model.Value{}, err
		}
		row = append(row, v)
	}
}

// coercion parses array1d(1..n, [...]) and array2d(1..n, 1..m, [...]).
func (p *parser) coercion() (model.Value, error) {
	fn := p.text
	p.next()
	if err := p.expect('('); err != nil {
		return model.Value{}, err
	}
	args, err := p.elements(')')
	if err != nil {
		return model.Value{}, err
	}
	want := 2
	if fn == "array2d" {
		want = 3
	}
	if len(args) != want {
		return model.Value{}, p.errorf("%s expects %d arguments, got %d", fn, want, len(args))
	}
	data := args[len(args)-1]
	if data.Kind() != model.KindArray {
		return model.Value{}, p.errorf("%s: last argument is not an array", fn)
	}
	if fn == "array1d" {
		return data, nil
	}
	rows, cols := args[0].Len(), args[1].Len()
	if rows*cols != data.Len() {
		return model.Value{}, p.errorf("array2d: %d elements for %dx%d", data.Len(), rows, cols)
	}
	out := make([]model.Value, rows)
	for i := range out {
		row := make([]model.Value, cols)
		for j := range row {
			row[j] = data.Elem(i*cols + j)
		}
		out[i] = model.ArrayValue(row...)
	}
	return model.ArrayValue(out...), nil
}
