package formula

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

type parser struct {
	s    scanner.Scanner
	tok  rune   // Last token read
	text string // Text of the last token
}

// Parse parses a formula written in the MiniZinc syntax produced by String.
// Operators, from lowest to highest priority:
//
//   - disjunction `\/`,
//   - conjunction `/\`,
//   - negation `not`,
//   - comparisons `<`, `<=`, `=` (or `==`), `!=`, `>=`, `>`.
//
// Terms are integers, identifiers, indexed identifiers (`a[1, b[2]]`) and
// function calls (`card(s[1, 2])`). Parentheses group subformulas.
func Parse(input string) (Formula, error) {
	p := &parser{}
	p.s.Init(strings.NewReader(input))
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts
	p.s.Error = func(*scanner.Scanner, string) {}
	p.scan()
	f, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok != scanner.EOF {
		return nil, p.errorf("unexpected token %q", p.text)
	}
	return f, nil
}

// MustParse is like Parse but panics on error. It is meant for constants and tests.
func MustParse(input string) Formula {
	f, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return f
}

func (p *parser) scan() {
	p.tok = p.s.Scan()
	p.text = p.s.TokenText()
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("at %s: %s", p.s.Position, fmt.Sprintf(format, args...))
}

// accept2 consumes the two-rune operator ab if it is next in the input.
func (p *parser) accept2(a, b rune) bool {
	if p.tok != a || p.s.Peek() != b {
		return false
	}
	p.s.Next()
	p.scan()
	return true
}

func (p *parser) parseOr() (Formula, error) {
	f, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	fs := []Formula{f}
	for p.accept2('\\', '/') {
		g, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		fs = append(fs, g)
	}
	if len(fs) == 1 {
		return f, nil
	}
	return Disj(fs...), nil
}

func (p *parser) parseAnd() (Formula, error) {
	f, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	fs := []Formula{f}
	for p.accept2('/', '\\') {
		g, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		fs = append(fs, g)
	}
	if len(fs) == 1 {
		return f, nil
	}
	return Conj(fs...), nil
}

func (p *parser) parseNot() (Formula, error) {
	if p.tok == scanner.Ident && p.text == "not" {
		p.scan()
		f, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return Not{F: f}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Formula, error) {
	switch {
	case p.tok == scanner.EOF:
		return nil, p.errorf("expected expression, found EOF")
	case p.tok == scanner.Ident && p.text == "true":
		p.scan()
		return True, nil
	case p.tok == scanner.Ident && p.text == "false":
		p.scan()
		return False, nil
	case p.tok == '(':
		p.scan()
		f, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok != ')' {
			return nil, p.errorf("expected ')', found %q", p.text)
		}
		p.scan()
		return f, nil
	}
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	op, err := p.parseOp()
	if err != nil {
		return nil, err
	}
	right, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	return Compare{Left: left, Op: op, Right: right}, nil
}

func (p *parser) parseOp() (Op, error) {
	switch {
	case p.accept2('<', '='):
		return Le, nil
	case p.accept2('>', '='):
		return Ge, nil
	case p.accept2('!', '='):
		return Ne, nil
	case p.accept2('=', '='):
		return Eq, nil
	case p.tok == '<':
		p.scan()
		return Lt, nil
	case p.tok == '>':
		p.scan()
		return Gt, nil
	case p.tok == '=':
		p.scan()
		return Eq, nil
	}
	return 0, p.errorf("expected comparison operator, found %q", p.text)
}

func (p *parser) parseTerm() (Term, error) {
	switch p.tok {
	case '-':
		p.scan()
		if p.tok != scanner.Int {
			return nil, p.errorf("expected integer after '-', found %q", p.text)
		}
		n, err := strconv.Atoi(p.text)
		if err != nil {
			return nil, p.errorf("invalid integer %q", p.text)
		}
		p.scan()
		return Int(-n), nil
	case scanner.Int:
		n, err := strconv.Atoi(p.text)
		if err != nil {
			return nil, p.errorf("invalid integer %q", p.text)
		}
		p.scan()
		return Int(n), nil
	case scanner.Ident:
		name := p.text
		p.scan()
		if p.tok == '(' {
			args, err := p.parseTerms(')')
			if err != nil {
				return nil, err
			}
			return Call{Fn: name, Args: args}, nil
		}
		ref := Ref{Name: name}
		if p.tok == '[' {
			idx, err := p.parseTerms(']')
			if err != nil {
				return nil, err
			}
			ref.Index = idx
		}
		return ref, nil
	}
	return nil, p.errorf("expected term, found %q", p.text)
}

// parseTerms parses a comma-separated list of terms after an opening bracket,
// up to and including the closing rune.
func (p *parser) parseTerms(closing rune) ([]Term, error) {
	p.scan()
	var terms []Term
	for {
		t, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
		switch p.tok {
		case ',':
			p.scan()
		case closing:
			p.scan()
			return terms, nil
		default:
			return nil, p.errorf("expected ',' or %q, found %q", closing, p.text)
		}
	}
}
