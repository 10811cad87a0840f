package criteria

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// value is the evaluator's tagged union: numbers and booleans only.
type valueKind int

const (
	kindNum valueKind = iota
	kindBool
)

type value struct {
	kind valueKind
	n    float64
	b    bool
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
}

type lexer struct {
	input string
	pos   int
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF}, nil
	}
	c := l.input[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "("}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")"}, nil
	case c >= '0' && c <= '9' || c == '.':
		start := l.pos
		for l.pos < len(l.input) && (l.input[l.pos] >= '0' && l.input[l.pos] <= '9' || l.input[l.pos] == '.') {
			l.pos++
		}
		return token{kind: tokNumber, text: l.input[start:l.pos]}, nil
	case isIdentStart(c):
		start := l.pos
		for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.input[start:l.pos]}, nil
	default:
		for _, op := range []string{"<=", ">=", "==", "!=", "&&", "||", "<", ">", "!", "+", "-", "*", "/"} {
			if strings.HasPrefix(l.input[l.pos:], op) {
				l.pos += len(op)
				return token{kind: tokOp, text: op}, nil
			}
		}
		return token{}, fmt.Errorf("unexpected character %q", c)
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

// parser is a recursive-descent evaluator: it computes values as it parses,
// no AST. Precedence, loosest first: or, and, not, comparison, additive,
// multiplicative.
type parser struct {
	lex *lexer
	env Env
	tok token
	err error
}

func (p *parser) next() {
	if p.err != nil {
		return
	}
	p.tok, p.err = p.lex.next()
}

func (p *parser) parseOr() (value, error) {
	v, err := p.parseAnd()
	if err != nil {
		return value{}, err
	}
	for p.isOp("or") || p.isOp("||") {
		p.next()
		rhs, err := p.parseAnd()
		if err != nil {
			return value{}, err
		}
		b1, b2, err := bools(v, rhs)
		if err != nil {
			return value{}, err
		}
		v = value{kind: kindBool, b: b1 || b2}
	}
	return v, p.err
}

func (p *parser) parseAnd() (value, error) {
	v, err := p.parseNot()
	if err != nil {
		return value{}, err
	}
	for p.isOp("and") || p.isOp("&&") {
		p.next()
		rhs, err := p.parseNot()
		if err != nil {
			return value{}, err
		}
		b1, b2, err := bools(v, rhs)
		if err != nil {
			return value{}, err
		}
		v = value{kind: kindBool, b: b1 && b2}
	}
	return v, p.err
}

func (p *parser) parseNot() (value, error) {
	if p.isOp("not") || p.isOp("!") {
		p.next()
		v, err := p.parseNot()
		if err != nil {
			return value{}, err
		}
		if v.kind != kindBool {
			return value{}, fmt.Errorf("not applied to non-boolean")
		}
		return value{kind: kindBool, b: !v.b}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (value, error) {
	v, err := p.parseSum()
	if err != nil {
		return value{}, err
	}
	switch {
	case p.isOp("<"), p.isOp("<="), p.isOp(">"), p.isOp(">="), p.isOp("=="), p.isOp("!="):
		op := p.tok.text
		p.next()
		rhs, err := p.parseSum()
		if err != nil {
			return value{}, err
		}
		return compare(op, v, rhs)
	}
	return v, p.err
}

func (p *parser) parseSum() (value, error) {
	v, err := p.parseTerm()
	if err != nil {
		return value{}, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.tok.text
		p.next()
		rhs, err := p.parseTerm()
		if err != nil {
			return value{}, err
		}
		a, b, err := nums(v, rhs)
		if err != nil {
			return value{}, err
		}
		if op == "+" {
			v = value{kind: kindNum, n: a + b}
		} else {
			v = value{kind: kindNum, n: a - b}
		}
	}
	return v, p.err
}

func (p *parser) parseTerm() (value, error) {
	v, err := p.parseFactor()
	if err != nil {
		return value{}, err
	}
	for p.isOp("*") || p.isOp("/") {
		op := p.tok.text
		p.next()
		rhs, err := p.parseFactor()
		if err != nil {
			return value{}, err
		}
		a, b, err := nums(v, rhs)
		if err != nil {
			return value{}, err
		}
		if op == "*" {
			v = value{kind: kindNum, n: a * b}
		} else {
			if b == 0 {
				return value{}, fmt.Errorf("division by zero")
			}
			v = value{kind: kindNum, n: a / b}
		}
	}
	return v, p.err
}

func (p *parser) parseFactor() (value, error) {
	if p.err != nil {
		return value{}, p.err
	}
	switch p.tok.kind {
	case tokNumber:
		n, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return value{}, fmt.Errorf("bad number %q", p.tok.text)
		}
		p.next()
		return value{kind: kindNum, n: n}, nil
	case tokIdent:
		name := p.tok.text
		p.next()
		switch name {
		case "true":
			return value{kind: kindBool, b: true}, nil
		case "false":
			return value{kind: kindBool, b: false}, nil
		}
		return p.env.lookup(name)
	case tokLParen:
		p.next()
		v, err := p.parseOr()
		if err != nil {
			return value{}, err
		}
		if p.tok.kind != tokRParen {
			return value{}, fmt.Errorf("missing closing parenthesis")
		}
		p.next()
		return v, nil
	case tokOp:
		if p.tok.text == "-" {
			p.next()
			v, err := p.parseFactor()
			if err != nil {
				return value{}, err
			}
			if v.kind != kindNum {
				return value{}, fmt.Errorf("negation of non-number")
			}
			return value{kind: kindNum, n: -v.n}, nil
		}
	}
	return value{}, fmt.Errorf("unexpected %q", p.tok.text)
}

func (p *parser) isOp(text string) bool {
	if p.err != nil {
		return false
	}
	if p.tok.kind == tokOp {
		return p.tok.text == text
	}
	// Word operators lex as identifiers.
	return p.tok.kind == tokIdent && p.tok.text == text
}

func compare(op string, a, b value) (value, error) {
	if a.kind == kindBool && b.kind == kindBool {
		switch op {
		case "==":
			return value{kind: kindBool, b: a.b == b.b}, nil
		case "!=":
			return value{kind: kindBool, b: a.b != b.b}, nil
		}
		return value{}, fmt.Errorf("operator %s not defined for booleans", op)
	}
	x, y, err := nums(a, b)
	if err != nil {
		return value{}, err
	}
	var result bool
	switch op {
	case "<":
		result = x < y
	case "<=":
		result = x <= y
	case ">":
		result = x > y
	case ">=":
		result = x >= y
	case "==":
		result = x == y
	case "!=":
		result = x != y
	}
	return value{kind: kindBool, b: result}, nil
}

func nums(a, b value) (float64, float64, error) {
	if a.kind != kindNum || b.kind != kindNum {
		return 0, 0, fmt.Errorf("numeric operator applied to boolean")
	}
	return a.n, b.n, nil
}

func bools(a, b value) (bool, bool, error) {
	if a.kind != kindBool || b.kind != kindBool {
		return false, false, fmt.Errorf("boolean operator applied to number")
	}
	return a.b, b.b, nil
}
