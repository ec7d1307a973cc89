// Package filter implements the boolean predicate language used by schema
// rules to decide whether a record belongs to an index.
//
// The language covers field references (bare identifiers or @name), numeric
// and string literals, the comparisons == != < <= > >=, the connectives
// && || !, parentheses, and exists(field). Expressions are compiled once,
// at rule creation, and evaluated against a lazy per-record field view.
package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrSyntax = errors.New("filter syntax error")

// RecordView gives an expression lazy access to one record's fields.
// ok is false when the field is absent; err reports store-level failures.
type RecordView interface {
	Field(name string) (val string, ok bool, err error)
}

// EvalError marks evaluation failures (type mismatches, store errors) as
// distinct from "the predicate is false".
type EvalError struct {
	Expr string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("filter %q: %s", e.Expr, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Expr is a compiled predicate. Safe for concurrent Eval calls.
type Expr struct {
	src  string
	root node
}

func (e *Expr) Src() string { return e.src }

// Compile parses src into an expression tree. All syntax errors surface
// here; Eval never reports them.
func Compile(src string) (*Expr, error) {
	p := &parser{lex: lexer{src: src}}
	p.next()
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, p.tok.text, p.tok.pos)
	}
	return &Expr{src: src, root: root}, nil
}

// Eval runs the predicate against one record. A reference to an absent
// field makes the enclosing comparison false instead of failing, except
// inside exists(). Type mismatches and store failures return an *EvalError.
func (e *Expr) Eval(view RecordView) (bool, error) {
	res, err := e.root.eval(view)
	if err != nil {
		return false, &EvalError{Expr: e.src, Err: err}
	}
	return res, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp     // == != < <= > >=
	tokAnd    // &&
	tokOr     // ||
	tokNot    // !
	tokLParen // (
	tokRParen // )
)

type token struct {
	kind tokKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) scan() (token, error) {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t') {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}
	c := l.src[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{tokLParen, "(", start}, nil
	case c == ')':
		l.pos++
		return token{tokRParen, ")", start}, nil
	case c == '&' || c == '|':
		if l.pos+1 >= len(l.src) || l.src[l.pos+1] != c {
			return token{}, fmt.Errorf("%w: stray %q at offset %d", ErrSyntax, string(c), start)
		}
		l.pos += 2
		if c == '&' {
			return token{tokAnd, "&&", start}, nil
		}
		return token{tokOr, "||", start}, nil
	case c == '!':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
			l.pos += 2
			return token{tokOp, "!=", start}, nil
		}
		l.pos++
		return token{tokNot, "!", start}, nil
	case c == '=':
		if l.pos+1 >= len(l.src) || l.src[l.pos+1] != '=' {
			return token{}, fmt.Errorf("%w: stray %q at offset %d", ErrSyntax, "=", start)
		}
		l.pos += 2
		return token{tokOp, "==", start}, nil
	case c == '<' || c == '>':
		op := string(c)
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			op += "="
			l.pos++
		}
		return token{tokOp, op, start}, nil
	case c == '\'' || c == '"':
		quote := c
		l.pos++
		for l.pos < len(l.src) && l.src[l.pos] != quote {
			l.pos++
		}
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("%w: unterminated string at offset %d", ErrSyntax, start)
		}
		text := l.src[start+1 : l.pos]
		l.pos++
		return token{tokString, text, start}, nil
	case c >= '0' && c <= '9' || c == '-' || c == '.':
		l.pos++
		for l.pos < len(l.src) && (l.src[l.pos] >= '0' && l.src[l.pos] <= '9' || l.src[l.pos] == '.' || l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
			l.pos++
		}
		return token{tokNumber, l.src[start:l.pos], start}, nil
	case isIdentByte(c):
		if c == '@' {
			start++ // @name refers to the field "name"
		}
		l.pos++
		for l.pos < len(l.src) && isIdentByte(l.src[l.pos]) {
			l.pos++
		}
		return token{tokIdent, l.src[start:l.pos], start}, nil
	default:
		return token{}, fmt.Errorf("%w: unexpected byte %q at offset %d", ErrSyntax, string(c), start)
	}
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_' || c == '@'
}

type parser struct {
	lex lexer
	tok token
	err error
}

func (p *parser) next() {
	if p.err == nil {
		p.tok, p.err = p.lex.scan()
	}
}

// or := and { "||" and }
func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left, right}
	}
	return left, p.err
}

// and := unary { "&&" unary }
func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andNode{left, right}
	}
	return left, p.err
}

// unary := "!" unary | "(" or ")" | exists "(" ident ")" | cmp
func (p *parser) parseUnary() (node, error) {
	if p.err != nil {
		return nil, p.err
	}
	switch p.tok.kind {
	case tokNot:
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner}, nil
	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("%w: expected ) at offset %d", ErrSyntax, p.tok.pos)
		}
		p.next()
		return inner, nil
	case tokIdent:
		if strings.EqualFold(p.tok.text, "exists") {
			return p.parseExists()
		}
		return p.parseCmp()
	case tokNumber, tokString:
		return p.parseCmp()
	default:
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, p.tok.text, p.tok.pos)
	}
}

func (p *parser) parseExists() (node, error) {
	p.next()
	if p.tok.kind != tokLParen {
		return nil, fmt.Errorf("%w: exists requires (field) at offset %d", ErrSyntax, p.tok.pos)
	}
	p.next()
	if p.tok.kind != tokIdent {
		return nil, fmt.Errorf("%w: exists requires a field name at offset %d", ErrSyntax, p.tok.pos)
	}
	field := p.tok.text
	p.next()
	if p.tok.kind != tokRParen {
		return nil, fmt.Errorf("%w: expected ) at offset %d", ErrSyntax, p.tok.pos)
	}
	p.next()
	return &existsNode{field: field}, nil
}

// cmp := operand op operand
func (p *parser) parseCmp() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokOp {
		return nil, fmt.Errorf("%w: expected comparison at offset %d", ErrSyntax, p.tok.pos)
	}
	op := p.tok.text
	p.next()
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &cmpNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseOperand() (operand, error) {
	if p.err != nil {
		return nil, p.err
	}
	defer p.next()
	switch p.tok.kind {
	case tokIdent:
		return &fieldRef{name: p.tok.text}, nil
	case tokString:
		return &literal{val: value{kind: valStr, s: p.tok.text}}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q at offset %d", ErrSyntax, p.tok.text, p.tok.pos)
		}
		return &literal{val: value{kind: valNum, f: f, s: p.tok.text}}, nil
	default:
		return nil, fmt.Errorf("%w: expected field or literal at offset %d", ErrSyntax, p.tok.pos)
	}
}
