package lookup

import (
	"errors"
	"strings"
)

var errMalformed = errors.New("lookup: malformed expression")

type tokenKind uint8

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

// punctuators recognized by the tokenizer, longest first.
var punctuators = []string{
	"->*", "::", "->", "++", "--", "<=", ">=", "==", "!=", "&&", "||",
	".", ",", "(", ")", "[", "]", "<", ">", "~", "*", "&", "+", "-", "!",
	"/", "%", "^", "|", "=", "?", ":",
}

// tokenize splits a C++ expression fragment. Characters that cannot occur
// in an expression make the whole fragment malformed.
func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		ch := s[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case isIdentStart(ch):
			j := i + 1
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, s[i:j]})
			i = j
		case ch >= '0' && ch <= '9':
			j := i + 1
			for j < len(s) && (isIdentPart(s[j]) || s[j] == '.' || s[j] == '\'') {
				j++
			}
			toks = append(toks, token{tokNumber, s[i:j]})
			i = j
		case ch == '"' || ch == '\'':
			j := i + 1
			for j < len(s) && s[j] != ch {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(s) {
				return nil, errMalformed
			}
			toks = append(toks, token{tokString, s[i : j+1]})
			i = j + 1
		default:
			matched := false
			for _, p := range punctuators {
				if strings.HasPrefix(s[i:], p) {
					toks = append(toks, token{tokPunct, p})
					i += len(p)
					matched = true
					break
				}
			}
			if !matched {
				return nil, errMalformed
			}
		}
	}
	return toks, nil
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

type exprKind uint8

const (
	exprName exprKind = iota
	exprThis
	exprMember
	exprArrow
	exprCall
	exprIndex
	exprDeref
	exprAddr
)

// namePart is one component of a qualified name, with the template
// arguments written after it.
type namePart struct {
	name string
	args []string
}

type expr struct {
	kind   exprKind
	global bool
	parts  []namePart
	base   *expr
	member namePart
}

type exprParser struct {
	toks []token
	pos  int
}

// parseExpression parses the postfix-expression subset lookup understands:
//
//	expr    := ('*' | '&') expr | postfix
//	postfix := primary { '.' name | '->' name | '(' ... ')' | '[' ... ']' }
//	primary := 'this' | '(' expr ')' | ['::'] name { '::' name }
//	name    := ident ['<' args '>'] | '~' ident | 'operator' op
func parseExpression(s string) (*expr, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, errMalformed
	}
	p := &exprParser{toks: toks}
	x, err := p.unary()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, errMalformed
	}
	return x, nil
}

// splitPath parses a (possibly qualified, possibly templated) name.
func splitPath(s string) ([]namePart, bool, bool) {
	toks, err := tokenize(s)
	if err != nil || len(toks) == 0 {
		return nil, false, false
	}
	p := &exprParser{toks: toks}
	global := p.accept("::")
	parts, err := p.path()
	if err != nil || p.pos != len(p.toks) {
		return nil, false, false
	}
	return parts, global, true
}

func (p *exprParser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *exprParser) accept(punct string) bool {
	if t, ok := p.peek(); ok && t.kind == tokPunct && t.text == punct {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) unary() (*expr, error) {
	switch {
	case p.accept("*"):
		base, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &expr{kind: exprDeref, base: base}, nil
	case p.accept("&"):
		base, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &expr{kind: exprAddr, base: base}, nil
	}
	return p.postfix()
}

func (p *exprParser) postfix() (*expr, error) {
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept("."):
			m, err := p.name()
			if err != nil {
				return nil, err
			}
			x = &expr{kind: exprMember, base: x, member: m}
		case p.accept("->"):
			m, err := p.name()
			if err != nil {
				return nil, err
			}
			x = &expr{kind: exprArrow, base: x, member: m}
		case p.accept("("):
			if _, err := p.balanced(")"); err != nil {
				return nil, err
			}
			x = &expr{kind: exprCall, base: x}
		case p.accept("["):
			if _, err := p.balanced("]"); err != nil {
				return nil, err
			}
			x = &expr{kind: exprIndex, base: x}
		default:
			return x, nil
		}
	}
}

func (p *exprParser) primary() (*expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, errMalformed
	}
	if t.kind == tokIdent && t.text == "this" {
		p.pos++
		return &expr{kind: exprThis}, nil
	}
	if p.accept("(") {
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if !p.accept(")") {
			return nil, errMalformed
		}
		return x, nil
	}
	global := p.accept("::")
	parts, err := p.path()
	if err != nil {
		return nil, err
	}
	return &expr{kind: exprName, global: global, parts: parts}, nil
}

func (p *exprParser) path() ([]namePart, error) {
	var parts []namePart
	for {
		part, err := p.name()
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
		if !p.accept("::") {
			return parts, nil
		}
	}
}

func (p *exprParser) name() (namePart, error) {
	if p.accept("~") {
		t, ok := p.peek()
		if !ok || t.kind != tokIdent {
			return namePart{}, errMalformed
		}
		p.pos++
		return namePart{name: "~" + t.text}, nil
	}
	t, ok := p.peek()
	if !ok || t.kind != tokIdent {
		return namePart{}, errMalformed
	}
	p.pos++
	if t.text == "operator" {
		return p.operatorName()
	}
	part := namePart{name: t.text}
	if p.accept("<") {
		args, err := p.templateArgs()
		if err != nil {
			return namePart{}, err
		}
		part.args = args
	}
	return part, nil
}

// operatorName reads the symbol after the operator keyword: "()", "[]",
// "->" or a single punctuator.
func (p *exprParser) operatorName() (namePart, error) {
	switch {
	case p.accept("("):
		if !p.accept(")") {
			return namePart{}, errMalformed
		}
		return namePart{name: "operator()"}, nil
	case p.accept("["):
		if !p.accept("]") {
			return namePart{}, errMalformed
		}
		return namePart{name: "operator[]"}, nil
	}
	t, ok := p.peek()
	if !ok || t.kind != tokPunct {
		return namePart{}, errMalformed
	}
	p.pos++
	return namePart{name: "operator" + t.text}, nil
}

// templateArgs reads comma-separated arguments up to the matching '>'.
func (p *exprParser) templateArgs() ([]string, error) {
	var args []string
	var cur []token
	depth := 0
	for {
		t, ok := p.peek()
		if !ok {
			return nil, errMalformed
		}
		p.pos++
		if t.kind == tokPunct {
			switch t.text {
			case "<", "(", "[":
				depth++
			case ")", "]":
				depth--
			case ">":
				if depth == 0 {
					if len(cur) > 0 {
						args = append(args, joinTokens(cur))
					}
					return args, nil
				}
				depth--
			case ",":
				if depth == 0 {
					args = append(args, joinTokens(cur))
					cur = nil
					continue
				}
			}
		}
		cur = append(cur, t)
	}
}

// balanced skips tokens up to the closing punctuator, honoring nesting.
func (p *exprParser) balanced(closing string) ([]token, error) {
	var inner []token
	depth := 0
	for {
		t, ok := p.peek()
		if !ok {
			return nil, errMalformed
		}
		p.pos++
		if t.kind == tokPunct {
			switch t.text {
			case "(", "[":
				depth++
			case ")", "]":
				if depth == 0 {
					if t.text != closing {
						return nil, errMalformed
					}
					return inner, nil
				}
				depth--
			}
		}
		inner = append(inner, t)
	}
}

// joinTokens renders tokens back to a compact spelling, separating
// adjacent words with one space.
func joinTokens(toks []token) string {
	var sb strings.Builder
	for i, t := range toks {
		if i > 0 && isWord(toks[i-1]) && isWord(t) {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.text)
	}
	return sb.String()
}

func isWord(t token) bool { return t.kind == tokIdent || t.kind == tokNumber }
