package parser

import (
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// maxMacroDepth bounds macro-to-macro indirection in #if conditions.
const maxMacroDepth = 8

// eval computes the integer value of an #if / #elif condition. Like the C
// preprocessor, identifiers that are not macros evaluate to 0. Unsupported
// constructs (function-like macro calls, __has_include) also evaluate to 0.
func (c *converter) eval(n *sitter.Node, depth int) int64 {
	if n == nil || n.IsNull() {
		return 0
	}
	switch n.Type() {
	case "number_literal":
		return parseNumber(c.text(n))
	case "char_literal":
		return 1
	case "true":
		return 1
	case "identifier":
		return c.macroValue(c.text(n), depth)
	case "preproc_defined":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if id := n.NamedChild(i); id.Type() == "identifier" {
				if _, ok := c.defines[c.text(id)]; ok {
					return 1
				}
				return 0
			}
		}
		return 0
	case "parenthesized_expression":
		if n.NamedChildCount() == 0 {
			return 0
		}
		return c.eval(n.NamedChild(0), depth)
	case "unary_expression":
		arg := c.eval(n.ChildByFieldName("argument"), depth)
		switch strings.TrimSpace(c.text(n.ChildByFieldName("operator"))) {
		case "!":
			return boolInt(arg == 0)
		case "-":
			return -arg
		case "~":
			return ^arg
		}
		return arg
	case "binary_expression":
		return c.evalBinary(n, depth)
	case "conditional_expression":
		if c.eval(n.ChildByFieldName("condition"), depth) != 0 {
			return c.eval(n.ChildByFieldName("consequence"), depth)
		}
		return c.eval(n.ChildByFieldName("alternative"), depth)
	}
	return 0
}

func (c *converter) evalBinary(n *sitter.Node, depth int) int64 {
	op := strings.TrimSpace(c.text(n.ChildByFieldName("operator")))
	left := c.eval(n.ChildByFieldName("left"), depth)
	// && and || short-circuit like the preprocessor does.
	switch op {
	case "&&":
		if left == 0 {
			return 0
		}
		return boolInt(c.eval(n.ChildByFieldName("right"), depth) != 0)
	case "||":
		if left != 0 {
			return 1
		}
		return boolInt(c.eval(n.ChildByFieldName("right"), depth) != 0)
	}
	right := c.eval(n.ChildByFieldName("right"), depth)
	switch op {
	case "==":
		return boolInt(left == right)
	case "!=":
		return boolInt(left != right)
	case "<":
		return boolInt(left < right)
	case ">":
		return boolInt(left > right)
	case "<=":
		return boolInt(left <= right)
	case ">=":
		return boolInt(left >= right)
	case "+":
		return left + right
	case "-":
		return left - right
	case "*":
		return left * right
	case "/":
		if right == 0 {
			return 0
		}
		return left / right
	case "%":
		if right == 0 {
			return 0
		}
		return left % right
	case "&":
		return left & right
	case "|":
		return left | right
	case "^":
		return left ^ right
	case "<<":
		return left << uint64(right&63)
	case ">>":
		return left >> uint64(right&63)
	}
	return 0
}

// macroValue evaluates an object-like macro used in a condition. Values
// naming another macro are followed up to maxMacroDepth.
func (c *converter) macroValue(name string, depth int) int64 {
	value, ok := c.defines[name]
	if !ok || depth >= maxMacroDepth {
		return 0
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if isIdentifier(value) {
		return c.macroValue(value, depth+1)
	}
	return parseNumber(value)
}

func parseNumber(s string) int64 {
	s = strings.TrimRight(strings.TrimSpace(s), "uUlL")
	s = strings.ReplaceAll(s, "'", "")
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0
	}
	return v
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return s != ""
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
