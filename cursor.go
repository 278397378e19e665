package cppmodel

import "bytes"

// ExpressionAt returns the expression whose last name is under the 0-based
// position, e.g. "shape.area" for a cursor on "area" in "shape.area(2)".
// Qualifiers, member access and template argument lists to the left of
// the name are included. It returns "" when the position is not on an
// identifier.
func ExpressionAt(src []byte, line, col int) string {
	text, ok := lineText(src, line)
	if !ok || col < 0 || col > len(text) {
		return ""
	}

	start, end := col, col
	for start > 0 && isIdentByte(text[start-1]) {
		start--
	}
	for end < len(text) && isIdentByte(text[end]) {
		end++
	}
	if start == end || isDigit(text[start]) {
		return ""
	}
	if start > 0 && text[start-1] == '~' {
		start--
	}

	for {
		n := separatorBefore(text, start)
		if n == 0 {
			break
		}
		k := start - n
		m := operandBefore(text, k)
		if m == k {
			if n == 2 && text[k] == ':' {
				start = k
			}
			break
		}
		start = m
	}
	return string(text[start:end])
}

func lineText(src []byte, line int) ([]byte, bool) {
	if line < 0 {
		return nil, false
	}
	for range line {
		i := bytes.IndexByte(src, '\n')
		if i < 0 {
			return nil, false
		}
		src = src[i+1:]
	}
	if i := bytes.IndexByte(src, '\n'); i >= 0 {
		src = src[:i]
	}
	return bytes.TrimSuffix(src, []byte{'\r'}), true
}

// separatorBefore returns the length of the "::", "->" or "." ending at i.
func separatorBefore(text []byte, i int) int {
	switch {
	case i >= 2 && text[i-2] == ':' && text[i-1] == ':':
		return 2
	case i >= 2 && text[i-2] == '-' && text[i-1] == '>':
		return 2
	case i >= 1 && text[i-1] == '.':
		return 1
	}
	return 0
}

// operandBefore returns where the operand ending at i starts: a name,
// optionally followed by balanced call, subscript or template groups.
func operandBefore(text []byte, i int) int {
	m := i
	for m > 0 {
		c := text[m-1]
		switch {
		case c == ')' || c == ']' || (c == '>' && !(m >= 2 && text[m-2] == '-')):
			o := openingFor(text, m-1)
			if o < 0 {
				return i
			}
			m = o
		case isIdentByte(c):
			for m > 0 && isIdentByte(text[m-1]) {
				m--
			}
			return m
		default:
			return m
		}
	}
	return m
}

// openingFor finds the bracket matching the closing one at i.
func openingFor(text []byte, i int) int {
	closing := text[i]
	var opening byte
	switch closing {
	case ')':
		opening = '('
	case ']':
		opening = '['
	default:
		opening = '<'
	}
	depth := 0
	for j := i; j >= 0; j-- {
		switch text[j] {
		case closing:
			if closing == '>' && j > 0 && text[j-1] == '-' {
				continue
			}
			depth++
		case opening:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

func isIdentByte(c byte) bool {
	return c == '_' || isDigit(c) || (c|0x20 >= 'a' && c|0x20 <= 'z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
