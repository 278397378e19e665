package cppmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpressionAt(t *testing.T) {
	t.Parallel()
	src := []byte("int main() {\n" +
		"  shape.area(2);\n" +
		"  p->next->value = geo::Box<int>::count;\n" +
		"  ::global = items[i].size;\n" +
		"  obj.~Widget();\n" +
		"  make().first = 42;\r\n" +
		"}\n")

	tests := []struct {
		name      string
		line, col int
		want      string
	}{
		{"member call", 1, 9, "shape.area"},
		{"cursor at name end", 1, 12, "shape.area"},
		{"receiver only", 1, 3, "shape"},
		{"arrow chain", 2, 13, "p->next->value"},
		{"template qualifier", 2, 35, "geo::Box<int>::count"},
		{"global qualifier", 3, 5, "::global"},
		{"subscript operand", 3, 23, "items[i].size"},
		{"destructor", 4, 9, "obj.~Widget"},
		{"call result", 5, 10, "make().first"},
		{"number", 5, 18, ""},
		{"whitespace", 1, 0, ""},
		{"line out of range", 40, 0, ""},
		{"column out of range", 1, 400, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpressionAt(src, tt.line, tt.col))
		})
	}
}
