package symbols

import (
	"testing"

	"github.com/jward/cppmodel/internal/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleTree mirrors:
//
//	namespace geo {
//	  class Shape { public: virtual double area() const; Shape(); ~Shape(); };
//	  template <typename T> class Box : public Shape { T value; };
//	  enum Color { Red, Green };
//	}
//	double geo::Shape::area() const { int local; }
//	using namespace geo;
func sampleTree() *ast.Tree {
	b := ast.NewBuilder(ast.Span{EndLine: 30})
	root := b.Root()

	ns := b.Add(root, ast.Node{Kind: ast.KindNamespace, Name: "geo", Span: ast.Span{StartLine: 0, EndLine: 10}})
	shape := b.Add(ns, ast.Node{Kind: ast.KindClass, Name: "Shape", Flags: ast.FlagDefinition, Span: ast.Span{StartLine: 1, EndLine: 3}})
	b.Add(shape, ast.Node{Kind: ast.KindFunction, Name: "area", Type: "double", Flags: ast.FlagVirtual | ast.FlagConst, Span: ast.Span{StartLine: 2, StartCol: 2, EndLine: 2, EndCol: 30}})
	b.Add(shape, ast.Node{Kind: ast.KindFunction, Name: "Shape", Span: ast.Span{StartLine: 2, StartCol: 31, EndLine: 2, EndCol: 39}})
	b.Add(shape, ast.Node{Kind: ast.KindFunction, Name: "~Shape", Span: ast.Span{StartLine: 2, StartCol: 40, EndLine: 2, EndCol: 49}})

	tmpl := b.Add(ns, ast.Node{Kind: ast.KindTemplate, TemplateParams: []string{"T"}, Span: ast.Span{StartLine: 4, EndLine: 6}})
	box := b.Add(tmpl, ast.Node{Kind: ast.KindClass, Name: "Box", Flags: ast.FlagDefinition, Bases: []string{"Shape"}, Span: ast.Span{StartLine: 4, StartCol: 22, EndLine: 6}})
	b.Add(box, ast.Node{Kind: ast.KindDeclaration, Name: "value", Type: "T", Span: ast.Span{StartLine: 5, StartCol: 2, EndLine: 5, EndCol: 10}})

	enum := b.Add(ns, ast.Node{Kind: ast.KindEnum, Name: "Color", Span: ast.Span{StartLine: 7, EndLine: 7, EndCol: 30}})
	b.Add(enum, ast.Node{Kind: ast.KindEnumerator, Name: "Red", Span: ast.Span{StartLine: 7, StartCol: 14, EndLine: 7, EndCol: 17}})
	b.Add(enum, ast.Node{Kind: ast.KindEnumerator, Name: "Green", Span: ast.Span{StartLine: 7, StartCol: 19, EndLine: 7, EndCol: 24}})

	fn := b.Add(root, ast.Node{Kind: ast.KindFunction, Name: "geo::Shape::area", Type: "double", Flags: ast.FlagDefinition | ast.FlagConst, Span: ast.Span{StartLine: 12, EndLine: 14}})
	body := b.Add(fn, ast.Node{Kind: ast.KindBlock, Span: ast.Span{StartLine: 12, StartCol: 30, EndLine: 14}})
	b.Add(body, ast.Node{Kind: ast.KindDeclaration, Name: "local", Type: "int", Span: ast.Span{StartLine: 13, StartCol: 2, EndLine: 13, EndCol: 12}})

	b.Add(root, ast.Node{Kind: ast.KindUsing, Name: "geo", Flags: ast.FlagUsingDirective, Span: ast.Span{StartLine: 16, EndLine: 16, EndCol: 20}})
	b.Add(root, ast.Node{Kind: ast.KindDefine, Name: "GEO_H", Span: ast.Span{StartLine: 17, EndLine: 17, EndCol: 14}})
	return b.Tree()
}

func TestBind_NamespaceAndClass(t *testing.T) {
	t.Parallel()
	global := Bind("/src/geo.h", sampleTree())

	nsSyms := global.Find("geo")
	require.Len(t, nsSyms, 1)
	ns := nsSyms[0].Members
	require.NotNil(t, ns)
	assert.Equal(t, ScopeNamespace, ns.Kind)

	shapes := ns.Find("Shape")
	require.Len(t, shapes, 1)
	shape := shapes[0]
	assert.True(t, shape.IsClass())
	assert.Equal(t, "geo::Shape", shape.QualifiedName())
	require.NotNil(t, shape.Members)

	area := shape.Members.Find("area")
	require.Len(t, area, 1)
	assert.True(t, area[0].IsFunction())
	assert.True(t, area[0].IsVirtual())
	assert.Equal(t, "double", area[0].Type.Spelling)
	assert.False(t, area[0].IsCtorOrDtorName())

	ctor := shape.Members.Find("Shape")
	require.Len(t, ctor, 1)
	assert.True(t, ctor[0].IsCtorOrDtorName())
	dtor := shape.Members.Find("~Shape")
	require.Len(t, dtor, 1)
	assert.True(t, dtor[0].IsCtorOrDtorName())
}

func TestBind_TemplateClassDeclaredInNamespace(t *testing.T) {
	t.Parallel()
	global := Bind("/src/geo.h", sampleTree())
	ns := global.Find("geo")[0].Members

	boxes := ns.Find("Box")
	require.Len(t, boxes, 1)
	box := boxes[0]
	assert.Equal(t, []string{"T"}, box.TemplateParams)
	assert.Equal(t, []string{"Shape"}, box.Members.Bases)
	assert.Equal(t, ScopeTemplate, box.Members.Parent.Kind)
	assert.Equal(t, "T", box.Members.Find("value")[0].Type.Spelling)
}

func TestBind_EnumeratorsVisibleInEnclosingScope(t *testing.T) {
	t.Parallel()
	global := Bind("/src/geo.h", sampleTree())
	ns := global.Find("geo")[0].Members

	require.Len(t, ns.Find("Red"), 1)
	color := ns.Find("Color")[0]
	require.NotNil(t, color.Members)
	assert.Len(t, color.Members.Find("Green"), 1)
	assert.Equal(t, "geo::Color::Green", color.Members.Find("Green")[0].QualifiedName())
}

func TestBind_OutOfLineDefinition(t *testing.T) {
	t.Parallel()
	global := Bind("/src/geo.cpp", sampleTree())

	// Out-of-line definitions do not redeclare the member globally.
	assert.Empty(t, global.Find("area"))

	fn := global.ScopeAt(13, 5)
	require.Equal(t, ScopeBlock, fn.Kind)
	require.Len(t, fn.Find("local"), 1)

	outer := fn.EnclosingFunction()
	require.NotNil(t, outer)
	assert.Equal(t, "area", outer.Name)
	assert.Equal(t, "geo::Shape", outer.Qualifier)
}

func TestBind_UsingAndMacro(t *testing.T) {
	t.Parallel()
	global := Bind("/src/geo.h", sampleTree())
	assert.Equal(t, []string{"geo"}, global.Usings)
	macros := global.Find("GEO_H")
	require.Len(t, macros, 1)
	assert.Equal(t, KindMacro, macros[0].Kind)
}

func TestBind_NilTree(t *testing.T) {
	t.Parallel()
	global := Bind("/src/empty.cpp", nil)
	assert.Equal(t, ScopeGlobal, global.Kind)
	assert.Empty(t, global.Symbols)
}

func TestStripTemplateArgs(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"Box<T>":                      "Box",
		"std::map<K, std::vector<V>>": "std::map",
		"plain":                       "plain",
		"ns::Box<int>::Inner":         "ns::Box::Inner",
	}
	for in, want := range tests {
		assert.Equal(t, want, StripTemplateArgs(in), in)
	}
}
