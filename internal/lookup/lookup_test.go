package lookup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cppmodel/internal/parser"
	"github.com/jward/cppmodel/internal/snapshot"
	"github.com/jward/cppmodel/internal/symbols"
)

const shapesH = `namespace geo {
struct Point { int x; int y; };
class Shape {
public:
  virtual double area() const;
  Point origin;
  Point* next;
};
template <typename T>
struct Box : Shape {
  T value;
  T* ptr;
};
Point make();
}
`

const mainCpp = `#include "shapes.h"
using namespace geo;
struct Widget {
  Point pos;
  Point pts[4];
  void resize();
  void move() {
    int dx = 0;
  }
};
int main() {
  Box<Point> b;
  Widget w;
  Widget* wp = &w;
  return 0;
}
void Widget::resize() {
  int k = 1;
}
`

type fixture struct {
	snap *snapshot.Snapshot
	main *snapshot.Document
	hdr  *snapshot.Document
}

func build(t *testing.T, files map[string]string) *snapshot.Snapshot {
	t.Helper()
	var paths []string
	for p := range files {
		paths = append(paths, p)
	}
	known := make(map[string]bool, len(paths))
	for _, p := range paths {
		known[filepath.Clean(p)] = true
	}
	p := &parser.TreeSitter{Exists: func(path string) bool { return known[filepath.Clean(path)] }}

	snap := snapshot.Empty()
	for path, src := range files {
		res, err := p.Parse(context.Background(), parser.Request{Path: path, Content: []byte(src)})
		require.NoError(t, err)
		snap = snap.WithDocument(path, snapshot.NewDocument(path, []byte(src), time.Time{}, res))
	}
	return snap
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	snap := build(t, map[string]string{"/p/shapes.h": shapesH, "/p/main.cpp": mainCpp})
	m, ok := snap.Document("/p/main.cpp")
	require.True(t, ok)
	h, ok := snap.Document("/p/shapes.h")
	require.True(t, ok)
	return fixture{snap: snap, main: m, hdr: h}
}

// inMain is the scope of the body of main().
func (f fixture) inMain() *symbols.Scope { return f.main.ScopeAt(14, 2) }

func names(items []Item) []string {
	out := []string{}
	for _, it := range items {
		if it.Declaration != nil {
			out = append(out, it.Declaration.QualifiedName())
		}
	}
	return out
}

// =============================================================================
// Unqualified lookup
// =============================================================================

func TestLookup_Locals(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := NewContext(f.snap, f.main)

	items := ctx.Lookup("b", f.inMain())
	require.Len(t, items, 1)
	assert.Equal(t, symbols.KindVariable, items[0].Declaration.Kind)
	assert.Equal(t, "Box<Point>", items[0].Type.Spelling)
}

func TestLookup_ThroughUsingDirective(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := NewContext(f.snap, f.main)

	assert.Equal(t, []string{"geo::Point"}, names(ctx.Lookup("Point", f.inMain())))
	assert.Equal(t, []string{"geo::make"}, names(ctx.Lookup("make", f.inMain())))
}

func TestLookup_UnknownNameIsEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := NewContext(f.snap, f.main)

	items := ctx.Lookup("nothing_here", f.inMain())
	assert.NotNil(t, items)
	assert.Empty(t, items)
	assert.Empty(t, ctx.Lookup("", f.inMain()))
	assert.Empty(t, ctx.Lookup("b", nil))
}

func TestLookup_ClassMemberFromMethodBody(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := NewContext(f.snap, f.main)

	scope := f.main.ScopeAt(7, 4)
	require.Equal(t, symbols.ScopeBlock, scope.Kind)
	assert.Equal(t, []string{"Widget::pos"}, names(ctx.Lookup("pos", scope)))
	locals := ctx.Lookup("dx", scope)
	require.Len(t, locals, 1)
	assert.Equal(t, "dx", locals[0].Declaration.Name)
}

func TestLookup_OutOfLineDefinitionSeesClassMembers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := NewContext(f.snap, f.main)

	scope := f.main.ScopeAt(17, 2)
	assert.Equal(t, []string{"Widget::pos"}, names(ctx.Lookup("pos", scope)))
	assert.Equal(t, []string{"Widget::resize"}, names(ctx.Lookup("resize", scope)))
}

func TestLookup_InnermostLevelWins(t *testing.T) {
	t.Parallel()
	snap := build(t, map[string]string{"/p/a.cpp": `int value;
void f() {
  double value;
  {
    return;
  }
}
`})
	doc, _ := snap.Document("/p/a.cpp")
	ctx := NewContext(snap, doc)

	items := ctx.Lookup("value", doc.ScopeAt(4, 4))
	require.Len(t, items, 1)
	assert.Equal(t, "double", items[0].Type.Spelling)
}

func TestLookup_HeaderDoesNotSeeIncluder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := NewContext(f.snap, f.hdr)

	assert.Empty(t, ctx.Lookup("Widget", f.hdr.Global))
	assert.Equal(t, []string{"geo::Shape"}, names(ctx.Lookup("Shape", f.hdr.ScopeAt(1, 2))))
	require.Len(t, ctx.Visible(), 1)
}

func TestLookup_VisibleOrder(t *testing.T) {
	t.Parallel()
	snap := build(t, map[string]string{
		"/p/a.h":      "#include \"b.h\"\nint a;\n",
		"/p/b.h":      "int b;\n",
		"/p/c.h":      "int c;\n",
		"/p/main.cpp": "#include \"a.h\"\n#include \"c.h\"\nint m;\n",
	})
	doc, _ := snap.Document("/p/main.cpp")
	ctx := NewContext(snap, doc)

	var paths []string
	for _, d := range ctx.Visible() {
		paths = append(paths, d.Path)
	}
	assert.Equal(t, []string{"/p/a.h", "/p/c.h", "/p/b.h", "/p/main.cpp"}, paths)
	assert.Equal(t, []string{"b"}, names(ctx.Lookup("b", doc.Global)))
}

func TestLookup_NamespaceReopenedAcrossFiles(t *testing.T) {
	t.Parallel()
	snap := build(t, map[string]string{
		"/p/a.h":      "namespace util { int first; }\n",
		"/p/main.cpp": "#include \"a.h\"\nnamespace util {\nint second;\nvoid f() {\n  return;\n}\n}\n",
	})
	doc, _ := snap.Document("/p/main.cpp")
	ctx := NewContext(snap, doc)

	scope := doc.ScopeAt(4, 2)
	assert.Equal(t, []string{"util::first"}, names(ctx.Lookup("first", scope)))
	assert.Equal(t, []string{"util::second"}, names(ctx.Lookup("second", scope)))
}

func TestLookup_CyclicUsingDirectivesTerminate(t *testing.T) {
	t.Parallel()
	snap := build(t, map[string]string{"/p/a.cpp": `namespace a { using namespace b; int x; }
namespace b { using namespace a; int y; }
using namespace missing;
using namespace a;
`})
	doc, _ := snap.Document("/p/a.cpp")
	ctx := NewContext(snap, doc)

	assert.Equal(t, []string{"b::y"}, names(ctx.Lookup("y", doc.Global)))
	assert.Empty(t, ctx.Lookup("z", doc.Global))
}

// =============================================================================
// Expressions
// =============================================================================

func TestEvaluate_MemberAccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	toe := NewTypeOfExpression(NewContext(f.snap, f.main))

	cases := []struct {
		expr string
		want []string
	}{
		{"w.pos", []string{"Widget::pos"}},
		{"w.pos.x", []string{"geo::Point::x"}},
		{"wp->pos.y", []string{"geo::Point::y"}},
		{"(*wp).pos", []string{"Widget::pos"}},
		{"w.pts[0].y", []string{"geo::Point::y"}},
		{"make().x", []string{"geo::Point::x"}},
		{"geo::make().y", []string{"geo::Point::y"}},
		{"::geo::Shape", []string{"geo::Shape"}},
		{"b.area", []string{"geo::Shape::area"}},
		{"b.origin.x", []string{"geo::Point::x"}},
		{"b.next->y", []string{"geo::Point::y"}},
		{"w.missing", []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			assert.Equal(t, tc.want, names(toe.Evaluate(tc.expr, f.inMain(), Normal)))
		})
	}
}

func TestEvaluate_This(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	toe := NewTypeOfExpression(NewContext(f.snap, f.main))

	assert.Equal(t, []string{"Widget::pos"}, names(toe.Evaluate("this->pos", f.main.ScopeAt(7, 4), Normal)))
	assert.Equal(t, []string{"Widget::pts"}, names(toe.Evaluate("this->pts", f.main.ScopeAt(17, 2), Normal)))
	assert.Empty(t, toe.Evaluate("this->pos", f.inMain(), Normal))
}

func TestEvaluate_TemplateArgumentsOnlyInPreprocess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	toe := NewTypeOfExpression(NewContext(f.snap, f.main))

	normal := toe.Evaluate("b.value", f.inMain(), Normal)
	require.Len(t, normal, 1)
	assert.Equal(t, "T", normal[0].Type.Spelling)
	assert.Empty(t, normal[0].Bindings)
	assert.Empty(t, toe.Evaluate("b.value.x", f.inMain(), Normal))

	pre := toe.MatchesFor("b.value", f.inMain())
	require.Len(t, pre, 1)
	assert.Equal(t, "Point", pre[0].Type.Spelling)
	assert.Equal(t, "Point", pre[0].Bindings["T"].Spelling)

	assert.Equal(t, []string{"geo::Point::x"}, names(toe.MatchesFor("b.value.x", f.inMain())))
	assert.Equal(t, []string{"geo::Point::y"}, names(toe.MatchesFor("b.ptr->y", f.inMain())))
}

func TestEvaluate_SmartPointerArrow(t *testing.T) {
	t.Parallel()
	snap := build(t, map[string]string{"/p/a.cpp": `struct Node { int id; };
void f() {
  std::unique_ptr<Node> p;
  return;
}
`})
	doc, _ := snap.Document("/p/a.cpp")
	toe := NewTypeOfExpression(NewContext(snap, doc))
	assert.Equal(t, []string{"Node::id"}, names(toe.Evaluate("p->id", doc.ScopeAt(3, 2), Normal)))
}

func TestEvaluate_TypedefAndAuto(t *testing.T) {
	t.Parallel()
	snap := build(t, map[string]string{"/p/a.cpp": `struct Node { int id; };
typedef Node Alias;
Node make();
void f() {
  Alias a;
  auto n = make();
  return;
}
`})
	doc, _ := snap.Document("/p/a.cpp")
	toe := NewTypeOfExpression(NewContext(snap, doc))
	scope := doc.ScopeAt(6, 2)
	assert.Equal(t, []string{"Node::id"}, names(toe.Evaluate("a.id", scope, Normal)))
	assert.Equal(t, []string{"Node::id"}, names(toe.Evaluate("n.id", scope, Normal)))
}

func TestEvaluate_MalformedIsEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	toe := NewTypeOfExpression(NewContext(f.snap, f.main))

	for _, expr := range []string{"", "w.", "w.pos +", "w..pos", "w.pos)", "@w", "\"unterminated"} {
		items := toe.Evaluate(expr, f.inMain(), Normal)
		assert.NotNil(t, items, expr)
		assert.Empty(t, items, expr)
	}
	assert.Empty(t, toe.Evaluate("w.pos", nil, Normal))
}

func TestEvaluate_Deterministic(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	toe := NewTypeOfExpression(NewContext(f.snap, f.main))

	first := names(toe.MatchesFor("b.area", f.inMain()))
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, names(toe.MatchesFor("b.area", f.inMain())))
	}
}

func TestEvaluate_CyclicTypedefTerminates(t *testing.T) {
	t.Parallel()
	snap := build(t, map[string]string{"/p/a.cpp": `typedef B A;
typedef A B;
struct S : S { int v; };
A x;
S s;
`})
	doc, _ := snap.Document("/p/a.cpp")
	toe := NewTypeOfExpression(NewContext(snap, doc))
	assert.Empty(t, toe.Evaluate("x.v", doc.Global, Normal))
	assert.Equal(t, []string{"S::v"}, names(toe.Evaluate("s.v", doc.Global, Normal)))
}

// =============================================================================
// Helpers
// =============================================================================

func TestStripTypeAndPointerDepth(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "geo::Point", stripType("const geo::Point* const&"))
	assert.Equal(t, "Box<int>", stripType("struct Box<int>[]"))
	assert.Equal(t, 2, pointerDepth("Point**"))
	assert.Equal(t, 1, pointerDepth("Point[]&"))
	assert.Equal(t, 0, pointerDepth("Point&"))
}

func TestSubstitute(t *testing.T) {
	t.Parallel()
	b := map[string]Binding{"T": {Spelling: "int"}, "U": {Spelling: "geo::Point"}}
	assert.Equal(t, "std::pair<int,geo::Point>*", substitute("std::pair<T,U>*", b))
	assert.Equal(t, "Outer::T", substitute("Outer::T", b))
	assert.Equal(t, "Tx", substitute("Tx", b))
}

func TestSplitTemplate(t *testing.T) {
	t.Parallel()
	base, args := splitTemplate("std::map<K,std::vector<V>>")
	assert.Equal(t, "std::map", base)
	assert.Equal(t, []string{"K", "std::vector<V>"}, args)
}
