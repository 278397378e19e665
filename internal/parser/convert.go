package parser

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/cppmodel/internal/ast"
	"github.com/jward/cppmodel/internal/symbols"
)

// converter lowers the tree-sitter concrete syntax tree into the arena AST.
// Conditional-compilation branches are evaluated against the predefined
// macros plus the #defines seen so far, so only the active branch of an
// include guard or #ifdef contributes nodes.
type converter struct {
	src      []byte
	b        *ast.Builder
	defines  map[string]string
	includes []Include
}

func newConverter(src []byte, root ast.Span, macros map[string]string) *converter {
	defines := make(map[string]string, len(macros))
	for k, v := range macros {
		defines[k] = v
	}
	return &converter{src: src, b: ast.NewBuilder(root), defines: defines}
}

func (c *converter) text(n *sitter.Node) string {
	if n == nil || n.IsNull() {
		return ""
	}
	return n.Content(c.src)
}

func (c *converter) add(parent ast.NodeID, kind ast.Kind, n *sitter.Node, fill func(*ast.Node)) ast.NodeID {
	node := ast.Node{Kind: kind, Span: span(n)}
	if fill != nil {
		fill(&node)
	}
	return c.b.Add(parent, node)
}

// children converts every named child of n under parent.
func (c *converter) children(n *sitter.Node, parent ast.NodeID) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c.convert(n.NamedChild(i), parent)
	}
}

func (c *converter) convert(n *sitter.Node, parent ast.NodeID) {
	if n == nil || n.IsNull() {
		return
	}
	switch n.Type() {
	case "preproc_include":
		c.convertInclude(n, parent)
	case "preproc_def", "preproc_function_def":
		name := c.text(n.ChildByFieldName("name"))
		value := strings.TrimSpace(c.text(n.ChildByFieldName("value")))
		c.defines[name] = value
		c.add(parent, ast.KindDefine, n, func(a *ast.Node) {
			a.Name = name
			a.Type = value
		})
	case "preproc_call":
		if strings.TrimSpace(c.text(n.ChildByFieldName("directive"))) == "#undef" {
			delete(c.defines, strings.TrimSpace(c.text(n.ChildByFieldName("argument"))))
		}
	case "preproc_ifdef", "preproc_elifdef":
		c.convertIfdef(n, parent)
	case "preproc_if", "preproc_elif":
		cond := n.ChildByFieldName("condition")
		c.branch(n, parent, c.eval(cond, 0) != 0, cond)
	case "preproc_else":
		c.children(n, parent)

	case "namespace_definition":
		c.convertNamespace(n, parent)
	case "class_specifier", "struct_specifier", "union_specifier":
		c.convertClass(n, parent, "")
	case "enum_specifier":
		c.convertEnum(n, parent, "")
	case "function_definition":
		c.convertFunctionDefinition(n, parent)
	case "declaration", "field_declaration":
		c.convertDeclaration(n, parent)
	case "type_definition":
		c.convertTypedef(n, parent)
	case "alias_declaration":
		c.add(parent, ast.KindTypedef, n, func(a *ast.Node) {
			a.Name = c.text(n.ChildByFieldName("name"))
			a.Type = spelling(c.text(n.ChildByFieldName("type")))
		})
	case "namespace_alias_definition":
		c.add(parent, ast.KindTypedef, n, func(a *ast.Node) {
			a.Name = c.text(n.ChildByFieldName("name"))
			if n.NamedChildCount() > 1 {
				a.Type = spelling(c.text(n.NamedChild(int(n.NamedChildCount()) - 1)))
			}
		})
	case "using_declaration":
		c.convertUsing(n, parent)
	case "template_declaration":
		c.convertTemplate(n, parent)

	case "compound_statement":
		id := c.add(parent, ast.KindBlock, n, nil)
		c.children(n, id)
	case "if_statement", "for_statement", "while_statement", "do_statement", "switch_statement":
		id := c.add(parent, ast.KindBlock, n, nil)
		c.children(n, id)
	case "for_range_loop":
		id := c.add(parent, ast.KindBlock, n, nil)
		c.declaratorWith(n, n.ChildByFieldName("declarator"), c.typeSpelling(n, n.ChildByFieldName("type")), id, c.specifierFlags(n))
		c.convert(n.ChildByFieldName("body"), id)
	case "catch_clause":
		id := c.add(parent, ast.KindBlock, n, nil)
		c.parameters(n.ChildByFieldName("parameters"), id)
		c.convert(n.ChildByFieldName("body"), id)
	case "lambda_expression":
		id := c.add(parent, ast.KindFunction, n, func(a *ast.Node) { a.Flags = ast.FlagDefinition })
		if d := n.ChildByFieldName("declarator"); d != nil {
			c.parameters(d.ChildByFieldName("parameters"), id)
		}
		c.convert(n.ChildByFieldName("body"), id)
	case "expression_statement", "return_statement", "throw_statement":
		id := c.add(parent, ast.KindStatement, n, nil)
		c.children(n, id)

	case "friend_declaration", "access_specifier", "comment", "static_assert_declaration",
		"field_initializer_list", "template_argument_list":
	default:
		// Wrappers (linkage specifications, ERROR recovery nodes, expression
		// trees) are transparent.
		c.children(n, parent)
	}
}

func (c *converter) convertInclude(n *sitter.Node, parent ast.NodeID) {
	path := n.ChildByFieldName("path")
	if path == nil {
		return
	}
	raw := strings.TrimSpace(c.text(path))
	system := path.Type() == "system_lib_string"
	name := strings.Trim(raw, `"<>`)
	if name == "" {
		return
	}
	c.add(parent, ast.KindInclude, n, func(a *ast.Node) {
		a.Name = name
		if system {
			a.Flags = ast.FlagSystemInclude
		}
	})
	c.includes = append(c.includes, Include{
		Spelling: name,
		System:   system,
		Line:     int(n.StartPoint().Row),
	})
}

func (c *converter) convertIfdef(n *sitter.Node, parent ast.NodeID) {
	directive := ""
	if n.ChildCount() > 0 {
		directive = strings.TrimSpace(n.Child(0).Type())
	}
	name := n.ChildByFieldName("name")
	_, defined := c.defines[c.text(name)]
	active := defined
	if strings.HasSuffix(directive, "ndef") {
		active = !defined
	}
	c.branch(n, parent, active, name)
}

// branch converts the body of a conditional directive when active, and its
// alternative (#else, #elif) otherwise. skip is the condition node.
func (c *converter) branch(n *sitter.Node, parent ast.NodeID, active bool, skip *sitter.Node) {
	alt := n.ChildByFieldName("alternative")
	if !active {
		if alt != nil {
			c.convert(alt, parent)
		}
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if sameNode(child, skip) || sameNode(child, alt) {
			continue
		}
		c.convert(child, parent)
	}
}

func (c *converter) convertNamespace(n *sitter.Node, parent ast.NodeID) {
	name := spelling(c.text(n.ChildByFieldName("name")))
	parts := []string{name}
	if strings.Contains(name, "::") {
		parts = strings.Split(name, "::")
	}
	cur := parent
	for _, part := range parts {
		part := strings.TrimPrefix(strings.TrimSpace(part), "inline ")
		cur = c.add(cur, ast.KindNamespace, n, func(a *ast.Node) { a.Name = part })
	}
	if body := n.ChildByFieldName("body"); body != nil {
		c.children(body, cur)
	}
}

// convertClass lowers a class, struct or union specifier. name overrides
// an anonymous specifier's name (typedef struct { ... } Name;).
func (c *converter) convertClass(n *sitter.Node, parent ast.NodeID, name string) ast.NodeID {
	if own := c.specifierName(n); own != "" {
		name = own
	}
	body := n.ChildByFieldName("body")

	var flags ast.Flags
	switch n.Type() {
	case "struct_specifier":
		flags |= ast.FlagStruct
	case "union_specifier":
		flags |= ast.FlagUnion
	}
	if body != nil {
		flags |= ast.FlagDefinition
	}

	var bases []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() != "base_class_clause" {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			base := child.NamedChild(j)
			switch base.Type() {
			case "type_identifier", "qualified_identifier", "template_type":
				bases = append(bases, spelling(c.text(base)))
			}
		}
	}

	id := c.add(parent, ast.KindClass, n, func(a *ast.Node) {
		a.Name = name
		a.Type = name
		a.Flags = flags
		a.Bases = bases
	})
	if body != nil {
		c.children(body, id)
	}
	return id
}

func (c *converter) convertEnum(n *sitter.Node, parent ast.NodeID, name string) {
	if own := c.specifierName(n); own != "" {
		name = own
	}
	var flags ast.Flags
	for i := 0; i < int(n.ChildCount()); i++ {
		switch n.Child(i).Type() {
		case "class", "struct":
			flags |= ast.FlagStruct
		}
	}
	body := n.ChildByFieldName("body")
	if body != nil {
		flags |= ast.FlagDefinition
	}
	id := c.add(parent, ast.KindEnum, n, func(a *ast.Node) {
		a.Name = name
		a.Type = name
		a.Flags = flags
	})
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		e := body.NamedChild(i)
		if e.Type() != "enumerator" {
			continue
		}
		c.add(id, ast.KindEnumerator, e, func(a *ast.Node) {
			a.Name = c.text(e.ChildByFieldName("name"))
			a.Type = name
		})
	}
}

// specifierName returns the identifier a class or enum specifier declares.
func (c *converter) specifierName(n *sitter.Node) string {
	name := n.ChildByFieldName("name")
	if name == nil {
		return ""
	}
	switch name.Type() {
	case "template_type":
		return c.text(name.ChildByFieldName("name"))
	case "qualified_identifier":
		s := spelling(c.text(name))
		if i := strings.LastIndex(s, "::"); i >= 0 {
			return s[i+2:]
		}
		return s
	}
	return c.text(name)
}

func (c *converter) convertFunctionDefinition(n *sitter.Node, parent ast.NodeID) {
	ret := c.typeSpelling(n, n.ChildByFieldName("type"))
	name, fn, suffix := c.unwrapDeclarator(n.ChildByFieldName("declarator"))
	if fn == nil || name == "" {
		c.children(n, parent)
		return
	}
	if ret != "" {
		ret += suffix
	}
	flags := (c.specifierFlags(n) &^ ast.FlagConst) | c.methodFlags(fn) | ast.FlagDefinition
	id := c.function(n, fn, name, ret, flags, parent)
	c.convert(n.ChildByFieldName("body"), id)
}

func (c *converter) function(n, fn *sitter.Node, name, ret string, flags ast.Flags, parent ast.NodeID) ast.NodeID {
	id := c.add(parent, ast.KindFunction, n, func(a *ast.Node) {
		a.Name = name
		a.Type = ret
		a.Flags = flags
	})
	c.parameters(fn.ChildByFieldName("parameters"), id)
	return id
}

func (c *converter) parameters(list *sitter.Node, parent ast.NodeID) {
	if list == nil {
		return
	}
	for i := 0; i < int(list.NamedChildCount()); i++ {
		p := list.NamedChild(i)
		switch p.Type() {
		case "parameter_declaration", "optional_parameter_declaration", "variadic_parameter_declaration":
		default:
			continue
		}
		typ := c.typeSpelling(p, p.ChildByFieldName("type"))
		name, _, suffix := c.unwrapDeclarator(p.ChildByFieldName("declarator"))
		c.add(parent, ast.KindParameter, p, func(a *ast.Node) {
			a.Name = name
			a.Type = typ + suffix
		})
	}
}

// declaratorTypes are the node types that can appear as a declarator of a
// declaration or field declaration.
var declaratorTypes = map[string]bool{
	"identifier":               true,
	"field_identifier":         true,
	"init_declarator":          true,
	"pointer_declarator":       true,
	"reference_declarator":     true,
	"array_declarator":         true,
	"function_declarator":      true,
	"parenthesized_declarator": true,
	"attributed_declarator":    true,
	"operator_name":            true,
	"destructor_name":          true,
	"qualified_identifier":     true,
	"template_function":        true,
}

func (c *converter) convertDeclaration(n *sitter.Node, parent ast.NodeID) {
	typeNode := n.ChildByFieldName("type")
	typ := c.typeSpelling(n, typeNode)

	var decls []*sitter.Node
	afterAssign := false
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if !child.IsNamed() {
			afterAssign = child.Type() == "="
			continue
		}
		if afterAssign || sameNode(child, typeNode) || !declaratorTypes[child.Type()] {
			continue
		}
		decls = append(decls, child)
	}

	if typeNode != nil && isSpecifier(typeNode.Type()) {
		if typeNode.ChildByFieldName("body") != nil || len(decls) == 0 {
			c.convert(typeNode, parent)
		}
	}

	pure := c.isPureVirtual(n)
	flags := c.specifierFlags(n)
	for _, d := range decls {
		if pure {
			c.declaratorWith(n, d, typ, parent, flags|ast.FlagPureVirtual|ast.FlagVirtual)
			continue
		}
		c.declaratorWith(n, d, typ, parent, flags)
	}
}

// declaratorWith adds a function or variable node for one declarator.
func (c *converter) declaratorWith(n, d *sitter.Node, typ string, parent ast.NodeID, flags ast.Flags) {
	name, fn, suffix := c.unwrapDeclarator(d)
	if name == "" {
		return
	}
	if fn != nil {
		ret := typ
		if ret != "" {
			ret += suffix
		}
		c.function(n, fn, name, ret, (flags&^ast.FlagConst)|c.methodFlags(fn), parent)
		return
	}
	full := typ + suffix
	if typ == "auto" && d.Type() == "init_declarator" {
		if v := d.ChildByFieldName("value"); v != nil {
			full = "decltype(" + spelling(c.initializerText(v)) + ")"
		}
	}
	c.add(parent, ast.KindDeclaration, d, func(a *ast.Node) {
		a.Name = name
		a.Type = full
		a.Flags = flags &^ (ast.FlagVirtual | ast.FlagPureVirtual)
	})
}

// initializerText returns the expression of an initializer: the argument
// of "= expr", or the single element of "{expr}".
func (c *converter) initializerText(v *sitter.Node) string {
	if v.Type() == "initializer_list" && v.NamedChildCount() == 1 {
		return c.text(v.NamedChild(0))
	}
	return c.text(v)
}

func (c *converter) convertTypedef(n *sitter.Node, parent ast.NodeID) {
	typeNode := n.ChildByFieldName("type")
	typ := c.typeSpelling(n, typeNode)
	var names []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if sameNode(child, typeNode) {
			continue
		}
		switch child.Type() {
		case "type_identifier", "pointer_declarator", "reference_declarator",
			"array_declarator", "function_declarator", "parenthesized_declarator":
			names = append(names, child)
		}
	}

	// typedef struct { ... } Name; declares the class under the typedef name.
	if typeNode != nil && isSpecifier(typeNode.Type()) && typeNode.ChildByFieldName("body") != nil {
		anonymous := typeNode.ChildByFieldName("name") == nil
		if anonymous && len(names) > 0 {
			first, _, _ := c.unwrapDeclarator(names[0])
			if typeNode.Type() == "enum_specifier" {
				c.convertEnum(typeNode, parent, first)
			} else {
				c.convertClass(typeNode, parent, first)
			}
			names = names[1:]
			typ = first
		} else {
			c.convert(typeNode, parent)
		}
	}

	for _, d := range names {
		name, _, suffix := c.unwrapDeclarator(d)
		if name == "" {
			continue
		}
		c.add(parent, ast.KindTypedef, d, func(a *ast.Node) {
			a.Name = name
			a.Type = typ + suffix
		})
	}
}

func (c *converter) convertUsing(n *sitter.Node, parent ast.NodeID) {
	directive := false
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == "namespace" {
			directive = true
		}
	}
	var target string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "identifier", "qualified_identifier", "namespace_identifier", "type_identifier":
			target = spelling(c.text(child))
		}
	}
	if target == "" {
		return
	}
	c.add(parent, ast.KindUsing, n, func(a *ast.Node) {
		a.Name = strings.TrimPrefix(target, "::")
		if directive {
			a.Flags = ast.FlagUsingDirective
		}
	})
}

func (c *converter) convertTemplate(n *sitter.Node, parent ast.NodeID) {
	params := n.ChildByFieldName("parameters")
	id := c.add(parent, ast.KindTemplate, n, func(a *ast.Node) {
		a.TemplateParams = c.templateParams(params)
	})
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if sameNode(child, params) {
			continue
		}
		c.convert(child, id)
	}
}

func (c *converter) templateParams(list *sitter.Node) []string {
	if list == nil {
		return nil
	}
	var names []string
	for i := 0; i < int(list.NamedChildCount()); i++ {
		p := list.NamedChild(i)
		var name string
		switch p.Type() {
		case "type_parameter_declaration", "variadic_type_parameter_declaration":
			name = c.lastChildOfType(p, "type_identifier")
		case "optional_type_parameter_declaration":
			name = c.text(p.ChildByFieldName("name"))
		case "parameter_declaration", "optional_parameter_declaration", "variadic_parameter_declaration":
			name, _, _ = c.unwrapDeclarator(p.ChildByFieldName("declarator"))
		case "template_template_parameter_declaration":
			name = c.lastChildOfType(p, "type_identifier")
			if name == "" {
				for j := 0; j < int(p.NamedChildCount()); j++ {
					if inner := c.lastChildOfType(p.NamedChild(j), "type_identifier"); inner != "" {
						name = inner
					}
				}
			}
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

func (c *converter) lastChildOfType(n *sitter.Node, typ string) string {
	var out string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == typ {
			out = c.text(child)
		}
	}
	return out
}

// unwrapDeclarator descends through pointer, reference, array, init and
// function declarators to the declared name. fn is the outermost function
// declarator that declares a function (not a pointer to one); suffix is
// the pointer/reference/array decoration to append to the base type.
func (c *converter) unwrapDeclarator(d *sitter.Node) (name string, fn *sitter.Node, suffix string) {
	for d != nil && !d.IsNull() {
		switch d.Type() {
		case "identifier", "field_identifier", "type_identifier", "destructor_name", "operator_name",
			"namespace_identifier", "operator_cast":
			return spelling(c.text(d)), fn, suffix
		case "qualified_identifier":
			return spelling(c.text(d)), fn, suffix
		case "template_function", "template_method":
			return symbols.StripTemplateArgs(spelling(c.text(d))), fn, suffix
		case "pointer_declarator":
			if fn != nil {
				// (*fp)(args): a pointer to function is a variable.
				fn = nil
			}
			suffix += "*"
			d = d.ChildByFieldName("declarator")
		case "reference_declarator":
			if strings.HasPrefix(strings.TrimSpace(c.text(d)), "&&") {
				suffix += "&&"
			} else {
				suffix += "&"
			}
			d = lastNamed(d)
		case "array_declarator":
			suffix += "[]"
			d = d.ChildByFieldName("declarator")
		case "init_declarator":
			d = d.ChildByFieldName("declarator")
		case "function_declarator":
			if fn == nil {
				fn = d
			}
			d = d.ChildByFieldName("declarator")
		case "parenthesized_declarator", "attributed_declarator":
			if d.NamedChildCount() == 0 {
				return "", fn, suffix
			}
			d = d.NamedChild(0)
		default:
			return "", fn, suffix
		}
	}
	return "", fn, suffix
}

// typeSpelling renders the declared type of decl, including a leading
// const qualifier.
func (c *converter) typeSpelling(decl, typeNode *sitter.Node) string {
	if typeNode == nil {
		return ""
	}
	var typ string
	if isSpecifier(typeNode.Type()) {
		typ = c.specifierName(typeNode)
	} else {
		typ = spelling(c.text(typeNode))
	}
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		child := decl.NamedChild(i)
		if child.Type() == "type_qualifier" && c.text(child) == "const" {
			return "const " + typ
		}
	}
	return typ
}

// specifierFlags collects virtual, static and const specifiers written on
// the declaration itself.
func (c *converter) specifierFlags(n *sitter.Node) ast.Flags {
	var flags ast.Flags
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "virtual", "virtual_function_specifier":
			flags |= ast.FlagVirtual
		case "storage_class_specifier":
			if c.text(child) == "static" {
				flags |= ast.FlagStatic
			}
		case "type_qualifier":
			if c.text(child) == "const" {
				flags |= ast.FlagConst
			}
		default:
			if !child.IsNamed() && child.Type() == "virtual" {
				flags |= ast.FlagVirtual
			}
		}
	}
	return flags
}

// methodFlags reads trailing qualifiers of a function declarator: const
// methods, and override/final which imply a virtual function.
func (c *converter) methodFlags(fn *sitter.Node) ast.Flags {
	var flags ast.Flags
	for i := 0; i < int(fn.NamedChildCount()); i++ {
		child := fn.NamedChild(i)
		switch child.Type() {
		case "type_qualifier":
			if c.text(child) == "const" {
				flags |= ast.FlagConst
			}
		case "virtual_specifier":
			flags |= ast.FlagVirtual
		}
	}
	return flags
}

// isPureVirtual reports a "= 0" member declaration.
func (c *converter) isPureVirtual(n *sitter.Node) bool {
	if n.Type() != "field_declaration" {
		return false
	}
	if v := n.ChildByFieldName("default_value"); v != nil {
		return strings.TrimSpace(c.text(v)) == "0"
	}
	return false
}

func isSpecifier(typ string) bool {
	switch typ {
	case "class_specifier", "struct_specifier", "union_specifier", "enum_specifier":
		return true
	}
	return false
}

func lastNamed(n *sitter.Node) *sitter.Node {
	if n.NamedChildCount() == 0 {
		return nil
	}
	return n.NamedChild(int(n.NamedChildCount()) - 1)
}

func sameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return false
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// spelling normalizes whitespace in a type or name as written in source.
func spelling(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	for _, tok := range []string{"::", "<", ">", "*", "&", ",", "(", ")", "[", "]"} {
		s = strings.ReplaceAll(s, " "+tok, tok)
		s = strings.ReplaceAll(s, tok+" ", tok)
	}
	return s
}
