package pyedit

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Param describes a parameter for AddParameter.
type Param struct {
	Name       string
	Annotation string // optional type annotation
	Default    string // default value expression, used when HasDefault
	HasDefault bool
}

func (p Param) render() string {
	text := p.Name
	if p.Annotation != "" {
		text += ": " + p.Annotation
	}
	if p.HasDefault {
		if p.Annotation != "" {
			return text + " = " + p.Default
		}
		return text + "=" + p.Default
	}
	return text
}

// AddParameter adds a parameter to a function's signature. The function
// may be nested or a method. A parameter with a default is added as
// keyword-only; one without is inserted before the first defaulted
// positional parameter so the signature stays valid.
func AddParameter(ctx context.Context, src, functionName string, p Param) (string, error) {
	tree, err := parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()

	fn, ok := findAnywhere(tree.RootNode(), src, functionName, "function_definition")
	if !ok {
		return "", ErrFunctionNotFound
	}
	params := fn.node.ChildByFieldName("parameters")
	if params == nil {
		return "", ErrFunctionNotFound
	}

	var children []*sitter.Node
	for i := 0; i < int(params.NamedChildCount()); i++ {
		children = append(children, params.NamedChild(i))
	}

	starIdx, kwargsIdx := -1, -1
	firstDefaultIdx, lastPositionalIdx := -1, -1
	for i, child := range children {
		switch child.Type() {
		case "keyword_separator", "list_splat_pattern":
			if starIdx < 0 {
				starIdx = i
			}
		case "dictionary_splat_pattern":
			if kwargsIdx < 0 {
				kwargsIdx = i
			}
		case "default_parameter", "typed_default_parameter":
			if starIdx < 0 && kwargsIdx < 0 {
				if firstDefaultIdx < 0 {
					firstDefaultIdx = i
				}
				lastPositionalIdx = i
			}
		case "identifier", "typed_parameter", "positional_separator", "tuple_pattern":
			if starIdx < 0 && kwargsIdx < 0 {
				lastPositionalIdx = i
			}
		}
		if name := parameterName(child, src); name != "" && name == p.Name {
			return "", ErrDuplicateParameter
		}
	}

	text := p.render()
	closeParen := params.EndByte() - 1

	var insertAt uint32
	var insertion string
	switch {
	case p.HasDefault && kwargsIdx >= 0:
		insertAt = children[kwargsIdx].StartByte()
		insertion = text + ", "
		if starIdx < 0 {
			insertion = "*, " + insertion
		}
	case p.HasDefault:
		insertAt = closeParen
		switch {
		case len(children) == 0 && starIdx < 0:
			insertion = "*, " + text
		case starIdx < 0:
			insertion = ", *, " + text
		default:
			insertion = ", " + text
		}
	case firstDefaultIdx >= 0:
		insertAt = children[firstDefaultIdx].StartByte()
		insertion = text + ", "
	case lastPositionalIdx >= 0:
		insertAt = children[lastPositionalIdx].EndByte()
		insertion = ", " + text
	case len(children) > 0:
		// Only star or keyword sections exist; lead with the new
		// positional parameter.
		insertAt = children[0].StartByte()
		insertion = text + ", "
	default:
		insertAt = closeParen
		insertion = text
	}

	return splice(src, insertAt, insertAt, insertion), nil
}

// parameterName extracts the identifier a parameter binds, or "" for
// separators and splats.
func parameterName(node *sitter.Node, src string) string {
	switch node.Type() {
	case "identifier":
		return src[node.StartByte():node.EndByte()]
	case "typed_parameter":
		if node.NamedChildCount() > 0 && node.NamedChild(0).Type() == "identifier" {
			inner := node.NamedChild(0)
			return src[inner.StartByte():inner.EndByte()]
		}
	case "default_parameter", "typed_default_parameter":
		name := node.ChildByFieldName("name")
		if name != nil && name.Type() == "identifier" {
			return src[name.StartByte():name.EndByte()]
		}
	}
	return ""
}

// AddAttributeToInit appends `self.<name> = <value>` to a class's
// __init__, creating the method at the top of the class body when the
// class has none. A pass or `...` placeholder body is replaced.
func AddAttributeToInit(ctx context.Context, src, className, attributeName, value string) (string, error) {
	tree, err := parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()

	class, ok := findAnywhere(tree.RootNode(), src, className, "class_definition")
	if !ok {
		return "", ErrClassNotFound
	}
	body := class.node.ChildByFieldName("body")
	assignment := "self." + attributeName + " = " + value

	init, hasInit := methodInClass(body, src, "__init__")
	if !hasInit {
		indent := blockIndent(src, body, class.container)
		insertAt := body.StartByte()
		initText := "def __init__(self):\n" + indent + "    " + assignment + "\n\n" + indent
		return splice(src, insertAt, insertAt, initText), nil
	}

	initBody := init.node.ChildByFieldName("body")
	if isPassOnly(initBody) || isEllipsisOnly(initBody) {
		return splice(src, initBody.StartByte(), initBody.EndByte(), assignment), nil
	}
	indent := blockIndent(src, initBody, init.container)
	insertAt := initBody.EndByte()
	return splice(src, insertAt, insertAt, "\n"+indent+assignment), nil
}

// methodInClass finds a direct method of a class body by name.
func methodInClass(body *sitter.Node, src, name string) (definition, bool) {
	if body == nil {
		return definition{}, false
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		if def, ok := asDefinition(body.NamedChild(i), "function_definition"); ok && def.name(src) == name {
			return def, true
		}
	}
	return definition{}, false
}

// AddDecorator prepends a decorator line to a function or method. The
// decorator ends up outermost, above any existing decorators.
func AddDecorator(ctx context.Context, src, functionName, decoratorCode string) (string, error) {
	decorator := strings.TrimSpace(decoratorCode)
	probe := decorator + "\ndef __probe__():\n    pass"
	probeTree, err := parse(ctx, probe)
	if err != nil {
		return "", ErrBadDecorator
	}
	probeOK := probeTree.RootNode().NamedChildCount() > 0 &&
		probeTree.RootNode().NamedChild(0).Type() == "decorated_definition"
	probeTree.Close()
	if !probeOK {
		return "", ErrBadDecorator
	}

	tree, err := parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()

	fn, ok := findAnywhere(tree.RootNode(), src, functionName, "function_definition")
	if !ok {
		return "", ErrFunctionNotFound
	}
	start := fn.container.StartByte()
	indent := lineIndent(src, start)
	return splice(src, start, start, decorator+"\n"+indent), nil
}

// RenameSymbol renames every binding and reference of a name: variables,
// function and class names, and parameters. Attribute names, keyword
// argument names and imported module names are left alone. Renaming a
// name that does not occur is not an error.
func RenameSymbol(ctx context.Context, src, oldName, newName string) (string, error) {
	tree, err := parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()

	type span struct{ start, end uint32 }
	var spans []span

	var visit func(node *sitter.Node, inImport bool)
	visit = func(node *sitter.Node, inImport bool) {
		switch node.Type() {
		case "import_statement", "import_from_statement", "future_import_statement":
			inImport = true
		case "identifier":
			if !inImport && src[node.StartByte():node.EndByte()] == oldName && !skipRename(node) {
				spans = append(spans, span{node.StartByte(), node.EndByte()})
			}
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			visit(node.NamedChild(i), inImport)
		}
	}
	visit(tree.RootNode(), false)

	out := src
	for i := len(spans) - 1; i >= 0; i-- {
		out = splice(out, spans[i].start, spans[i].end, newName)
	}
	return out, nil
}

// skipRename filters identifier positions that are names-of-things-on-
// objects rather than bindings: attribute accesses and keyword arguments.
func skipRename(node *sitter.Node) bool {
	parent := node.Parent()
	if parent == nil {
		return false
	}
	switch parent.Type() {
	case "attribute":
		attr := parent.ChildByFieldName("attribute")
		return attr != nil && attr.StartByte() == node.StartByte()
	case "keyword_argument":
		name := parent.ChildByFieldName("name")
		return name != nil && name.StartByte() == node.StartByte()
	}
	return false
}

// AppendToFunction inserts statements into a top-level function's body,
// before a trailing return when one exists at the top level of the body.
// A pass or `...` placeholder body is replaced by the new code.
func AppendToFunction(ctx context.Context, src, functionName, code string) (string, error) {
	snippet, err := parse(ctx, strings.Trim(code, "\n"))
	if err != nil {
		return "", err
	}
	snippet.Close()

	tree, err := parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()

	fn, ok := findTopLevel(tree.RootNode(), src, functionName, "function_definition")
	if !ok {
		return "", ErrFunctionNotFound
	}
	body := fn.node.ChildByFieldName("body")
	indent := blockIndent(src, body, fn.container)
	block := reindent(strings.Trim(code, "\n"), indent)

	if isPassOnly(body) || isEllipsisOnly(body) {
		return splice(src, body.StartByte(), body.EndByte(), strings.TrimPrefix(block, indent)), nil
	}

	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		if child.Type() != "return_statement" {
			continue
		}
		insertAt := uint32(lineStart(src, child.StartByte()))
		return splice(src, insertAt, insertAt, block+"\n"), nil
	}

	insertAt := body.EndByte()
	return splice(src, insertAt, insertAt, "\n"+block), nil
}

// ReplaceTopLevelNode swaps a top-level function or class for new code.
// The snippet's first statement must be a definition and its name must
// match nodeName; the found name is returned alongside ErrNameMismatch so
// callers can report both.
func ReplaceTopLevelNode(ctx context.Context, src, nodeName, newCode string) (string, string, error) {
	def, err := leadingDefinition(ctx, newCode, "function_definition", "class_definition")
	if err != nil {
		return "", "", err
	}
	gotName := def.name
	if gotName != nodeName {
		return "", gotName, ErrNameMismatch
	}

	tree, err := parse(ctx, src)
	if err != nil {
		return "", gotName, err
	}
	defer tree.Close()

	target, ok := findTopLevel(tree.RootNode(), src, nodeName, "function_definition", "class_definition")
	if !ok {
		return "", gotName, ErrNodeNotFound
	}
	return splice(src, target.container.StartByte(), target.container.EndByte(), def.text), gotName, nil
}

// ReplaceMethodInClass swaps one method of a class for new code, keeping
// the class's indentation.
func ReplaceMethodInClass(ctx context.Context, src, className, methodName, newCode string) (string, string, error) {
	def, err := leadingDefinition(ctx, newCode, "function_definition")
	if err != nil {
		return "", "", err
	}
	gotName := def.name
	if gotName != methodName {
		return "", gotName, ErrNameMismatch
	}

	tree, err := parse(ctx, src)
	if err != nil {
		return "", gotName, err
	}
	defer tree.Close()

	class, ok := findAnywhere(tree.RootNode(), src, className, "class_definition")
	if !ok {
		return "", gotName, ErrClassNotFound
	}
	method, ok := methodInClass(class.node.ChildByFieldName("body"), src, methodName)
	if !ok {
		return "", gotName, ErrMethodNotFound
	}

	indent := lineIndent(src, method.container.StartByte())
	replacement := strings.TrimPrefix(reindent(def.text, indent), indent)
	return splice(src, method.container.StartByte(), method.container.EndByte(), replacement), gotName, nil
}

// snippetDefinition is a definition extracted from a standalone snippet.
type snippetDefinition struct {
	name string
	text string
}

// leadingDefinition parses a snippet and requires its first statement
// (ignoring comments) to be a definition of one of the wanted kinds.
func leadingDefinition(ctx context.Context, code string, kinds ...string) (snippetDefinition, error) {
	trimmed := strings.Trim(code, "\n")
	tree, err := parse(ctx, trimmed)
	if err != nil {
		return snippetDefinition{}, err
	}
	defer tree.Close()

	root := tree.RootNode()
	var first *sitter.Node
	for i := 0; i < int(root.NamedChildCount()); i++ {
		if root.NamedChild(i).Type() == "comment" {
			continue
		}
		first = root.NamedChild(i)
		break
	}
	if first == nil {
		return snippetDefinition{}, errForKinds(kinds)
	}
	def, ok := asDefinition(first, kinds...)
	if !ok {
		return snippetDefinition{}, errForKinds(kinds)
	}
	return snippetDefinition{name: def.name(trimmed), text: def.text(trimmed)}, nil
}

func errForKinds(kinds []string) error {
	if len(kinds) == 1 && kinds[0] == "function_definition" {
		return ErrNoFunction
	}
	return ErrNoDefinition
}
