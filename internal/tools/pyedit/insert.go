package pyedit

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// UpsertFunction adds a function to the end of src, or replaces the
// existing top-level function with the same name. The snippet may carry
// decorators; they travel with the definition. Returns the new source, a
// replaced flag, and the function's name.
func UpsertFunction(ctx context.Context, src, functionCode string) (string, bool, string, error) {
	return upsertDefinition(ctx, src, functionCode, upsertSpec{
		snippetKinds: []string{"function_definition"},
		snippetErr:   ErrNoFunction,
		// Only functions are displaced; a class sharing the name stays.
		targetKinds: []string{"function_definition"},
	})
}

// UpsertClass adds a class to the end of src, or replaces the existing
// top-level class or function with the same name.
func UpsertClass(ctx context.Context, src, classCode string) (string, bool, string, error) {
	return upsertDefinition(ctx, src, classCode, upsertSpec{
		snippetKinds: []string{"class_definition"},
		snippetErr:   ErrNoClass,
		targetKinds:  []string{"class_definition", "function_definition"},
	})
}

type upsertSpec struct {
	snippetKinds []string
	snippetErr   error
	targetKinds  []string
}

func upsertDefinition(ctx context.Context, src, code string, spec upsertSpec) (string, bool, string, error) {
	snippetTree, err := parse(ctx, code)
	if err != nil {
		return "", false, "", err
	}
	defer snippetTree.Close()

	def, ok := firstDefinition(snippetTree.RootNode(), spec.snippetKinds...)
	if !ok {
		return "", false, "", spec.snippetErr
	}
	name := def.name(code)
	text := def.text(code)

	tree, err := parse(ctx, src)
	if err != nil {
		return "", false, "", err
	}
	defer tree.Close()

	if target, ok := findTopLevel(tree.RootNode(), src, name, spec.targetKinds...); ok {
		out := splice(src, target.container.StartByte(), target.container.EndByte(), text)
		return out, true, name, nil
	}

	if strings.TrimSpace(src) == "" {
		return text + "\n", false, name, nil
	}
	return strings.TrimRight(src, "\n") + "\n\n\n" + text + "\n", false, name, nil
}

// AddMethodToClass appends an empty method (body `pass`) to a top-level
// class. Argument names are used verbatim. A class body consisting of a
// lone `pass` is replaced by the method.
func AddMethodToClass(ctx context.Context, src, className, methodName string, args []string, isAsync bool) (string, error) {
	tree, err := parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()

	class, ok := findTopLevel(tree.RootNode(), src, className, "class_definition")
	if !ok {
		return "", ErrClassNotFound
	}
	body := class.node.ChildByFieldName("body")
	indent := blockIndent(src, body, class.container)

	keyword := "def"
	if isAsync {
		keyword = "async def"
	}
	header := fmt.Sprintf("%s %s(%s):", keyword, methodName, strings.Join(args, ", "))
	method := header + "\n" + indent + "    pass"

	if isPassOnly(body) {
		return splice(src, body.StartByte(), body.EndByte(), method), nil
	}
	insertAt := body.EndByte()
	return splice(src, insertAt, insertAt, "\n\n"+indent+method), nil
}

// AddImport inserts an import statement after the last of any leading
// docstring and import statements. A plain import is skipped when the
// module is already imported; a from-import is skipped when every
// requested name is already imported from that module. Returns the new
// source, the rendered statement, and whether it already existed.
func AddImport(ctx context.Context, src, module string, names []string) (string, string, bool, error) {
	statement := "import " + module
	if len(names) > 0 {
		statement = fmt.Sprintf("from %s import %s", module, strings.Join(names, ", "))
	}

	tree, err := parse(ctx, src)
	if err != nil {
		return "", statement, false, err
	}
	defer tree.Close()
	root := tree.RootNode()

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		switch node.Type() {
		case "import_statement":
			if len(names) == 0 && importsModule(node, src, module) {
				return src, statement, true, nil
			}
		case "import_from_statement":
			if len(names) > 0 && fromImportSatisfies(node, src, module, names) {
				return src, statement, true, nil
			}
		}
	}

	insertAfter := -1
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		if node.Type() == "comment" {
			continue
		}
		if !isImportOrDocstring(node) {
			break
		}
		insertAfter = endOfLine(src, node.EndByte()-1)
	}

	if insertAfter < 0 {
		return statement + "\n" + src, statement, false, nil
	}
	out := src[:insertAfter] + statement + "\n" + src[insertAfter:]
	return out, statement, false, nil
}

// importsModule reports whether a plain import statement imports module.
func importsModule(node *sitter.Node, src, module string) bool {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		name := child
		if child.Type() == "aliased_import" {
			name = child.ChildByFieldName("name")
			if name == nil {
				continue
			}
		}
		if src[name.StartByte():name.EndByte()] == module {
			return true
		}
	}
	return false
}

// fromImportSatisfies reports whether a from-import of module already
// provides every requested name.
func fromImportSatisfies(node *sitter.Node, src, module string, names []string) bool {
	moduleName := node.ChildByFieldName("module_name")
	if moduleName == nil || src[moduleName.StartByte():moduleName.EndByte()] != module {
		return false
	}

	existing := make(map[string]bool)
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.StartByte() == moduleName.StartByte() {
			continue
		}
		name := child
		if child.Type() == "aliased_import" {
			name = child.ChildByFieldName("name")
			if name == nil {
				continue
			}
		}
		existing[src[name.StartByte():name.EndByte()]] = true
	}

	for _, want := range names {
		if !existing[want] {
			return false
		}
	}
	return true
}

// isImportOrDocstring matches the statements an import may be inserted
// after: imports and bare string expressions.
func isImportOrDocstring(node *sitter.Node) bool {
	switch node.Type() {
	case "import_statement", "import_from_statement", "future_import_statement":
		return true
	case "expression_statement":
		return node.NamedChildCount() == 1 && node.NamedChild(0).Type() == "string"
	}
	return false
}
