// Package pyedit performs surgical edits on Python sources. It parses with
// tree-sitter and applies byte-range splices, so untouched code keeps its
// original formatting and comments. Every operation takes the file content
// as a string and returns the rewritten content; callers own file IO.
package pyedit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

var (
	// ErrSyntax reports that a source or snippet does not parse.
	ErrSyntax = errors.New("syntax error")

	// ErrNoFunction reports a snippet without a function definition.
	ErrNoFunction = errors.New("no function definition in code")

	// ErrNoClass reports a snippet without a class definition.
	ErrNoClass = errors.New("no class definition in code")

	// ErrNoDefinition reports a snippet whose first statement is neither a
	// function nor a class definition.
	ErrNoDefinition = errors.New("no function or class definition in code")

	// ErrFunctionNotFound reports that the target function is absent.
	ErrFunctionNotFound = errors.New("function not found")

	// ErrClassNotFound reports that the target class is absent.
	ErrClassNotFound = errors.New("class not found")

	// ErrMethodNotFound reports that the target method is absent.
	ErrMethodNotFound = errors.New("method not found")

	// ErrNodeNotFound reports that no top-level definition matches.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateParameter reports that the parameter name is taken.
	ErrDuplicateParameter = errors.New("parameter already exists")

	// ErrBadDecorator reports an unparsable decorator snippet.
	ErrBadDecorator = errors.New("invalid decorator syntax")

	// ErrNameMismatch reports that a replacement snippet defines a
	// different name than the node it should replace.
	ErrNameMismatch = errors.New("definition name mismatch")
)

// parse returns the tree for src, or ErrSyntax when the grammar reports an
// error anywhere in it. Callers must Close the returned tree.
func parse(ctx context.Context, src string) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, []byte(src))
	if err != nil {
		return nil, fmt.Errorf("parse python: %w", err)
	}
	root := tree.RootNode()
	if root.HasError() {
		point, located := firstErrorPoint(root)
		tree.Close()
		if located {
			return nil, fmt.Errorf("line %d, column %d: %w", point.Row+1, point.Column+1, ErrSyntax)
		}
		return nil, ErrSyntax
	}
	return tree, nil
}

// firstErrorPoint finds the position of the first ERROR or missing node so
// syntax failures can be reported with a location.
func firstErrorPoint(node *sitter.Node) (sitter.Point, bool) {
	if node.Type() == "ERROR" || node.IsMissing() {
		return node.StartPoint(), true
	}
	if !node.HasError() {
		return sitter.Point{}, false
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if point, ok := firstErrorPoint(node.Child(i)); ok {
			return point, true
		}
	}
	return node.StartPoint(), true
}

// definition is a located def or class statement. node is the
// function_definition or class_definition itself; container additionally
// spans the decorators when the definition is decorated.
type definition struct {
	node      *sitter.Node
	container *sitter.Node
}

func (d definition) name(src string) string {
	name := d.node.ChildByFieldName("name")
	if name == nil {
		return ""
	}
	return src[name.StartByte():name.EndByte()]
}

func (d definition) text(src string) string {
	return src[d.container.StartByte():d.container.EndByte()]
}

// asDefinition unwraps a decorated_definition and reports whether the node
// is a def or class of one of the wanted kinds.
func asDefinition(node *sitter.Node, kinds ...string) (definition, bool) {
	container := node
	if node.Type() == "decorated_definition" {
		if inner := node.ChildByFieldName("definition"); inner != nil {
			node = inner
		} else {
			return definition{}, false
		}
	}
	for _, kind := range kinds {
		if node.Type() == kind {
			return definition{node: node, container: container}, true
		}
	}
	return definition{}, false
}

// topLevel returns the definitions among the direct children of root.
func topLevel(root *sitter.Node, kinds ...string) []definition {
	var defs []definition
	for i := 0; i < int(root.NamedChildCount()); i++ {
		if def, ok := asDefinition(root.NamedChild(i), kinds...); ok {
			defs = append(defs, def)
		}
	}
	return defs
}

// findTopLevel returns the first top-level definition with the given name.
func findTopLevel(root *sitter.Node, src, name string, kinds ...string) (definition, bool) {
	for _, def := range topLevel(root, kinds...) {
		if def.name(src) == name {
			return def, true
		}
	}
	return definition{}, false
}

// findAnywhere walks the whole tree, depth first, and returns the first
// definition of a wanted kind with the given name, at any nesting level.
func findAnywhere(root *sitter.Node, src, name string, kinds ...string) (definition, bool) {
	if def, ok := asDefinition(root, kinds...); ok && def.name(src) == name {
		return def, true
	}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		if def, ok := findAnywhere(root.NamedChild(i), src, name, kinds...); ok {
			return def, true
		}
	}
	return definition{}, false
}

// firstDefinition extracts the first top-level definition from a snippet.
func firstDefinition(root *sitter.Node, kinds ...string) (definition, bool) {
	defs := topLevel(root, kinds...)
	if len(defs) == 0 {
		return definition{}, false
	}
	return defs[0], true
}

// splice replaces the byte range [start, end) of src.
func splice(src string, start, end uint32, replacement string) string {
	return src[:start] + replacement + src[end:]
}

// lineStart returns the offset of the first byte of the line containing
// offset.
func lineStart(src string, offset uint32) int {
	return strings.LastIndexByte(src[:offset], '\n') + 1
}

// lineIndent returns the leading whitespace of the line containing offset.
func lineIndent(src string, offset uint32) string {
	start := lineStart(src, offset)
	end := start
	for end < len(src) && (src[end] == ' ' || src[end] == '\t') {
		end++
	}
	return src[start:end]
}

// endOfLine returns the offset just past the newline terminating the line
// that contains offset, or len(src) for the last line.
func endOfLine(src string, offset uint32) int {
	idx := strings.IndexByte(src[offset:], '\n')
	if idx < 0 {
		return len(src)
	}
	return int(offset) + idx + 1
}

// reindent prefixes every non-blank line of code with indent.
func reindent(code, indent string) string {
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}

// blockIndent returns the indentation of a block's statements: taken from
// the first statement when the block has one, synthesized one level below
// the owning definition otherwise.
func blockIndent(src string, body *sitter.Node, owner *sitter.Node) string {
	if body != nil && body.NamedChildCount() > 0 {
		return lineIndent(src, body.NamedChild(0).StartByte())
	}
	return lineIndent(src, owner.StartByte()) + "    "
}

// isPassOnly reports whether a block consists of a single pass statement.
func isPassOnly(body *sitter.Node) bool {
	return body != nil && body.NamedChildCount() == 1 &&
		body.NamedChild(0).Type() == "pass_statement"
}

// isEllipsisOnly reports whether a block is a single bare `...` expression.
func isEllipsisOnly(body *sitter.Node) bool {
	if body == nil || body.NamedChildCount() != 1 {
		return false
	}
	stmt := body.NamedChild(0)
	if stmt.Type() != "expression_statement" || stmt.NamedChildCount() != 1 {
		return false
	}
	return stmt.NamedChild(0).Type() == "ellipsis"
}
