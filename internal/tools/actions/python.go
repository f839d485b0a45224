package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aura-dev/aura/internal/tools"
	"github.com/aura-dev/aura/internal/tools/pyedit"
)

// readSource loads the Python file a code-editing tool operates on. The
// second return carries the expected-failure result for a missing or
// unreadable file; the caller returns it verbatim when non-empty.
func readSource(path string) (string, string) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Sprintf("Error: File not found at '%s'.", path)
	}
	if err != nil {
		return "", fmt.Sprintf("Error reading file at '%s': %v", path, err)
	}
	return string(data), ""
}

// writeSource persists an edited Python file, creating parent directories
// for files the insertion tools mint from scratch.
func writeSource(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func addFunctionToFile(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")
	code := stringArg(args, "function_code")

	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if werr := writeSource(path, code+"\n"); werr != nil {
			return nil, werr
		}
		return fmt.Sprintf("Successfully created new file %s with the provided function.", path), nil
	}
	if err != nil {
		return fmt.Sprintf("Error reading file at '%s': %v", path, err), nil
	}

	out, replaced, name, err := pyedit.UpsertFunction(ctx, string(src), code)
	switch {
	case errors.Is(err, pyedit.ErrNoFunction):
		return "Error: The provided `function_code` did not contain a valid function definition.", nil
	case errors.Is(err, pyedit.ErrSyntax):
		return fmt.Sprintf("Error: Syntax error in the file '%s' or in the provided `function_code`. Details: %v", path, err), nil
	case err != nil:
		return nil, err
	}
	if err := writeSource(path, out); err != nil {
		return nil, err
	}
	verb := "added"
	if replaced {
		verb = "replaced"
	}
	return fmt.Sprintf("Successfully %s function '%s' in '%s'.", verb, name, path), nil
}

func addClassToFile(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")
	code := stringArg(args, "class_code")

	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if werr := writeSource(path, code+"\n"); werr != nil {
			return nil, werr
		}
		return fmt.Sprintf("Successfully created new file %s with the provided class.", path), nil
	}
	if err != nil {
		return fmt.Sprintf("Error reading file at '%s': %v", path, err), nil
	}

	out, replaced, name, err := pyedit.UpsertClass(ctx, string(src), code)
	switch {
	case errors.Is(err, pyedit.ErrNoClass):
		return "Error: The provided `class_code` did not contain a valid class definition.", nil
	case errors.Is(err, pyedit.ErrSyntax):
		return fmt.Sprintf("Error: Syntax error in the file '%s' or in the provided `class_code`. Details: %v", path, err), nil
	case err != nil:
		return nil, err
	}
	if err := writeSource(path, out); err != nil {
		return nil, err
	}
	verb := "added"
	if replaced {
		verb = "replaced"
	}
	return fmt.Sprintf("Successfully %s class '%s' in '%s'.", verb, name, path), nil
}

func addMethodToClass(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")
	className := stringArg(args, "class_name")
	name := stringArg(args, "name")
	methodArgs := stringsArg(args, "args")
	isAsync := boolArg(args, "is_async")

	src, failure := readSource(path)
	if failure != "" {
		return failure, nil
	}

	out, err := pyedit.AddMethodToClass(ctx, src, className, name, methodArgs, isAsync)
	switch {
	case errors.Is(err, pyedit.ErrClassNotFound):
		return fmt.Sprintf("Error: Class '%s' not found in '%s'.", className, path), nil
	case errors.Is(err, pyedit.ErrSyntax):
		return fmt.Sprintf("Error: The file at '%s' contains a syntax error and could not be parsed. Details: %v", path, err), nil
	case err != nil:
		return nil, err
	}
	if err := writeSource(path, out); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully added method '%s' to class '%s' in '%s'.", name, className, path), nil
}

func addImport(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")
	module := stringArg(args, "module")
	names := stringsArg(args, "names")

	src, failure := readSource(path)
	if failure != "" {
		return failure, nil
	}

	out, statement, already, err := pyedit.AddImport(ctx, src, module, names)
	switch {
	case errors.Is(err, pyedit.ErrSyntax):
		return fmt.Sprintf("Error: The file at '%s' contains a syntax error and could not be parsed. Details: %v", path, err), nil
	case err != nil:
		return nil, err
	}
	if already {
		if len(names) > 0 {
			return fmt.Sprintf("Import '%s' already satisfied in '%s'.", statement, path), nil
		}
		return fmt.Sprintf("Import '%s' already exists in '%s'.", statement, path), nil
	}
	if err := writeSource(path, out); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully added import '%s' to '%s'.", statement, path), nil
}

func addParameterToFunction(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")
	functionName := stringArg(args, "function_name")
	param := pyedit.Param{
		Name:       stringArg(args, "parameter_name"),
		Annotation: stringArg(args, "parameter_type"),
	}
	if v, ok := args["default_value"].(string); ok {
		param.Default = v
		param.HasDefault = true
	}

	src, failure := readSource(path)
	if failure != "" {
		return failure, nil
	}

	out, err := pyedit.AddParameter(ctx, src, functionName, param)
	switch {
	case errors.Is(err, pyedit.ErrDuplicateParameter):
		return fmt.Sprintf("Error: Parameter '%s' already exists in function '%s'.", param.Name, functionName), nil
	case errors.Is(err, pyedit.ErrFunctionNotFound):
		return fmt.Sprintf("Error: Function '%s' not found in '%s'.", functionName, path), nil
	case errors.Is(err, pyedit.ErrSyntax):
		return fmt.Sprintf("Error: Syntax error in file '%s'. Details: %v", path, err), nil
	case err != nil:
		return nil, err
	}
	if err := writeSource(path, out); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully added parameter '%s' to function '%s' in '%s'.", param.Name, functionName, path), nil
}

func addAttributeToInit(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")
	className := stringArg(args, "class_name")
	attributeName := stringArg(args, "attribute_name")
	defaultValue := stringArg(args, "default_value")

	src, failure := readSource(path)
	if failure != "" {
		return failure, nil
	}

	out, err := pyedit.AddAttributeToInit(ctx, src, className, attributeName, defaultValue)
	switch {
	case errors.Is(err, pyedit.ErrClassNotFound):
		return fmt.Sprintf("Error: Class '%s' not found in '%s'.", className, path), nil
	case errors.Is(err, pyedit.ErrSyntax):
		return fmt.Sprintf("Error: Syntax error in file '%s'. Details: %v", path, err), nil
	case err != nil:
		return nil, err
	}
	if err := writeSource(path, out); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully added attribute '%s' to __init__ in class '%s' in '%s'.", attributeName, className, path), nil
}

func addDecoratorToFunction(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")
	functionName := stringArg(args, "function_name")
	decoratorCode := stringArg(args, "decorator_code")

	if !strings.HasPrefix(strings.TrimSpace(decoratorCode), "@") {
		return "Error: `decorator_code` must be a valid decorator string starting with '@'.", nil
	}

	src, failure := readSource(path)
	if failure != "" {
		return failure, nil
	}

	out, err := pyedit.AddDecorator(ctx, src, functionName, decoratorCode)
	switch {
	case errors.Is(err, pyedit.ErrBadDecorator):
		return fmt.Sprintf("Error: Invalid decorator syntax provided in `decorator_code`. Details: %v", err), nil
	case errors.Is(err, pyedit.ErrFunctionNotFound):
		return fmt.Sprintf("Error: Function or method '%s' not found in '%s'.", functionName, path), nil
	case errors.Is(err, pyedit.ErrSyntax):
		return fmt.Sprintf("Error: Syntax error in file '%s'. Details: %v", path, err), nil
	case err != nil:
		return nil, err
	}
	if err := writeSource(path, out); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully added decorator '%s' to function '%s' in '%s'.", decoratorCode, functionName, path), nil
}

func renameSymbolInFile(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")
	oldName := stringArg(args, "old_name")
	newName := stringArg(args, "new_name")

	src, failure := readSource(path)
	if failure != "" {
		return failure, nil
	}

	out, err := pyedit.RenameSymbol(ctx, src, oldName, newName)
	switch {
	case errors.Is(err, pyedit.ErrSyntax):
		return fmt.Sprintf("Error: Syntax error in file '%s'. Details: %v", path, err), nil
	case err != nil:
		return nil, err
	}
	if err := writeSource(path, out); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully renamed '%s' to '%s' in '%s'.", oldName, newName, path), nil
}

func appendToFunction(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")
	functionName := stringArg(args, "function_name")
	code := stringArg(args, "code_to_append")

	src, failure := readSource(path)
	if failure != "" {
		return failure, nil
	}

	out, err := pyedit.AppendToFunction(ctx, src, functionName, code)
	switch {
	case errors.Is(err, pyedit.ErrFunctionNotFound):
		return fmt.Sprintf("Error: Function '%s' not found in '%s'.", functionName, path), nil
	case errors.Is(err, pyedit.ErrSyntax):
		return fmt.Sprintf("Error: Syntax error in file '%s' or in `code_to_append`. Details: %v", path, err), nil
	case err != nil:
		return nil, err
	}
	if err := writeSource(path, out); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully appended code to function '%s' in '%s'.", functionName, path), nil
}

func replaceNodeInFile(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")
	nodeName := stringArg(args, "node_name")
	newCode := stringArg(args, "new_code")

	src, failure := readSource(path)
	if failure != "" {
		return failure, nil
	}

	out, gotName, err := pyedit.ReplaceTopLevelNode(ctx, src, nodeName, newCode)
	switch {
	case errors.Is(err, pyedit.ErrNoDefinition), errors.Is(err, pyedit.ErrNoFunction):
		return "Error: The provided `new_code` does not contain a single, valid top-level function or class definition.", nil
	case errors.Is(err, pyedit.ErrNameMismatch):
		return fmt.Sprintf("Error: The name of the node in `new_code` ('%s') does not match the `node_name` to be replaced ('%s').", gotName, nodeName), nil
	case errors.Is(err, pyedit.ErrNodeNotFound):
		return fmt.Sprintf("Error: Node '%s' not found as a top-level function or class in '%s'.", nodeName, path), nil
	case errors.Is(err, pyedit.ErrSyntax):
		return fmt.Sprintf("Error: Syntax error in file '%s' or in the provided `new_code`. Details: %v", path, err), nil
	case err != nil:
		return nil, err
	}
	if err := writeSource(path, out); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully replaced node '%s' in '%s'.", nodeName, path), nil
}

func replaceMethodInClass(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")
	className := stringArg(args, "class_name")
	methodName := stringArg(args, "method_name")
	newCode := stringArg(args, "new_code")

	src, failure := readSource(path)
	if failure != "" {
		return failure, nil
	}

	out, gotName, err := pyedit.ReplaceMethodInClass(ctx, src, className, methodName, newCode)
	switch {
	case errors.Is(err, pyedit.ErrNoFunction):
		return "Error: The provided `new_code` does not contain a single, valid method definition.", nil
	case errors.Is(err, pyedit.ErrNameMismatch):
		return fmt.Sprintf("Error: The name in `new_code` ('%s') does not match `method_name` ('%s').", gotName, methodName), nil
	case errors.Is(err, pyedit.ErrClassNotFound):
		return fmt.Sprintf("Error: Class '%s' not found in '%s'.", className, path), nil
	case errors.Is(err, pyedit.ErrMethodNotFound):
		return fmt.Sprintf("Error: Method '%s' not found in class '%s' in '%s'.", methodName, className, path), nil
	case errors.Is(err, pyedit.ErrSyntax):
		return fmt.Sprintf("Error: Syntax error in file '%s' or in `new_code`. Details: %v", path, err), nil
	case err != nil:
		return nil, err
	}
	if err := writeSource(path, out); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully replaced method '%s' in class '%s' in '%s'.", methodName, className, path), nil
}
