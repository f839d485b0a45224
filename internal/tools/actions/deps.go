package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aura-dev/aura/internal/tools"
)

func addDependencies(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	deps := stringsArg(args, "dependencies")
	if len(deps) == 0 {
		return "Error: No dependency provided.", nil
	}

	path := stringArg(args, "path")
	if path == "" {
		path = filepath.Join(tc.ProjectRoot, "requirements.txt")
	}

	messages := make([]string, 0, len(deps))
	for _, dep := range deps {
		message, err := addDependency(path, dep)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return strings.Join(messages, "\n"), nil
}

// addDependency appends one requirement line unless the package is already
// pinned, under any version specifier.
func addDependency(path, dependency string) (string, error) {
	pkg := packageName(dependency)
	if pkg == "" {
		return "Error: No dependency provided.", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	for _, line := range strings.Split(string(data), "\n") {
		if packageName(line) == pkg {
			return fmt.Sprintf("Dependency '%s' already exists in '%s'. No changes made.", pkg, path), nil
		}
	}

	content := string(data)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += dependency + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully added '%s' to '%s'.", dependency, path), nil
}

// packageName strips version specifiers from a requirement line: the name
// is everything before the first ==, > or <.
func packageName(dependency string) string {
	name := dependency
	for _, sep := range []string{"==", ">", "<"} {
		if idx := strings.Index(name, sep); idx >= 0 {
			name = name[:idx]
		}
	}
	return strings.TrimSpace(name)
}
