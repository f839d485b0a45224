// Package actions implements the built-in tool catalog: file-system
// operations, Python source editing, dependency management, shell
// execution, user interaction, context indexing and the meta-tool that
// mints new script-backed tools. Register wires every builtin into a
// catalog; the runner in the parent package handles schema validation,
// path resolution and event reporting before an action runs, so actions
// receive absolute paths and may assume their declared services are set.
//
// Actions follow one error convention: expected failures (missing files,
// bad input) are returned as "Error: ..." result strings so the classifier
// maps them to FAILURE, while unexpected faults are returned as Go errors
// for the runner to wrap.
package actions

import (
	"path/filepath"
	"strings"

	"github.com/aura-dev/aura/internal/tools"
)

// stringArg returns the string value of an argument, or "" when the key is
// absent or holds another type.
func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// boolArg returns the boolean value of an argument, or false.
func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

// stringsArg returns a string-slice argument. Decoded JSON arrives as
// []any; hand-built arguments may be []string. Non-string elements are
// dropped.
func stringsArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// displayPath renders an absolute workspace path relative to the project
// root for client-facing events. Paths outside the root pass through
// unchanged.
func displayPath(tc *tools.ToolContext, path string) string {
	if tc == nil || tc.ProjectRoot == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(tc.ProjectRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(rel)
}
