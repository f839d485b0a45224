package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aura-dev/aura/internal/tools"
)

// toolNamePattern constrains minted tool ids to names the planner can emit
// safely and the loader can map to file names.
var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// createNewTool mints a script-backed tool: an action script plus a YAML
// manifest under {project_root}/.aura/tools. The dynamic loader picks the
// manifest up and registers the tool without a restart.
func createNewTool(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	name := strings.TrimSpace(stringArg(args, "tool_name"))
	description := strings.TrimSpace(stringArg(args, "description"))
	actionCode := stringArg(args, "action_code")

	if !toolNamePattern.MatchString(name) {
		return fmt.Sprintf("Error: Invalid tool name '%s'. Use lowercase letters, digits and underscores.", name), nil
	}
	if isBuiltinName(name) {
		return fmt.Sprintf("Error: Tool name '%s' conflicts with a built-in tool.", name), nil
	}
	if strings.TrimSpace(actionCode) == "" {
		return "Error: No action code provided for the new tool.", nil
	}

	params, failure := manifestParams(args)
	if failure != "" {
		return failure, nil
	}

	manifest := tools.Manifest{
		Name:        name,
		Description: description,
		Interpreter: "python3",
		Script:      name + ".py",
		Parameters:  params,
	}

	dir := filepath.Join(tc.ProjectRoot, ".aura", "tools")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	// Script first: the loader reacts to the manifest write and expects
	// the script to already be on disk.
	if err := os.WriteFile(filepath.Join(dir, manifest.Script), []byte(actionCode), 0o755); err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0o644); err != nil {
		return nil, err
	}

	return fmt.Sprintf("Successfully created tool '%s'. It is now available for use.", name), nil
}

// manifestParams converts the tool_parameters argument into manifest
// parameter declarations. Declared parameters are required by default.
func manifestParams(args map[string]any) ([]tools.ManifestParam, string) {
	raw, ok := args["tool_parameters"].([]any)
	if !ok {
		return nil, "Error: 'tool_parameters' must be a list of parameter objects."
	}

	params := make([]tools.ManifestParam, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, "Error: Each entry of 'tool_parameters' must be an object with 'name', 'type' and 'description'."
		}
		name, _ := entry["name"].(string)
		typ, _ := entry["type"].(string)
		description, _ := entry["description"].(string)
		if strings.TrimSpace(name) == "" {
			return nil, "Error: A tool parameter is missing its 'name'."
		}
		params = append(params, tools.ManifestParam{
			Name:        strings.TrimSpace(name),
			Type:        strings.TrimSpace(typ),
			Description: description,
			Required:    true,
		})
	}
	return params, ""
}

func isBuiltinName(name string) bool {
	for _, d := range builtins() {
		if d.Name == name {
			return true
		}
	}
	return false
}
