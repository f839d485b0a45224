package conductor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/aura-dev/aura/internal/gateway"
	"github.com/aura-dev/aura/internal/planner"
	"github.com/aura-dev/aura/internal/planner/prompts"
	"github.com/aura-dev/aura/internal/workspace"
	"github.com/aura-dev/aura/pkg/models"
)

// snippetLimit is how many vector-context snippets the coder sees.
const snippetLimit = 5

// emptyProjectPlaceholder stands in for the file list of a fresh workspace.
const emptyProjectPlaceholder = "The project is currently empty."

// noSnippetsPlaceholder stands in when retrieval finds nothing.
const noSnippetsPlaceholder = "No relevant code snippets were found."

var codeFence = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\n(.*?)\\n```")

// selectTool obtains the single tool invocation for a task. Pre-canned
// tasks carry their invocation; everything else goes through the coder
// role with the full context bundle and the catalog schemas.
func (c *Conductor) selectTool(ctx context.Context, task models.Task, lastError string) (models.ToolInvocation, error) {
	if task.ToolCall != nil {
		return *task.ToolCall, nil
	}

	currentTask := task.Description
	if lastError != "" {
		currentTask = fmt.Sprintf(
			"%s\n\nIMPORTANT: The previous attempt at this task failed with the error: %q. You MUST choose a different approach this time; do not repeat the failed action.",
			task.Description, lastError)
	}

	reply := c.cfg.Gateway.Invoke(ctx, c.cfg.UserCtx, gateway.Request{
		Role: models.RoleCoder,
		Messages: []models.ChatMessage{{
			Role: models.ChatRoleUser,
			Content: prompts.ToolSelection(
				currentTask,
				planner.FormatMissionLog(c.cfg.Log.Tasks(nil)),
				c.fileStructure(),
				c.relevantSnippets(ctx, task.Description),
			),
		}},
		Tools: c.cfg.Catalog.Specs(),
	})
	if strings.TrimSpace(reply) == "" {
		return models.ToolInvocation{}, errors.New("coder returned an empty response")
	}
	if gateway.IsErrorReply(reply) {
		return models.ToolInvocation{}, errors.New(reply)
	}

	var inv models.ToolInvocation
	if err := planner.DecodeInto(reply, &inv); err != nil {
		return models.ToolInvocation{}, fmt.Errorf("coder reply is not a tool call: %w", err)
	}
	if inv.ToolName == "" {
		return models.ToolInvocation{}, errors.New("coder reply names no tool")
	}
	return inv, nil
}

// fillWriteFileContent synthesizes the content argument of a write_file
// call from its task_description. The coder streams the file body to the
// client as code chunks; fences are stripped before the runner sees it.
func (c *Conductor) fillWriteFileContent(ctx context.Context, inv *models.ToolInvocation, task models.Task) error {
	if inv.ToolName != "write_file" || inv.Arguments == nil {
		return nil
	}
	if content, _ := inv.Arguments["content"].(string); strings.TrimSpace(content) != "" {
		return nil
	}
	taskDescription, _ := inv.Arguments["task_description"].(string)
	if strings.TrimSpace(taskDescription) == "" {
		return nil
	}
	path, _ := inv.Arguments["path"].(string)
	if path == "" {
		return nil
	}

	c.logger.Info(ctx, "generating code", "path", path, "task_id", task.ID)
	reply := c.cfg.Gateway.Invoke(ctx, c.cfg.UserCtx, gateway.Request{
		Role: models.RoleCoder,
		Messages: []models.ChatMessage{{
			Role: models.ChatRoleUser,
			Content: prompts.FileBody(
				path,
				taskDescription,
				c.cfg.Log.InitialGoal(),
				c.planContext(task.ID),
				c.fileStructure(),
				c.dataContract(),
			),
		}},
		StreamTag: models.EventCodeStreamChunk,
		FilePath:  path,
	})
	if strings.TrimSpace(reply) == "" {
		return fmt.Errorf("code generation for '%s' returned an empty response", path)
	}
	if gateway.IsErrorReply(reply) {
		return errors.New(reply)
	}

	inv.Arguments["content"] = StripCodeFences(reply)
	return nil
}

// planContext renders the previous, current and next task around taskID so
// the generated file composes with its neighbors.
func (c *Conductor) planContext(taskID uint32) string {
	plan := c.cfg.Log.Tasks(nil)
	idx := -1
	for i, t := range plan {
		if t.ID == taskID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "Could not find the current task in the plan."
	}

	var lines []string
	if idx > 0 {
		prev := plan[idx-1]
		state := "Pending"
		if prev.Done {
			state = "Done"
		}
		lines = append(lines, fmt.Sprintf("Previous Task (ID %d): %s [Status: %s]", prev.ID, prev.Description, state))
	}
	current := plan[idx]
	lines = append(lines, fmt.Sprintf("--> CURRENT TASK (ID %d): %s [Status: Pending]", current.ID, current.Description))
	if idx < len(plan)-1 {
		next := plan[idx+1]
		lines = append(lines, fmt.Sprintf("Next Task (ID %d): %s [Status: Pending]", next.ID, next.Description))
	}
	return strings.Join(lines, "\n")
}

// dataContract bundles the project's schema and model sources so generated
// code stays consistent with them.
func (c *Conductor) dataContract() string {
	schemas := c.readWorkspaceFile("src/schemas.py")
	if schemas == "" {
		schemas = "# src/schemas.py not found or is empty."
	}
	modelsSrc := c.readWorkspaceFile("src/models.py")
	if modelsSrc == "" {
		modelsSrc = "# src/models.py not found or is empty."
	}
	return fmt.Sprintf("--- Contents of src/schemas.py ---\n%s\n\n--- Contents of src/models.py ---\n%s", schemas, modelsSrc)
}

// readWorkspaceFile returns a workspace file's content, or empty when the
// file is missing, unreadable or escapes the root.
func (c *Conductor) readWorkspaceFile(rel string) string {
	root := c.cfg.UserCtx.ProjectRoot
	if root == "" {
		return ""
	}
	abs, err := workspace.ResolvePath(root, rel)
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return ""
	}
	return string(data)
}

// fileStructure lists every project file, one per line, sorted.
func (c *Conductor) fileStructure() string {
	root := c.cfg.UserCtx.ProjectRoot
	if root == "" {
		return emptyProjectPlaceholder
	}
	tree, err := workspace.BuildTree(root)
	if err != nil {
		return emptyProjectPlaceholder
	}
	paths := models.FlattenTree(tree)
	if len(paths) == 0 {
		return emptyProjectPlaceholder
	}
	sort.Strings(paths)
	return strings.Join(paths, "\n")
}

// relevantSnippets retrieves code context for the task description.
func (c *Conductor) relevantSnippets(ctx context.Context, query string) string {
	if c.cfg.Vector == nil {
		return noSnippetsPlaceholder
	}
	snippets, err := c.cfg.Vector.Query(ctx, query, snippetLimit)
	if err != nil || len(snippets) == 0 {
		return noSnippetsPlaceholder
	}
	var b strings.Builder
	for _, sn := range snippets {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", sn.FilePath, sn.Document)
	}
	return strings.TrimSpace(b.String())
}

// StripCodeFences unwraps a markdown-fenced block, returning the inner code
// only. Replies without a fence pass through trimmed.
func StripCodeFences(reply string) string {
	if m := codeFence.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(reply)
}
