package conductor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aura-dev/aura/pkg/models"
)

func TestSelectToolPassthroughForPrecannedTask(t *testing.T) {
	f := newFixture(t, neverStop{})
	task := models.Task{
		ID:          1,
		Description: "Index the project.",
		ToolCall:    &models.ToolInvocation{ToolName: "index_project_context", Arguments: map[string]any{"path": "."}},
	}

	inv, err := f.conductor.selectTool(context.Background(), task, "")
	if err != nil {
		t.Fatal(err)
	}
	if inv.ToolName != "index_project_context" {
		t.Errorf("tool = %s", inv.ToolName)
	}
	if len(f.gw.requests) != 0 {
		t.Error("pre-canned tasks must not consult the coder")
	}
}

func TestSelectToolBuildsContextBundle(t *testing.T) {
	f := newFixture(t, neverStop{})
	if err := f.log.SetInitialPlan(context.Background(), []string{"Create src/app.py."}, "an app"); err != nil {
		t.Fatal(err)
	}
	f.gw.queue(models.RoleCoder, toolCallReply("create_directory", `{"path": "src"}`))

	task := f.log.Tasks(nil)[1]
	inv, err := f.conductor.selectTool(context.Background(), task, "")
	if err != nil {
		t.Fatal(err)
	}
	if inv.ToolName != "create_directory" {
		t.Errorf("tool = %s", inv.ToolName)
	}

	prompt := f.gw.requests[0].Messages[0].Content
	for _, want := range []string{
		"Create src/app.py.",
		"Index the project to build a contextual map.",
		noSnippetsPlaceholder,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if len(f.gw.requests[0].Tools) == 0 {
		t.Error("catalog schemas not attached to the request")
	}
}

func TestSelectToolRejectsUnusableReplies(t *testing.T) {
	cases := []struct {
		name  string
		reply string
	}{
		{"empty", "   "},
		{"gateway error", "Error: provider unreachable"},
		{"not json", "Sure, let me think about that."},
		{"no tool name", `{"arguments": {"path": "x"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, neverStop{})
			f.gw.queue(models.RoleCoder, tc.reply)
			task := models.Task{ID: 2, Description: "Do a thing."}
			if _, err := f.conductor.selectTool(context.Background(), task, ""); err == nil {
				t.Fatal("want error")
			}
		})
	}
}

func TestFillWriteFileContentSynthesizesBody(t *testing.T) {
	f := newFixture(t, neverStop{})
	if err := f.log.SetInitialPlan(context.Background(), []string{"Create the Flask entrypoint in src/app.py."}, "a flask app"); err != nil {
		t.Fatal(err)
	}
	f.gw.queue(models.RoleCoder, "```python\nfrom flask import Flask\n\napp = Flask(__name__)\n```")

	inv := models.ToolInvocation{
		ToolName: "write_file",
		Arguments: map[string]any{
			"path":             "src/app.py",
			"task_description": "Create the Flask entrypoint.",
		},
	}
	task := f.log.Tasks(nil)[1]
	if err := f.conductor.fillWriteFileContent(context.Background(), &inv, task); err != nil {
		t.Fatal(err)
	}

	content, _ := inv.Arguments["content"].(string)
	if content != "from flask import Flask\n\napp = Flask(__name__)" {
		t.Errorf("content = %q", content)
	}

	req := f.gw.requests[0]
	if req.StreamTag != models.EventCodeStreamChunk || req.FilePath != "src/app.py" {
		t.Errorf("request not tagged for code streaming: %+v", req)
	}
	prompt := req.Messages[0].Content
	for _, want := range []string{
		"src/app.py",
		"a flask app",
		"--> CURRENT TASK",
		"src/schemas.py not found or is empty",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestFillWriteFileContentSkips(t *testing.T) {
	cases := []struct {
		name string
		inv  models.ToolInvocation
	}{
		{"other tool", models.ToolInvocation{ToolName: "read_file", Arguments: map[string]any{"path": "x"}}},
		{"content present", models.ToolInvocation{ToolName: "write_file", Arguments: map[string]any{
			"path": "x.py", "content": "print('x')", "task_description": "y"}}},
		{"no task description", models.ToolInvocation{ToolName: "write_file", Arguments: map[string]any{"path": "x.py"}}},
		{"no path", models.ToolInvocation{ToolName: "write_file", Arguments: map[string]any{"task_description": "y"}}},
		{"nil arguments", models.ToolInvocation{ToolName: "write_file"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, neverStop{})
			if err := f.conductor.fillWriteFileContent(context.Background(), &tc.inv, models.Task{ID: 1}); err != nil {
				t.Fatal(err)
			}
			if len(f.gw.requests) != 0 {
				t.Error("no synthesis call expected")
			}
		})
	}
}

func TestFillWriteFileContentEmptyReplyFails(t *testing.T) {
	f := newFixture(t, neverStop{})
	inv := models.ToolInvocation{
		ToolName:  "write_file",
		Arguments: map[string]any{"path": "x.py", "task_description": "y"},
	}
	err := f.conductor.fillWriteFileContent(context.Background(), &inv, models.Task{ID: 1})
	if err == nil || !strings.Contains(err.Error(), "empty response") {
		t.Fatalf("err = %v", err)
	}
}

func TestWriteFileSynthesisReachesRunner(t *testing.T) {
	f := newFixture(t, neverStop{})
	if err := f.log.SetInitialPlan(context.Background(), []string{"Create src/app.py with the Flask app."}, "a flask app"); err != nil {
		t.Fatal(err)
	}
	f.gw.queue(models.RoleCoder,
		toolCallReply("write_file", `{"path": "src/app.py", "task_description": "Create the Flask app object."}`),
		"```python\napp = 1\n```",
	)
	f.gw.queue(models.RoleChat, "Mission accomplished!")

	f.conductor.ExecuteMission(context.Background())

	if got := f.conductor.State(); got != StateDone {
		t.Fatalf("state = %s, want %s", got, StateDone)
	}
	if len(f.runner.calls) != 2 {
		t.Fatalf("calls = %+v", f.runner.calls)
	}
	write := f.runner.calls[1]
	if write.ToolName != "write_file" {
		t.Fatalf("tool = %s", write.ToolName)
	}
	if content, _ := write.Arguments["content"].(string); content != "app = 1" {
		t.Errorf("runner saw content %q, want fences stripped", content)
	}
}

func TestPlanContextRendersNeighbors(t *testing.T) {
	f := newFixture(t, neverStop{})
	ctx := context.Background()
	if err := f.log.SetInitialPlan(ctx, []string{"Build the models.", "Build the API."}, "goal"); err != nil {
		t.Fatal(err)
	}
	if err := f.log.MarkDone(ctx, 1); err != nil {
		t.Fatal(err)
	}

	got := f.conductor.planContext(2)
	want := "Previous Task (ID 1): Index the project to build a contextual map. [Status: Done]\n" +
		"--> CURRENT TASK (ID 2): Build the models. [Status: Pending]\n" +
		"Next Task (ID 3): Build the API. [Status: Pending]"
	if got != want {
		t.Errorf("planContext =\n%s\nwant\n%s", got, want)
	}
}

func TestPlanContextUnknownTask(t *testing.T) {
	f := newFixture(t, neverStop{})
	if got := f.conductor.planContext(99); got != "Could not find the current task in the plan." {
		t.Errorf("got %q", got)
	}
}

func TestDataContractReadsSchemaFiles(t *testing.T) {
	f := newFixture(t, neverStop{})
	root := f.conductor.cfg.UserCtx.ProjectRoot
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "schemas.py"), []byte("class UserIn: ..."), 0o644); err != nil {
		t.Fatal(err)
	}

	got := f.conductor.dataContract()
	if !strings.Contains(got, "class UserIn: ...") {
		t.Error("schemas.py content missing")
	}
	if !strings.Contains(got, "# src/models.py not found or is empty.") {
		t.Error("missing models.py placeholder")
	}
}

func TestFileStructureListsSortedFiles(t *testing.T) {
	f := newFixture(t, neverStop{})
	root := f.conductor.cfg.UserCtx.ProjectRoot
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"src/main.py", "README.md"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got := f.conductor.fileStructure()
	if got != "README.md\nsrc/main.py" {
		t.Errorf("fileStructure = %q", got)
	}
}

func TestFileStructureEmptyProject(t *testing.T) {
	f := newFixture(t, neverStop{})
	if got := f.conductor.fileStructure(); got != emptyProjectPlaceholder {
		t.Errorf("got %q", got)
	}
}

func TestRelevantSnippetsWithoutVectorService(t *testing.T) {
	f := newFixture(t, neverStop{})
	if got := f.conductor.relevantSnippets(context.Background(), "anything"); got != noSnippetsPlaceholder {
		t.Errorf("got %q", got)
	}
}

func TestStripCodeFences(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"python fence", "```python\nprint('hi')\n```", "print('hi')"},
		{"bare fence", "```\nx = 1\n```", "x = 1"},
		{"fence with prose", "Here you go:\n```python\nx = 1\n```\nEnjoy!", "x = 1"},
		{"no fence", "  plain text  ", "plain text"},
		{"multiline body", "```python\na = 1\n\nb = 2\n```", "a = 1\n\nb = 2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripCodeFences(tc.in); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
