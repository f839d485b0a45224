// Package missionlog persists the ordered task list for one (user, project)
// mission and publishes snapshots to clients on every mutation.
package missionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/pkg/models"
)

// FileName is the mission log document inside a project root.
const FileName = "mission_log.json"

// indexTaskDescription is the pre-canned first task of every fresh plan.
const indexTaskDescription = "Index the project to build a contextual map."

// Notifier publishes events to every client of a user. Satisfied by the
// notification bus.
type Notifier interface {
	BroadcastToUser(userID string, event models.Event)
}

// document is the on-disk shape. next_id is reconstructed on load.
type document struct {
	InitialGoal string        `json:"initial_goal"`
	Tasks       []models.Task `json:"tasks"`
}

// Log is the mission log for one (user, project). A single writer (the
// active mission) mutates it; readers take snapshots.
type Log struct {
	mu sync.Mutex

	userID      string
	projectRoot string
	notifier    Notifier
	logger      *observability.Logger

	initialGoal string
	tasks       []models.Task
	nextID      uint32
}

// Open loads the mission log for a project, starting empty when the file is
// missing or unreadable.
func Open(projectRoot, userID string, notifier Notifier, logger *observability.Logger) *Log {
	l := &Log{
		userID:      userID,
		projectRoot: projectRoot,
		notifier:    notifier,
		logger:      logger,
		nextID:      1,
	}
	l.load()
	return l
}

func (l *Log) path() string {
	return filepath.Join(l.projectRoot, FileName)
}

func (l *Log) load() {
	data, err := os.ReadFile(l.path())
	if err != nil {
		return
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		l.logger.Warn(context.Background(), "mission log unparsable, starting empty",
			"path", l.path(), "error", err)
		return
	}
	l.initialGoal = doc.InitialGoal
	l.tasks = doc.Tasks
	var maxID uint32
	for _, t := range l.tasks {
		if t.ID > maxID {
			maxID = t.ID
		}
	}
	l.nextID = maxID + 1
}

// flush writes the document before any event is emitted. Rename keeps a
// crash from leaving a truncated file behind.
func (l *Log) flush() error {
	doc := document{InitialGoal: l.initialGoal, Tasks: l.tasks}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal mission log: %w", err)
	}
	tmp := l.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write mission log: %w", err)
	}
	if err := os.Rename(tmp, l.path()); err != nil {
		return fmt.Errorf("replace mission log: %w", err)
	}
	return nil
}

func (l *Log) emitUpdated() {
	if l.notifier == nil {
		return
	}
	l.notifier.BroadcastToUser(l.userID, models.MissionLogUpdated(models.CloneTasks(l.tasks)))
}

// SetInitialPlan replaces the whole log with a fresh plan for the given
// goal. The indexing task is prepended so the first executed step builds
// the context map.
func (l *Log) SetInitialPlan(ctx context.Context, steps []string, userGoal string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.initialGoal = userGoal
	l.tasks = nil
	l.nextID = 1

	l.appendLocked(indexTaskDescription, &models.ToolInvocation{
		ToolName:  "index_project_context",
		Arguments: map[string]any{"path": "."},
	})
	for _, step := range steps {
		l.appendLocked(step, nil)
	}

	if err := l.flush(); err != nil {
		return err
	}
	l.logger.Info(ctx, "initial plan persisted", "tasks", len(l.tasks))
	l.emitUpdated()
	return nil
}

func (l *Log) appendLocked(description string, toolCall *models.ToolInvocation) {
	l.tasks = append(l.tasks, models.Task{
		ID:          l.nextID,
		Description: description,
		ToolCall:    toolCall,
	})
	l.nextID++
}

// Tasks returns a snapshot of all tasks. With done set, only tasks matching
// that completion state are returned.
func (l *Log) Tasks(done *bool) []models.Task {
	l.mu.Lock()
	defer l.mu.Unlock()

	if done == nil {
		return models.CloneTasks(l.tasks)
	}
	var filtered []models.Task
	for _, t := range l.tasks {
		if t.Done == *done {
			filtered = append(filtered, t)
		}
	}
	return models.CloneTasks(filtered)
}

// PendingTasks returns the tasks not yet done, in execution order.
func (l *Log) PendingTasks() []models.Task {
	pending := false
	return l.Tasks(&pending)
}

// InitialGoal returns the goal the current plan was made for.
func (l *Log) InitialGoal() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialGoal
}

// MarkDone completes a task and clears its last error. Calling it again for
// the same id is a no-op; an unknown id only logs a warning.
func (l *Log) MarkDone(ctx context.Context, taskID uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOfLocked(taskID)
	if idx < 0 {
		l.logger.Warn(ctx, "mark done for unknown task", "task_id", taskID)
		return nil
	}
	if l.tasks[idx].Done {
		return nil
	}
	l.tasks[idx].Done = true
	l.tasks[idx].LastError = ""

	if err := l.flush(); err != nil {
		return err
	}
	l.emitUpdated()
	return nil
}

// SetLastError records the most recent failure for a task so a retry (and
// the UI) can see it.
func (l *Log) SetLastError(ctx context.Context, taskID uint32, msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOfLocked(taskID)
	if idx < 0 {
		l.logger.Warn(ctx, "last error for unknown task", "task_id", taskID)
		return nil
	}
	l.tasks[idx].LastError = msg

	if err := l.flush(); err != nil {
		return err
	}
	l.emitUpdated()
	return nil
}

// ReplaceTailFrom drops the task with the given id and everything after it
// (positional truncation), then appends the new steps with fresh ids. IDs
// are never reused.
func (l *Log) ReplaceTailFrom(ctx context.Context, taskID uint32, steps []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOfLocked(taskID)
	if idx < 0 {
		return fmt.Errorf("task %d not found", taskID)
	}
	l.tasks = l.tasks[:idx]
	for _, step := range steps {
		l.appendLocked(step, nil)
	}

	if err := l.flush(); err != nil {
		return err
	}
	l.logger.Info(ctx, "plan tail rewritten", "from_task", taskID, "new_tasks", len(steps))
	l.emitUpdated()
	return nil
}

func (l *Log) indexOfLocked(taskID uint32) int {
	for i := range l.tasks {
		if l.tasks[i].ID == taskID {
			return i
		}
	}
	return -1
}
