// Package conductor drives mission execution: it walks the mission log task
// by task, asks the coder role for one tool call per task, dispatches it
// through the tool runner and handles failure with a two-tiered correction
// system (bounded retry, then strategic replan).
//
// One Conductor instance serves one (user, project) mission run. The HTTP
// layer claims the user's mission slot before launching ExecuteMission in a
// background goroutine and releases it when the run returns.
package conductor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/aura-dev/aura/internal/bus"
	"github.com/aura-dev/aura/internal/gateway"
	"github.com/aura-dev/aura/internal/missionlog"
	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/internal/planner"
	"github.com/aura-dev/aura/internal/tools"
	"github.com/aura-dev/aura/internal/vectorctx"
	"github.com/aura-dev/aura/pkg/models"
)

// State is the lifecycle phase of a mission run.
type State string

const (
	StateReady      State = "ready"
	StateExecuting  State = "executing"
	StateReplanning State = "replanning"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateStopped    State = "stopped"
)

// maxRetriesPerTask bounds correction at the task level: one initial attempt
// plus this many retries before the replanner takes over.
const maxRetriesPerTask = 1

// taskYield keeps the bus responsive between tasks.
const taskYield = 500 * time.Millisecond

// haltedMessage is posted when a stop request is observed.
const haltedMessage = "Mission execution halted by user."

// errStopped marks a run terminated by a stop request or cancellation.
var errStopped = errors.New("mission stopped")

// Invoker is the gateway surface for coder-role calls.
type Invoker interface {
	Invoke(ctx context.Context, userCtx *models.UserContext, req gateway.Request) string
}

// ToolRunner dispatches one validated tool invocation.
type ToolRunner interface {
	Run(ctx context.Context, inv models.ToolInvocation, tc *tools.ToolContext) tools.Outcome
}

// StopPoller exposes the user's stop flag. The loop polls it at every
// iteration boundary and before every retry attempt.
type StopPoller interface {
	StopRequested(userID string) bool
}

// Notifier publishes events to a user's clients.
type Notifier interface {
	BroadcastToUser(userID string, event models.Event)
}

// Config wires one mission run.
type Config struct {
	UserCtx *models.UserContext
	Project string

	Log     *missionlog.Log
	Catalog *tools.Catalog
	Runner  ToolRunner
	Gateway Invoker
	Planner *planner.Service

	// Vector provides code snippets for tool selection; may be nil.
	Vector *vectorctx.Service

	// Bus and LLM are injected into the tool context for actions that
	// declare them; both may be nil under test.
	Bus *bus.Bus
	LLM *gateway.Gateway

	Notifier Notifier
	Control  StopPoller

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Conductor executes one mission.
type Conductor struct {
	cfg    Config
	logger *observability.Logger

	mu    sync.Mutex
	state State
}

// New builds a conductor in the Ready state.
func New(cfg Config) *Conductor {
	return &Conductor{
		cfg:    cfg,
		logger: cfg.Logger.WithFields("component", "conductor", "user_id", cfg.UserCtx.UserID, "project", cfg.Project),
		state:  StateReady,
	}
}

// State reports the current lifecycle phase.
func (c *Conductor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conductor) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// ExecuteMission runs the mission to a terminal state. It brackets the run
// with agent status events and guarantees the terminal event contract: a
// stopped mission ends with the halt log and idle status, a failed mission
// with one error log and mission_failure, a finished mission with the
// summary and mission_success.
func (c *Conductor) ExecuteMission(ctx context.Context) {
	userID := c.cfg.UserCtx.UserID
	ctx, span := c.cfg.Tracer.TraceMission(ctx, userID, c.cfg.Project)
	defer span.End()

	c.cfg.Metrics.MissionStarted()
	defer func() {
		c.post(models.AgentStatus(models.StatusIdle))
		c.cfg.Metrics.MissionFinished(string(c.State()))
		c.logger.Info(ctx, "conductor finished mission")
	}()

	c.post(models.AgentStatus(models.StatusThinking))
	c.setState(StateExecuting)
	c.post(models.SystemLog("Mission dispatched. Beginning autonomous execution.", false))

	err := c.runLoop(ctx)
	switch {
	case err == nil:
		// Terminal events were posted by completeMission.
	case errors.Is(err, errStopped):
		c.setState(StateStopped)
		c.logger.Info(ctx, "mission stopped")
		c.post(models.SystemLog(haltedMessage, false))
	default:
		c.setState(StateFailed)
		c.cfg.Tracer.RecordError(span, err)
		c.logger.Error(ctx, "critical error during mission", "error", err)
		c.post(models.SystemLog(fmt.Sprintf("A critical error stopped the mission: %v", err), true))
		c.post(models.MissionFailure(err.Error()))
	}
}

// runLoop is the outer task loop. The returned error is nil on completion,
// errStopped on stop/cancel, anything else on a critical fault.
func (c *Conductor) runLoop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	if len(c.cfg.Log.Tasks(nil)) == 0 {
		return errors.New("cannot execute an empty mission plan")
	}

	for {
		if c.halted(ctx) {
			return errStopped
		}

		pending := c.cfg.Log.PendingTasks()
		if len(pending) == 0 {
			c.completeMission(ctx)
			return nil
		}

		task := pending[0]
		c.post(models.ActiveTaskUpdated(task.ID))

		succeeded, lastError, err := c.attemptTask(ctx, task)
		if err != nil {
			return err
		}

		if !succeeded {
			if c.halted(ctx) {
				return errStopped
			}
			c.logger.Error(ctx, "task failed after retries, replanning", "task_id", task.ID)
			c.post(models.SystemLog("I'm stuck. Rethinking my approach.", true))

			c.setState(StateReplanning)
			task.LastError = lastError
			replanErr := c.cfg.Planner.RunStrategicReplan(ctx, c.cfg.UserCtx, c.cfg.Log.InitialGoal(), task, c.cfg.Log)
			c.setState(StateExecuting)
			if replanErr != nil {
				return fmt.Errorf("recovery planning failed: %w", replanErr)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return errStopped
		case <-time.After(taskYield):
		}
	}
}

// attemptTask runs the per-task retry loop: up to maxRetriesPerTask+1
// attempts, each selecting and dispatching one tool call. Returns whether
// the task succeeded and the last failure message when it did not.
func (c *Conductor) attemptTask(ctx context.Context, task models.Task) (bool, string, error) {
	lastError := task.LastError

	for attempt := 0; attempt <= maxRetriesPerTask; attempt++ {
		if c.halted(ctx) {
			return false, lastError, errStopped
		}
		c.logger.Info(ctx, "executing task", "task_id", task.ID, "description", task.Description, "attempt", attempt+1)

		inv, err := c.selectTool(ctx, task, lastError)
		if err != nil {
			if errors.Is(err, errStopped) || ctx.Err() != nil {
				return false, lastError, errStopped
			}
			lastError = fmt.Sprintf("Could not determine a tool call for task: '%s'", task.Description)
			c.recordFailure(ctx, task.ID, lastError)
			continue
		}

		if err := c.fillWriteFileContent(ctx, &inv, task); err != nil {
			if errors.Is(err, errStopped) || ctx.Err() != nil {
				return false, lastError, errStopped
			}
			lastError = err.Error()
			c.recordFailure(ctx, task.ID, lastError)
			c.post(models.SystemLog(fmt.Sprintf("Task failed, retrying. Error: %s", lastError), true))
			continue
		}

		outcome := c.cfg.Runner.Run(ctx, inv, c.toolContext())
		if outcome.Success() {
			if err := c.cfg.Log.MarkDone(ctx, task.ID); err != nil {
				return false, lastError, err
			}
			c.post(models.SystemLog(fmt.Sprintf("Task completed: %s", task.Description), false))
			return true, "", nil
		}

		lastError = outcome.Message
		c.recordFailure(ctx, task.ID, lastError)
		c.logger.Warn(ctx, "task attempt failed", "task_id", task.ID, "error", lastError)
		c.post(models.SystemLog(fmt.Sprintf("Task failed, retrying. Error: %s", lastError), true))
	}

	return false, lastError, nil
}

// recordFailure persists last_error before the next attempt or replan.
func (c *Conductor) recordFailure(ctx context.Context, taskID uint32, message string) {
	if err := c.cfg.Log.SetLastError(ctx, taskID, message); err != nil {
		c.logger.Warn(ctx, "could not record task error", "task_id", taskID, "error", err)
	}
}

// completeMission posts the summary and the terminal success event.
func (c *Conductor) completeMission(ctx context.Context) {
	c.logger.Info(ctx, "mission accomplished")
	summary := c.cfg.Planner.GenerateMissionSummary(ctx, c.cfg.UserCtx, c.cfg.Log.Tasks(nil))
	c.post(models.AuraResponse(summary))
	c.post(models.MissionSuccess())
	c.setState(StateDone)
}

// halted reports whether the run should terminate now.
func (c *Conductor) halted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return c.cfg.Control != nil && c.cfg.Control.StopRequested(c.cfg.UserCtx.UserID)
}

// toolContext assembles the per-mission service injection for tool actions.
func (c *Conductor) toolContext() *tools.ToolContext {
	return &tools.ToolContext{
		UserID:        c.cfg.UserCtx.UserID,
		ProjectRoot:   c.cfg.UserCtx.ProjectRoot,
		MissionLog:    c.cfg.Log,
		VectorContext: c.cfg.Vector,
		Gateway:       c.cfg.LLM,
		Bus:           c.cfg.Bus,
	}
}

func (c *Conductor) post(event models.Event) {
	if c.cfg.Notifier == nil {
		return
	}
	if event.Type == models.EventSystemLog && strings.TrimSpace(event.Content) == "" {
		return
	}
	c.cfg.Notifier.BroadcastToUser(c.cfg.UserCtx.UserID, event)
}
