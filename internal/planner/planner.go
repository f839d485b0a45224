// Package planner runs the planning pipeline: intent classification, the
// architect/sequencer flow that turns a user idea into an ordered task
// list, and the strategic replanner that rewrites the tail of a plan after
// repeated failure.
//
// Every stage is one LLM call through the gateway. Stage outputs are JSON
// documents; parsing tolerates fenced or embedded objects (see ExtractJSON)
// but an empty or malformed plan is never written to the mission log.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aura-dev/aura/internal/gateway"
	"github.com/aura-dev/aura/internal/missionlog"
	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/internal/planner/prompts"
	"github.com/aura-dev/aura/pkg/models"
)

// Intent is the classifier verdict for a user message.
type Intent string

const (
	IntentPlan Intent = "PLAN"
	IntentChat Intent = "CHAT"
)

// planReadyMessage is posted once a fresh plan has been persisted.
const planReadyMessage = "I've analyzed the request and created a production-ready plan. Review it in the 'Agent TODO' list and click 'Dispatch Aura' to begin."

// architectFailureMessage explains an empty or unusable architect reply.
const architectFailureMessage = "The Architect AI returned an empty or invalid response. This can happen if the model is overloaded or if it responded with a format that could not be understood (e.g., a tool call instead of a JSON plan)."

// chatFallbackReply is returned when the companion chat call fails.
const chatFallbackReply = "I'm sorry, I seem to be having trouble connecting to my creative core right now."

// missionAccomplishedFallback closes a mission when no summary could be
// generated.
const missionAccomplishedFallback = "Mission accomplished!"

// Invoker is the gateway surface the planner needs.
type Invoker interface {
	Invoke(ctx context.Context, userCtx *models.UserContext, req gateway.Request) string
}

// Notifier publishes events to a user's clients.
type Notifier interface {
	BroadcastToUser(userID string, event models.Event)
}

// Service is the planning pipeline. One instance serves all users.
type Service struct {
	gw       Invoker
	notifier Notifier
	logger   *observability.Logger
}

// New builds the planning service.
func New(gw Invoker, notifier Notifier, logger *observability.Logger) *Service {
	return &Service{
		gw:       gw,
		notifier: notifier,
		logger:   logger.WithFields("component", "planner"),
	}
}

// intentVerdict is the classifier's one-key document.
type intentVerdict struct {
	Intent string `json:"intent"`
}

// ClassifyIntent decides whether the user wants a plan or a conversation.
// Malformed or failed classification defaults to chat.
func (s *Service) ClassifyIntent(ctx context.Context, userCtx *models.UserContext, history []models.ChatMessage, userMessage string) Intent {
	reply := s.gw.Invoke(ctx, userCtx, gateway.Request{
		Role: models.RoleIntent,
		Messages: []models.ChatMessage{{
			Role:    models.ChatRoleUser,
			Content: prompts.Intent(prompts.FormatConversation(history), userMessage),
		}},
		IsJSON: true,
	})
	if gateway.IsErrorReply(reply) {
		s.logger.Warn(ctx, "intent classification failed, defaulting to chat", "reply", reply)
		return IntentChat
	}
	var verdict intentVerdict
	if err := DecodeInto(reply, &verdict); err != nil {
		s.logger.Warn(ctx, "intent reply unparsable, defaulting to chat", "error", err)
		return IntentChat
	}
	if strings.EqualFold(strings.TrimSpace(verdict.Intent), string(IntentPlan)) {
		return IntentPlan
	}
	return IntentChat
}

// blueprintDocument is the architect's three-part output.
type blueprintDocument struct {
	DraftBlueprint json.RawMessage `json:"draft_blueprint"`
	Critique       string          `json:"critique"`
	FinalBlueprint json.RawMessage `json:"final_blueprint"`
}

// planDocument is the sequencer's output.
type planDocument struct {
	FinalPlan []string `json:"final_plan"`
}

// RunPlanningWorkflow executes architect then sequencer and persists the
// resulting plan. Failures are reported to the user and returned; the
// pipeline never retries itself.
func (s *Service) RunPlanningWorkflow(ctx context.Context, userCtx *models.UserContext, projectName, userIdea string, log *missionlog.Log) error {
	s.logger.Info(ctx, "planning workflow initiated", "user_id", userCtx.UserID, "idea", truncate(userIdea, 50))

	blueprint, err := s.runArchitect(ctx, userCtx, projectName, userIdea)
	if err != nil {
		return err
	}

	steps, err := s.runSequencer(ctx, userCtx, blueprint)
	if err != nil {
		return err
	}

	if err := log.SetInitialPlan(ctx, steps, userIdea); err != nil {
		s.reportError(ctx, userCtx.UserID, fmt.Sprintf("Failed to create a valid plan: %v.", err))
		return err
	}
	s.post(userCtx.UserID, models.AuraResponse(planReadyMessage))
	return nil
}

// runArchitect produces the validated final blueprint.
func (s *Service) runArchitect(ctx context.Context, userCtx *models.UserContext, projectName, userIdea string) (json.RawMessage, error) {
	reply := s.gw.Invoke(ctx, userCtx, gateway.Request{
		Role: models.RoleArchitect,
		Messages: []models.ChatMessage{{
			Role:    models.ChatRoleUser,
			Content: prompts.Architect(projectName, userIdea),
		}},
		IsJSON: true,
	})
	if strings.TrimSpace(reply) == "" || gateway.IsErrorReply(reply) {
		content := reply
		if strings.TrimSpace(content) == "" {
			content = architectFailureMessage
		}
		s.reportError(ctx, userCtx.UserID, content)
		return nil, errors.New("architect returned an empty or invalid response")
	}

	var doc blueprintDocument
	if err := DecodeInto(reply, &doc); err != nil {
		s.reportError(ctx, userCtx.UserID, fmt.Sprintf("Failed to create a valid plan: %v.", err))
		s.logger.Error(ctx, "architect reply unparsable", "user_id", userCtx.UserID, "raw", truncate(reply, 500))
		return nil, err
	}
	if isNullJSON(doc.FinalBlueprint) {
		err := errors.New("architect produced no final_blueprint")
		s.reportError(ctx, userCtx.UserID, fmt.Sprintf("Failed to create a valid plan: %v.", err))
		return nil, err
	}
	if doc.Critique != "" {
		s.logger.Info(ctx, "architect self-critique", "critique", truncate(doc.Critique, 300))
	}
	return doc.FinalBlueprint, nil
}

// runSequencer turns the final blueprint into ordered task sentences.
func (s *Service) runSequencer(ctx context.Context, userCtx *models.UserContext, blueprint json.RawMessage) ([]string, error) {
	reply := s.gw.Invoke(ctx, userCtx, gateway.Request{
		Role: models.RoleSequencer,
		Messages: []models.ChatMessage{{
			Role:    models.ChatRoleUser,
			Content: prompts.Sequencer(string(blueprint)),
		}},
		IsJSON: true,
	})
	if strings.TrimSpace(reply) == "" || gateway.IsErrorReply(reply) {
		content := reply
		if strings.TrimSpace(content) == "" {
			content = architectFailureMessage
		}
		s.reportError(ctx, userCtx.UserID, content)
		return nil, errors.New("sequencer returned an empty or invalid response")
	}

	var doc planDocument
	err := DecodeInto(reply, &doc)
	if err == nil && len(compactSteps(doc.FinalPlan)) == 0 {
		err = errors.New("Aura's final_plan was empty or malformed after self-critique.")
	}
	if err != nil {
		s.reportError(ctx, userCtx.UserID, fmt.Sprintf("Failed to create a valid plan: %v.", err))
		s.logger.Error(ctx, "sequencer failure", "user_id", userCtx.UserID, "raw", truncate(reply, 500))
		return nil, err
	}
	return compactSteps(doc.FinalPlan), nil
}

// RunCompanionChat streams a conversational reply and returns the final
// text. Transport failures degrade to a friendly apology.
func (s *Service) RunCompanionChat(ctx context.Context, userCtx *models.UserContext, history []models.ChatMessage, userMessage string) string {
	s.logger.Info(ctx, "companion chat initiated", "user_id", userCtx.UserID, "prompt", truncate(userMessage, 50))
	reply := s.gw.Invoke(ctx, userCtx, gateway.Request{
		Role: models.RoleChat,
		Messages: []models.ChatMessage{{
			Role:    models.ChatRoleUser,
			Content: prompts.Companion(prompts.FormatConversation(history), userMessage),
		}},
	})
	if gateway.IsErrorReply(reply) {
		s.reportError(ctx, userCtx.UserID, reply)
		return chatFallbackReply
	}
	return reply
}

// replanDocument is the replanner's output.
type replanDocument struct {
	Plan []string `json:"plan"`
}

// RunStrategicReplan rewrites the plan tail after a task exhausted its
// retries. The failed task and everything after it are replaced.
func (s *Service) RunStrategicReplan(ctx context.Context, userCtx *models.UserContext, originalGoal string, failedTask models.Task, log *missionlog.Log) error {
	s.logger.Info(ctx, "strategic replan initiated", "user_id", userCtx.UserID, "failed_task", failedTask.ID)

	errorMessage := failedTask.LastError
	if errorMessage == "" {
		errorMessage = "No specific error message was recorded."
	}
	reply := s.gw.Invoke(ctx, userCtx, gateway.Request{
		Role: models.RolePlanner,
		Messages: []models.ChatMessage{{
			Role: models.ChatRoleUser,
			Content: prompts.Replanner(
				originalGoal,
				FormatMissionLog(log.Tasks(nil)),
				fmt.Sprintf("ID %d: %s", failedTask.ID, failedTask.Description),
				errorMessage,
			),
		}},
		IsJSON: true,
	})
	if strings.TrimSpace(reply) == "" || gateway.IsErrorReply(reply) {
		content := reply
		if strings.TrimSpace(content) == "" {
			content = "Re-planner returned an empty response."
		}
		s.reportError(ctx, userCtx.UserID, content)
		return errors.New("replanner returned an empty or invalid response")
	}

	var doc replanDocument
	err := DecodeInto(reply, &doc)
	steps := compactSteps(doc.Plan)
	if err == nil && len(steps) == 0 {
		err = errors.New("Re-planner returned an empty or malformed plan.")
	}
	if err != nil {
		s.reportError(ctx, userCtx.UserID, fmt.Sprintf("I failed to create a valid recovery plan: %v", err))
		s.logger.Error(ctx, "replanner failure", "user_id", userCtx.UserID, "raw", truncate(reply, 500))
		return err
	}

	if err := log.ReplaceTailFrom(ctx, failedTask.ID, steps); err != nil {
		s.reportError(ctx, userCtx.UserID, fmt.Sprintf("I failed to create a valid recovery plan: %v", err))
		return err
	}
	s.logger.Info(ctx, "failed task replaced with new plan", "user_id", userCtx.UserID, "new_tasks", len(steps))
	s.post(userCtx.UserID, models.AuraResponse("I have a new plan. Resuming execution."))
	return nil
}

// GenerateMissionSummary produces the closing paragraph for a finished
// mission. Falls back to a stock line when the model is unavailable.
func (s *Service) GenerateMissionSummary(ctx context.Context, userCtx *models.UserContext, tasks []models.Task) string {
	var lines []string
	for _, t := range tasks {
		if t.Done {
			lines = append(lines, "- "+t.Description)
		}
	}
	if len(lines) == 0 {
		return missionAccomplishedFallback
	}
	reply := s.gw.Invoke(ctx, userCtx, gateway.Request{
		Role: models.RoleChat,
		Messages: []models.ChatMessage{{
			Role:    models.ChatRoleUser,
			Content: prompts.MissionSummary(strings.Join(lines, "\n")),
		}},
	})
	reply = strings.TrimSpace(reply)
	if reply == "" || gateway.IsErrorReply(reply) {
		return missionAccomplishedFallback
	}
	return reply
}

// FormatMissionLog renders tasks for prompt embedding, one line per task
// with its done/pending state.
func FormatMissionLog(tasks []models.Task) string {
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		state := "Pending"
		if t.Done {
			state = "Done"
		}
		lines = append(lines, fmt.Sprintf("- ID %d (%s): %s", t.ID, state, t.Description))
	}
	return strings.Join(lines, "\n")
}

// reportError posts a failure to the user and logs it.
func (s *Service) reportError(ctx context.Context, userID, message string) {
	s.logger.Error(ctx, "planner error", "user_id", userID, "message", message)
	s.post(userID, models.SystemLog(message, true))
}

func (s *Service) post(userID string, event models.Event) {
	if s.notifier == nil {
		return
	}
	if strings.TrimSpace(event.Content) == "" && event.Type == models.EventSystemLog {
		return
	}
	s.notifier.BroadcastToUser(userID, event)
}

// compactSteps drops empty strings so a plan of blanks cannot pass
// validation.
func compactSteps(steps []string) []string {
	out := steps[:0:0]
	for _, step := range steps {
		if strings.TrimSpace(step) != "" {
			out = append(out, step)
		}
	}
	return out
}

// isNullJSON reports whether a raw message is absent or JSON null.
func isNullJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
