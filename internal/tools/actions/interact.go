package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aura-dev/aura/internal/tools"
	"github.com/aura-dev/aura/pkg/models"
)

// userInputTimeout bounds how long a mission blocks on a clarifying
// question. Variable so tests can shorten it.
var userInputTimeout = 10 * time.Minute

func requestUserInput(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	question := strings.TrimSpace(stringArg(args, "question"))
	if question == "" {
		return "Error: No question provided.", nil
	}

	// Register the waiter before broadcasting so an immediate reply
	// cannot slip past it.
	widgetID := uuid.NewString()
	answers := tc.Bus.AwaitUserInput(widgetID)
	defer tc.Bus.CancelUserInput(widgetID)

	tc.Bus.BroadcastToUser(tc.UserID, models.UserInputRequest(widgetID, question))

	select {
	case answer := <-answers:
		return fmt.Sprintf("User responded: %s", answer), nil
	case <-time.After(userInputTimeout):
		return "Error: Timed out waiting for user input.", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
