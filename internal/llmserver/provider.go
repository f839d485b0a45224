package llmserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aura-dev/aura/pkg/models"
)

// Request is one provider-agnostic chat call.
type Request struct {
	Model       string
	Messages    []models.ChatMessage
	Temperature float64

	// JSONMode asks providers that support it for a guaranteed-JSON reply.
	JSONMode bool

	// Tools, when present, lets the model answer with a tool selection
	// instead of prose.
	Tools []ToolSchema
}

// ToolSchema is the generic tool shape the orchestrator sends; each provider
// transforms it into its own function-calling format.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Chunk is one fragment of a streamed reply. A chunk with Err set is always
// the last one on the channel.
type Chunk struct {
	Text string
	Err  error
}

// Provider streams chat completions from one vendor API. Implementations
// aggregate tool-call fragments themselves and emit the finished call as a
// single {"tool_name", "arguments"} JSON chunk, so the reply a consumer
// assembles is directly decodable as a tool invocation.
type Provider interface {
	// Name is the stable lowercase provider identifier.
	Name() string

	// Stream starts the call and delivers reply fragments in order,
	// closing the channel after the last one.
	Stream(ctx context.Context, req Request) <-chan Chunk
}

// Factory builds a provider bound to one API key. Providers are constructed
// per request; the service never stores credentials.
type Factory func(apiKey string) Provider

// defaultFactories lists the providers this build supports.
func defaultFactories() map[string]Factory {
	return map[string]Factory{
		"anthropic": func(apiKey string) Provider { return NewAnthropicProvider(apiKey) },
		"openai":    func(apiKey string) Provider { return NewOpenAIProvider(apiKey) },
	}
}

// toolCallReply renders a finished tool call in the wire shape the
// orchestrator decodes.
type toolCallReply struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// renderToolCall validates the streamed argument JSON and renders the
// finished call. Empty argument streams count as a call with no arguments.
func renderToolCall(vendor, name, rawArgs string) (string, error) {
	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", fmt.Errorf("%s JSON parsing error for tool call: %v. Raw args: '%s'", vendor, err, rawArgs)
		}
	}
	out, err := json.Marshal(toolCallReply{ToolName: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("%s JSON parsing error for tool call: %v", vendor, err)
	}
	return string(out), nil
}
