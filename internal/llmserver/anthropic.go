package llmserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aura-dev/aura/pkg/models"
)

// anthropicMaxTokens caps one completion; the Anthropic API requires an
// explicit limit on every call.
const anthropicMaxTokens = 4096

// AnthropicProvider streams chat completions from the Anthropic Messages
// API. The API takes the system prompt as a top-level parameter rather than
// a message, has no dedicated JSON mode (the prompts demand JSON-only
// output instead), and reports tool calls as tool_use content blocks whose
// input JSON arrives in fragments.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider builds a provider around one API key.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Stream runs one streaming completion. Text deltas are forwarded as they
// arrive; a completed tool_use block is emitted as one tool-call JSON chunk.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) <-chan Chunk {
	chunks := make(chan Chunk)

	go func() {
		defer close(chunks)

		system, messages := splitSystemPrompt(req.Messages)
		if len(messages) == 0 {
			chunks <- Chunk{Err: errors.New("Anthropic API call failed. Details: conversation has no user messages.")}
			return
		}

		params := anthropic.MessageNewParams{
			Model:       anthropic.Model(req.Model),
			Messages:    messages,
			MaxTokens:   anthropicMaxTokens,
			Temperature: anthropic.Float(req.Temperature),
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
		}
		if len(req.Tools) > 0 {
			tools, err := anthropicTools(req.Tools)
			if err != nil {
				chunks <- Chunk{Err: err}
				return
			}
			params.Tools = tools
		}

		stream := p.client.Messages.NewStreaming(ctx, params)

		// Tool input JSON arrives across several input_json_delta events.
		var toolName string
		var toolInput strings.Builder

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					toolUse := block.AsToolUse()
					toolName = toolUse.Name
					toolInput.Reset()
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						chunks <- Chunk{Text: delta.Text}
					}
				case "input_json_delta":
					toolInput.WriteString(delta.PartialJSON)
				}
			case "content_block_stop":
				if toolName == "" {
					continue
				}
				reply, err := renderToolCall("Anthropic", toolName, toolInput.String())
				toolName = ""
				if err != nil {
					chunks <- Chunk{Err: err}
					return
				}
				chunks <- Chunk{Text: reply}
			case "message_stop":
				return
			}
		}

		if err := stream.Err(); err != nil {
			chunks <- Chunk{Err: anthropicError(err)}
		}
	}()

	return chunks
}

// splitSystemPrompt pulls the first system message out of the conversation;
// the Anthropic API carries it as a top-level parameter.
func splitSystemPrompt(messages []models.ChatMessage) (string, []anthropic.MessageParam) {
	var system string
	var converted []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.ChatRoleSystem {
			if system == "" {
				system = msg.Content
			}
			continue
		}
		if msg.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == models.ChatRoleAssistant {
			converted = append(converted, anthropic.NewAssistantMessage(block))
		} else {
			converted = append(converted, anthropic.NewUserMessage(block))
		}
	}
	return system, converted
}

// anthropicTools converts generic tool schemas to the Messages API format.
func anthropicTools(tools []ToolSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		raw, err := json.Marshal(tool.Parameters)
		if err != nil {
			return nil, fmt.Errorf("Anthropic API call failed. Details: invalid schema for tool '%s': %v.", tool.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("Anthropic API call failed. Details: invalid schema for tool '%s': %v.", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("Anthropic API call failed. Details: invalid schema for tool '%s'.", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

// anthropicError shapes an API failure into the wire error message.
func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		detail := apiErr.Error()
		if raw := apiErr.RawJSON(); raw != "" {
			var payload struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if json.Unmarshal([]byte(raw), &payload) == nil && payload.Error.Message != "" {
				detail = payload.Error.Message
			}
		}
		return fmt.Errorf("Anthropic API call failed. Status: %d. Details: %s", apiErr.StatusCode, detail)
	}
	return fmt.Errorf("An unexpected error occurred with Anthropic. Details: %v", err)
}
