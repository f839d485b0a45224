package llmserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aura-dev/aura/pkg/models"
)

// OpenAIProvider streams chat completions from the OpenAI API. Tool-call
// arguments arrive as JSON fragments spread across delta events, keyed by
// call index; the provider reassembles them and emits each finished call as
// one tool-call JSON chunk after the stream ends.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider builds a provider around one API key.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey)}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// openaiToolCall accumulates one tool call across delta events.
type openaiToolCall struct {
	name string
	args strings.Builder
}

// Stream runs one streaming completion.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) <-chan Chunk {
	chunks := make(chan Chunk)

	go func() {
		defer close(chunks)

		chatReq := openai.ChatCompletionRequest{
			Model:       req.Model,
			Messages:    openaiMessages(req.Messages),
			Temperature: float32(req.Temperature),
			Stream:      true,
		}
		if len(req.Tools) > 0 {
			chatReq.Tools = openaiTools(req.Tools)
			chatReq.ToolChoice = "auto"
		} else if req.JSONMode {
			chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}

		stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			chunks <- Chunk{Err: openaiError(err)}
			return
		}
		defer stream.Close()

		calls := make(map[int]*openaiToolCall)
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				chunks <- Chunk{Err: openaiError(err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				chunks <- Chunk{Text: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				call := calls[index]
				if call == nil {
					call = &openaiToolCall{}
					calls[index] = call
				}
				if tc.Function.Name != "" {
					call.name += tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					call.args.WriteString(tc.Function.Arguments)
				}
			}
		}

		// Finished tool calls are emitted in index order once the stream
		// is done, so argument JSON is complete before it is parsed.
		indexes := make([]int, 0, len(calls))
		for index := range calls {
			indexes = append(indexes, index)
		}
		sort.Ints(indexes)
		for _, index := range indexes {
			call := calls[index]
			if call.name == "" {
				continue
			}
			reply, err := renderToolCall("OpenAI", call.name, call.args.String())
			if err != nil {
				chunks <- Chunk{Err: err}
				return
			}
			chunks <- Chunk{Text: reply}
		}
	}()

	return chunks
}

// openaiMessages converts the wire conversation; OpenAI keeps the system
// prompt inline as the first message.
func openaiMessages(messages []models.ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		result = append(result, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return result
}

// openaiTools converts generic tool schemas to OpenAI function definitions.
func openaiTools(tools []ToolSchema) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return result
}

// openaiError shapes an API failure into the wire error message.
func openaiError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("OpenAI API call failed. Status: %d. Details: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	return fmt.Errorf("An unexpected error occurred with OpenAI. Details: %v", err)
}
