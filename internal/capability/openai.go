package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tjfontaine/polyglot-relay/internal/api/openai"
	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

// ChatCompleter is the subset of the OpenAI-compatible client used here.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error)
}

// OpenAIOptions configures an OpenAI-compatible capability.
type OpenAIOptions struct {
	Name        string
	Model       string
	System      string
	MaxTokens   int
	Temperature *float64
}

// OpenAI generates text with a chat completions endpoint. It serves xAI's
// Grok models as well when the client points at https://api.x.ai/v1.
type OpenAI struct {
	client ChatCompleter
	opts   OpenAIOptions
}

// NewOpenAI creates the capability. A model is required.
func NewOpenAI(client ChatCompleter, opts OpenAIOptions) (*OpenAI, error) {
	if client == nil {
		return nil, errors.New("openai: client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	if opts.Name == "" {
		opts.Name = opts.Model
	}
	return &OpenAI{client: client, opts: opts}, nil
}

func (o *OpenAI) Name() string { return o.opts.Name }

// Generate sends text as a single user message, preceded by the system
// instructions when configured. Output is trimmed. A tool_calls finish reason
// means the model wants input this pipeline cannot supply, so the generation
// is reported as suspended.
func (o *OpenAI) Generate(ctx context.Context, text string) (*ports.Generation, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if o.opts.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: "system", Content: o.opts.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: "user", Content: text})

	resp, err := o.client.CreateChatCompletion(ctx, &openai.ChatCompletionRequest{
		Model:       o.opts.Model,
		Messages:    messages,
		MaxTokens:   o.opts.MaxTokens,
		Temperature: o.opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	choice := resp.Choices[0]
	model := resp.Model
	if model == "" {
		model = o.opts.Model
	}

	if choice.FinishReason == "tool_calls" || choice.FinishReason == "function_call" {
		return &ports.Generation{
			Model:         model,
			Suspended:     true,
			SuspendReason: "model requested a tool call",
		}, nil
	}

	return &ports.Generation{
		Text:  strings.TrimSpace(choice.Message.Content),
		Model: model,
	}, nil
}
