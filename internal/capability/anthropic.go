package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

const defaultAnthropicMaxTokens = 1024

// MessagesClient captures the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicOptions configures an Anthropic capability.
type AnthropicOptions struct {
	Name        string
	Model       string
	System      string
	MaxTokens   int
	Temperature *float64
}

// Anthropic generates text with the Anthropic Messages API.
type Anthropic struct {
	msg  MessagesClient
	opts AnthropicOptions
}

// NewAnthropic creates the capability. A model is required.
func NewAnthropic(msg MessagesClient, opts AnthropicOptions) (*Anthropic, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultAnthropicMaxTokens
	}
	if opts.Name == "" {
		opts.Name = opts.Model
	}
	return &Anthropic{msg: msg, opts: opts}, nil
}

// NewAnthropicFromAPIKey builds the SDK client. An empty baseURL uses the
// SDK default.
func NewAnthropicFromAPIKey(apiKey, baseURL string, opts AnthropicOptions) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	client := sdk.NewClient(reqOpts...)
	return NewAnthropic(&client.Messages, opts)
}

func (a *Anthropic) Name() string { return a.opts.Name }

// Generate sends text as one user turn and joins the text blocks of the
// reply. Output is trimmed. Tool use and paused turns are reported as
// suspended.
func (a *Anthropic) Generate(ctx context.Context, text string) (*ports.Generation, error) {
	params := sdk.MessageNewParams{
		MaxTokens: int64(a.opts.MaxTokens),
		Model:     sdk.Model(a.opts.Model),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(text))},
	}
	if a.opts.System != "" {
		params.System = []sdk.TextBlockParam{{Text: a.opts.System}}
	}
	if a.opts.Temperature != nil {
		params.Temperature = sdk.Float(*a.opts.Temperature)
	}

	msg, err := a.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}

	model := string(msg.Model)
	if model == "" {
		model = a.opts.Model
	}

	switch msg.StopReason {
	case sdk.StopReasonToolUse, "pause_turn":
		return &ports.Generation{
			Model:         model,
			Suspended:     true,
			SuspendReason: "model stopped with " + string(msg.StopReason),
		}, nil
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	return &ports.Generation{
		Text:  strings.TrimSpace(b.String()),
		Model: model,
	}, nil
}
