package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

// RuntimeClient captures the subset of the Bedrock runtime client used here.
// It is satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockOptions configures a Bedrock capability.
type BedrockOptions struct {
	Name        string
	Model       string
	System      string
	MaxTokens   int
	Temperature *float64
}

// Bedrock generates text with the Bedrock Converse API, e.g. with
// us.anthropic.claude-haiku-4-5-20251001-v1:0.
type Bedrock struct {
	runtime RuntimeClient
	opts    BedrockOptions
}

// NewBedrock creates the capability. A model is required.
func NewBedrock(runtime RuntimeClient, opts BedrockOptions) (*Bedrock, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("bedrock: model is required")
	}
	if opts.Name == "" {
		opts.Name = opts.Model
	}
	return &Bedrock{runtime: runtime, opts: opts}, nil
}

// NewBedrockRuntime builds a runtime client for region using static
// credentials. Empty credentials leave requests unsigned, which only works
// against endpoints that do not require SigV4.
func NewBedrockRuntime(region, accessKeyID, secretKey, baseURL string) *bedrockruntime.Client {
	opts := bedrockruntime.Options{Region: region}
	if accessKeyID != "" {
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     accessKeyID,
				SecretAccessKey: secretKey,
				Source:          "relay-config",
			}, nil
		}))
	}
	if baseURL != "" {
		opts.BaseEndpoint = aws.String(baseURL)
	}
	return bedrockruntime.New(opts)
}

func (b *Bedrock) Name() string { return b.opts.Name }

// Generate sends text as one user turn. Output text blocks are joined and
// trimmed. A tool_use stop reason is reported as suspended.
func (b *Bedrock) Generate(ctx context.Context, text string) (*ports.Generation, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.opts.Model),
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		}},
	}
	if b.opts.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: b.opts.System}}
	}
	if b.opts.MaxTokens > 0 || b.opts.Temperature != nil {
		var cfg brtypes.InferenceConfiguration
		if b.opts.MaxTokens > 0 {
			cfg.MaxTokens = aws.Int32(int32(b.opts.MaxTokens)) //nolint:gosec // bounded by config
		}
		if b.opts.Temperature != nil {
			cfg.Temperature = aws.Float32(float32(*b.opts.Temperature))
		}
		input.InferenceConfig = &cfg
	}

	output, err := b.runtime.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}
	if output == nil {
		return nil, errors.New("bedrock: response is nil")
	}

	if output.StopReason == brtypes.StopReasonToolUse {
		return &ports.Generation{
			Model:         b.opts.Model,
			Suspended:     true,
			SuspendReason: "model requested a tool call",
		}, nil
	}

	var sb strings.Builder
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if v, ok := block.(*brtypes.ContentBlockMemberText); ok {
				sb.WriteString(v.Value)
			}
		}
	}

	return &ports.Generation{
		Text:  strings.TrimSpace(sb.String()),
		Model: b.opts.Model,
	}, nil
}
