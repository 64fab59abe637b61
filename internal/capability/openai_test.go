package capability

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/tjfontaine/polyglot-relay/internal/api/openai"
	"github.com/tjfontaine/polyglot-relay/internal/testutil"
)

func TestOpenAI_Generate_XAI(t *testing.T) {
	if os.Getenv("XAI_API_KEY") == "" && os.Getenv("VCR_MODE") == "record" {
		t.Skip("Skipping test: XAI_API_KEY not set")
	}

	recorder := testutil.NewVCRRecorder(t, "xai_chat")
	client := openai.NewClient(os.Getenv("XAI_API_KEY"),
		openai.WithBaseURL("https://api.x.ai/v1"),
		openai.WithHTTPClient(testutil.VCRHTTPClient(recorder)),
	)

	c, err := NewOpenAI(client, OpenAIOptions{
		Name:   "grok",
		Model:  "grok-3-mini-fast-latest",
		System: "You speak like a chuunibyou hero.",
	})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}

	gen, err := c.Generate(context.Background(), "good morning")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if gen.Text != "The dawn answers my summons. Good morning, mortal!" {
		t.Errorf("Text = %q, want trimmed content", gen.Text)
	}
	if gen.Model != "grok-3-mini-fast-latest" {
		t.Errorf("Model = %q", gen.Model)
	}
	if gen.Suspended {
		t.Error("Suspended = true")
	}
}

func TestOpenAI_Generate_UpstreamError(t *testing.T) {
	recorder := testutil.NewVCRRecorder(t, "xai_chat")
	client := openai.NewClient("bad-key",
		openai.WithBaseURL("https://api.x.ai/v1/bad"),
		openai.WithHTTPClient(testutil.VCRHTTPClient(recorder)),
	)
	c, _ := NewOpenAI(client, OpenAIOptions{Model: "grok-3-mini-fast-latest"})

	_, err := c.Generate(context.Background(), "fail")
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Generate() error = %v, want *openai.APIError", err)
	}
	if apiErr.StatusCode != 401 || apiErr.Code != "invalid_api_key" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

type stubCompleter struct {
	req  *openai.ChatCompletionRequest
	resp *openai.ChatCompletionResponse
	err  error
}

func (s *stubCompleter) CreateChatCompletion(_ context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	s.req = req
	return s.resp, s.err
}

func TestOpenAI_Generate(t *testing.T) {
	temp := 0.2
	tests := []struct {
		name          string
		opts          OpenAIOptions
		resp          *openai.ChatCompletionResponse
		wantText      string
		wantSuspended bool
		wantErr       string
		wantMessages  int
	}{
		{
			name: "system instructions prepended",
			opts: OpenAIOptions{Model: "gpt-4o-mini", System: "Translate to Arabic.", Temperature: &temp},
			resp: &openai.ChatCompletionResponse{Choices: []openai.Choice{{
				Message:      openai.ChatCompletionMessage{Role: "assistant", Content: " مرحبا "},
				FinishReason: "stop",
			}}},
			wantText:     "مرحبا",
			wantMessages: 2,
		},
		{
			name: "tool call suspends",
			opts: OpenAIOptions{Model: "gpt-4o-mini"},
			resp: &openai.ChatCompletionResponse{Choices: []openai.Choice{{
				FinishReason: "tool_calls",
			}}},
			wantSuspended: true,
			wantMessages:  1,
		},
		{
			name:         "no choices",
			opts:         OpenAIOptions{Model: "gpt-4o-mini"},
			resp:         &openai.ChatCompletionResponse{},
			wantErr:      "no choices",
			wantMessages: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubCompleter{resp: tt.resp}
			c, err := NewOpenAI(stub, tt.opts)
			if err != nil {
				t.Fatal(err)
			}

			gen, err := c.Generate(context.Background(), "hello")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Generate() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if gen.Text != tt.wantText || gen.Suspended != tt.wantSuspended {
				t.Errorf("Generate() = %+v", gen)
			}
			if gen.Model != tt.opts.Model {
				t.Errorf("Model = %q, want fallback to configured model", gen.Model)
			}
			if len(stub.req.Messages) != tt.wantMessages {
				t.Errorf("sent %d messages, want %d", len(stub.req.Messages), tt.wantMessages)
			}
			if stub.req.Messages[len(stub.req.Messages)-1].Content != "hello" {
				t.Error("last message must carry the stage input")
			}
		})
	}
}

func TestNewOpenAI_RequiresModel(t *testing.T) {
	if _, err := NewOpenAI(&stubCompleter{}, OpenAIOptions{}); err == nil {
		t.Error("NewOpenAI() without a model should fail")
	}
}
