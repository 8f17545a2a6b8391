// Package genai wraps the OpenAI chat completions API behind a small
// Completer interface used by every conversational component.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

// ErrNoChoicesReturned is returned when the API answers without any choice.
var ErrNoChoicesReturned = errors.New("no choices returned from OpenAI")

// DefaultRequestTimeout bounds a single completion call.
const DefaultRequestTimeout = 60 * time.Second

// Model names.
const (
	ModelAgent    = "gpt-4.1"
	ModelAdvanced = "gpt-4-0125-preview"
)

// Profile fixes the model and sampling parameters of one kind of call.
type Profile struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	JSONObject  bool
}

// Call profiles used across the conversation pipeline.
var (
	AgentProfile      = Profile{Model: ModelAgent, Temperature: 0, MaxTokens: 600, JSONObject: true}
	ClassifierProfile = Profile{Model: ModelAdvanced, Temperature: 0.2, MaxTokens: 3}
	FusionProfile     = Profile{Model: ModelAdvanced, Temperature: 0.7, MaxTokens: 400}
	GeneralProfile    = Profile{Model: ModelAdvanced, Temperature: 0.7, MaxTokens: 200}
)

// HelperProfile is the contextual-reply profile with a per-detector token cap.
func HelperProfile(maxTokens int64) Profile {
	return Profile{Model: ModelAdvanced, Temperature: 0.7, MaxTokens: maxTokens}
}

// Request is one chat completion call.
type Request struct {
	Profile  Profile
	Messages []models.Message
}

// Completer produces the trimmed text of the first completion choice.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openAIChat adapts the SDK client to chatService.
type openAIChat struct {
	client openai.Client
}

func (o *openAIChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat chatService
}

var _ Completer = (*Client)(nil)

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// NewClient initializes a new GenAI client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	slog.Debug("genai.NewClient: client configured", "base_url_set", cfg.BaseURL != "", "timeout", cfg.Timeout)
	return &Client{chat: &openAIChat{client: openai.NewClient(clientOpts...)}}, nil
}

func toParamMessages(msgs []models.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// Complete sends the request and returns the trimmed content of the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Profile.Model),
		Messages:    toParamMessages(req.Messages),
		Temperature: openai.Float(req.Profile.Temperature),
	}
	if req.Profile.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.Profile.MaxTokens)
	}
	if req.Profile.JSONObject {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("genai.Complete: request failed", "model", req.Profile.Model, "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	slog.Debug("genai.Complete: response received", "model", req.Profile.Model, "messages", len(req.Messages), "elapsed", time.Since(start))
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
