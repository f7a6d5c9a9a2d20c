package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
)

const (
	AnthropicName         = "anthropic"
	defaultAnthropicModel = "claude-sonnet-4-5"
	// Messages requires an explicit output cap.
	defaultAnthropicMaxTokens = 4096
)

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	RateLimit    float64
	MaxRetries   int
}

// AnthropicClient implements LLMClient with the Anthropic Messages API.
// Anthropic has no JSON schema mode, so the schema goes into the system
// prompt and the caller validates the reply.
type AnthropicClient struct {
	client       anthropic.Client
	apiKey       string
	defaultModel string
	limiter      *RateLimiter
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultAnthropicModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		limiter:      NewRateLimiter(cfg.RateLimit),
	}
}

// Name returns the client identifier.
func (c *AnthropicClient) Name() string { return AnthropicName }

// IsConfigured reports whether an API key is set.
func (c *AnthropicClient) IsConfigured() bool { return c.apiKey != "" }

// Chat sends a Messages request.
func (c *AnthropicClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	result := &ChatResult{RequestID: requestID, Provider: AnthropicName, ModelUsed: model, Attempts: 1}

	if err := c.limiter.Wait(ctx); err != nil {
		return failed(result, start, "rate_limit", err)
	}

	system, turns := req.systemAndTurns()
	if instr := schemaInstruction(req.ResponseFormat); instr != "" {
		system = strings.TrimSpace(system + "\n\n" + instr)
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, m := range turns {
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Images)+1)
		for _, img := range m.Images {
			blocks = append(blocks, anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(img)))
		}
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		messages = append(messages, anthropic.NewUserMessage(blocks...))
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return failed(result, start, "api_error", c.classify(err))
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return failed(result, start, "empty_response", errors.New("no text content in Anthropic response"))
	}

	result.Success = true
	result.Content = text.String()
	if msg.Model != "" {
		result.ModelUsed = string(msg.Model)
	}
	result.PromptTokens = int(msg.Usage.InputTokens)
	result.CompletionTokens = int(msg.Usage.OutputTokens)
	result.TotalTokens = result.PromptTokens + result.CompletionTokens
	result.ExecutionTime = time.Since(start)
	decodeStructured(req, result)
	return result, nil
}

func (c *AnthropicClient) classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			c.limiter.Record429(0)
		}
		return &APIError{Provider: AnthropicName, StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return err
}

var _ LLMClient = (*AnthropicClient)(nil)
