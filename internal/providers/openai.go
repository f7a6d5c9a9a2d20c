package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

const OpenAIName = "openai"

// OpenAIConfig holds configuration for the OpenAI client. BaseURL may point
// at any Responses-compatible endpoint.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	RateLimit    float64
	MaxRetries   int
}

// OpenAIClient implements LLMClient with the OpenAI Responses API.
type OpenAIClient struct {
	client       openai.Client
	apiKey       string
	baseURL      string
	defaultModel string
	limiter      *RateLimiter
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = string(shared.ChatModelGPT5Mini)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIClient{
		client:       openai.NewClient(opts...),
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		limiter:      NewRateLimiter(cfg.RateLimit),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string { return OpenAIName }

// IsConfigured reports whether an API key is set.
func (c *OpenAIClient) IsConfigured() bool { return c.apiKey != "" }

// Chat sends a request through the Responses API.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	result := &ChatResult{RequestID: requestID, Provider: OpenAIName, ModelUsed: model, Attempts: 1}

	if err := c.limiter.Wait(ctx); err != nil {
		return failed(result, start, "rate_limit", err)
	}

	system, turns := req.systemAndTurns()
	items := make(responses.ResponseInputParam, 0, len(turns))
	for _, m := range turns {
		if m.Role == "assistant" {
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleAssistant))
			continue
		}
		content := responses.ResponseInputMessageContentListParam{
			responses.ResponseInputContentParamOfInputText(m.Content),
		}
		for _, img := range m.Images {
			content = append(content, responses.ResponseInputContentUnionParam{
				OfInputImage: &responses.ResponseInputImageParam{
					Detail:   responses.ResponseInputImageDetailAuto,
					ImageURL: openai.String("data:image/png;base64," + base64.StdEncoding.EncodeToString(img)),
				},
			})
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(content, responses.EasyInputMessageRoleUser))
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}
	if system != "" {
		params.Instructions = openai.String(system)
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	}
	if name, schema := req.ResponseFormat.schemaParts(); len(schema) > 0 {
		var schemaMap map[string]any
		if err := json.Unmarshal(schema, &schemaMap); err != nil {
			return failed(result, start, "schema", fmt.Errorf("invalid response schema: %w", err))
		}
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   name,
					Schema: schemaMap,
					Strict: openai.Bool(false),
					Type:   "json_schema",
				},
			},
		}
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return failed(result, start, "api_error", c.classify(err))
	}

	result.Success = true
	result.Content = resp.OutputText()
	if resp.Model != "" {
		result.ModelUsed = string(resp.Model)
	}
	result.PromptTokens = int(resp.Usage.InputTokens)
	result.CompletionTokens = int(resp.Usage.OutputTokens)
	result.TotalTokens = int(resp.Usage.TotalTokens)
	result.ExecutionTime = time.Since(start)
	decodeStructured(req, result)
	return result, nil
}

// classify turns SDK status errors into APIError so retry policy applies.
func (c *OpenAIClient) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			c.limiter.Record429(0)
		}
		return &APIError{Provider: OpenAIName, StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return err
}

var _ LLMClient = (*OpenAIClient)(nil)
