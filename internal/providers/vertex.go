package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	VertexName         = "vertex"
	defaultVertexModel = "gemini-2.5-pro"
)

// VertexConfig holds configuration for the Vertex AI Gemini client.
type VertexConfig struct {
	Project      string
	Region       string
	DefaultModel string
	RateLimit    float64
}

// VertexClient implements LLMClient with Gemini on Vertex AI. The underlying
// genai client dials on first use, so an unreachable project never fails
// startup.
type VertexClient struct {
	project      string
	region       string
	defaultModel string
	limiter      *RateLimiter

	mu     sync.Mutex
	client *genai.Client
}

// NewVertexClient creates a new Vertex client.
func NewVertexClient(cfg VertexConfig) *VertexClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultVertexModel
	}
	return &VertexClient{
		project:      cfg.Project,
		region:       cfg.Region,
		defaultModel: cfg.DefaultModel,
		limiter:      NewRateLimiter(cfg.RateLimit),
	}
}

// Name returns the client identifier.
func (c *VertexClient) Name() string { return VertexName }

// IsConfigured reports whether project and region are set. Credentials come
// from the environment and are not checked here.
func (c *VertexClient) IsConfigured() bool {
	return c.project != "" && c.region != ""
}

// Close releases the genai client if one was opened.
func (c *VertexClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *VertexClient) genaiClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	if !c.IsConfigured() {
		return nil, fmt.Errorf("%w: vertex needs project and region", ErrNotConfigured)
	}
	client, err := genai.NewClient(ctx, c.project, c.region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	c.client = client
	return client, nil
}

// Chat sends a GenerateContent request, replaying earlier turns as history.
func (c *VertexClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	modelName := req.Model
	if modelName == "" {
		modelName = c.defaultModel
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	result := &ChatResult{RequestID: requestID, Provider: VertexName, ModelUsed: modelName, Attempts: 1}

	client, err := c.genaiClient(ctx)
	if err != nil {
		return failed(result, start, "not_configured", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return failed(result, start, "rate_limit", err)
	}

	system, turns := req.systemAndTurns()
	if len(turns) == 0 {
		return failed(result, start, "invalid_request", errors.New("no user message"))
	}

	model := client.GenerativeModel(modelName)
	if instr := schemaInstruction(req.ResponseFormat); instr != "" {
		system = strings.TrimSpace(system + "\n\n" + instr)
		model.GenerationConfig.ResponseMIMEType = "application/json"
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	cs := model.StartChat()
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: vertexParts(m)})
	}
	resp, err := cs.SendMessage(ctx, vertexParts(turns[len(turns)-1])...)
	if err != nil {
		return failed(result, start, "api_error", classifyVertex(err))
	}

	var text strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	if text.Len() == 0 {
		return failed(result, start, "empty_response", errors.New("gemini returned no text"))
	}

	result.Success = true
	result.Content = text.String()
	if u := resp.UsageMetadata; u != nil {
		result.PromptTokens = int(u.PromptTokenCount)
		result.CompletionTokens = int(u.CandidatesTokenCount)
		result.TotalTokens = int(u.TotalTokenCount)
	}
	result.ExecutionTime = time.Since(start)
	decodeStructured(req, result)
	return result, nil
}

func vertexParts(m Message) []genai.Part {
	parts := make([]genai.Part, 0, len(m.Images)+1)
	for _, img := range m.Images {
		parts = append(parts, genai.ImageData("png", img))
	}
	return append(parts, genai.Text(m.Content))
}

// classifyVertex maps transient gRPC codes onto the HTTP statuses the retry
// policy understands.
func classifyVertex(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	code := 0
	switch st.Code() {
	case codes.ResourceExhausted:
		code = 429
	case codes.Unavailable:
		code = 503
	case codes.DeadlineExceeded:
		code = 504
	case codes.Internal:
		code = 500
	case codes.InvalidArgument:
		code = 400
	case codes.PermissionDenied, codes.Unauthenticated:
		code = 403
	default:
		return err
	}
	return &APIError{Provider: VertexName, StatusCode: code, Message: st.Message()}
}

var _ LLMClient = (*VertexClient)(nil)
