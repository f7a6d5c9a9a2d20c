package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrProviderUnavailable is returned when no configured client matches a
	// task's provider or its fallbacks.
	ErrProviderUnavailable = errors.New("no configured AI provider available")

	// ErrNotConfigured is returned by a client asked to run without the
	// credentials its backend needs.
	ErrNotConfigured = errors.New("provider is not configured")
)

// LLMClient is the interface every AI backend implements.
type LLMClient interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "openrouter").
	Name() string

	// IsConfigured reports whether the backend has what it needs to make a
	// call. It never touches the network.
	IsConfigured() bool
}

// Message represents a chat message.
type Message struct {
	Role    string   `json:"role"` // "system", "user", "assistant"
	Content string   `json:"content"`
	Images  [][]byte `json:"-"` // PNG page renders for vision models
}

// ResponseFormat specifies structured output format.
type ResponseFormat struct {
	Type       string          `json:"type"` // "json_schema"
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// JSONSchemaFormat wraps a raw JSON schema in the {"name","strict","schema"}
// envelope used by OpenAI-compatible APIs.
func JSONSchemaFormat(name string, schema json.RawMessage) *ResponseFormat {
	if len(schema) == 0 {
		return nil
	}
	wrapped, _ := json.Marshal(struct {
		Name   string          `json:"name"`
		Strict bool            `json:"strict"`
		Schema json.RawMessage `json:"schema"`
	}{name, true, schema})
	return &ResponseFormat{Type: "json_schema", JSONSchema: wrapped}
}

// schemaParts unpacks a JSONSchemaFormat envelope. A bare schema
// is returned as is with a generic name.
func (rf *ResponseFormat) schemaParts() (string, json.RawMessage) {
	if rf == nil || len(rf.JSONSchema) == 0 {
		return "", nil
	}
	var env struct {
		Name   string          `json:"name"`
		Schema json.RawMessage `json:"schema"`
	}
	if err := json.Unmarshal(rf.JSONSchema, &env); err == nil && len(env.Schema) > 0 {
		if env.Name == "" {
			env.Name = "response"
		}
		return env.Name, env.Schema
	}
	return "response", rf.JSONSchema
}

// ChatRequest is a request to an LLM.
type ChatRequest struct {
	// Required
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	// Generation parameters
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Timeout     time.Duration

	// Structured output
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// Request tracking
	RequestID string `json:"-"`
}

// systemAndTurns splits leading system messages from the conversation.
func (r *ChatRequest) systemAndTurns() (string, []Message) {
	var system string
	turns := make([]Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, m)
	}
	return system, turns
}

// ChatResult is the complete response from an LLM call.
type ChatResult struct {
	Content    string          `json:"content"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"` // Set if ResponseFormat was set and content decoded

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	CostUSD       float64       `json:"cost_usd"`
	ExecutionTime time.Duration `json:"execution_time"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`
	RequestID string `json:"request_id"`
	Attempts  int    `json:"attempts"`

	Success      bool   `json:"success"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// APIError is a non-2xx reply from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}

// failed fills in the error fields of result and returns err.
func failed(result *ChatResult, start time.Time, errType string, err error) (*ChatResult, error) {
	result.Success = false
	result.ErrorType = errType
	result.ErrorMessage = err.Error()
	result.ExecutionTime = time.Since(start)
	return result, err
}

// decodeStructured sets ParsedJSON when the content is already valid JSON.
// Anything else is left to the caller's recovery path.
func decodeStructured(req *ChatRequest, result *ChatResult) {
	if req.ResponseFormat == nil || result.Content == "" {
		return
	}
	var parsed json.RawMessage
	if err := json.Unmarshal([]byte(result.Content), &parsed); err == nil {
		result.ParsedJSON = parsed
	}
}
