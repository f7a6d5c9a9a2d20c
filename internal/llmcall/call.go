// Package llmcall records every structured AI call a pipeline stage makes,
// so a session's extraction can be traced to the prompt version, provider
// and model that produced it.
package llmcall

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jackzampolin/scoreshelf/internal/providers"
)

// MaxResponseBytes bounds the stored raw response.
const MaxResponseBytes = 16 << 10

// Call is a recorded AI call.
type Call struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int64     `json:"latencyMs"`

	SessionID string `json:"sessionId"`
	JobID     string `json:"jobId,omitempty"`
	Task      string `json:"task"`

	PromptKey  string `json:"promptKey"`
	PromptHash string `json:"promptHash,omitempty"`

	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Attempts int    `json:"attempts"`

	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`

	Response string `json:"response,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// RecordOptions identify what a call was for.
type RecordOptions struct {
	SessionID  string
	JobID      string
	Task       string
	PromptKey  string
	PromptHash string
}

// FromStructured builds a Call from a structured output result.
func FromStructured[T any](res providers.StructuredResult[T], opts RecordOptions) *Call {
	c := &Call{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		LatencyMs:    res.Elapsed.Milliseconds(),
		SessionID:    opts.SessionID,
		JobID:        opts.JobID,
		Task:         opts.Task,
		PromptKey:    opts.PromptKey,
		PromptHash:   opts.PromptHash,
		Provider:     res.Provider,
		Model:        res.Model,
		Attempts:     res.Attempts,
		InputTokens:  res.PromptTokens,
		OutputTokens: res.CompletionTokens,
		CostUSD:      res.CostUSD,
		Response:     truncate(res.RawResponse, MaxResponseBytes),
		Success:      res.Error == nil && res.Data != nil,
	}
	if res.Error != nil {
		c.Error = res.Error.Error()
	}
	return c
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
