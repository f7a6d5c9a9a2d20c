package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/jackzampolin/scoreshelf/internal/structured"
)

// maxStructuredRepairAttempts limits the self-repair rounds after the first
// structured response fails to parse or validate.
const maxStructuredRepairAttempts = 2

// CallOptions tune a single AI call. Zero values fall back to the client's
// defaults.
type CallOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	// Images are attached to the user prompt.
	Images [][]byte
	// SchemaName labels the response format for OpenAI-compatible backends.
	SchemaName string
}

func (o CallOptions) request(messages []Message) *ChatRequest {
	return &ChatRequest{
		Messages:    messages,
		Model:       o.Model,
		Temperature: o.Temperature,
		MaxTokens:   o.MaxTokens,
		Timeout:     o.Timeout,
	}
}

func buildMessages(prompt, systemPrompt string, images [][]byte) []Message {
	msgs := make([]Message, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	}
	return append(msgs, Message{Role: "user", Content: prompt, Images: images})
}

// send runs one chat call with the timeout and transient-error retry policy.
func send(ctx context.Context, client LLMClient, req *ChatRequest, opts CallOptions) (*ChatResult, error) {
	if client == nil {
		return nil, ErrProviderUnavailable
	}
	if !client.IsConfigured() {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, client.Name())
	}
	call := func(ctx context.Context) (*ChatResult, error) {
		return structured.WithTimeout(ctx, opts.Timeout, func(ctx context.Context) (*ChatResult, error) {
			return client.Chat(ctx, req)
		})
	}
	return structured.WithRetry(ctx, call, opts.MaxRetries, opts.RetryDelay)
}

// ChatCompletion sends prompt (and an optional system prompt) and returns the
// text reply.
func ChatCompletion(ctx context.Context, client LLMClient, prompt, systemPrompt string, opts CallOptions) (string, error) {
	res, err := send(ctx, client, opts.request(buildMessages(prompt, systemPrompt, opts.Images)), opts)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// StructuredResult is the outcome of GenerateStructuredOutput. Exactly one of
// Data and Error is set.
type StructuredResult[T any] struct {
	Data        *T
	Error       error
	RawResponse string
	// Attempts counts model calls, including repair rounds.
	Attempts int
	Provider string
	Model    string
	// Token usage and cost summed over every round.
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Elapsed          time.Duration
}

// GenerateStructuredOutput asks the model for JSON matching schema and
// decodes it into T. Output that fails to parse or validate is sent back to
// the model with the failure for up to two repair rounds. It never panics.
func GenerateStructuredOutput[T any](ctx context.Context, client LLMClient, prompt string, schema json.RawMessage, systemPrompt string, opts CallOptions) (result StructuredResult[T]) {
	start := time.Now()
	defer func() { result.Elapsed = time.Since(start) }()
	var pc panics.Catcher
	pc.Try(func() {
		result = generateStructured[T](ctx, client, prompt, schema, systemPrompt, opts)
	})
	if r := pc.Recovered(); r != nil {
		result.Data = nil
		result.Error = fmt.Errorf("structured output: %w", r.AsError())
	}
	return result
}

func generateStructured[T any](ctx context.Context, client LLMClient, prompt string, schema json.RawMessage, systemPrompt string, opts CallOptions) StructuredResult[T] {
	var out StructuredResult[T]
	if client == nil {
		out.Error = ErrProviderUnavailable
		return out
	}
	out.Provider = client.Name()

	name := opts.SchemaName
	if name == "" {
		name = "response"
	}
	messages := buildMessages(prompt, systemPrompt, opts.Images)

	for round := 0; round <= maxStructuredRepairAttempts; round++ {
		req := opts.request(messages)
		req.ResponseFormat = JSONSchemaFormat(name, schema)

		res, err := send(ctx, client, req, opts)
		out.Attempts++
		if err != nil {
			out.Error = err
			return out
		}
		out.Model = res.ModelUsed
		out.RawResponse = res.Content
		out.PromptTokens += res.PromptTokens
		out.CompletionTokens += res.CompletionTokens
		out.CostUSD += res.CostUSD

		raw := res.Content
		if len(res.ParsedJSON) > 0 {
			raw = string(res.ParsedJSON)
		}
		data, perr := structured.ParseAndValidate[T](raw, schema)
		if perr == nil {
			out.Data = data
			out.Error = nil
			return out
		}
		out.Error = perr
		if ctx.Err() != nil {
			return out
		}

		messages = append(messages,
			Message{Role: "assistant", Content: res.Content},
			Message{Role: "user", Content: structuredRepairPrompt(schema, res.Content, perr)},
		)
	}
	return out
}

func structuredRepairPrompt(schemaRaw json.RawMessage, lastOutput string, issue error) string {
	lastOutput = strings.TrimSpace(lastOutput)
	if len(lastOutput) > 12000 {
		lastOutput = lastOutput[:12000] + "\n...[truncated]"
	}

	var detail strings.Builder
	var se *structured.SchemaError
	if errors.As(issue, &se) {
		for _, f := range se.Fields {
			fmt.Fprintf(&detail, "- %s: %s\n", f.Field, f.Message)
		}
	} else {
		detail.WriteString(issue.Error())
	}

	return fmt.Sprintf(`Return ONLY valid JSON (no markdown, no commentary) that strictly conforms to this schema.

Schema:
%s

Your previous output:
%s

Validation issue:
%s`, string(schemaRaw), lastOutput, strings.TrimSpace(detail.String()))
}
