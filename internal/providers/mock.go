package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for tests. Replies are served from Responses
// in order; once exhausted the last one repeats.
type MockClient struct {
	ClientName string
	Latency    time.Duration
	// Responses are returned in call order.
	Responses []string
	// Err, if set, fails every call.
	Err error
	// FailTimes fails the first N calls with a retryable 503.
	FailTimes int
	// Unconfigured makes IsConfigured report false.
	Unconfigured bool

	mu           sync.Mutex
	requests     []*ChatRequest
	requestCount atomic.Int64
}

// NewMockClient creates a mock that answers every call with responses.
func NewMockClient(responses ...string) *MockClient {
	if len(responses) == 0 {
		responses = []string{"mock response"}
	}
	return &MockClient{Responses: responses}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	if c.ClientName != "" {
		return c.ClientName
	}
	return MockClientName
}

// IsConfigured reports the Unconfigured flag inverted.
func (c *MockClient) IsConfigured() bool { return !c.Unconfigured }

// Chat records the request and returns the next canned reply.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := int(c.requestCount.Add(1))

	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	result := &ChatResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  c.Name(),
		ModelUsed: req.Model,
		Attempts:  1,
	}

	if c.Err != nil {
		return failed(result, start, "mock_failure", c.Err)
	}
	if count <= c.FailTimes {
		return failed(result, start, "mock_failure", &APIError{Provider: c.Name(), StatusCode: 503, Message: "mock unavailable"})
	}

	if c.Latency > 0 {
		timer := time.NewTimer(c.Latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return failed(result, start, "context_cancelled", ctx.Err())
		}
	}

	idx := count - c.FailTimes - 1
	if idx >= len(c.Responses) {
		idx = len(c.Responses) - 1
	}
	result.Success = true
	if idx >= 0 {
		result.Content = c.Responses[idx]
	}
	for _, m := range req.Messages {
		result.PromptTokens += len(m.Content) / 4
	}
	result.CompletionTokens = len(result.Content) / 4
	result.TotalTokens = result.PromptTokens + result.CompletionTokens
	result.ExecutionTime = time.Since(start)
	decodeStructured(req, result)
	return result, nil
}

// RequestCount returns the number of calls made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Requests returns the recorded requests.
func (c *MockClient) Requests() []*ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ChatRequest(nil), c.requests...)
}

// LastRequest returns the most recent request, or nil.
func (c *MockClient) LastRequest() *ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return nil
	}
	return c.requests[len(c.requests)-1]
}

var _ LLMClient = (*MockClient)(nil)
