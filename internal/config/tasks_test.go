package config

import (
	"testing"
	"time"
)

func TestResolveTask(t *testing.T) {
	t.Run("defaults without store", func(t *testing.T) {
		tc, err := ResolveTask(t.Context(), nil, TaskFirstPass)
		if err != nil {
			t.Fatalf("ResolveTask() error = %v", err)
		}
		if tc.Provider != "openrouter" {
			t.Errorf("Provider = %q, want openrouter", tc.Provider)
		}
		if len(tc.FallbackProviders) != 2 {
			t.Errorf("FallbackProviders = %v, want 2 entries", tc.FallbackProviders)
		}
		if tc.Timeout != 120*time.Second {
			t.Errorf("Timeout = %v, want 2m", tc.Timeout)
		}
	})

	t.Run("stored values override", func(t *testing.T) {
		store := newMockStore()
		// Values round-tripped through JSON arrive as float64 and []any.
		store.Set(t.Context(), "tasks.second_pass.provider", "openai", "")
		store.Set(t.Context(), "tasks.second_pass.fallback_providers", []any{"anthropic"}, "")
		store.Set(t.Context(), "tasks.second_pass.max_tokens", float64(1024), "")

		tc, err := ResolveTask(t.Context(), store, TaskSecondPass)
		if err != nil {
			t.Fatalf("ResolveTask() error = %v", err)
		}
		if tc.Provider != "openai" {
			t.Errorf("Provider = %q, want openai", tc.Provider)
		}
		if len(tc.FallbackProviders) != 1 || tc.FallbackProviders[0] != "anthropic" {
			t.Errorf("FallbackProviders = %v, want [anthropic]", tc.FallbackProviders)
		}
		if tc.MaxTokens != 1024 {
			t.Errorf("MaxTokens = %d, want 1024", tc.MaxTokens)
		}
		if tc.Model != "claude-sonnet-4-5" {
			t.Errorf("Model = %q, want default", tc.Model)
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		if _, err := ResolveTask(t.Context(), nil, "nope"); err == nil {
			t.Error("expected error for unknown task")
		}
	})
}

func TestResolvePipeline(t *testing.T) {
	store := newMockStore()
	store.Set(t.Context(), "smart_upload.auto_approve_threshold", float64(80), "")
	store.Set(t.Context(), "smart_upload.auto_second_pass", false, "")

	ps, err := ResolvePipeline(t.Context(), store)
	if err != nil {
		t.Fatalf("ResolvePipeline() error = %v", err)
	}
	if ps.AutoApproveThreshold != 80 {
		t.Errorf("AutoApproveThreshold = %d, want 80", ps.AutoApproveThreshold)
	}
	if ps.SecondPassThreshold != 40 {
		t.Errorf("SecondPassThreshold = %d, want 40", ps.SecondPassThreshold)
	}
	if ps.AutoSecondPass {
		t.Error("AutoSecondPass should be overridden to false")
	}
	if ps.MaxUploadBytes != 100<<20 {
		t.Errorf("MaxUploadBytes = %d, want %d", ps.MaxUploadBytes, 100<<20)
	}
}

func TestResolveQueues(t *testing.T) {
	store := newMockStore()
	store.Set(t.Context(), "queues.smart-upload-first-pass.concurrency", float64(8), "")

	all, err := ResolveQueues(t.Context(), store)
	if err != nil {
		t.Fatalf("ResolveQueues() error = %v", err)
	}
	for _, q := range []string{QueueFirstPass, QueueSecondPass, QueueCleanup, QueueDeadLetter} {
		if _, ok := all[q]; !ok {
			t.Errorf("missing queue %s", q)
		}
	}
	first := all[QueueFirstPass]
	if first.Concurrency != 8 {
		t.Errorf("first pass Concurrency = %d, want 8", first.Concurrency)
	}
	if first.Backoff != "exponential" || first.BackoffBase != 5*time.Second {
		t.Errorf("first pass backoff = %s/%v, want exponential/5s", first.Backoff, first.BackoffBase)
	}

	other, err := ResolveQueue(t.Context(), store, "unknown")
	if err != nil {
		t.Fatalf("ResolveQueue() error = %v", err)
	}
	if other.Concurrency != 1 || other.MaxAttempts != 1 || other.Backoff != "fixed" {
		t.Errorf("unknown queue = %+v, want single slot fixed", other)
	}
}
