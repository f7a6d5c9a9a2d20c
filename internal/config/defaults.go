package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// Queue names as they appear in setting keys.
const (
	QueueFirstPass  = "smart-upload-first-pass"
	QueueSecondPass = "smart-upload-second-pass"
	QueueCleanup    = "smart-upload-cleanup"
	QueueDeadLetter = "smart-upload-dead-letter"
)

// Task names as they appear in setting keys.
const (
	TaskFirstPass  = "first_pass"
	TaskSecondPass = "second_pass"
)

// DefaultEntries returns the default configuration entries.
// These are seeded into the settings table on first run.
func DefaultEntries() []Entry {
	entries := []Entry{
		// ===================
		// Smart Upload
		// ===================
		{
			Key:         "smart_upload.auto_approve_threshold",
			Value:       90,
			Description: "Confidence at or above which a parsed upload is committed without review",
		},
		{
			Key:         "smart_upload.second_pass_threshold",
			Value:       40,
			Description: "Confidence below which an upload is routed to the second pass",
		},
		{
			Key:         "smart_upload.auto_second_pass",
			Value:       true,
			Description: "Enqueue the second pass automatically for low-confidence parses",
		},
		{
			Key:         "smart_upload.sample_pages",
			Value:       8,
			Description: "Number of leading pages rendered and sent to the vision model",
		},
		{
			Key:         "smart_upload.max_upload_mb",
			Value:       100,
			Description: "Largest accepted upload in megabytes",
		},
	}

	// ===================
	// Tasks
	// ===================
	entries = append(entries, taskEntries(TaskFirstPass, "openrouter", []string{"openai", "anthropic"},
		"google/gemini-2.5-flash", 0.1, 4096, 120, 3)...)
	entries = append(entries, taskEntries(TaskSecondPass, "anthropic", []string{"openrouter", "vertex"},
		"claude-sonnet-4-5", 0.0, 4096, 180, 2)...)

	// ===================
	// Queues
	// ===================
	entries = append(entries, queueEntries(QueueFirstPass, 4, 3, "exponential", 5)...)
	entries = append(entries, queueEntries(QueueSecondPass, 2, 3, "exponential", 10)...)
	entries = append(entries, queueEntries(QueueCleanup, 4, 5, "fixed", 30)...)
	entries = append(entries, queueEntries(QueueDeadLetter, 1, 1, "fixed", 60)...)

	return entries
}

func taskEntries(task, provider string, fallbacks []string, model string, temperature float64, maxTokens, timeoutSec, maxRetries int) []Entry {
	prefix := "tasks." + task + "."
	return []Entry{
		{Key: prefix + "provider", Value: provider, Description: "LLM provider for the " + task + " task"},
		{Key: prefix + "fallback_providers", Value: fallbacks, Description: "Providers tried in order when the primary is not configured"},
		{Key: prefix + "model", Value: model, Description: "Model override; empty uses the provider default"},
		{Key: prefix + "temperature", Value: temperature, Description: "Sampling temperature"},
		{Key: prefix + "max_tokens", Value: maxTokens, Description: "Maximum completion tokens"},
		{Key: prefix + "timeout_seconds", Value: timeoutSec, Description: "Per-call timeout in seconds"},
		{Key: prefix + "max_retries", Value: maxRetries, Description: "Retries for transient provider errors"},
	}
}

func queueEntries(queue string, concurrency, maxAttempts int, backoff string, baseSec int) []Entry {
	prefix := "queues." + queue + "."
	return []Entry{
		{Key: prefix + "concurrency", Value: concurrency, Description: "Worker slots for " + queue},
		{Key: prefix + "max_attempts", Value: maxAttempts, Description: "Attempts before a job is dead-lettered"},
		{Key: prefix + "backoff", Value: backoff, Description: "Retry backoff: fixed or exponential"},
		{Key: prefix + "backoff_base_seconds", Value: baseSec, Description: "Base retry delay in seconds"},
	}
}

// SeedDefaults seeds default configuration entries into the store.
// This is idempotent - existing entries are not overwritten.
func SeedDefaults(ctx context.Context, store Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultEntries()
	seeded := 0
	skipped := 0

	for _, entry := range defaults {
		existing, err := store.Get(ctx, entry.Key)
		if err != nil {
			return fmt.Errorf("failed to check key %q: %w", entry.Key, err)
		}

		if existing != nil {
			skipped++
			continue
		}

		if err := store.Set(ctx, entry.Key, entry.Value, entry.Description); err != nil {
			return fmt.Errorf("failed to seed key %q: %w", entry.Key, err)
		}
		seeded++
	}

	if seeded > 0 {
		logger.Info("seeded default config entries", "seeded", seeded, "skipped", skipped)
	}
	return nil
}

// GetDefault returns the default value for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// ResetToDefault resets a config key to its default value.
// Returns ErrNoDefault if no default exists for the key.
func ResetToDefault(ctx context.Context, store Store, key string) error {
	def := GetDefault(key)
	if def == nil {
		return fmt.Errorf("%w for key %q", ErrNoDefault, key)
	}
	return store.Set(ctx, key, def.Value, def.Description)
}
