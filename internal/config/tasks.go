package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TaskConfig selects the provider and model for one AI task.
type TaskConfig struct {
	Name              string        `json:"name"`
	Provider          string        `json:"provider"`
	FallbackProviders []string      `json:"fallback_providers"`
	Model             string        `json:"model"`
	Temperature       float64       `json:"temperature"`
	MaxTokens         int           `json:"max_tokens"`
	Timeout           time.Duration `json:"timeout"`
	MaxRetries        int           `json:"max_retries"`
}

// PipelineSettings are the routing and intake knobs of the smart upload flow.
type PipelineSettings struct {
	AutoApproveThreshold int   `json:"auto_approve_threshold"`
	SecondPassThreshold  int   `json:"second_pass_threshold"`
	AutoSecondPass       bool  `json:"auto_second_pass"`
	SamplePages          int   `json:"sample_pages"`
	MaxUploadBytes       int64 `json:"max_upload_bytes"`
}

// QueueSettings configure slots and retry behaviour for one queue.
type QueueSettings struct {
	Name        string        `json:"name"`
	Concurrency int           `json:"concurrency"`
	MaxAttempts int           `json:"max_attempts"`
	Backoff     string        `json:"backoff"`
	BackoffBase time.Duration `json:"backoff_base"`
}

// merged returns default entries under prefix with stored overrides applied.
func merged(ctx context.Context, store Store, prefix string) (map[string]Entry, error) {
	out := make(map[string]Entry)
	for _, e := range DefaultEntries() {
		if strings.HasPrefix(e.Key, prefix) {
			out[e.Key] = e
		}
	}
	if store == nil {
		return out, nil
	}
	stored, err := store.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s*: %w", prefix, err)
	}
	for key, e := range stored {
		out[key] = e
	}
	return out, nil
}

// ResolveTask returns the effective configuration for a task.
func ResolveTask(ctx context.Context, store Store, task string) (TaskConfig, error) {
	entries, err := merged(ctx, store, "tasks."+task+".")
	if err != nil {
		return TaskConfig{}, err
	}
	fields := groupBySegment(entries, "tasks.")[task]
	if len(fields) == 0 {
		return TaskConfig{}, fmt.Errorf("unknown task %q", task)
	}
	return TaskConfig{
		Name:              task,
		Provider:          getString(fields, "provider"),
		FallbackProviders: getStrings(fields, "fallback_providers"),
		Model:             getString(fields, "model"),
		Temperature:       getFloat(fields, "temperature"),
		MaxTokens:         getInt(fields, "max_tokens"),
		Timeout:           time.Duration(getInt(fields, "timeout_seconds")) * time.Second,
		MaxRetries:        getInt(fields, "max_retries"),
	}, nil
}

// ResolvePipeline returns the effective smart upload settings.
func ResolvePipeline(ctx context.Context, store Store) (PipelineSettings, error) {
	entries, err := merged(ctx, store, "smart_upload.")
	if err != nil {
		return PipelineSettings{}, err
	}
	fields := make(map[string]any, len(entries))
	for key, e := range entries {
		fields[strings.TrimPrefix(key, "smart_upload.")] = e.Value
	}
	return PipelineSettings{
		AutoApproveThreshold: getInt(fields, "auto_approve_threshold"),
		SecondPassThreshold:  getInt(fields, "second_pass_threshold"),
		AutoSecondPass:       getBool(fields, "auto_second_pass"),
		SamplePages:          getInt(fields, "sample_pages"),
		MaxUploadBytes:       int64(getInt(fields, "max_upload_mb")) << 20,
	}, nil
}

// ResolveQueue returns the effective settings for a queue. Unknown queues
// get a single slot and a single attempt.
func ResolveQueue(ctx context.Context, store Store, queue string) (QueueSettings, error) {
	entries, err := merged(ctx, store, "queues."+queue+".")
	if err != nil {
		return QueueSettings{}, err
	}
	return queueSettings(queue, groupBySegment(entries, "queues.")[queue]), nil
}

// ResolveQueues resolves every queue that has settings.
func ResolveQueues(ctx context.Context, store Store) (map[string]QueueSettings, error) {
	entries, err := merged(ctx, store, "queues.")
	if err != nil {
		return nil, err
	}
	grouped := groupBySegment(entries, "queues.")
	out := make(map[string]QueueSettings, len(grouped))
	for name, fields := range grouped {
		out[name] = queueSettings(name, fields)
	}
	return out, nil
}

func queueSettings(name string, fields map[string]any) QueueSettings {
	qs := QueueSettings{
		Name:        name,
		Concurrency: getInt(fields, "concurrency"),
		MaxAttempts: getInt(fields, "max_attempts"),
		Backoff:     getString(fields, "backoff"),
		BackoffBase: time.Duration(getInt(fields, "backoff_base_seconds")) * time.Second,
	}
	if qs.Concurrency < 1 {
		qs.Concurrency = 1
	}
	if qs.MaxAttempts < 1 {
		qs.MaxAttempts = 1
	}
	if qs.Backoff == "" {
		qs.Backoff = "fixed"
	}
	return qs
}
