package config

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestDefaultEntries(t *testing.T) {
	entries := DefaultEntries()

	if len(entries) == 0 {
		t.Fatal("DefaultEntries() returned empty slice")
	}

	requiredKeys := []string{
		"smart_upload.auto_approve_threshold",
		"smart_upload.second_pass_threshold",
		"smart_upload.auto_second_pass",
		"tasks.first_pass.provider",
		"tasks.first_pass.fallback_providers",
		"tasks.second_pass.model",
		"queues.smart-upload-first-pass.concurrency",
		"queues.smart-upload-second-pass.max_attempts",
		"queues.smart-upload-cleanup.backoff",
	}

	keys := make(map[string]bool)
	for _, e := range entries {
		if err := ValidateKey(e.Key); err != nil {
			t.Errorf("default key %q is invalid: %v", e.Key, err)
		}
		if keys[e.Key] {
			t.Errorf("duplicate default key %q", e.Key)
		}
		keys[e.Key] = true
	}

	for _, key := range requiredKeys {
		if !keys[key] {
			t.Errorf("DefaultEntries() missing required key: %s", key)
		}
	}
}

func TestGetDefault(t *testing.T) {
	t.Run("existing_key", func(t *testing.T) {
		entry := GetDefault("smart_upload.auto_approve_threshold")
		if entry == nil {
			t.Fatal("GetDefault() returned nil for existing key")
		}
		if entry.Value != 90 {
			t.Errorf("GetDefault() Value = %v, want 90", entry.Value)
		}
	})

	t.Run("non_existent_key", func(t *testing.T) {
		entry := GetDefault("does.not.exist")
		if entry != nil {
			t.Errorf("GetDefault() = %v, want nil for non-existent key", entry)
		}
	})
}

// mockStore implements Store interface for testing.
type mockStore struct {
	data map[string]Entry
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]Entry)}
}

func (m *mockStore) Get(_ context.Context, key string) (*Entry, error) {
	if e, ok := m.data[key]; ok {
		return &e, nil
	}
	return nil, nil
}

func (m *mockStore) Set(_ context.Context, key string, value any, description string) error {
	m.data[key] = Entry{Key: key, Value: value, Description: description}
	return nil
}

func (m *mockStore) GetAll(_ context.Context) (map[string]Entry, error) {
	return m.data, nil
}

func (m *mockStore) GetByPrefix(_ context.Context, prefix string) (map[string]Entry, error) {
	result := make(map[string]Entry)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			result[k] = v
		}
	}
	return result, nil
}

func (m *mockStore) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestSeedDefaults(t *testing.T) {
	t.Run("seeds_all_defaults", func(t *testing.T) {
		store := newMockStore()

		if err := SeedDefaults(t.Context(), store, nil); err != nil {
			t.Fatalf("SeedDefaults() error = %v", err)
		}

		defaults := DefaultEntries()
		if len(store.data) != len(defaults) {
			t.Errorf("SeedDefaults() seeded %d entries, want %d", len(store.data), len(defaults))
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		store := newMockStore()
		ctx := t.Context()

		if err := SeedDefaults(ctx, store, nil); err != nil {
			t.Fatalf("SeedDefaults() first call error = %v", err)
		}
		firstCount := len(store.data)

		store.data["smart_upload.sample_pages"] = Entry{
			Key:   "smart_upload.sample_pages",
			Value: float64(3),
		}

		if err := SeedDefaults(ctx, store, nil); err != nil {
			t.Fatalf("SeedDefaults() second call error = %v", err)
		}

		if len(store.data) != firstCount {
			t.Errorf("SeedDefaults() changed entry count from %d to %d", firstCount, len(store.data))
		}

		entry, _ := store.Get(ctx, "smart_upload.sample_pages")
		if entry.Value != float64(3) {
			t.Error("SeedDefaults() overwrote existing value")
		}
	})
}

func TestResetToDefault(t *testing.T) {
	t.Run("resets_to_default", func(t *testing.T) {
		store := newMockStore()
		ctx := context.Background()

		store.Set(ctx, "tasks.first_pass.provider", "custom-value", "")

		if err := ResetToDefault(ctx, store, "tasks.first_pass.provider"); err != nil {
			t.Fatalf("ResetToDefault() error = %v", err)
		}

		entry, _ := store.Get(ctx, "tasks.first_pass.provider")
		if entry.Value != "openrouter" {
			t.Errorf("ResetToDefault() Value = %v, want %q", entry.Value, "openrouter")
		}
	})

	t.Run("error_for_unknown_key", func(t *testing.T) {
		err := ResetToDefault(context.Background(), newMockStore(), "does.not.exist")
		if err == nil {
			t.Fatal("ResetToDefault() should error for unknown key")
		}
		if !errors.Is(err, ErrNoDefault) {
			t.Errorf("ResetToDefault() error should wrap ErrNoDefault, got %v", err)
		}
	})
}
