package prompts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jackzampolin/scoreshelf/internal/config"
)

// ErrUnknownPrompt is returned for a key no stage registered.
var ErrUnknownPrompt = errors.New("prompt not found")

// Resolver resolves prompts with settings overrides.
type Resolver struct {
	settings config.Store
	embedded map[string]EmbeddedPrompt
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewResolver creates a new prompt resolver. settings may be nil, in which
// case only embedded defaults are served.
func NewResolver(settings config.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		settings: settings,
		embedded: make(map[string]EmbeddedPrompt),
		logger:   logger,
	}
}

// Register registers an embedded prompt.
// This should be called during initialization by each stage.
func (r *Resolver) Register(prompt EmbeddedPrompt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prompt.Hash == "" {
		prompt.Hash = HashText(prompt.Text)
	}
	if prompt.Variables == nil {
		prompt.Variables = ExtractVariables(prompt.Text)
	}

	r.embedded[prompt.Key] = prompt
	r.logger.Debug("registered embedded prompt", "key", prompt.Key, "vars", prompt.Variables)
}

// Resolve returns the override for key if one is stored, otherwise the
// embedded default.
func (r *Resolver) Resolve(ctx context.Context, key string) (*ResolvedPrompt, error) {
	r.mu.RLock()
	embedded, ok := r.embedded[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrompt, key)
	}

	if r.settings != nil {
		entry, err := r.settings.Get(ctx, OverridePrefix+key)
		if err != nil {
			// Fall through to embedded default
			r.logger.Warn("failed to check prompt override", "key", key, "error", err)
		} else if entry != nil {
			if text, _ := entry.Value.(string); strings.TrimSpace(text) != "" {
				return &ResolvedPrompt{
					Key:        key,
					Text:       text,
					Variables:  ExtractVariables(text),
					IsOverride: true,
					Hash:       HashText(text),
				}, nil
			}
		}
	}

	return &ResolvedPrompt{
		Key:       key,
		Text:      embedded.Text,
		Variables: embedded.Variables,
		Hash:      embedded.Hash,
	}, nil
}

// RenderPrompt resolves key and executes it against data.
func (r *Resolver) RenderPrompt(ctx context.Context, key string, data any) (string, *ResolvedPrompt, error) {
	p, err := r.Resolve(ctx, key)
	if err != nil {
		return "", nil, err
	}
	out, err := Render(key, p.Text, data)
	if err != nil && p.IsOverride {
		r.logger.Warn("prompt override failed to render, using embedded default", "key", key, "error", err)
		r.mu.RLock()
		def := r.embedded[key]
		r.mu.RUnlock()
		out, err = Render(key, def.Text, data)
		p = &ResolvedPrompt{Key: key, Text: def.Text, Variables: def.Variables, Hash: def.Hash}
	}
	if err != nil {
		return "", nil, err
	}
	return out, p, nil
}

// SetOverride stores text as the override for key. The text must parse as
// a template.
func (r *Resolver) SetOverride(ctx context.Context, key, text string) error {
	if _, ok := r.GetEmbedded(key); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPrompt, key)
	}
	if r.settings == nil {
		return errors.New("settings store not configured")
	}
	if _, err := Parse(key, text); err != nil {
		return err
	}
	return r.settings.Set(ctx, OverridePrefix+key, text, "Override for prompt "+key)
}

// ResetOverride removes the override for key.
func (r *Resolver) ResetOverride(ctx context.Context, key string) error {
	if r.settings == nil {
		return nil
	}
	return r.settings.Delete(ctx, OverridePrefix+key)
}

// GetEmbedded returns the embedded default for a key.
func (r *Resolver) GetEmbedded(key string) (EmbeddedPrompt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.embedded[key]
	return p, ok
}

// AllEmbedded returns all registered embedded prompts sorted by key.
func (r *Resolver) AllEmbedded() []EmbeddedPrompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]EmbeddedPrompt, 0, len(r.embedded))
	for _, p := range r.embedded {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}
