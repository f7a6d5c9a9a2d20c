package providers

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry holds the configured LLM clients by name. It is safe for
// concurrent use and can be reloaded when the config file changes.
type Registry struct {
	mu         sync.RWMutex
	llmClients map[string]LLMClient
	configs    map[string]LLMProviderConfig
	logger     *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llmClients: make(map[string]LLMClient),
		configs:    make(map[string]LLMProviderConfig),
		logger:     slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterLLM registers an LLM client by name.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmClients[name] = client
	r.logger.Info("registered LLM client", "name", name)
}

// UnregisterLLM removes an LLM client by name.
func (r *Registry) UnregisterLLM(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	closeClient(r.llmClients[name])
	delete(r.llmClients, name)
	delete(r.configs, name)
	r.logger.Info("unregistered LLM client", "name", name)
}

// GetLLM returns an LLM client by name.
func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.llmClients[name]
	if !ok {
		return nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return client, nil
}

// HasLLM checks if an LLM client is registered.
func (r *Registry) HasLLM(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.llmClients[name]
	return ok
}

// ListLLM returns registered client names, sorted.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llmClients))
	for name := range r.llmClients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the first configured client among name and fallbacks.
// Unknown names are skipped.
func (r *Registry) Resolve(name string, fallbacks ...string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tried := make([]string, 0, len(fallbacks)+1)
	for _, n := range append([]string{name}, fallbacks...) {
		if n == "" {
			continue
		}
		tried = append(tried, n)
		if c, ok := r.llmClients[n]; ok && c.IsConfigured() {
			if n != name {
				r.logger.Warn("using fallback provider", "requested", name, "provider", n)
			}
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w (tried %v)", ErrProviderUnavailable, tried)
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	LLMProviders map[string]LLMProviderConfig
}

// LLMProviderConfig matches config.LLMProviderCfg with secrets resolved.
type LLMProviderConfig struct {
	Type       string // "openrouter", "openai", "anthropic", "vertex", "mock"
	Model      string
	APIKey     string
	BaseURL    string
	Project    string // Vertex
	Region     string // Vertex
	RateLimit  float64 // Requests per minute
	Timeout    time.Duration
	MaxRetries int
	Enabled    bool
}

// NewRegistryFromConfig creates a registry holding every enabled, configured
// provider. Misconfigured ones are logged and skipped.
func NewRegistryFromConfig(cfg RegistryConfig, logger *slog.Logger) *Registry {
	r := NewRegistry()
	if logger != nil {
		r.logger = logger
	}
	r.Reload(cfg)
	return r
}

// Reload brings the registry in line with cfg. Unchanged providers keep
// their client (and rate limiter state).
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, provCfg := range cfg.LLMProviders {
		if !provCfg.Enabled {
			continue
		}
		if prev, ok := r.configs[name]; ok && prev == provCfg {
			want[name] = true
			continue
		}
		client, err := createLLMClient(provCfg)
		if err != nil {
			r.logger.Warn("skipping provider", "name", name, "type", provCfg.Type, "error", err)
			continue
		}
		if !client.IsConfigured() {
			r.logger.Warn("skipping unconfigured provider", "name", name, "type", provCfg.Type)
			continue
		}
		want[name] = true

		_, existed := r.llmClients[name]
		closeClient(r.llmClients[name])
		r.llmClients[name] = client
		r.configs[name] = provCfg
		if existed {
			r.logger.Info("updated LLM client", "name", name, "type", provCfg.Type)
		} else {
			r.logger.Info("registered LLM client", "name", name, "type", provCfg.Type)
		}
	}

	for name := range r.configs {
		if !want[name] {
			closeClient(r.llmClients[name])
			delete(r.llmClients, name)
			delete(r.configs, name)
			r.logger.Info("unregistered LLM client", "name", name)
		}
	}
}

// createLLMClient builds a client for the provider type. It never dials.
func createLLMClient(cfg LLMProviderConfig) (LLMClient, error) {
	switch cfg.Type {
	case OpenRouterName:
		return NewOpenRouterClient(OpenRouterConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			MaxRetries:   cfg.MaxRetries,
		}), nil
	case OpenAIName:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			MaxRetries:   cfg.MaxRetries,
		}), nil
	case AnthropicName:
		return NewAnthropicClient(AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			MaxRetries:   cfg.MaxRetries,
		}), nil
	case VertexName:
		return NewVertexClient(VertexConfig{
			Project:      cfg.Project,
			Region:       cfg.Region,
			DefaultModel: cfg.Model,
			RateLimit:    cfg.RateLimit,
		}), nil
	case MockClientName:
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

func closeClient(c LLMClient) {
	if closer, ok := c.(io.Closer); ok {
		_ = closer.Close()
	}
}
