package config

// Config holds process configuration loaded from config.yaml, SCORESHELF_*
// environment variables, and built-in defaults. Runtime-tunable pipeline
// settings live in the settings table instead (see DefaultEntries).
type Config struct {
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Database     DatabaseCfg               `mapstructure:"database" yaml:"database"`
	Storage      StorageCfg                `mapstructure:"storage" yaml:"storage"`
	Auth         AuthCfg                   `mapstructure:"auth" yaml:"auth"`
	Worker       WorkerCfg                 `mapstructure:"worker" yaml:"worker"`
	PDF          PDFCfg                    `mapstructure:"pdf" yaml:"pdf"`
	Notify       NotifyCfg                 `mapstructure:"notify" yaml:"notify"`
}

// LLMProviderCfg configures an AI backend.
type LLMProviderCfg struct {
	Type       string  `mapstructure:"type" yaml:"type"`                 // "openrouter", "openai", "anthropic", "vertex", "mock"
	Model      string  `mapstructure:"model" yaml:"model"`               // Default model
	APIKey     string  `mapstructure:"api_key" yaml:"api_key"`           // Supports ${ENV_VAR} syntax
	BaseURL    string  `mapstructure:"base_url" yaml:"base_url"`         // OpenAI-compatible endpoints
	Project    string  `mapstructure:"project" yaml:"project"`           // Vertex only
	Region     string  `mapstructure:"region" yaml:"region"`             // Vertex only
	RateLimit  float64 `mapstructure:"rate_limit" yaml:"rate_limit"`     // Requests per minute
	TimeoutSec int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries int     `mapstructure:"max_retries" yaml:"max_retries"`
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
}

// DatabaseCfg selects the SQL backend.
type DatabaseCfg struct {
	Driver   string `mapstructure:"driver" yaml:"driver"` // "sqlite" or "postgres"
	DSN      string `mapstructure:"dsn" yaml:"dsn"`       // Empty sqlite DSN means {home}/data/scoreshelf.db
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

// StorageCfg selects the blob backend.
type StorageCfg struct {
	Backend   string `mapstructure:"backend" yaml:"backend"`       // "local" or "gcs"
	LocalRoot string `mapstructure:"local_root" yaml:"local_root"` // Empty means {home}/data/blobs
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"` // Emulator or private endpoint; disables auth
	// CredentialsFile is a service account key. Empty uses application default credentials.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
}

// AuthCfg grants capabilities to callers.
type AuthCfg struct {
	ServiceToken string              `mapstructure:"service_token" yaml:"service_token"` // Supports ${ENV_VAR} syntax
	Grants       map[string][]string `mapstructure:"grants" yaml:"grants"`               // user id -> actions; "*" matches any user
}

// WorkerCfg tunes job execution.
type WorkerCfg struct {
	PollIntervalMS     int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	LeaseSeconds       int `mapstructure:"lease_seconds" yaml:"lease_seconds"`
	ReaperIntervalSec  int `mapstructure:"reaper_interval_seconds" yaml:"reaper_interval_seconds"`
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// PDFCfg configures page rendering.
type PDFCfg struct {
	PdftoppmPath string `mapstructure:"pdftoppm_path" yaml:"pdftoppm_path"`
	DPI          int    `mapstructure:"dpi" yaml:"dpi"`
}

// NotifyCfg configures review notifications. An empty webhook only logs.
type NotifyCfg struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:       "openrouter",
				Model:      "google/gemini-2.5-flash",
				APIKey:     "${OPENROUTER_API_KEY}",
				RateLimit:  60,
				TimeoutSec: 120,
				MaxRetries: 3,
				Enabled:    true,
			},
			"openai": {
				Type:       "openai",
				Model:      "gpt-4o",
				APIKey:     "${OPENAI_API_KEY}",
				RateLimit:  60,
				TimeoutSec: 120,
				MaxRetries: 3,
				Enabled:    true,
			},
			"anthropic": {
				Type:       "anthropic",
				Model:      "claude-sonnet-4-5",
				APIKey:     "${ANTHROPIC_API_KEY}",
				RateLimit:  50,
				TimeoutSec: 120,
				MaxRetries: 3,
				Enabled:    true,
			},
			"vertex": {
				Type:       "vertex",
				Model:      "gemini-2.5-pro",
				Project:    "${GOOGLE_CLOUD_PROJECT}",
				Region:     "us-central1",
				RateLimit:  60,
				TimeoutSec: 120,
				Enabled:    false,
			},
		},
		Database: DatabaseCfg{
			Driver: "sqlite",
		},
		Storage: StorageCfg{
			Backend: "local",
		},
		Auth: AuthCfg{
			ServiceToken: "${SCORESHELF_SERVICE_TOKEN}",
			Grants:       map[string][]string{},
		},
		Worker: WorkerCfg{
			PollIntervalMS:     500,
			LeaseSeconds:       300,
			ReaperIntervalSec:  30,
			ShutdownTimeoutSec: 30,
		},
		PDF: PDFCfg{
			PdftoppmPath: "pdftoppm",
			DPI:          150,
		},
	}
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
