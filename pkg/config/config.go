// Package config loads agentd configuration.
//
// Values are layered in a fixed order, each layer overriding the previous:
//   - built-in defaults (Default)
//   - an optional config file, YAML (.yaml, .yml) or JSON with comments (.json, .jsonc)
//   - AGENTD_* environment variables
//   - command-line flags that were explicitly set
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/wilhg/agentd/pkg/agent"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQL    = "sql"
)

// Config is the complete agentd configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	Store     StoreConfig     `yaml:"store" json:"store"`
	LLM       LLMConfig       `yaml:"llm" json:"llm"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Tracing   TracingConfig   `yaml:"tracing" json:"tracing"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// SystemPrompt is emitted as the first SystemPrompt of new conversations.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`

	// MCP mounts the MCP tool server at /mcp.
	MCP bool `yaml:"mcp" json:"mcp"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// StoreConfig selects the event store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" json:"backend"`
	// Dir holds one JSON file per conversation for the file backend.
	Dir string `yaml:"dir" json:"dir"`
	// DatabaseURL is a sqlite: or postgres:// DSN for the sql backend.
	DatabaseURL string `yaml:"database_url" json:"database_url"`
}

// LLMConfig seeds the provider config of every conversation.
type LLMConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	APIKey   string `yaml:"api_key" json:"api_key"`
	BaseURL  string `yaml:"base_url" json:"base_url"`

	FallbackProvider string `yaml:"fallback_provider" json:"fallback_provider"`
	FallbackModel    string `yaml:"fallback_model" json:"fallback_model"`

	TimeoutMs   int  `yaml:"timeout_ms" json:"timeout_ms"`
	TokenBudget int  `yaml:"token_budget" json:"token_budget"`
	MaxTries    uint `yaml:"max_tries" json:"max_tries"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	// Dir tees logs into a dated file when set.
	Dir string `yaml:"dir" json:"dir"`
}

type TracingConfig struct {
	Stdout bool `yaml:"stdout" json:"stdout"`
}

// RateLimitConfig is a per-agent token bucket on message intake. A zero
// rate disables limiting.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second" json:"per_second"`
	Burst     int     `yaml:"burst" json:"burst"`
}

// Duration accepts Go duration strings in config files.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Duration) set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Store: StoreConfig{
			Backend: BackendFile,
			Dir:     "data/contexts",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-5-nano",
			MaxTries: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{
			PerSecond: 5,
			Burst:     10,
		},
		ShutdownTimeout: Duration{10 * time.Second},
	}
}

// Load builds the configuration from defaults, the file at path (optional,
// may be empty) and the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		return fmt.Errorf("config %s: unsupported extension (want .yaml, .yml, .json or .jsonc)", path)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays AGENTD_* variables read through getenv. DATABASE_URL is
// honoured when AGENTD_DATABASE_URL is unset.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("AGENTD_LISTEN", &c.Listen)
	str("AGENTD_STORE", &c.Store.Backend)
	str("AGENTD_DATA_DIR", &c.Store.Dir)
	str("DATABASE_URL", &c.Store.DatabaseURL)
	str("AGENTD_DATABASE_URL", &c.Store.DatabaseURL)
	str("AGENTD_PROVIDER", &c.LLM.Provider)
	str("AGENTD_MODEL", &c.LLM.Model)
	str("AGENTD_API_KEY", &c.LLM.APIKey)
	str("AGENTD_BASE_URL", &c.LLM.BaseURL)
	str("AGENTD_FALLBACK_PROVIDER", &c.LLM.FallbackProvider)
	str("AGENTD_FALLBACK_MODEL", &c.LLM.FallbackModel)
	str("AGENTD_SYSTEM_PROMPT", &c.SystemPrompt)
	str("AGENTD_LOG_LEVEL", &c.Log.Level)
	str("AGENTD_LOG_FORMAT", &c.Log.Format)
	str("AGENTD_LOG_DIR", &c.Log.Dir)

	var errs []error
	if v := getenv("AGENTD_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("AGENTD_TIMEOUT_MS: %w", err))
		}
		c.LLM.TimeoutMs = n
	}
	if v := getenv("AGENTD_TRACE_STDOUT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("AGENTD_TRACE_STDOUT: %w", err))
		}
		c.Tracing.Stdout = b
	}
	if v := getenv("AGENTD_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("AGENTD_RATE_LIMIT: %w", err))
		}
		c.RateLimit.PerSecond = f
	}
	if v := getenv("AGENTD_MCP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("AGENTD_MCP: %w", err))
		}
		c.MCP = b
	}
	return errors.Join(errs...)
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for the file backend"))
		}
	case BackendSQL:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for the sql backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.LLM.Provider != "" && c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required when llm.provider is set"))
	}
	if c.LLM.FallbackProvider != "" && c.LLM.FallbackModel == "" {
		errs = append(errs, errors.New("llm.fallback_model is required when llm.fallback_provider is set"))
	}
	if c.LLM.TimeoutMs < 0 {
		errs = append(errs, errors.New("llm.timeout_ms must not be negative"))
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	return errors.Join(errs...)
}

// AgentDefaults is the provider config new conversations start from.
func (c *Config) AgentDefaults() agent.Config {
	out := agent.Config{TimeoutMs: c.LLM.TimeoutMs}
	if c.LLM.Provider != "" {
		out.Primary = &agent.ProviderConfig{ProviderID: c.LLM.Provider, Model: c.LLM.Model, APIKey: c.LLM.APIKey, BaseURL: c.LLM.BaseURL}
	}
	if c.LLM.FallbackProvider != "" {
		out.Fallback = &agent.ProviderConfig{ProviderID: c.LLM.FallbackProvider, Model: c.LLM.FallbackModel}
	}
	return out
}

// Flags binds command-line overrides to a FlagSet. Only flags the user set
// are applied, so file and environment values survive unset flags.
type Flags struct {
	fs   *pflag.FlagSet
	path string
	vals Config
}

// BindFlags registers the common flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	d := Default()
	fs.StringVarP(&f.path, "config", "c", os.Getenv("AGENTD_CONFIG"), "config file (.yaml, .yml, .json, .jsonc)")
	fs.StringVar(&f.vals.Listen, "listen", d.Listen, "http listen address")
	fs.StringVar(&f.vals.Store.Backend, "store", d.Store.Backend, "event store backend: memory, file or sql")
	fs.StringVar(&f.vals.Store.Dir, "data-dir", d.Store.Dir, "directory of the file store")
	fs.StringVar(&f.vals.Store.DatabaseURL, "database-url", "", "sqlite: or postgres:// DSN for the sql store")
	fs.StringVar(&f.vals.LLM.Provider, "provider", d.LLM.Provider, "default llm provider id")
	fs.StringVar(&f.vals.LLM.Model, "model", d.LLM.Model, "default llm model")
	fs.StringVar(&f.vals.LLM.BaseURL, "base-url", "", "provider base url override")
	fs.StringVar(&f.vals.SystemPrompt, "system-prompt", "", "system prompt for new conversations")
	fs.StringVar(&f.vals.Log.Level, "log-level", d.Log.Level, "log level: debug, info, warn, error")
	fs.StringVar(&f.vals.Log.Format, "log-format", d.Log.Format, "log format: text or json")
	fs.BoolVar(&f.vals.Tracing.Stdout, "trace-stdout", false, "export traces to stdout")
	fs.BoolVar(&f.vals.MCP, "mcp", false, "serve MCP tools at /mcp")
	return f
}

// Path is the --config value.
func (f *Flags) Path() string { return f.path }

// Apply copies the explicitly set flags onto c.
func (f *Flags) Apply(c *Config) {
	f.fs.Visit(func(fl *pflag.Flag) {
		switch fl.Name {
		case "listen":
			c.Listen = f.vals.Listen
		case "store":
			c.Store.Backend = f.vals.Store.Backend
		case "data-dir":
			c.Store.Dir = f.vals.Store.Dir
		case "database-url":
			c.Store.DatabaseURL = f.vals.Store.DatabaseURL
		case "provider":
			c.LLM.Provider = f.vals.LLM.Provider
		case "model":
			c.LLM.Model = f.vals.LLM.Model
		case "base-url":
			c.LLM.BaseURL = f.vals.LLM.BaseURL
		case "system-prompt":
			c.SystemPrompt = f.vals.SystemPrompt
		case "log-level":
			c.Log.Level = f.vals.Log.Level
		case "log-format":
			c.Log.Format = f.vals.Log.Format
		case "trace-stdout":
			c.Tracing.Stdout = f.vals.Tracing.Stdout
		case "mcp":
			c.MCP = f.vals.MCP
		}
	})
}

// Resolve runs the full layering: defaults, file, environment, then flags.
func (f *Flags) Resolve() (*Config, error) {
	cfg, err := Load(f.path)
	if err != nil {
		return nil, err
	}
	f.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
