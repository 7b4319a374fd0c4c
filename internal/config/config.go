// Package config loads and validates the server configuration from a YAML
// file, with environment overrides layered on top. Unknown YAML keys are
// rejected so typos fail at startup instead of silently using defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/switchboard/internal/agent"
	"github.com/haasonsaas/switchboard/internal/auth"
	"github.com/haasonsaas/switchboard/internal/contextasm"
	"github.com/haasonsaas/switchboard/internal/pipeline"
	"github.com/haasonsaas/switchboard/internal/ratelimit"
	"github.com/haasonsaas/switchboard/internal/routing"
	"github.com/haasonsaas/switchboard/internal/tools"
	"github.com/haasonsaas/switchboard/internal/web"
)

// Backend modes. Orchestrated runs the full agent loop against a real
// provider; passthrough skips routing and tools and forwards the prompt
// as-is; mock uses the scripted provider and needs no credentials.
const (
	ModeOrchestrated = "orch"
	ModePassthrough  = "passthrough"
	ModeMock         = "mock"
)

// LLM provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the full server configuration tree.
type Config struct {
	Mode      string               `yaml:"mode"`
	Server    ServerConfig         `yaml:"server"`
	Store     StoreConfig          `yaml:"store"`
	LLM       LLMConfig            `yaml:"llm"`
	Router    routing.Config       `yaml:"router"`
	Context   contextasm.Config    `yaml:"context"`
	Pipeline  pipeline.Config      `yaml:"pipeline"`
	Tools     ToolsConfig          `yaml:"tools"`
	Session   SessionConfig        `yaml:"session"`
	Memory    MemoryConfig         `yaml:"memory"`
	CRM       CRMConfig            `yaml:"crm"`
	Web       web.Config           `yaml:"web"`
	RateLimit ratelimit.Config     `yaml:"rate_limit"`
	Auth      AuthConfig           `yaml:"auth"`
	Workflow  agent.WorkflowConfig `yaml:"workflow"`
	Logging   LoggingConfig        `yaml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `yaml:"driver"`
	// DSN is the postgres connection string. Ignored by the memory driver.
	DSN string `yaml:"dsn"`
	// MaxOpenConns caps the connection pool.
	MaxOpenConns int `yaml:"max_open_conns"`
	// MaxIdleConns caps idle pooled connections.
	MaxIdleConns int `yaml:"max_idle_conns"`
	// ConnMaxLifetime recycles connections older than this.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LLMConfig selects the model provider used in orchestrated mode.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string `yaml:"provider"`
	// APIKey authenticates against the provider. Usually supplied via
	// ANTHROPIC_API_KEY or OPENAI_API_KEY rather than the file.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the provider endpoint, for proxies and tests.
	BaseURL string `yaml:"base_url"`
	// Model overrides the provider's default model.
	Model string `yaml:"model"`
	// MaxTokens caps completion length per request.
	MaxTokens int `yaml:"max_tokens"`
}

// ToolsConfig tunes the tool executor.
type ToolsConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

// ExecutorConfig maps the section onto the executor's own config type.
func (t ToolsConfig) ExecutorConfig() tools.ExecutorConfig {
	return tools.ExecutorConfig{
		MaxConcurrency: t.MaxConcurrency,
		DefaultTimeout: t.Timeout,
		MaxRetries:     t.MaxRetries,
		RetryBackoff:   t.RetryBackoff,
	}
}

// SessionConfig tunes the session registry.
type SessionConfig struct {
	// InactivityTimeout archives sessions idle longer than this.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	// LockTTL bounds how long a crashed turn can hold a session lock.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// MemoryConfig points at the cross-session memory service. An empty URL
// falls back to the in-process local gateway.
type MemoryConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// CRMConfig points at the CRM backing the contact and deal tools. An empty
// URL leaves the CRM tools unregistered.
type CRMConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// AuthConfig holds CSRF settings. An empty secret disables the check.
type AuthConfig struct {
	CSRFSecret string        `yaml:"csrf_secret"`
	CSRFTTL    time.Duration `yaml:"csrf_ttl"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// Default returns the configuration with every default applied and no file
// or environment input.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML file at path, expands ${VAR} references, applies
// defaults, and layers environment overrides on top. An empty path skips
// the file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := decodeStrict([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeStrict unmarshals YAML rejecting unknown fields and trailing
// documents.
func decodeStrict(data []byte, out *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return errors.New("multiple YAML documents in config file")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeOrchestrated
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Store.Driver == "" {
		if c.Store.DSN != "" {
			c.Store.Driver = DriverPostgres
		} else {
			c.Store.Driver = DriverMemory
		}
	}
	if c.Store.MaxOpenConns <= 0 {
		c.Store.MaxOpenConns = 10
	}
	if c.Store.MaxIdleConns <= 0 {
		c.Store.MaxIdleConns = 5
	}
	if c.Store.ConnMaxLifetime <= 0 {
		c.Store.ConnMaxLifetime = 30 * time.Minute
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderAnthropic
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 4096
	}

	routerDefaults := routing.DefaultConfig()
	if c.Router.Threshold <= 0 {
		c.Router.Threshold = routerDefaults.Threshold
	}
	if c.Router.DefaultAgent == "" {
		c.Router.DefaultAgent = routerDefaults.DefaultAgent
	}

	ctxDefaults := contextasm.DefaultConfig()
	if c.Context.MaxMessages <= 0 {
		c.Context.MaxMessages = ctxDefaults.MaxMessages
	}
	if c.Context.Overflow == "" {
		c.Context.Overflow = ctxDefaults.Overflow
	}
	if c.Context.SystemSlots <= 0 {
		c.Context.SystemSlots = ctxDefaults.SystemSlots
	}
	if c.Context.CrossSessionSessions <= 0 {
		c.Context.CrossSessionSessions = ctxDefaults.CrossSessionSessions
	}
	if c.Context.CrossSessionWindow <= 0 {
		c.Context.CrossSessionWindow = ctxDefaults.CrossSessionWindow
	}
	if c.Context.CrossSessionMessages <= 0 {
		c.Context.CrossSessionMessages = ctxDefaults.CrossSessionMessages
	}
	if c.Context.MemorySnippets <= 0 {
		c.Context.MemorySnippets = ctxDefaults.MemorySnippets
	}

	pipeDefaults := pipeline.DefaultConfig()
	if c.Pipeline.MaxContentBytes <= 0 {
		c.Pipeline.MaxContentBytes = pipeDefaults.MaxContentBytes
	}
	if c.Pipeline.TurnTimeout <= 0 {
		c.Pipeline.TurnTimeout = pipeDefaults.TurnTimeout
	}
	if c.Pipeline.LockTimeout <= 0 {
		c.Pipeline.LockTimeout = pipeDefaults.LockTimeout
	}
	if c.Pipeline.ToolOutputCap <= 0 {
		c.Pipeline.ToolOutputCap = pipeDefaults.ToolOutputCap
	}

	execDefaults := tools.DefaultExecutorConfig()
	if c.Tools.Timeout <= 0 {
		c.Tools.Timeout = execDefaults.DefaultTimeout
	}
	if c.Tools.MaxConcurrency <= 0 {
		c.Tools.MaxConcurrency = execDefaults.MaxConcurrency
	}
	if c.Tools.MaxRetries < 0 {
		c.Tools.MaxRetries = execDefaults.MaxRetries
	}
	if c.Tools.RetryBackoff <= 0 {
		c.Tools.RetryBackoff = execDefaults.RetryBackoff
	}

	if c.Session.InactivityTimeout <= 0 {
		c.Session.InactivityTimeout = 30 * time.Minute
	}
	if c.Session.LockTTL <= 0 {
		c.Session.LockTTL = 2 * time.Minute
	}

	if c.Web.MaxBodyBytes <= 0 || c.Web.ReadHeaderTimeout <= 0 {
		webDefaults := web.DefaultConfig()
		if c.Web.MaxBodyBytes <= 0 {
			c.Web.MaxBodyBytes = webDefaults.MaxBodyBytes
		}
		if c.Web.ReadHeaderTimeout <= 0 {
			c.Web.ReadHeaderTimeout = webDefaults.ReadHeaderTimeout
		}
	}

	rlDefaults := ratelimit.DefaultConfig()
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = rlDefaults.RequestsPerSecond
	}
	if c.RateLimit.BurstSize <= 0 {
		c.RateLimit.BurstSize = rlDefaults.BurstSize
	}

	if c.Auth.CSRFTTL <= 0 {
		c.Auth.CSRFTTL = auth.DefaultTokenTTL
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// applyEnv layers SWITCHBOARD_* environment variables over the loaded
// values. Provider API keys also come from the conventional variables.
func (c *Config) applyEnv() {
	setString(&c.Mode, "SWITCHBOARD_MODE")
	setString(&c.Server.Addr, "SWITCHBOARD_ADDR")
	setString(&c.Store.DSN, "SWITCHBOARD_STORE_DSN")
	if dsn := os.Getenv("SWITCHBOARD_STORE_DSN"); dsn != "" {
		c.Store.Driver = DriverPostgres
	}
	setString(&c.LLM.Provider, "SWITCHBOARD_LLM_PROVIDER")
	setString(&c.LLM.Model, "SWITCHBOARD_LLM_MODEL")
	setString(&c.LLM.BaseURL, "SWITCHBOARD_LLM_BASE_URL")
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case ProviderOpenAI:
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		default:
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	setInt(&c.Context.MaxMessages, "SWITCHBOARD_MAX_CONTEXT_MESSAGES")
	setSeconds(&c.Session.InactivityTimeout, "SWITCHBOARD_INACTIVITY_SECONDS")
	setSeconds(&c.Tools.Timeout, "SWITCHBOARD_TOOL_TIMEOUT_SECONDS")
	setSeconds(&c.Pipeline.TurnTimeout, "SWITCHBOARD_TURN_TIMEOUT_SECONDS")
	setInt64(&c.Web.MaxBodyBytes, "SWITCHBOARD_MAX_BODY_BYTES")
	setFloat(&c.RateLimit.RequestsPerSecond, "SWITCHBOARD_RATE_LIMIT_RPS")
	setInt(&c.RateLimit.BurstSize, "SWITCHBOARD_RATE_LIMIT_BURST")
	setFloat(&c.Router.Threshold, "SWITCHBOARD_ROUTER_THRESHOLD")
	setString(&c.Auth.CSRFSecret, "SWITCHBOARD_CSRF_SECRET")
	setString(&c.Memory.URL, "SWITCHBOARD_MEMORY_URL")
	setString(&c.Memory.Token, "SWITCHBOARD_MEMORY_TOKEN")
	setString(&c.CRM.URL, "SWITCHBOARD_CRM_URL")
	setString(&c.CRM.Token, "SWITCHBOARD_CRM_TOKEN")
	setString(&c.Logging.Level, "SWITCHBOARD_LOG_LEVEL")
	setString(&c.Logging.Format, "SWITCHBOARD_LOG_FORMAT")
}

// Validate rejects configurations that cannot start. Missing provider
// credentials in orchestrated mode are fatal so the server fails fast
// instead of erroring on the first turn.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeOrchestrated, ModePassthrough, ModeMock:
	default:
		return fmt.Errorf("unknown mode %q (want orch, passthrough, or mock)", c.Mode)
	}
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store driver postgres requires a dsn")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q (want postgres or memory)", c.Store.Driver)
	}
	if c.Mode != ModeMock {
		switch c.LLM.Provider {
		case ProviderAnthropic, ProviderOpenAI:
		default:
			return fmt.Errorf("unknown llm provider %q (want anthropic or openai)", c.LLM.Provider)
		}
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm provider %s requires an api key in %s mode", c.LLM.Provider, c.Mode)
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}
