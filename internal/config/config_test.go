package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Mode != ModeOrchestrated {
		t.Errorf("Mode = %q, want %q", cfg.Mode, ModeOrchestrated)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Context.MaxMessages != 100 {
		t.Errorf("Context.MaxMessages = %d, want 100", cfg.Context.MaxMessages)
	}
	if cfg.Session.InactivityTimeout != 30*time.Minute {
		t.Errorf("Session.InactivityTimeout = %v, want 30m", cfg.Session.InactivityTimeout)
	}
	if cfg.Tools.Timeout != 30*time.Second {
		t.Errorf("Tools.Timeout = %v, want 30s", cfg.Tools.Timeout)
	}
	if cfg.Pipeline.TurnTimeout != 120*time.Second {
		t.Errorf("Pipeline.TurnTimeout = %v, want 120s", cfg.Pipeline.TurnTimeout)
	}
	if cfg.Web.MaxBodyBytes != 64<<10 {
		t.Errorf("Web.MaxBodyBytes = %d, want %d", cfg.Web.MaxBodyBytes, 64<<10)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
mode: mock
server:
  addr: ":9090"
store:
  driver: memory
router:
  threshold: 0.8
  default_agent: technical
context:
  max_messages: 40
pipeline:
  turn_timeout: 60s
logging:
  level: debug
  format: text
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Mode != ModeMock {
		t.Errorf("Mode = %q, want mock", cfg.Mode)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Router.Threshold != 0.8 {
		t.Errorf("Router.Threshold = %v, want 0.8", cfg.Router.Threshold)
	}
	if cfg.Router.DefaultAgent != "technical" {
		t.Errorf("Router.DefaultAgent = %q, want technical", cfg.Router.DefaultAgent)
	}
	if cfg.Context.MaxMessages != 40 {
		t.Errorf("Context.MaxMessages = %d, want 40", cfg.Context.MaxMessages)
	}
	if cfg.Pipeline.TurnTimeout != 60*time.Second {
		t.Errorf("Pipeline.TurnTimeout = %v, want 60s", cfg.Pipeline.TurnTimeout)
	}
	// Sections absent from the file keep defaults.
	if cfg.Tools.MaxConcurrency != 8 {
		t.Errorf("Tools.MaxConcurrency = %d, want 8", cfg.Tools.MaxConcurrency)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, `
mode: mock
serverr:
  addr: ":9090"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted a config with an unknown key")
	}
}

func TestLoadExpandsEnvReferences(t *testing.T) {
	t.Setenv("TEST_SWITCHBOARD_DSN", "postgres://app:secret@db/switchboard")
	path := writeConfig(t, `
mode: mock
store:
  driver: postgres
  dsn: ${TEST_SWITCHBOARD_DSN}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.DSN != "postgres://app:secret@db/switchboard" {
		t.Errorf("Store.DSN = %q, env reference not expanded", cfg.Store.DSN)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SWITCHBOARD_MODE", "mock")
	t.Setenv("SWITCHBOARD_ADDR", ":7000")
	t.Setenv("SWITCHBOARD_MAX_CONTEXT_MESSAGES", "25")
	t.Setenv("SWITCHBOARD_TURN_TIMEOUT_SECONDS", "90")
	t.Setenv("SWITCHBOARD_ROUTER_THRESHOLD", "0.75")
	t.Setenv("SWITCHBOARD_RATE_LIMIT_RPS", "2.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Mode != ModeMock {
		t.Errorf("Mode = %q, want mock", cfg.Mode)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Server.Addr = %q, want :7000", cfg.Server.Addr)
	}
	if cfg.Context.MaxMessages != 25 {
		t.Errorf("Context.MaxMessages = %d, want 25", cfg.Context.MaxMessages)
	}
	if cfg.Pipeline.TurnTimeout != 90*time.Second {
		t.Errorf("Pipeline.TurnTimeout = %v, want 90s", cfg.Pipeline.TurnTimeout)
	}
	if cfg.Router.Threshold != 0.75 {
		t.Errorf("Router.Threshold = %v, want 0.75", cfg.Router.Threshold)
	}
	if cfg.RateLimit.RequestsPerSecond != 2.5 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 2.5", cfg.RateLimit.RequestsPerSecond)
	}
}

func TestStoreDSNEnvSelectsPostgres(t *testing.T) {
	t.Setenv("SWITCHBOARD_MODE", "mock")
	t.Setenv("SWITCHBOARD_STORE_DSN", "postgres://localhost/switchboard")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.Driver != DriverPostgres {
		t.Errorf("Store.Driver = %q, want postgres when a DSN is set", cfg.Store.Driver)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid mock",
			mutate: func(c *Config) { c.Mode = ModeMock },
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "turbo" },
			wantErr: "unknown mode",
		},
		{
			name: "orch without api key",
			mutate: func(c *Config) {
				c.Mode = ModeOrchestrated
				c.LLM.APIKey = ""
			},
			wantErr: "api key",
		},
		{
			name: "passthrough without api key",
			mutate: func(c *Config) {
				c.Mode = ModePassthrough
				c.LLM.APIKey = ""
			},
			wantErr: "api key",
		},
		{
			name: "orch with api key",
			mutate: func(c *Config) {
				c.Mode = ModeOrchestrated
				c.LLM.APIKey = "sk-test"
			},
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.Mode = ModeOrchestrated
				c.LLM.Provider = "bard"
				c.LLM.APIKey = "sk-test"
			},
			wantErr: "unknown llm provider",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Mode = ModeMock
				c.Store.Driver = DriverPostgres
				c.Store.DSN = ""
			},
			wantErr: "requires a dsn",
		},
		{
			name: "unknown log level",
			mutate: func(c *Config) {
				c.Mode = ModeMock
				c.Logging.Level = "loud"
			},
			wantErr: "log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestToolsExecutorConfigMapping(t *testing.T) {
	cfg := Default()
	cfg.Tools.Timeout = 5 * time.Second
	cfg.Tools.MaxConcurrency = 3

	exec := cfg.Tools.ExecutorConfig()
	if exec.DefaultTimeout != 5*time.Second {
		t.Errorf("DefaultTimeout = %v, want 5s", exec.DefaultTimeout)
	}
	if exec.MaxConcurrency != 3 {
		t.Errorf("MaxConcurrency = %d, want 3", exec.MaxConcurrency)
	}
}
