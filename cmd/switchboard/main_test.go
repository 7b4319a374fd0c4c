package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/memory"
	"github.com/haasonsaas/switchboard/internal/providers"
)

func TestBuildRootCmd(t *testing.T) {
	root := buildRootCmd()
	serve, _, err := root.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("Find(serve): %v", err)
	}
	if serve.Name() != "serve" {
		t.Errorf("subcommand = %q, want serve", serve.Name())
	}
}

func TestBuildLoggerLevel(t *testing.T) {
	logger := buildLogger(config.LoggingConfig{Level: "warn", Format: "text"})
	ctx := context.Background()
	if logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("info enabled at warn level")
	}
	if !logger.Enabled(ctx, slog.LevelWarn) {
		t.Error("warn disabled at warn level")
	}
}

func TestBuildProviderMockMode(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeMock

	provider, err := buildProvider(cfg)
	if err != nil {
		t.Fatalf("buildProvider: %v", err)
	}
	if _, ok := provider.(*providers.Mock); !ok {
		t.Errorf("provider = %T, want *providers.Mock", provider)
	}
}

func TestBuildToolRegistry(t *testing.T) {
	logger := slog.Default()

	cfg := config.Default()
	cfg.Mode = config.ModePassthrough
	if names := buildToolRegistry(cfg, memory.Noop{}, logger).Names(); len(names) != 0 {
		t.Errorf("passthrough registry has tools: %v", names)
	}

	cfg = config.Default()
	cfg.Mode = config.ModeMock
	names := buildToolRegistry(cfg, memory.Noop{}, logger).Names()
	if len(names) != 3 {
		t.Errorf("registry without CRM = %v, want 3 tools", names)
	}

	cfg.CRM.URL = "http://crm.internal"
	names = buildToolRegistry(cfg, memory.Noop{}, logger).Names()
	if len(names) != 5 {
		t.Errorf("registry with CRM = %v, want 5 tools", names)
	}
}
