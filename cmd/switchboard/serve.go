package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/switchboard/internal/agent"
	"github.com/haasonsaas/switchboard/internal/auth"
	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/contextasm"
	"github.com/haasonsaas/switchboard/internal/crm"
	"github.com/haasonsaas/switchboard/internal/memory"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/pipeline"
	"github.com/haasonsaas/switchboard/internal/providers"
	"github.com/haasonsaas/switchboard/internal/ratelimit"
	"github.com/haasonsaas/switchboard/internal/routing"
	"github.com/haasonsaas/switchboard/internal/sessions"
	"github.com/haasonsaas/switchboard/internal/store"
	"github.com/haasonsaas/switchboard/internal/tools"
	"github.com/haasonsaas/switchboard/internal/tools/builtin"
	"github.com/haasonsaas/switchboard/internal/web"
)

const shutdownTimeout = 10 * time.Second

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the switchboard HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	// Values already in the environment win over the .env file.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting switchboard",
		"version", version,
		"mode", cfg.Mode,
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Driver,
	)

	st, err := buildStore(cfg)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("store startup: %w", err)}
	}
	defer st.Close()

	// Executions left pending by a previous crash are unrecoverable.
	if n, err := st.MarkAbandonedExecutions(ctx); err != nil {
		logger.Warn("abandoned execution sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("marked abandoned tool executions", "count", n)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	metrics := observability.NewMetrics()
	registry := sessions.NewRegistry(st, sessions.RegistryOptions{
		InactivityTimeout: cfg.Session.InactivityTimeout,
		LockTTL:           cfg.Session.LockTTL,
		Logger:            logger,
	})

	gateway := buildGateway(cfg, logger)
	router := buildRouter(cfg, logger)
	assembler := contextasm.New(st, gateway, cfg.Context, logger)
	catalog := agent.NewCatalog(cfg.Workflow)
	runner := agent.NewRunner(provider, logger)
	executor := tools.NewExecutor(buildToolRegistry(cfg, gateway, logger), cfg.Tools.ExecutorConfig())

	pipe := pipeline.New(pipeline.Options{
		Store:     st,
		Registry:  registry,
		Router:    router,
		Assembler: assembler,
		Catalog:   catalog,
		Runner:    runner,
		Executor:  executor,
		Gateway:   gateway,
		Metrics:   metrics,
		Config:    cfg.Pipeline,
		Logger:    logger,
	})

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(cfg.RateLimit)
	}

	server := web.NewServer(web.Options{
		Config:   cfg.Web,
		Pipeline: pipe,
		Registry: registry,
		Store:    st,
		Router:   router,
		Gateway:  gateway,
		Limiter:  limiter,
		CSRF:     auth.NewCSRFService(cfg.Auth.CSRFSecret, cfg.Auth.CSRFTTL),
		Metrics:  metrics,
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: cfg.Web.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return &exitError{code: 2, err: fmt.Errorf("http server: %w", err)}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}

	// Drain: stop inactivity timers and new lock acquisitions, then mark any
	// executions a cut-off turn left pending.
	registry.Close()
	if n, err := st.MarkAbandonedExecutions(shutdownCtx); err != nil {
		logger.Warn("abandoned execution sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("marked abandoned tool executions", "count", n)
	}
	return nil
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func buildStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store.Driver == config.DriverMemory {
		return store.NewMemoryStore(), nil
	}
	return store.NewPostgresStore(store.PostgresConfig{
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
}

func buildProvider(cfg *config.Config) (providers.Provider, error) {
	if cfg.Mode == config.ModeMock {
		return providers.NewMock(), nil
	}
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		return providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
		})
	default:
		return providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
		})
	}
}

func buildGateway(cfg *config.Config, logger *slog.Logger) memory.Gateway {
	if cfg.Memory.URL == "" {
		return memory.NewLocal()
	}
	gw := memory.NewHTTPGateway(cfg.Memory.URL, cfg.Memory.Token, memory.WithLogger(logger))
	return memory.NewBudgeted(gw, 0, 0)
}

// buildRouter wires the slash registry and classifier. Passthrough mode
// drops the classifier so every turn lands on the default agent.
func buildRouter(cfg *config.Config, logger *slog.Logger) *routing.Router {
	var classifier routing.Classifier
	if cfg.Mode != config.ModePassthrough {
		classifier = routing.NewKeywordClassifier()
	}
	return routing.New(routing.NewSlashRegistry(), classifier, cfg.Router, logger)
}

// buildToolRegistry registers the builtin tools. Passthrough mode runs with
// an empty registry; the CRM tools need a configured endpoint.
func buildToolRegistry(cfg *config.Config, gateway memory.Gateway, logger *slog.Logger) *tools.Registry {
	registry := tools.NewRegistry()
	if cfg.Mode == config.ModePassthrough {
		return registry
	}

	register := func(t tools.Tool) {
		if err := registry.Register(t); err != nil {
			logger.Warn("tool registration failed", "tool", t.Name(), "error", err)
		}
	}
	register(builtin.NewCalculator())
	register(builtin.NewCurrentDatetime())
	register(builtin.NewMemorySearch(gateway))
	if cfg.CRM.URL != "" {
		client := crm.NewClient(cfg.CRM.URL, cfg.CRM.Token, crm.WithLogger(logger))
		register(builtin.NewContactSearch(client))
		register(builtin.NewDealLookup(client))
	}
	return registry
}
