// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/costwise-ai/costwise"
	"github.com/costwise-ai/costwise/internal/api"
	"github.com/costwise-ai/costwise/internal/bootstrap"
	"github.com/costwise-ai/costwise/internal/dispatcher"
	"github.com/costwise-ai/costwise/internal/modelrouter"
	"github.com/costwise-ai/costwise/internal/monitoring"
	"github.com/costwise-ai/costwise/internal/notify"
	"github.com/costwise-ai/costwise/internal/pipeline"
	"github.com/costwise-ai/costwise/internal/postgres"
	"github.com/costwise-ai/costwise/internal/pricing"
	"github.com/costwise-ai/costwise/internal/providers"
	"github.com/costwise-ai/costwise/internal/retry"
	"github.com/costwise-ai/costwise/internal/services"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:    "costwise",
		Usage:   "AI gateway with cost tracking and budget enforcement",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Value:   "localhost:8080",
				Usage:   "Address for the API server to listen on",
				Sources: cli.EnvVars("COSTWISE_LISTEN"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "PostgreSQL database connection URL",
				Sources:  cli.EnvVars("DATABASE_URL"),
				Required: true,
			},
			&cli.StringFlag{
				Name:    "otlp-endpoint",
				Usage:   "OTLP gRPC endpoint for metrics export (disabled when empty)",
				Sources: cli.EnvVars("COSTWISE_OTLP_ENDPOINT"),
			},
			&cli.StringSliceFlag{
				Name:    "provider",
				Usage:   "Provider endpoint as name=baseURL, e.g. openai=https://api.openai.com/v1 (repeatable)",
				Sources: cli.EnvVars("COSTWISE_PROVIDERS"),
			},
			&cli.StringSliceFlag{
				Name:    "model-alias",
				Usage:   "Model alias as alias=model, e.g. default=gpt-4o (repeatable)",
				Sources: cli.EnvVars("COSTWISE_MODEL_ALIASES"),
			},
			&cli.StringSliceFlag{
				Name:    "discovery-endpoint",
				Usage:   "Price discovery endpoint as name=baseURL (repeatable)",
				Sources: cli.EnvVars("COSTWISE_DISCOVERY_ENDPOINTS"),
			},
			&cli.IntFlag{
				Name:    "max-attempts",
				Value:   retry.DefaultPolicy.MaxAttempts,
				Usage:   "Maximum provider call attempts per request",
				Sources: cli.EnvVars("COSTWISE_MAX_ATTEMPTS"),
			},
			&cli.DurationFlag{
				Name:    "price-staleness",
				Value:   services.DefaultStalenessThreshold,
				Usage:   "How old a stored price may be before fallback tiers are consulted",
				Sources: cli.EnvVars("COSTWISE_PRICE_STALENESS"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("COSTWISE_DEBUG"),
			},
		},
		Action: runServer,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("Failed to run command", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, c *cli.Command) error {
	logLevel := slog.LevelInfo
	if c.Bool("debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Connect to database
	dbURL := c.String("database-url")
	dbPool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database connection established")

	if err := postgres.RunMigrations(logger, dbURL); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}

	// Metrics are optional; the pipeline runs without them
	var spendMetrics *monitoring.SpendMetrics
	var telemetry *monitoring.Manager
	if endpoint := c.String("otlp-endpoint"); endpoint != "" {
		telemetry, err = monitoring.NewManager(monitoring.Config{
			ServiceName:    "costwise",
			ServiceVersion: c.Version,
			OTLPEndpoint:   endpoint,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		spendMetrics = telemetry.SpendMetrics()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := telemetry.Shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to shut down metrics", "error", err)
			}
		}()
	}

	// Repositories
	priceRepo, err := postgres.NewPriceRepository(
		postgres.WithPriceRepositoryLogger(logger),
		postgres.WithPriceRepositoryDb(dbPool),
	)
	if err != nil {
		return fmt.Errorf("failed to create price repository: %w", err)
	}

	budgetRepo, err := postgres.NewBudgetRepository(
		postgres.WithBudgetRepositoryLogger(logger),
		postgres.WithBudgetRepositoryDb(dbPool),
	)
	if err != nil {
		return fmt.Errorf("failed to create budget repository: %w", err)
	}

	usageRepo, err := postgres.NewUsageRepository(
		postgres.WithUsageRepositoryLogger(logger),
		postgres.WithUsageRepositoryDb(dbPool),
	)
	if err != nil {
		return fmt.Errorf("failed to create usage repository: %w", err)
	}

	// Pricing tiers
	var discoverer costwise.PriceDiscoverer
	discoveryURLs, err := parsePairs(c.StringSlice("discovery-endpoint"))
	if err != nil {
		return fmt.Errorf("invalid discovery endpoint: %w", err)
	}
	if len(discoveryURLs) > 0 {
		discoverer = pricing.NewHTTPDiscoverer(discoveryURLs,
			pricing.WithDiscovererLogger(logger),
		)
	}

	staticTable := pricing.NewStaticTable()
	if err := bootstrap.CheckAndBootstrap(ctx, logger, priceRepo, staticTable); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	engineOptions := []services.CostEngineOption{
		services.WithCostEngineLogger(logger),
		services.WithStalenessThreshold(c.Duration("price-staleness")),
	}
	if spendMetrics != nil {
		engineOptions = append(engineOptions, services.WithCostEngineMetrics(spendMetrics))
	}
	engine := services.NewCostEngine(priceRepo, staticTable, discoverer, engineOptions...)

	ledger := services.NewLedger(budgetRepo,
		services.WithLedgerLogger(logger),
	)

	// Pipeline stages
	notifier := notify.NewLogNotifier(logger)
	defer notifier.Shutdown()

	enforcementOptions := []pipeline.BudgetEnforcementOption{
		pipeline.WithEnforcementLogger(logger),
	}
	if spendMetrics != nil {
		enforcementOptions = append(enforcementOptions, pipeline.WithEnforcementMetrics(spendMetrics))
	}
	enforcement := pipeline.NewBudgetEnforcementStage(ledger, engine, notifier, enforcementOptions...)

	trackingOptions := []pipeline.CostTrackingOption{
		pipeline.WithTrackingLogger(logger),
	}
	if spendMetrics != nil {
		trackingOptions = append(trackingOptions, pipeline.WithTrackingMetrics(spendMetrics))
	}
	tracking := pipeline.NewCostTrackingStage(engine, ledger, usageRepo, trackingOptions...)
	defer tracking.Shutdown()

	// Tracking precedes enforcement so the post-call threshold check sees the
	// spend this request just settled; enforcement is the only pre-call hook,
	// so admission order is unaffected
	stages := pipeline.New(
		[]pipeline.Stage{tracking, enforcement},
		pipeline.WithPipelineLogger(logger),
	)

	// Provider clients
	providerURLs, err := parsePairs(c.StringSlice("provider"))
	if err != nil {
		return fmt.Errorf("invalid provider endpoint: %w", err)
	}
	if len(providerURLs) == 0 {
		return fmt.Errorf("at least one --provider is required")
	}

	clients := make(map[string]costwise.ProviderClient, len(providerURLs))
	for name, baseURL := range providerURLs {
		apiKey := os.Getenv("COSTWISE_" + strings.ToUpper(name) + "_API_KEY")
		clients[name] = providers.NewOpenAICompatClient(name, baseURL, apiKey,
			providers.WithClientLogger(logger),
		)
		logger.Info("Registered provider", "name", name, "baseURL", baseURL)
	}

	// Requests naming a known model may omit the provider
	router := modelrouter.New()
	for _, entry := range staticTable.Entries() {
		if _, configured := clients[entry.Provider]; !configured {
			continue
		}
		if err := router.RegisterModel(entry.Model, entry.Provider); err != nil {
			return fmt.Errorf("failed to register model route: %w", err)
		}
	}
	aliases, err := parsePairs(c.StringSlice("model-alias"))
	if err != nil {
		return fmt.Errorf("invalid model alias: %w", err)
	}
	for alias, model := range aliases {
		router.AddModelAlias(alias, model)
	}

	retrier := retry.NewExecutor(retry.Policy{
		MaxAttempts: c.Int("max-attempts"),
		BaseDelay:   retry.DefaultPolicy.BaseDelay,
		MaxDelay:    retry.DefaultPolicy.MaxDelay,
	}, retry.WithLogger(logger))

	dispatcherOptions := []dispatcher.Option{
		dispatcher.WithLogger(logger),
		dispatcher.WithModelResolver(router),
		dispatcher.WithFailureRecorder(tracking),
	}
	if spendMetrics != nil {
		dispatcherOptions = append(dispatcherOptions, dispatcher.WithMetrics(spendMetrics))
	}
	dsp := dispatcher.New(stages, clients, retrier, dispatcherOptions...)

	server, err := api.NewServer(
		api.WithServerLogger(logger),
		api.WithServerAddr(c.String("listen")),
		api.WithServerDispatcher(dsp),
		api.WithServerUsageRepository(usageRepo),
		api.WithServerBudgetRepository(budgetRepo),
	)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	maintenance := services.NewScheduler(budgetRepo, engine,
		services.WithSchedulerLogger(logger),
	)
	maintenance.Start(ctx)
	defer maintenance.Stop()

	serverChan := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverChan <- fmt.Errorf("api server failed: %w", err)
		}
		close(serverChan)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverChan:
		return err
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", "signal", sig)
		cancel()
		<-serverChan
		logger.Info("Server shutdown complete")
		return nil
	}
}

// parsePairs splits repeated key=value flags into a map
func parsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		out[key] = value
	}
	return out, nil
}
