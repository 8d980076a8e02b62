package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ledgerchat/ledgerchat-engine/pkg/clarify"
	"github.com/ledgerchat/ledgerchat-engine/pkg/config"
	"github.com/ledgerchat/ledgerchat-engine/pkg/database"
	"github.com/ledgerchat/ledgerchat-engine/pkg/guardrail"
	"github.com/ledgerchat/ledgerchat-engine/pkg/handlers"
	"github.com/ledgerchat/ledgerchat-engine/pkg/llm"
	"github.com/ledgerchat/ledgerchat-engine/pkg/logging"
	"github.com/ledgerchat/ledgerchat-engine/pkg/orchestrator"
	"github.com/ledgerchat/ledgerchat-engine/pkg/patterns"
	"github.com/ledgerchat/ledgerchat-engine/pkg/pipeline"
	"github.com/ledgerchat/ledgerchat-engine/pkg/repositories"
	"github.com/ledgerchat/ledgerchat-engine/pkg/resolver"
	"github.com/ledgerchat/ledgerchat-engine/pkg/sqlgen"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("ai_model", cfg.AI.Model))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Migrations run over database/sql; the engine itself uses pgx pools.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open database for migrations", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	migrationDB.Close() //nolint:errcheck

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	modelClient, err := llm.NewClient(cfg.AI.Provider, &llm.Config{
		Endpoint: cfg.AI.BaseURL,
		Model:    cfg.AI.Model,
		APIKey:   cfg.AI.APIKey,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to build model client", zap.Error(err))
	}

	library, err := patterns.LoadFile(cfg.Pipeline.PatternsPath)
	if err != nil {
		logger.Fatal("Failed to load language patterns", zap.Error(err))
	}

	turnRepo := repositories.NewTurnRepository(db)
	lookupRepo := repositories.NewEntityLookupRepository()
	schemaRepo := repositories.NewSchemaRepository()

	var optionCache clarify.OptionCache = clarify.NewNoopOptionCache()
	if redisClient != nil {
		optionCache = clarify.NewRedisOptionCache(redisClient, cfg.Pipeline.OptionCacheTTL(), logger)
	}

	refs := resolver.New(turnRepo, library, resolver.Config{
		MaxRecentTurns:      cfg.Pipeline.MaxRecentTurns,
		RetentionHorizon:    cfg.Pipeline.RetentionHorizon(),
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		LookupTimeout:       cfg.Pipeline.LookupTimeout(),
	}, logger)

	orch := orchestrator.New(refs, library, orchestrator.Config{
		MaxSubRequests: cfg.Pipeline.MaxSubRequests,
	}, logger)

	options := clarify.NewProvider(lookupRepo, optionCache, clarify.Config{
		OptionLimit:   cfg.Pipeline.ClarificationLimit,
		LookupTimeout: cfg.Pipeline.LookupTimeout(),
	}, logger)

	generator := sqlgen.NewAdapter(modelClient, sqlgen.Config{
		MaxAttempts: cfg.Pipeline.MaxGenerationAttempts,
		Timeout:     cfg.Pipeline.GenerationTimeout(),
	}, logger)

	guard := guardrail.NewEnforcer(cfg.Pipeline.DefaultLimit, logger)

	coordinator := pipeline.NewCoordinator(
		database.NewTenantScopeProvider(db),
		turnRepo, schemaRepo, orch, options, generator, guard,
		pipeline.Config{
			ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
			LookupTimeout:       cfg.Pipeline.LookupTimeout(),
		},
		logger,
	)
	sweeper := pipeline.NewSweeper(turnRepo, cfg.Pipeline.RetentionHorizon(), cfg.Pipeline.SweepInterval(), logger)
	go sweeper.Run(ctx)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(coordinator, logger).RegisterRoutes(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		server.Shutdown(context.Background()) //nolint:errcheck
	}()

	logger.Info("Starting ledgerchat-engine", zap.String("addr", addr), zap.String("version", cfg.Version))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
