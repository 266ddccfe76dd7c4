package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arch-studio/engine/internal/api"
	"github.com/arch-studio/engine/internal/api/handlers"
	mw "github.com/arch-studio/engine/internal/api/middleware"
	"github.com/arch-studio/engine/internal/diagram"
	"github.com/arch-studio/engine/internal/llm"
	"github.com/arch-studio/engine/internal/notify"
	"github.com/arch-studio/engine/internal/principal"
	"github.com/arch-studio/engine/internal/queue/tasks"
	"github.com/arch-studio/engine/internal/repository"
	"github.com/arch-studio/engine/internal/services"
	"github.com/arch-studio/engine/pkg/config"
	"github.com/arch-studio/engine/pkg/database"
	"github.com/arch-studio/engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	// Initialize logger
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("Starting Arch Studio Engine",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
		zap.Bool("async_turns", cfg.AsyncTurns),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL, database.Options{Verbose: cfg.IsDevelopment()})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Initialize repositories
	projectRepo := repository.NewProjectRepository(db)
	runRepo := repository.NewRunRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	sceneRepo := repository.NewSceneRepository(db)

	g, gctx := errgroup.WithContext(ctx)

	// Events stay in-process unless Redis is configured; then every process publishes
	// to Redis and the relay feeds local listeners.
	hub := notify.NewHub()
	var (
		pub     notify.Publisher  = hub
		sub     notify.Subscriber = hub
		rdb     *redis.Client
		checks  = map[string]handlers.Check{"database": func(ctx context.Context) error { return database.Ping(ctx, db) }}
		enqueue services.TurnEnqueuer
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis connection failed", zap.Error(err))
		}
		pub = notify.NewRedisPublisher(rdb)
		relay := notify.NewRelay(gctx, rdb, hub)
		sub = relay
		g.Go(func() error { return relay.Run(gctx) })
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }

		if cfg.AsyncTurns {
			client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
			defer client.Close()
			enqueue = tasks.NewTurnQueue(client, cfg.LLMTimeout+30*time.Second)
		}
	}

	orch, err := newOrchestrator(cfg, runRepo, messageRepo, sceneRepo, notify.Counted(pub))
	if err != nil {
		log.Fatal("failed to build orchestrator", zap.Error(err))
	}

	projectSvc := services.NewProjectService(projectRepo, sceneRepo)
	runSvc := services.NewRunService(projectRepo, runRepo, messageRepo, orch, enqueue)

	limiter := mw.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	g.Go(func() error {
		limiter.GC(gctx, 5*time.Minute, 10*time.Minute)
		return nil
	})

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, every authenticated request will be rejected")
	}

	// Create router with dependencies
	router := api.NewRouter(api.Dependencies{
		HMACSecret:      []byte(cfg.JWTSecret),
		CORSOrigins:     cfg.CORSOrigins,
		Limiter:         limiter,
		HealthHandler:   handlers.NewHealthHandler(checks),
		ProjectsHandler: handlers.NewProjectsHandler(projectSvc),
		ScenesHandler:   handlers.NewScenesHandler(projectSvc),
		RunsHandler:     handlers.NewRunsHandler(runSvc),
		EventsHandler:   handlers.NewEventsHandler(runSvc, sub, cfg.SSEHeartbeat, cfg.CORSOrigins),
	})

	// Event streams stay open, so there is no write timeout; turns are bounded by LLM_TIMEOUT.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       90 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", zap.Error(err))
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	log.Info("server exited gracefully")
}

func newOrchestrator(cfg *config.Config, runs repository.RunRepository, messages repository.MessageRepository, scenes repository.SceneRepository, pub notify.Publisher) (*services.Orchestrator, error) {
	gen, err := llm.NewOpenAIClient(llm.Config{
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		Timeout:     cfg.LLMTimeout,
		Temperature: cfg.LLMTemperature,
	})
	if err != nil {
		return nil, err
	}
	v := diagram.NewValidator(cfg.PatchMaxElements)
	p, err := principal.New(gen, v)
	if err != nil {
		return nil, err
	}
	a := diagram.NewApplicator(diagram.NewFormatter(), true)
	return services.NewOrchestrator(runs, messages, scenes, p, v, a, pub, services.OrchestratorConfig{
		ContextMessages: cfg.ContextMessages,
		MaxRetries:      cfg.ApproveMaxRetries,
	}), nil
}
