package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

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
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.RedisAddr == "" {
		log.Fatal("worker requires REDIS_ADDR")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer rdb.Close()

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
			Logger:      logger.L().Sugar(),
		},
	)

	mux := asynq.NewServeMux()
	// Initialize DB and repositories for task handlers
	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL, database.Options{Verbose: cfg.IsDevelopment()})
	if err != nil {
		logger.L().Fatal("failed to open database", zap.Error(err))
	}

	gen, err := llm.NewOpenAIClient(llm.Config{
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		Timeout:     cfg.LLMTimeout,
		Temperature: cfg.LLMTemperature,
	})
	if err != nil {
		logger.L().Fatal("failed to build llm client", zap.Error(err))
	}
	v := diagram.NewValidator(cfg.PatchMaxElements)
	p, err := principal.New(gen, v)
	if err != nil {
		logger.L().Fatal("failed to build principal", zap.Error(err))
	}

	// Events go through Redis so API processes can relay them to their listeners.
	orch := services.NewOrchestrator(
		repository.NewRunRepository(db),
		repository.NewMessageRepository(db),
		repository.NewSceneRepository(db),
		p, v,
		diagram.NewApplicator(diagram.NewFormatter(), true),
		notify.Counted(notify.NewRedisPublisher(rdb)),
		services.OrchestratorConfig{ContextMessages: cfg.ContextMessages, MaxRetries: cfg.ApproveMaxRetries},
	)

	tasks.NewTurnTaskHandler(orch).Register(mux)

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.L().Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.L().Error("worker stopped with error", zap.Error(err))
	}

	// Shutdown waits for in-flight turns.
	srv.Shutdown()
}
