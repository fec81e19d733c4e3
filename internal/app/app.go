package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	redisclient "github.com/slidesmith/deckgen-backend/internal/clients/redis"
	"github.com/slidesmith/deckgen-backend/internal/data/db"
	"github.com/slidesmith/deckgen-backend/internal/data/repos/decks"
	jobsrepo "github.com/slidesmith/deckgen-backend/internal/data/repos/jobs"
	stagesrepo "github.com/slidesmith/deckgen-backend/internal/data/repos/stages"
	"github.com/slidesmith/deckgen-backend/internal/jobs/runtime"
	"github.com/slidesmith/deckgen-backend/internal/jobs/worker"
	"github.com/slidesmith/deckgen-backend/internal/pipeline"
	stagefns "github.com/slidesmith/deckgen-backend/internal/pipeline/stages"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
	"github.com/slidesmith/deckgen-backend/internal/platform/openai"
	"github.com/slidesmith/deckgen-backend/internal/services"
	"github.com/slidesmith/deckgen-backend/internal/sse"
)

// App owns every long-lived component: repos, services, the SSE hub, the
// optional redis bus and the worker pool.
type App struct {
	Cfg Config
	Log *logger.Logger
	DB  *gorm.DB

	Hub    *sse.SSEHub
	SSEBus redisclient.SSEBus

	JobRepo   jobsrepo.JobRunRepo
	DeckRepo  decks.DeckRepo
	StageRepo stagesrepo.StageRepo

	Notifier services.JobNotifier
	Jobs     services.JobService
	Decks    services.DeckService
	Stages   services.StageService
	Tokens   services.TokenService

	Worker *worker.Worker
}

func New(cfg Config, log *logger.Logger) (*App, error) {
	pg, err := db.NewPostgresService(log, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := pg.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	gdb := pg.DB()

	hub := sse.NewSSEHub(log)

	var bus redisclient.SSEBus
	if cfg.RedisAddr != "" {
		bus, err = redisclient.NewSSEBus(log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			return nil, fmt.Errorf("redis SSE bus: %w", err)
		}
	}

	jobRepo := jobsrepo.NewJobRunRepo(gdb, log)
	deckRepo := decks.NewDeckRepo(gdb, log)
	stageRepo := stagesrepo.NewStageRepo(gdb, log)

	var busPublisher services.SSEPublisher
	if bus != nil {
		busPublisher = bus
	}
	notifier := services.NewJobNotifier(log, hub, busPublisher)

	tokens, err := services.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	jobSvc := services.NewJobService(gdb, log, jobRepo, notifier, cfg.QueueName)
	deckSvc := services.NewDeckService(gdb, log, deckRepo)
	stageSvc := services.NewStageService(gdb, log, deckRepo, stageRepo, cfg.StageNames)

	llm, err := openai.NewClient(log, openai.Options{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}

	registry := runtime.NewRegistry()
	orchestrator := pipeline.NewOrchestrator(gdb, log, deckRepo, stageRepo,
		stagefns.Default(llm, log), cfg.StageNames, cfg.StageTimeout)
	if err := registry.Register(orchestrator); err != nil {
		return nil, err
	}

	wrk := worker.NewWorker(gdb, log, jobRepo, registry, notifier, worker.Options{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		StaleAfter:   cfg.StaleAfter,
	})

	return &App{
		Cfg:       cfg,
		Log:       log,
		DB:        gdb,
		Hub:       hub,
		SSEBus:    bus,
		JobRepo:   jobRepo,
		DeckRepo:  deckRepo,
		StageRepo: stageRepo,
		Notifier:  notifier,
		Jobs:      jobSvc,
		Decks:     deckSvc,
		Stages:    stageSvc,
		Tokens:    tokens,
		Worker:    wrk,
	}, nil
}

// Start launches the worker pool and, when configured, the redis forwarder
// that feeds remote events into the local hub.
func (a *App) Start(ctx context.Context) error {
	a.Worker.Start(ctx)
	if a.SSEBus != nil {
		if err := a.SSEBus.StartForwarder(ctx, func(m sse.SSEMessage) {
			a.Hub.Broadcast(m)
		}); err != nil {
			return fmt.Errorf("start SSE forwarder: %w", err)
		}
	}
	return nil
}

func (a *App) Close() {
	if a.SSEBus != nil {
		_ = a.SSEBus.Close()
	}
}
