package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slidesmith/deckgen-backend/internal/data/repos/jobs"
	"github.com/slidesmith/deckgen-backend/internal/jobs/runtime"
	"github.com/slidesmith/deckgen-backend/internal/platform/dbctx"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
	"github.com/slidesmith/deckgen-backend/internal/services"
)

type Options struct {
	// Concurrency is the size of the worker pool; the pool is the only
	// concurrency limit on pipeline execution.
	Concurrency  int
	PollInterval time.Duration
	// StaleAfter is the heartbeat age past which an active job is reported as
	// stale. Stale jobs are logged, never relabeled; re-enqueueing is a manual
	// recovery step.
	StaleAfter        time.Duration
	StaleScanInterval time.Duration
	// HeartbeatInterval is how often a worker stamps heartbeat_at while its
	// job runs, independent of progress updates. Must be well under
	// StaleAfter or slow stages read as crashed.
	HeartbeatInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 4
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 1 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 30 * time.Minute
	}
	if o.StaleScanInterval <= 0 {
		o.StaleScanInterval = 5 * time.Minute
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	return o
}

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     jobs.JobRunRepo
	registry *runtime.Registry
	notify   services.JobNotifier
	opts     Options
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo jobs.JobRunRepo, registry *runtime.Registry, notify services.JobNotifier, opts Options) *Worker {
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		notify:   notify,
		opts:     opts.withDefaults(),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.opts.Concurrency)
	for i := 0; i < w.opts.Concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
	go w.staleScanLoop(ctx)
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, "")
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}

			h, ok := w.registry.Get(job.JobType)
			jc := runtime.NewContext(ctx, w.db, job, w.repo, w.notify)

			if !ok {
				w.log.Warn("No handler registered for job_type",
					"worker_id", workerID,
					"job_type", job.JobType,
					"job_id", job.ID,
				)
				jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", job.JobType))
				continue
			}

			func() {
				hbCtx, hbStop := context.WithCancel(ctx)
				defer hbStop()
				go w.heartbeatLoop(hbCtx, job.ID)

				defer func() {
					if r := recover(); r != nil {
						w.log.Error("Job handler panic",
							"worker_id", workerID,
							"job_id", job.ID,
							"job_type", job.JobType,
							"panic", r,
						)
						jc.Fail("panic", fmt.Errorf("panic: %v", r))
					}
				}()

				if runErr := h.Run(jc); runErr != nil {
					// Pipelines normally call jc.Fail themselves; safety net.
					jc.Fail("run", runErr)
				}
			}()
		}
	}
}

// heartbeatLoop stamps heartbeat_at while the job runs so a stage that makes
// no progress calls still reads as alive. The repo ignores the stamp once the
// job leaves active.
func (w *Worker) heartbeatLoop(ctx context.Context, jobID uuid.UUID) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repo.Heartbeat(dbctx.Context{Ctx: ctx}, jobID); err != nil {
				w.log.Warn("Heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// staleScanLoop surfaces jobs whose worker died between heartbeats. They stay
// active in storage so an operator can tell a crash from slow progress.
func (w *Worker) staleScanLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.StaleScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stale, err := w.repo.ListStaleActive(dbctx.Context{Ctx: ctx}, "", w.opts.StaleAfter)
			if err != nil {
				w.log.Warn("Stale job scan failed", "error", err)
				continue
			}
			for _, job := range stale {
				w.log.Warn("Stale active job detected",
					"job_id", job.ID,
					"job_type", job.JobType,
					"deck_id", job.DeckID,
					"heartbeat_at", job.HeartbeatAt,
				)
			}
		}
	}
}
