package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/slidesmith/deckgen-backend/internal/data/repos/jobs"
	"github.com/slidesmith/deckgen-backend/internal/domain"
	"github.com/slidesmith/deckgen-backend/internal/jobs/runtime"
	"github.com/slidesmith/deckgen-backend/internal/platform/dbctx"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
)

// oneShotRepo hands out a single waiting job and counts heartbeats.
type oneShotRepo struct {
	mu         sync.Mutex
	job        *domain.JobRun
	claimed    bool
	heartbeats int
}

func (r *oneShotRepo) Create(dbc dbctx.Context, js []*domain.JobRun) ([]*domain.JobRun, error) {
	return js, nil
}

func (r *oneShotRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job != nil && r.job.ID == id {
		return r.job, nil
	}
	return nil, nil
}

func (r *oneShotRepo) ClaimNextRunnable(dbc dbctx.Context, jobType string) (*domain.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed || r.job == nil {
		return nil, nil
	}
	r.claimed = true
	r.job.Status = domain.JobStatusActive
	r.job.Attempts++
	return r.job, nil
}

func (r *oneShotRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (r *oneShotRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job == nil || r.job.ID != id {
		return false, nil
	}
	for _, s := range disallowed {
		if r.job.Status == s {
			return false, nil
		}
	}
	if v, ok := updates["status"].(string); ok {
		r.job.Status = v
	}
	return true, nil
}

func (r *oneShotRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job != nil && r.job.ID == id && r.job.Status == domain.JobStatusActive {
		r.heartbeats++
	}
	return nil
}

func (r *oneShotRepo) CountByStatus(dbc dbctx.Context, jobType string) (jobs.StatusCounts, error) {
	return jobs.StatusCounts{}, nil
}

func (r *oneShotRepo) ListStaleActive(dbc dbctx.Context, jobType string, staleAfter time.Duration) ([]*domain.JobRun, error) {
	return nil, nil
}

func (r *oneShotRepo) heartbeatCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heartbeats
}

func (r *oneShotRepo) jobStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Status
}

type noopNotifier struct{}

func (noopNotifier) JobCreated(userID uuid.UUID, job *domain.JobRun) {}
func (noopNotifier) JobProgress(userID uuid.UUID, job *domain.JobRun, stage string, progress int, message string) {
}
func (noopNotifier) JobFailed(userID uuid.UUID, job *domain.JobRun, stage string, errorMessage string) {
}
func (noopNotifier) JobDone(userID uuid.UUID, job *domain.JobRun) {}

// slowHandler blocks without ever reporting progress.
type slowHandler struct {
	d    time.Duration
	done chan struct{}
}

func (h *slowHandler) Type() string { return domain.JobTypeDeckGenerate }

func (h *slowHandler) Run(jc *runtime.Context) error {
	time.Sleep(h.d)
	jc.Succeed("final", map[string]any{})
	close(h.done)
	return nil
}

func TestWorkerHeartbeatsDuringSilentStage(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}

	repo := &oneShotRepo{job: &domain.JobRun{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		JobType:     domain.JobTypeDeckGenerate,
		DeckID:      uuid.New(),
		Status:      domain.JobStatusWaiting,
		Payload:     datatypes.JSON([]byte(`{}`)),
	}}

	h := &slowHandler{d: 120 * time.Millisecond, done: make(chan struct{})}
	registry := runtime.NewRegistry()
	if err := registry.Register(h); err != nil {
		t.Fatalf("register: %v", err)
	}

	w := NewWorker(nil, log, repo, registry, noopNotifier{}, Options{
		Concurrency:       1,
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never ran")
	}
	cancel()

	// the handler made zero progress calls; only the worker's own ticker
	// can have stamped these
	if got := repo.heartbeatCount(); got < 2 {
		t.Fatalf("heartbeats = %d, want >= 2", got)
	}
	if status := repo.jobStatus(); status != domain.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed", status)
	}
}
