package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/slidesmith/deckgen-backend/internal/data/repos/testutil"
	"github.com/slidesmith/deckgen-backend/internal/domain"
	"github.com/slidesmith/deckgen-backend/internal/platform/dbctx"
)

func newJob(owner uuid.UUID, priority int, createdAt time.Time) *domain.JobRun {
	payload, _ := json.Marshal(map[string]any{"deck_id": uuid.New().String()})
	return &domain.JobRun{
		ID:          uuid.New(),
		OwnerUserID: owner,
		JobType:     domain.JobTypeDeckGenerate,
		DeckID:      uuid.New(),
		Priority:    priority,
		Status:      domain.JobStatusWaiting,
		Stage:       "waiting",
		Payload:     datatypes.JSON(payload),
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func TestClaimOrderPriorityThenFIFO(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewJobRunRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	owner := uuid.New()
	base := time.Now().Add(-1 * time.Hour)

	low := newJob(owner, 1, base)
	highOld := newJob(owner, 5, base.Add(1*time.Minute))
	highNew := newJob(owner, 5, base.Add(2*time.Minute))

	if _, err := repo.Create(dbc, []*domain.JobRun{low, highNew, highOld}); err != nil {
		t.Fatalf("create jobs: %v", err)
	}

	want := []uuid.UUID{highOld.ID, highNew.ID, low.ID}
	for i, wantID := range want {
		claimed, err := repo.ClaimNextRunnable(dbc, domain.JobTypeDeckGenerate)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if claimed == nil {
			t.Fatalf("claim %d returned nil", i)
		}
		if claimed.ID != wantID {
			t.Fatalf("claim %d = %s, want %s", i, claimed.ID, wantID)
		}
	}

	claimed, err := repo.ClaimNextRunnable(dbc, domain.JobTypeDeckGenerate)
	if err != nil {
		t.Fatalf("empty claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("claim on empty queue returned %s", claimed.ID)
	}
}

func TestClaimMarksActive(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewJobRunRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	job := newJob(uuid.New(), 0, time.Now())
	if _, err := repo.Create(dbc, []*domain.JobRun{job}); err != nil {
		t.Fatalf("create job: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(dbc, domain.JobTypeDeckGenerate)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("claimed wrong job: %+v", claimed)
	}
	if claimed.Status != domain.JobStatusActive {
		t.Fatalf("claimed status = %s, want active", claimed.Status)
	}
	if claimed.Attempts != 1 {
		t.Fatalf("claimed attempts = %d, want 1", claimed.Attempts)
	}
	if claimed.LockedAt == nil || claimed.HeartbeatAt == nil {
		t.Fatalf("claim did not stamp locked_at/heartbeat_at")
	}

	stored, err := repo.GetByID(dbc, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.JobStatusActive {
		t.Fatalf("stored status = %s, want active", stored.Status)
	}
}

func TestTerminalStatusIsImmutable(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewJobRunRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	job := newJob(uuid.New(), 0, time.Now())
	if _, err := repo.Create(dbc, []*domain.JobRun{job}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := repo.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status":   domain.JobStatusCompleted,
		"progress": 100,
	}); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	terminal := []string{domain.JobStatusCompleted, domain.JobStatusFailed}
	ok, err := repo.UpdateFieldsUnlessStatus(dbc, job.ID, terminal, map[string]interface{}{
		"status":   domain.JobStatusActive,
		"progress": 50,
	})
	if err != nil {
		t.Fatalf("guarded update: %v", err)
	}
	if ok {
		t.Fatalf("guarded update modified a completed job")
	}

	stored, err := repo.GetByID(dbc, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.JobStatusCompleted || stored.Progress != 100 {
		t.Fatalf("terminal job mutated: status=%s progress=%d", stored.Status, stored.Progress)
	}
}

func TestCountByStatusConservation(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewJobRunRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	owner := uuid.New()
	now := time.Now()
	all := []*domain.JobRun{
		newJob(owner, 0, now), newJob(owner, 0, now), newJob(owner, 0, now),
		newJob(owner, 0, now), newJob(owner, 0, now),
	}
	all[1].Status = domain.JobStatusActive
	all[2].Status = domain.JobStatusCompleted
	all[3].Status = domain.JobStatusFailed
	if _, err := repo.Create(dbc, all); err != nil {
		t.Fatalf("create jobs: %v", err)
	}

	counts, err := repo.CountByStatus(dbc, domain.JobTypeDeckGenerate)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts.Waiting != 2 || counts.Active != 1 || counts.Completed != 1 || counts.Failed != 1 {
		t.Fatalf("counts = %+v", counts)
	}
	total := counts.Waiting + counts.Active + counts.Completed + counts.Failed
	if total != int64(len(all)) {
		t.Fatalf("count total = %d, want %d", total, len(all))
	}
}

func TestListStaleActive(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewJobRunRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	owner := uuid.New()
	now := time.Now()

	stale := newJob(owner, 0, now)
	stale.Status = domain.JobStatusActive
	old := now.Add(-2 * time.Hour)
	stale.HeartbeatAt = &old

	fresh := newJob(owner, 0, now)
	fresh.Status = domain.JobStatusActive
	fresh.HeartbeatAt = &now

	if _, err := repo.Create(dbc, []*domain.JobRun{stale, fresh}); err != nil {
		t.Fatalf("create jobs: %v", err)
	}

	got, err := repo.ListStaleActive(dbc, domain.JobTypeDeckGenerate, 30*time.Minute)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("stale list = %v", got)
	}
}
