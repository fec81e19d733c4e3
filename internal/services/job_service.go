package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/slidesmith/deckgen-backend/internal/data/repos/jobs"
	"github.com/slidesmith/deckgen-backend/internal/domain"
	"github.com/slidesmith/deckgen-backend/internal/platform/apierr"
	"github.com/slidesmith/deckgen-backend/internal/platform/dbctx"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
	"github.com/slidesmith/deckgen-backend/internal/requestdata"
)

type QueueStatus struct {
	Waiting   int64  `json:"waiting"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Queue     string `json:"queue"`
}

type JobService interface {
	// EnqueueDeckGenerate persists a waiting job and returns it. The deck is
	// not validated here; a bad deck id surfaces when the worker consumes
	// the job.
	EnqueueDeckGenerate(dbc dbctx.Context, ownerUserID uuid.UUID, deckID uuid.UUID, userContext string, priority int) (*domain.JobRun, error)
	// GetJobStatus returns the job or apierr.ErrNotFound for an unknown id.
	// Unknown is never reported as pending.
	GetJobStatus(dbc dbctx.Context, jobID uuid.UUID) (*domain.JobRun, error)
	// GetJobForRequestUser is GetJobStatus plus an ownership check; a job
	// owned by someone else reads as not found.
	GetJobForRequestUser(dbc dbctx.Context, jobID uuid.UUID) (*domain.JobRun, error)
	GetQueueStatus(dbc dbctx.Context) (QueueStatus, error)
}

type jobService struct {
	db        *gorm.DB
	log       *logger.Logger
	repo      jobs.JobRunRepo
	notify    JobNotifier
	queueName string
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, repo jobs.JobRunRepo, notify JobNotifier, queueName string) JobService {
	if queueName == "" {
		queueName = "deck-generation"
	}
	return &jobService{
		db:        db,
		log:       baseLog.With("service", "JobService"),
		repo:      repo,
		notify:    notify,
		queueName: queueName,
	}
}

func (s *jobService) EnqueueDeckGenerate(dbc dbctx.Context, ownerUserID uuid.UUID, deckID uuid.UUID, userContext string, priority int) (*domain.JobRun, error) {
	if ownerUserID == uuid.Nil {
		return nil, fmt.Errorf("missing owner_user_id: %w", apierr.ErrInvalidArgument)
	}
	if deckID == uuid.Nil {
		return nil, fmt.Errorf("missing deck_id: %w", apierr.ErrInvalidArgument)
	}

	payload := map[string]any{
		"deck_id":  deckID.String(),
		"user_id":  ownerUserID.String(),
		"context":  userContext,
		"priority": priority,
	}
	b, _ := json.Marshal(payload)

	now := time.Now()
	job := &domain.JobRun{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		JobType:     domain.JobTypeDeckGenerate,
		DeckID:      deckID,
		Priority:    priority,
		Status:      domain.JobStatusWaiting,
		Stage:       "waiting",
		Progress:    0,
		Message:     "Waiting",
		Payload:     datatypes.JSON(b),
		Result:      datatypes.JSON([]byte(`{}`)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.repo.Create(dbc, []*domain.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if s.notify != nil {
		s.notify.JobCreated(ownerUserID, job)
	}
	s.log.Info("Job enqueued", "job_id", job.ID, "deck_id", deckID, "priority", priority)
	return job, nil
}

func (s *jobService) GetJobStatus(dbc dbctx.Context, jobID uuid.UUID) (*domain.JobRun, error) {
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("missing job id: %w", apierr.ErrInvalidArgument)
	}
	job, err := s.repo.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, apierr.ErrNotFound)
	}
	return job, nil
}

func (s *jobService) GetJobForRequestUser(dbc dbctx.Context, jobID uuid.UUID) (*domain.JobRun, error) {
	rd := requestdata.Get(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.ErrUnauthorized
	}
	job, err := s.GetJobStatus(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerUserID != rd.UserID {
		return nil, fmt.Errorf("job %s: %w", jobID, apierr.ErrNotFound)
	}
	return job, nil
}

func (s *jobService) GetQueueStatus(dbc dbctx.Context) (QueueStatus, error) {
	counts, err := s.repo.CountByStatus(dbc, domain.JobTypeDeckGenerate)
	if err != nil {
		return QueueStatus{}, err
	}
	return QueueStatus{
		Waiting:   counts.Waiting,
		Active:    counts.Active,
		Completed: counts.Completed,
		Failed:    counts.Failed,
		Queue:     s.queueName,
	}, nil
}
