package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/slidesmith/deckgen-backend/internal/domain"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
	"github.com/slidesmith/deckgen-backend/internal/sse"
)

// JobNotifier is the push side of the progress notifier. Every lifecycle
// transition of a job run goes through here; persistence has already happened
// by the time a notification fires, so a dropped event only delays the UI
// until the next poll.
type JobNotifier interface {
	JobCreated(userID uuid.UUID, job *domain.JobRun)
	JobProgress(userID uuid.UUID, job *domain.JobRun, stage string, progress int, message string)
	JobFailed(userID uuid.UUID, job *domain.JobRun, stage string, errorMessage string)
	JobDone(userID uuid.UUID, job *domain.JobRun)
}

// SSEPublisher is implemented by the redis bus. When present, events are
// published to the bus and fan back into every instance's hub (including this
// one) through the forwarder.
type SSEPublisher interface {
	Publish(ctx context.Context, msg sse.SSEMessage) error
}

type jobNotifier struct {
	log *logger.Logger
	hub *sse.SSEHub
	bus SSEPublisher
}

func NewJobNotifier(baseLog *logger.Logger, hub *sse.SSEHub, bus SSEPublisher) JobNotifier {
	return &jobNotifier{
		log: baseLog.With("service", "JobNotifier"),
		hub: hub,
		bus: bus,
	}
}

func (n *jobNotifier) emit(msg sse.SSEMessage) {
	if n.bus != nil {
		if err := n.bus.Publish(context.Background(), msg); err == nil {
			return
		} else {
			n.log.Warn("SSE bus publish failed; falling back to local hub", "error", err)
		}
	}
	if n.hub != nil {
		n.hub.Broadcast(msg)
	}
}

func (n *jobNotifier) JobCreated(userID uuid.UUID, job *domain.JobRun) {
	n.emit(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventJobCreated,
		Data:    map[string]any{"job": job},
	})
}

func (n *jobNotifier) JobProgress(userID uuid.UUID, job *domain.JobRun, stage string, progress int, message string) {
	n.emit(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventJobProgress,
		Data: map[string]any{
			"job_id":   job.ID,
			"job_type": job.JobType,
			"deck_id":  job.DeckID,
			"stage":    stage,
			"progress": progress,
			"message":  message,
			"job":      job,
		},
	})
}

func (n *jobNotifier) JobFailed(userID uuid.UUID, job *domain.JobRun, stage string, errorMessage string) {
	n.emit(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventJobFailed,
		Data: map[string]any{
			"job_id":   job.ID,
			"job_type": job.JobType,
			"deck_id":  job.DeckID,
			"stage":    stage,
			"error":    errorMessage,
			"job":      job,
		},
	})
}

func (n *jobNotifier) JobDone(userID uuid.UUID, job *domain.JobRun) {
	n.emit(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventJobDone,
		Data: map[string]any{
			"job_id":   job.ID,
			"job_type": job.JobType,
			"deck_id":  job.DeckID,
			"job":      job,
		},
	})
}
