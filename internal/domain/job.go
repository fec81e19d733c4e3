package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job status values map 1:1 to the queue lifecycle. completed and failed are
// terminal: once written they are never mutated again.
const (
	JobStatusWaiting   = "waiting"
	JobStatusActive    = "active"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

const JobTypeDeckGenerate = "deck_generate"

// JobRun is one queued request to run the pipeline for a deck. A deck may be
// re-enqueued, so deck_id is not unique across jobs.
type JobRun struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	JobType      string         `gorm:"column:job_type;not null;index" json:"job_type"`
	DeckID       uuid.UUID      `gorm:"type:uuid;column:deck_id;not null;index" json:"deck_id"`
	Priority     int            `gorm:"column:priority;not null;default:0;index" json:"priority"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	Stage        string         `gorm:"column:stage;not null" json:"stage"`
	Progress     int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Message      string         `gorm:"column:message" json:"message,omitempty"`
	Attempts     int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	FailedReason string         `gorm:"column:failed_reason" json:"failed_reason,omitempty"`
	LockedAt     *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt  *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt  *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	Payload      datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result       datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (JobRun) TableName() string { return "job_run" }

// Terminal reports whether the job reached a terminal status.
func (j *JobRun) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
