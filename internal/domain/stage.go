package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Pipeline stage status values.
const (
	StageStatusPending    = "pending"
	StageStatusProcessing = "processing"
	StageStatusCompleted  = "completed"
	StageStatusFailed     = "failed"
)

// PipelineStage is one row per (deck_id, name). UpdatedAt advances on every
// write; the streaming notifier diffs it to detect change.
type PipelineStage struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DeckID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_pipeline_stage_deck_name" json:"deck_id"`
	Name       string         `gorm:"column:name;not null;uniqueIndex:idx_pipeline_stage_deck_name" json:"name"`
	Status     string         `gorm:"column:status;not null;default:pending" json:"status"`
	OutputData datatypes.JSON `gorm:"column:output_data;type:jsonb" json:"output_data,omitempty"`
	ErrorData  datatypes.JSON `gorm:"column:error_data;type:jsonb" json:"error_data,omitempty"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;index" json:"updated_at"`
}

func (PipelineStage) TableName() string { return "pipeline_stage" }
