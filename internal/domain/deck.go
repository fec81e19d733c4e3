package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Deck status values. Deck status is distinct from job status: a deck can be
// processing across re-enqueued jobs.
const (
	DeckStatusDraft      = "draft"
	DeckStatusProcessing = "processing"
	DeckStatusCompleted  = "completed"
	DeckStatusError      = "error"
)

// Deck owns the durable cross-stage state for one presentation. The stage
// store is authoritative for progress; the jsonb mirrors below hold the
// user-facing artifacts as each stage completes.
type Deck struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Title        string         `gorm:"column:title" json:"title"`
	Status       string         `gorm:"column:status;not null;index;default:draft" json:"status"`
	DataSources  datatypes.JSON `gorm:"column:data_sources;type:jsonb" json:"data_sources"`
	Insights     datatypes.JSON `gorm:"column:insights;type:jsonb" json:"insights,omitempty"`
	Outline      datatypes.JSON `gorm:"column:outline;type:jsonb" json:"outline,omitempty"`
	ChartData    datatypes.JSON `gorm:"column:chart_data;type:jsonb" json:"chart_data,omitempty"`
	FinalDeck    datatypes.JSON `gorm:"column:final_deck;type:jsonb" json:"final_deck,omitempty"`
	ErrorMessage string         `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Deck) TableName() string { return "deck" }
