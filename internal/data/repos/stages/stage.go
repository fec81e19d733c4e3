package stages

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/slidesmith/deckgen-backend/internal/domain"
	"github.com/slidesmith/deckgen-backend/internal/platform/dbctx"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
)

// StageRepo is the stage store: durable per-(deck_id, name) key-value storage
// for pipeline stage output. Every write is a single upsert statement, so a
// concurrent reader never observes a half-written stage.
type StageRepo interface {
	// SaveStage overwrites the stage's output, marks it completed and stamps
	// updated_at.
	SaveStage(dbc dbctx.Context, deckID uuid.UUID, name string, data any) (*domain.PipelineStage, error)
	// MarkStatus upserts the stage with the given status and optional error
	// payload without touching prior output.
	MarkStatus(dbc dbctx.Context, deckID uuid.UUID, name string, status string, errorData any) error
	GetStage(dbc dbctx.Context, deckID uuid.UUID, name string) (*domain.PipelineStage, error)
	GetAllStages(dbc dbctx.Context, deckID uuid.UUID) (map[string]*domain.PipelineStage, error)
	// SaveMultipleStages writes the batch in one transaction: readers see all
	// of it or none of it.
	SaveMultipleStages(dbc dbctx.Context, deckID uuid.UUID, stages map[string]any) error
	// ClearAllStages resets every stage for a deck to absent.
	ClearAllStages(dbc dbctx.Context, deckID uuid.UUID) error
}

type stageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStageRepo(db *gorm.DB, baseLog *logger.Logger) StageRepo {
	return &stageRepo{
		db:  db,
		log: baseLog.With("repo", "StageRepo"),
	}
}

func toJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(datatypes.JSON); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func (r *stageRepo) upsert(tx *gorm.DB, row *domain.PipelineStage, assignments map[string]interface{}) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "deck_id"}, {Name: "name"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(row).Error
}

func (r *stageRepo) SaveStage(dbc dbctx.Context, deckID uuid.UUID, name string, data any) (*domain.PipelineStage, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	payload, err := toJSON(data)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	row := &domain.PipelineStage{
		ID:         uuid.New(),
		DeckID:     deckID,
		Name:       name,
		Status:     domain.StageStatusCompleted,
		OutputData: payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = r.upsert(transaction.WithContext(dbc.Ctx), row, map[string]interface{}{
		"status":      domain.StageStatusCompleted,
		"output_data": payload,
		"error_data":  nil,
		"updated_at":  now,
	})
	if err != nil {
		return nil, err
	}
	return r.GetStage(dbc, deckID, name)
}

func (r *stageRepo) MarkStatus(dbc dbctx.Context, deckID uuid.UUID, name string, status string, errorData any) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	payload, err := toJSON(errorData)
	if err != nil {
		return err
	}
	now := time.Now()
	row := &domain.PipelineStage{
		ID:        uuid.New(),
		DeckID:    deckID,
		Name:      name,
		Status:    status,
		ErrorData: payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	assignments := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if payload != nil {
		assignments["error_data"] = payload
	}
	return r.upsert(transaction.WithContext(dbc.Ctx), row, assignments)
}

func (r *stageRepo) GetStage(dbc dbctx.Context, deckID uuid.UUID, name string) (*domain.PipelineStage, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var row domain.PipelineStage
	err := transaction.WithContext(dbc.Ctx).
		Where("deck_id = ? AND name = ?", deckID, name).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *stageRepo) GetAllStages(dbc dbctx.Context, deckID uuid.UUID) (map[string]*domain.PipelineStage, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*domain.PipelineStage
	if err := transaction.WithContext(dbc.Ctx).
		Where("deck_id = ?", deckID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*domain.PipelineStage, len(rows))
	for _, row := range rows {
		out[row.Name] = row
	}
	return out, nil
}

func (r *stageRepo) SaveMultipleStages(dbc dbctx.Context, deckID uuid.UUID, stages map[string]any) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(stages) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		now := time.Now()
		for name, data := range stages {
			payload, err := toJSON(data)
			if err != nil {
				return err
			}
			row := &domain.PipelineStage{
				ID:         uuid.New(),
				DeckID:     deckID,
				Name:       name,
				Status:     domain.StageStatusCompleted,
				OutputData: payload,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := r.upsert(txx, row, map[string]interface{}{
				"status":      domain.StageStatusCompleted,
				"output_data": payload,
				"error_data":  nil,
				"updated_at":  now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *stageRepo) ClearAllStages(dbc dbctx.Context, deckID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Where("deck_id = ?", deckID).
		Delete(&domain.PipelineStage{}).Error
}
