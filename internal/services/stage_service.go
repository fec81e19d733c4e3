package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/slidesmith/deckgen-backend/internal/data/repos/decks"
	"github.com/slidesmith/deckgen-backend/internal/data/repos/stages"
	"github.com/slidesmith/deckgen-backend/internal/domain"
	"github.com/slidesmith/deckgen-backend/internal/pipeline"
	"github.com/slidesmith/deckgen-backend/internal/platform/apierr"
	"github.com/slidesmith/deckgen-backend/internal/platform/dbctx"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
	"github.com/slidesmith/deckgen-backend/internal/requestdata"
)

// StageProgress is one row of the per-deck progress view. Both the polling
// endpoint and the SSE stream render from this same shape; they cannot
// disagree about state.
type StageProgress struct {
	Stage     string         `json:"stage"`
	Status    string         `json:"status"`
	Progress  int            `json:"progress"`
	Message   string         `json:"message"`
	UpdatedAt time.Time      `json:"updated_at"`
	Data      datatypes.JSON `json:"data,omitempty"`
}

type StageService interface {
	// Save upserts a completed stage record, lazily creating the deck row so
	// external writers can seed stages before a deck exists.
	Save(dbc dbctx.Context, deckID uuid.UUID, name string, data any) (*domain.PipelineStage, error)
	// Get returns apierr.ErrNotFound for a stage with no record; absence is
	// never reported as an empty stage.
	Get(dbc dbctx.Context, deckID uuid.UUID, name string) (*domain.PipelineStage, error)
	GetAll(dbc dbctx.Context, deckID uuid.UUID) (map[string]*domain.PipelineStage, error)
	SaveBatch(dbc dbctx.Context, deckID uuid.UUID, batch map[string]any) error
	Clear(dbc dbctx.Context, deckID uuid.UUID) error
	// Progress returns the per-stage view over the configured stage list, in
	// pipeline order, with the cumulative weight contract applied.
	Progress(dbc dbctx.Context, deckID uuid.UUID) ([]StageProgress, error)
}

type stageService struct {
	db         *gorm.DB
	log        *logger.Logger
	deckRepo   decks.DeckRepo
	stageRepo  stages.StageRepo
	stageNames []string
	weights    map[string]int
}

func NewStageService(db *gorm.DB, baseLog *logger.Logger, deckRepo decks.DeckRepo, stageRepo stages.StageRepo, stageNames []string) StageService {
	if len(stageNames) == 0 {
		stageNames = pipeline.DefaultStageNames
	}
	return &stageService{
		db:         db,
		log:        baseLog.With("service", "StageService"),
		deckRepo:   deckRepo,
		stageRepo:  stageRepo,
		stageNames: stageNames,
		weights:    pipeline.Weights(stageNames),
	}
}

func (s *stageService) ensureDeck(dbc dbctx.Context, deckID uuid.UUID) error {
	userID := uuid.Nil
	if rd := requestdata.Get(dbc.Ctx); rd != nil {
		userID = rd.UserID
	}
	return s.deckRepo.EnsureExists(dbc, deckID, userID)
}

func (s *stageService) Save(dbc dbctx.Context, deckID uuid.UUID, name string, data any) (*domain.PipelineStage, error) {
	if deckID == uuid.Nil {
		return nil, fmt.Errorf("missing deck_id: %w", apierr.ErrInvalidArgument)
	}
	if name == "" {
		return nil, fmt.Errorf("missing stage name: %w", apierr.ErrInvalidArgument)
	}
	if err := s.ensureDeck(dbc, deckID); err != nil {
		return nil, fmt.Errorf("ensure deck: %w", err)
	}
	return s.stageRepo.SaveStage(dbc, deckID, name, data)
}

func (s *stageService) Get(dbc dbctx.Context, deckID uuid.UUID, name string) (*domain.PipelineStage, error) {
	if deckID == uuid.Nil {
		return nil, fmt.Errorf("missing deck_id: %w", apierr.ErrInvalidArgument)
	}
	row, err := s.stageRepo.GetStage(dbc, deckID, name)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("stage %s for deck %s: %w", name, deckID, apierr.ErrNotFound)
	}
	return row, nil
}

func (s *stageService) GetAll(dbc dbctx.Context, deckID uuid.UUID) (map[string]*domain.PipelineStage, error) {
	if deckID == uuid.Nil {
		return nil, fmt.Errorf("missing deck_id: %w", apierr.ErrInvalidArgument)
	}
	return s.stageRepo.GetAllStages(dbc, deckID)
}

func (s *stageService) SaveBatch(dbc dbctx.Context, deckID uuid.UUID, batch map[string]any) error {
	if deckID == uuid.Nil {
		return fmt.Errorf("missing deck_id: %w", apierr.ErrInvalidArgument)
	}
	if len(batch) == 0 {
		return fmt.Errorf("empty stage batch: %w", apierr.ErrInvalidArgument)
	}
	if err := s.ensureDeck(dbc, deckID); err != nil {
		return fmt.Errorf("ensure deck: %w", err)
	}
	return s.stageRepo.SaveMultipleStages(dbc, deckID, batch)
}

func (s *stageService) Clear(dbc dbctx.Context, deckID uuid.UUID) error {
	if deckID == uuid.Nil {
		return fmt.Errorf("missing deck_id: %w", apierr.ErrInvalidArgument)
	}
	return s.stageRepo.ClearAllStages(dbc, deckID)
}

func (s *stageService) Progress(dbc dbctx.Context, deckID uuid.UUID) ([]StageProgress, error) {
	if deckID == uuid.Nil {
		return nil, fmt.Errorf("missing deck_id: %w", apierr.ErrInvalidArgument)
	}
	rows, err := s.stageRepo.GetAllStages(dbc, deckID)
	if err != nil {
		return nil, err
	}

	out := make([]StageProgress, 0, len(s.stageNames))
	prev := 0
	for _, name := range s.stageNames {
		sp := StageProgress{
			Stage:   name,
			Status:  domain.StageStatusPending,
			Message: pipeline.MessageFor(name),
		}
		if row, ok := rows[name]; ok {
			sp.Status = row.Status
			sp.UpdatedAt = row.UpdatedAt
			sp.Data = row.OutputData
		}
		prev = pipeline.ProgressFor(s.weights, name, sp.Status, prev)
		sp.Progress = prev
		out = append(out, sp)
	}
	return out, nil
}
