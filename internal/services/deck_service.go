package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/slidesmith/deckgen-backend/internal/data/repos/decks"
	"github.com/slidesmith/deckgen-backend/internal/domain"
	"github.com/slidesmith/deckgen-backend/internal/platform/apierr"
	"github.com/slidesmith/deckgen-backend/internal/platform/dbctx"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
	"github.com/slidesmith/deckgen-backend/internal/requestdata"
)

type DeckService interface {
	CreateForRequestUser(dbc dbctx.Context, title string, dataSources []map[string]any) (*domain.Deck, error)
	GetForRequestUser(dbc dbctx.Context, deckID uuid.UUID) (*domain.Deck, error)
	// OwnedByRequestUser reports whether the deck exists and belongs to the
	// calling user. Used by the progress stream's connection gate.
	OwnedByRequestUser(dbc dbctx.Context, deckID uuid.UUID) (bool, error)
}

type deckService struct {
	db   *gorm.DB
	log  *logger.Logger
	repo decks.DeckRepo
}

func NewDeckService(db *gorm.DB, baseLog *logger.Logger, repo decks.DeckRepo) DeckService {
	return &deckService{
		db:   db,
		log:  baseLog.With("service", "DeckService"),
		repo: repo,
	}
}

func (s *deckService) CreateForRequestUser(dbc dbctx.Context, title string, dataSources []map[string]any) (*domain.Deck, error) {
	rd := requestdata.Get(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.ErrUnauthorized
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("missing title: %w", apierr.ErrInvalidArgument)
	}

	var sources datatypes.JSON
	if dataSources != nil {
		b, err := json.Marshal(dataSources)
		if err != nil {
			return nil, fmt.Errorf("encode data_sources: %w", err)
		}
		sources = datatypes.JSON(b)
	}

	now := time.Now()
	deck := &domain.Deck{
		ID:          uuid.New(),
		UserID:      rd.UserID,
		Title:       title,
		Status:      domain.DeckStatusDraft,
		DataSources: sources,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.repo.Create(dbc, deck)
}

func (s *deckService) GetForRequestUser(dbc dbctx.Context, deckID uuid.UUID) (*domain.Deck, error) {
	rd := requestdata.Get(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.ErrUnauthorized
	}
	deck, err := s.repo.GetByID(dbc, deckID)
	if err != nil {
		return nil, err
	}
	if deck == nil || deck.UserID != rd.UserID {
		return nil, fmt.Errorf("deck %s: %w", deckID, apierr.ErrNotFound)
	}
	return deck, nil
}

func (s *deckService) OwnedByRequestUser(dbc dbctx.Context, deckID uuid.UUID) (bool, error) {
	_, err := s.GetForRequestUser(dbc, deckID)
	if err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
