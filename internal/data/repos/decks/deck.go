package decks

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/slidesmith/deckgen-backend/internal/domain"
	"github.com/slidesmith/deckgen-backend/internal/platform/dbctx"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
)

type DeckRepo interface {
	Create(dbc dbctx.Context, deck *domain.Deck) (*domain.Deck, error)
	// EnsureExists upserts a minimal deck row. Idempotent: an existing row is
	// left untouched, so it is safe to call before any stage write.
	EnsureExists(dbc dbctx.Context, id uuid.UUID, userID uuid.UUID) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Deck, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type deckRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeckRepo(db *gorm.DB, baseLog *logger.Logger) DeckRepo {
	return &deckRepo{
		db:  db,
		log: baseLog.With("repo", "DeckRepo"),
	}
}

func (r *deckRepo) Create(dbc dbctx.Context, deck *domain.Deck) (*domain.Deck, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if deck.ID == uuid.Nil {
		deck.ID = uuid.New()
	}
	if deck.Status == "" {
		deck.Status = domain.DeckStatusDraft
	}
	if err := transaction.WithContext(dbc.Ctx).Create(deck).Error; err != nil {
		return nil, err
	}
	return deck, nil
}

func (r *deckRepo) EnsureExists(dbc dbctx.Context, id uuid.UUID, userID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	deck := &domain.Deck{
		ID:        id,
		UserID:    userID,
		Status:    domain.DeckStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(deck).Error
}

func (r *deckRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Deck, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var deck domain.Deck
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&deck).Error
	if err != nil {
		return nil, err
	}
	if deck.ID == uuid.Nil {
		return nil, nil
	}
	return &deck, nil
}

func (r *deckRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&domain.Deck{}).
		Where("id = ?", id).
		Updates(updates).Error
}
