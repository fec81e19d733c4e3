package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slidesmith/deckgen-backend/internal/http/response"
	"github.com/slidesmith/deckgen-backend/internal/platform/dbctx"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
	"github.com/slidesmith/deckgen-backend/internal/services"
)

type StageHandler struct {
	log    *logger.Logger
	stages services.StageService
}

func NewStageHandler(baseLog *logger.Logger, stages services.StageService) *StageHandler {
	return &StageHandler{
		log:    baseLog.With("handler", "StageHandler"),
		stages: stages,
	}
}

func deckIDQuery(c *gin.Context) (uuid.UUID, error) {
	raw := c.Query("deckId")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("missing deckId query parameter")
	}
	return uuid.Parse(raw)
}

// Get serves GET /api/stages/:name?deckId=. A missing deckId is a 400, a
// stage with no record is a 404, a store failure is a 500.
func (h *StageHandler) Get(c *gin.Context) {
	deckID, err := deckIDQuery(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_deck_id", err)
		return
	}
	row, err := h.stages.Get(dbctx.Context{Ctx: c.Request.Context()}, deckID, c.Param("name"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, row)
}

func (h *StageHandler) GetAll(c *gin.Context) {
	deckID, err := deckIDQuery(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_deck_id", err)
		return
	}
	rows, err := h.stages.GetAll(dbctx.Context{Ctx: c.Request.Context()}, deckID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, rows)
}

func (h *StageHandler) Progress(c *gin.Context) {
	deckID, err := deckIDQuery(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_deck_id", err)
		return
	}
	rows, err := h.stages.Progress(dbctx.Context{Ctx: c.Request.Context()}, deckID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, rows)
}

// Post serves POST /api/stages/:name. The reserved names clear and batch
// dispatch to their bulk operations; anything else is a single stage save.
func (h *StageHandler) Post(c *gin.Context) {
	switch c.Param("name") {
	case "clear":
		h.clear(c)
	case "batch":
		h.batch(c)
	default:
		h.save(c)
	}
}

func (h *StageHandler) save(c *gin.Context) {
	var req struct {
		DeckID uuid.UUID `json:"deck_id"`
		Data   any       `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	row, err := h.stages.Save(dbctx.Context{Ctx: c.Request.Context()}, req.DeckID, c.Param("name"), req.Data)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, row)
}

func (h *StageHandler) clear(c *gin.Context) {
	var req struct {
		DeckID uuid.UUID `json:"deck_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if err := h.stages.Clear(dbctx.Context{Ctx: c.Request.Context()}, req.DeckID); err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"cleared": true, "deck_id": req.DeckID})
}

func (h *StageHandler) batch(c *gin.Context) {
	var req struct {
		DeckID uuid.UUID      `json:"deck_id"`
		Stages map[string]any `json:"stages"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if err := h.stages.SaveBatch(dbctx.Context{Ctx: c.Request.Context()}, req.DeckID, req.Stages); err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"saved": len(req.Stages), "deck_id": req.DeckID})
}
