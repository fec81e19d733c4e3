package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slidesmith/deckgen-backend/internal/http/response"
	"github.com/slidesmith/deckgen-backend/internal/platform/dbctx"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
	"github.com/slidesmith/deckgen-backend/internal/requestdata"
	"github.com/slidesmith/deckgen-backend/internal/services"
)

type DeckHandler struct {
	log   *logger.Logger
	decks services.DeckService
	jobs  services.JobService
}

func NewDeckHandler(baseLog *logger.Logger, decks services.DeckService, jobs services.JobService) *DeckHandler {
	return &DeckHandler{
		log:   baseLog.With("handler", "DeckHandler"),
		decks: decks,
		jobs:  jobs,
	}
}

func (h *DeckHandler) Create(c *gin.Context) {
	var req struct {
		Title       string           `json:"title"`
		DataSources []map[string]any `json:"data_sources"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	deck, err := h.decks.CreateForRequestUser(dbctx.Context{Ctx: c.Request.Context()}, req.Title, req.DataSources)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondCreated(c, deck)
}

func (h *DeckHandler) Get(c *gin.Context) {
	deckID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_deck_id", err)
		return
	}
	deck, err := h.decks.GetForRequestUser(dbctx.Context{Ctx: c.Request.Context()}, deckID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, deck)
}

// Generate enqueues a deck_generate job. Enqueue always succeeds for a
// well-formed request; deck validation happens when a worker picks the job
// up.
func (h *DeckHandler) Generate(c *gin.Context) {
	deckID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_deck_id", err)
		return
	}

	var req struct {
		Context  string `json:"context"`
		Priority int    `json:"priority"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}

	rd := requestdata.Get(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("not authenticated"))
		return
	}

	job, err := h.jobs.EnqueueDeckGenerate(dbctx.Context{Ctx: c.Request.Context()}, rd.UserID, deckID, req.Context, req.Priority)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"job_id":  job.ID,
		"deck_id": job.DeckID,
	})
}
