package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slidesmith/deckgen-backend/internal/domain"
	"github.com/slidesmith/deckgen-backend/internal/http/response"
	"github.com/slidesmith/deckgen-backend/internal/platform/dbctx"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
	"github.com/slidesmith/deckgen-backend/internal/services"
)

// ProgressStreamHandler serves the per-deck SSE progress stream. It is a
// poll-to-push adapter: every tick it re-reads the same stage-progress view
// the polling endpoint serves and emits events only for stages whose
// updated_at advanced.
type ProgressStreamHandler struct {
	log      *logger.Logger
	decks    services.DeckService
	stages   services.StageService
	interval time.Duration
}

func NewProgressStreamHandler(baseLog *logger.Logger, decks services.DeckService, stages services.StageService, interval time.Duration) *ProgressStreamHandler {
	if interval <= 0 {
		interval = 1 * time.Second
	}
	return &ProgressStreamHandler{
		log:      baseLog.With("handler", "ProgressStreamHandler"),
		decks:    decks,
		stages:   stages,
		interval: interval,
	}
}

func (h *ProgressStreamHandler) Stream(c *gin.Context) {
	deckID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_deck_id", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	owned, err := h.decks.OwnedByRequestUser(dbc, deckID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !owned {
		response.RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("deck %s not found", deckID))
		return
	}

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.RespondError(c, http.StatusInternalServerError, "internal", fmt.Errorf("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	writeSSE(w, flusher, "connected", gin.H{"deck_id": deckID})
	h.log.Debug("Progress stream opened", "deck_id", deckID)

	ctx := c.Request.Context()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	lastSeen := map[string]time.Time{}
	lastStatus := map[string]string{}

	for {
		select {
		case <-ctx.Done():
			// Client abort ends the poll loop; nothing leaks.
			h.log.Debug("Progress stream closed by client", "deck_id", deckID)
			return
		case <-ticker.C:
			rows, err := h.stages.Progress(dbc, deckID)
			if err != nil {
				writeSSE(w, flusher, "error", gin.H{"message": err.Error()})
				return
			}

			terminalStage := ""
			if len(rows) > 0 {
				terminalStage = rows[len(rows)-1].Stage
			}

			for _, row := range rows {
				if row.UpdatedAt.IsZero() {
					continue
				}
				if !row.UpdatedAt.After(lastSeen[row.Stage]) && row.Status == lastStatus[row.Stage] {
					continue
				}
				prevStatus := lastStatus[row.Stage]
				lastSeen[row.Stage] = row.UpdatedAt
				lastStatus[row.Stage] = row.Status

				writeSSE(w, flusher, "progress", gin.H{
					"stage":    row.Stage,
					"status":   row.Status,
					"progress": row.Progress,
					"message":  row.Message,
					"data":     row.Data,
				})

				if row.Status == domain.StageStatusFailed {
					writeSSE(w, flusher, "error", gin.H{
						"stage":   row.Stage,
						"message": row.Message,
					})
					return
				}
				if row.Status == domain.StageStatusCompleted && prevStatus != domain.StageStatusCompleted {
					writeSSE(w, flusher, "stage-complete", gin.H{
						"stage":    row.Stage,
						"progress": row.Progress,
					})
					if row.Stage == terminalStage {
						writeSSE(w, flusher, "complete", gin.H{
							"deck_id":  deckID,
							"progress": row.Progress,
						})
						return
					}
				}
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	flusher.Flush()
}
