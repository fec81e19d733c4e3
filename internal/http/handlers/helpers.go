package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/slidesmith/deckgen-backend/internal/http/response"
	"github.com/slidesmith/deckgen-backend/internal/platform/apierr"
)

func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apierr.ErrNotFound):
		response.RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, apierr.ErrInvalidArgument):
		response.RespondError(c, http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, apierr.ErrUnauthorized):
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", err)
	default:
		response.RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
