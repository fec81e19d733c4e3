package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slidesmith/deckgen-backend/internal/http/response"
	"github.com/slidesmith/deckgen-backend/internal/platform/apierr"
	"github.com/slidesmith/deckgen-backend/internal/platform/dbctx"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
	"github.com/slidesmith/deckgen-backend/internal/services"
)

type JobHandler struct {
	log  *logger.Logger
	jobs services.JobService
}

func NewJobHandler(baseLog *logger.Logger, jobs services.JobService) *JobHandler {
	return &JobHandler{
		log:  baseLog.With("handler", "JobHandler"),
		jobs: jobs,
	}
}

// Status returns the minimal polling shape. An unknown id is a 404 with code
// job_not_found; it is never presented as a pending job.
func (h *JobHandler) Status(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.GetJobStatus(dbctx.Context{Ctx: c.Request.Context()}, jobID)
	if err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		respondServiceError(c, err)
		return
	}

	out := gin.H{"status": job.Status}
	if job.FailedReason != "" {
		out["failed_reason"] = job.FailedReason
	}
	response.RespondOK(c, out)
}

func (h *JobHandler) Get(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.GetJobForRequestUser(dbctx.Context{Ctx: c.Request.Context()}, jobID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, job)
}

func (h *JobHandler) QueueStatus(c *gin.Context) {
	status, err := h.jobs.GetQueueStatus(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, status)
}
