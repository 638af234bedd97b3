// internal/httpapi/jobs.handler.go
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Leiito98/glowshot-ledger/internal/jobs"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type JobService interface {
	SubmitJob(ctx context.Context, userID, inputRef, triggerWord string) (*jobs.TrainingJob, error)
	PollStatus(ctx context.Context, jobID string) (jobs.JobView, error)
	OnCallback(ctx context.Context, cb jobs.Callback) error
}

// CallbackVerifier authenticates trainer callbacks. Satisfied by
// replicate.Verifier.
type CallbackVerifier interface {
	Verify(h http.Header, body []byte) error
}

type submitJobRequest struct {
	InputRef    string `json:"inputRef"`
	TriggerWord string `json:"triggerWord"`
}

func (h *handlers) submitJob(c *gin.Context) {
	var req submitJobRequest
	if !bindJSON(c, &req) {
		return
	}
	job, err := h.jobs.SubmitJob(c.Request.Context(), callerID(c), req.InputRef, req.TriggerWord)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": job.TrainingID, "status": job.Status})
}

// pollJob never reveals another user's job: it reads as not_found.
func (h *handlers) pollJob(c *gin.Context) {
	jobID := c.Param("id")
	view, err := h.jobs.PollStatus(c.Request.Context(), jobID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if view.Status != jobs.StatusNotFound && view.OwnerID != callerID(c) {
		view = jobs.JobView{JobID: jobID, Status: jobs.StatusNotFound}
	}
	c.JSON(http.StatusOK, view)
}

func (h *handlers) replicateWebhook(c *gin.Context) {
	body, ok := readWebhookBody(c, h.logger)
	if !ok {
		return
	}
	if h.callbackVerifier != nil {
		if err := h.callbackVerifier.Verify(c.Request.Header, body); err != nil {
			h.logger.Warn("trainer callback rejected", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	var cb jobs.Callback
	if err := json.Unmarshal(body, &cb); err != nil || cb.ID == "" {
		if err == nil {
			err = errors.New("missing id")
		}
		h.logger.Warn("malformed trainer callback", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed callback"})
		return
	}

	if err := h.jobs.OnCallback(c.Request.Context(), cb); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "callback not applied"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
