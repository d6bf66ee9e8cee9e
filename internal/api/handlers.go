// Package api serves the approval, settings and job-trigger routes.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"draftdesk/internal/approval"
	"draftdesk/internal/jobs"
	"draftdesk/internal/models"
	"draftdesk/pkg/auth"
	"draftdesk/pkg/logging"
)

type Approvals interface {
	ListPending(ctx context.Context, owner string, lane models.Lane) ([]models.DraftedItem, error)
	ApplyAction(ctx context.Context, owner, sourceID string, lane models.Lane, action approval.Action, text string) (approval.Result, error)
}

type JobQueue interface {
	EnqueueFanOut(ctx context.Context, trigger jobs.Trigger) (jobs.Job, error)
	EnqueueUser(ctx context.Context, userID string, trigger jobs.Trigger) ([]jobs.Job, error)
	EnqueueStats(ctx context.Context, userID string, trigger jobs.Trigger) (jobs.Job, error)
	EnqueuePersona(ctx context.Context, userID string, trigger jobs.Trigger) (jobs.Job, error)
	Get(ctx context.Context, id string) (jobs.Job, error)
}

type Handler struct {
	Approvals Approvals
	Settings  Settings
	Jobs      JobQueue
	Logger    logging.Logger
}

func NewHandler(approvals Approvals, settings Settings, queue JobQueue, logger logging.Logger) *Handler {
	return &Handler{Approvals: approvals, Settings: settings, Jobs: queue, Logger: logger}
}

// RegisterRoutes mounts user routes behind JWT auth and job routes behind the
// service token.
func RegisterRoutes(router gin.IRouter, h *Handler, jwtSecret []byte, serviceToken string) {
	v1 := router.Group("/api/v1")

	drafts := v1.Group("/drafts", auth.JWTAuthMiddleware(jwtSecret))
	drafts.GET("", h.ListDrafts)
	drafts.POST("/:source_id/actions", h.ApplyAction)

	prefs := v1.Group("/settings", auth.JWTAuthMiddleware(jwtSecret))
	prefs.GET("", h.GetSettings)
	prefs.PUT("/keywords", h.UpdateKeywords)
	prefs.PUT("/tracked-accounts", h.UpdateTrackedAccounts)
	prefs.PUT("/credentials", h.UpdateCredentials)
	prefs.POST("/credentials/verify", h.VerifyCredentials)

	ops := v1.Group("/jobs", auth.ServiceAuthMiddleware(serviceToken))
	ops.POST("/fan-out", h.TriggerFanOut)
	ops.POST("/users/:user_id", h.TriggerUser)
	ops.POST("/users/:user_id/stats", h.TriggerStats)
	ops.POST("/users/:user_id/persona", h.TriggerPersona)
	ops.GET("/:id", h.GetJob)
}

type ActionRequest struct {
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
	Lane   string `json:"lane,omitempty"`
}

func parseLane(raw string) (models.Lane, bool) {
	switch models.Lane(strings.ToLower(strings.TrimSpace(raw))) {
	case "", models.LaneReply:
		return models.LaneReply, true
	case models.LaneRewrite:
		return models.LaneRewrite, true
	}
	return "", false
}

func (h *Handler) ListDrafts(c *gin.Context) {
	owner := auth.UserID(c)
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id missing"})
		return
	}
	lane, ok := parseLane(c.Query("lane"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lane must be reply or rewrite"})
		return
	}

	items, err := h.Approvals.ListPending(c.Request.Context(), owner, lane)
	if err != nil {
		h.Logger.WithError(err).WithField("user_id", owner).Error("Failed to list pending drafts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list drafts"})
		return
	}
	if items == nil {
		items = []models.DraftedItem{}
	}
	c.JSON(http.StatusOK, gin.H{"lane": lane, "drafts": items, "count": len(items)})
}

func (h *Handler) ApplyAction(c *gin.Context) {
	owner := auth.UserID(c)
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id missing"})
		return
	}
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	lane, ok := parseLane(req.Lane)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lane must be reply or rewrite"})
		return
	}

	sourceID := c.Param("source_id")
	res, err := h.Approvals.ApplyAction(c.Request.Context(), owner, sourceID, lane, approval.Action(req.Action), req.Text)
	if err != nil {
		status := actionStatus(err)
		if status >= http.StatusInternalServerError {
			h.Logger.WithError(err).WithFields(logging.Fields{
				"user_id":   owner,
				"source_id": sourceID,
				"action":    req.Action,
			}).Error("Draft action failed")
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

func actionStatus(err error) int {
	switch {
	case errors.Is(err, approval.ErrNotPending):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrDraftMissing),
		errors.Is(err, approval.ErrEditTextRequired),
		errors.Is(err, approval.ErrUnknownAction),
		errors.Is(err, approval.ErrMissingCredentials):
		return http.StatusBadRequest
	case errors.Is(err, approval.ErrPostFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) TriggerFanOut(c *gin.Context) {
	job, err := h.Jobs.EnqueueFanOut(c.Request.Context(), jobs.TriggerManual)
	if err != nil {
		h.enqueueFailed(c, err, "")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (h *Handler) TriggerUser(c *gin.Context) {
	userID := c.Param("user_id")
	queued, err := h.Jobs.EnqueueUser(c.Request.Context(), userID, jobs.TriggerManual)
	if err != nil {
		h.enqueueFailed(c, err, userID)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobs": queued})
}

func (h *Handler) TriggerStats(c *gin.Context) {
	userID := c.Param("user_id")
	job, err := h.Jobs.EnqueueStats(c.Request.Context(), userID, jobs.TriggerManual)
	if err != nil {
		h.enqueueFailed(c, err, userID)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (h *Handler) TriggerPersona(c *gin.Context) {
	userID := c.Param("user_id")
	job, err := h.Jobs.EnqueuePersona(c.Request.Context(), userID, jobs.TriggerManual)
	if err != nil {
		h.enqueueFailed(c, err, userID)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.Jobs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, jobs.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		h.Logger.WithError(err).WithField("job_id", c.Param("id")).Error("Failed to load job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (h *Handler) enqueueFailed(c *gin.Context, err error, userID string) {
	h.Logger.WithError(err).WithField("user_id", userID).Error("Failed to enqueue job")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue job"})
}
