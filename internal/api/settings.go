package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"draftdesk/internal/approval"
	"draftdesk/internal/models"
	"draftdesk/internal/poster"
	"draftdesk/internal/settings"
	"draftdesk/internal/store"
	"draftdesk/pkg/auth"
)

type Settings interface {
	Get(ctx context.Context, owner string) (settings.Settings, error)
	UpdateKeywords(ctx context.Context, owner string, keywords []string) ([]string, error)
	UpdateTrackedAccounts(ctx context.Context, owner string, handles []string) (settings.TrackedUpdate, error)
	UpdateCredentials(ctx context.Context, owner, handle string, creds models.Credentials) (settings.CredentialsUpdate, error)
	VerifyCredentials(ctx context.Context, owner string) (poster.Identity, error)
}

type KeywordsRequest struct {
	Keywords []string `json:"keywords"`
}

type TrackedAccountsRequest struct {
	Handles []string `json:"handles"`
}

type CredentialsRequest struct {
	Handle            string `json:"handle"`
	ClientID          string `json:"client_id"`
	ClientSecret      string `json:"client_secret"`
	AccessToken       string `json:"access_token"`
	AccessTokenSecret string `json:"access_token_secret"`
}

func settingsStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, settings.ErrInvalidInput),
		errors.Is(err, approval.ErrMissingCredentials):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) settingsFailed(c *gin.Context, err error, owner, op string) {
	status := settingsStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.WithError(err).WithField("user_id", owner).Error(op + " failed")
		c.JSON(status, gin.H{"success": false, "error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func (h *Handler) GetSettings(c *gin.Context) {
	owner := auth.UserID(c)
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id missing"})
		return
	}
	out, err := h.Settings.Get(c.Request.Context(), owner)
	if err != nil {
		h.settingsFailed(c, err, owner, "Load settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": out})
}

func (h *Handler) UpdateKeywords(c *gin.Context) {
	owner := auth.UserID(c)
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id missing"})
		return
	}
	var req KeywordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	keywords, err := h.Settings.UpdateKeywords(c.Request.Context(), owner, req.Keywords)
	if err != nil {
		h.settingsFailed(c, err, owner, "Update keywords")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "keywords": keywords})
}

func (h *Handler) UpdateTrackedAccounts(c *gin.Context) {
	owner := auth.UserID(c)
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id missing"})
		return
	}
	var req TrackedAccountsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	res, err := h.Settings.UpdateTrackedAccounts(c.Request.Context(), owner, req.Handles)
	if err != nil {
		h.settingsFailed(c, err, owner, "Update tracked accounts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

func (h *Handler) UpdateCredentials(c *gin.Context) {
	owner := auth.UserID(c)
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id missing"})
		return
	}
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	res, err := h.Settings.UpdateCredentials(c.Request.Context(), owner, req.Handle, models.Credentials{
		ClientID:          req.ClientID,
		ClientSecret:      req.ClientSecret,
		AccessToken:       req.AccessToken,
		AccessTokenSecret: req.AccessTokenSecret,
	})
	if err != nil {
		h.settingsFailed(c, err, owner, "Update credentials")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

// VerifyCredentials reports a rejection by the X API as valid=false rather
// than an error status.
func (h *Handler) VerifyCredentials(c *gin.Context) {
	owner := auth.UserID(c)
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id missing"})
		return
	}
	id, err := h.Settings.VerifyCredentials(c.Request.Context(), owner)
	var apiErr *poster.APIError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"valid": true, "identity": id})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": apiErr.Error()})
	case settingsStatus(err) < http.StatusInternalServerError:
		h.settingsFailed(c, err, owner, "Verify credentials")
	default:
		h.Logger.WithError(err).WithField("user_id", owner).Warn("Credential check failed")
		c.JSON(http.StatusBadGateway, gin.H{"valid": false, "error": "could not reach the X API"})
	}
}
