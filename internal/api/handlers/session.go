package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/comfortcloud"
)

// SessionControl exposes session inspection and forced refresh
type SessionControl interface {
	CurrentSession(ctx context.Context) *comfortcloud.Session
	RefreshSession(ctx context.Context) error
}

// SessionHandler handles Comfort Cloud session requests
type SessionHandler struct {
	sessions SessionControl
	logger   *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions SessionControl, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// GetSession reports the current session without exposing tokens
// GET /session
func (h *SessionHandler) GetSession(c *gin.Context) {
	session := h.sessions.CurrentSession(c.Request.Context())
	if session == nil {
		c.JSON(http.StatusOK, gin.H{
			"authenticated": false,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated":    true,
		"expiresAt":        session.ExpiresAt,
		"remainingSeconds": int(session.Remaining().Round(time.Second).Seconds()),
		"clientId":         session.ClientID,
	})
}

// RefreshSession forces a token refresh regardless of remaining lifetime
// POST /session/refresh
func (h *SessionHandler) RefreshSession(c *gin.Context) {
	if err := h.sessions.RefreshSession(c.Request.Context()); err != nil {
		h.logger.Error("Forced session refresh failed",
			"component", "api",
			"error", err,
		)
		respondError(c, err)
		return
	}

	h.GetSession(c)
}
