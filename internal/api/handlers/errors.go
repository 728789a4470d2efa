package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/comfortcloud"
)

// statusForError maps access layer failures onto HTTP statuses. Everything
// the upstream caused is a gateway-class error; local overload maps to 429.
func statusForError(err error) (int, string, string) {
	switch {
	case errors.Is(err, comfortcloud.ErrQueueFull):
		return http.StatusTooManyRequests, "QUEUE_FULL", "Too many queued upstream requests"
	case errors.Is(err, comfortcloud.ErrUpstreamUnavailable):
		return http.StatusGatewayTimeout, "UPSTREAM_UNAVAILABLE", "Comfort Cloud is unavailable"
	case errors.Is(err, comfortcloud.ErrAuthRequired):
		return http.StatusBadGateway, "AUTHENTICATION_REQUIRED", "No Comfort Cloud session and no credentials configured"
	case errors.Is(err, comfortcloud.ErrAuthFailed):
		return http.StatusBadGateway, "AUTHENTICATION_FAILED", "Comfort Cloud rejected the configured credentials"
	case errors.Is(err, comfortcloud.ErrRequestFailed):
		return http.StatusBadGateway, "UPSTREAM_REQUEST_FAILED", "Comfort Cloud request failed"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
	}
}

// respondError writes the JSON error body for an upstream failure
func respondError(c *gin.Context, err error) {
	status, code, message := statusForError(err)
	c.JSON(status, gin.H{
		"error": message,
		"code":  code,
	})
}
