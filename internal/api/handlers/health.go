package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// QueueStats reports the load on the upstream admission gate
type QueueStats interface {
	QueueStats() (waiting, inflight int)
}

// HealthHandler handles health check requests
type HealthHandler struct {
	queue QueueStats
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(queue QueueStats) *HealthHandler {
	return &HealthHandler{queue: queue}
}

// GetHealth returns the health status of the service
// GET /health
func (h *HealthHandler) GetHealth(c *gin.Context) {
	waiting, inflight := h.queue.QueueStats()
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"service": "ccbridge",
		"queue": gin.H{
			"waiting":  waiting,
			"inflight": inflight,
		},
	})
}
