package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/poller"
)

// PollerInfo exposes the scheduled task table
type PollerInfo interface {
	Tasks() []poller.TaskInfo
}

// PollerHandler reports on the polling schedule
type PollerHandler struct {
	poller PollerInfo
}

// NewPollerHandler creates a new poller handler
func NewPollerHandler(p PollerInfo) *PollerHandler {
	return &PollerHandler{poller: p}
}

// ListTasks returns every registered poll task with its state
// GET /poller/tasks
func (h *PollerHandler) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tasks": h.poller.Tasks(),
	})
}
