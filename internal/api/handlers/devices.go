package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/climate"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/comfortcloud"
)

// DeviceAccess is the part of the device client the handlers use
type DeviceAccess interface {
	Devices(ctx context.Context) ([]climate.Device, error)
	DeviceState(ctx context.Context, guid string) (climate.State, error)
	SetDeviceState(ctx context.Context, guid string, cmd climate.Command) (climate.State, error)
}

// DevicesHandler handles device-related requests
type DevicesHandler struct {
	registry *climate.Registry
	client   DeviceAccess
	logger   *slog.Logger
}

// NewDevicesHandler creates a new devices handler
func NewDevicesHandler(registry *climate.Registry, client DeviceAccess, logger *slog.Logger) *DevicesHandler {
	return &DevicesHandler{
		registry: registry,
		client:   client,
		logger:   logger,
	}
}

// ListDevices returns the cached device inventory with state snapshots
// GET /devices
func (h *DevicesHandler) ListDevices(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Snapshots())
}

// GetDeviceState returns a device's state. By default the poller's cached
// snapshot is served; ?refresh=true forces a live read. A live read that
// fails with an unavailable upstream degrades to the stale snapshot.
// GET /devices/:guid/state?refresh=true
func (h *DevicesHandler) GetDeviceState(c *gin.Context) {
	guid := c.Param("guid")
	refresh := c.Query("refresh") == "true"

	if !refresh {
		if rec, err := h.registry.Snapshot(guid); err == nil && rec.State != nil {
			c.JSON(http.StatusOK, rec)
			return
		}
		// No snapshot yet, fall through to a live read
	}

	state, err := h.client.DeviceState(c.Request.Context(), guid)
	if err != nil {
		if errors.Is(err, comfortcloud.ErrUpstreamUnavailable) {
			if rec, snapErr := h.stale(guid, err); snapErr == nil {
				c.JSON(http.StatusOK, rec)
				return
			}
		}
		h.logger.Error("Failed to read device state",
			"component", "api",
			"device", guid,
			"error", err,
		)
		respondError(c, err)
		return
	}

	if err := h.registry.RecordState(guid, state); err != nil {
		// Device not in the inventory; still return the live reading
		c.JSON(http.StatusOK, climate.Record{
			Device: climate.Device{GUID: guid},
			State:  &state,
		})
		return
	}

	rec, err := h.registry.Snapshot(guid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// SetDeviceState applies a command to a device and returns the resulting
// state after the reconcile read.
// POST /devices/:guid/state
func (h *DevicesHandler) SetDeviceState(c *gin.Context) {
	guid := c.Param("guid")

	var cmd climate.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  "INVALID_BODY",
		})
		return
	}
	if cmd.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Command must change at least one setting",
			"code":  "EMPTY_COMMAND",
		})
		return
	}
	if err := cmd.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"code":  "INVALID_COMMAND",
		})
		return
	}

	state, err := h.client.SetDeviceState(c.Request.Context(), guid, cmd)
	if err != nil {
		h.logger.Error("Failed to apply device command",
			"component", "api",
			"device", guid,
			"error", err,
		)
		respondError(c, err)
		return
	}

	// Keep the shared cache in sync; unknown devices just return the state
	_ = h.registry.RecordState(guid, state)

	c.JSON(http.StatusOK, gin.H{
		"device": guid,
		"state":  state,
	})
}

// stale marks the device failed and returns its last known snapshot
func (h *DevicesHandler) stale(guid string, cause error) (climate.Record, error) {
	if err := h.registry.RecordFailure(guid, cause); err != nil {
		return climate.Record{}, err
	}
	rec, err := h.registry.Snapshot(guid)
	if err != nil {
		return climate.Record{}, err
	}
	if rec.State == nil {
		return climate.Record{}, errors.New("no cached state")
	}
	return rec, nil
}
