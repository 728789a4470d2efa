// Package bridge mirrors Comfort Cloud devices onto an MQTT broker. Each
// device gets a retained state topic and an availability topic, and
// commands published to the per-device set topic are applied upstream.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/climate"
)

// commandTimeout bounds a single MQTT command end to end, including queue
// time and upstream retries.
const commandTimeout = 2 * time.Minute

// publisher is the part of Conn the bridge talks to
type publisher interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler MessageHandler) error
}

// DeviceWriter applies a command upstream and returns the resulting state
type DeviceWriter interface {
	SetDeviceState(ctx context.Context, guid string, cmd climate.Command) (climate.State, error)
}

// stateMessage is the payload published on the state topic
type stateMessage struct {
	climate.State
	UpdatedAt time.Time `json:"updatedAt"`
	Stale     bool      `json:"stale,omitempty"`
}

// Bridge routes device snapshots out to MQTT and set-topic commands back
// into the device writer.
type Bridge struct {
	conn     publisher
	writer   DeviceWriter
	registry *climate.Registry
	topics   Topics
	logger   *slog.Logger
}

// New creates a bridge. The registry is the source of known devices and
// their cached states.
func New(conn publisher, writer DeviceWriter, registry *climate.Registry, topics Topics, logger *slog.Logger) *Bridge {
	return &Bridge{
		conn:     conn,
		writer:   writer,
		registry: registry,
		topics:   topics,
		logger:   logger,
	}
}

// Start subscribes to the command topics of all devices
func (b *Bridge) Start() error {
	if err := b.conn.Subscribe(b.topics.SetWildcard(), b.handleCommand); err != nil {
		return fmt.Errorf("failed to subscribe to command topics: %w", err)
	}
	return nil
}

// PublishRecord publishes a device snapshot: its availability, and when a
// state is known, the retained state message.
func (b *Bridge) PublishRecord(rec climate.Record) error {
	segment := DeviceSegment(rec.Device.GUID)

	availability := statusOnline
	if rec.Stale {
		availability = statusOffline
	}
	if err := b.conn.Publish(b.topics.Availability(segment), []byte(availability), true); err != nil {
		return err
	}

	if rec.State == nil {
		return nil
	}

	payload, err := json.Marshal(stateMessage{
		State:     *rec.State,
		UpdatedAt: rec.UpdatedAt,
		Stale:     rec.Stale,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal state for %s: %w", rec.Device.GUID, err)
	}
	return b.conn.Publish(b.topics.State(segment), payload, true)
}

// PublishAll publishes every registry snapshot, logging failures per device
// so one unreachable topic does not stop the rest.
func (b *Bridge) PublishAll() {
	for _, rec := range b.registry.Snapshots() {
		if err := b.PublishRecord(rec); err != nil {
			b.logger.Warn("failed to publish device snapshot",
				"device", rec.Device.GUID,
				"error", err)
		}
	}
}

// handleCommand applies a set-topic payload to its device. Malformed or
// unroutable messages are dropped with a log line; the returned error is
// logged by the connection wrapper.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	segment := b.topics.SegmentFromSet(topic)
	if segment == "" {
		return fmt.Errorf("ignoring message on unexpected topic %s", topic)
	}

	device, ok := b.resolveSegment(segment)
	if !ok {
		return fmt.Errorf("ignoring command for unknown device topic %s", segment)
	}

	var cmd climate.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("discarding malformed command for %s: %w", device.GUID, err)
	}
	if cmd.IsZero() {
		return fmt.Errorf("discarding empty command for %s", device.GUID)
	}
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("discarding invalid command for %s: %w", device.GUID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	state, err := b.writer.SetDeviceState(ctx, device.GUID, cmd)
	if err != nil {
		return fmt.Errorf("failed to apply command for %s: %w", device.GUID, err)
	}

	b.logger.Info("applied MQTT command", "device", device.GUID)

	// The device can disappear from the inventory between resolve and
	// record; the upstream write already happened, so just skip republish.
	if err := b.registry.RecordState(device.GUID, state); err != nil {
		return err
	}
	rec, err := b.registry.Snapshot(device.GUID)
	if err != nil {
		return err
	}
	return b.PublishRecord(rec)
}

// resolveSegment finds the registered device whose GUID maps to segment
func (b *Bridge) resolveSegment(segment string) (climate.Device, bool) {
	for _, d := range b.registry.Devices() {
		if DeviceSegment(d.GUID) == segment {
			return d, true
		}
	}
	return climate.Device{}, false
}
