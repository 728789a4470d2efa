// Package telemetry streams climate readings into InfluxDB for dashboards
// and history. Writes are batched and asynchronous; a telemetry outage
// never slows down polling or commands.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/climate"
)

const (
	measurementClimate = "climate_state"

	defaultBatchSize   = 50
	flushIntervalMS    = 10_000
	defaultPingTimeout = 5 * time.Second
)

// Config holds the InfluxDB connection settings
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Recorder writes device state points through the non-blocking write API
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger
}

// NewRecorder creates a recorder. Connectivity is not verified here: the
// write API buffers and retries on its own, and write failures surface
// through the error channel as log lines.
func NewRecorder(cfg Config, logger *slog.Logger) *Recorder {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(defaultBatchSize).
			SetFlushInterval(flushIntervalMS))

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	r := &Recorder{
		client:   client,
		writeAPI: writeAPI,
		logger:   logger,
	}
	go r.drainWriteErrors(writeAPI.Errors())

	return r
}

// drainWriteErrors logs async write failures. The channel closes when the
// client is closed.
func (r *Recorder) drainWriteErrors(errs <-chan error) {
	for err := range errs {
		r.logger.Warn("influxdb write failed", "error", err)
	}
}

// RecordState writes one point for a device snapshot. Snapshots without a
// state yet are skipped.
func (r *Recorder) RecordState(rec climate.Record) {
	if rec.State == nil {
		return
	}

	tags := map[string]string{
		"device": rec.Device.GUID,
		"name":   rec.Device.Name,
	}
	fields := map[string]interface{}{
		"power":              rec.State.Power,
		"mode":               string(rec.State.Mode),
		"target_temperature": rec.State.TargetTemperature,
	}
	if rec.State.IndoorTemperature != nil {
		fields["indoor_temperature"] = *rec.State.IndoorTemperature
	}
	if rec.State.OutdoorTemperature != nil {
		fields["outdoor_temperature"] = *rec.State.OutdoorTemperature
	}

	ts := rec.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	r.writeAPI.WritePoint(write.NewPoint(measurementClimate, tags, fields, ts))
}

// RecordAll writes a point for every snapshot
func (r *Recorder) RecordAll(recs []climate.Record) {
	for _, rec := range recs {
		r.RecordState(rec)
	}
}

// Ping checks server health, for readiness reporting
func (r *Recorder) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := r.client.Ping(pingCtx)
	if err != nil {
		return fmt.Errorf("influxdb ping failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb server not healthy")
	}
	return nil
}

// Close flushes buffered points and shuts the client down
func (r *Recorder) Close() {
	r.writeAPI.Flush()
	if r.client != nil {
		r.client.Close()
	}
}
