package climate

import (
	"fmt"
	"sync"
	"time"
)

// Record is the cached view of one device: its inventory entry, the last
// state snapshot the poller managed to fetch, and the last failure if the
// most recent attempts did not succeed. Consumers keep working from State
// while the upstream is down; Stale tells them it is old news.
type Record struct {
	Device    Device     `json:"device"`
	State     *State     `json:"state,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt,omitempty"`
	Stale     bool       `json:"stale"`
	LastError string     `json:"lastError,omitempty"`
	FailedAt  *time.Time `json:"failedAt,omitempty"`
}

// Registry caches the device inventory and per-device state snapshots
type Registry struct {
	records map[string]*Record // device GUID -> record
	order   []string           // GUIDs in discovery order
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
	}
}

// SetDevices replaces the device inventory. State snapshots of devices that
// are still present survive the update; removed devices are dropped.
func (r *Registry) SetDevices(devices []Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make(map[string]*Record, len(devices))
	order := make([]string, 0, len(devices))
	for _, device := range devices {
		record := &Record{Device: device}
		if prev, exists := r.records[device.GUID]; exists {
			record.State = prev.State
			record.UpdatedAt = prev.UpdatedAt
			record.Stale = prev.Stale
			record.LastError = prev.LastError
			record.FailedAt = prev.FailedAt
		}
		records[device.GUID] = record
		order = append(order, device.GUID)
	}
	r.records = records
	r.order = order
}

// Devices returns the inventory in discovery order
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.order))
	for _, guid := range r.order {
		devices = append(devices, r.records[guid].Device)
	}
	return devices
}

// Device retrieves one inventory entry by GUID
func (r *Registry) Device(guid string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[guid]
	if !exists {
		return Device{}, fmt.Errorf("device %s not found", guid)
	}
	return record.Device, nil
}

// RecordState stores a fresh state snapshot for a device and clears any
// failure marker.
func (r *Registry) RecordState(guid string, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[guid]
	if !exists {
		return fmt.Errorf("device %s not found", guid)
	}
	snapshot := state
	record.State = &snapshot
	record.UpdatedAt = time.Now()
	record.Stale = false
	record.LastError = ""
	record.FailedAt = nil
	return nil
}

// RecordFailure marks a device's snapshot as stale after a fetch failed. The
// last good state stays available.
func (r *Registry) RecordFailure(guid string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[guid]
	if !exists {
		return fmt.Errorf("device %s not found", guid)
	}
	now := time.Now()
	record.Stale = true
	record.LastError = cause.Error()
	record.FailedAt = &now
	return nil
}

// Snapshot returns a copy of one device's record
func (r *Registry) Snapshot(guid string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[guid]
	if !exists {
		return Record{}, fmt.Errorf("device %s not found", guid)
	}
	return copyRecord(record), nil
}

// Snapshots returns copies of all records in discovery order
func (r *Registry) Snapshots() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]Record, 0, len(r.order))
	for _, guid := range r.order {
		snapshots = append(snapshots, copyRecord(r.records[guid]))
	}
	return snapshots
}

func copyRecord(record *Record) Record {
	copied := *record
	if record.State != nil {
		state := *record.State
		copied.State = &state
	}
	if record.FailedAt != nil {
		at := *record.FailedAt
		copied.FailedAt = &at
	}
	return copied
}
