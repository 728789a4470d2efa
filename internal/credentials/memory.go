// Package credentials provides the pluggable session stores: in-memory for
// tests and throwaway runs, a JSON file for single-host deployments, and
// Redis for deployments without a durable disk.
package credentials

import (
	"context"
	"sync"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/comfortcloud"
)

// MemoryStore keeps the session in process memory. It is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	session *comfortcloud.Session
}

var _ comfortcloud.SessionStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored session, or (nil, nil) when empty.
func (m *MemoryStore) Load(ctx context.Context) (*comfortcloud.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil {
		return nil, nil
	}
	copied := *m.session
	return &copied, nil
}

// Save stores a copy of the session
func (m *MemoryStore) Save(ctx context.Context, session *comfortcloud.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *session
	m.session = &copied
	return nil
}

// Clear removes the stored session
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = nil
	return nil
}
