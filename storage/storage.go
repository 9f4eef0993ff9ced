package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/eddielth/telemetry-bridge/logger"
	"github.com/eddielth/telemetry-bridge/transformer"
)

// ErrStore wraps every failure of a storage backend.
var ErrStore = errors.New("store error")

// Store is an append-only sink for telemetry records.
type Store interface {
	// EnsureSchema creates the telemetry table if it does not exist. Idempotent.
	EnsureSchema(ctx context.Context) error
	// Insert appends one record. The timestamp is assigned by the backend.
	Insert(ctx context.Context, record transformer.TelemetryRecord) error
	// Reset deletes every record.
	Reset(ctx context.Context) error
	// Close releases the backend connection.
	Close() error
}

// Manager fans out to several backends and is itself a Store.
type Manager struct {
	backends []Store
	mutex    sync.RWMutex
}

// NewManager creates a new storage manager
func NewManager(backends ...Store) *Manager {
	return &Manager{
		backends: backends,
	}
}

// AddBackend adds a backend
func (m *Manager) AddBackend(backend Store) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.backends = append(m.backends, backend)
}

// Len returns the number of configured backends.
func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.backends)
}

// EnsureSchema runs EnsureSchema on every backend.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	return m.each(func(b Store) error { return b.EnsureSchema(ctx) })
}

// Insert writes the record to every backend. A failing backend does not stop the others.
func (m *Manager) Insert(ctx context.Context, record transformer.TelemetryRecord) error {
	if m.Len() == 0 {
		return fmt.Errorf("%w: no storage backend available", ErrStore)
	}
	return m.each(func(b Store) error { return b.Insert(ctx, record) })
}

// Reset clears every backend.
func (m *Manager) Reset(ctx context.Context) error {
	if m.Len() == 0 {
		return fmt.Errorf("%w: no storage backend available", ErrStore)
	}
	return m.each(func(b Store) error { return b.Reset(ctx) })
}

// Close closes every backend.
func (m *Manager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var errs []error
	for _, backend := range m.backends {
		if err := backend.Close(); err != nil {
			logger.Error("failed to close storage backend: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) each(fn func(Store) error) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var msgs []string
	for _, backend := range m.backends {
		if err := fn(backend); err != nil {
			logger.Error("storage backend failed: %v", err)
			msgs = append(msgs, err.Error())
		}
	}

	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrStore, strings.Join(msgs, "; "))
}

func validateRecord(record transformer.TelemetryRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("%w: record has no device id", ErrStore)
	}
	if record.Button != 0 && record.Button != 1 {
		return fmt.Errorf("%w: button state %d is not 0 or 1", ErrStore, record.Button)
	}
	return nil
}
