package remote

import (
	"context"
	"sync"

	"pinnit-go/internal/pinnit"
)

// MemoryRemote is an in-memory pin table keyed by identity ID, useful for
// tests. Failures can be injected into each phase of a call.
// This implementation is safe for concurrent use.
type MemoryRemote struct {
	mu    sync.Mutex
	rows  map[string][]pinnit.Pin
	calls map[string]int

	fetchErr  error
	deleteErr error
	insertErr error
}

// NewMemoryRemote creates an empty in-memory remote.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		rows:  make(map[string][]pinnit.Pin),
		calls: make(map[string]int),
	}
}

// FetchAll returns the identity's rows, newest first.
func (m *MemoryRemote) FetchAll(ctx context.Context, identity pinnit.Identity) ([]pinnit.Pin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls["fetch"]++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return pinnit.SortPins(m.rows[identity.ID]), nil
}

// ReplaceAll deletes the identity's rows and inserts pins. An injected
// insert failure leaves the partition empty, as a real remote would.
func (m *MemoryRemote) ReplaceAll(ctx context.Context, identity pinnit.Identity, pins []pinnit.Pin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls["replace"]++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.rows, identity.ID)

	if m.insertErr != nil {
		return m.insertErr
	}
	m.rows[identity.ID] = append([]pinnit.Pin(nil), pins...)
	return nil
}

// Seed sets the identity's rows directly.
func (m *MemoryRemote) Seed(identityID string, pins []pinnit.Pin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[identityID] = append([]pinnit.Pin(nil), pins...)
}

// Rows returns a copy of the identity's rows in insertion order.
func (m *MemoryRemote) Rows(identityID string) []pinnit.Pin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pinnit.Pin(nil), m.rows[identityID]...)
}

// FailFetch makes FetchAll return err. nil clears the failure.
func (m *MemoryRemote) FailFetch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// FailDelete makes ReplaceAll fail before deleting anything.
func (m *MemoryRemote) FailDelete(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// FailInsert makes ReplaceAll fail after the delete phase.
func (m *MemoryRemote) FailInsert(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertErr = err
}

// Calls returns how many times op ("fetch" or "replace") was invoked.
func (m *MemoryRemote) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Compile-time check that MemoryRemote implements pinnit.RemoteStore
var _ pinnit.RemoteStore = (*MemoryRemote)(nil)
