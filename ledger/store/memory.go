// Package store provides EventStore implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	streams map[ledger.AccountID][]ledger.Event
}

func NewMemory() *Memory {
	return &Memory{streams: make(map[ledger.AccountID][]ledger.Event)}
}

// Append writes events at the expected version. Append-only: a stale
// version leaves the stream untouched.
func (m *Memory) Append(_ context.Context, accountID ledger.AccountID, expectedVersion int, events []ledger.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[accountID]
	if len(stream) != expectedVersion {
		return ledger.ErrConcurrentModification
	}
	m.streams[accountID] = append(stream, events...)
	return nil
}

func (m *Memory) Load(_ context.Context, accountID ledger.AccountID) ([]ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stream, ok := m.streams[accountID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	result := make([]ledger.Event, len(stream))
	copy(result, stream)
	return result, nil
}

func (m *Memory) Exists(_ context.Context, accountID ledger.AccountID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.streams[accountID]
	return ok, nil
}
