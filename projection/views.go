/*
views.go - In-memory view store

PURPOSE:
  Map-backed ViewStore for tests and single-process deployments. The
  sqlite-backed store is the production counterpart.

SEE ALSO:
  - store/sqlite: durable implementation of the same interface
*/
package projection

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/loyalty-engine/ledger"
)

// transferKey scopes transfer rows per account; transfer IDs are only
// unique within one account's stream.
type transferKey struct {
	account  ledger.AccountID
	transfer ledger.TransferID
}

// MemoryViews is a thread-safe in-memory ViewStore.
type MemoryViews struct {
	mu        sync.RWMutex
	transfers map[transferKey]TransferView
	accounts  map[ledger.AccountID]AccountView
}

func NewMemoryViews() *MemoryViews {
	return &MemoryViews{
		transfers: make(map[transferKey]TransferView),
		accounts:  make(map[ledger.AccountID]AccountView),
	}
}

func (m *MemoryViews) SaveTransfer(_ context.Context, view TransferView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[transferKey{view.AccountID, view.TransferID}] = view
	return nil
}

func (m *MemoryViews) GetTransfer(_ context.Context, accountID ledger.AccountID, id ledger.TransferID) (*TransferView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	view, ok := m.transfers[transferKey{accountID, id}]
	if !ok {
		return nil, nil
	}
	return &view, nil
}

func (m *MemoryViews) ListTransfers(_ context.Context, accountID ledger.AccountID) ([]TransferView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var views []TransferView
	for _, view := range m.transfers {
		if view.AccountID == accountID {
			views = append(views, view)
		}
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].TransferID < views[j].TransferID
		}
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views, nil
}

func (m *MemoryViews) SaveAccount(_ context.Context, view AccountView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[view.AccountID] = view
	return nil
}

func (m *MemoryViews) GetAccount(_ context.Context, accountID ledger.AccountID) (*AccountView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	view, ok := m.accounts[accountID]
	if !ok {
		return nil, nil
	}
	return &view, nil
}
