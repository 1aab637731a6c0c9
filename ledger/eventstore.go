/*
eventstore.go - Persistence interface for the account event stream

PURPOSE:
  Defines the interface between the ledger and the database. The store is
  APPEND-ONLY: events are never updated or deleted. Optimistic concurrency
  is enforced at append time - the caller states the version of history it
  observed, and a stale version is rejected so the caller can reload and
  retry. A failed append writes nothing.

IMPLEMENTATIONS:
  - store/sqlite:     durable store, (account_id, version) unique
  - ledger/store:     in-memory store for tests and dev
*/
package ledger

import "context"

// EventStore persists account event streams.
// IMPORTANT: append-only. No update, no delete. Ever.
type EventStore interface {
	// Append writes events for the account, expecting history to currently
	// hold expectedVersion events. Returns ErrConcurrentModification when
	// another writer got there first; nothing is written in that case.
	Append(ctx context.Context, accountID AccountID, expectedVersion int, events []Event) error

	// Load returns the account's full history in append order.
	// Returns ErrAccountNotFound for an unknown account.
	Load(ctx context.Context, accountID AccountID) ([]Event, error)

	// Exists reports whether the account has any history.
	Exists(ctx context.Context, accountID AccountID) (bool, error)
}

// EventSink receives committed events for asynchronous consumption by the
// read side. Publish is called after a successful append, in append order.
type EventSink interface {
	Publish(events []Event)
}
