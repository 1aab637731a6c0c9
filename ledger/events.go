/*
events.go - The durable event vocabulary of the points ledger

PURPOSE:
  Every ledger mutation is recorded as exactly one of these events before
  any read model reflects it. The event stream per account is the source
  of truth; Account (account.go) is rebuilt by replaying it, and the
  projections (projection package) consume it asynchronously.

DETERMINISM:
  Each event carries its occurrence time (At). The reducer evaluates all
  derived state (locked/expired/active) against event time, never against
  the wall clock, so replaying the same history twice yields bit-identical
  balances.

SEE ALSO:
  - account.go: apply() reducer over these events
  - store/sqlite: durable append-only event store
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind discriminates the event union for persistence and dispatch.
type EventKind string

const (
	EventAccountCreated   EventKind = "account_created"
	EventPointsAdded      EventKind = "points_added"
	EventPointsSpent      EventKind = "points_spent"
	EventTransferCanceled EventKind = "transfer_canceled"
	EventTransferExpired  EventKind = "transfer_expired"
	EventTransferUnlocked EventKind = "transfer_unlocked"
	EventPointsReset      EventKind = "points_reset"
)

// Event is implemented by every ledger event. Concrete events are plain
// structs; the store serializes them by Kind.
type Event interface {
	Kind() EventKind
	Account() AccountID
	OccurredAt() time.Time
}

// =============================================================================
// EVENTS
// =============================================================================

type AccountCreated struct {
	AccountID  AccountID
	CustomerID CustomerID
	At         time.Time
}

type PointsAdded struct {
	AccountID     AccountID
	TransferID    TransferID
	Value         decimal.Decimal
	ExpiresAt     *time.Time
	LockedUntil   *time.Time
	TransactionID string
	Comment       string
	Issuer        string
	At            time.Time
}

type PointsSpent struct {
	AccountID            AccountID
	TransferID           TransferID
	Value                decimal.Decimal
	TransactionID        string
	RevisedTransactionID string
	Comment              string
	Issuer               string
	At                   time.Time
}

type TransferCanceled struct {
	AccountID  AccountID
	TransferID TransferID
	At         time.Time
}

type TransferExpired struct {
	AccountID  AccountID
	TransferID TransferID
	At         time.Time
}

type TransferUnlocked struct {
	AccountID  AccountID
	TransferID TransferID
	At         time.Time
}

type PointsReset struct {
	AccountID AccountID
	At        time.Time
}

func (e AccountCreated) Kind() EventKind   { return EventAccountCreated }
func (e PointsAdded) Kind() EventKind      { return EventPointsAdded }
func (e PointsSpent) Kind() EventKind      { return EventPointsSpent }
func (e TransferCanceled) Kind() EventKind { return EventTransferCanceled }
func (e TransferExpired) Kind() EventKind  { return EventTransferExpired }
func (e TransferUnlocked) Kind() EventKind { return EventTransferUnlocked }
func (e PointsReset) Kind() EventKind      { return EventPointsReset }

func (e AccountCreated) Account() AccountID   { return e.AccountID }
func (e PointsAdded) Account() AccountID      { return e.AccountID }
func (e PointsSpent) Account() AccountID      { return e.AccountID }
func (e TransferCanceled) Account() AccountID { return e.AccountID }
func (e TransferExpired) Account() AccountID  { return e.AccountID }
func (e TransferUnlocked) Account() AccountID { return e.AccountID }
func (e PointsReset) Account() AccountID      { return e.AccountID }

func (e AccountCreated) OccurredAt() time.Time   { return e.At }
func (e PointsAdded) OccurredAt() time.Time      { return e.At }
func (e PointsSpent) OccurredAt() time.Time      { return e.At }
func (e TransferCanceled) OccurredAt() time.Time { return e.At }
func (e TransferExpired) OccurredAt() time.Time  { return e.At }
func (e TransferUnlocked) OccurredAt() time.Time { return e.At }
func (e PointsReset) OccurredAt() time.Time      { return e.At }
