/*
transfer.go - Transfer records: the entries of the points ledger

PURPOSE:
  A transfer is one entry in a customer's points ledger. There are exactly
  two kinds:
    Addition  - points earned (purchase, event, manual grant)
    Deduction - points spent (redemption, coupon purchase)

  Records are immutable value types. The ledger never edits a record in
  place from the outside; state changes happen only by the aggregate
  deriving a new record value for the same TransferID while applying an
  event (see account.go).

ADDITION LIFECYCLE:
  An addition starts with availableAmount == value. Spending draws the
  available amount down (FIFO, oldest first). Independently of spending,
  an addition can be:
    locked   - lockedUntil is in the future; points exist but cannot be spent
    expired  - explicitly expired, or expiresAt has passed; available amount
               is frozen and permanently excluded from balance
    canceled - withdrawn by an operator; same exclusion, different bookkeeping

  Deductions have no lifecycle. A wrong deduction is corrected by a new
  addition referencing the revised transaction, never by mutating the
  deduction.

SEE ALSO:
  - account.go: The aggregate owning the ordered record collection
  - events.go:  The events that create and transition records
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type CustomerID string
type TransferID string

// =============================================================================
// TRANSFER STATE
// =============================================================================

// TransferState is the derived lifecycle state of an addition record.
type TransferState string

const (
	StateActive   TransferState = "active"
	StateLocked   TransferState = "locked"
	StateExpired  TransferState = "expired"
	StateCanceled TransferState = "canceled"
	// StateDrained marks an addition whose available amount reached zero
	// through spending. It is still a "non-canceled earned" record for
	// lifetime queries, it just contributes nothing to balance.
	StateDrained TransferState = "drained"
)

// =============================================================================
// ADDITION - earned points
// =============================================================================

// Addition is an earning entry. Value is what was originally awarded;
// Available is what remains spendable after FIFO allocation.
type Addition struct {
	ID            TransferID
	Value         decimal.Decimal
	Available     decimal.Decimal
	CreatedAt     time.Time
	ExpiresAt     *time.Time
	LockedUntil   *time.Time
	Canceled      bool
	ExpiredByCmd  bool // explicitly expired (ExpireTransfer / ResetAt)
	Comment       string
	Issuer        string
	TransactionID string
}

// IsExpired reports whether the addition is expired at the given instant,
// either explicitly or because its expiry date has passed. State checks take
// an explicit instant so that replaying history is deterministic.
func (a Addition) IsExpired(at time.Time) bool {
	if a.ExpiredByCmd {
		return true
	}
	return a.ExpiresAt != nil && !a.ExpiresAt.After(at)
}

// IsLocked reports whether the addition is locked at the given instant.
// Canceled and expired records are never "locked" - those states win.
func (a Addition) IsLocked(at time.Time) bool {
	if a.Canceled || a.IsExpired(at) {
		return false
	}
	return a.LockedUntil != nil && a.LockedUntil.After(at)
}

// IsActive reports whether the addition can participate in spending.
func (a Addition) IsActive(at time.Time) bool {
	return !a.Canceled && !a.IsExpired(at) && !a.IsLocked(at) && a.Available.IsPositive()
}

// State returns the derived lifecycle state at the given instant.
func (a Addition) State(at time.Time) TransferState {
	switch {
	case a.Canceled:
		return StateCanceled
	case a.IsExpired(at):
		return StateExpired
	case a.IsLocked(at):
		return StateLocked
	case a.Available.IsPositive():
		return StateActive
	default:
		return StateDrained
	}
}

// Used returns how much of the original value has been consumed.
func (a Addition) Used() decimal.Decimal {
	return a.Value.Sub(a.Available)
}

// =============================================================================
// DEDUCTION - spent points
// =============================================================================

// Deduction is a spending entry, kept for bookkeeping. The actual draw-down
// happens on the addition records (see Account.applySpend). RevisedTransactionID
// references a returned transaction when the spend corrects an earlier one.
type Deduction struct {
	ID                   TransferID
	Value                decimal.Decimal
	CreatedAt            time.Time
	Comment              string
	Issuer               string
	TransactionID        string
	RevisedTransactionID string
}
