/*
account.go - The points account aggregate

PURPOSE:
  Account owns one customer's ordered collection of transfer records and is
  the single writer for it. All mutation goes through command methods that
  validate against current state, emit exactly one event, and apply it.
  State is always reconstructable: Replay(events) folds the pure apply()
  reducer over history.

CRITICAL INVARIANTS:
  1. UNIQUE IDS:   no two records share a TransferID
  2. APPEND-ONLY:  records are never removed; transitions derive a new
                   record value for the same ID
  3. BOUNDED:      0 <= available <= value for every addition; the sum of
                   available over active additions never goes negative
  4. DETERMINISM:  apply() consults only event data (including event time),
                   so replaying history twice yields identical state

FIFO ALLOCATION:
  Spending consumes the oldest active additions first (creation time
  ascending, TransferID as tiebreak). If the requested spend exceeds the
  total active available amount, the walk drains everything active and
  stops - the deduction keeps its full requested value for bookkeeping.
  See DESIGN.md for the overspend decision.

SEE ALSO:
  - transfer.go: record value types and derived states
  - events.go:   the event vocabulary
  - service.go:  command handler with optimistic concurrency
*/
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT AGGREGATE
// =============================================================================

// Account is the event-sourced points account for one customer.
type Account struct {
	ID          AccountID
	CustomerID  CustomerID
	Version     int
	CreatedAt   time.Time
	LastResetAt *time.Time

	// Ordered by creation (append order). byID indexes both kinds.
	additions  []*Addition
	deductions []*Deduction
	byID       map[TransferID]bool
}

// NewAccount creates an account by emitting its AccountCreated event.
func NewAccount(id AccountID, customerID CustomerID, now time.Time) (*Account, Event, error) {
	if id == "" {
		return nil, nil, &ValidationError{Field: "accountId", Reason: "must not be empty"}
	}
	if customerID == "" {
		return nil, nil, &ValidationError{Field: "customerId", Reason: "must not be empty"}
	}
	account := emptyAccount()
	event := AccountCreated{AccountID: id, CustomerID: customerID, At: now}
	if err := account.apply(event); err != nil {
		return nil, nil, err
	}
	return account, event, nil
}

// Replay rebuilds an account from its full event history.
func Replay(events []Event) (*Account, error) {
	if len(events) == 0 {
		return nil, ErrAccountNotFound
	}
	account := emptyAccount()
	for _, event := range events {
		if err := account.apply(event); err != nil {
			return nil, err
		}
	}
	return account, nil
}

func emptyAccount() *Account {
	return &Account{byID: make(map[TransferID]bool)}
}

// Empty returns a blank account ready to fold events into. Read models use
// this together with Apply to keep a replica in step with the stream.
func Empty() *Account { return emptyAccount() }

// Apply folds one committed event into the account state.
func (a *Account) Apply(event Event) error { return a.apply(event) }

// Additions returns the addition records in creation order.
func (a *Account) Additions() []*Addition { return a.additions }

// Deductions returns the deduction records in creation order.
func (a *Account) Deductions() []*Deduction { return a.deductions }

// Addition returns the addition record with the given ID, or nil.
func (a *Account) Addition(id TransferID) *Addition {
	for _, add := range a.additions {
		if add.ID == id {
			return add
		}
	}
	return nil
}

// HasTransfer reports whether any record (addition or deduction) uses the ID.
func (a *Account) HasTransfer(id TransferID) bool { return a.byID[id] }

// =============================================================================
// COMMANDS - validate, emit, apply
// =============================================================================

// AddPointsCommand appends a new addition record.
type AddPointsCommand struct {
	TransferID    TransferID
	Value         decimal.Decimal
	ExpiresAt     *time.Time
	LockedUntil   *time.Time
	TransactionID string
	Comment       string
	Issuer        string
}

// AddPoints validates the command and appends a PointsAdded event.
func (a *Account) AddPoints(cmd AddPointsCommand, now time.Time) (Event, error) {
	if cmd.TransferID == "" {
		return nil, &ValidationError{Field: "transferId", Reason: "must not be empty"}
	}
	if cmd.Value.IsNegative() {
		return nil, &ValidationError{Field: "value", Reason: "must not be negative"}
	}
	if a.byID[cmd.TransferID] {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTransfer, cmd.TransferID)
	}
	event := PointsAdded{
		AccountID:     a.ID,
		TransferID:    cmd.TransferID,
		Value:         cmd.Value,
		ExpiresAt:     cmd.ExpiresAt,
		LockedUntil:   cmd.LockedUntil,
		TransactionID: cmd.TransactionID,
		Comment:       cmd.Comment,
		Issuer:        cmd.Issuer,
		At:            now,
	}
	if err := a.apply(event); err != nil {
		return nil, err
	}
	return event, nil
}

// SpendPointsCommand appends a deduction and draws down active additions.
type SpendPointsCommand struct {
	TransferID           TransferID
	Value                decimal.Decimal
	TransactionID        string
	RevisedTransactionID string
	Comment              string
	Issuer               string
}

// SpendPoints validates the command and appends a PointsSpent event.
func (a *Account) SpendPoints(cmd SpendPointsCommand, now time.Time) (Event, error) {
	if cmd.TransferID == "" {
		return nil, &ValidationError{Field: "transferId", Reason: "must not be empty"}
	}
	if cmd.Value.IsNegative() {
		return nil, &ValidationError{Field: "value", Reason: "must not be negative"}
	}
	if a.byID[cmd.TransferID] {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTransfer, cmd.TransferID)
	}
	event := PointsSpent{
		AccountID:            a.ID,
		TransferID:           cmd.TransferID,
		Value:                cmd.Value,
		TransactionID:        cmd.TransactionID,
		RevisedTransactionID: cmd.RevisedTransactionID,
		Comment:              cmd.Comment,
		Issuer:               cmd.Issuer,
		At:                   now,
	}
	if err := a.apply(event); err != nil {
		return nil, err
	}
	return event, nil
}

// Unlock clears a lock. Legal only while the record is still locked:
// unlocking an expired, canceled, or never-locked record fails.
func (a *Account) Unlock(id TransferID, now time.Time) (Event, error) {
	addition := a.Addition(id)
	if addition == nil {
		if a.byID[id] {
			return nil, &InvalidStateTransitionError{TransferID: id, From: "deduction", To: StateActive}
		}
		return nil, fmt.Errorf("%w: %s", ErrTransferNotFound, id)
	}
	if !addition.IsLocked(now) {
		return nil, &InvalidStateTransitionError{TransferID: id, From: addition.State(now), To: StateActive}
	}
	event := TransferUnlocked{AccountID: a.ID, TransferID: id, At: now}
	if err := a.apply(event); err != nil {
		return nil, err
	}
	return event, nil
}

// Expire moves an addition to the expired state. Irreversible; its available
// amount is frozen and permanently excluded from balance.
func (a *Account) Expire(id TransferID, now time.Time) (Event, error) {
	if err := a.checkTerminal(id, StateExpired, now); err != nil {
		return nil, err
	}
	event := TransferExpired{AccountID: a.ID, TransferID: id, At: now}
	if err := a.apply(event); err != nil {
		return nil, err
	}
	return event, nil
}

// Cancel moves an addition to the canceled state. Deductions cannot be
// canceled - a correcting entry supersedes them instead.
func (a *Account) Cancel(id TransferID, now time.Time) (Event, error) {
	if err := a.checkTerminal(id, StateCanceled, now); err != nil {
		return nil, err
	}
	event := TransferCanceled{AccountID: a.ID, TransferID: id, At: now}
	if err := a.apply(event); err != nil {
		return nil, err
	}
	return event, nil
}

func (a *Account) checkTerminal(id TransferID, target TransferState, now time.Time) error {
	addition := a.Addition(id)
	if addition == nil {
		if a.byID[id] {
			return &InvalidStateTransitionError{TransferID: id, From: "deduction", To: target}
		}
		return fmt.Errorf("%w: %s", ErrTransferNotFound, id)
	}
	if addition.Canceled || addition.IsExpired(now) {
		return &InvalidStateTransitionError{TransferID: id, From: addition.State(now), To: target}
	}
	return nil
}

// Reset bulk-expires every addition currently active or locked and records
// the reset timestamp for "earned since" reporting.
func (a *Account) Reset(now time.Time) (Event, error) {
	event := PointsReset{AccountID: a.ID, At: now}
	if err := a.apply(event); err != nil {
		return nil, err
	}
	return event, nil
}

// =============================================================================
// REDUCER - pure fold over events
// =============================================================================

func (a *Account) apply(event Event) error {
	switch e := event.(type) {
	case AccountCreated:
		a.ID = e.AccountID
		a.CustomerID = e.CustomerID
		a.CreatedAt = e.At

	case PointsAdded:
		if a.byID[e.TransferID] {
			return fmt.Errorf("%w: %s", ErrDuplicateTransfer, e.TransferID)
		}
		a.additions = append(a.additions, &Addition{
			ID:            e.TransferID,
			Value:         e.Value,
			Available:     e.Value,
			CreatedAt:     e.At,
			ExpiresAt:     e.ExpiresAt,
			LockedUntil:   e.LockedUntil,
			Comment:       e.Comment,
			Issuer:        e.Issuer,
			TransactionID: e.TransactionID,
		})
		a.byID[e.TransferID] = true

	case PointsSpent:
		if a.byID[e.TransferID] {
			return fmt.Errorf("%w: %s", ErrDuplicateTransfer, e.TransferID)
		}
		a.deductions = append(a.deductions, &Deduction{
			ID:                   e.TransferID,
			Value:                e.Value,
			CreatedAt:            e.At,
			Comment:              e.Comment,
			Issuer:               e.Issuer,
			TransactionID:        e.TransactionID,
			RevisedTransactionID: e.RevisedTransactionID,
		})
		a.byID[e.TransferID] = true
		a.allocate(e.Value, e.At)

	case TransferUnlocked:
		addition := a.Addition(e.TransferID)
		if addition == nil {
			return fmt.Errorf("%w: %s", ErrTransferNotFound, e.TransferID)
		}
		addition.LockedUntil = nil

	case TransferExpired:
		addition := a.Addition(e.TransferID)
		if addition == nil {
			return fmt.Errorf("%w: %s", ErrTransferNotFound, e.TransferID)
		}
		addition.ExpiredByCmd = true

	case TransferCanceled:
		addition := a.Addition(e.TransferID)
		if addition == nil {
			return fmt.Errorf("%w: %s", ErrTransferNotFound, e.TransferID)
		}
		addition.Canceled = true

	case PointsReset:
		for _, addition := range a.additions {
			state := addition.State(e.At)
			if state == StateActive || state == StateLocked {
				addition.ExpiredByCmd = true
			}
		}
		at := e.At
		a.LastResetAt = &at

	default:
		return fmt.Errorf("%w: unknown event kind %T", ErrValidation, event)
	}

	a.Version++
	return nil
}

// allocate walks the active additions oldest-first and draws the spend
// amount down. Ties on creation time break by TransferID for determinism.
// Overspend drains every active record to zero and stops.
func (a *Account) allocate(amount decimal.Decimal, at time.Time) {
	active := make([]*Addition, 0, len(a.additions))
	for _, addition := range a.additions {
		if addition.IsActive(at) {
			active = append(active, addition)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	remaining := amount
	for _, addition := range active {
		if !remaining.IsPositive() {
			break
		}
		draw := decimal.Min(addition.Available, remaining)
		addition.Available = addition.Available.Sub(draw)
		remaining = remaining.Sub(draw)
	}
}

// =============================================================================
// DERIVED QUERIES - pure functions over current state
// =============================================================================

// Available is the spendable balance: the sum of available amounts over
// active additions.
func (a *Account) Available(at time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, addition := range a.additions {
		if addition.IsActive(at) {
			total = total.Add(addition.Available)
		}
	}
	return total
}

// Earned is the lifetime earned total: the sum of value over all
// non-canceled additions, expired ones included.
func (a *Account) Earned() decimal.Decimal {
	total := decimal.Zero
	for _, addition := range a.additions {
		if !addition.Canceled {
			total = total.Add(addition.Value)
		}
	}
	return total
}

// EarnedSince is Earned restricted to additions created after the date.
// Callers reporting "earned since last reset" pass LastResetAt.
func (a *Account) EarnedSince(date time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, addition := range a.additions {
		if !addition.Canceled && addition.CreatedAt.After(date) {
			total = total.Add(addition.Value)
		}
	}
	return total
}

// Used is the sum of consumed value over all additions.
func (a *Account) Used() decimal.Decimal {
	total := decimal.Zero
	for _, addition := range a.additions {
		total = total.Add(addition.Used())
	}
	return total
}

// Expired is the frozen available amount across expired additions.
func (a *Account) Expired(at time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, addition := range a.additions {
		if !addition.Canceled && addition.IsExpired(at) {
			total = total.Add(addition.Available)
		}
	}
	return total
}

// Locked is the available amount currently held behind locks.
func (a *Account) Locked(at time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, addition := range a.additions {
		if addition.IsLocked(at) {
			total = total.Add(addition.Available)
		}
	}
	return total
}
