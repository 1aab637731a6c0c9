/*
transfer.go - Per-transfer denormalized view

PURPOSE:
  Maintains one row per transfer with an explicit lifecycle state machine:

    PENDING (locked at creation) --> ACTIVE --> EXPIRED | CANCELED

  PENDING may also move straight to a terminal state (a locked record can
  be expired or canceled); EXPIRED and CANCELED are terminal.

CORRUPTION IS FATAL:
  The projection consumes the exact events the ledger emitted, in order.
  An event that targets a transfer the projection has never seen, or that
  requests an illegal transition (canceling a deduction, reviving a
  terminal record), can only mean the stream was reordered or corrupted
  upstream. The projection must NOT skip such an event: it returns a
  CorruptionError and the runner halts the account and raises an alert.

SEE ALSO:
  - account.go: per-account balance view
  - runner.go:  ordered async delivery and halting
*/
package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// VIEW MODEL
// =============================================================================

// ViewState is the projection-side lifecycle state of a transfer.
type ViewState string

const (
	ViewPending  ViewState = "pending"
	ViewActive   ViewState = "active"
	ViewExpired  ViewState = "expired"
	ViewCanceled ViewState = "canceled"
)

// ViewType discriminates earning and spending rows.
type ViewType string

const (
	ViewEarning  ViewType = "earning"
	ViewSpending ViewType = "spending"
)

// TransferView is the denormalized per-transfer row.
type TransferView struct {
	TransferID  ledger.TransferID
	AccountID   ledger.AccountID
	Type        ViewType
	State       ViewState
	Value       decimal.Decimal
	Comment     string
	Issuer      string
	Transaction string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	LockedUntil *time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrProjectionCorrupt marks unrecoverable read-side inconsistency.
var ErrProjectionCorrupt = errors.New("projection corrupt")

// CorruptionError explains why a projection refused an event.
type CorruptionError struct {
	AccountID  ledger.AccountID
	TransferID ledger.TransferID
	Event      ledger.EventKind
	Reason     string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("projection corrupt: account %s transfer %s event %s: %s",
		e.AccountID, e.TransferID, e.Event, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrProjectionCorrupt }

// =============================================================================
// VIEW STORE
// =============================================================================

// ViewStore persists the denormalized views. Transfer rows are keyed by
// (account, transfer): transfer IDs are only unique within one account.
type ViewStore interface {
	SaveTransfer(ctx context.Context, view TransferView) error
	GetTransfer(ctx context.Context, accountID ledger.AccountID, id ledger.TransferID) (*TransferView, error)
	ListTransfers(ctx context.Context, accountID ledger.AccountID) ([]TransferView, error)
	SaveAccount(ctx context.Context, view AccountView) error
	GetAccount(ctx context.Context, accountID ledger.AccountID) (*AccountView, error)
}

// =============================================================================
// TRANSFER PROJECTION
// =============================================================================

// TransferProjection folds ledger events into TransferView rows.
type TransferProjection struct {
	Views ViewStore
}

func NewTransferProjection(views ViewStore) *TransferProjection {
	return &TransferProjection{Views: views}
}

// Apply folds one event. A non-nil error is fatal for the account's stream.
func (p *TransferProjection) Apply(ctx context.Context, event ledger.Event) error {
	switch e := event.(type) {
	case ledger.AccountCreated:
		return nil

	case ledger.PointsAdded:
		if err := p.mustNotExist(ctx, e.AccountID, e.TransferID, e.Kind()); err != nil {
			return err
		}
		state := ViewActive
		if e.LockedUntil != nil && e.LockedUntil.After(e.At) {
			state = ViewPending
		}
		return p.Views.SaveTransfer(ctx, TransferView{
			TransferID:  e.TransferID,
			AccountID:   e.AccountID,
			Type:        ViewEarning,
			State:       state,
			Value:       e.Value,
			Comment:     e.Comment,
			Issuer:      e.Issuer,
			Transaction: e.TransactionID,
			CreatedAt:   e.At,
			ExpiresAt:   e.ExpiresAt,
			LockedUntil: e.LockedUntil,
			UpdatedAt:   e.At,
		})

	case ledger.PointsSpent:
		if err := p.mustNotExist(ctx, e.AccountID, e.TransferID, e.Kind()); err != nil {
			return err
		}
		return p.Views.SaveTransfer(ctx, TransferView{
			TransferID:  e.TransferID,
			AccountID:   e.AccountID,
			Type:        ViewSpending,
			State:       ViewActive,
			Value:       e.Value,
			Comment:     e.Comment,
			Issuer:      e.Issuer,
			Transaction: e.TransactionID,
			CreatedAt:   e.At,
			UpdatedAt:   e.At,
		})

	case ledger.TransferUnlocked:
		return p.transition(ctx, e.AccountID, e.TransferID, e.Kind(), ViewActive, e.At)

	case ledger.TransferExpired:
		return p.transition(ctx, e.AccountID, e.TransferID, e.Kind(), ViewExpired, e.At)

	case ledger.TransferCanceled:
		return p.transition(ctx, e.AccountID, e.TransferID, e.Kind(), ViewCanceled, e.At)

	case ledger.PointsReset:
		views, err := p.Views.ListTransfers(ctx, e.AccountID)
		if err != nil {
			return err
		}
		for _, view := range views {
			if view.Type != ViewEarning {
				continue
			}
			if view.State == ViewPending || view.State == ViewActive {
				view.State = ViewExpired
				view.UpdatedAt = e.At
				if err := p.Views.SaveTransfer(ctx, view); err != nil {
					return err
				}
			}
		}
		return nil

	default:
		return &CorruptionError{AccountID: event.Account(), Event: event.Kind(), Reason: "unknown event kind"}
	}
}

func (p *TransferProjection) mustNotExist(ctx context.Context, accountID ledger.AccountID, id ledger.TransferID, kind ledger.EventKind) error {
	existing, err := p.Views.GetTransfer(ctx, accountID, id)
	if err != nil {
		return err
	}
	if existing != nil {
		return &CorruptionError{AccountID: accountID, TransferID: id, Event: kind, Reason: "transfer already known"}
	}
	return nil
}

func (p *TransferProjection) transition(ctx context.Context, accountID ledger.AccountID, id ledger.TransferID, kind ledger.EventKind, to ViewState, at time.Time) error {
	view, err := p.Views.GetTransfer(ctx, accountID, id)
	if err != nil {
		return err
	}
	if view == nil {
		return &CorruptionError{AccountID: accountID, TransferID: id, Event: kind, Reason: "transfer not known to projection"}
	}
	if view.Type == ViewSpending {
		return &CorruptionError{AccountID: accountID, TransferID: id, Event: kind, Reason: "spending records have no lifecycle"}
	}
	if !legalTransition(view.State, to) {
		return &CorruptionError{AccountID: accountID, TransferID: id, Event: kind,
			Reason: fmt.Sprintf("illegal transition %s -> %s", view.State, to)}
	}
	view.State = to
	view.UpdatedAt = at
	if to == ViewActive {
		view.LockedUntil = nil
	}
	return p.Views.SaveTransfer(ctx, *view)
}

// legalTransition encodes PENDING -> ACTIVE -> EXPIRED | CANCELED, with
// PENDING also allowed to terminate directly.
func legalTransition(from, to ViewState) bool {
	switch from {
	case ViewPending:
		return to == ViewActive || to == ViewExpired || to == ViewCanceled
	case ViewActive:
		return to == ViewExpired || to == ViewCanceled
	default:
		return false
	}
}
