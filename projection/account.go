/*
account.go - Per-account balance view

PURPOSE:
  Keeps a read-optimized balance row per account. Rather than duplicating
  the balance arithmetic, the projection folds the same events into a
  replica of the write-side aggregate and reads the derived figures off
  it, so the read side can never drift from the ledger's own math.

SEE ALSO:
  - transfer.go: per-transfer view and fatal corruption handling
*/
package projection

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/ledger"
)

// AccountView is the denormalized balance row.
type AccountView struct {
	AccountID   ledger.AccountID
	CustomerID  ledger.CustomerID
	Available   decimal.Decimal
	Earned      decimal.Decimal
	Used        decimal.Decimal
	Expired     decimal.Decimal
	Locked      decimal.Decimal
	LastResetAt *time.Time
	UpdatedAt   time.Time
}

// AccountProjection maintains one aggregate replica per account.
type AccountProjection struct {
	Views ViewStore

	replicas map[ledger.AccountID]*ledger.Account
}

func NewAccountProjection(views ViewStore) *AccountProjection {
	return &AccountProjection{
		Views:    views,
		replicas: make(map[ledger.AccountID]*ledger.Account),
	}
}

// Apply folds one event into the account's replica and persists the
// recomputed balances. Balances are evaluated at the event's own time so
// replaying a historical stream yields the historical figures.
func (p *AccountProjection) Apply(ctx context.Context, event ledger.Event) error {
	replica, ok := p.replicas[event.Account()]
	if !ok {
		if event.Kind() != ledger.EventAccountCreated {
			return &CorruptionError{AccountID: event.Account(), Event: event.Kind(),
				Reason: "event before account_created"}
		}
		replica = ledger.Empty()
		p.replicas[event.Account()] = replica
	}
	if err := replica.Apply(event); err != nil {
		var transition *ledger.InvalidStateTransitionError
		if errors.As(err, &transition) || errors.Is(err, ledger.ErrTransferNotFound) {
			return &CorruptionError{AccountID: event.Account(), Event: event.Kind(), Reason: err.Error()}
		}
		return err
	}

	at := event.OccurredAt()
	return p.Views.SaveAccount(ctx, AccountView{
		AccountID:   replica.ID,
		CustomerID:  replica.CustomerID,
		Available:   replica.Available(at),
		Earned:      replica.Earned(),
		Used:        replica.Used(),
		Expired:     replica.Expired(at),
		Locked:      replica.Locked(at),
		LastResetAt: replica.LastResetAt,
		UpdatedAt:   at,
	})
}
