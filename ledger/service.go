/*
service.go - Command handler over the event store

PURPOSE:
  Service is the write-side entry point. Each command:
    1. loads the account's history and replays it
    2. executes the aggregate command (validate -> emit -> apply)
    3. appends the new event at the observed version
    4. hands the committed event to the read side (EventSink)

  Step 3 is the optimistic concurrency gate: a racing writer makes the
  append fail with ErrConcurrentModification and the command had no
  effect. Callers retry; ledger.IsRetryable helps them decide.

LOGGING:
  Every command outcome is logged through zap with the operation name,
  account, transfer, and error (if any). Queries are not logged.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service contains the ledger command and query logic over an EventStore.
type Service struct {
	store  EventStore
	sink   EventSink
	nowFn  func() time.Time
	logger *zap.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithSink routes committed events to the read side.
func WithSink(sink EventSink) ServiceOption {
	return func(s *Service) { s.sink = sink }
}

// WithClock overrides the clock (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.nowFn = now }
}

// NewService wires a Service.
func NewService(store EventStore, logger *zap.Logger, options ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &Service{
		store:  store,
		nowFn:  func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	for _, option := range options {
		option(service)
	}
	return service
}

// =============================================================================
// COMMANDS
// =============================================================================

// CreateAccount opens a points account for a customer.
func (s *Service) CreateAccount(ctx context.Context, accountID AccountID, customerID CustomerID) error {
	exists, err := s.store.Exists(ctx, accountID)
	if err == nil && exists {
		err = ErrAccountExists
	}
	if err == nil {
		var event Event
		_, event, err = NewAccount(accountID, customerID, s.nowFn())
		if err == nil {
			err = s.commit(ctx, accountID, 0, event)
		}
	}
	s.logOperation("create_account", accountID, "", err)
	return err
}

// AddPoints appends an addition record.
func (s *Service) AddPoints(ctx context.Context, accountID AccountID, cmd AddPointsCommand) error {
	err := s.execute(ctx, accountID, func(account *Account) (Event, error) {
		return account.AddPoints(cmd, s.nowFn())
	})
	s.logOperation("add_points", accountID, cmd.TransferID, err)
	return err
}

// SpendPoints appends a deduction record and runs FIFO allocation.
func (s *Service) SpendPoints(ctx context.Context, accountID AccountID, cmd SpendPointsCommand) error {
	err := s.execute(ctx, accountID, func(account *Account) (Event, error) {
		return account.SpendPoints(cmd, s.nowFn())
	})
	s.logOperation("spend_points", accountID, cmd.TransferID, err)
	return err
}

// UnlockTransfer clears the lock on an addition still in the locked state.
func (s *Service) UnlockTransfer(ctx context.Context, accountID AccountID, transferID TransferID) error {
	err := s.execute(ctx, accountID, func(account *Account) (Event, error) {
		return account.Unlock(transferID, s.nowFn())
	})
	s.logOperation("unlock_transfer", accountID, transferID, err)
	return err
}

// ExpireTransfer moves an addition to the expired state.
func (s *Service) ExpireTransfer(ctx context.Context, accountID AccountID, transferID TransferID) error {
	err := s.execute(ctx, accountID, func(account *Account) (Event, error) {
		return account.Expire(transferID, s.nowFn())
	})
	s.logOperation("expire_transfer", accountID, transferID, err)
	return err
}

// CancelTransfer moves an addition to the canceled state.
func (s *Service) CancelTransfer(ctx context.Context, accountID AccountID, transferID TransferID) error {
	err := s.execute(ctx, accountID, func(account *Account) (Event, error) {
		return account.Cancel(transferID, s.nowFn())
	})
	s.logOperation("cancel_transfer", accountID, transferID, err)
	return err
}

// ResetPoints bulk-expires everything active or locked.
func (s *Service) ResetPoints(ctx context.Context, accountID AccountID) error {
	err := s.execute(ctx, accountID, func(account *Account) (Event, error) {
		return account.Reset(s.nowFn())
	})
	s.logOperation("reset_points", accountID, "", err)
	return err
}

func (s *Service) execute(ctx context.Context, accountID AccountID, command func(*Account) (Event, error)) error {
	history, err := s.store.Load(ctx, accountID)
	if err != nil {
		return err
	}
	account, err := Replay(history)
	if err != nil {
		return err
	}
	event, err := command(account)
	if err != nil {
		return err
	}
	return s.commit(ctx, accountID, len(history), event)
}

func (s *Service) commit(ctx context.Context, accountID AccountID, expectedVersion int, event Event) error {
	events := []Event{event}
	if err := s.store.Append(ctx, accountID, expectedVersion, events); err != nil {
		return err
	}
	if s.sink != nil {
		s.sink.Publish(events)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// BalanceSummary is the full derived balance picture for an account.
type BalanceSummary struct {
	AccountID   AccountID
	CustomerID  CustomerID
	Available   decimal.Decimal
	Earned      decimal.Decimal
	EarnedToday decimal.Decimal
	Used        decimal.Decimal
	Expired     decimal.Decimal
	Locked      decimal.Decimal
	LastResetAt *time.Time
}

// Balance replays the account and computes its derived balances.
func (s *Service) Balance(ctx context.Context, accountID AccountID) (BalanceSummary, error) {
	account, err := s.LoadAccount(ctx, accountID)
	if err != nil {
		return BalanceSummary{}, err
	}
	now := s.nowFn()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return BalanceSummary{
		AccountID:   account.ID,
		CustomerID:  account.CustomerID,
		Available:   account.Available(now),
		Earned:      account.Earned(),
		EarnedToday: account.EarnedSince(startOfDay),
		Used:        account.Used(),
		Expired:     account.Expired(now),
		Locked:      account.Locked(now),
		LastResetAt: account.LastResetAt,
	}, nil
}

// LoadAccount replays and returns the current aggregate state.
func (s *Service) LoadAccount(ctx context.Context, accountID AccountID) (*Account, error) {
	history, err := s.store.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return Replay(history)
}

func (s *Service) logOperation(operation string, accountID AccountID, transferID TransferID, err error) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("account_id", string(accountID)),
	}
	if transferID != "" {
		fields = append(fields, zap.String("transfer_id", string(transferID)))
	}
	if err != nil {
		s.logger.Warn("ledger command failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info("ledger command applied", fields...)
}
