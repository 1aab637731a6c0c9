/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (ledger.EventStore,
  projection.ViewStore, rule records) using SQLite. In production the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  ledger.EventStore:    Append-only event streams per account
  projection.ViewStore: Denormalized transfer and account views

APPEND-ONLY ENFORCEMENT:
  The event table takes no UPDATE or DELETE statements. Optimistic
  concurrency rides on PRIMARY KEY(account_id, version): a writer that
  lost the race hits the key conflict and gets
  ledger.ErrConcurrentModification to retry on.

KEY TABLES:
  ledger_events:  Immutable per-account event streams
  transfer_views: Projection state per transfer
  account_views:  Projection balances per account
  earning_rules:  Rule definitions as JSON configs

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  service := ledger.NewService(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/eventstore.go: Interface definition
  - ledger/store/memory.go: In-memory implementation for testing
  - projection/views.go: In-memory view store
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/projection"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger events (append-only, one stream per account)
	CREATE TABLE IF NOT EXISTS ledger_events (
		account_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		kind TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (account_id, version)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_events_occurred
		ON ledger_events(occurred_at);

	-- Transfer views (projection). Transfer IDs are unique per account,
	-- not globally, so the key is composite.
	CREATE TABLE IF NOT EXISTS transfer_views (
		account_id TEXT NOT NULL,
		transfer_id TEXT NOT NULL,
		type TEXT NOT NULL,
		state TEXT NOT NULL,
		value TEXT NOT NULL,
		comment TEXT,
		issuer TEXT,
		transaction_id TEXT,
		created_at TEXT NOT NULL,
		expires_at TEXT,
		locked_until TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (account_id, transfer_id)
	);

	CREATE INDEX IF NOT EXISTS idx_transfer_views_account
		ON transfer_views(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transfer_views_state
		ON transfer_views(state);

	-- Account views (projection)
	CREATE TABLE IF NOT EXISTS account_views (
		account_id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		available TEXT NOT NULL,
		earned TEXT NOT NULL,
		used TEXT NOT NULL,
		expired TEXT NOT NULL,
		locked TEXT NOT NULL,
		last_reset_at TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_account_views_customer
		ON account_views(customer_id);

	-- Earning rules (JSON configs, versioned)
	CREATE TABLE IF NOT EXISTS earning_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		config_json TEXT NOT NULL,
		version INTEGER DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_earning_rules_kind
		ON earning_rules(kind, priority);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EVENT STORE (ledger.EventStore interface)
// =============================================================================

// Append writes events at expectedVersion. A version conflict means a
// concurrent writer won; the caller reloads and retries.
func (s *Store) Append(ctx context.Context, accountID ledger.AccountID, expectedVersion int, events []ledger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `
		INSERT INTO ledger_events (account_id, version, kind, payload_json, occurred_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	for i, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		_, err = sqlTx.ExecContext(ctx, query,
			string(accountID),
			expectedVersion+i,
			string(event.Kind()),
			string(payload),
			event.OccurredAt().UTC().Format(time.RFC3339Nano),
			time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.ErrConcurrentModification
			}
			return fmt.Errorf("failed to append event: %w", err)
		}
	}

	return sqlTx.Commit()
}

// Load returns the account's full event stream in version order.
func (s *Store) Load(ctx context.Context, accountID ledger.AccountID) ([]ledger.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, payload_json FROM ledger_events WHERE account_id = ? ORDER BY version ASC`,
		string(accountID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		var kind, payload string
		if err := rows.Scan(&kind, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event, err := decodeEvent(ledger.EventKind(kind), []byte(payload))
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ledger.ErrAccountNotFound
	}
	return events, nil
}

// Exists reports whether the account has any events.
func (s *Store) Exists(ctx context.Context, accountID ledger.AccountID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_events WHERE account_id = ?",
		string(accountID),
	).Scan(&count)
	return count > 0, err
}

// ListAccounts returns every account with at least one event. Used at
// startup to rebuild projections.
func (s *Store) ListAccounts(ctx context.Context) ([]ledger.AccountID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT account_id FROM ledger_events ORDER BY account_id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []ledger.AccountID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		accounts = append(accounts, ledger.AccountID(id))
	}
	return accounts, rows.Err()
}

// decodeEvent rebuilds the concrete event from its kind tag.
func decodeEvent(kind ledger.EventKind, payload []byte) (ledger.Event, error) {
	switch kind {
	case ledger.EventAccountCreated:
		var e ledger.AccountCreated
		return e, json.Unmarshal(payload, &e)
	case ledger.EventPointsAdded:
		var e ledger.PointsAdded
		return e, json.Unmarshal(payload, &e)
	case ledger.EventPointsSpent:
		var e ledger.PointsSpent
		return e, json.Unmarshal(payload, &e)
	case ledger.EventTransferCanceled:
		var e ledger.TransferCanceled
		return e, json.Unmarshal(payload, &e)
	case ledger.EventTransferExpired:
		var e ledger.TransferExpired
		return e, json.Unmarshal(payload, &e)
	case ledger.EventTransferUnlocked:
		var e ledger.TransferUnlocked
		return e, json.Unmarshal(payload, &e)
	case ledger.EventPointsReset:
		var e ledger.PointsReset
		return e, json.Unmarshal(payload, &e)
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}

// =============================================================================
// VIEW STORE (projection.ViewStore interface)
// =============================================================================

// SaveTransfer upserts a transfer view row.
func (s *Store) SaveTransfer(ctx context.Context, view projection.TransferView) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO transfer_views
		(account_id, transfer_id, type, state, value, comment, issuer, transaction_id,
		 created_at, expires_at, locked_until, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, transfer_id) DO UPDATE SET
			state = excluded.state,
			locked_until = excluded.locked_until,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		string(view.AccountID),
		string(view.TransferID),
		string(view.Type),
		string(view.State),
		view.Value.String(),
		view.Comment,
		view.Issuer,
		view.Transaction,
		view.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullTime(view.ExpiresAt),
		nullTime(view.LockedUntil),
		view.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetTransfer returns nil when the account has no such transfer.
func (s *Store) GetTransfer(ctx context.Context, accountID ledger.AccountID, id ledger.TransferID) (*projection.TransferView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT transfer_id, account_id, type, state, value, comment, issuer, transaction_id,
		        created_at, expires_at, locked_until, updated_at
		 FROM transfer_views WHERE account_id = ? AND transfer_id = ?`,
		string(accountID),
		string(id),
	)

	view, err := scanTransferView(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ListTransfers returns an account's transfer views oldest first.
func (s *Store) ListTransfers(ctx context.Context, accountID ledger.AccountID) ([]projection.TransferView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT transfer_id, account_id, type, state, value, comment, issuer, transaction_id,
		        created_at, expires_at, locked_until, updated_at
		 FROM transfer_views WHERE account_id = ?
		 ORDER BY created_at ASC, transfer_id ASC`,
		string(accountID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []projection.TransferView
	for rows.Next() {
		view, err := scanTransferView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTransferView(row scannable) (*projection.TransferView, error) {
	var (
		view                   projection.TransferView
		transferID, accountID  string
		viewType, state, value string
		comment, issuer, txID  sql.NullString
		createdAt, updatedAt   string
		expiresAt, lockedUntil sql.NullString
	)

	err := row.Scan(&transferID, &accountID, &viewType, &state, &value,
		&comment, &issuer, &txID, &createdAt, &expiresAt, &lockedUntil, &updatedAt)
	if err != nil {
		return nil, err
	}

	view.TransferID = ledger.TransferID(transferID)
	view.AccountID = ledger.AccountID(accountID)
	view.Type = projection.ViewType(viewType)
	view.State = projection.ViewState(state)
	view.Value, err = decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse view value: %w", err)
	}
	view.Comment = comment.String
	view.Issuer = issuer.String
	view.Transaction = txID.String
	view.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	view.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	view.ExpiresAt = parseNullTime(expiresAt)
	view.LockedUntil = parseNullTime(lockedUntil)

	return &view, nil
}

// SaveAccount upserts an account view row.
func (s *Store) SaveAccount(ctx context.Context, view projection.AccountView) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO account_views
		(account_id, customer_id, available, earned, used, expired, locked, last_reset_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			available = excluded.available,
			earned = excluded.earned,
			used = excluded.used,
			expired = excluded.expired,
			locked = excluded.locked,
			last_reset_at = excluded.last_reset_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		string(view.AccountID),
		string(view.CustomerID),
		view.Available.String(),
		view.Earned.String(),
		view.Used.String(),
		view.Expired.String(),
		view.Locked.String(),
		nullTime(view.LastResetAt),
		view.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetAccount returns nil when the account has no view yet.
func (s *Store) GetAccount(ctx context.Context, accountID ledger.AccountID) (*projection.AccountView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		view                  projection.AccountView
		id, customerID        string
		available, earned     string
		used, expired, locked string
		lastResetAt           sql.NullString
		updatedAt             string
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, customer_id, available, earned, used, expired, locked, last_reset_at, updated_at
		 FROM account_views WHERE account_id = ?`,
		string(accountID),
	).Scan(&id, &customerID, &available, &earned, &used, &expired, &locked, &lastResetAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	view.AccountID = ledger.AccountID(id)
	view.CustomerID = ledger.CustomerID(customerID)
	if view.Available, err = decimal.NewFromString(available); err != nil {
		return nil, err
	}
	if view.Earned, err = decimal.NewFromString(earned); err != nil {
		return nil, err
	}
	if view.Used, err = decimal.NewFromString(used); err != nil {
		return nil, err
	}
	if view.Expired, err = decimal.NewFromString(expired); err != nil {
		return nil, err
	}
	if view.Locked, err = decimal.NewFromString(locked); err != nil {
		return nil, err
	}
	view.LastResetAt = parseNullTime(lastResetAt)
	view.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return &view, nil
}

// =============================================================================
// RULE STORE
// =============================================================================

// RuleRecord is a stored earning rule with its JSON config.
type RuleRecord struct {
	ID         string
	Name       string
	Kind       string
	Priority   int
	ConfigJSON string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SaveRule saves a rule record.
func (s *Store) SaveRule(ctx context.Context, rule RuleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO earning_rules (id, name, kind, priority, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			priority = excluded.priority,
			config_json = excluded.config_json,
			version = earning_rules.version + 1,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Kind, rule.Priority, rule.ConfigJSON,
		rule.Version, now, now,
	)
	return err
}

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(ctx context.Context, id string) (*RuleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r RuleRecord
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, kind, priority, config_json, version, created_at, updated_at FROM earning_rules WHERE id = ?",
		id,
	).Scan(&r.ID, &r.Name, &r.Kind, &r.Priority, &r.ConfigJSON, &r.Version, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

// ListRules returns all rules ordered by priority.
func (s *Store) ListRules(ctx context.Context) ([]RuleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, kind, priority, config_json, version, created_at, updated_at FROM earning_rules ORDER BY priority, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []RuleRecord
	for rows.Next() {
		var r RuleRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&r.ID, &r.Name, &r.Kind, &r.Priority, &r.ConfigJSON, &r.Version, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM earning_rules WHERE id = ?", id)
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// ClearViews empties the projection tables so a startup rebuild folds
// the event streams into fresh state. Events and rules are untouched.
func (s *Store) ClearViews(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"transfer_views", "account_views"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"ledger_events", "transfer_views", "account_views", "earning_rules"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
