/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All ledger error values in one place. Command failures are synchronous
  and leave no partial state: a command either appends its events or
  returns one of these.

ERROR CATEGORIES:
  1. Lookup errors     - unknown account / transfer
  2. Command errors    - duplicate IDs, illegal state transitions
  3. Concurrency       - stale version on append (caller retries)
  4. Construction      - malformed command parameters

USAGE:
  Callers branch with errors.Is():

    if errors.Is(err, ledger.ErrConcurrentModification) {
        // reload and retry
    }

  InvalidStateTransitionError carries the offending transfer and states for
  error messages; unwrap to ErrInvalidStateTransition.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when an account has no history.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when creating an account that already
	// has history.
	ErrAccountExists = errors.New("account already exists")

	// ErrTransferNotFound is returned when a command targets a transfer ID
	// with no addition record in the account.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrDuplicateTransfer is returned when adding points with a transfer ID
	// that already exists in the account.
	ErrDuplicateTransfer = errors.New("duplicate transfer id")

	// ErrInvalidStateTransition is returned for illegal lifecycle moves:
	// canceling or expiring a deduction, unlocking a record that is not
	// locked, or re-terminating an already terminal record.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrConcurrentModification is returned when an append races another
	// writer. The command had no effect; reload and retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrValidation is returned for malformed command parameters, rejected
	// before any event is emitted.
	ErrValidation = errors.New("validation failed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidStateTransitionError reports the transfer and states involved in an
// illegal transition.
type InvalidStateTransitionError struct {
	TransferID TransferID
	From       TransferState
	To         TransferState
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for transfer %s: %s -> %s", e.TransferID, e.From, e.To)
}

func (e *InvalidStateTransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}

// ValidationError reports which command field was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid caller input
// rather than an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrDuplicateTransfer) ||
		errors.Is(err, ErrAccountExists) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrTransferNotFound) ||
		errors.Is(err, ErrAccountNotFound)
}
