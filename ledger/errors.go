/*
errors.go - Centralized error types for the payment ledger

PURPOSE:
  All error kinds in one place. Callers classify with errors.Is/As and the
  helpers at the bottom; the API layer maps classes to HTTP status codes.

ERROR CATEGORIES:
  1. Validation errors - caller input is wrong, never retried
  2. Not-found errors - referenced record/invoice missing
  3. Transient errors - optimistic-concurrency conflicts, store outages;
     the engine retries these a bounded number of times

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) { ... }

  var ib *ledger.InsufficientBalanceError
  if errors.As(err, &ib) { show(ib.Shortfall) }

SEE ALSO:
  - engine.go: retry policy built on IsRetryable
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when a payment or settlement amount is
	// zero or negative.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance is returned when a settlement requests more
	// than the client's unallocated balance.
	ErrInsufficientBalance = errors.New("insufficient unallocated balance")

	// ErrInvoiceNotFound is returned when a referenced invoice doesn't exist.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrPaymentNotFound is returned when a referenced payment record
	// doesn't exist.
	ErrPaymentNotFound = errors.New("payment record not found")

	// ErrClientMismatch is returned when an operation targets an invoice
	// that belongs to a different client.
	ErrClientMismatch = errors.New("invoice belongs to a different client")

	// ErrConcurrentModification is returned when the client's record set
	// changed under an operation. The whole operation should be retried.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrStoreUnavailable is returned on transient persistence failures.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports how short the unallocated pool is.
type InsufficientBalanceError struct {
	ClientID  ClientID
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for client %s: available %s, requested %s, shortfall %s",
		e.ClientID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on a full re-read and
// retry of the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to invalid caller input.
// These are terminal: the engine reports them without retrying.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrClientMismatch)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}
