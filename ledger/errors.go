/*
errors.go - Centralized error types for the lending engine

ERROR CATEGORIES:
  1. NotFound     - referenced loan/movement/type absent (404-class, fatal)
  2. Conflict     - business-rule violation (409-class)
  3. Unauthorized - invalid shared secret on privileged operations (401-class)
  4. InvalidInput - malformed request payloads (400-class)

Everything else is internal. Dispatched (fire-and-forget) invocations convert
these into {status, message} results; synchronous operations propagate them.
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
	// ErrLoanNotFound is returned when a loan uid resolves to nothing.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrMovementNotFound is returned when a movement uid resolves to nothing.
	ErrMovementNotFound = errors.New("movement not found")

	// ErrMovementTypeNotFound is returned when a catalog code is unknown.
	ErrMovementTypeNotFound = errors.New("movement type not found")

	// ErrNoDisbursement is returned when a loan has no disbursement movement.
	// Every derived calculation requires one, so this is fatal to the caller.
	ErrNoDisbursement = errors.New("loan has no disbursement movement")

	// ErrDuplicateInterestDay is returned when an interest movement already
	// exists for the loan on that calendar day.
	ErrDuplicateInterestDay = errors.New("interest movement already exists for day")

	// ErrPaymentBelowMinimum is returned when a payment does not cover the
	// minimum payment amount.
	ErrPaymentBelowMinimum = errors.New("payment below minimum amount")

	// ErrGatewayTransactionNotFound is returned on confirmation of an unknown
	// gateway transaction.
	ErrGatewayTransactionNotFound = errors.New("gateway transaction not found")

	// ErrGatewayTransactionUsed is returned when a confirmation replays a
	// transaction that was already consumed.
	ErrGatewayTransactionUsed = errors.New("gateway transaction already used")

	// ErrAmountMismatch is returned when a confirmation amount differs from
	// the recorded gateway transaction amount.
	ErrAmountMismatch = errors.New("amount mismatch")

	// ErrInvalidSignature is returned when a confirmation signature fails
	// verification.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnauthorized is returned for an invalid API key on privileged
	// operations.
	ErrUnauthorized = errors.New("invalid key")

	// ErrInvalidInput is returned for malformed or incomplete payloads.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BelowMinimumError reports a rejected payment with the figures involved.
type BelowMinimumError struct {
	LoanUID string
	Amount  decimal.Decimal
	Minimum decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("the payment amount %s is lower than the minimum loan payment amount %s",
		e.Amount, e.Minimum)
}

func (e *BelowMinimumError) Unwrap() error { return ErrPaymentBelowMinimum }

// DuplicateInterestDayError identifies the loan and day of a duplicate
// settlement attempt.
type DuplicateInterestDayError struct {
	LoanID int64
	Day    Date
}

func (e *DuplicateInterestDayError) Error() string {
	return fmt.Sprintf("interest movement already exists for loan %d on %s", e.LoanID, e.Day)
}

func (e *DuplicateInterestDayError) Unwrap() error { return ErrDuplicateInterestDay }

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsNotFound reports whether the error is NotFound-class (404 equivalent).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLoanNotFound) ||
		errors.Is(err, ErrMovementNotFound) ||
		errors.Is(err, ErrMovementTypeNotFound) ||
		errors.Is(err, ErrNoDisbursement) ||
		errors.Is(err, ErrGatewayTransactionNotFound)
}

// IsConflict reports whether the error is Conflict-class (409 equivalent).
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateInterestDay) ||
		errors.Is(err, ErrPaymentBelowMinimum) ||
		errors.Is(err, ErrGatewayTransactionUsed) ||
		errors.Is(err, ErrAmountMismatch) ||
		errors.Is(err, ErrInvalidSignature)
}

// IsUnauthorized reports whether the error is Unauthorized-class (401).
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsInvalidInput reports whether the error is a client input error (400).
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
