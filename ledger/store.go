/*
store.go - Persistence interfaces for the lending ledger

PURPOSE:
  Defines the contract between domain logic and the relational store. Each
  access pattern gets an explicit, typed method - no generic field-bag
  queries. Implementations: store/sqlite, store/postgres, ledger/store
  (in-memory, for tests).

APPEND-ONLY CONTRACT:
  MovementStore has exactly one write operation, AppendMovement. There is no
  update or delete for movements. The interest-day uniqueness invariant is
  enforced twice: a query-then-insert check in the settlement engine, and a
  partial unique index on (loan_id, at) for the interest class inside the
  store, closing the race window under concurrent settlement.
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MOVEMENT STORE
// =============================================================================

// MovementFilter narrows aggregate queries. Zero value matches everything.
// AtBefore is inclusive (at <= AtBefore), AtAfter exclusive (at > AtAfter),
// which mirrors how the settlement basis and minimum-payment sums are defined.
type MovementFilter struct {
	TypeIn    []MovementTypeCode
	TypeNotIn []MovementTypeCode
	AtAfter   *Date
	AtBefore  *Date
	AtEquals  *Date
}

// MovementQuery shapes listing endpoints.
type MovementQuery struct {
	TypeIn    []MovementTypeCode
	StartDate *Date // inclusive
	EndDate   *Date // inclusive
	Limit     int   // 0 = no limit
}

// MovementStore persists ledger movements. Append-only.
type MovementStore interface {
	// AppendMovement inserts one ledger row, filling ID, UID and CreatedAt.
	// Returns DuplicateInterestDayError when the interest-class unique index
	// rejects the row.
	AppendMovement(ctx context.Context, m *Movement) error

	// SumMovements returns the algebraic sum of matching amounts, zero (not
	// null) when no rows match.
	SumMovements(ctx context.Context, loanID int64, f MovementFilter) (decimal.Decimal, error)

	// FindLastMovement returns the most recent movement by economic date,
	// restricted to the given type codes. Nil when none exists.
	FindLastMovement(ctx context.Context, loanID int64, typeIn []MovementTypeCode) (*Movement, error)

	// FindMovementAt returns a movement of one of the given types effective
	// exactly at the given date. Nil when none exists. This is the
	// settlement idempotence probe.
	FindMovementAt(ctx context.Context, loanID int64, typeIn []MovementTypeCode, at Date) (*Movement, error)

	// FindMovementByUID resolves a movement by its stable identifier.
	// Returns ErrMovementNotFound when absent.
	FindMovementByUID(ctx context.Context, uid string) (*Movement, error)

	// ListMovements returns matching movements ordered by economic date
	// descending.
	ListMovements(ctx context.Context, loanID int64, q MovementQuery) ([]Movement, error)
}

// =============================================================================
// LOAN STORE
// =============================================================================

// LoanStore persists loan aggregates. Loan terms are immutable after
// creation; the only mutation is the one-way paid flag.
type LoanStore interface {
	// CreateLoan inserts a loan, filling ID, UID and timestamps.
	CreateLoan(ctx context.Context, l *Loan) error

	// GetLoanByUID returns ErrLoanNotFound when absent.
	GetLoanByUID(ctx context.Context, uid string) (*Loan, error)

	// GetLoanByID returns ErrLoanNotFound when absent.
	GetLoanByID(ctx context.Context, id int64) (*Loan, error)

	// ListUnpaidLoans returns every loan with paid = false.
	ListUnpaidLoans(ctx context.Context) ([]Loan, error)

	// MarkLoanPaid flips the paid flag. Monotonic: never unset.
	MarkLoanPaid(ctx context.Context, loanID int64) error
}

// =============================================================================
// EVENT STORE (audit log)
// =============================================================================

// EventStore durably records dispatched invocations before processing.
type EventStore interface {
	// RecordEvent inserts an audit row, filling ID and CreatedAt.
	RecordEvent(ctx context.Context, e *Event) error

	// RecordEventError attaches an error message to a recorded event.
	RecordEventError(ctx context.Context, eventID int64, errMsg string) error
}

// =============================================================================
// OUTBOX STORE
// =============================================================================

// OutboxStore holds pending domain notifications. Entries are enqueued in
// the same transaction as the ledger write and delivered at-least-once by
// the outbox dispatcher.
type OutboxStore interface {
	EnqueueOutbox(ctx context.Context, e *OutboxEntry) error

	// PendingOutbox returns undelivered entries, oldest first.
	PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error)

	MarkOutboxDelivered(ctx context.Context, id int64) error

	// MarkOutboxFailed increments the attempt counter; the entry stays
	// pending and will be retried.
	MarkOutboxFailed(ctx context.Context, id int64) error
}

// =============================================================================
// GATEWAY STORE
// =============================================================================

// GatewayStore persists payment-gateway checkout records.
type GatewayStore interface {
	CreateGatewayTransaction(ctx context.Context, t *GatewayTransaction) error

	// GetGatewayTransactionByUID returns ErrGatewayTransactionNotFound when
	// absent.
	GetGatewayTransactionByUID(ctx context.Context, uid string) (*GatewayTransaction, error)

	// UpdateGatewayTransaction writes status/reference/comment/used fields.
	UpdateGatewayTransaction(ctx context.Context, t *GatewayTransaction) error
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is the full persistence surface the services depend on.
type Store interface {
	MovementStore
	LoanStore
	EventStore
	OutboxStore
	GatewayStore
}

// TxStore is implemented by stores that can scope operations to one
// relational transaction. Services type-assert for it and fall back to
// direct calls when the store cannot provide transactions.
type TxStore interface {
	WithTx(ctx context.Context, fn func(Store) error) error
}
