/*
ledger.go - Typed query surface over the movement store

PURPOSE:
  MovementLedger wraps a MovementStore with the access patterns the
  settlement engine and the derived-state calculators share: fetching the
  disbursement anchor, the latest interest or payment movement, probing a
  single day, and summing slices of the ledger.

INVARIANT:
  Every derived calculation is anchored on the disbursement movement; its
  absence means the loan was never disbursed and is surfaced as
  ErrNoDisbursement rather than a silent zero.
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MOVEMENT LEDGER
// =============================================================================

// MovementLedger is the read/append surface for one loan's movement series.
type MovementLedger struct {
	store MovementStore
}

// NewMovementLedger wraps a movement store.
func NewMovementLedger(store MovementStore) *MovementLedger {
	return &MovementLedger{store: store}
}

// Append writes one movement. Business checks (minimum payment, idempotence)
// are the caller's responsibility; the ledger never rejects on business
// grounds beyond the store's own uniqueness index.
func (l *MovementLedger) Append(ctx context.Context, loanID int64, code MovementTypeCode, amount decimal.Decimal, at Date) (*Movement, error) {
	m := &Movement{
		LoanID: loanID,
		Type:   code,
		Amount: amount,
		At:     at,
	}
	if err := l.store.AppendMovement(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Disbursement returns the loan's disbursement movement, or
// ErrNoDisbursement when the loan was never disbursed.
func (l *MovementLedger) Disbursement(ctx context.Context, loanID int64) (*Movement, error) {
	m, err := l.store.FindLastMovement(ctx, loanID, []MovementTypeCode{CodeDisbursement})
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNoDisbursement
	}
	return m, nil
}

// LastInterest returns the most recent interest movement (current or
// overdue), nil when no interest has accrued yet.
func (l *MovementLedger) LastInterest(ctx context.Context, loanID int64) (*Movement, error) {
	return l.store.FindLastMovement(ctx, loanID, InterestCodes())
}

// LastPayment returns the most recent payment movement, nil when none.
func (l *MovementLedger) LastPayment(ctx context.Context, loanID int64) (*Movement, error) {
	return l.store.FindLastMovement(ctx, loanID, []MovementTypeCode{CodePayment})
}

// InterestOn probes for an interest movement effective exactly on the given
// day. Nil means the day is unsettled.
func (l *MovementLedger) InterestOn(ctx context.Context, loanID int64, day Date) (*Movement, error) {
	return l.store.FindMovementAt(ctx, loanID, InterestCodes(), day)
}

// Sum aggregates matching amounts; zero when nothing matches.
func (l *MovementLedger) Sum(ctx context.Context, loanID int64, f MovementFilter) (decimal.Decimal, error) {
	return l.store.SumMovements(ctx, loanID, f)
}

// BalanceAsOf sums every movement effective on or before the given date:
// principal plus accrued interest minus payments, as of that day.
func (l *MovementLedger) BalanceAsOf(ctx context.Context, loanID int64, at Date) (decimal.Decimal, error) {
	return l.store.SumMovements(ctx, loanID, MovementFilter{AtBefore: &at})
}

// Total is the algebraic sum of the whole series - the outstanding amount.
func (l *MovementLedger) Total(ctx context.Context, loanID int64) (decimal.Decimal, error) {
	return l.store.SumMovements(ctx, loanID, MovementFilter{})
}

// List returns movements for display, newest first.
func (l *MovementLedger) List(ctx context.Context, loanID int64, q MovementQuery) ([]Movement, error) {
	return l.store.ListMovements(ctx, loanID, q)
}
