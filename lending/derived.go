/*
derived.go - Derived-state calculators

Everything here is computed by querying the ledger; no derived value is ever
stored. All four calculators require the disbursement movement and surface
ErrNoDisbursement otherwise.
*/
package lending

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/ledger"
)

// =============================================================================
// PAYMENT STATUS
// =============================================================================

type PaymentStatus string

const (
	StatusCurrent   PaymentStatus = "current"
	StatusOverdue   PaymentStatus = "overdue"
	StatusUndefined PaymentStatus = "undefined"
	StatusPaid      PaymentStatus = "paid"
)

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator answers the borrower-facing questions about a loan.
type Calculator struct {
	store     ledger.Store
	movements *ledger.MovementLedger
}

func NewCalculator(store ledger.Store) *Calculator {
	return &Calculator{
		store:     store,
		movements: ledger.NewMovementLedger(store),
	}
}

// resolve fetches the loan and asserts it has been disbursed.
func (c *Calculator) resolve(ctx context.Context, loanUID string) (*ledger.Loan, *ledger.Movement, error) {
	loan, err := c.store.GetLoanByUID(ctx, loanUID)
	if err != nil {
		return nil, nil, err
	}
	disbursement, err := c.movements.Disbursement(ctx, loan.ID)
	if err != nil {
		return nil, nil, err
	}
	return loan, disbursement, nil
}

// MinimumPaymentAmount is the accrued-interest-only figure a borrower must
// pay to stay current: every non-disbursement, non-payment movement since
// the last payment, or since origination when no payment exists yet.
func (c *Calculator) MinimumPaymentAmount(ctx context.Context, loanUID string) (decimal.Decimal, error) {
	loan, _, err := c.resolve(ctx, loanUID)
	if err != nil {
		return decimal.Zero, err
	}

	lastPayment, err := c.movements.LastPayment(ctx, loan.ID)
	if err != nil {
		return decimal.Zero, err
	}

	if lastPayment != nil {
		at := lastPayment.At
		return c.movements.Sum(ctx, loan.ID, ledger.MovementFilter{
			TypeNotIn: []ledger.MovementTypeCode{ledger.CodeDisbursement, ledger.CodePayment},
			AtAfter:   &at,
		})
	}

	return c.movements.Sum(ctx, loan.ID, ledger.MovementFilter{
		TypeNotIn: []ledger.MovementTypeCode{ledger.CodeDisbursement},
	})
}

// NextPaymentDueDate is 30 days after the last payment, or after
// disbursement when no payment has been made.
func (c *Calculator) NextPaymentDueDate(ctx context.Context, loanUID string) (ledger.Date, error) {
	loan, disbursement, err := c.resolve(ctx, loanUID)
	if err != nil {
		return ledger.Date{}, err
	}

	lastPayment, err := c.movements.LastPayment(ctx, loan.ID)
	if err != nil {
		return ledger.Date{}, err
	}
	if lastPayment != nil {
		return lastPayment.At.AddDays(30), nil
	}
	return disbursement.At.AddDays(30), nil
}

// PaymentStatus reads the most recent interest movement's type: paid loans
// are "paid", a current-interest tail means "current", an overdue tail
// "overdue", and a loan with no interest accrued yet is "current".
func (c *Calculator) PaymentStatus(ctx context.Context, loanUID string) (PaymentStatus, error) {
	loan, _, err := c.resolve(ctx, loanUID)
	if err != nil {
		return StatusUndefined, err
	}

	if loan.Paid {
		return StatusPaid, nil
	}

	lastInterest, err := c.movements.LastInterest(ctx, loan.ID)
	if err != nil {
		return StatusUndefined, err
	}
	if lastInterest == nil {
		return StatusCurrent, nil
	}

	switch lastInterest.Type {
	case ledger.CodeCurrentInterest:
		return StatusCurrent, nil
	case ledger.CodeOverdueInterest:
		return StatusOverdue, nil
	}
	return StatusUndefined, nil
}

// TotalOutstandingAmount is the algebraic sum of the entire series:
// disbursement plus all interest minus all payments.
func (c *Calculator) TotalOutstandingAmount(ctx context.Context, loanUID string) (decimal.Decimal, error) {
	loan, _, err := c.resolve(ctx, loanUID)
	if err != nil {
		return decimal.Zero, err
	}
	return c.movements.Total(ctx, loan.ID)
}

// Movements lists a loan's ledger rows, newest first.
func (c *Calculator) Movements(ctx context.Context, loanUID string, q ledger.MovementQuery) ([]ledger.Movement, error) {
	loan, _, err := c.resolve(ctx, loanUID)
	if err != nil {
		return nil, err
	}
	return c.movements.List(ctx, loan.ID, q)
}

// Payments lists a loan's payment movements, newest first.
func (c *Calculator) Payments(ctx context.Context, loanUID string, limit int) ([]ledger.Movement, error) {
	loan, _, err := c.resolve(ctx, loanUID)
	if err != nil {
		return nil, err
	}
	return c.movements.List(ctx, loan.ID, ledger.MovementQuery{
		TypeIn: []ledger.MovementTypeCode{ledger.CodePayment},
		Limit:  limit,
	})
}
