/*
loans.go - Loan origination

Creating a loan and appending its disbursement movement happen in one store
transaction: a loan without a disbursement movement is unusable (every
derived calculation fails with ErrNoDisbursement), so the two rows must not
be separable by a crash.
*/
package lending

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/lending-engine/ledger"
)

// LoanService originates loans.
type LoanService struct {
	store ledger.Store
	log   *logrus.Logger
}

func NewLoanService(store ledger.Store, log *logrus.Logger) *LoanService {
	return &LoanService{store: store, log: log}
}

// CreateLoanInput carries the loan terms. Annual rates are derived, never
// accepted from the caller.
type CreateLoanInput struct {
	Amount                     decimal.Decimal
	MonthlyInterestRate        decimal.Decimal
	MonthlyInterestOverdueRate decimal.Decimal
	StartDate                  ledger.Date
	Description                string
}

// Create persists the loan and its disbursement movement
// (amount = principal, at = start date).
func (s *LoanService) Create(ctx context.Context, input CreateLoanInput) (*ledger.Loan, error) {
	loan, err := ledger.NewLoan(
		input.Amount,
		input.MonthlyInterestRate,
		input.MonthlyInterestOverdueRate,
		input.StartDate,
		input.Description,
	)
	if err != nil {
		return nil, err
	}

	err = inTx(ctx, s.store, func(st ledger.Store) error {
		if err := st.CreateLoan(ctx, loan); err != nil {
			return err
		}
		movements := ledger.NewMovementLedger(st)
		_, err := movements.Append(ctx, loan.ID, ledger.CodeDisbursement, loan.Amount, loan.StartDate)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"loan":      loan.UID,
		"amount":    loan.Amount.String(),
		"startDate": loan.StartDate.String(),
	}).Info("loan created")

	return loan, nil
}

// inTx scopes fn to a store transaction when the store supports one.
func inTx(ctx context.Context, store ledger.Store, fn func(ledger.Store) error) error {
	if tx, ok := store.(ledger.TxStore); ok {
		return tx.WithTx(ctx, fn)
	}
	return fn(store)
}
