package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LOAN - Immutable terms plus the one-way paid flag
// =============================================================================

// Loan holds the lending terms. Amount and rates never change after
// creation; the annual rates are derived from the monthly ones at creation
// time (annual = monthly x 12) and the pair is stored denormalized.
type Loan struct {
	ID                         int64
	UID                        string
	Description                string
	Amount                     decimal.Decimal
	MonthlyInterestRate        decimal.Decimal
	AnnualInterestRate         decimal.Decimal
	MonthlyInterestOverdueRate decimal.Decimal
	AnnualInterestOverdueRate  decimal.Decimal
	StartDate                  Date
	Paid                       bool
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

var twelve = decimal.NewFromInt(12)

// NewLoan validates terms and derives the annual rates.
func NewLoan(amount, monthlyRate, monthlyOverdueRate decimal.Decimal, startDate Date, description string) (*Loan, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: loan amount must be positive, got %s", ErrInvalidInput, amount)
	}
	if monthlyRate.IsNegative() || monthlyOverdueRate.IsNegative() {
		return nil, fmt.Errorf("%w: interest rates must not be negative", ErrInvalidInput)
	}
	if startDate.IsZero() {
		return nil, fmt.Errorf("%w: start date is required", ErrInvalidInput)
	}

	return &Loan{
		Description:                description,
		Amount:                     amount,
		MonthlyInterestRate:        monthlyRate,
		AnnualInterestRate:         monthlyRate.Mul(twelve),
		MonthlyInterestOverdueRate: monthlyOverdueRate,
		AnnualInterestOverdueRate:  monthlyOverdueRate.Mul(twelve),
		StartDate:                  startDate,
	}, nil
}
