package lending

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/ledger/store"
)

func TestLoanCreate_PersistsLoanAndDisbursement(t *testing.T) {
	mem := store.NewMemory()
	svc := NewLoanService(mem, testLogger())
	ctx := context.Background()

	start := ledger.NewDate(2022, time.April, 15)
	loan, err := svc.Create(ctx, CreateLoanInput{
		Amount:                     decimal.NewFromInt(6_000_000),
		MonthlyInterestRate:        decimal.RequireFromString("0.025"),
		MonthlyInterestOverdueRate: decimal.RequireFromString("0.04"),
		StartDate:                  start,
		Description:                "bike purchase",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, loan.UID)
	assert.True(t, loan.AnnualInterestRate.Equal(decimal.RequireFromString("0.3")), "got %s", loan.AnnualInterestRate)
	assert.True(t, loan.AnnualInterestOverdueRate.Equal(decimal.RequireFromString("0.48")), "got %s", loan.AnnualInterestOverdueRate)
	assert.False(t, loan.Paid)

	movements := ledger.NewMovementLedger(mem)
	disbursement, err := movements.Disbursement(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, disbursement.Amount.Equal(loan.Amount))
	assert.True(t, disbursement.At.Equal(start))
}

func TestLoanCreate_RejectsInvalidTerms(t *testing.T) {
	mem := store.NewMemory()
	svc := NewLoanService(mem, testLogger())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateLoanInput{
		Amount:                     decimal.Zero,
		MonthlyInterestRate:        decimal.RequireFromString("0.025"),
		MonthlyInterestOverdueRate: decimal.RequireFromString("0.04"),
		StartDate:                  ledger.NewDate(2022, time.April, 15),
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	loans, err := mem.ListUnpaidLoans(ctx)
	require.NoError(t, err)
	assert.Empty(t, loans, "rejected input must write nothing")
}
