package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.MovementLedger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return ledger.NewMovementLedger(mem), mem
}

func seedLoan(t *testing.T, mem *store.Memory) *ledger.Loan {
	t.Helper()
	loan, err := ledger.NewLoan(
		decimal.NewFromInt(6_000_000),
		decimal.RequireFromString("0.025"),
		decimal.RequireFromString("0.04"),
		ledger.NewDate(2022, time.April, 15),
		"test loan",
	)
	require.NoError(t, err)
	require.NoError(t, mem.CreateLoan(context.Background(), loan))
	return loan
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestMovementLedger_Disbursement(t *testing.T) {
	// GIVEN: a loan with no movements
	// WHEN: asking for the disbursement
	// THEN: ErrNoDisbursement, until one is appended

	l, mem := newTestLedger(t)
	loan := seedLoan(t, mem)
	ctx := context.Background()

	_, err := l.Disbursement(ctx, loan.ID)
	assert.ErrorIs(t, err, ledger.ErrNoDisbursement)

	_, err = l.Append(ctx, loan.ID, ledger.CodeDisbursement, loan.Amount, loan.StartDate)
	require.NoError(t, err)

	d, err := l.Disbursement(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, d.At.Equal(loan.StartDate))
	assert.True(t, d.Amount.Equal(loan.Amount))
}

func TestMovementLedger_LastInterestAndPayment(t *testing.T) {
	l, mem := newTestLedger(t)
	loan := seedLoan(t, mem)
	ctx := context.Background()

	_, err := l.Append(ctx, loan.ID, ledger.CodeDisbursement, loan.Amount, loan.StartDate)
	require.NoError(t, err)

	// No interest or payment yet
	last, err := l.LastInterest(ctx, loan.ID)
	require.NoError(t, err)
	assert.Nil(t, last)
	lastPay, err := l.LastPayment(ctx, loan.ID)
	require.NoError(t, err)
	assert.Nil(t, lastPay)

	day1 := loan.StartDate.AddDays(1)
	day2 := loan.StartDate.AddDays(2)
	_, err = l.Append(ctx, loan.ID, ledger.CodeCurrentInterest, decimal.NewFromInt(5000), day1)
	require.NoError(t, err)
	_, err = l.Append(ctx, loan.ID, ledger.CodeOverdueInterest, decimal.NewFromInt(8000), day2)
	require.NoError(t, err)
	_, err = l.Append(ctx, loan.ID, ledger.CodePayment, decimal.NewFromInt(-10000), day1)
	require.NoError(t, err)

	// Last interest is the most recent by economic date, either class
	last, err = l.LastInterest(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, ledger.CodeOverdueInterest, last.Type)
	assert.True(t, last.At.Equal(day2))

	lastPay, err = l.LastPayment(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, lastPay)
	assert.True(t, lastPay.At.Equal(day1))
}

func TestMovementLedger_InterestDayUniqueness(t *testing.T) {
	// GIVEN: an interest movement on a day
	// WHEN: appending another interest movement (either class) on the same day
	// THEN: rejected with DuplicateInterestDayError

	l, mem := newTestLedger(t)
	loan := seedLoan(t, mem)
	ctx := context.Background()

	day := loan.StartDate.AddDays(1)
	_, err := l.Append(ctx, loan.ID, ledger.CodeCurrentInterest, decimal.NewFromInt(5000), day)
	require.NoError(t, err)

	_, err = l.Append(ctx, loan.ID, ledger.CodeOverdueInterest, decimal.NewFromInt(8000), day)
	require.Error(t, err)
	var dupErr *ledger.DuplicateInterestDayError
	assert.ErrorAs(t, err, &dupErr)
	assert.ErrorIs(t, err, ledger.ErrDuplicateInterestDay)
	assert.True(t, dupErr.Day.Equal(day))
	assert.Equal(t, loan.ID, dupErr.LoanID)
	assert.Contains(t, err.Error(), fmt.Sprintf("loan %d", loan.ID))

	// Payments on an interest day are fine
	_, err = l.Append(ctx, loan.ID, ledger.CodePayment, decimal.NewFromInt(-100), day)
	assert.NoError(t, err)
}

func TestMovementLedger_BalanceAsOf_InclusiveBoundary(t *testing.T) {
	// GIVEN: disbursement on day 0, interest on days 1 and 2
	// WHEN: asking for the balance as of day 1
	// THEN: day 1 is included, day 2 is not

	l, mem := newTestLedger(t)
	loan := seedLoan(t, mem)
	ctx := context.Background()

	_, err := l.Append(ctx, loan.ID, ledger.CodeDisbursement, loan.Amount, loan.StartDate)
	require.NoError(t, err)
	_, err = l.Append(ctx, loan.ID, ledger.CodeCurrentInterest, decimal.NewFromInt(5000), loan.StartDate.AddDays(1))
	require.NoError(t, err)
	_, err = l.Append(ctx, loan.ID, ledger.CodeCurrentInterest, decimal.NewFromInt(5000), loan.StartDate.AddDays(2))
	require.NoError(t, err)

	balance, err := l.BalanceAsOf(ctx, loan.ID, loan.StartDate.AddDays(1))
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(6_005_000)), "got %s", balance)
}

func TestMovementLedger_Total_AlgebraicSum(t *testing.T) {
	l, mem := newTestLedger(t)
	loan := seedLoan(t, mem)
	ctx := context.Background()

	_, err := l.Append(ctx, loan.ID, ledger.CodeDisbursement, loan.Amount, loan.StartDate)
	require.NoError(t, err)
	_, err = l.Append(ctx, loan.ID, ledger.CodeCurrentInterest, decimal.NewFromInt(5000), loan.StartDate.AddDays(1))
	require.NoError(t, err)
	_, err = l.Append(ctx, loan.ID, ledger.CodePayment, decimal.NewFromInt(-1_000_000), loan.StartDate.AddDays(10))
	require.NoError(t, err)

	total, err := l.Total(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(5_005_000)), "got %s", total)
}

func TestMovementLedger_List_NewestFirstWithLimit(t *testing.T) {
	l, mem := newTestLedger(t)
	loan := seedLoan(t, mem)
	ctx := context.Background()

	_, err := l.Append(ctx, loan.ID, ledger.CodeDisbursement, loan.Amount, loan.StartDate)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err = l.Append(ctx, loan.ID, ledger.CodeCurrentInterest, decimal.NewFromInt(5000), loan.StartDate.AddDays(i))
		require.NoError(t, err)
	}

	out, err := l.List(ctx, loan.ID, ledger.MovementQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].At.After(out[1].At))
	assert.True(t, out[0].At.Equal(loan.StartDate.AddDays(3)))

	// Type filter
	payments, err := l.List(ctx, loan.ID, ledger.MovementQuery{
		TypeIn: []ledger.MovementTypeCode{ledger.CodePayment},
	})
	require.NoError(t, err)
	assert.Empty(t, payments)
}
