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

func TestMinimumPaymentAmount_NoPaymentYet(t *testing.T) {
	// With no payment on record the minimum is all accrued interest.
	mem := store.NewMemory()
	start := ledger.NewDate(2022, time.April, 15)
	loan := disbursedLoan(t, mem, start)
	accrueDays(t, mem, loan.UID, start, 3)

	minimum, err := NewCalculator(mem).MinimumPaymentAmount(context.Background(), loan.UID)
	require.NoError(t, err)
	assert.True(t, minimum.Equal(decimal.NewFromInt(15_000)), "got %s", minimum)
}

func TestMinimumPaymentAmount_FreshLoanIsZero(t *testing.T) {
	mem := store.NewMemory()
	start := ledger.NewDate(2022, time.April, 15)
	loan := disbursedLoan(t, mem, start)

	minimum, err := NewCalculator(mem).MinimumPaymentAmount(context.Background(), loan.UID)
	require.NoError(t, err)
	assert.True(t, minimum.IsZero(), "got %s", minimum)
}

func TestMinimumPaymentAmount_NeverDecreasesAsInterestAccrues(t *testing.T) {
	// GIVEN: a disbursed loan with no intervening payment
	// WHEN: settling it repeatedly, through the grace period and past it
	// THEN: the minimum payment amount never decreases between runs

	mem := store.NewMemory()
	start := ledger.NewDate(2022, time.April, 15)
	loan := disbursedLoan(t, mem, start)
	calc := NewCalculator(mem)
	ctx := context.Background()

	previous := decimal.Zero
	for _, days := range []int{1, 3, 10, 25, 31, 35, 45} {
		accrueDays(t, mem, loan.UID, start, days)

		minimum, err := calc.MinimumPaymentAmount(ctx, loan.UID)
		require.NoError(t, err)
		assert.True(t, minimum.GreaterThanOrEqual(previous),
			"minimum dropped from %s to %s after %d days", previous, minimum, days)
		previous = minimum
	}

	// The walk actually moved: 45 days without payment is well past zero.
	assert.True(t, previous.GreaterThan(decimal.Zero))
}

func TestNextPaymentDueDate(t *testing.T) {
	mem := store.NewMemory()
	start := ledger.NewDate(2022, time.April, 15)
	loan := disbursedLoan(t, mem, start)
	calc := NewCalculator(mem)
	ctx := context.Background()

	// No payment: 30 days after disbursement
	due, err := calc.NextPaymentDueDate(ctx, loan.UID)
	require.NoError(t, err)
	assert.True(t, due.Equal(start.AddDays(30)), "got %s", due)

	// After a payment: 30 days after that payment
	accrueDays(t, mem, loan.UID, start, 5)
	payDay := start.AddDays(5)
	_, err = NewPaymentService(mem, DefaultConfig(), testLogger()).
		CreatePayment(ctx, loan.UID, decimal.NewFromInt(25_000), payDay)
	require.NoError(t, err)

	due, err = calc.NextPaymentDueDate(ctx, loan.UID)
	require.NoError(t, err)
	assert.True(t, due.Equal(payDay.AddDays(30)), "got %s", due)
}

func TestPaymentStatus_FollowsInterestTail(t *testing.T) {
	mem := store.NewMemory()
	start := ledger.NewDate(2022, time.January, 1)
	loan := disbursedLoan(t, mem, start)
	calc := NewCalculator(mem)
	ctx := context.Background()

	// No interest accrued yet
	status, err := calc.PaymentStatus(ctx, loan.UID)
	require.NoError(t, err)
	assert.Equal(t, StatusCurrent, status)

	// Inside the grace period
	accrueDays(t, mem, loan.UID, start, 10)
	status, err = calc.PaymentStatus(ctx, loan.UID)
	require.NoError(t, err)
	assert.Equal(t, StatusCurrent, status)

	// Past the grace period: latest interest movement is overdue-typed
	accrueDays(t, mem, loan.UID, start, 35)
	status, err = calc.PaymentStatus(ctx, loan.UID)
	require.NoError(t, err)
	assert.Equal(t, StatusOverdue, status)
}

func TestPaymentStatus_PaidWinsOverTail(t *testing.T) {
	mem := store.NewMemory()
	start := ledger.NewDate(2022, time.January, 1)
	loan := disbursedLoan(t, mem, start)
	ctx := context.Background()

	accrueDays(t, mem, loan.UID, start, 35)
	require.NoError(t, mem.MarkLoanPaid(ctx, loan.ID))

	status, err := NewCalculator(mem).PaymentStatus(ctx, loan.UID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, status)
}

func TestTotalOutstandingAmount(t *testing.T) {
	// 6,000,000 + 5 x 5,000 - 25,000 = 6,000,000
	mem := store.NewMemory()
	start := ledger.NewDate(2022, time.April, 15)
	loan := disbursedLoan(t, mem, start)
	ctx := context.Background()

	accrueDays(t, mem, loan.UID, start, 5)
	_, err := NewPaymentService(mem, DefaultConfig(), testLogger()).
		CreatePayment(ctx, loan.UID, decimal.NewFromInt(25_000), start.AddDays(5))
	require.NoError(t, err)

	total, err := NewCalculator(mem).TotalOutstandingAmount(ctx, loan.UID)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(6_000_000)), "got %s", total)
}

func TestPayments_ListsOnlyPayments(t *testing.T) {
	mem := store.NewMemory()
	start := ledger.NewDate(2022, time.April, 15)
	loan := disbursedLoan(t, mem, start)
	ctx := context.Background()

	accrueDays(t, mem, loan.UID, start, 5)
	svc := NewPaymentService(mem, DefaultConfig(), testLogger())
	_, err := svc.CreatePayment(ctx, loan.UID, decimal.NewFromInt(25_000), start.AddDays(5))
	require.NoError(t, err)

	accrueDays(t, mem, loan.UID, start, 7)
	_, err = svc.CreatePayment(ctx, loan.UID, decimal.NewFromInt(10_000), start.AddDays(7))
	require.NoError(t, err)

	got, err := NewCalculator(mem).Payments(ctx, loan.UID, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first
	assert.True(t, got[0].At.Equal(start.AddDays(7)))
	assert.True(t, got[1].At.Equal(start.AddDays(5)))
	for _, m := range got {
		assert.Equal(t, ledger.CodePayment, m.Type)
	}
}

func TestCalculator_UndisbursedLoan(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	loan, err := ledger.NewLoan(
		decimal.NewFromInt(1000),
		decimal.RequireFromString("0.025"),
		decimal.RequireFromString("0.04"),
		ledger.NewDate(2022, time.April, 15),
		"",
	)
	require.NoError(t, err)
	require.NoError(t, mem.CreateLoan(ctx, loan))

	calc := NewCalculator(mem)

	_, err = calc.MinimumPaymentAmount(ctx, loan.UID)
	assert.ErrorIs(t, err, ledger.ErrNoDisbursement)
	_, err = calc.NextPaymentDueDate(ctx, loan.UID)
	assert.ErrorIs(t, err, ledger.ErrNoDisbursement)
	_, err = calc.PaymentStatus(ctx, loan.UID)
	assert.ErrorIs(t, err, ledger.ErrNoDisbursement)
	_, err = calc.TotalOutstandingAmount(ctx, loan.UID)
	assert.ErrorIs(t, err, ledger.ErrNoDisbursement)
}
