package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedLoan(t *testing.T, st *sqlite.Store) *ledger.Loan {
	t.Helper()
	loan, err := ledger.NewLoan(
		decimal.NewFromInt(6_000_000),
		decimal.RequireFromString("0.025"),
		decimal.RequireFromString("0.04"),
		ledger.NewDate(2022, time.April, 15),
		"sqlite test loan",
	)
	require.NoError(t, err)
	require.NoError(t, st.CreateLoan(context.Background(), loan))
	return loan
}

// =============================================================================
// LOANS
// =============================================================================

func TestSQLite_LoanRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	loan := seedLoan(t, st)
	require.NotZero(t, loan.ID)
	require.NotEmpty(t, loan.UID)

	byUID, err := st.GetLoanByUID(ctx, loan.UID)
	require.NoError(t, err)
	assert.Equal(t, loan.ID, byUID.ID)
	assert.True(t, byUID.Amount.Equal(loan.Amount))
	assert.True(t, byUID.AnnualInterestRate.Equal(loan.AnnualInterestRate))
	assert.True(t, byUID.StartDate.Equal(loan.StartDate))
	assert.False(t, byUID.Paid)

	byID, err := st.GetLoanByID(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.UID, byID.UID)

	_, err = st.GetLoanByUID(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrLoanNotFound)
}

func TestSQLite_MarkLoanPaid(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	loan := seedLoan(t, st)

	unpaid, err := st.ListUnpaidLoans(ctx)
	require.NoError(t, err)
	require.Len(t, unpaid, 1)

	require.NoError(t, st.MarkLoanPaid(ctx, loan.ID))

	got, err := st.GetLoanByUID(ctx, loan.UID)
	require.NoError(t, err)
	assert.True(t, got.Paid)

	unpaid, err = st.ListUnpaidLoans(ctx)
	require.NoError(t, err)
	assert.Empty(t, unpaid)
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func TestSQLite_MovementLedger(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	loan := seedLoan(t, st)
	movements := ledger.NewMovementLedger(st)

	_, err := movements.Append(ctx, loan.ID, ledger.CodeDisbursement, loan.Amount, loan.StartDate)
	require.NoError(t, err)

	day := loan.StartDate.AddDays(1)
	_, err = movements.Append(ctx, loan.ID, ledger.CodeCurrentInterest, decimal.NewFromInt(5000), day)
	require.NoError(t, err)

	balance, err := movements.BalanceAsOf(ctx, loan.ID, day)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(6_005_000)), "got %s", balance)

	last, err := movements.LastInterest(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.At.Equal(day))
	assert.Equal(t, ledger.CodeCurrentInterest, last.Type)
}

func TestSQLite_InterestDayUniqueIndex(t *testing.T) {
	// The partial unique index must hold across interest types, not within.
	st := newTestStore(t)
	ctx := context.Background()
	loan := seedLoan(t, st)
	movements := ledger.NewMovementLedger(st)

	_, err := movements.Append(ctx, loan.ID, ledger.CodeDisbursement, loan.Amount, loan.StartDate)
	require.NoError(t, err)

	day := loan.StartDate.AddDays(1)
	_, err = movements.Append(ctx, loan.ID, ledger.CodeCurrentInterest, decimal.NewFromInt(5000), day)
	require.NoError(t, err)

	_, err = movements.Append(ctx, loan.ID, ledger.CodeOverdueInterest, decimal.NewFromInt(8000), day)
	require.Error(t, err)
	var dup *ledger.DuplicateInterestDayError
	assert.ErrorAs(t, err, &dup)
	assert.ErrorIs(t, err, ledger.ErrDuplicateInterestDay)
	assert.Equal(t, loan.ID, dup.LoanID)

	// A payment on the interest day is unaffected
	_, err = movements.Append(ctx, loan.ID, ledger.CodePayment, decimal.NewFromInt(-1000), day)
	assert.NoError(t, err)
}

func TestSQLite_DisbursementUniqueIndex(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	loan := seedLoan(t, st)
	movements := ledger.NewMovementLedger(st)

	_, err := movements.Append(ctx, loan.ID, ledger.CodeDisbursement, loan.Amount, loan.StartDate)
	require.NoError(t, err)

	_, err = movements.Append(ctx, loan.ID, ledger.CodeDisbursement, loan.Amount, loan.StartDate.AddDays(1))
	assert.Error(t, err)
}

func TestSQLite_ListMovements_FiltersAndOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	loan := seedLoan(t, st)
	movements := ledger.NewMovementLedger(st)

	_, err := movements.Append(ctx, loan.ID, ledger.CodeDisbursement, loan.Amount, loan.StartDate)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err = movements.Append(ctx, loan.ID, ledger.CodeCurrentInterest,
			decimal.NewFromInt(5000), loan.StartDate.AddDays(i))
		require.NoError(t, err)
	}

	all, err := st.ListMovements(ctx, loan.ID, ledger.MovementQuery{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	// Newest first
	assert.True(t, all[0].At.Equal(loan.StartDate.AddDays(3)))
	assert.True(t, all[3].At.Equal(loan.StartDate))

	from := loan.StartDate.AddDays(2)
	ranged, err := st.ListMovements(ctx, loan.ID, ledger.MovementQuery{StartDate: &from})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	limited, err := st.ListMovements(ctx, loan.ID, ledger.MovementQuery{
		TypeIn: ledger.InterestCodes(),
		Limit:  1,
	})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, ledger.CodeCurrentInterest, limited[0].Type)
}

func TestSQLite_SumMovements_ExactDecimals(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	loan := seedLoan(t, st)
	movements := ledger.NewMovementLedger(st)

	_, err := movements.Append(ctx, loan.ID, ledger.CodeDisbursement, loan.Amount, loan.StartDate)
	require.NoError(t, err)
	_, err = movements.Append(ctx, loan.ID, ledger.CodeCurrentInterest,
		decimal.RequireFromString("4166.667"), loan.StartDate.AddDays(1))
	require.NoError(t, err)
	_, err = movements.Append(ctx, loan.ID, ledger.CodePayment,
		decimal.RequireFromString("-4166.667"), loan.StartDate.AddDays(1))
	require.NoError(t, err)

	total, err := movements.Total(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(6_000_000)), "got %s", total)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLite_WithTx_RollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	loan := seedLoan(t, st)
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx ledger.Store) error {
		movements := ledger.NewMovementLedger(tx)
		if _, err := movements.Append(ctx, loan.ID, ledger.CodeDisbursement, loan.Amount, loan.StartDate); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	movements := ledger.NewMovementLedger(st)
	_, err = movements.Disbursement(ctx, loan.ID)
	assert.ErrorIs(t, err, ledger.ErrNoDisbursement)
}

func TestSQLite_WithTx_CommitsMultipleWrites(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	loan := seedLoan(t, st)

	err := st.WithTx(ctx, func(tx ledger.Store) error {
		movements := ledger.NewMovementLedger(tx)
		if _, err := movements.Append(ctx, loan.ID, ledger.CodeDisbursement, loan.Amount, loan.StartDate); err != nil {
			return err
		}
		if _, err := movements.Append(ctx, loan.ID, ledger.CodePayment, decimal.NewFromInt(-1000), loan.StartDate.AddDays(1)); err != nil {
			return err
		}
		return tx.MarkLoanPaid(ctx, loan.ID)
	})
	require.NoError(t, err)

	got, err := st.GetLoanByUID(ctx, loan.UID)
	require.NoError(t, err)
	assert.True(t, got.Paid)

	all, err := st.ListMovements(ctx, loan.ID, ledger.MovementQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// =============================================================================
// EVENTS, OUTBOX AND GATEWAY
// =============================================================================

func TestSQLite_EventRecording(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	event := &ledger.Event{
		Hash:         "abc123",
		RoutingKey:   "settle_loan_interests",
		FunctionName: "settleLoanInterests",
		Payload:      `{"loanUid":"x"}`,
	}
	require.NoError(t, st.RecordEvent(ctx, event))
	require.NotZero(t, event.ID)

	assert.NoError(t, st.RecordEventError(ctx, event.ID, "loan not found"))
}

func TestSQLite_OutboxLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := &ledger.OutboxEntry{Topic: ledger.TopicOverdueLoan, Payload: `{"loanUid":"a"}`}
	second := &ledger.OutboxEntry{Topic: ledger.TopicReceivedPayment, Payload: `{"movementUid":"b"}`}
	require.NoError(t, st.EnqueueOutbox(ctx, first))
	require.NoError(t, st.EnqueueOutbox(ctx, second))

	pending, err := st.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, st.MarkOutboxFailed(ctx, first.ID))
	require.NoError(t, st.MarkOutboxDelivered(ctx, second.ID))

	pending, err = st.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestSQLite_GatewayTransactionRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	loan := seedLoan(t, st)

	tx := &ledger.GatewayTransaction{
		UID:    ledger.NewUID(),
		LoanID: loan.ID,
		Amount: decimal.RequireFromString("50000.123"),
	}
	require.NoError(t, st.CreateGatewayTransaction(ctx, tx))

	got, err := st.GetGatewayTransactionByUID(ctx, tx.UID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Status)
	assert.False(t, got.Used)
	assert.True(t, got.Amount.Equal(tx.Amount))

	got.Status = 1
	got.Used = true
	got.Reference = "REF-1"
	got.Comment = "approved"
	require.NoError(t, st.UpdateGatewayTransaction(ctx, got))

	updated, err := st.GetGatewayTransactionByUID(ctx, tx.UID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Status)
	assert.True(t, updated.Used)
	assert.Equal(t, "REF-1", updated.Reference)

	_, err = st.GetGatewayTransactionByUID(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrGatewayTransactionNotFound)
}
