package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/ledger"
)

func TestNewLoan_DerivesAnnualRates(t *testing.T) {
	// GIVEN: monthly rates of 2.5% and 4%
	// WHEN: creating the loan
	// THEN: annual rates are monthly x 12

	loan, err := ledger.NewLoan(
		decimal.NewFromInt(6_000_000),
		decimal.RequireFromString("0.025"),
		decimal.RequireFromString("0.04"),
		ledger.NewDate(2022, time.April, 15),
		"test loan",
	)
	require.NoError(t, err)

	assert.True(t, loan.AnnualInterestRate.Equal(decimal.RequireFromString("0.3")))
	assert.True(t, loan.AnnualInterestOverdueRate.Equal(decimal.RequireFromString("0.48")))
	assert.False(t, loan.Paid)
}

func TestNewLoan_RejectsInvalidTerms(t *testing.T) {
	start := ledger.NewDate(2022, time.April, 15)
	rate := decimal.RequireFromString("0.025")

	_, err := ledger.NewLoan(decimal.Zero, rate, rate, start, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput, "zero amount")

	_, err = ledger.NewLoan(decimal.NewFromInt(-100), rate, rate, start, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput, "negative amount")

	_, err = ledger.NewLoan(decimal.NewFromInt(1000), rate.Neg(), rate, start, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput, "negative rate")

	_, err = ledger.NewLoan(decimal.NewFromInt(1000), rate, rate, ledger.Date{}, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput, "missing start date")
}
