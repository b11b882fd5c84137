package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/ledger"
)

func TestParseDate_DayFormat(t *testing.T) {
	d, err := ledger.ParseDate("2022-04-15")
	require.NoError(t, err)
	assert.Equal(t, "2022-04-15", d.String())
	assert.Equal(t, time.UTC, d.Time().Location())
}

func TestParseDate_RFC3339_NormalizedToUTCMidnight(t *testing.T) {
	// A timestamped input collapses onto its UTC calendar day.
	d, err := ledger.ParseDate("2022-04-15T18:30:00-05:00")
	require.NoError(t, err)
	assert.Equal(t, "2022-04-15", d.String())

	_, err = ledger.ParseDate("not-a-date")
	assert.Error(t, err)
}

func TestDateOf_StripsClockTime(t *testing.T) {
	d := ledger.DateOf(time.Date(2022, time.April, 15, 23, 59, 59, 0, time.UTC))
	assert.Equal(t, ledger.NewDate(2022, time.April, 15), d)
}

func TestDaysBetween(t *testing.T) {
	apr15 := ledger.NewDate(2022, time.April, 15)
	apr20 := ledger.NewDate(2022, time.April, 20)

	assert.Equal(t, 5, ledger.DaysBetween(apr15, apr20))
	assert.Equal(t, -5, ledger.DaysBetween(apr20, apr15))
	assert.Equal(t, 0, ledger.DaysBetween(apr15, apr15))

	// Across a month boundary
	assert.Equal(t, 31, ledger.DaysBetween(ledger.NewDate(2022, time.April, 30), ledger.NewDate(2022, time.May, 31)))
}

func TestAddDays_RollsOverMonths(t *testing.T) {
	d := ledger.NewDate(2022, time.April, 28).AddDays(5)
	assert.Equal(t, "2022-05-03", d.String())
}

func TestDate_JSON(t *testing.T) {
	d := ledger.NewDate(2022, time.April, 15)

	b, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2022-04-15"`, string(b))

	var parsed ledger.Date
	require.NoError(t, parsed.UnmarshalJSON(b))
	assert.True(t, parsed.Equal(d))
}
