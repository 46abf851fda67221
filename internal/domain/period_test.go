package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidPeriod(t *testing.T) {
	tests := []struct {
		name   string
		period string
		want   bool
	}{
		{name: "consecutive years", period: "2025-2026", want: true},
		{name: "year boundary", period: "1999-2000", want: true},
		{name: "same year", period: "2025-2025", want: false},
		{name: "gap of two years", period: "2025-2027", want: false},
		{name: "reversed", period: "2026-2025", want: false},
		{name: "month format", period: "2025-07", want: false},
		{name: "missing dash", period: "202520260", want: false},
		{name: "signed year", period: "+025-2026", want: false},
		{name: "letters", period: "abcd-efgh", want: false},
		{name: "empty", period: "", want: false},
		{name: "trailing space", period: "2025-2026 ", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidPeriod(tt.period))
		})
	}
}

func TestPeriodKey(t *testing.T) {
	key, err := PeriodKey("2024-2025")
	require.NoError(t, err)
	assert.Equal(t, 2024, key)

	_, err = PeriodKey("2024-2026")
	assert.ErrorIs(t, err, ErrInvalidPeriodFormat)
}

func TestPeriodKey_StrictlyIncreasingAndRoundTrips(t *testing.T) {
	prev := -1
	for year := 1990; year < 2100; year++ {
		period := FormatPeriod(year)
		require.True(t, IsValidPeriod(period), period)

		key, err := PeriodKey(period)
		require.NoError(t, err)
		assert.Greater(t, key, prev)
		assert.Equal(t, period, FormatPeriod(key))
		prev = key
	}
}

func TestCurrentFiscalPeriod(t *testing.T) {
	tests := []struct {
		date time.Time
		want string
	}{
		{date: time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC), want: "2025-2026"},
		{date: time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC), want: "2025-2026"},
		{date: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), want: "2025-2026"},
		{date: time.Date(2026, time.June, 30, 23, 59, 0, 0, time.UTC), want: "2025-2026"},
		{date: time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC), want: "2026-2027"},
	}

	for _, tt := range tests {
		t.Run(tt.date.Format("2006-01-02"), func(t *testing.T) {
			assert.Equal(t, tt.want, CurrentFiscalPeriod(tt.date))
		})
	}
}

func TestNextAndPreviousPeriod(t *testing.T) {
	next, err := NextPeriod("2025-2026")
	require.NoError(t, err)
	assert.Equal(t, "2026-2027", next)

	prev, err := PreviousPeriod("2025-2026")
	require.NoError(t, err)
	assert.Equal(t, "2024-2025", prev)

	_, err = NextPeriod("2025")
	assert.ErrorIs(t, err, ErrInvalidPeriodFormat)
}

func TestPeriodWindow(t *testing.T) {
	end := "2026-2027"
	bounded := PeriodWindow{Start: "2024-2025", End: &end}
	open := PeriodWindow{Start: "2024-2025"}

	assert.False(t, bounded.Covers(2023))
	assert.True(t, bounded.Covers(2024))
	assert.True(t, bounded.Covers(2026))
	assert.False(t, bounded.Covers(2027))

	assert.True(t, open.Covers(2090))
	assert.False(t, PeriodWindow{Start: "bad"}.Covers(2025))

	require.NoError(t, bounded.Validate())
	reversed := "2023-2024"
	assert.ErrorIs(t, PeriodWindow{Start: "2024-2025", End: &reversed}.Validate(), ErrInvalidPeriodFormat)
	malformed := "2026"
	assert.ErrorIs(t, PeriodWindow{Start: "2024-2025", End: &malformed}.Validate(), ErrInvalidPeriodFormat)
}
