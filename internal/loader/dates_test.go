package loader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func millis(t time.Time) float64 { return float64(t.UnixMilli()) }

func TestParseDate(t *testing.T) {
	eastern := time.FixedZone("EST", -5*3600)

	testCases := []struct {
		in   string
		loc  *time.Location
		want time.Time
	}{
		{"2020-05-16T09:30:00+05:00", time.UTC, time.Date(2020, 5, 16, 4, 30, 0, 0, time.UTC)},
		{"2020-05-16T09:30:00", time.UTC, time.Date(2020, 5, 16, 9, 30, 0, 0, time.UTC)},
		{"2020-05-16T09:30:00", eastern, time.Date(2020, 5, 16, 14, 30, 0, 0, time.UTC)},
		{"2001/02/05 06:20", eastern, time.Date(2001, 2, 5, 11, 20, 0, 0, time.UTC)},
		{"2000-01-01T08:00:00.000Z", eastern, time.Date(2000, 1, 1, 8, 0, 0, 0, time.UTC)},
		// Bare ISO dates are UTC midnight whatever the input zone.
		{"2000-01-01", eastern, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2000/01/01", eastern, time.Date(2000, 1, 1, 5, 0, 0, 0, time.UTC)},
		{"January 2, 2006", time.UTC, time.Date(2006, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := ParseDate(tc.in, tc.loc)
			require.True(t, ok)
			assert.Equal(t, millis(tc.want), got)
		})
	}

	_, ok := ParseDate("not a date", time.UTC)
	assert.False(t, ok)
	_, ok = ParseDate("", time.UTC)
	assert.False(t, ok)
}

func TestParseDateFormat(t *testing.T) {
	got, ok := ParseDateFormat("16/05/2020", "%d/%m/%Y", time.UTC)
	require.True(t, ok)
	assert.Equal(t, millis(time.Date(2020, 5, 16, 0, 0, 0, 0, time.UTC)), got)

	_, ok = ParseDateFormat("2020", "%Q", time.UTC)
	assert.False(t, ok, "unknown directives are rejected")
}
