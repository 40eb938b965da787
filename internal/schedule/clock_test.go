package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

func TestInterval(t *testing.T) {
	cases := []struct {
		cadence string
		want    time.Duration
		wantErr bool
	}{
		{"60min", 60 * time.Minute, false},
		{"1hour", time.Hour, false},
		{"1day", 24 * time.Hour, false},
		{"2week", 2 * 7 * 24 * time.Hour, false},
		{"1month", 30 * 24 * time.Hour, false},
		{"bogus", 0, true},
		{"", 0, true},
		{"min", 0, true},
		{"10", 0, true},
		{"1 day", 0, true},
		{"-1day", 0, true},
		{"1fortnight", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.cadence, func(t *testing.T) {
			got, err := Interval(tc.cadence)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidCadence)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIsDueBoundary(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, IsDue(base, "60min", base.Add(60*time.Minute)), "exactly due counts as due")
	assert.True(t, IsDue(base, "60min", base.Add(61*time.Minute)))
	assert.False(t, IsDue(base, "60min", base.Add(59*time.Minute)))

	assert.True(t, IsDue(base, "1day", base.Add(24*time.Hour)))
	assert.False(t, IsDue(base, "1day", base.Add(24*time.Hour-time.Second)))
}

func TestIsDueMalformedCadenceNeverDue(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, cadence := range []string{"bogus", "", "daily", "60"} {
		assert.False(t, IsDue(base, cadence, base.AddDate(10, 0, 0)), "cadence %q", cadence)
	}
}
