package ratelimiter

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRemainingTime(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want string
	}{
		{"hour and a half", 90 * time.Minute, "1 hour and 30 minutes"},
		{"minutes only", 5 * time.Minute, "5 minutes"},
		{"exact hour", time.Hour, "1 hour and 0 minutes"},
		{"singular minute", time.Minute, "1 minute"},
		{"plural hours singular minute", 2*time.Hour + time.Minute, "2 hours and 1 minute"},
		{"seconds are dropped", 5*time.Minute + 59*time.Second, "5 minutes"},
		{"under a minute", 30 * time.Second, "1 minute"},
		{"zero", 0, "0 minutes"},
		{"negative", -time.Minute, "0 minutes"},
		{"full day", 24 * time.Hour, "24 hours and 0 minutes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatRemainingTime(tt.in))
		})
	}
}

func TestCalendar(t *testing.T) {
	cal, err := NewCalendar("Europe/Berlin")
	require.NoError(t, err)

	// 23:30 UTC on March 14 is 00:30 on March 15 in Berlin (UTC+1)
	now := time.Date(2025, 3, 14, 23, 30, 0, 0, time.UTC)
	day := cal.DayStart(now)
	assert.Equal(t, 15, day.Day())
	assert.True(t, day.Equal(time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, 23*time.Hour+30*time.Minute, cal.UntilNextDay(now))

	_, err = NewCalendar("Not/AZone")
	assert.Error(t, err)

	utc, err := NewCalendar("")
	require.NoError(t, err)
	assert.Equal(t, UTC, utc)
}

func TestPolicyValidate(t *testing.T) {
	for name, p := range DefaultPolicies() {
		assert.NoError(t, p.Validate(), name)
		assert.Equal(t, name, p.Name)
	}

	assert.ErrorIs(t, Policy{MaxAttempts: 1, Window: Day, BlockDuration: Day}.Validate(), ErrInvalidPolicy)
	assert.ErrorIs(t, Policy{Name: "x", MaxAttempts: 1, BlockDuration: Day}.Validate(), ErrInvalidPolicy)
	assert.ErrorIs(t, Policy{Name: "x", MaxAttempts: 1, Window: Day}.Validate(), ErrInvalidPolicy)
}
