package ratelimiter

import (
	"fmt"
	"time"
)

// FormatRemainingTime renders a wait duration for user-facing messages.
//
// Durations of an hour or more render as "H hour(s) and M minute(s)", shorter ones as
// "M minute(s)". Seconds are dropped; a positive duration under a minute renders as "1 minute".
func FormatRemainingTime(d time.Duration) string {
	if d <= 0 {
		return "0 minutes"
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)

	if hours > 0 {
		return fmt.Sprintf("%s and %s", plural(hours, "hour"), plural(minutes, "minute"))
	}
	if minutes == 0 {
		minutes = 1
	}
	return plural(minutes, "minute")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
