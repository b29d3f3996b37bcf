package ratelimiter

import (
	"fmt"
	"time"
)

// Calendar aligns attempt counters to midnight-to-midnight days in a fixed location.
//
// Unlike a rolling window, a principal's quota resets at the day boundary regardless
// of when the previous day's attempts happened.
type Calendar struct {
	Location *time.Location
}

// UTC is the default calendar.
var UTC = Calendar{Location: time.UTC}

// NewCalendar returns a calendar for the named IANA location, e.g. "Europe/Berlin".
func NewCalendar(name string) (Calendar, error) {
	if name == "" {
		return UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Calendar{}, fmt.Errorf("load location %q: %w", name, err)
	}
	return Calendar{Location: loc}, nil
}

func (c Calendar) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// DayStart returns midnight of the day containing t.
func (c Calendar) DayStart(t time.Time) time.Time {
	y, m, d := t.In(c.location()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.location())
}

// NextDay returns midnight of the day after the one containing t.
func (c Calendar) NextDay(t time.Time) time.Time {
	y, m, d := t.In(c.location()).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, c.location())
}

// UntilNextDay returns the time left before the quota of the day containing t resets.
func (c Calendar) UntilNextDay(t time.Time) time.Duration {
	return c.NextDay(t).Sub(t)
}
