// Package timeofday parses wall-clock times such as "08:00" or "8:00 PM" and
// resolves them against a calendar date.
package timeofday

import (
	"fmt"
	"strings"
	"time"
)

// layouts accepted by Parse, tried in order. Input is upper-cased first so the
// AM/PM marker is case-insensitive.
var layouts = []string{
	"15:04",
	"3:04 PM",
	"3:04PM",
}

// TimeOfDay is an hour and minute with no date or zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Parse accepts "HH:MM" (24h) or "h:MM AM|PM".
func Parse(s string) (TimeOfDay, error) {
	value := strings.ToUpper(strings.TrimSpace(s))
	if value == "" {
		return TimeOfDay{}, fmt.Errorf("empty time of day")
	}

	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}

	return TimeOfDay{}, fmt.Errorf("malformed time of day %q: want HH:MM or h:MM AM/PM", s)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) TimeOfDay {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Valid reports whether s parses.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// On returns the instant at this time of day on day's calendar date, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

// String formats as 24h "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}
