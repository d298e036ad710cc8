package ratelimit

import (
	"fmt"
	"time"
)

// CountWindows derives the request counters from history as of now. Entries
// strictly inside the trailing hour and day windows are counted; anything
// older is ignored. An empty history yields zero counters.
func CountWindows(history []time.Time, now time.Time) Counters {
	var c Counters
	dayCutoff := now.Add(-DayWindow)
	hourCutoff := now.Add(-HourWindow)
	for _, ts := range history {
		if ts.After(dayCutoff) {
			c.PerDay++
		}
		if ts.After(hourCutoff) {
			c.PerHour++
		}
	}
	return c
}

// Prune drops entries older than the daily window so stored history stays
// bounded. History is ordered, so a single cut point suffices.
func Prune(history []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-DayWindow)
	for i, ts := range history {
		if ts.After(cutoff) {
			return history[i:]
		}
	}
	return history[:0]
}

// Record appends the current request to history. This is the only mutation
// of a user's history; callers invoke it only for admitted requests.
func Record(history []time.Time, now time.Time) []time.Time {
	return append(history, now)
}

func validateOrder(history []time.Time) error {
	for i := 1; i < len(history); i++ {
		if history[i].Before(history[i-1]) {
			return fmt.Errorf("entry %d precedes entry %d: %w", i, i-1, ErrHistoryOrder)
		}
	}
	return nil
}
