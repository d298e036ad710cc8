// Package ratelimit implements quota evaluation over a per-user request
// history: sliding-window counters, prune-on-read, and the blocked/unrestricted
// state transition with a jittered cool-down.
package ratelimit

import (
	"errors"
	"time"
)

const (
	// DayWindow is the longest tracked window; history older than this is pruned.
	DayWindow = 24 * time.Hour
	// HourWindow is the short quota window.
	HourWindow = time.Hour

	baseCooldown = time.Hour
)

// Config is the per-user quota configuration, read-only at evaluation time.
// A zero quota disables the limit for that window.
type Config struct {
	RequestsPerDay     uint `json:"requests_per_day" yaml:"requests_per_day"`
	RequestsPerHour    uint `json:"requests_per_hour" yaml:"requests_per_hour"`
	RandomShiftMinutes uint `json:"random_shift_minutes" yaml:"random_shift_minutes"`
}

// Counters holds the derived request counts for the trailing day and hour.
// They are recomputed from history on every evaluation and never stored.
type Counters struct {
	PerDay  uint `json:"requests_per_day"`
	PerHour uint `json:"requests_per_hour"`
}

// State is the rate-limit lifecycle for one user. A nil EndTime means
// unrestricted; a set EndTime means blocked until that instant.
type State struct {
	EndTime *time.Time `json:"end_time"`
}

// Blocked reports whether the state is an active block at the given time.
func (s State) Blocked(now time.Time) bool {
	return s.EndTime != nil && now.Before(*s.EndTime)
}

// ErrHistoryOrder is returned when history timestamps are not in
// chronological order. It signals data corruption, not a user condition.
var ErrHistoryOrder = errors.New("request history out of order")
