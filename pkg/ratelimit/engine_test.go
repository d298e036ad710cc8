package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func timesAgo(now time.Time, offsets ...time.Duration) []time.Time {
	history := make([]time.Time, 0, len(offsets))
	for _, off := range offsets {
		history = append(history, now.Add(-off))
	}
	return history
}

func TestDetermineAdmitsUnderQuota(t *testing.T) {
	e := NewEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{RequestsPerDay: 10, RequestsPerHour: 5}
	history := timesAgo(now, 40*time.Minute, 20*time.Minute)

	out, err := e.Determine(cfg, history, State{}, now)
	if err != nil {
		t.Fatalf("Determine() error: %v", err)
	}
	if out.State.EndTime != nil {
		t.Fatalf("expected unrestricted state, got end time %v", out.State.EndTime)
	}
	if len(out.History) != 3 {
		t.Fatalf("expected admitted request appended, history length %d", len(out.History))
	}
	if !out.History[2].Equal(now) {
		t.Errorf("appended entry = %v, want %v", out.History[2], now)
	}
	if out.Counters.PerHour != 3 || out.Counters.PerDay != 3 {
		t.Errorf("counters do not match returned history: %+v", out.Counters)
	}
}

func TestDetermineQuotaBoundary(t *testing.T) {
	e := NewEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{RequestsPerDay: 100, RequestsPerHour: 5}

	// the 5th request in the hour is admitted, the 6th is not
	four := timesAgo(now, 50*time.Minute, 40*time.Minute, 30*time.Minute, 20*time.Minute)
	out, err := e.Determine(cfg, four, State{}, now)
	if err != nil {
		t.Fatalf("Determine() error: %v", err)
	}
	if out.State.EndTime != nil {
		t.Fatal("5th request in the hour should be admitted")
	}

	five := timesAgo(now, 50*time.Minute, 40*time.Minute, 30*time.Minute, 20*time.Minute, 10*time.Minute)
	out, err = e.Determine(cfg, five, State{}, now)
	if err != nil {
		t.Fatalf("Determine() error: %v", err)
	}
	if out.State.EndTime == nil {
		t.Fatal("6th request in the hour should be blocked")
	}
	if len(out.History) != 5 {
		t.Errorf("triggering request must not be appended, history length %d", len(out.History))
	}
}

func TestDetermineZeroQuotaMeansUnlimited(t *testing.T) {
	e := NewEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	history := make([]time.Time, 0, 500)
	for i := 500; i > 0; i-- {
		history = append(history, now.Add(-time.Duration(i)*time.Second))
	}

	out, err := e.Determine(Config{}, history, State{}, now)
	if err != nil {
		t.Fatalf("Determine() error: %v", err)
	}
	if out.State.EndTime != nil {
		t.Fatal("zero quotas must never block")
	}
}

func TestDetermineJitterBounds(t *testing.T) {
	e := NewEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{RequestsPerHour: 1, RandomShiftMinutes: 15}
	history := timesAgo(now, 10*time.Minute)

	lower := now.Add(time.Hour)
	upper := now.Add(75 * time.Minute)
	for i := 0; i < 200; i++ {
		out, err := e.Determine(cfg, history, State{}, now)
		if err != nil {
			t.Fatalf("Determine() error: %v", err)
		}
		if out.State.EndTime == nil {
			t.Fatal("expected block")
		}
		end := *out.State.EndTime
		if end.Before(lower) || end.After(upper) {
			t.Fatalf("end time %v outside [%v, %v]", end, lower, upper)
		}
	}
}

func TestDetermineActiveBlockUnchanged(t *testing.T) {
	e := NewEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := now.Add(30 * time.Minute)
	state := State{EndTime: &end}
	history := timesAgo(now, 5*time.Minute)

	for _, at := range []time.Time{now, now.Add(10 * time.Minute), end.Add(-time.Second)} {
		out, err := e.Determine(Config{RequestsPerHour: 1}, history, state, at)
		if err != nil {
			t.Fatalf("Determine() error: %v", err)
		}
		if out.State.EndTime == nil || !out.State.EndTime.Equal(end) {
			t.Fatalf("active block changed at %v: %v", at, out.State.EndTime)
		}
		if len(out.History) != len(history) {
			t.Fatalf("blocked request must not touch history")
		}
	}
}

func TestDetermineExpiredBlockReevaluates(t *testing.T) {
	e := NewEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := now.Add(-time.Second)
	state := State{EndTime: &end}

	// under quota after expiry: unblocked and the request is recorded
	out, err := e.Determine(Config{RequestsPerHour: 5}, nil, state, now)
	if err != nil {
		t.Fatalf("Determine() error: %v", err)
	}
	if out.State.EndTime != nil {
		t.Fatal("expired block should clear when under quota")
	}
	if len(out.History) != 1 {
		t.Fatalf("post-expiry admitted request not recorded, history length %d", len(out.History))
	}

	// still over quota after expiry: re-blocked with a strictly later end time
	history := timesAgo(now, 30*time.Minute, 20*time.Minute)
	out, err = e.Determine(Config{RequestsPerHour: 2}, history, state, now)
	if err != nil {
		t.Fatalf("Determine() error: %v", err)
	}
	if out.State.EndTime == nil {
		t.Fatal("expected re-block")
	}
	if !out.State.EndTime.After(end) {
		t.Errorf("re-block end %v not after expired end %v", out.State.EndTime, end)
	}
}

func TestDetermineScenarioThreeRequests(t *testing.T) {
	e := NewEngine()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{RequestsPerDay: 100, RequestsPerHour: 2, RandomShiftMinutes: 0}

	var history []time.Time
	state := State{}

	for i, at := range []time.Time{t0, t0.Add(time.Minute)} {
		out, err := e.Determine(cfg, history, state, at)
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if out.State.EndTime != nil {
			t.Fatalf("request %d should be admitted", i+1)
		}
		history, state = out.History, out.State
	}
	if len(history) != 2 {
		t.Fatalf("expected history length 2, got %d", len(history))
	}

	third := t0.Add(2 * time.Minute)
	out, err := e.Determine(cfg, history, state, third)
	if err != nil {
		t.Fatalf("third request: %v", err)
	}
	if out.State.EndTime == nil {
		t.Fatal("third request should be blocked")
	}
	if want := third.Add(time.Hour); !out.State.EndTime.Equal(want) {
		t.Errorf("end time = %v, want %v", out.State.EndTime, want)
	}
}

func TestDetermineHistoryOrderViolation(t *testing.T) {
	e := NewEngine()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	history := []time.Time{now.Add(-time.Minute), now.Add(-10 * time.Minute)}

	_, err := e.Determine(Config{RequestsPerHour: 5}, history, State{}, now)
	if !errors.Is(err, ErrHistoryOrder) {
		t.Fatalf("expected ErrHistoryOrder, got %v", err)
	}
}
