package ratelimit

import (
	"math/rand"
	"time"
)

// Engine makes the admit/block decision for a single evaluation. It is a
// pure computation over the values passed in; persistence and per-user
// serialization belong to the caller.
type Engine struct {
	rng *rand.Rand
}

func NewEngine() *Engine {
	return &Engine{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewEngineWithSource constructs an engine with a caller-supplied randomness
// source for deterministic jitter in tests.
func NewEngineWithSource(src rand.Source) *Engine {
	return &Engine{rng: rand.New(src)}
}

// Outcome is the result of one evaluation: the state to persist, the
// (possibly pruned and appended) history, and counters matching that history.
type Outcome struct {
	State    State
	History  []time.Time
	Counters Counters
}

// Determine evaluates one request at now against the configured quotas.
//
// An active block is returned unchanged and the request is not counted.
// An expired block is cleared, but the current request is still evaluated
// against fresh counters rather than admitted automatically. When counters
// meet or exceed a non-zero quota the user is blocked until
// now + 1h + rand(0, RandomShiftMinutes) minutes; the triggering request is
// not appended to history. Otherwise the request is admitted and recorded.
func (e *Engine) Determine(cfg Config, history []time.Time, state State, now time.Time) (Outcome, error) {
	if err := validateOrder(history); err != nil {
		return Outcome{}, err
	}

	if state.EndTime != nil {
		if now.Before(*state.EndTime) {
			return Outcome{State: state, History: history, Counters: CountWindows(history, now)}, nil
		}
		state = State{}
	}

	history = Prune(history, now)
	counters := CountWindows(history, now)

	if overQuota(cfg, counters) {
		end := now.Add(baseCooldown + e.jitter(cfg.RandomShiftMinutes))
		return Outcome{State: State{EndTime: &end}, History: history, Counters: counters}, nil
	}

	history = Record(history, now)
	return Outcome{State: State{}, History: history, Counters: CountWindows(history, now)}, nil
}

func overQuota(cfg Config, c Counters) bool {
	if cfg.RequestsPerDay > 0 && c.PerDay >= cfg.RequestsPerDay {
		return true
	}
	if cfg.RequestsPerHour > 0 && c.PerHour >= cfg.RequestsPerHour {
		return true
	}
	return false
}

func (e *Engine) jitter(shiftMinutes uint) time.Duration {
	if shiftMinutes == 0 {
		return 0
	}
	return time.Duration(e.rng.Intn(int(shiftMinutes)+1)) * time.Minute
}
