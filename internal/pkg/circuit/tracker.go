// Package circuit tracks per-feed health from consecutive failures. Unlike a
// classic breaker it never blocks a call: the poll cadence stays the retry
// interval and the state is only reported.
package circuit

import (
	"sync"
	"time"

	"botwatch/internal/logger"
)

type State int

const (
	StateHealthy State = iota
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	default:
		return "UNKNOWN"
	}
}

// Health is a point-in-time copy of a tracker.
type Health struct {
	State       State
	Failures    int
	LastError   string
	LastFailure time.Time
	LastSuccess time.Time
}

type Tracker struct {
	mu            sync.Mutex
	name          string
	threshold     int
	state         State
	failures      int
	lastErr       string
	lastFailure   time.Time
	lastSuccess   time.Time
	onStateChange func(name string, from, to State)
	now           func() time.Time
}

// NewTracker flags the feed degraded after threshold consecutive failures
// (minimum 1).
func NewTracker(name string, threshold int) *Tracker {
	if threshold < 1 {
		threshold = 1
	}
	return &Tracker{name: name, threshold: threshold, now: time.Now}
}

// SetStateChangeHandler is invoked synchronously, outside the tracker lock.
func (t *Tracker) SetStateChangeHandler(handler func(name string, from, to State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStateChange = handler
}

func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	t.failures = 0
	t.lastErr = ""
	t.lastSuccess = t.now()
	from, changed := t.transition(StateHealthy)
	handler := t.onStateChange
	t.mu.Unlock()
	if changed {
		t.notify(handler, from, StateHealthy)
	}
}

func (t *Tracker) RecordFailure(err error) {
	t.mu.Lock()
	t.failures++
	t.lastFailure = t.now()
	if err != nil {
		t.lastErr = err.Error()
	}
	var from State
	changed := false
	if t.failures >= t.threshold {
		from, changed = t.transition(StateDegraded)
	}
	handler := t.onStateChange
	failures := t.failures
	t.mu.Unlock()
	if changed {
		t.notify(handler, from, StateDegraded)
	} else if failures < t.threshold {
		logger.Debugf("feed %s failure %d/%d: %v", t.name, failures, t.threshold, err)
	}
}

func (t *Tracker) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateDegraded
}

func (t *Tracker) Health() Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Health{
		State:       t.state,
		Failures:    t.failures,
		LastError:   t.lastErr,
		LastFailure: t.lastFailure,
		LastSuccess: t.lastSuccess,
	}
}

func (t *Tracker) transition(to State) (State, bool) {
	from := t.state
	if from == to {
		return from, false
	}
	t.state = to
	return from, true
}

func (t *Tracker) notify(handler func(string, State, State), from, to State) {
	if handler != nil {
		handler(t.name, from, to)
		return
	}
	logger.Warnf("feed %s state change: %s -> %s", t.name, from, to)
}
