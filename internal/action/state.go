package action

import (
	"errors"
	"time"
)

// State of one action key.
type State int

const (
	StateIdle State = iota
	StateConfirming
	StateInFlight
	StateReporting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfirming:
		return "confirming"
	case StateInFlight:
		return "in_flight"
	case StateReporting:
		return "reporting"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Kind string

const (
	KindToggleBot     Kind = "toggle_bot"
	KindKillSwitch    Kind = "kill_switch"
	KindClosePosition Kind = "close_position"
	KindUpdateConfig  Kind = "update_config"
	KindUpdateBroker  Kind = "update_broker"
)

var (
	// ErrInFlight: a second trigger of a key whose write is still pending.
	// Nothing is queued and no request is sent.
	ErrInFlight = errors.New("action already in flight")
	// ErrNotArmed: kill switch confirmed or cancelled without being armed.
	ErrNotArmed = errors.New("kill switch not armed")
)

// Key identifies one state machine. Close-position gets one per position.
func Key(kind Kind, target string) string {
	if target == "" {
		return string(kind)
	}
	return string(kind) + ":" + target
}

// Result is what Reporting shows and what gets journaled.
type Result struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	Target          string    `json:"target,omitempty"`
	Success         bool      `json:"success"`
	Message         string    `json:"message"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	PositionsClosed int       `json:"positions_closed,omitempty"`
	BotActive       *bool     `json:"bot_active,omitempty"`
	Errors          []string  `json:"errors,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Status is a read-only view of one machine.
type Status struct {
	Key    string    `json:"key"`
	Kind   Kind      `json:"kind"`
	Target string    `json:"target,omitempty"`
	State  State     `json:"state"`
	Since  time.Time `json:"since"`
	Result *Result   `json:"result,omitempty"`
}

type machine struct {
	key    string
	kind   Kind
	target string
	state  State
	since  time.Time
	result *Result
	seq    uint64
	timer  *time.Timer
}

func (m *machine) status() Status {
	st := Status{Key: m.key, Kind: m.kind, Target: m.target, State: m.state, Since: m.since}
	if m.result != nil {
		r := *m.result
		st.Result = &r
	}
	return st
}

func (m *machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
