package viewmodel

import (
	"time"

	"botwatch/internal/analytics"
	"botwatch/internal/gateway"
)

// FeedStatus is the health of one feed as seen by readers.
type FeedStatus struct {
	Feed        Feed      `json:"feed"`
	Generation  uint64    `json:"generation"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	Loaded      bool      `json:"loaded"`
	LastError   string    `json:"last_error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	FailedAt    time.Time `json:"failed_at,omitempty"`
	Failures    int       `json:"failures"`
	Degraded    bool      `json:"degraded"`
	AuthFailure bool      `json:"auth_failure"`
}

// Stale reports whether the shown value predates the most recent failure.
func (s FeedStatus) Stale() bool {
	return s.LastError != ""
}

// Snapshot is an immutable view of every feed. Slices and maps inside it are
// never mutated after publication; callers must not modify them either.
type Snapshot struct {
	Version     uint64                         `json:"version"`
	LastUpdated time.Time                      `json:"last_updated,omitempty"`
	Stats       *gateway.Stats                 `json:"stats,omitempty"`
	Positions   []gateway.Position             `json:"positions"`
	Webhooks    []gateway.Webhook              `json:"webhooks"`
	Analytics   *gateway.Analytics             `json:"analytics,omitempty"`
	Prices      map[string]analytics.PriceTick `json:"prices"`
	Connection  *gateway.ConnectionState       `json:"connection,omitempty"`
	EquityCurve []gateway.EquityPoint          `json:"equity_curve"`
	Feeds       map[Feed]FeedStatus            `json:"feeds"`
	Sealed      bool                           `json:"sealed"`
}

func emptySnapshot() *Snapshot {
	feeds := make(map[Feed]FeedStatus, len(AllFeeds))
	for _, f := range AllFeeds {
		feeds[f] = FeedStatus{Feed: f}
	}
	return &Snapshot{
		Positions:   []gateway.Position{},
		Webhooks:    []gateway.Webhook{},
		Prices:      map[string]analytics.PriceTick{},
		EquityCurve: []gateway.EquityPoint{},
		Feeds:       feeds,
	}
}

// clone copies the envelope and the feed status map. Feed payloads are
// shared because they are replaced, never edited.
func (s *Snapshot) clone() *Snapshot {
	next := *s
	next.Feeds = make(map[Feed]FeedStatus, len(s.Feeds))
	for k, v := range s.Feeds {
		next.Feeds[k] = v
	}
	return &next
}

// AuthFailed reports whether any feed's latest attempt was rejected for
// credentials.
func (s Snapshot) AuthFailed() bool {
	for _, st := range s.Feeds {
		if st.AuthFailure {
			return true
		}
	}
	return false
}

// Degraded lists feeds currently flagged degraded.
func (s Snapshot) Degraded() []Feed {
	var out []Feed
	for _, f := range AllFeeds {
		if s.Feeds[f].Degraded {
			out = append(out, f)
		}
	}
	return out
}
