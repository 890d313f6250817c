package viewmodel

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"botwatch/internal/analytics"
	"botwatch/internal/gateway"
	"botwatch/internal/logger"
	"botwatch/internal/pkg/circuit"
	"botwatch/internal/pkg/symbol"
)

// Observer receives merge outcomes, e.g. for metrics.
type Observer interface {
	FeedApplied(feed Feed)
	FeedDiscarded(feed Feed)
	FeedFailed(feed Feed, kind gateway.Kind)
	FeedDegraded(feed Feed, degraded bool)
}

type Options struct {
	WebhookLimit  int
	DegradedAfter int
	Now           func() time.Time
}

// Store owns the only mutable snapshot. Every write goes through Apply or
// Fail; readers get immutable snapshots.
type Store struct {
	mu       sync.RWMutex
	current  *Snapshot
	applied  map[Feed]uint64
	issued   map[Feed]*atomic.Uint64
	trackers map[Feed]*circuit.Tracker
	sealed   bool

	webhookLimit int
	now          func() time.Time
	observer     Observer

	subMu  sync.Mutex
	subs   map[int]chan uint64
	nextID int
}

func NewStore(opts Options) *Store {
	if opts.WebhookLimit <= 0 {
		opts.WebhookLimit = 10
	}
	if opts.DegradedAfter <= 0 {
		opts.DegradedAfter = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		current:      emptySnapshot(),
		applied:      make(map[Feed]uint64, len(AllFeeds)),
		issued:       make(map[Feed]*atomic.Uint64, len(AllFeeds)),
		trackers:     make(map[Feed]*circuit.Tracker, len(AllFeeds)),
		webhookLimit: opts.WebhookLimit,
		now:          opts.Now,
		subs:         make(map[int]chan uint64),
	}
	for _, f := range AllFeeds {
		s.issued[f] = new(atomic.Uint64)
		s.trackers[f] = circuit.NewTracker(string(f), opts.DegradedAfter)
	}
	return s
}

// SetObserver must be called before polling starts.
func (s *Store) SetObserver(o Observer) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

// NextGeneration stamps a request at issue time. Generations are strictly
// increasing per feed.
func (s *Store) NextGeneration(feed Feed) uint64 {
	counter, ok := s.issued[feed]
	if !ok {
		return 0
	}
	return counter.Add(1)
}

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.current
}

// Apply replaces one feed's value atomically. It returns false when the
// response is older than what is already applied, when the store is sealed,
// or when value has the wrong type for feed.
func (s *Store) Apply(feed Feed, gen uint64, value any) bool {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return false
	}
	if applied := s.applied[feed]; gen <= applied {
		obs := s.observer
		s.mu.Unlock()
		logger.Debugf("viewmodel: discard stale %s gen=%d applied=%d", feed, gen, applied)
		if obs != nil {
			obs.FeedDiscarded(feed)
		}
		return false
	}
	next := s.current.clone()
	if err := s.merge(next, feed, value); err != nil {
		s.mu.Unlock()
		logger.Warnf("viewmodel: %v", err)
		return false
	}
	tracker := s.trackers[feed]
	wasDegraded := tracker.Degraded()
	tracker.RecordSuccess()

	now := s.now()
	if !now.After(next.LastUpdated) {
		now = next.LastUpdated.Add(time.Nanosecond)
	}
	next.LastUpdated = now
	next.Version++
	st := next.Feeds[feed]
	st.Generation = gen
	st.UpdatedAt = now
	st.Loaded = true
	st.LastError = ""
	st.ErrorKind = ""
	st.Failures = 0
	st.Degraded = false
	st.AuthFailure = false
	next.Feeds[feed] = st

	s.applied[feed] = gen
	s.current = next
	version := next.Version
	obs := s.observer
	s.mu.Unlock()

	if obs != nil {
		obs.FeedApplied(feed)
		if wasDegraded {
			obs.FeedDegraded(feed, false)
		}
	}
	s.publish(version)
	return true
}

// Fail records a failed fetch. The feed keeps its previous value; only its
// status changes. A failure of a request older than the applied value is
// ignored.
func (s *Store) Fail(feed Feed, gen uint64, err error) bool {
	if err == nil || !feed.Valid() {
		return false
	}
	s.mu.Lock()
	if s.sealed || (gen > 0 && gen < s.applied[feed]) {
		s.mu.Unlock()
		return false
	}
	tracker := s.trackers[feed]
	wasDegraded := tracker.Degraded()
	tracker.RecordFailure(err)
	health := tracker.Health()

	kind := gateway.KindOf(err)
	next := s.current.clone()
	next.Version++
	st := next.Feeds[feed]
	st.LastError = gateway.Message(err)
	st.ErrorKind = kind.String()
	st.FailedAt = health.LastFailure
	st.Failures = health.Failures
	st.Degraded = health.State == circuit.StateDegraded
	st.AuthFailure = kind == gateway.KindAuth
	next.Feeds[feed] = st
	s.current = next
	version := next.Version
	obs := s.observer
	s.mu.Unlock()

	if obs != nil {
		obs.FeedFailed(feed, kind)
		if st.Degraded && !wasDegraded {
			obs.FeedDegraded(feed, true)
		}
	}
	s.publish(version)
	return true
}

// Seal rejects all further writes and closes subscriber channels. Used on
// shutdown so late responses cannot land in a torn-down view.
func (s *Store) Seal() {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return
	}
	s.sealed = true
	next := s.current.clone()
	next.Sealed = true
	s.current = next
	s.mu.Unlock()

	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
}

func (s *Store) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

// Subscribe returns a channel that carries the latest snapshot version after
// each change. Slow readers only ever see the newest version. The cancel
// func is safe to call more than once.
func (s *Store) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)
	s.subMu.Lock()
	if s.Sealed() {
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

func (s *Store) publish(version uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- version:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- version:
			default:
			}
		}
	}
}

var errWrongType = errors.New("unexpected payload type")

func (s *Store) merge(next *Snapshot, feed Feed, value any) error {
	switch feed {
	case FeedStats:
		v, ok := value.(gateway.Stats)
		if !ok {
			return wrongType(feed, value)
		}
		next.Stats = &v
	case FeedPositions:
		v, ok := value.([]gateway.Position)
		if !ok {
			return wrongType(feed, value)
		}
		next.Positions = normalizePositions(v)
	case FeedWebhooks:
		v, ok := value.([]gateway.Webhook)
		if !ok {
			return wrongType(feed, value)
		}
		next.Webhooks = recentWebhooks(v, s.webhookLimit)
	case FeedAnalytics:
		v, ok := value.(gateway.Analytics)
		if !ok {
			return wrongType(feed, value)
		}
		clean := analytics.SanitizeAnalytics(&v)
		next.Analytics = &clean
	case FeedPrices:
		v, ok := value.(map[string]float64)
		if !ok {
			return wrongType(feed, value)
		}
		next.Prices = mergeTicks(next.Prices, v)
	case FeedConnection:
		v, ok := value.(gateway.ConnectionState)
		if !ok {
			return wrongType(feed, value)
		}
		next.Connection = &v
	case FeedEquity:
		v, ok := value.([]gateway.EquityPoint)
		if !ok {
			return wrongType(feed, value)
		}
		if v == nil {
			v = []gateway.EquityPoint{}
		}
		next.EquityCurve = v
	default:
		return fmt.Errorf("unknown feed %q", feed)
	}
	return nil
}

func wrongType(feed Feed, value any) error {
	return fmt.Errorf("%w for %s: %T", errWrongType, feed, value)
}

// normalizePositions copies the slice and clamps remaining_quantity to
// quantity.
func normalizePositions(in []gateway.Position) []gateway.Position {
	out := make([]gateway.Position, len(in))
	copy(out, in)
	for i := range out {
		p := &out[i]
		p.Status = gateway.PositionStatus(strings.ToLower(string(p.Status)))
		if p.RemainingQuantity != nil && p.Quantity > 0 && *p.RemainingQuantity > p.Quantity {
			logger.Warnf("viewmodel: position %d remaining_quantity %.8f > quantity %.8f, clamped", p.ID, *p.RemainingQuantity, p.Quantity)
			q := p.Quantity
			p.RemainingQuantity = &q
		}
	}
	return out
}

// recentWebhooks keeps the newest limit webhooks, newest first. Unparseable
// timestamps sort last.
func recentWebhooks(in []gateway.Webhook, limit int) []gateway.Webhook {
	out := make([]gateway.Webhook, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedTime().After(out[j].ReceivedTime())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// mergeTicks builds a fresh tick map from prices, keyed by symbol.Key and
// deriving each direction against prev. Tickers missing from prices drop out.
func mergeTicks(prev map[string]analytics.PriceTick, prices map[string]float64) map[string]analytics.PriceTick {
	out := make(map[string]analytics.PriceTick, len(prices))
	for ticker, price := range prices {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if ticker == "" {
			continue
		}
		key := symbol.Key(ticker)
		var last *analytics.PriceTick
		if old, ok := prev[key]; ok {
			last = &old
		}
		out[key] = analytics.NextTick(last, ticker, price)
	}
	return out
}
