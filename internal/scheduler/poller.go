// Package scheduler polls each feed on its own timer and hands results to
// the view model, which resolves ordering by generation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"botwatch/internal/logger"
	"botwatch/internal/viewmodel"
)

// ErrNotRunning is returned by Start on a stopped poller.
var ErrNotRunning = errors.New("poller stopped")

// FetchObserver receives per-request timings, e.g. for metrics.
type FetchObserver interface {
	ObserveFetch(feed viewmodel.Feed, elapsed time.Duration, err error)
}

type Options struct {
	RequestTimeout   time.Duration
	RefreshPerSecond float64
	RefreshBurst     int
}

type Poller struct {
	store   *viewmodel.Store
	specs   map[viewmodel.Feed]FeedSpec
	order   []viewmodel.Feed
	timeout time.Duration
	limiter *rate.Limiter

	mu       sync.Mutex
	baseCtx  context.Context
	cancel   context.CancelFunc
	stopped  bool
	wg       sync.WaitGroup
	observer FetchObserver
}

func New(store *viewmodel.Store, opts Options, specs ...FeedSpec) *Poller {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 8 * time.Second
	}
	limit := rate.Inf
	if opts.RefreshPerSecond > 0 {
		limit = rate.Limit(opts.RefreshPerSecond)
	}
	if opts.RefreshBurst <= 0 {
		opts.RefreshBurst = 1
	}
	p := &Poller{
		store:   store,
		specs:   make(map[viewmodel.Feed]FeedSpec, len(specs)),
		timeout: opts.RequestTimeout,
		limiter: rate.NewLimiter(limit, opts.RefreshBurst),
	}
	for _, spec := range specs {
		if spec.Fetch == nil || !spec.Feed.Valid() {
			logger.Warnf("scheduler: skip invalid feed spec %q", spec.Feed)
			continue
		}
		if _, dup := p.specs[spec.Feed]; !dup {
			p.order = append(p.order, spec.Feed)
		}
		p.specs[spec.Feed] = spec
	}
	return p
}

func (p *Poller) SetObserver(o FetchObserver) {
	p.mu.Lock()
	p.observer = o
	p.mu.Unlock()
}

// Feeds lists the registered feeds in registration order.
func (p *Poller) Feeds() []viewmodel.Feed {
	out := make([]viewmodel.Feed, len(p.order))
	copy(out, p.order)
	return out
}

// Start launches one timer per feed, each firing immediately. It returns at
// once; the loops run until ctx ends or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrNotRunning
	}
	if p.cancel != nil {
		return nil
	}
	p.baseCtx, p.cancel = context.WithCancel(ctx)
	for _, feed := range p.order {
		spec := p.specs[feed]
		ticker := NewFeedTicker(p.baseCtx, string(feed), spec.Interval)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			ticker.Start(func() { p.spawn(spec) })
		}()
	}
	logger.Infof("scheduler: started %d feeds", len(p.order))
	return nil
}

// spawn runs one fetch in its own goroutine so a slow response never delays
// the next tick of the same feed.
func (p *Poller) spawn(spec FeedSpec) {
	p.mu.Lock()
	if p.stopped || p.baseCtx == nil || p.baseCtx.Err() != nil {
		p.mu.Unlock()
		return
	}
	ctx := p.baseCtx
	p.wg.Add(1)
	p.mu.Unlock()
	go func() {
		defer p.wg.Done()
		_ = p.fetch(ctx, spec)
	}()
}

// Stop cancels every timer and in-flight request, waits for them to unwind
// and seals the view model. Safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.store.Seal()
	logger.Infof("scheduler: stopped")
}

// RefreshNow fetches the given feeds out of band and waits for them. Feed
// timers are untouched. Requests pass a shared rate limiter. The first
// fetch error is returned after all feeds finish; every result is still
// merged.
func (p *Poller) RefreshNow(ctx context.Context, feeds ...viewmodel.Feed) error {
	if len(feeds) == 0 {
		feeds = p.Feeds()
	}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrNotRunning
	}
	base := p.baseCtx
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if base != nil {
		stop := context.AfterFunc(base, cancel)
		defer stop()
	}

	var g errgroup.Group
	seen := make(map[viewmodel.Feed]struct{}, len(feeds))
	for _, feed := range feeds {
		if _, dup := seen[feed]; dup {
			continue
		}
		seen[feed] = struct{}{}
		spec, ok := p.specs[feed]
		if !ok {
			logger.Debugf("scheduler: refresh skips unregistered feed %s", feed)
			continue
		}
		g.Go(func() error {
			if err := p.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("refresh %s: %w", spec.Feed, err)
			}
			return p.fetch(ctx, spec)
		})
	}
	return g.Wait()
}

// fetch stamps the generation at issue time, then applies or fails.
func (p *Poller) fetch(ctx context.Context, spec FeedSpec) error {
	gen := p.store.NextGeneration(spec.Feed)
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := time.Now()
	value, err := spec.Fetch(reqCtx)
	elapsed := time.Since(started)

	p.mu.Lock()
	obs := p.observer
	p.mu.Unlock()
	if obs != nil {
		obs.ObserveFetch(spec.Feed, elapsed, err)
	}

	if ctx.Err() != nil {
		// caller or Stop gave up; neither a value nor a feed failure
		return ctx.Err()
	}
	if err != nil {
		p.store.Fail(spec.Feed, gen, err)
		logger.With("feed", string(spec.Feed), "gen", gen, "elapsed", elapsed.Round(time.Millisecond)).
			Warn("feed fetch failed", "error", err)
		return fmt.Errorf("fetch %s: %w", spec.Feed, err)
	}
	if !p.store.Apply(spec.Feed, gen, value) {
		logger.Debugf("scheduler: %s gen=%d not applied", spec.Feed, gen)
	}
	return nil
}
