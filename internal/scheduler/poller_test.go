package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"botwatch/internal/config"
	"botwatch/internal/gateway"
	"botwatch/internal/viewmodel"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Stats(ctx context.Context) (gateway.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(gateway.Stats), args.Error(1)
}
func (m *MockGateway) Positions(ctx context.Context) ([]gateway.Position, error) {
	args := m.Called(ctx)
	return args.Get(0).([]gateway.Position), args.Error(1)
}
func (m *MockGateway) Webhooks(ctx context.Context) ([]gateway.Webhook, error) {
	args := m.Called(ctx)
	return args.Get(0).([]gateway.Webhook), args.Error(1)
}
func (m *MockGateway) Analytics(ctx context.Context) (gateway.Analytics, error) {
	args := m.Called(ctx)
	return args.Get(0).(gateway.Analytics), args.Error(1)
}
func (m *MockGateway) Prices(ctx context.Context) (map[string]float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[string]float64), args.Error(1)
}
func (m *MockGateway) Connection(ctx context.Context) (gateway.ConnectionState, error) {
	args := m.Called(ctx)
	return args.Get(0).(gateway.ConnectionState), args.Error(1)
}
func (m *MockGateway) EquityCurve(ctx context.Context, hours int) ([]gateway.EquityPoint, error) {
	args := m.Called(ctx, hours)
	return args.Get(0).([]gateway.EquityPoint), args.Error(1)
}

func blockUntilDone(ctx context.Context) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPollerFetchesImmediatelyAndStopSeals(t *testing.T) {
	store := viewmodel.NewStore(viewmodel.Options{})
	p := New(store, Options{RequestTimeout: time.Second},
		FeedSpec{Feed: viewmodel.FeedStats, Interval: time.Hour, Fetch: func(ctx context.Context) (any, error) {
			return gateway.Stats{TotalTrades: 3}, nil
		}},
	)
	require.NoError(t, p.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return store.Snapshot().Stats != nil
	}, time.Second, 5*time.Millisecond)
	p.Stop()
	p.Stop()
	assert.True(t, store.Sealed())
	assert.ErrorIs(t, p.Start(context.Background()), ErrNotRunning)
	assert.ErrorIs(t, p.RefreshNow(context.Background(), viewmodel.FeedStats), ErrNotRunning)
}

func TestSlowFeedDoesNotBlockOthers(t *testing.T) {
	store := viewmodel.NewStore(viewmodel.Options{})
	var priceCalls atomic.Int32
	p := New(store, Options{RequestTimeout: 5 * time.Second},
		FeedSpec{Feed: viewmodel.FeedWebhooks, Interval: 10 * time.Millisecond, Fetch: blockUntilDone},
		FeedSpec{Feed: viewmodel.FeedPrices, Interval: 10 * time.Millisecond, Fetch: func(ctx context.Context) (any, error) {
			n := priceCalls.Add(1)
			return map[string]float64{"AAPL": float64(100 + n)}, nil
		}},
	)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Eventually(t, func() bool { return priceCalls.Load() >= 5 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, store.Snapshot().Feeds[viewmodel.FeedWebhooks].Loaded)
}

func TestLateResponseDoesNotRegress(t *testing.T) {
	store := viewmodel.NewStore(viewmodel.Options{})
	var calls atomic.Int32
	release := make(chan struct{})
	p := New(store, Options{RequestTimeout: 5 * time.Second},
		FeedSpec{Feed: viewmodel.FeedPositions, Interval: time.Hour, Fetch: func(ctx context.Context) (any, error) {
			if calls.Add(1) == 1 {
				<-release
				return []gateway.Position{{ID: 1}}, nil
			}
			return []gateway.Position{{ID: 2}}, nil
		}},
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.RefreshNow(context.Background(), viewmodel.FeedPositions)
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, p.RefreshNow(context.Background(), viewmodel.FeedPositions))
	close(release)
	wg.Wait()

	snap := store.Snapshot()
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, int64(2), snap.Positions[0].ID)
}

func TestTimeoutRetainsStaleWhileOthersUpdate(t *testing.T) {
	store := viewmodel.NewStore(viewmodel.Options{})
	first := true
	var mu sync.Mutex
	p := New(store, Options{RequestTimeout: 30 * time.Millisecond},
		FeedSpec{Feed: viewmodel.FeedWebhooks, Interval: time.Hour, Fetch: func(ctx context.Context) (any, error) {
			mu.Lock()
			ok := first
			first = false
			mu.Unlock()
			if ok {
				return []gateway.Webhook{{ID: 1, ReceivedAt: "2024-01-01T00:00:00"}}, nil
			}
			return blockUntilDone(ctx)
		}},
		FeedSpec{Feed: viewmodel.FeedPositions, Interval: time.Hour, Fetch: func(ctx context.Context) (any, error) {
			return []gateway.Position{{ID: 9, Status: gateway.StatusOpen}}, nil
		}},
	)
	require.NoError(t, p.RefreshNow(context.Background(), viewmodel.FeedWebhooks))
	before := store.Snapshot().LastUpdated

	err := p.RefreshNow(context.Background(), viewmodel.FeedWebhooks, viewmodel.FeedPositions)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	snap := store.Snapshot()
	assert.Len(t, snap.Webhooks, 1)
	assert.Len(t, snap.Positions, 1)
	assert.True(t, snap.LastUpdated.After(before))
	assert.Equal(t, "transport_failure", snap.Feeds[viewmodel.FeedWebhooks].ErrorKind)
}

func TestStopAbortsInFlight(t *testing.T) {
	store := viewmodel.NewStore(viewmodel.Options{})
	started := make(chan struct{}, 1)
	p := New(store, Options{RequestTimeout: time.Minute},
		FeedSpec{Feed: viewmodel.FeedAnalytics, Interval: time.Hour, Fetch: func(ctx context.Context) (any, error) {
			started <- struct{}{}
			<-ctx.Done()
			return gateway.Analytics{TotalTrades: 1}, nil
		}},
	)
	require.NoError(t, p.Start(context.Background()))
	<-started

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Nil(t, store.Snapshot().Analytics)
}

func TestRefreshNowSkipsUnregisteredAndDeduplicates(t *testing.T) {
	store := viewmodel.NewStore(viewmodel.Options{})
	var calls atomic.Int32
	p := New(store, Options{},
		FeedSpec{Feed: viewmodel.FeedStats, Interval: time.Hour, Fetch: func(ctx context.Context) (any, error) {
			calls.Add(1)
			return gateway.Stats{}, nil
		}},
	)
	require.NoError(t, p.RefreshNow(context.Background(), viewmodel.FeedStats, viewmodel.FeedStats, viewmodel.FeedEquity))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRefreshNowRateLimited(t *testing.T) {
	store := viewmodel.NewStore(viewmodel.Options{})
	p := New(store, Options{RefreshPerSecond: 0.001, RefreshBurst: 1},
		FeedSpec{Feed: viewmodel.FeedStats, Interval: time.Hour, Fetch: func(ctx context.Context) (any, error) {
			return gateway.Stats{}, nil
		}},
	)
	require.NoError(t, p.RefreshNow(context.Background(), viewmodel.FeedStats))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, p.RefreshNow(ctx, viewmodel.FeedStats))
}

func TestFeedsFromGateway(t *testing.T) {
	gw := new(MockGateway)
	gw.On("Stats", mock.Anything).Return(gateway.Stats{TotalProfit: 5}, nil)
	gw.On("EquityCurve", mock.Anything, 12).Return([]gateway.EquityPoint{{Equity: 1}}, nil)

	cfg := config.PollConfig{
		SnapshotInterval:    10 * time.Second,
		EquityInterval:      time.Minute,
		EquityLookbackHours: 12,
		Feeds:               []string{"stats", "equity_curve"},
	}
	specs := FeedsFromGateway(gw, cfg)
	require.Len(t, specs, 2)
	assert.Equal(t, viewmodel.FeedStats, specs[0].Feed)
	assert.Equal(t, viewmodel.FeedEquity, specs[1].Feed)
	assert.Equal(t, time.Minute, specs[1].Interval)

	store := viewmodel.NewStore(viewmodel.Options{})
	p := New(store, Options{}, specs...)
	require.NoError(t, p.RefreshNow(context.Background()))
	snap := store.Snapshot()
	assert.Equal(t, 5.0, snap.Stats.TotalProfit)
	assert.Len(t, snap.EquityCurve, 1)
	gw.AssertExpectations(t)

	assert.Len(t, FeedsFromGateway(gw, config.PollConfig{}), len(viewmodel.AllFeeds))
}
