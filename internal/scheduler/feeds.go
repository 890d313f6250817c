package scheduler

import (
	"context"
	"time"

	"botwatch/internal/config"
	"botwatch/internal/gateway"
	"botwatch/internal/viewmodel"
)

// Gateway is the read side of the remote service.
type Gateway interface {
	Stats(ctx context.Context) (gateway.Stats, error)
	Positions(ctx context.Context) ([]gateway.Position, error)
	Webhooks(ctx context.Context) ([]gateway.Webhook, error)
	Analytics(ctx context.Context) (gateway.Analytics, error)
	Prices(ctx context.Context) (map[string]float64, error)
	Connection(ctx context.Context) (gateway.ConnectionState, error)
	EquityCurve(ctx context.Context, hours int) ([]gateway.EquityPoint, error)
}

// Fetcher loads one feed's full value.
type Fetcher func(ctx context.Context) (any, error)

// FeedSpec binds a feed key to its cadence and loader.
type FeedSpec struct {
	Feed     viewmodel.Feed
	Interval time.Duration
	Fetch    Fetcher
}

// FeedsFromGateway builds the standard feed set, honoring poll.feeds.
func FeedsFromGateway(gw Gateway, cfg config.PollConfig) []FeedSpec {
	hours := cfg.EquityLookbackHours
	all := []FeedSpec{
		{Feed: viewmodel.FeedStats, Interval: cfg.SnapshotInterval, Fetch: func(ctx context.Context) (any, error) { return gw.Stats(ctx) }},
		{Feed: viewmodel.FeedPositions, Interval: cfg.SnapshotInterval, Fetch: func(ctx context.Context) (any, error) { return gw.Positions(ctx) }},
		{Feed: viewmodel.FeedWebhooks, Interval: cfg.SnapshotInterval, Fetch: func(ctx context.Context) (any, error) { return gw.Webhooks(ctx) }},
		{Feed: viewmodel.FeedAnalytics, Interval: cfg.SnapshotInterval, Fetch: func(ctx context.Context) (any, error) { return gw.Analytics(ctx) }},
		{Feed: viewmodel.FeedPrices, Interval: cfg.PriceInterval, Fetch: func(ctx context.Context) (any, error) { return gw.Prices(ctx) }},
		{Feed: viewmodel.FeedConnection, Interval: cfg.ConnectionInterval, Fetch: func(ctx context.Context) (any, error) { return gw.Connection(ctx) }},
		{Feed: viewmodel.FeedEquity, Interval: cfg.EquityInterval, Fetch: func(ctx context.Context) (any, error) { return gw.EquityCurve(ctx, hours) }},
	}
	out := make([]FeedSpec, 0, len(all))
	for _, spec := range all {
		if cfg.FeedEnabled(string(spec.Feed)) {
			out = append(out, spec)
		}
	}
	return out
}
