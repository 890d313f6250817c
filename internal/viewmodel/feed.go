package viewmodel

import (
	"fmt"
	"strings"
)

// Feed names one independently polled data stream.
type Feed string

const (
	FeedStats      Feed = "stats"
	FeedPositions  Feed = "positions"
	FeedWebhooks   Feed = "webhooks"
	FeedAnalytics  Feed = "analytics"
	FeedPrices     Feed = "prices"
	FeedConnection Feed = "connection"
	FeedEquity     Feed = "equity_curve"
)

// AllFeeds lists every feed in display order.
var AllFeeds = []Feed{FeedStats, FeedPositions, FeedWebhooks, FeedAnalytics, FeedPrices, FeedConnection, FeedEquity}

func (f Feed) String() string { return string(f) }

func (f Feed) Valid() bool {
	for _, known := range AllFeeds {
		if f == known {
			return true
		}
	}
	return false
}

// ParseFeed accepts the canonical key plus a few aliases ("equity",
// "realtime-prices", "connection-status").
func ParseFeed(raw string) (Feed, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	switch key {
	case "equity", "equity-curve":
		return FeedEquity, nil
	case "realtime-prices", "price":
		return FeedPrices, nil
	case "connection-status":
		return FeedConnection, nil
	}
	f := Feed(key)
	if !f.Valid() {
		return "", fmt.Errorf("unknown feed %q", raw)
	}
	return f, nil
}
