package viewmodel

import (
	"sort"
	"time"

	"botwatch/internal/analytics"
	"botwatch/internal/gateway"
	"botwatch/internal/pkg/symbol"
)

// SignalRow is a decoded webhook for display.
type SignalRow struct {
	ID         int64          `json:"id"`
	ReceivedAt string         `json:"received_at"`
	Signal     gateway.Signal `json:"signal"`
}

// View is everything a presentation surface renders, derived from one
// Snapshot at read time.
type View struct {
	Version         uint64                  `json:"version"`
	LastUpdated     time.Time               `json:"last_updated,omitempty"`
	Stats           gateway.Stats           `json:"stats"`
	StatsLoaded     bool                    `json:"stats_loaded"`
	Realized        float64                 `json:"realized_profit"`
	Unrealized      float64                 `json:"unrealized_pnl"`
	Total           float64                 `json:"total_portfolio_value"`
	Trend           analytics.Trend         `json:"equity_trend"`
	TrendDelta      float64                 `json:"equity_delta"`
	Drawdown        analytics.DrawdownStats `json:"curve_drawdown"`
	Analytics       gateway.Analytics       `json:"analytics"`
	AnalyticsSource string                  `json:"analytics_source"`
	Open            []analytics.PositionRow `json:"open_positions"`
	Closed          []analytics.PositionRow `json:"closed_positions"`
	Signals         []SignalRow             `json:"signals"`
	Prices          []analytics.PriceTick   `json:"prices"`
	Connection      gateway.ConnectionState `json:"connection"`
	EquityCurve     []gateway.EquityPoint   `json:"equity_curve"`
	Feeds           []FeedStatus            `json:"feeds"`
	AuthFailed      bool                    `json:"auth_failed"`
	Degraded        []Feed                  `json:"degraded,omitempty"`
}

// View derives display data. Analytics fall back to a local computation
// from closed positions until the analytics feed has loaded once.
func (s Snapshot) View() View {
	v := View{
		Version:     s.Version,
		LastUpdated: s.LastUpdated,
		Realized:    analytics.RealizedProfit(s.Stats),
		Unrealized:  analytics.UnrealizedPnL(s.Positions),
		Total:       analytics.TotalPortfolioValue(s.Stats, s.Positions),
		Drawdown:    analytics.Drawdown(s.EquityCurve),
		EquityCurve: s.EquityCurve,
		AuthFailed:  s.AuthFailed(),
		Degraded:    s.Degraded(),
	}
	if s.Stats != nil {
		v.Stats = *s.Stats
		v.StatsLoaded = true
	}
	v.Trend, v.TrendDelta = analytics.EquityTrend(s.EquityCurve)
	if s.Analytics != nil {
		v.Analytics = *s.Analytics
		v.AnalyticsSource = "server"
	} else {
		v.Analytics = analytics.Performance(s.Positions, s.EquityCurve)
		v.AnalyticsSource = "local"
	}

	v.Open = []analytics.PositionRow{}
	v.Closed = []analytics.PositionRow{}
	for _, p := range s.Positions {
		var tick *analytics.PriceTick
		if t, ok := s.Prices[symbol.Key(p.Symbol)]; ok {
			tick = &t
		}
		row := analytics.PositionView(p, tick)
		if p.IsOpen() {
			v.Open = append(v.Open, row)
		} else {
			v.Closed = append(v.Closed, row)
		}
	}

	v.Signals = make([]SignalRow, 0, len(s.Webhooks))
	for _, w := range s.Webhooks {
		v.Signals = append(v.Signals, SignalRow{ID: w.ID, ReceivedAt: w.ReceivedAt, Signal: w.Signal()})
	}

	v.Prices = make([]analytics.PriceTick, 0, len(s.Prices))
	for _, t := range s.Prices {
		v.Prices = append(v.Prices, t)
	}
	sort.Slice(v.Prices, func(i, j int) bool { return v.Prices[i].Ticker < v.Prices[j].Ticker })

	v.Connection = gateway.ConnectionState{Status: gateway.ConnUnknown}
	if s.Connection != nil {
		v.Connection = *s.Connection
	}
	if st := s.Feeds[FeedConnection]; st.LastError != "" {
		v.Connection.Status = gateway.ConnError
	}

	v.Feeds = make([]FeedStatus, 0, len(AllFeeds))
	for _, f := range AllFeeds {
		v.Feeds = append(v.Feeds, s.Feeds[f])
	}
	return v
}
