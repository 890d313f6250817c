package analytics

import (
	"botwatch/internal/gateway"
)

type Trend string

const (
	TrendNoData  Trend = "no_data"
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendNeutral Trend = "neutral"
)

// EquityTrend compares the first and last point of the window. Delta is
// last minus first.
func EquityTrend(points []gateway.EquityPoint) (Trend, float64) {
	if len(points) == 0 {
		return TrendNoData, 0
	}
	first := finite(points[0].Equity)
	last := finite(points[len(points)-1].Equity)
	delta := decToFloat(decFromFloat(last).Sub(decFromFloat(first)))
	switch {
	case last > first:
		return TrendUp, delta
	case last < first:
		return TrendDown, delta
	default:
		return TrendNeutral, 0
	}
}

// DrawdownStats measures falls from the running equity peak.
type DrawdownStats struct {
	MaxDrawdown            float64 `json:"max_drawdown"`
	MaxDrawdownPercent     float64 `json:"max_drawdown_percent"`
	CurrentDrawdown        float64 `json:"current_drawdown"`
	CurrentDrawdownPercent float64 `json:"current_drawdown_percent"`
}

// Drawdown walks the curve in order. Max drawdown percent is taken against
// the peak it fell from; current drawdown against the latest peak.
func Drawdown(points []gateway.EquityPoint) DrawdownStats {
	if len(points) == 0 {
		return DrawdownStats{}
	}
	peak := finite(points[0].Equity)
	var maxDD, maxPeak, current float64
	for _, pt := range points {
		eq := finite(pt.Equity)
		if eq > peak {
			peak = eq
		}
		dd := peak - eq
		if dd > maxDD {
			maxDD = dd
			maxPeak = peak
		}
		current = dd
	}
	out := DrawdownStats{
		MaxDrawdown:     round2(maxDD),
		CurrentDrawdown: round2(current),
	}
	if maxPeak > 0 {
		out.MaxDrawdownPercent = round2(maxDD / maxPeak * 100)
	}
	if peak > 0 {
		out.CurrentDrawdownPercent = round2(current / peak * 100)
	}
	return out
}
