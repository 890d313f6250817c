package analytics

import (
	"sort"

	"github.com/shopspring/decimal"

	"botwatch/internal/gateway"
)

// Performance recomputes the analytics aggregate locally from closed
// positions and the equity curve. It backs the view until the analytics
// feed has delivered once.
func Performance(positions []gateway.Position, curve []gateway.EquityPoint) gateway.Analytics {
	closed := closedByRecency(positions)
	out := gateway.Analytics{}
	dd := Drawdown(curve)
	out.MaxDrawdown = dd.MaxDrawdown
	out.MaxDrawdownPercent = dd.MaxDrawdownPercent
	out.CurrentDrawdown = dd.CurrentDrawdown
	out.CurrentDrawdownPercent = dd.CurrentDrawdownPercent
	if len(closed) == 0 {
		return out
	}

	winSum, lossSum := decimalZero, decimalZero
	var largestWin, largestLoss decimal.Decimal
	for _, p := range closed {
		pnl := decFromFloat(*p.PnL)
		switch {
		case pnl.IsPositive():
			out.WinningTrades++
			winSum = winSum.Add(pnl)
			if out.WinningTrades == 1 || pnl.GreaterThan(largestWin) {
				largestWin = pnl
			}
		case pnl.IsNegative():
			out.LosingTrades++
			lossSum = lossSum.Add(pnl)
			if out.LosingTrades == 1 || pnl.LessThan(largestLoss) {
				largestLoss = pnl
			}
		}
	}
	out.TotalTrades = len(closed)
	hundred := decimal.NewFromInt(100)
	out.WinRate = decToFloat(decimal.NewFromInt(int64(out.WinningTrades)).Mul(hundred).Div(decimal.NewFromInt(int64(out.TotalTrades))).Round(2))
	if out.WinningTrades > 0 {
		out.AvgProfit = decToFloat(winSum.Div(decimal.NewFromInt(int64(out.WinningTrades))).Round(2))
		out.LargestWin = decToFloat(largestWin.Round(2))
	}
	if out.LosingTrades > 0 {
		out.AvgLoss = decToFloat(lossSum.Div(decimal.NewFromInt(int64(out.LosingTrades))).Round(2))
		out.LargestLoss = decToFloat(largestLoss.Round(2))
	}
	if totalLoss := lossSum.Abs(); totalLoss.IsPositive() {
		out.ProfitFactor = decToFloat(winSum.Div(totalLoss).Round(2))
	}
	out.ConsecutiveWins, out.ConsecutiveLosses = streaks(closed)
	return out
}

// streaks counts the current run from the most recent trade. Leading
// break-even trades are skipped; a later one ends the run.
func streaks(recentFirst []gateway.Position) (wins, losses int) {
	i := 0
	for i < len(recentFirst) && *recentFirst[i].PnL == 0 {
		i++
	}
	if i == len(recentFirst) {
		return 0, 0
	}
	positive := *recentFirst[i].PnL > 0
	for ; i < len(recentFirst); i++ {
		pnl := *recentFirst[i].PnL
		if positive && pnl > 0 {
			wins++
			continue
		}
		if !positive && pnl < 0 {
			losses++
			continue
		}
		break
	}
	return wins, losses
}

func closedByRecency(positions []gateway.Position) []gateway.Position {
	out := make([]gateway.Position, 0, len(positions))
	for _, p := range positions {
		if p.IsOpen() || p.PnL == nil {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, _ := gateway.ParseTime(out[i].ClosedAt)
		tj, _ := gateway.ParseTime(out[j].ClosedAt)
		return ti.After(tj)
	})
	return out
}

// SanitizeAnalytics returns a copy with every pass-through figure finite and
// rounded to cents; missing fields are already zero after decoding.
func SanitizeAnalytics(a *gateway.Analytics) gateway.Analytics {
	if a == nil {
		return gateway.Analytics{}
	}
	out := *a
	for _, f := range []*float64{
		&out.WinRate, &out.AvgProfit, &out.AvgLoss, &out.LargestWin, &out.LargestLoss,
		&out.ProfitFactor, &out.MaxDrawdown, &out.MaxDrawdownPercent,
		&out.CurrentDrawdown, &out.CurrentDrawdownPercent,
	} {
		*f = round2(*f)
	}
	if out.TotalTrades < 0 {
		out.TotalTrades = 0
	}
	return out
}
