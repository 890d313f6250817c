// Package analytics derives portfolio metrics from raw gateway payloads.
// Every function is pure: no I/O, no clocks, identical output for identical input.
package analytics

import (
	"botwatch/internal/gateway"
)

// UnrealizedPnL sums pnl over open positions; a missing pnl counts as 0.
// Plain float addition in slice order, so callers summing the same values
// get the identical result.
func UnrealizedPnL(positions []gateway.Position) float64 {
	var sum float64
	for _, p := range positions {
		if !p.IsOpen() {
			continue
		}
		sum += p.PnLValue()
	}
	return sum
}

// RealizedProfit is the server's total_profit, 0 before stats have loaded.
func RealizedProfit(stats *gateway.Stats) float64 {
	if stats == nil {
		return 0
	}
	return finite(stats.TotalProfit)
}

func TotalPortfolioValue(stats *gateway.Stats, positions []gateway.Position) float64 {
	return RealizedProfit(stats) + UnrealizedPnL(positions)
}

// PriceDeltaPercent is the move of the current price against entry.
func PriceDeltaPercent(p gateway.Position) float64 {
	if p.EntryPrice <= 0 || p.CurrentPrice == nil {
		return 0
	}
	return finite((*p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100)
}

// CapitalPercent is pnl relative to the capital still committed
// (entry price times remaining quantity).
func CapitalPercent(p gateway.Position) float64 {
	basis := p.EntryPrice * p.Remaining()
	if basis <= 0 || p.PnL == nil {
		return 0
	}
	return finite(*p.PnL / basis * 100)
}
