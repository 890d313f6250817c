package analytics

import (
	"math"

	"botwatch/internal/gateway"
)

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// PriceTick is the latest streamed price of one ticker.
type PriceTick struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Direction Direction `json:"direction"`
}

// NextTick derives the direction of price against the previously applied
// tick of the same ticker. The first observation is flat; an unchanged price
// keeps the previous direction.
func NextTick(prev *PriceTick, ticker string, price float64) PriceTick {
	tick := PriceTick{Ticker: ticker, Price: finite(price), Direction: DirectionFlat}
	if prev == nil {
		return tick
	}
	tick.Direction = prev.Direction
	switch {
	case tick.Price > prev.Price:
		tick.Direction = DirectionUp
	case tick.Price < prev.Price:
		tick.Direction = DirectionDown
	}
	return tick
}

// PositionRow is a position decorated with both percent views and, for
// open positions, the live mark from the price feed.
type PositionRow struct {
	gateway.Position
	Mark            *float64  `json:"mark,omitempty"`
	MarkDirection   Direction `json:"mark_direction,omitempty"`
	PriceDeltaPct   float64   `json:"price_delta_pct"`
	CapitalPct      float64   `json:"capital_pct"`
	RemainingAmount float64   `json:"remaining_amount"`
}

// PositionView marks an open position with tick (which may be nil). Closed
// positions keep their frozen price and pnl.
func PositionView(p gateway.Position, tick *PriceTick) PositionRow {
	row := PositionRow{Position: p, RemainingAmount: p.Remaining()}
	if p.IsOpen() && tick != nil && tick.Price > 0 && !math.IsNaN(tick.Price) {
		mark := tick.Price
		row.Mark = &mark
		row.MarkDirection = tick.Direction
		marked := p
		marked.CurrentPrice = &mark
		row.PriceDeltaPct = round2(PriceDeltaPercent(marked))
	} else {
		row.PriceDeltaPct = round2(PriceDeltaPercent(p))
	}
	row.CapitalPct = round2(CapitalPercent(p))
	return row
}
