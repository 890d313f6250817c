package gateway

import (
	"encoding/json"
	"strings"
	"time"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// Stats is the aggregate account snapshot; always replaced wholesale.
type Stats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalProfit   float64 `json:"total_profit"`
	OpenPositions int     `json:"open_positions"`
	BotActive     bool    `json:"bot_active"`
	DemoMode      bool    `json:"demo_mode"`
}

// Position mirrors one row of /dashboard/positions. CurrentPrice and PnL
// stay nil until the server has a value for them.
type Position struct {
	ID                int64          `json:"id"`
	Symbol            string         `json:"symbol"`
	Side              Side           `json:"side"`
	Quantity          float64        `json:"quantity"`
	RemainingQuantity *float64       `json:"remaining_quantity,omitempty"`
	EntryPrice        float64        `json:"entry_price"`
	CurrentPrice      *float64       `json:"current_price"`
	PnL               *float64       `json:"pnl"`
	Status            PositionStatus `json:"status"`
	OpenedAt          string         `json:"opened_at"`
	ClosedAt          string         `json:"closed_at,omitempty"`
}

func (p Position) IsOpen() bool {
	return PositionStatus(strings.ToLower(string(p.Status))) == StatusOpen
}

// PnLValue treats a missing pnl as zero.
func (p Position) PnLValue() float64 {
	if p.PnL == nil {
		return 0
	}
	return *p.PnL
}

// Remaining returns the still-open quantity, defaulting to Quantity and never
// exceeding it.
func (p Position) Remaining() float64 {
	if p.RemainingQuantity == nil || *p.RemainingQuantity <= 0 {
		return p.Quantity
	}
	if *p.RemainingQuantity > p.Quantity && p.Quantity > 0 {
		return p.Quantity
	}
	return *p.RemainingQuantity
}

// Webhook is an inbound signal as stored by the bot. Payload is either a
// JSON object or a JSON string (which may itself encode an object).
type Webhook struct {
	ID         int64           `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt string          `json:"received_at"`
}

func (w Webhook) ReceivedTime() time.Time {
	t, _ := ParseTime(w.ReceivedAt)
	return t
}

// Analytics is the server-computed performance aggregate over the full
// trade history.
type Analytics struct {
	TotalTrades            int     `json:"total_trades"`
	WinningTrades          int     `json:"winning_trades"`
	LosingTrades           int     `json:"losing_trades"`
	WinRate                float64 `json:"win_rate"`
	AvgProfit              float64 `json:"avg_profit"`
	AvgLoss                float64 `json:"avg_loss"`
	LargestWin             float64 `json:"largest_win"`
	LargestLoss            float64 `json:"largest_loss"`
	ProfitFactor           float64 `json:"profit_factor"`
	MaxDrawdown            float64 `json:"max_drawdown"`
	MaxDrawdownPercent     float64 `json:"max_drawdown_percent"`
	CurrentDrawdown        float64 `json:"current_drawdown"`
	CurrentDrawdownPercent float64 `json:"current_drawdown_percent"`
	ConsecutiveWins        int     `json:"consecutive_wins"`
	ConsecutiveLosses      int     `json:"consecutive_losses"`
}

type EquityPoint struct {
	Timestamp string  `json:"timestamp"`
	Equity    float64 `json:"equity"`
}

const (
	ConnConnected    = "connected"
	ConnDisconnected = "disconnected"
	ConnError        = "error"
	ConnUnknown      = "unknown"
)

// ConnectionState describes the bot's link to its broker/data source.
type ConnectionState struct {
	Status    string  `json:"status"`
	Source    string  `json:"source"`
	LatencyMs float64 `json:"latency_ms"`
}

type PriceQuote struct {
	Price float64 `json:"price"`
}

type ToggleResult struct {
	Message  string `json:"message"`
	IsActive bool   `json:"is_active"`
}

type CloseResult struct {
	Message string   `json:"message"`
	PnL     *float64 `json:"pnl,omitempty"`
}

type KillSwitchResult struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message"`
	PositionsClosed int      `json:"positions_closed"`
	BotDeactivated  bool     `json:"bot_deactivated"`
	Errors          []string `json:"errors,omitempty"`
}

// BotConfig is a partial update document: nil fields are left unchanged
// server-side.
type BotConfig struct {
	RiskLevel         *string  `json:"risk_level,omitempty"`
	MaxPositionSize   *float64 `json:"max_position_size,omitempty"`
	StopLossPercent   *float64 `json:"stop_loss_percent,omitempty"`
	TakeProfitPercent *float64 `json:"take_profit_percent,omitempty"`
	DemoMode          *bool    `json:"demo_mode,omitempty"`
	AutoCloseEnabled  *bool    `json:"auto_close_enabled,omitempty"`
}

type BrokerSettings struct {
	BrokerName  string `json:"broker_name,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
	APISecret   string `json:"api_secret,omitempty"`
	IsConnected *bool  `json:"is_connected,omitempty"`
}

// Redacted masks credentials before settings leave the process.
func (b BrokerSettings) Redacted() BrokerSettings {
	if b.APIKey != "" {
		b.APIKey = "****"
	}
	if b.APISecret != "" {
		b.APISecret = "****"
	}
	return b
}

type PanicEvent struct {
	PositionID int64  `json:"position_id"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
	Timestamp  string `json:"timestamp"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
}

// ParseTime accepts the ISO variants the bot emits (with or without zone,
// 'T' or space separated). Zone-less values are taken as UTC.
func ParseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
