package tui

import (
	"fmt"
	"strings"
	"time"

	"botwatch/internal/action"
	"botwatch/internal/analytics"
	"botwatch/internal/gateway"
	"botwatch/internal/pkg/text"
	"botwatch/internal/viewmodel"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	upStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	downStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	alertStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("1")).
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().Reverse(true)
)

const maxRows = 12

func (m Model) View() string {
	v := m.view
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if v.AuthFailed {
		b.WriteString(alertStyle.Render("AUTH FAILED: check gateway.api_token"))
		b.WriteString("\n")
	}
	if m.killSwitchArmed() {
		b.WriteString(alertStyle.Render("KILL SWITCH ARMED: closes ALL positions and stops the bot. y = confirm, n = cancel"))
		b.WriteString("\n")
	}

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		borderStyle.Render(m.renderMetrics()),
		borderStyle.Render(m.renderPerformance()),
	))
	b.WriteString("\n")
	b.WriteString(borderStyle.Render(m.renderPanel()))
	b.WriteString("\n")
	if prices := m.renderPrices(); prices != "" {
		b.WriteString(prices)
		b.WriteString("\n")
	}
	b.WriteString(m.renderActions())
	b.WriteString(m.renderFeeds())
	b.WriteString("\n")
	if m.flash != "" {
		style := upStyle
		if m.flashErr {
			style = downStyle
		}
		b.WriteString(style.Render(m.flash))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("t toggle · K kill switch · c close · tab panel · ↑/↓ select · r refresh · q quit"))
	return b.String()
}

func (m Model) renderHeader() string {
	v := m.view
	bot := "bot: n/a"
	if v.StatsLoaded {
		bot = "bot: stopped"
		if v.Stats.BotActive {
			bot = "bot: running"
		}
		if v.Stats.DemoMode {
			bot += " (demo)"
		}
	}
	conn := "broker: " + v.Connection.Status
	if v.Connection.Source != "" {
		conn += " via " + v.Connection.Source
	}
	switch v.Connection.Status {
	case gateway.ConnError, gateway.ConnDisconnected:
		conn = "⚠ " + conn
	}
	updated := "never"
	if !v.LastUpdated.IsZero() {
		updated = formatAge(m.now.Sub(v.LastUpdated))
	}
	parts := []string{"botwatch", bot, conn, "updated " + updated}
	if m.sealed {
		parts = append(parts, "stopped")
	}
	return headerStyle.Render(strings.Join(parts, " │ "))
}

func (m Model) renderMetrics() string {
	v := m.view
	lines := []string{
		titleStyle.Render("Portfolio"),
		"realized    " + money(v.Realized),
		"unrealized  " + money(v.Unrealized),
		"total       " + money(v.Total),
		"trend       " + trend(v.Trend, v.TrendDelta),
		fmt.Sprintf("drawdown    %.2f (%.2f%%)", v.Drawdown.CurrentDrawdown, v.Drawdown.CurrentDrawdownPercent),
	}
	if v.StatsLoaded {
		lines = append(lines, fmt.Sprintf("trades      %d (%d open)", v.Stats.TotalTrades, v.Stats.OpenPositions))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderPerformance() string {
	a := m.view.Analytics
	lines := []string{
		titleStyle.Render("Performance") + dimStyle.Render(" ("+m.view.AnalyticsSource+")"),
		fmt.Sprintf("win rate    %.2f%% (%d/%d)", a.WinRate, a.WinningTrades, a.TotalTrades),
		fmt.Sprintf("pf          %.2f", a.ProfitFactor),
		"avg win     " + money(a.AvgProfit),
		"avg loss    " + money(a.AvgLoss),
		fmt.Sprintf("max dd      %.2f (%.2f%%)", a.MaxDrawdown, a.MaxDrawdownPercent),
		fmt.Sprintf("streak      +%d / -%d", a.ConsecutiveWins, a.ConsecutiveLosses),
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderPanel() string {
	var rows []string
	tabs := make([]string, 0, panelCount)
	for p := panelOpen; p < panelCount; p++ {
		label := p.String()
		if p == m.panel {
			label = titleStyle.Render("[" + label + "]")
		} else {
			label = dimStyle.Render(label)
		}
		tabs = append(tabs, label)
	}
	rows = append(rows, strings.Join(tabs, "  "))

	switch m.panel {
	case panelSignals:
		if len(m.view.Signals) == 0 {
			rows = append(rows, dimStyle.Render("no signals"))
		}
		for i, s := range m.view.Signals {
			if i >= maxRows {
				break
			}
			rows = append(rows, m.selectRow(i, signalRow(s)))
		}
	case panelClosed:
		if len(m.view.Closed) == 0 {
			rows = append(rows, dimStyle.Render("no closed positions"))
		}
		for i, p := range m.view.Closed {
			if i >= maxRows {
				break
			}
			rows = append(rows, m.selectRow(i, positionRow(p)))
		}
	default:
		if len(m.view.Open) == 0 {
			rows = append(rows, dimStyle.Render("no open positions"))
		}
		for i, p := range m.view.Open {
			if i >= maxRows {
				break
			}
			line := positionRow(p)
			if st := m.statusFor(action.Key(action.KindClosePosition, fmt.Sprint(p.ID))); st != nil && st.State == action.StateInFlight {
				line += warnStyle.Render("  closing…")
			}
			rows = append(rows, m.selectRow(i, line))
		}
	}
	return strings.Join(rows, "\n")
}

func (m Model) selectRow(i int, line string) string {
	if i == m.cursor {
		return selectedStyle.Render(line)
	}
	return line
}

func positionRow(p analytics.PositionRow) string {
	price := "-"
	switch {
	case p.Mark != nil:
		price = fmt.Sprintf("%.4f", *p.Mark)
	case p.CurrentPrice != nil:
		price = fmt.Sprintf("%.4f", *p.CurrentPrice)
	}
	switch p.MarkDirection {
	case analytics.DirectionUp:
		price = upStyle.Render(price + "▲")
	case analytics.DirectionDown:
		price = downStyle.Render(price + "▼")
	}
	return fmt.Sprintf("#%-5d %-10s %-5s qty %-10.4f entry %-10.4f now %s  pnl %s  %+.2f%%",
		p.ID, p.Symbol, p.Side, p.Remaining(), p.EntryPrice, price, money(p.PnLValue()), p.PriceDeltaPct)
}

func signalRow(s viewmodel.SignalRow) string {
	sig := s.Signal
	if sig.Ticker == "" && sig.Direction == "" {
		return fmt.Sprintf("%s  %s", s.ReceivedAt, text.Truncate(sig.Raw, 80))
	}
	line := fmt.Sprintf("%s  %-10s %-5s", s.ReceivedAt, sig.Ticker, sig.Direction)
	if sig.Price > 0 {
		line += fmt.Sprintf(" @ %.4f", sig.Price)
	}
	if sig.Message != "" {
		line += "  " + text.Truncate(sig.Message, 60)
	}
	return line
}

func (m Model) renderPrices() string {
	if len(m.view.Prices) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m.view.Prices))
	for _, t := range m.view.Prices {
		txt := fmt.Sprintf("%s %.4f", t.Ticker, t.Price)
		switch t.Direction {
		case analytics.DirectionUp:
			txt = upStyle.Render(txt + "▲")
		case analytics.DirectionDown:
			txt = downStyle.Render(txt + "▼")
		}
		parts = append(parts, txt)
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderActions() string {
	var b strings.Builder
	for _, st := range m.statuses {
		switch st.State {
		case action.StateInFlight:
			b.WriteString(warnStyle.Render(fmt.Sprintf("%s: sending…", st.Key)))
		case action.StateReporting:
			if st.Result == nil {
				continue
			}
			if st.Result.Success {
				b.WriteString(upStyle.Render(fmt.Sprintf("%s: %s", st.Key, st.Result.Message)))
			} else {
				b.WriteString(downStyle.Render(fmt.Sprintf("%s failed: %s", st.Key, st.Result.Message)))
			}
		default:
			continue
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderFeeds() string {
	var parts []string
	for _, f := range m.view.Feeds {
		switch {
		case f.Degraded:
			parts = append(parts, downStyle.Render(string(f.Feed)+" degraded"))
		case f.Stale():
			parts = append(parts, warnStyle.Render(string(f.Feed)+" stale"))
		case !f.Loaded:
			parts = append(parts, dimStyle.Render(string(f.Feed)+" …"))
		}
	}
	if len(parts) == 0 {
		return dimStyle.Render("feeds ok")
	}
	return strings.Join(parts, "  ")
}

func (m Model) statusFor(key string) *action.Status {
	for i := range m.statuses {
		if m.statuses[i].Key == key {
			return &m.statuses[i]
		}
	}
	return nil
}

func money(v float64) string {
	s := fmt.Sprintf("%+.2f", v)
	switch {
	case v > 0:
		return upStyle.Render(s)
	case v < 0:
		return downStyle.Render(s)
	default:
		return s
	}
}

func trend(t analytics.Trend, delta float64) string {
	switch t {
	case analytics.TrendUp:
		return upStyle.Render(fmt.Sprintf("up %+.2f", delta))
	case analytics.TrendDown:
		return downStyle.Render(fmt.Sprintf("down %+.2f", delta))
	case analytics.TrendNeutral:
		return "neutral"
	default:
		return dimStyle.Render("no data")
	}
}

func formatAge(d time.Duration) string {
	if d < time.Second {
		return "just now"
	}
	return d.Round(time.Second).String() + " ago"
}
