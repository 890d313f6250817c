package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

var knownFeeds = map[string]bool{
	"stats":        true,
	"positions":    true,
	"webhooks":     true,
	"analytics":    true,
	"prices":       true,
	"connection":   true,
	"equity_curve": true,
}

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Gateway.validate(); err != nil {
		return err
	}
	if err := c.Poll.validate(); err != nil {
		return err
	}
	if err := c.Actions.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (g *GatewayConfig) validate() error {
	raw := strings.TrimSpace(g.APIURL)
	if raw == "" {
		return fmt.Errorf("gateway.api_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("gateway.api_url is not an absolute URL: %q", raw)
	}
	if g.TimeoutSeconds <= 0 {
		return fmt.Errorf("gateway.timeout_seconds must be > 0")
	}
	if g.ActionTimeoutSeconds < g.TimeoutSeconds {
		return fmt.Errorf("gateway.action_timeout_seconds (%d) must be >= gateway.timeout_seconds (%d)",
			g.ActionTimeoutSeconds, g.TimeoutSeconds)
	}
	return nil
}

func (p *PollConfig) validate() error {
	checks := []struct {
		key string
		val time.Duration
	}{
		{"poll.snapshot_interval", p.SnapshotInterval},
		{"poll.price_interval", p.PriceInterval},
		{"poll.connection_interval", p.ConnectionInterval},
		{"poll.equity_interval", p.EquityInterval},
	}
	for _, c := range checks {
		if c.val < 100*time.Millisecond {
			return fmt.Errorf("%s must be >= 100ms, got %s", c.key, c.val)
		}
	}
	if p.WebhookLimit <= 0 {
		return fmt.Errorf("poll.webhook_limit must be > 0")
	}
	if p.EquityLookbackHours <= 0 {
		return fmt.Errorf("poll.equity_lookback_hours must be > 0")
	}
	for _, f := range p.Feeds {
		if !knownFeeds[strings.ToLower(strings.TrimSpace(f))] {
			return fmt.Errorf("poll.feeds contains unknown feed: %s", f)
		}
	}
	return nil
}

func (a *ActionsConfig) validate() error {
	if a.ReportWindow <= 0 {
		return fmt.Errorf("actions.report_window must be > 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
