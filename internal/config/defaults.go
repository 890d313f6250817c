package config

import (
	"strings"
	"time"
)

// 默认值常量
const (
	defaultAppEnv              = "dev"
	defaultAppLogLevel         = "info"
	defaultAppLogPath          = "data/logs/botwatch.log"
	defaultAppLogMaxSizeMB     = 50
	defaultAppLogMaxBackups    = 5
	defaultGatewayAPI          = "http://localhost:5000"
	defaultGatewayTimeout      = 8
	defaultGatewayActionTO     = 30
	defaultGatewayUserAgent    = "botwatch/1.0"
	defaultSnapshotInterval    = 10 * time.Second
	defaultPriceInterval       = 2 * time.Second
	defaultConnectionInterval  = 3 * time.Second
	defaultEquityInterval      = 60 * time.Second
	defaultEquityLookbackHours = 24
	defaultWebhookLimit        = 10
	defaultDegradedAfter       = 3
	defaultRefreshPerSecond    = 2
	defaultRefreshBurst        = 4
	defaultReportWindow        = 5 * time.Second
	defaultKillSwitchReason    = "Manual panic button activation by user"
	defaultStorePath           = "data/db/botwatch.db"
	defaultStoreHistoryLimit   = 50
	defaultStoreRetain         = 5000
	defaultHTTPAddr            = "127.0.0.1:9992"
	defaultTUIRefresh          = time.Second
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Gateway.applyDefaults(keys)
	c.Poll.applyDefaults(keys)
	c.Actions.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
	c.TUI.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		intFieldDefault("app.log_max_size_mb", &a.LogMaxSizeMB, defaultAppLogMaxSizeMB),
		intFieldDefault("app.log_max_backups", &a.LogMaxBackups, defaultAppLogMaxBackups),
	)
}

func (g *GatewayConfig) applyDefaults(keys keySet) {
	if g == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("gateway.api_url", &g.APIURL, defaultGatewayAPI),
		stringFieldDefault("gateway.user_agent", &g.UserAgent, defaultGatewayUserAgent),
		intFieldDefault("gateway.timeout_seconds", &g.TimeoutSeconds, defaultGatewayTimeout),
		intFieldDefault("gateway.action_timeout_seconds", &g.ActionTimeoutSeconds, defaultGatewayActionTO),
	)
	g.APIURL = strings.TrimRight(strings.TrimSpace(g.APIURL), "/")
	g.APIToken = strings.TrimSpace(g.APIToken)
}

func (p *PollConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		durationFieldDefault("poll.snapshot_interval", &p.SnapshotInterval, defaultSnapshotInterval),
		durationFieldDefault("poll.price_interval", &p.PriceInterval, defaultPriceInterval),
		durationFieldDefault("poll.connection_interval", &p.ConnectionInterval, defaultConnectionInterval),
		durationFieldDefault("poll.equity_interval", &p.EquityInterval, defaultEquityInterval),
		intFieldDefault("poll.equity_lookback_hours", &p.EquityLookbackHours, defaultEquityLookbackHours),
		intFieldDefault("poll.webhook_limit", &p.WebhookLimit, defaultWebhookLimit),
		intFieldDefault("poll.degraded_after", &p.DegradedAfter, defaultDegradedAfter),
		intFieldDefault("poll.refresh_burst", &p.RefreshBurst, defaultRefreshBurst),
		fieldDefault{
			key:   "poll.refresh_per_second",
			need:  func() bool { return p.RefreshPerSecond <= 0 },
			apply: func() { p.RefreshPerSecond = defaultRefreshPerSecond },
		},
	)
}

func (a *ActionsConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		durationFieldDefault("actions.report_window", &a.ReportWindow, defaultReportWindow),
		stringFieldDefault("actions.kill_switch_reason", &a.KillSwitchReason, defaultKillSwitchReason),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		intFieldDefault("store.history_limit", &s.HistoryLimit, defaultStoreHistoryLimit),
		intFieldDefault("store.retain", &s.Retain, defaultStoreRetain),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("http.enabled", &h.Enabled, true),
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
	)
}

func (t *TUIConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		durationFieldDefault("tui.refresh_interval", &t.RefreshInterval, defaultTUIRefresh),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func durationFieldDefault(key string, target *time.Duration, def time.Duration) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
