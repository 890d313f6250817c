package config

import (
	"strings"
	"time"
)

// Config 是 botwatch 的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Gateway GatewayConfig `toml:"gateway"`
	Poll    PollConfig    `toml:"poll"`
	Actions ActionsConfig `toml:"actions"`
	Store   StoreConfig   `toml:"store"`
	Notify  NotifyConfig  `toml:"notify"`
	HTTP    HTTPConfig    `toml:"http"`
	TUI     TUIConfig     `toml:"tui"`
}

type AppConfig struct {
	Env           string `toml:"env"`
	LogLevel      string `toml:"log_level"`
	LogPath       string `toml:"log_path"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
}

// GatewayConfig 描述远端交易机器人服务的访问方式。
type GatewayConfig struct {
	APIURL               string `toml:"api_url"`
	APIToken             string `toml:"api_token"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	ActionTimeoutSeconds int    `toml:"action_timeout_seconds"`
	InsecureSkipVerify   bool   `toml:"insecure_skip_verify"`
	UserAgent            string `toml:"user_agent"`
}

// RequestTimeout bounds every read request.
func (g GatewayConfig) RequestTimeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// ActionTimeout bounds control writes, which take longer server-side.
func (g GatewayConfig) ActionTimeout() time.Duration {
	return time.Duration(g.ActionTimeoutSeconds) * time.Second
}

// PollConfig holds per-feed cadences. Every feed runs on its own timer.
type PollConfig struct {
	SnapshotInterval    time.Duration `toml:"snapshot_interval"`
	PriceInterval       time.Duration `toml:"price_interval"`
	ConnectionInterval  time.Duration `toml:"connection_interval"`
	EquityInterval      time.Duration `toml:"equity_interval"`
	EquityLookbackHours int           `toml:"equity_lookback_hours"`
	WebhookLimit        int           `toml:"webhook_limit"`
	DegradedAfter       int           `toml:"degraded_after"`
	RefreshPerSecond    float64       `toml:"refresh_per_second"`
	RefreshBurst        int           `toml:"refresh_burst"`
	// Feeds restricts polling to the listed feed keys; empty means all.
	Feeds []string `toml:"feeds"`
}

type ActionsConfig struct {
	ReportWindow     time.Duration `toml:"report_window"`
	KillSwitchReason string        `toml:"kill_switch_reason"`
}

type StoreConfig struct {
	Path         string `toml:"path"`
	HistoryLimit int    `toml:"history_limit"`
	// Retain caps journal rows; older rows are pruned at startup.
	Retain int `toml:"retain"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type TUIConfig struct {
	Enabled         bool          `toml:"enabled"`
	RefreshInterval time.Duration `toml:"refresh_interval"`
}

// FeedEnabled reports whether the named feed should be polled.
func (p PollConfig) FeedEnabled(name string) bool {
	if len(p.Feeds) == 0 {
		return true
	}
	name = strings.ToLower(strings.TrimSpace(name))
	for _, f := range p.Feeds {
		if strings.ToLower(strings.TrimSpace(f)) == name {
			return true
		}
	}
	return false
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
