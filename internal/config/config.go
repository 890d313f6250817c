package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"botwatch/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// envBindings lets secrets and the endpoint come from the environment
// (or a .env file) instead of the YAML file.
var envBindings = map[string]string{
	"gateway.api_url":           "BOTWATCH_API_URL",
	"gateway.api_token":         "BOTWATCH_API_TOKEN",
	"notify.telegram.bot_token": "BOTWATCH_TELEGRAM_TOKEN",
	"notify.telegram.chat_id":   "BOTWATCH_TELEGRAM_CHAT_ID",
	"app.log_level":             "BOTWATCH_LOG_LEVEL",
}

// Load reads the YAML file (following include: lists) and environment
// overrides. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	var files []string
	if strings.TrimSpace(path) != "" {
		resolved, err := resolveConfigIncludes(path)
		if err != nil {
			return nil, err
		}
		files = resolved
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding env %s failed: %w", env, err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	collectSettingsKeys(v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch re-reads the top-level file on change and hands the new config to
// onChange. Only hot-safe settings (log level, report window) are meant to be
// consumed from it; feed cadences need a restart.
func Watch(path string, onChange func(*Config)) (func(), error) {
	if strings.TrimSpace(path) == "" || onChange == nil {
		return func() {}, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var mu sync.Mutex
	stopped := false
	v.OnConfigChange(func(evt fsnotify.Event) {
		if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		cfg, err := Load(abs)
		if err != nil {
			logger.Errorf("config reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("config reloaded from %s", evt.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
	}, nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := c
	if out.Gateway.APIToken != "" {
		out.Gateway.APIToken = maskSecret(out.Gateway.APIToken)
	}
	if out.Notify.Telegram.BotToken != "" {
		out.Notify.Telegram.BotToken = maskSecret(out.Notify.Telegram.BotToken)
	}
	return out
}

// Dump renders the redacted effective configuration as YAML.
func (c Config) Dump() (string, error) {
	r := c.Redacted()
	doc := map[string]any{
		"app":     r.App,
		"gateway": r.Gateway,
		"poll": map[string]any{
			"snapshot_interval":     r.Poll.SnapshotInterval.String(),
			"price_interval":        r.Poll.PriceInterval.String(),
			"connection_interval":   r.Poll.ConnectionInterval.String(),
			"equity_interval":       r.Poll.EquityInterval.String(),
			"equity_lookback_hours": r.Poll.EquityLookbackHours,
			"webhook_limit":         r.Poll.WebhookLimit,
			"degraded_after":        r.Poll.DegradedAfter,
			"feeds":                 r.Poll.Feeds,
		},
		"actions": map[string]any{
			"report_window":      r.Actions.ReportWindow.String(),
			"kill_switch_reason": r.Actions.KillSwitchReason,
		},
		"store":  r.Store,
		"notify": r.Notify,
		"http":   r.HTTP,
		"tui":    map[string]any{"enabled": r.TUI.Enabled, "refresh_interval": r.TUI.RefreshInterval.String()},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func maskSecret(s string) string {
	if len(s) <= 6 {
		return "***"
	}
	return s[:3] + "***" + s[len(s)-3:]
}

func mergeConfigFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

func resolveConfigIncludes(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	stack := make(map[string]bool)
	files, err := collectConfigFiles(abs, seen, stack)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return []string{abs}, nil
	}
	return files, nil
}

func collectConfigFiles(path string, seen, stack map[string]bool) ([]string, error) {
	path = filepath.Clean(path)
	if stack[path] {
		return nil, fmt.Errorf("include cycle detected: %s", path)
	}
	if seen[path] {
		return nil, nil
	}
	stack[path] = true
	includes, err := parseIncludeList(path)
	if err != nil {
		return nil, fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	dir := filepath.Dir(path)
	var ordered []string
	for _, inc := range includes {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		incPath := inc
		if !filepath.IsAbs(inc) {
			incPath = filepath.Join(dir, inc)
		}
		sub, err := collectConfigFiles(incPath, seen, stack)
		if err != nil {
			return nil, err
		}
		if len(sub) > 0 {
			ordered = append(ordered, sub...)
		}
	}
	delete(stack, path)
	seen[path] = true
	ordered = append(ordered, path)
	return ordered, nil
}

func parseIncludeList(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	switch val := raw.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include only supports strings")
			}
			str = strings.TrimSpace(str)
			if str != "" {
				out = append(out, str)
			}
		}
		return out, nil
	case []string:
		out := make([]string, 0, len(val))
		for _, item := range val {
			item = strings.TrimSpace(item)
			if item != "" {
				out = append(out, item)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
}

func collectSettingsKeys(settings map[string]any, dest keySet) {
	if dest == nil || len(settings) == 0 {
		return
	}
	flattenConfigKeys("", settings, dest)
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenConfigKeys(next, v, dest)
		}
	case map[interface{}]interface{}:
		for k, v := range val {
			keyStr, ok := k.(string)
			if !ok {
				continue
			}
			next := strings.ToLower(strings.TrimSpace(keyStr))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenConfigKeys(next, v, dest)
		}
	case []any:
		if prefix != "" {
			dest.mark(prefix)
		}
		for _, item := range val {
			flattenConfigKeys(prefix, item, dest)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}
