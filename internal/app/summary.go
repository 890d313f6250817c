package app

import (
	"fmt"
	"strings"
	"time"

	brcfg "botwatch/internal/config"
	"botwatch/internal/scheduler"
)

type StartupSummary struct {
	Gateway  GatewaySummary
	Feeds    []FeedSummary
	Journal  string
	HTTPAddr string
	Notify   string
}

type GatewaySummary struct {
	URL           string
	TokenSet      bool
	ReadTimeout   time.Duration
	ActionTimeout time.Duration
}

type FeedSummary struct {
	Name     string
	Interval time.Duration
}

func newStartupSummary(cfg *brcfg.Config, specs []scheduler.FeedSpec) *StartupSummary {
	s := &StartupSummary{
		Gateway: GatewaySummary{
			URL:           cfg.Gateway.APIURL,
			TokenSet:      cfg.Gateway.APIToken != "",
			ReadTimeout:   cfg.Gateway.RequestTimeout(),
			ActionTimeout: cfg.Gateway.ActionTimeout(),
		},
		Journal: cfg.Store.Path,
		Notify:  "log",
	}
	for _, spec := range specs {
		s.Feeds = append(s.Feeds, FeedSummary{Name: string(spec.Feed), Interval: spec.Interval})
	}
	if cfg.HTTP.Enabled {
		s.HTTPAddr = cfg.HTTP.Addr
	}
	if cfg.Notify.Telegram.Enabled {
		s.Notify = "telegram"
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	title := "启动配置摘要 (STARTUP SUMMARY)"
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "%*s\n", 30+len(title)/2, title)
	b.WriteString(strings.Repeat("=", 60) + "\n")

	b.WriteString("[远端服务 (GATEWAY)]\n")
	fmt.Fprintf(&b, "  地址: %s\n", s.Gateway.URL)
	token := "已配置"
	if !s.Gateway.TokenSet {
		token = "未配置"
	}
	fmt.Fprintf(&b, "  Token: %s\n", token)
	fmt.Fprintf(&b, "  超时: read=%s action=%s\n\n", s.Gateway.ReadTimeout, s.Gateway.ActionTimeout)

	b.WriteString("[轮询 (FEEDS)]\n")
	if len(s.Feeds) == 0 {
		b.WriteString("  (无)\n")
	}
	for _, f := range s.Feeds {
		fmt.Fprintf(&b, "  - %-13s every %s\n", f.Name, f.Interval)
	}
	b.WriteString("\n")

	b.WriteString("[其他 (MISC)]\n")
	fmt.Fprintf(&b, "  journal: %s\n", formatOr(s.Journal, "(disabled)"))
	fmt.Fprintf(&b, "  http:    %s\n", formatOr(s.HTTPAddr, "(disabled)"))
	fmt.Fprintf(&b, "  notify:  %s\n", s.Notify)
	b.WriteString(strings.Repeat("=", 60))
	return b.String()
}

func formatOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
