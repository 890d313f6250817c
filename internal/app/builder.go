package app

import (
	"context"
	"fmt"
	"time"

	"botwatch/internal/action"
	brcfg "botwatch/internal/config"
	"botwatch/internal/gateway"
	"botwatch/internal/logger"
	"botwatch/internal/notifier"
	"botwatch/internal/scheduler"
	"botwatch/internal/store"
	"botwatch/internal/store/gormstore"
	"botwatch/internal/telemetry"
	livehttp "botwatch/internal/transport/http/live"
	"botwatch/internal/viewmodel"
)

// AppBuilder 组装依赖；各构造步骤可替换，便于测试注入。
type AppBuilder struct {
	cfg *brcfg.Config

	gatewayFn  func(brcfg.GatewayConfig) (*gateway.Client, error)
	journalFn  func(brcfg.StoreConfig) (store.Journal, error)
	notifierFn func(brcfg.NotifyConfig) notifier.TextNotifier
	liveHTTPFn func(brcfg.HTTPConfig, livehttp.ServerConfig) (*livehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithJournal 替换行为日志存储（测试用内存实现）。
func WithJournal(j store.Journal) AppBuilderOption {
	return func(b *AppBuilder) {
		b.journalFn = func(brcfg.StoreConfig) (store.Journal, error) { return j, nil }
	}
}

// WithNotifier 替换通知通道。
func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(brcfg.NotifyConfig) notifier.TextNotifier { return n }
	}
}

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		gatewayFn:  gateway.NewClient,
		journalFn:  buildJournal,
		notifierFn: notifier.FromConfig,
		liveHTTPFn: buildLiveHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	gw, err := b.gatewayFn(cfg.Gateway)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	if cfg.Gateway.APIToken == "" {
		logger.Warnf("gateway.api_token 为空，所有请求都会以 auth_failure 结束")
	}

	metrics := telemetry.NewMetrics()
	view := viewmodel.NewStore(viewmodel.Options{
		WebhookLimit:  cfg.Poll.WebhookLimit,
		DegradedAfter: cfg.Poll.DegradedAfter,
	})
	view.SetObserver(metrics)

	specs := scheduler.FeedsFromGateway(gw, cfg.Poll)
	poller := scheduler.New(view, scheduler.Options{
		RequestTimeout:   cfg.Gateway.RequestTimeout(),
		RefreshPerSecond: cfg.Poll.RefreshPerSecond,
		RefreshBurst:     cfg.Poll.RefreshBurst,
	}, specs...)
	poller.SetObserver(metrics)

	journal, err := b.journalFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	if journal != nil && cfg.Store.Retain > 0 {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if n, err := journal.Prune(pctx, cfg.Store.Retain); err != nil {
			logger.Warnf("journal prune failed: %v", err)
		} else if n > 0 {
			logger.Infof("journal pruned %d rows", n)
		}
		cancel()
	}

	notify := b.notifierFn(cfg.Notify)
	actions, err := action.NewController(gw, poller, journal, notify, action.Options{
		ReportWindow:   cfg.Actions.ReportWindow,
		RefreshTimeout: cfg.Gateway.RequestTimeout() * 2,
		DefaultReason:  cfg.Actions.KillSwitchReason,
	})
	if err != nil {
		closeJournal(journal)
		return nil, err
	}
	actions.SetObserver(metrics)

	var server *livehttp.Server
	if cfg.HTTP.Enabled {
		server, err = b.liveHTTPFn(cfg.HTTP, livehttp.ServerConfig{
			View:      view,
			Actions:   actions,
			Refresher: poller,
			Settings:  gw,
			Metrics:   metrics.Handler(),
			Streams:   metrics,
		})
		if err != nil {
			closeJournal(journal)
			return nil, fmt.Errorf("live http: %w", err)
		}
	}

	return &App{
		cfg:      cfg,
		gateway:  gw,
		view:     view,
		poller:   poller,
		actions:  actions,
		journal:  journal,
		metrics:  metrics,
		liveHTTP: server,
		Summary:  newStartupSummary(cfg, specs),
	}, nil
}

func buildJournal(cfg brcfg.StoreConfig) (store.Journal, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	js, err := gormstore.NewJournalStore(cfg.Path)
	if err != nil {
		return nil, err
	}
	return js, nil
}

func buildLiveHTTPServer(cfg brcfg.HTTPConfig, sc livehttp.ServerConfig) (*livehttp.Server, error) {
	sc.Addr = cfg.Addr
	return livehttp.NewServer(sc)
}

func closeJournal(j store.Journal) {
	if j != nil {
		_ = j.Close()
	}
}
