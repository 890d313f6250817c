package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"botwatch/internal/action"
	brcfg "botwatch/internal/config"
	"botwatch/internal/gateway"
	"botwatch/internal/logger"
	"botwatch/internal/scheduler"
	"botwatch/internal/store"
	"botwatch/internal/telemetry"
	livehttp "botwatch/internal/transport/http/live"
	"botwatch/internal/transport/tui"
	"botwatch/internal/viewmodel"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：轮询、动作控制、本地 API 与终端面板。
type App struct {
	cfg      *brcfg.Config
	gateway  *gateway.Client
	view     *viewmodel.Store
	poller   *scheduler.Poller
	actions  *action.Controller
	journal  store.Journal
	metrics  *telemetry.Metrics
	liveHTTP *livehttp.Server
	Summary  *StartupSummary

	closeOnce sync.Once
}

// RunOptions 控制 Run 启动哪些前端。
type RunOptions struct {
	TUI bool
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动轮询与前端，直到 ctx 结束或终端面板退出。
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil && !opts.TUI {
		a.Summary.Print()
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)
	if err := a.poller.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}
	group.Go(func() error {
		<-ctx.Done()
		// 先停轮询并封存视图，websocket 随之关闭。
		a.poller.Stop()
		return nil
	})

	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(ctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}

	if opts.TUI {
		group.Go(func() error {
			err := tui.Run(ctx, a.view, a.actions, a.poller, tui.Options{
				Tick:             a.cfg.TUI.RefreshInterval,
				KillSwitchReason: a.cfg.Actions.KillSwitchReason,
				ActionTimeout:    a.cfg.Gateway.ActionTimeout() + 5*time.Second,
			})
			if err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			// 用户退出面板即结束整个进程。
			return errUserQuit
		})
	}

	err := group.Wait()
	if errors.Is(err, errUserQuit) {
		return nil
	}
	return err
}

var errUserQuit = errors.New("user quit")

// Close stops polling, drains background action work and closes the
// journal. Safe to call more than once.
func (a *App) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		if a.poller != nil {
			a.poller.Stop()
		}
		if a.actions != nil {
			a.actions.Wait()
		}
		if a.journal != nil {
			if err := a.journal.Close(); err != nil {
				logger.Warnf("close journal: %v", err)
			}
		}
	})
}

// ApplyConfig picks up hot-reloadable settings.
func (a *App) ApplyConfig(cfg *brcfg.Config) {
	if a == nil || cfg == nil {
		return
	}
	logger.SetLevel(cfg.App.LogLevel)
	if a.actions != nil {
		a.actions.SetReportWindow(cfg.Actions.ReportWindow)
	}
}

func (a *App) Actions() *action.Controller { return a.actions }

func (a *App) View() *viewmodel.Store { return a.view }

func (a *App) Poller() *scheduler.Poller { return a.poller }

func (a *App) Gateway() *gateway.Client { return a.gateway }

// RemoteSettings 是机器人端当前生效的配置，凭据已脱敏。
type RemoteSettings struct {
	Config gateway.BotConfig      `json:"config"`
	Broker gateway.BrokerSettings `json:"broker"`
}

// RemoteSettings 并发读取 /settings/config 与 /settings/broker。
func (a *App) RemoteSettings(ctx context.Context) (RemoteSettings, error) {
	var out RemoteSettings
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cfg, err := a.gateway.Config(gctx)
		if err != nil {
			return fmt.Errorf("bot config: %w", err)
		}
		out.Config = cfg
		return nil
	})
	g.Go(func() error {
		b, err := a.gateway.Broker(gctx)
		if err != nil {
			return fmt.Errorf("broker settings: %w", err)
		}
		out.Broker = b.Redacted()
		return nil
	})
	if err := g.Wait(); err != nil {
		return RemoteSettings{}, err
	}
	return out, nil
}
