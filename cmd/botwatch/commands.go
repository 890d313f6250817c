package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"botwatch/internal/action"
	"botwatch/internal/app"
	brcfg "botwatch/internal/config"
	"botwatch/internal/logger"
	"botwatch/internal/store"
	"botwatch/internal/viewmodel"

	"github.com/spf13/cobra"
)

var (
	runTUI     bool
	runNoHTTP  bool
	statusJSON bool
	killYes    bool
	killReason string
	histKind   string
	histLimit  int
	histRemote bool
	cfgRemote  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the bot and serve the local API (and dashboard with --tui)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tuiOn := cfg.TUI.Enabled
		if cmd.Flags().Changed("tui") {
			tuiOn = runTUI
		}
		if runNoHTTP {
			cfg.HTTP.Enabled = false
		}
		closer, err := logger.SetupFile(logger.FileOptions{
			Path:       cfg.App.LogPath,
			MaxSizeMB:  cfg.App.LogMaxSizeMB,
			MaxBackups: cfg.App.LogMaxBackups,
			Quiet:      tuiOn,
		})
		if err != nil {
			return fmt.Errorf("初始化日志文件失败: %w", err)
		}
		if closer != nil {
			defer closer.Close()
		}
		logger.Infof("✓ 配置加载成功（环境=%s，gateway=%s）", cfg.App.Env, cfg.Gateway.APIURL)

		a, err := app.NewApp(cfg)
		if err != nil {
			return fmt.Errorf("初始化应用失败: %w", err)
		}
		// 只热更新日志级别与 report window。
		stopWatch, err := brcfg.Watch(cfgPath, a.ApplyConfig)
		if err != nil {
			logger.Warnf("config watch disabled: %v", err)
		} else {
			defer stopWatch()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return a.Run(ctx, app.RunOptions{TUI: tuiOn})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Fetch every feed once and print the derived view",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newOneShotApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Poller().RefreshNow(cmd.Context()); err != nil {
			logger.Warnf("refresh incomplete: %v", err)
		}
		view := a.View().Snapshot().View()
		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		}
		printView(view)
		if view.AuthFailed {
			return errors.New("authentication failed, check gateway.api_token")
		}
		return nil
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Start or stop the bot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newOneShotApp()
		if err != nil {
			return err
		}
		defer a.Close()
		res, err := a.Actions().ToggleBot(cmd.Context())
		return report(res, err)
	},
}

var killSwitchCmd = &cobra.Command{
	Use:   "kill-switch",
	Short: "Close ALL positions and stop the bot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !killYes {
			return errors.New("kill switch closes every position and deactivates the bot; re-run with --yes to confirm")
		}
		a, err := newOneShotApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Actions().ArmKillSwitch(); err != nil {
			return err
		}
		res, err := a.Actions().ConfirmKillSwitch(cmd.Context(), killReason)
		return report(res, err)
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <position-id>",
	Short: "Close one position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid position id %q", args[0])
		}
		a, err := newOneShotApp()
		if err != nil {
			return err
		}
		defer a.Close()
		res, err := a.Actions().ClosePosition(cmd.Context(), id)
		return report(res, err)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List journaled control actions, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newOneShotApp()
		if err != nil {
			return err
		}
		defer a.Close()
		limit := histLimit
		if limit <= 0 {
			limit = cfg.Store.HistoryLimit
		}
		if histRemote {
			return printPanicHistory(cmd.Context(), a, limit)
		}
		results, err := a.Actions().History(cmd.Context(), store.Query{Kind: histKind, Limit: limit})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FINISHED\tKIND\tTARGET\tOK\tMESSAGE")
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", r.FinishedAt.Local().Format("2006-01-02 15:04:05"), r.Kind, r.Target, r.Success, r.Message)
		}
		return tw.Flush()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration (secrets masked)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfgRemote {
			a, err := newOneShotApp()
			if err != nil {
				return err
			}
			defer a.Close()
			rs, err := a.RemoteSettings(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rs)
		}
		out, err := cfg.Dump()
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "show the terminal dashboard (logs go to the log file only)")
	runCmd.Flags().BoolVar(&runNoHTTP, "no-http", false, "do not start the local HTTP API")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the view as JSON")
	killSwitchCmd.Flags().BoolVar(&killYes, "yes", false, "confirm the kill switch")
	killSwitchCmd.Flags().StringVar(&killReason, "reason", "", "reason sent to the bot (defaults to actions.kill_switch_reason)")
	historyCmd.Flags().StringVar(&histKind, "kind", "", "filter by kind (toggle_bot, kill_switch, close_position, update_config, update_broker)")
	historyCmd.Flags().IntVar(&histLimit, "limit", 0, "max rows (defaults to store.history_limit)")
	historyCmd.Flags().BoolVar(&histRemote, "remote", false, "list the bot's own kill switch log instead of the local journal")
	configCmd.Flags().BoolVar(&cfgRemote, "remote", false, "print the bot's current settings instead of the local config")
}

// report prints the action outcome and turns a failure into a non-zero exit.
func report(res action.Result, err error) error {
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s failed (%s): %s", res.Kind, res.ErrorKind, res.Message)
	}
	fmt.Println(res.Message)
	if res.Kind == action.KindKillSwitch {
		fmt.Printf("positions closed: %d\n", res.PositionsClosed)
		for _, e := range res.Errors {
			fmt.Println("  error:", e)
		}
	}
	return nil
}

func printPanicHistory(ctx context.Context, a *app.App, limit int) error {
	events, err := a.Gateway().PanicHistory(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPOSITION\tACTION\tREASON")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Timestamp, e.PositionID, e.Action, e.Reason)
	}
	return tw.Flush()
}

func printView(v viewmodel.View) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	bot := "unknown"
	if v.StatsLoaded {
		bot = "stopped"
		if v.Stats.BotActive {
			bot = "running"
		}
	}
	fmt.Fprintf(tw, "bot\t%s\n", bot)
	fmt.Fprintf(tw, "broker\t%s %s\n", v.Connection.Status, v.Connection.Source)
	fmt.Fprintf(tw, "realized\t%.2f\n", v.Realized)
	fmt.Fprintf(tw, "unrealized\t%.2f\n", v.Unrealized)
	fmt.Fprintf(tw, "total\t%.2f\n", v.Total)
	fmt.Fprintf(tw, "trend\t%s (%+.2f)\n", v.Trend, v.TrendDelta)
	fmt.Fprintf(tw, "win rate\t%.2f%%\n", v.Analytics.WinRate)
	fmt.Fprintf(tw, "profit factor\t%.2f\n", v.Analytics.ProfitFactor)
	fmt.Fprintf(tw, "max drawdown\t%.2f (%.2f%%)\n", v.Drawdown.MaxDrawdown, v.Drawdown.MaxDrawdownPercent)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "ID\tSYMBOL\tSIDE\tQTY\tENTRY\tPNL")
	for _, p := range v.Open {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.4f\t%.4f\t%.2f\n", p.ID, p.Symbol, p.Side, p.Remaining(), p.EntryPrice, p.PnLValue())
	}
	_ = tw.Flush()
	for _, f := range v.Feeds {
		if f.LastError != "" {
			fmt.Fprintf(os.Stderr, "feed %s: %s (%s)\n", f.Feed, f.LastError, f.ErrorKind)
		}
	}
}
