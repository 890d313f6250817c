package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"botwatch/internal/app"
	brcfg "botwatch/internal/config"
	"botwatch/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

var (
	cfgPath string
	envFile string
	cfg     *brcfg.Config
)

var rootCmd = &cobra.Command{
	Use:           "botwatch",
	Short:         "Supervisor client for a remote trading bot",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("读取 %s 失败: %w", envFile, err)
		}
		path, err := resolveConfigPath(cmd)
		if err != nil {
			return err
		}
		loaded, err := brcfg.Load(path)
		if err != nil {
			return fmt.Errorf("读取配置失败: %w", err)
		}
		cfg = loaded
		cfgPath = path
		logger.SetLevel(cfg.App.LogLevel)
		return nil
	},
	RunE: runCmd.RunE,
}

// resolveConfigPath: --config > BOTWATCH_CONFIG > configs/config.yaml (if present).
func resolveConfigPath(cmd *cobra.Command) (string, error) {
	if cmd.Flags().Changed("config") {
		return cfgPath, nil
	}
	if env := strings.TrimSpace(os.Getenv("BOTWATCH_CONFIG")); env != "" {
		return env, nil
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath, nil
	}
	return "", nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath, "config file (YAML, supports include:)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with BOTWATCH_* secrets")
	rootCmd.Flags().AddFlagSet(runCmd.Flags())
	rootCmd.AddCommand(runCmd, statusCmd, toggleCmd, killSwitchCmd, closeCmd, historyCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "botwatch:", err)
		os.Exit(1)
	}
}

// newOneShotApp builds the app for a single command: no HTTP server, logs
// to stderr so stdout stays clean.
func newOneShotApp() (*app.App, error) {
	logger.SetOutput(os.Stderr)
	c := *cfg
	c.HTTP.Enabled = false
	return app.NewApp(&c)
}
