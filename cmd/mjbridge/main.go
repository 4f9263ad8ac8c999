// mjbridge drives the Midjourney bot over a Discord user session.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sipeed/mjbridge/pkg/bridge"
	"github.com/sipeed/mjbridge/pkg/channels"
	"github.com/sipeed/mjbridge/pkg/config"
	"github.com/sipeed/mjbridge/pkg/dispatch"
	"github.com/sipeed/mjbridge/pkg/jobs"
	"github.com/sipeed/mjbridge/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string
	verbose    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mjbridge",
		Short: "Drive the Midjourney bot from the command line",
		Long: `mjbridge sends Midjourney commands through a Discord user session and
waits for the bot's reply in the configured channel.

Run without arguments to start the interactive shell.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; MJBRIDGE_* variables may come from the shell.
			_ = godotenv.Load()
			return nil
		},
		RunE: runRepl,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the JSON config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newImagineCmd(), newInfoCmd(), newShowCmd(), newReplCmd())
	root.AddCommand(newActionCmds()...)
	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".mjbridge", "config.json")
}

// app is a started bridge with its gateway.
type app struct {
	cfg    *config.Config
	bridge *bridge.Bridge
}

func startApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	if err := setupLogging(cfg); err != nil {
		return nil, err
	}

	gateway, err := channels.NewDiscordChannel(cfg.Discord, cfg.Reconnect)
	if err != nil {
		return nil, err
	}
	b := bridge.New(cfg, gateway, dispatch.New(cfg.Discord, gateway))
	gateway.Subscribe(b.HandleEvent)
	b.RegisterProgressLogger(func(p jobs.Progress) {
		logger.DebugCF("progress", p.String(), map[string]interface{}{
			"kind":   p.Kind.String(),
			"job_id": p.Job.JobID,
		})
	})

	if err := gateway.Start(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = b.Close(closeCtx)
		return nil, fmt.Errorf("connect to discord: %w", err)
	}
	return &app{cfg: cfg, bridge: b}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.bridge.Close(ctx); err != nil {
		logger.WarnCF("main", "Shutdown incomplete", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func setupLogging(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if verbose {
		level = logger.DEBUG
	}
	logger.SetLevel(level)

	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.LogFilePath(), cfg.Logging.MaxSizeMB); err != nil {
			return fmt.Errorf("enable file logging: %w", err)
		}
	}
	return nil
}
