package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kdyer/vaultrelay/internal/lockreg"
	"github.com/kdyer/vaultrelay/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start the watcher and scheduler as supervised child processes",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	configArgs := []string{}
	if configPath != "" {
		configArgs = []string{"--config", configPath}
	}

	children := []supervisor.Child{
		{Name: "watcher", Args: append([]string{"watcher"}, configArgs...)},
		{Name: "scheduler", Args: append([]string{"scheduler"}, configArgs...)},
	}

	locks := lockreg.New(cfg.StateDir)
	sup := supervisor.New(supervisor.Config{
		StateDir:        cfg.StateDir,
		MonitorInterval: cfg.MonitorInterval,
		MaxRestarts:     cfg.MaxRestarts,
		RestartWindow:   cfg.RestartWindow,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, children, log, locks.ReapStale)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return sup.Run(ctx)
}
