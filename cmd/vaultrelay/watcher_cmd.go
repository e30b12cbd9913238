package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kdyer/vaultrelay/internal/queue"
	"github.com/kdyer/vaultrelay/internal/watcher"
)

var watcherCmd = &cobra.Command{
	Use:    "watcher",
	Short:  "run the vault watcher (internal, spawned by 'run')",
	Hidden: true,
	RunE:   runWatcher,
}

func runWatcher(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	w, err := watcher.New(watcher.Config{
		VaultDir:         cfg.VaultTasksDir,
		StabilityTimeout: cfg.StabilityTimeout,
		PollInterval:     cfg.PollInterval,
		SettleDelay:      cfg.InotifySettleDelay,
	}, queue.New(cfg.StateDir), log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}
