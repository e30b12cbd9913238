package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kdyer/vaultrelay/internal/scheduler"
)

var schedulerCmd = &cobra.Command{
	Use:    "scheduler",
	Short:  "run the invocation scheduler (internal, spawned by 'run')",
	Hidden: true,
	RunE:   runScheduler,
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	deps, err := buildSchedulerDeps(cfg, log)
	if err != nil {
		return err
	}

	if missed, err := deps.Journal.CheckIncomplete(); err == nil && len(missed) > 0 {
		log.Warn("found incomplete invocations from a prior run", zap.Strings("tasks", missed))
	}

	sched := scheduler.New(deps)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)
	<-ctx.Done()
	sched.Stop()
	return nil
}
