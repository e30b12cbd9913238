package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kdyer/vaultrelay/internal/lockreg"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "sweep locks left behind by dead processes",
	RunE:  runReap,
}

func runReap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	n, err := lockreg.New(cfg.StateDir).ReapStale()
	if err != nil {
		return err
	}
	fmt.Printf("reaped %d stale lock(s)\n", n)
	return nil
}
