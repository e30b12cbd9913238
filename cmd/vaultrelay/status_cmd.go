package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kdyer/vaultrelay/internal/statusui"
	"github.com/kdyer/vaultrelay/internal/tokenstate"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show a live dashboard of backend slots, locks, and incomplete invocations",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tokens := tokenstate.New(cfg.StateDir)
	slots := make([]statusui.BackendSlot, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		slots = append(slots, statusui.BackendSlot{
			Name:        b.Name,
			MaxParallel: b.MaxParallel,
			Exhausted:   tokens.IsExhausted(b.Name),
		})
	}

	reader := statusui.FSReader{StateDir: cfg.StateDir, Backends: slots}
	p := tea.NewProgram(statusui.New(reader))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("status dashboard: %w", err)
	}
	return nil
}
