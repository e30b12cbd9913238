package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vaultrelay",
	Short: "vaultrelay - filesystem task orchestration for local and hosted LLM backends",
	Long:  `vaultrelay watches a vault of task directories, routes ready turns to configured backends, and orchestrates the resulting subprocesses.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to vaultrelay config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watcherCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reapCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
