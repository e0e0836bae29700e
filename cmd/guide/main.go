// Package main is the entry point for the guide service and its inspection
// commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "guide",
		Short: "Tracks project progress and recommends the next agent action",
		Long: `guide records the outcome of every action an autonomous agent executes
against a project, keeps each project's stage and counters, and answers
"what should happen next" from the project's stage and recent history.

Configuration is read from GUIDE_* environment variables.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(stageCheckCmd())

	return rootCmd
}
