package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/carelog/backend/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:   "carelogctl",
		Short: "Inspect the CareLog offline sync state",
		Long: `carelogctl operates on the local CareLog cache: it lists sync
conflicts recorded while reconciling offline edits with the server, lets you
resolve them, and cleans up resolved entries.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cli.AddGlobalFlags(rootCmd)
	rootCmd.AddCommand(cli.NewConflictsCommand())

	return rootCmd.Execute()
}
