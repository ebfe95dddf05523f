package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version is set by the build.
var Version = "dev"

var (
	success = color.New(color.FgGreen, color.Bold)
	failure = color.New(color.FgRed, color.Bold)
	info    = color.New(color.FgCyan)
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		failure.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "anon",
		Short:         "Query builder backed API server with stateless token auth",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// No subcommand starts the server.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file to load")

	root.AddCommand(
		newServeCommand(&envFile),
		newMigrateCommand(&envFile),
		newSeedCommand(&envFile),
		newCheckConnCommand(&envFile),
		newCreateAdminCommand(&envFile),
		newResetPasswordCommand(&envFile),
		newEncryptCommand(&envFile),
	)
	return root
}
