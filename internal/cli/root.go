// Package cli defines the tripsync-agent command tree. Commands only parse
// flags and wire dependencies; all behavior lives in the internal packages.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command for the field agent CLI.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tripsync-agent",
		Short: "Offline-first trip logging agent",
		Long: `tripsync-agent runs on a field device and logs vehicle trips — driver,
vehicle, odometer readings, photos and GPS breadcrumbs — into an embedded
SQLite store, reconciling with the central Postgres backend whenever
connectivity allows.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewSyncCommand())
	cmd.AddCommand(NewMigrateCommand())

	return cmd
}
