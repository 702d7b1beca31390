package cli

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/fieldops/tripsync/internal/config"
	"github.com/fieldops/tripsync/migrations"
)

// NewMigrateCommand creates the migrate command, applying the embedded
// migrations to the remote store. Run from a connected environment during
// provisioning; field devices never migrate the backend themselves.
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Manage the remote store schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			db, err := sql.Open("pgx", cfg.RemoteDatabaseURL)
			if err != nil {
				return fmt.Errorf("open remote database: %w", err)
			}
			defer db.Close()

			provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
			if err != nil {
				return fmt.Errorf("create migration provider: %w", err)
			}

			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}

			ctx := cmd.Context()
			switch direction {
			case "up":
				results, err := provider.Up(ctx)
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				for _, r := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", r.Source.Path)
				}
			case "down":
				result, err := provider.Down(ctx)
				if err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", result.Source.Path)
			case "status":
				statuses, err := provider.Status(ctx)
				if err != nil {
					return fmt.Errorf("migration status: %w", err)
				}
				for _, s := range statuses {
					state := "pending"
					if s.State == goose.StateApplied {
						state = "applied"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", state, s.Source.Path)
				}
			default:
				return fmt.Errorf("unknown direction %q", direction)
			}
			return nil
		},
	}
	return cmd
}
