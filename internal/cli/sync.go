package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/fieldops/tripsync/internal/config"
	"github.com/fieldops/tripsync/internal/localstore"
	"github.com/fieldops/tripsync/internal/remotestore"
	"github.com/fieldops/tripsync/internal/syncer"
)

// NewSyncCommand creates the sync command: one reconciliation pass and exit.
// Useful from cron or an operator shell when the agent process is not
// running.
func NewSyncCommand() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync pass against the remote store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			out := io.Writer(os.Stderr)
			if quiet {
				out = io.Discard
			}
			logger := slog.New(slog.NewTextHandler(out, nil))

			local := localstore.Open(cfg.LocalDBPath, logger)
			defer local.Close()
			if !local.Available() {
				return fmt.Errorf("local store unavailable at %s: nothing to sync", cfg.LocalDBPath)
			}

			pool, err := pgxpool.New(cmd.Context(), cfg.RemoteDatabaseURL)
			if err != nil {
				return fmt.Errorf("invalid remote database config: %w", err)
			}
			defer pool.Close()
			if err := pool.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("remote store unreachable: %w", err)
			}

			engine := syncer.NewEngine(
				local,
				remotestore.NewTripStore(pool),
				remotestore.NewRefDataStore(pool),
				remotestore.NewBreadcrumbStore(pool),
				remotestore.NewHTTPUploader(cfg.PhotoStoreURL, nil),
				cfg.DeviceID,
				historyLimit,
				logger,
			)

			res, err := engine.Sync(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Ok() {
				return fmt.Errorf("sync completed with %d failed trips and %d errors", res.TripsFailed, len(res.Errors))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress logging, print only the result")
	return cmd
}
