package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/fieldops/tripsync/internal/breadcrumb"
	"github.com/fieldops/tripsync/internal/config"
	"github.com/fieldops/tripsync/internal/connectivity"
	"github.com/fieldops/tripsync/internal/domain"
	"github.com/fieldops/tripsync/internal/handler"
	"github.com/fieldops/tripsync/internal/lifecycle"
	"github.com/fieldops/tripsync/internal/localstore"
	"github.com/fieldops/tripsync/internal/location"
	"github.com/fieldops/tripsync/internal/middleware"
	"github.com/fieldops/tripsync/internal/remotestore"
	"github.com/fieldops/tripsync/internal/syncer"
)

// maxBodyBytes bounds request bodies. Photos travel base64-inlined in JSON,
// so this has to fit a full-resolution camera shot plus encoding overhead.
const maxBodyBytes = 25 << 20

// historyLimit caps how many finalized trips the sync engine mirrors down.
const historyLimit = 100

// NewServeCommand creates the serve command: the long-running agent process.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent: HTTP API, breadcrumb capture and background sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	// --- Config -----------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// --- Logger -----------------------------------------------------------
	// JSON handler writes machine-readable output suitable for log shippers.
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// --- Local store ------------------------------------------------------
	// Open never fails: an unusable path degrades the agent to memory-only
	// mode instead of refusing to start, because the device must stay usable
	// in the field.
	local := localstore.Open(cfg.LocalDBPath, logger)
	defer local.Close()
	if !local.Available() {
		logger.Warn("local store unavailable, running without offline persistence", "path", cfg.LocalDBPath)
	}

	// --- Remote store -----------------------------------------------------
	// pgxpool opens connections lazily; an unreachable backend at boot is
	// the normal offline case, not an error.
	pool, err := pgxpool.New(ctx, cfg.RemoteDatabaseURL)
	if err != nil {
		return fmt.Errorf("invalid remote database config: %w", err)
	}
	defer pool.Close()

	tripStore := remotestore.NewTripStore(pool)
	refStore := remotestore.NewRefDataStore(pool)
	pointStore := remotestore.NewBreadcrumbStore(pool)
	uploader := remotestore.NewHTTPUploader(cfg.PhotoStoreURL, nil)

	// --- Connectivity -----------------------------------------------------
	// The monitor assumes offline until proven otherwise. Probing pings the
	// remote pool; the platform can also push status via POST /connectivity.
	monitor := connectivity.NewMonitor(connectivity.ProberFunc(func(ctx context.Context) bool {
		return pool.Ping(ctx) == nil
	}), cfg.ConnectivityPoll, logger)

	// --- Location ---------------------------------------------------------
	// The platform's location daemon pushes fixes to POST /positions; the
	// feed fans them out to watch subscriptions and blocked Current calls.
	feed := location.NewFeed(30 * time.Second)
	ladder := location.NewLadder(feed, location.DefaultSteps(), logger)

	// --- Trip lifecycle and breadcrumb capture ----------------------------
	// The sink reads the active trip through the manager's accessor; the
	// manager is constructed after the pipeline, so the closure resolves the
	// reference lazily.
	var manager *lifecycle.Manager
	sink := breadcrumb.NewSink(local, func() (domain.TripRef, bool) {
		return manager.Active()
	}, cfg.BreadcrumbThrottle, time.Now, logger)
	pipeline := breadcrumb.NewPipeline(feed, feed, ladder, sink, cfg.FallbackInterval, logger)
	manager = lifecycle.NewManager(local, tripStore, uploader, monitor, ladder, pipeline, cfg.DeviceID, time.Now, logger)

	// --- Sync engine ------------------------------------------------------
	engine := syncer.NewEngine(local, tripStore, refStore, pointStore, uploader, cfg.DeviceID, historyLimit, logger)
	monitor.OnOnline(func() {
		go func() {
			if _, err := engine.Sync(context.Background()); err != nil && !errors.Is(err, syncer.ErrSyncInFlight) {
				logger.Error("edge-triggered sync failed", "error", err)
			}
		}()
	})
	go monitor.Run(ctx)

	// Reconcile any trip interrupted by the last shutdown before accepting
	// new ones.
	if _, err := manager.Resume(ctx); err != nil {
		logger.Warn("startup reconciliation failed", "error", err)
	}

	// --- Router -----------------------------------------------------------
	// Middleware order: RequestID → RealIP → logging → Recoverer → CORS →
	// body limit. Recoverer turns handler panics into 500s instead of
	// killing the agent mid-trip.
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSlogLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewCORSHandler(cfg.CORSOrigins))
	r.Use(middleware.NewMaxBodySizeHandler(maxBodyBytes))

	server := handler.NewServer(manager, engine, local, monitor, feed, cfg.DeviceID, cfg.DeviceCode)
	r.Mount("/", server.Routes())

	// --- HTTP server ------------------------------------------------------
	// Explicit timeouts prevent slowloris and resource exhaustion.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("agent starting", "addr", srv.Addr, "device", cfg.DeviceID, "code", cfg.DeviceCode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	select {
	case <-stop:
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	// Capture must not outlive the process; stopping it releases the watch
	// subscription, the fallback timer and the background watcher.
	pipeline.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("agent stopped")
	return nil
}
