// Package syncer reconciles the device's local store with the remote
// authoritative store: pending trips and breadcrumbs flow up, master data and
// finalized history flow down.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/tripsync/internal/domain"
	"github.com/fieldops/tripsync/internal/remotestore"
)

// ErrSyncInFlight is returned when a sync is requested while one is already
// running. The caller can simply wait; the running sync covers its intent.
var ErrSyncInFlight = errors.New("sync already in progress")

// LocalStore is the slice of the local store the engine reads and updates.
type LocalStore interface {
	PendingTrips(ctx context.Context) ([]domain.Trip, error)
	UpsertTrip(ctx context.Context, t domain.Trip) error
	MarkTripSynced(ctx context.Context, localID string, serverID uuid.UUID) error
	ReplaceSyncedTrips(ctx context.Context, trips []domain.Trip) error
	PendingBreadcrumbs(ctx context.Context, tripLocalID string) ([]domain.Breadcrumb, error)
	MarkBreadcrumbsSynced(ctx context.Context, clientIDs []string) error
	ReplaceDrivers(ctx context.Context, drivers []domain.Driver) error
	ReplaceVehicles(ctx context.Context, vehicles []domain.Vehicle) error
}

// RemoteTrips is the slice of the remote trip store the engine pushes to and
// pulls from.
type RemoteTrips interface {
	UpsertByLocalID(ctx context.Context, trip domain.Trip) (domain.Trip, error)
	ListFinalized(ctx context.Context, deviceID string, limit int) ([]domain.Trip, error)
}

// RemoteRefData serves the authoritative master-data lists.
type RemoteRefData interface {
	ListDrivers(ctx context.Context) ([]domain.Driver, error)
	ListVehicles(ctx context.Context) ([]domain.Vehicle, error)
}

// RemoteBreadcrumbs accepts breadcrumb batches, ignoring replayed samples.
type RemoteBreadcrumbs interface {
	InsertBatch(ctx context.Context, samples []domain.Breadcrumb) (int, error)
}

// Result is the aggregate outcome of one sync pass, reported to the caller
// for user feedback. Errors collects per-step failures; a non-empty slice
// means a partial sync, not a wasted one.
type Result struct {
	RefDataReplaced   bool      `json:"ref_data_replaced"`
	TripsSynced       int       `json:"trips_synced"`
	TripsFailed       int       `json:"trips_failed"`
	PhotosUploaded    int       `json:"photos_uploaded"`
	BreadcrumbsSynced int       `json:"breadcrumbs_synced"`
	HistoryPulled     int       `json:"history_pulled"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	Errors            []string  `json:"errors,omitempty"`
}

// Ok reports whether the pass completed without any step failing.
func (r Result) Ok() bool { return len(r.Errors) == 0 && r.TripsFailed == 0 }

func (r *Result) fail(step string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", step, err))
}

// Engine runs sync passes. It is triggered explicitly by the user and
// automatically on the connectivity monitor's offline-to-online edge; a
// single-flight guard collapses overlapping triggers into one pass.
type Engine struct {
	local        LocalStore
	trips        RemoteTrips
	refData      RemoteRefData
	points       RemoteBreadcrumbs
	uploader     remotestore.Uploader
	deviceID     string
	historyLimit int
	log          *slog.Logger

	running  atomic.Bool
	mu       sync.Mutex
	lastSync time.Time
}

// NewEngine wires an Engine. historyLimit caps how many finalized trips are
// pulled down to refresh the local history mirror.
func NewEngine(local LocalStore, trips RemoteTrips, refData RemoteRefData, points RemoteBreadcrumbs, uploader remotestore.Uploader, deviceID string, historyLimit int, log *slog.Logger) *Engine {
	return &Engine{
		local:        local,
		trips:        trips,
		refData:      refData,
		points:       points,
		uploader:     uploader,
		deviceID:     deviceID,
		historyLimit: historyLimit,
		log:          log,
	}
}

// LastSync returns when the last fully successful pass finished.
func (e *Engine) LastSync() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync, !e.lastSync.IsZero()
}

// Running reports whether a pass is in flight.
func (e *Engine) Running() bool { return e.running.Load() }

// Sync runs one pass. Each step is independently fault-tolerant: a failure
// is recorded in the Result and the pass moves on, so one broken trip or an
// unreachable master-data endpoint never blocks the rest. Nothing escapes
// the engine's boundary — not even a panic in a store adapter.
func (e *Engine) Sync(ctx context.Context) (res Result, err error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInFlight
	}
	defer e.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("sync pass panicked", "panic", r)
			res.fail("sync", fmt.Errorf("panic: %v", r))
		}
		res.FinishedAt = time.Now()
		if res.Ok() {
			e.mu.Lock()
			e.lastSync = res.FinishedAt
			e.mu.Unlock()
		}
	}()

	res.StartedAt = time.Now()
	e.log.Info("sync pass started")

	e.syncRefData(ctx, &res)
	e.pushPendingTrips(ctx, &res)
	e.pushLeftoverBreadcrumbs(ctx, &res)
	e.pullHistory(ctx, &res)

	e.log.Info("sync pass finished",
		"trips_synced", res.TripsSynced,
		"trips_failed", res.TripsFailed,
		"breadcrumbs", res.BreadcrumbsSynced,
		"errors", len(res.Errors))
	return res, nil
}

// syncRefData replaces the local driver and vehicle mirrors wholesale.
// Master data is remote-authoritative, so this is a full replace, never a
// merge.
func (e *Engine) syncRefData(ctx context.Context, res *Result) {
	drivers, err := e.refData.ListDrivers(ctx)
	if err != nil {
		res.fail("drivers pull", err)
	} else if err := e.local.ReplaceDrivers(ctx, drivers); err != nil {
		res.fail("drivers replace", err)
	}

	vehicles, err := e.refData.ListVehicles(ctx)
	if err != nil {
		res.fail("vehicles pull", err)
		return
	}
	if err := e.local.ReplaceVehicles(ctx, vehicles); err != nil {
		res.fail("vehicles replace", err)
		return
	}
	res.RefDataReplaced = true
}

// pushPendingTrips uploads every locally pending trip: photos first, then
// the trip record keyed by local_id, then its breadcrumbs. A failure on one
// trip logs and moves to the next; it never marks that trip synced.
func (e *Engine) pushPendingTrips(ctx context.Context, res *Result) {
	pending, err := e.local.PendingTrips(ctx)
	if err != nil {
		res.fail("pending trips", err)
		return
	}

	for _, trip := range pending {
		if err := e.pushTrip(ctx, trip, res); err != nil {
			res.TripsFailed++
			e.log.Warn("trip sync failed", "trip", trip.LocalID, "error", err)
			continue
		}
		res.TripsSynced++
	}
}

func (e *Engine) pushTrip(ctx context.Context, trip domain.Trip, res *Result) error {
	n, err := remotestore.UploadTripPhotos(ctx, e.uploader, &trip)
	res.PhotosUploaded += n
	if err != nil {
		// Push the record anyway; the COALESCE guard on the remote side
		// means a later retry can still fill in the missing URLs.
		e.log.Warn("photo upload incomplete", "trip", trip.LocalID, "error", err)
	}

	remote, err := e.trips.UpsertByLocalID(ctx, trip)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	if remote.ServerID == nil {
		return errors.New("upsert returned no server id")
	}

	if err := e.local.MarkTripSynced(ctx, trip.LocalID, *remote.ServerID); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	if n > 0 {
		// Persist the rewritten photo URLs so the mirror drops its cached
		// bytes.
		trip.ServerID = remote.ServerID
		trip.SyncState = domain.SyncSynced
		if err := e.local.UpsertTrip(ctx, trip); err != nil {
			e.log.Warn("photo url mirror failed", "trip", trip.LocalID, "error", err)
		}
	}

	e.pushBreadcrumbs(ctx, trip.LocalID, remote.ServerID, res)
	return nil
}

// pushBreadcrumbs uploads the pending samples for one trip and marks them
// synced locally. Failures are recorded but never fail the owning trip —
// the samples stay pending for the next pass.
func (e *Engine) pushBreadcrumbs(ctx context.Context, tripLocalID string, serverID *uuid.UUID, res *Result) {
	samples, err := e.local.PendingBreadcrumbs(ctx, tripLocalID)
	if err != nil {
		res.fail("breadcrumbs for "+tripLocalID, err)
		return
	}
	if len(samples) == 0 {
		return
	}

	for i := range samples {
		if samples[i].TripServerID == nil {
			samples[i].TripServerID = serverID
		}
	}

	n, err := e.points.InsertBatch(ctx, samples)
	if err != nil {
		res.fail("breadcrumb batch for "+tripLocalID, err)
		return
	}
	res.BreadcrumbsSynced += n

	ids := make([]string, len(samples))
	for i, s := range samples {
		ids[i] = s.ClientID
	}
	if err := e.local.MarkBreadcrumbsSynced(ctx, ids); err != nil {
		res.fail("mark breadcrumbs for "+tripLocalID, err)
	}
}

// pushLeftoverBreadcrumbs sweeps samples whose trip synced on an earlier
// pass (e.g. an online trip end) but whose own upload failed then.
func (e *Engine) pushLeftoverBreadcrumbs(ctx context.Context, res *Result) {
	samples, err := e.local.PendingBreadcrumbs(ctx, "")
	if err != nil {
		res.fail("leftover breadcrumbs", err)
		return
	}
	if len(samples) == 0 {
		return
	}

	// Group per trip so one bad batch doesn't strand the rest.
	byTrip := map[string][]domain.Breadcrumb{}
	for _, s := range samples {
		byTrip[s.TripLocalID] = append(byTrip[s.TripLocalID], s)
	}
	for tripID, batch := range byTrip {
		n, err := e.points.InsertBatch(ctx, batch)
		if err != nil {
			res.fail("leftover batch for "+tripID, err)
			continue
		}
		res.BreadcrumbsSynced += n

		ids := make([]string, len(batch))
		for i, s := range batch {
			ids[i] = s.ClientID
		}
		if err := e.local.MarkBreadcrumbsSynced(ctx, ids); err != nil {
			res.fail("mark leftover for "+tripID, err)
		}
	}
}

// pullHistory refreshes the local mirror of finalized trips from the remote
// store. The pull merges server copies in; it never evicts local rows, so
// pending trips and history beyond the server's page limit stay intact.
func (e *Engine) pullHistory(ctx context.Context, res *Result) {
	trips, err := e.trips.ListFinalized(ctx, e.deviceID, e.historyLimit)
	if err != nil {
		res.fail("history pull", err)
		return
	}
	if err := e.local.ReplaceSyncedTrips(ctx, trips); err != nil {
		res.fail("history replace", err)
		return
	}
	res.HistoryPulled = len(trips)
}
