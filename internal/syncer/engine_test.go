package syncer_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/tripsync/internal/domain"
	"github.com/fieldops/tripsync/internal/localstore"
	"github.com/fieldops/tripsync/internal/syncer"
)

// The engine is tested against a real in-memory local store — its contract
// with sqlite (pending flags, replace semantics) is half the behavior under
// test — with function-field doubles on the remote side.

type mockRemoteTrips struct {
	UpsertByLocalIDFunc func(ctx context.Context, trip domain.Trip) (domain.Trip, error)
	ListFinalizedFunc   func(ctx context.Context, deviceID string, limit int) ([]domain.Trip, error)
}

func (m *mockRemoteTrips) UpsertByLocalID(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	return m.UpsertByLocalIDFunc(ctx, trip)
}

func (m *mockRemoteTrips) ListFinalized(ctx context.Context, deviceID string, limit int) ([]domain.Trip, error) {
	if m.ListFinalizedFunc == nil {
		return nil, nil
	}
	return m.ListFinalizedFunc(ctx, deviceID, limit)
}

var _ syncer.RemoteTrips = (*mockRemoteTrips)(nil)

type mockRefData struct {
	drivers  []domain.Driver
	vehicles []domain.Vehicle
	err      error
}

func (m *mockRefData) ListDrivers(context.Context) ([]domain.Driver, error) {
	return m.drivers, m.err
}

func (m *mockRefData) ListVehicles(context.Context) ([]domain.Vehicle, error) {
	return m.vehicles, m.err
}

var _ syncer.RemoteRefData = (*mockRefData)(nil)

type mockBreadcrumbs struct {
	batches [][]domain.Breadcrumb
	err     error
}

func (m *mockBreadcrumbs) InsertBatch(_ context.Context, samples []domain.Breadcrumb) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.batches = append(m.batches, samples)
	return len(samples), nil
}

var _ syncer.RemoteBreadcrumbs = (*mockBreadcrumbs)(nil)

type mockUploader struct {
	paths []string
	err   error
}

func (m *mockUploader) Upload(_ context.Context, path string, _ []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.paths = append(m.paths, path)
	return "https://photos.example/" + path, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// acceptAll returns a remote trips double that assigns a fresh server id to
// every upsert.
func acceptAll() *mockRemoteTrips {
	return &mockRemoteTrips{
		UpsertByLocalIDFunc: func(_ context.Context, trip domain.Trip) (domain.Trip, error) {
			id := uuid.New()
			trip.ServerID = &id
			trip.SyncState = domain.SyncSynced
			return trip, nil
		},
	}
}

type harness struct {
	engine   *syncer.Engine
	local    *localstore.Store
	trips    *mockRemoteTrips
	refData  *mockRefData
	points   *mockBreadcrumbs
	uploader *mockUploader
}

func newHarness(t *testing.T, trips *mockRemoteTrips) *harness {
	t.Helper()
	h := &harness{
		local:    localstore.Open(":memory:", discard()),
		trips:    trips,
		refData:  &mockRefData{},
		points:   &mockBreadcrumbs{},
		uploader: &mockUploader{},
	}
	t.Cleanup(func() { h.local.Close() })
	h.engine = syncer.NewEngine(h.local, h.trips, h.refData, h.points, h.uploader, "dev-1", 50, discard())
	return h
}

// pendingTrip writes a locally finalized, unsynced trip into the store.
func (h *harness) pendingTrip(t *testing.T, photos ...domain.PhotoRef) domain.Trip {
	t.Helper()
	finalKm := 1050.0
	end := time.Now().UTC().Truncate(time.Second)
	trip := domain.Trip{
		LocalID:   domain.NewLocalID(),
		DeviceID:  "dev-1",
		DriverID:  "drv-1",
		VehicleID: "veh-1",
		InitialKm: 1000,
		FinalKm:   &finalKm,
		StartTime: end.Add(-time.Hour),
		EndTime:   &end,
		Photos:    photos,
		Status:    domain.StatusFinalized,
		SyncState: domain.SyncPending,
	}
	require.NoError(t, h.local.UpsertTrip(context.Background(), trip))
	return trip
}

func (h *harness) breadcrumb(t *testing.T, tripLocalID string, at time.Time) domain.Breadcrumb {
	t.Helper()
	b := domain.Breadcrumb{
		ClientID:    domain.NewBreadcrumbID(),
		TripLocalID: tripLocalID,
		Latitude:    -23.55,
		Longitude:   -46.63,
		CapturedAt:  at,
		Source:      "watch",
		SyncState:   domain.SyncPending,
	}
	require.NoError(t, h.local.AppendBreadcrumb(context.Background(), b))
	return b
}

func TestEngine_Sync_PushesPendingTrips(t *testing.T) {
	h := newHarness(t, acceptAll())
	ctx := context.Background()
	trip := h.pendingTrip(t)
	h.breadcrumb(t, trip.LocalID, trip.StartTime.Add(10*time.Second))
	h.breadcrumb(t, trip.LocalID, trip.StartTime.Add(25*time.Second))

	res, err := h.engine.Sync(ctx)

	require.NoError(t, err)
	assert.True(t, res.Ok(), "errors: %v", res.Errors)
	assert.Equal(t, 1, res.TripsSynced)
	assert.Equal(t, 2, res.BreadcrumbsSynced)

	stored, err := h.local.TripByLocalID(ctx, trip.LocalID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSynced, stored.SyncState)
	assert.NotNil(t, stored.ServerID)

	left, err := h.local.PendingBreadcrumbs(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, left, "samples marked synced after upload")

	last, ok := h.engine.LastSync()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), last, time.Minute)
}

func TestEngine_Sync_UploadsCachedPhotos(t *testing.T) {
	h := newHarness(t, acceptAll())
	trip := h.pendingTrip(t, domain.PhotoRef{Data: []byte{0x01}}, domain.PhotoRef{URL: "https://photos.example/done.jpg"})

	res, err := h.engine.Sync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.PhotosUploaded, "already-uploaded photos are skipped")
	require.Len(t, h.uploader.paths, 1)
	assert.Equal(t, "trips/dev-1/"+trip.LocalID+"/photo_0.jpg", h.uploader.paths[0])

	stored, err := h.local.TripByLocalID(context.Background(), trip.LocalID)
	require.NoError(t, err)
	assert.Zero(t, stored.PendingPhotos(), "mirror dropped the cached bytes")
}

// TestEngine_Sync_PerTripFaultIsolation is the core resilience property: one
// rejected trip must not block the others from syncing.
func TestEngine_Sync_PerTripFaultIsolation(t *testing.T) {
	bad := make(map[string]bool)
	trips := &mockRemoteTrips{
		UpsertByLocalIDFunc: func(_ context.Context, trip domain.Trip) (domain.Trip, error) {
			if bad[trip.LocalID] {
				return domain.Trip{}, errors.New("constraint violation")
			}
			id := uuid.New()
			trip.ServerID = &id
			return trip, nil
		},
	}
	h := newHarness(t, trips)
	good1 := h.pendingTrip(t)
	poison := h.pendingTrip(t)
	good2 := h.pendingTrip(t)
	bad[poison.LocalID] = true

	res, err := h.engine.Sync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, res.TripsSynced)
	assert.Equal(t, 1, res.TripsFailed)
	assert.False(t, res.Ok())

	for _, localID := range []string{good1.LocalID, good2.LocalID} {
		stored, err := h.local.TripByLocalID(context.Background(), localID)
		require.NoError(t, err)
		assert.Equal(t, domain.SyncSynced, stored.SyncState)
	}
	stored, err := h.local.TripByLocalID(context.Background(), poison.LocalID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPending, stored.SyncState, "failed trip stays queued")

	_, ok := h.engine.LastSync()
	assert.False(t, ok, "a partial pass does not count as a successful sync")
}

func TestEngine_Sync_ReplacesRefData(t *testing.T) {
	h := newHarness(t, acceptAll())
	ctx := context.Background()
	require.NoError(t, h.local.ReplaceDrivers(ctx, []domain.Driver{{ID: "stale", FullName: "Gone Driver"}}))
	h.refData.drivers = []domain.Driver{{ID: "d1", Badge: "1001", FullName: "Ana Souza"}}
	h.refData.vehicles = []domain.Vehicle{{ID: "v1", Plate: "ABC1D23", Make: "VW", Model: "Saveiro"}}

	res, err := h.engine.Sync(ctx)

	require.NoError(t, err)
	assert.True(t, res.RefDataReplaced)

	drivers, err := h.local.ListDrivers(ctx, "")
	require.NoError(t, err)
	require.Len(t, drivers, 1, "full replace, not merge")
	assert.Equal(t, "Ana Souza", drivers[0].FullName)
}

func TestEngine_Sync_RefDataFailureDoesNotAbortTrips(t *testing.T) {
	h := newHarness(t, acceptAll())
	h.refData.err = errors.New("portal down")
	h.pendingTrip(t)

	res, err := h.engine.Sync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.TripsSynced)
	assert.False(t, res.RefDataReplaced)
	assert.NotEmpty(t, res.Errors)
}

func TestEngine_Sync_PullsHistory(t *testing.T) {
	serverID := uuid.New()
	finalKm := 900.0
	end := time.Now().UTC().Truncate(time.Second)
	remoteHistory := []domain.Trip{{
		LocalID:   domain.NewLocalID(),
		ServerID:  &serverID,
		DeviceID:  "dev-1",
		DriverID:  "drv-2",
		VehicleID: "veh-2",
		InitialKm: 800,
		FinalKm:   &finalKm,
		StartTime: end.Add(-2 * time.Hour),
		EndTime:   &end,
		Status:    domain.StatusFinalized,
		SyncState: domain.SyncSynced,
	}}
	trips := acceptAll()
	trips.ListFinalizedFunc = func(_ context.Context, deviceID string, limit int) ([]domain.Trip, error) {
		return remoteHistory, nil
	}
	h := newHarness(t, trips)

	// A locally pending trip must survive the history replace.
	pending := h.pendingTrip(t)
	trips.UpsertByLocalIDFunc = func(_ context.Context, trip domain.Trip) (domain.Trip, error) {
		return domain.Trip{}, errors.New("reject so the trip stays pending")
	}

	res, err := h.engine.Sync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.HistoryPulled)

	stored, err := h.local.TripByLocalID(context.Background(), pending.LocalID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPending, stored.SyncState, "pending local work is never clobbered by a pull")

	mirrored, err := h.local.TripByLocalID(context.Background(), remoteHistory[0].LocalID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSynced, mirrored.SyncState)
}

// A trip synced earlier in the same pass must survive that pass's history
// pull even when the server's finalized page does not include it (page limit,
// replication lag). History merges in, it never evicts.
func TestEngine_Sync_HistoryPullKeepsJustSyncedTrip(t *testing.T) {
	serverID := uuid.New()
	finalKm := 700.0
	end := time.Now().UTC().Truncate(time.Second)
	older := domain.Trip{
		LocalID:   domain.NewLocalID(),
		ServerID:  &serverID,
		DeviceID:  "dev-1",
		DriverID:  "drv-3",
		VehicleID: "veh-3",
		InitialKm: 650,
		FinalKm:   &finalKm,
		StartTime: end.Add(-6 * time.Hour),
		EndTime:   &end,
		Status:    domain.StatusFinalized,
		SyncState: domain.SyncSynced,
	}
	trips := acceptAll()
	trips.ListFinalizedFunc = func(context.Context, string, int) ([]domain.Trip, error) {
		return []domain.Trip{older}, nil
	}
	h := newHarness(t, trips)
	ctx := context.Background()
	justSynced := h.pendingTrip(t)

	res, err := h.engine.Sync(ctx)

	require.NoError(t, err)
	assert.True(t, res.Ok(), "errors: %v", res.Errors)
	assert.Equal(t, 1, res.TripsSynced)
	assert.Equal(t, 1, res.HistoryPulled)

	stored, err := h.local.TripByLocalID(ctx, justSynced.LocalID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSynced, stored.SyncState, "just-synced trip erased by its own pass")

	mirrored, err := h.local.TripByLocalID(ctx, older.LocalID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSynced, mirrored.SyncState)
}

func TestEngine_Sync_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	trips := &mockRemoteTrips{
		UpsertByLocalIDFunc: func(_ context.Context, trip domain.Trip) (domain.Trip, error) {
			close(started)
			<-release
			id := uuid.New()
			trip.ServerID = &id
			return trip, nil
		},
	}
	h := newHarness(t, trips)
	h.pendingTrip(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.Sync(context.Background())
		done <- err
	}()
	<-started

	_, err := h.engine.Sync(context.Background())
	assert.ErrorIs(t, err, syncer.ErrSyncInFlight, "a running sync suppresses a new one")
	assert.True(t, h.engine.Running())

	close(release)
	require.NoError(t, <-done)
	assert.False(t, h.engine.Running())
}

func TestEngine_Sync_SurvivesPanickingAdapter(t *testing.T) {
	trips := &mockRemoteTrips{
		UpsertByLocalIDFunc: func(_ context.Context, _ domain.Trip) (domain.Trip, error) {
			panic("driver bug")
		},
	}
	h := newHarness(t, trips)
	h.pendingTrip(t)

	res, err := h.engine.Sync(context.Background())

	require.NoError(t, err, "nothing escapes the engine boundary")
	assert.False(t, res.Ok())
	assert.False(t, h.engine.Running(), "the guard is released even after a panic")
}
