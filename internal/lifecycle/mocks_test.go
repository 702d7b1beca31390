package lifecycle_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/tripsync/internal/domain"
	"github.com/fieldops/tripsync/internal/lifecycle"
	"github.com/fieldops/tripsync/internal/location"
)

// mockLocal is a hand-written double over the local store slice the manager
// uses. Zero-value funcs behave like an empty, healthy store.
type mockLocal struct {
	mu        sync.Mutex
	trips     map[string]domain.Trip
	available bool
	upsertErr error
	activeErr error
}

func newMockLocal() *mockLocal {
	return &mockLocal{trips: map[string]domain.Trip{}, available: true}
}

func (m *mockLocal) Available() bool { return m.available }

func (m *mockLocal) UpsertTrip(_ context.Context, t domain.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.trips[t.LocalID] = t
	return nil
}

func (m *mockLocal) ActiveTrip(_ context.Context, deviceID string) (*domain.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeErr != nil {
		return nil, m.activeErr
	}
	for _, t := range m.trips {
		if t.DeviceID == deviceID && t.Active() {
			c := t
			return &c, nil
		}
	}
	return nil, nil
}

func (m *mockLocal) MarkTripSynced(_ context.Context, localID string, serverID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[localID]
	if !ok {
		return domain.ErrNotFound
	}
	t.ServerID = &serverID
	t.SyncState = domain.SyncSynced
	m.trips[localID] = t
	return nil
}

func (m *mockLocal) get(localID string) (domain.Trip, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[localID]
	return t, ok
}

var _ lifecycle.LocalStore = (*mockLocal)(nil)

// mockRemote is a double over the remote trip store with per-method function
// fields, so each test wires only what it exercises.
type mockRemote struct {
	UpsertByLocalIDFunc func(ctx context.Context, trip domain.Trip) (domain.Trip, error)
	UpdateFunc          func(ctx context.Context, serverID uuid.UUID, trip domain.Trip) (domain.Trip, error)
	ActiveForDeviceFunc func(ctx context.Context, deviceID string) (*domain.Trip, error)
}

func (m *mockRemote) UpsertByLocalID(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	return m.UpsertByLocalIDFunc(ctx, trip)
}

func (m *mockRemote) Update(ctx context.Context, serverID uuid.UUID, trip domain.Trip) (domain.Trip, error) {
	return m.UpdateFunc(ctx, serverID, trip)
}

func (m *mockRemote) ActiveForDevice(ctx context.Context, deviceID string) (*domain.Trip, error) {
	if m.ActiveForDeviceFunc == nil {
		return nil, nil
	}
	return m.ActiveForDeviceFunc(ctx, deviceID)
}

var _ lifecycle.RemoteTrips = (*mockRemote)(nil)

// acceptRemote returns a remote double that accepts every upsert and assigns
// a stable server id.
func acceptRemote() *mockRemote {
	id := uuid.New()
	return &mockRemote{
		UpsertByLocalIDFunc: func(_ context.Context, trip domain.Trip) (domain.Trip, error) {
			trip.ServerID = &id
			trip.SyncState = domain.SyncSynced
			return trip, nil
		},
		UpdateFunc: func(_ context.Context, serverID uuid.UUID, trip domain.Trip) (domain.Trip, error) {
			trip.ServerID = &serverID
			trip.SyncState = domain.SyncSynced
			return trip, nil
		},
	}
}

// mockUploader records uploads and hands back deterministic URLs.
type mockUploader struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (m *mockUploader) Upload(_ context.Context, path string, _ []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.paths = append(m.paths, path)
	return "https://photos.example/" + path, nil
}

// conn is a fixed connectivity answer.
type conn bool

func (c conn) Online() bool { return bool(c) }

// stubPos always returns the same fix; posErr always fails.
type stubPos struct{ err error }

func (s stubPos) Acquire(context.Context) (location.Position, error) {
	if s.err != nil {
		return location.Position{}, s.err
	}
	return location.Position{Latitude: -23.55, Longitude: -46.63, At: time.Now()}, nil
}

// mockPipeline counts starts and stops.
type mockPipeline struct {
	mu       sync.Mutex
	started  int
	stopped  int
	resumed  int
	startErr error
}

func (m *mockPipeline) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started++
	return nil
}

func (m *mockPipeline) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
}

func (m *mockPipeline) Resume(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumed++
}

var _ lifecycle.CapturePipeline = (*mockPipeline)(nil)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fixture bundles a manager with all its doubles so tests can reach in.
type fixture struct {
	m        *lifecycle.Manager
	local    *mockLocal
	remote   *mockRemote
	uploader *mockUploader
	pipeline *mockPipeline
}

func newFixture(online bool, remote *mockRemote) *fixture {
	f := &fixture{
		local:    newMockLocal(),
		remote:   remote,
		uploader: &mockUploader{},
		pipeline: &mockPipeline{},
	}
	f.m = lifecycle.NewManager(f.local, f.remote, f.uploader, conn(online), stubPos{}, f.pipeline, "dev-1", time.Now, discard())
	return f
}

// startInput is a valid trip-start payload.
func startInput() lifecycle.StartInput {
	return lifecycle.StartInput{
		DriverID:    "drv-1",
		VehicleID:   "veh-1",
		InitialKm:   1000,
		Origin:      "Depot",
		Destination: "Warehouse 7",
		DriverPhoto: &domain.PhotoRef{Data: []byte{0xff, 0xd8}},
	}
}
