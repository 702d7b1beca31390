// Package lifecycle implements the trip state machine: starting, tracking,
// ending and resuming trips. The Manager is the exclusive owner of the
// "currently active trip" reference; the breadcrumb pipeline and the sync
// engine observe it only through the Active accessor.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/tripsync/internal/domain"
	"github.com/fieldops/tripsync/internal/location"
	"github.com/fieldops/tripsync/internal/remotestore"
)

// State is the in-memory phase of the manager. Starting and Ending are
// transient, held only for the duration of one start/end operation; a failure
// rolls back to the prior stable state. Finalized trips leave the manager
// entirely (their status lives on the persisted record), so the machine
// returns to StateNone when a trip ends.
type State string

const (
	StateNone       State = "none"
	StateStarting   State = "starting"
	StateInProgress State = "in_progress"
	StateEnding     State = "ending"
)

// LocalStore is the slice of the local store the manager uses.
type LocalStore interface {
	Available() bool
	UpsertTrip(ctx context.Context, t domain.Trip) error
	ActiveTrip(ctx context.Context, deviceID string) (*domain.Trip, error)
	MarkTripSynced(ctx context.Context, localID string, serverID uuid.UUID) error
}

// RemoteTrips is the slice of the remote trip store the manager uses.
type RemoteTrips interface {
	UpsertByLocalID(ctx context.Context, trip domain.Trip) (domain.Trip, error)
	Update(ctx context.Context, serverID uuid.UUID, trip domain.Trip) (domain.Trip, error)
	ActiveForDevice(ctx context.Context, deviceID string) (*domain.Trip, error)
}

// Connectivity answers the only question the manager asks the monitor.
type Connectivity interface {
	Online() bool
}

// Positioner acquires a single position fix; the location ladder satisfies
// it.
type Positioner interface {
	Acquire(ctx context.Context) (location.Position, error)
}

// CapturePipeline is the breadcrumb pipeline as the manager drives it.
type CapturePipeline interface {
	Start(ctx context.Context) error
	Stop()
	Resume(ctx context.Context)
}

// StartInput carries everything the driver fills in before a trip begins.
type StartInput struct {
	DriverID    string
	VehicleID   string
	Rented      *domain.RentedVehicle
	InitialKm   float64
	Origin      string
	Destination string
	Reason      string
	DriverPhoto *domain.PhotoRef
	Photos      []domain.PhotoRef
}

// EndInput carries the fields recorded when a trip ends.
type EndInput struct {
	FinalKm float64
	Notes   string
	Photos  []domain.PhotoRef
}

// Manager drives the trip state machine for one device.
type Manager struct {
	local    LocalStore
	remote   RemoteTrips
	uploader remotestore.Uploader
	conn     Connectivity
	pos      Positioner
	pipeline CapturePipeline
	deviceID string
	now      func() time.Time
	log      *slog.Logger

	mu      sync.Mutex
	state   State
	current *domain.Trip
}

// NewManager wires a Manager. now is the clock; pass time.Now outside tests.
func NewManager(local LocalStore, remote RemoteTrips, uploader remotestore.Uploader, conn Connectivity, pos Positioner, pipeline CapturePipeline, deviceID string, now func() time.Time, log *slog.Logger) *Manager {
	return &Manager{
		local:    local,
		remote:   remote,
		uploader: uploader,
		conn:     conn,
		pos:      pos,
		pipeline: pipeline,
		deviceID: deviceID,
		now:      now,
		log:      log,
		state:    StateNone,
	}
}

// State returns the manager's current phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Active returns the identity of the trip currently being tracked. This is
// the read accessor the breadcrumb sink and the sync engine use; the Manager
// is the sole writer of the underlying reference.
func (m *Manager) Active() (domain.TripRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return domain.TripRef{}, false
	}
	return m.current.Ref(), true
}

// ActiveTrip returns a copy of the full active trip, if any.
func (m *Manager) ActiveTrip() (domain.Trip, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return domain.Trip{}, false
	}
	t := *m.current
	t.DurationSeconds = int64(m.now().Sub(t.StartTime).Seconds())
	return t, true
}

// StartTrip begins a new trip, or idempotently returns the active one when a
// double start is requested. The sequence is: validate, reuse any active
// trip, acquire a start position through the fallback ladder, then persist —
// remotely first when online, locally otherwise, with a fallback from a
// failed remote write to the local store.
func (m *Manager) StartTrip(ctx context.Context, in StartInput) (domain.Trip, error) {
	if err := validateStart(in); err != nil {
		return domain.Trip{}, err
	}

	m.mu.Lock()
	switch m.state {
	case StateStarting, StateEnding:
		m.mu.Unlock()
		return domain.Trip{}, domain.ErrTripInFlight
	case StateInProgress:
		// Double tap on "start": reuse the trip already in progress.
		t := *m.current
		m.mu.Unlock()
		return t, nil
	}
	m.state = StateStarting
	m.mu.Unlock()

	trip, err := m.startTrip(ctx, in)
	if err != nil {
		m.setState(StateNone, nil)
		return domain.Trip{}, err
	}

	m.setState(StateInProgress, &trip)
	if err := m.pipeline.Start(ctx); err != nil {
		// A trip without breadcrumbs is still a trip; don't undo the start.
		m.log.Warn("breadcrumb capture failed to start", "trip", trip.LocalID, "error", err)
	}
	m.log.Info("trip started", "trip", trip.LocalID, "sync_state", trip.SyncState)
	return trip, nil
}

func (m *Manager) startTrip(ctx context.Context, in StartInput) (domain.Trip, error) {
	// Best-effort dedup: an active trip found in the local store is resumed,
	// not duplicated. True mutual exclusion comes from the local_id upsert
	// key on the remote side.
	if active, err := m.local.ActiveTrip(ctx, m.deviceID); err == nil && active != nil {
		m.log.Info("reusing active trip found locally", "trip", active.LocalID)
		return *active, nil
	}

	pos, err := m.pos.Acquire(ctx)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("lifecycle.Manager.StartTrip: %w", err)
	}

	now := m.now()
	trip := domain.Trip{
		LocalID:     domain.NewLocalID(),
		DeviceID:    m.deviceID,
		DriverID:    in.DriverID,
		VehicleID:   in.VehicleID,
		Rented:      in.Rented,
		InitialKm:   in.InitialKm,
		StartTime:   now,
		StartLat:    &pos.Latitude,
		StartLng:    &pos.Longitude,
		Origin:      in.Origin,
		Destination: in.Destination,
		Reason:      in.Reason,
		DriverPhoto: in.DriverPhoto,
		Photos:      in.Photos,
		Status:      domain.StatusInProgress,
		SyncState:   domain.SyncPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if m.conn.Online() {
		created, err := m.remote.UpsertByLocalID(ctx, trip)
		if err == nil {
			created.DriverPhoto = trip.DriverPhoto
			created.Photos = trip.Photos
			if lerr := m.local.UpsertTrip(ctx, created); lerr != nil {
				m.log.Warn("local mirror of started trip failed", "trip", created.LocalID, "error", lerr)
			}
			return created, nil
		}
		m.log.Warn("remote trip creation failed, falling back to local", "trip", trip.LocalID, "error", err)
		if !m.local.Available() {
			return domain.Trip{}, fmt.Errorf("lifecycle.Manager.StartTrip: remote create failed with no local fallback: %w", err)
		}
	}

	if err := m.local.UpsertTrip(ctx, trip); err != nil {
		return domain.Trip{}, fmt.Errorf("lifecycle.Manager.StartTrip: %w", err)
	}
	return trip, nil
}

// EndTrip finalizes the active trip. The local store is always written
// first: a trip finalized locally with syncState=pending survives any remote
// failure, so the remote steps afterwards are best-effort and their failures
// leave the trip queued for the sync engine instead of failing the caller.
func (m *Manager) EndTrip(ctx context.Context, in EndInput) (domain.Trip, error) {
	m.mu.Lock()
	switch m.state {
	case StateStarting, StateEnding:
		m.mu.Unlock()
		return domain.Trip{}, domain.ErrTripInFlight
	case StateNone:
		m.mu.Unlock()
		return domain.Trip{}, domain.ErrNoActiveTrip
	}
	trip := *m.current
	orig := trip
	m.state = StateEnding
	m.mu.Unlock()

	if in.FinalKm < trip.InitialKm {
		m.setState(StateInProgress, &orig)
		return domain.Trip{}, fmt.Errorf("%w: final odometer %.1f below initial %.1f", domain.ErrValidation, in.FinalKm, trip.InitialKm)
	}

	// The end position is nice-to-have: a finalized trip without end
	// coordinates beats an unfinalized one waiting on GPS.
	if pos, err := m.pos.Acquire(ctx); err == nil {
		trip.EndLat = &pos.Latitude
		trip.EndLng = &pos.Longitude
	} else {
		m.log.Warn("end position unavailable", "trip", trip.LocalID, "error", err)
	}

	now := m.now()
	finalKm := in.FinalKm
	trip.FinalKm = &finalKm
	trip.EndTime = &now
	trip.DurationSeconds = int64(now.Sub(trip.StartTime).Seconds())
	if in.Notes != "" {
		trip.Notes = in.Notes
	}
	trip.Photos = append(trip.Photos, in.Photos...)
	trip.Status = domain.StatusFinalized
	trip.SyncState = domain.SyncPending
	trip.UpdatedAt = now

	// Durability anchor: finalize locally before touching the network.
	localErr := m.local.UpsertTrip(ctx, trip)
	if localErr != nil {
		m.log.Warn("local finalize failed", "trip", trip.LocalID, "error", localErr)
	}

	if !m.conn.Online() {
		if localErr != nil {
			// Offline with no local store: nothing can hold the trip.
			m.setState(StateInProgress, &orig)
			return domain.Trip{}, fmt.Errorf("lifecycle.Manager.EndTrip: %w", localErr)
		}
		m.finish(trip.LocalID)
		return trip, nil
	}

	synced, remoteErr := m.pushFinalized(ctx, &trip)
	if remoteErr != nil {
		if localErr != nil {
			// Neither store took the trip; the caller must retry.
			m.setState(StateInProgress, &orig)
			return domain.Trip{}, fmt.Errorf("lifecycle.Manager.EndTrip: %w", remoteErr)
		}
		m.log.Warn("remote finalize failed, trip queued for sync", "trip", trip.LocalID, "error", remoteErr)
	}
	if synced {
		trip.SyncState = domain.SyncSynced
	}

	m.finish(trip.LocalID)
	return trip, nil
}

// pushFinalized uploads pending photos and writes the finalized trip to the
// remote store, marking the local mirror synced on success.
func (m *Manager) pushFinalized(ctx context.Context, trip *domain.Trip) (bool, error) {
	if n, err := remotestore.UploadTripPhotos(ctx, m.uploader, trip); err != nil {
		m.log.Warn("photo upload incomplete", "trip", trip.LocalID, "uploaded", n, "error", err)
	}

	var remote domain.Trip
	var err error
	if trip.ServerID != nil {
		remote, err = m.remote.Update(ctx, *trip.ServerID, *trip)
	} else {
		remote, err = m.remote.UpsertByLocalID(ctx, *trip)
	}
	if err != nil {
		return false, err
	}

	trip.ServerID = remote.ServerID
	if remote.ServerID != nil {
		if err := m.local.MarkTripSynced(ctx, trip.LocalID, *remote.ServerID); err != nil {
			m.log.Warn("marking trip synced locally failed", "trip", trip.LocalID, "error", err)
		}
	}
	// Persist the rewritten photo URLs so the local mirror stops carrying
	// inline bytes.
	synced := *trip
	synced.SyncState = domain.SyncSynced
	if err := m.local.UpsertTrip(ctx, synced); err != nil {
		m.log.Warn("local mirror of finalized trip failed", "trip", trip.LocalID, "error", err)
	}
	return true, nil
}

// AddPhoto attaches a photo to the active trip and persists the change.
func (m *Manager) AddPhoto(ctx context.Context, photo domain.PhotoRef) error {
	m.mu.Lock()
	if m.current == nil || m.state != StateInProgress {
		m.mu.Unlock()
		return domain.ErrNoActiveTrip
	}
	m.current.Photos = append(m.current.Photos, photo)
	m.current.UpdatedAt = m.now()
	trip := *m.current
	m.mu.Unlock()

	if err := m.local.UpsertTrip(ctx, trip); err != nil {
		return fmt.Errorf("lifecycle.Manager.AddPhoto: %w", err)
	}
	return nil
}

// Resume reconciles state on app start or return from suspension. It probes
// the local store first, then (when online) the remote store, because a trip
// may have been created on one side without its mirror write completing.
// A found trip is adopted into IN_PROGRESS with its elapsed time recomputed
// from the stored start timestamp.
func (m *Manager) Resume(ctx context.Context) (*domain.Trip, error) {
	m.mu.Lock()
	if m.state != StateNone {
		// Already tracking; just refresh the capture pipeline.
		m.mu.Unlock()
		m.pipeline.Resume(ctx)
		return nil, nil
	}
	m.mu.Unlock()

	trip, err := m.local.ActiveTrip(ctx, m.deviceID)
	if err != nil {
		m.log.Warn("local active-trip probe failed", "error", err)
	}

	if trip == nil && m.conn.Online() {
		trip, err = m.remote.ActiveForDevice(ctx, m.deviceID)
		if err != nil {
			return nil, fmt.Errorf("lifecycle.Manager.Resume: %w", err)
		}
		if trip != nil {
			// Mirror the remote trip locally so the device can keep working
			// if connectivity drops again.
			if lerr := m.local.UpsertTrip(ctx, *trip); lerr != nil {
				m.log.Warn("local mirror of resumed trip failed", "trip", trip.LocalID, "error", lerr)
			}
		}
	}

	if trip == nil {
		return nil, nil
	}

	trip.DurationSeconds = int64(m.now().Sub(trip.StartTime).Seconds())
	m.setState(StateInProgress, trip)

	if err := m.pipeline.Start(ctx); err != nil {
		m.log.Warn("breadcrumb capture failed to start on resume", "trip", trip.LocalID, "error", err)
	}
	m.pipeline.Resume(ctx)
	m.log.Info("trip resumed", "trip", trip.LocalID, "elapsed_s", trip.DurationSeconds)
	return trip, nil
}

// finish stops capture and clears the in-memory trip identifiers after a
// successful end.
func (m *Manager) finish(localID string) {
	m.pipeline.Stop()
	m.setState(StateNone, nil)
	m.log.Info("trip finalized", "trip", localID)
}

func (m *Manager) setState(s State, trip *domain.Trip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	m.current = trip
}
