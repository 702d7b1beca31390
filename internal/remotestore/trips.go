// Package remotestore contains all access logic for the remote authoritative
// Postgres backend. Each resource has its own file with an interface and a
// pgx implementation. No business logic lives here — only SQL and type
// mapping; deciding when to write remotely versus locally belongs to the
// lifecycle manager and the sync engine.
package remotestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fieldops/tripsync/internal/domain"
)

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Accepting this interface instead of *pgxpool.Pool directly allows integration
// tests to pass a transaction that is rolled back after each test, giving free
// per-test isolation without any manual cleanup.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TripStore defines the remote persistence operations for Trips.
// The lifecycle manager and sync engine depend on this interface, not the
// concrete Postgres implementation, which allows them to be unit-tested with
// a mock.
type TripStore interface {
	// UpsertByLocalID creates the trip or, when a row with the same
	// local_id exists, overwrites its mutable fields. local_id carries a
	// uniqueness constraint (created by this module's own migration), so
	// replaying the same payload any number of times yields one record —
	// this is the sole duplicate-prevention mechanism for trips that were
	// started and ended entirely offline.
	UpsertByLocalID(ctx context.Context, trip domain.Trip) (domain.Trip, error)

	// Update overwrites the mutable fields of an existing trip by its
	// server-assigned primary key. Returns domain.ErrNotFound when the row
	// does not exist.
	Update(ctx context.Context, serverID uuid.UUID, trip domain.Trip) (domain.Trip, error)

	// ActiveForDevice returns the in-progress trip for a device, or nil.
	// Backed by a partial index on (device_id) WHERE status = 'in_progress'.
	ActiveForDevice(ctx context.Context, deviceID string) (*domain.Trip, error)

	// ListFinalized returns the device's finalized trips, newest first,
	// for refreshing the local history mirror.
	ListFinalized(ctx context.Context, deviceID string, limit int) ([]domain.Trip, error)
}

// pgTripStore is the Postgres implementation of TripStore.
type pgTripStore struct {
	db db
}

// NewTripStore constructs a TripStore backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewTripStore(db db) TripStore {
	return &pgTripStore{db: db}
}

const tripColumns = `
	id, local_id, device_id, driver_id, vehicle_id,
	rented_plate, rented_model, rented_company,
	initial_km, final_km, start_time, end_time,
	start_latitude, start_longitude, end_latitude, end_longitude,
	duration_seconds, origin, destination, reason, notes,
	driver_photo_url, photo_urls, status, created_at, updated_at`

func tripArgs(t domain.Trip) pgx.NamedArgs {
	args := pgx.NamedArgs{
		"local_id":         t.LocalID,
		"device_id":        t.DeviceID,
		"driver_id":        t.DriverID,
		"vehicle_id":       textOrNil(t.VehicleID),
		"rented_plate":     nil,
		"rented_model":     nil,
		"rented_company":   nil,
		"initial_km":       t.InitialKm,
		"final_km":         t.FinalKm,
		"start_time":       t.StartTime,
		"end_time":         t.EndTime, // nil becomes NULL
		"start_latitude":   t.StartLat,
		"start_longitude":  t.StartLng,
		"end_latitude":     t.EndLat,
		"end_longitude":    t.EndLng,
		"duration_seconds": t.DurationSeconds,
		"origin":           textOrNil(t.Origin),
		"destination":      textOrNil(t.Destination),
		"reason":           textOrNil(t.Reason),
		"notes":            textOrNil(t.Notes),
		"driver_photo_url": nil,
		"photo_urls":       photoURLs(t.Photos),
		"status":           string(t.Status),
	}
	if t.Rented != nil {
		args["rented_plate"] = t.Rented.Plate
		args["rented_model"] = textOrNil(t.Rented.Model)
		args["rented_company"] = textOrNil(t.Rented.Company)
	}
	if t.DriverPhoto != nil && t.DriverPhoto.Uploaded() {
		args["driver_photo_url"] = t.DriverPhoto.URL
	}
	return args
}

// UpsertByLocalID inserts or overwrites the trip keyed by its client-generated
// localId and returns the authoritative record, serverId included.
func (r *pgTripStore) UpsertByLocalID(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	const q = `
		INSERT INTO trips (
			local_id, device_id, driver_id, vehicle_id,
			rented_plate, rented_model, rented_company,
			initial_km, final_km, start_time, end_time,
			start_latitude, start_longitude, end_latitude, end_longitude,
			duration_seconds, origin, destination, reason, notes,
			driver_photo_url, photo_urls, status
		) VALUES (
			@local_id, @device_id, @driver_id, @vehicle_id,
			@rented_plate, @rented_model, @rented_company,
			@initial_km, @final_km, @start_time, @end_time,
			@start_latitude, @start_longitude, @end_latitude, @end_longitude,
			@duration_seconds, @origin, @destination, @reason, @notes,
			@driver_photo_url, @photo_urls, @status
		)
		ON CONFLICT (local_id) DO UPDATE SET
			final_km         = excluded.final_km,
			end_time         = excluded.end_time,
			end_latitude     = excluded.end_latitude,
			end_longitude    = excluded.end_longitude,
			duration_seconds = excluded.duration_seconds,
			origin           = excluded.origin,
			destination      = excluded.destination,
			reason           = excluded.reason,
			notes            = excluded.notes,
			driver_photo_url = COALESCE(excluded.driver_photo_url, trips.driver_photo_url),
			photo_urls       = COALESCE(excluded.photo_urls, trips.photo_urls),
			status           = excluded.status,
			updated_at       = now()
		RETURNING` + tripColumns

	row := r.db.QueryRow(ctx, q, tripArgs(trip))
	result, err := scanTrip(row)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("remotestore.TripStore.UpsertByLocalID: %w", err)
	}
	return result, nil
}

// Update overwrites the mutable fields of a trip addressed by server id.
func (r *pgTripStore) Update(ctx context.Context, serverID uuid.UUID, trip domain.Trip) (domain.Trip, error) {
	const q = `
		UPDATE trips SET
			final_km         = @final_km,
			end_time         = @end_time,
			end_latitude     = @end_latitude,
			end_longitude    = @end_longitude,
			duration_seconds = @duration_seconds,
			destination      = @destination,
			notes            = @notes,
			driver_photo_url = COALESCE(@driver_photo_url, driver_photo_url),
			photo_urls       = COALESCE(@photo_urls, photo_urls),
			status           = @status,
			updated_at       = now()
		WHERE id = @id
		RETURNING` + tripColumns

	args := tripArgs(trip)
	args["id"] = serverID

	row := r.db.QueryRow(ctx, q, args)
	result, err := scanTrip(row)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("remotestore.TripStore.Update: %w", err)
	}
	return result, nil
}

// ActiveForDevice returns the device's in-progress trip, or nil when there is
// none — a nil trip is an answer, not an error.
func (r *pgTripStore) ActiveForDevice(ctx context.Context, deviceID string) (*domain.Trip, error) {
	const q = `
		SELECT` + tripColumns + `
		FROM trips
		WHERE device_id = @device_id AND status = 'in_progress' AND end_time IS NULL
		ORDER BY start_time DESC
		LIMIT 1`

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{"device_id": deviceID})
	result, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("remotestore.TripStore.ActiveForDevice: %w", err)
	}
	return &result, nil
}

// ListFinalized returns the device's finalized trips, newest first.
func (r *pgTripStore) ListFinalized(ctx context.Context, deviceID string, limit int) ([]domain.Trip, error) {
	const q = `
		SELECT` + tripColumns + `
		FROM trips
		WHERE device_id = @device_id AND status = 'finalized'
		ORDER BY start_time DESC
		LIMIT @limit`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"device_id": deviceID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("remotestore.TripStore.ListFinalized: %w", err)
	}
	defer rows.Close()

	var trips []domain.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("remotestore.TripStore.ListFinalized: scan: %w", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("remotestore.TripStore.ListFinalized: rows: %w", err)
	}
	return trips, nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing scanTrip to be
// reused for both QueryRow and Query calls.
type scanner interface {
	Scan(dest ...any) error
}

// scanTrip maps a single trips row into a domain.Trip. This is the single
// normalization point between the remote schema and the domain type; every
// remote read goes through it.
func scanTrip(s scanner) (domain.Trip, error) {
	var (
		t                                      domain.Trip
		id                                     pgtype.UUID
		vehicleID                              pgtype.Text
		rentedPlate, rentedModel, rentedComp   pgtype.Text
		endTime                                pgtype.Timestamptz
		origin, destination, reason, notes     pgtype.Text
		driverPhotoURL                         pgtype.Text
		photoURLs                              []string
		status                                 string
	)

	err := s.Scan(
		&id, &t.LocalID, &t.DeviceID, &t.DriverID, &vehicleID,
		&rentedPlate, &rentedModel, &rentedComp,
		&t.InitialKm, &t.FinalKm, &t.StartTime, &endTime,
		&t.StartLat, &t.StartLng, &t.EndLat, &t.EndLng,
		&t.DurationSeconds, &origin, &destination, &reason, &notes,
		&driverPhotoURL, &photoURLs, &status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trip{}, domain.ErrNotFound
		}
		return domain.Trip{}, err
	}

	serverID := uuid.UUID(id.Bytes)
	t.ServerID = &serverID
	t.VehicleID = vehicleID.String
	if rentedPlate.Valid {
		t.Rented = &domain.RentedVehicle{
			Plate:   rentedPlate.String,
			Model:   rentedModel.String,
			Company: rentedComp.String,
		}
	}
	if endTime.Valid {
		et := endTime.Time
		t.EndTime = &et
	}
	t.Origin = origin.String
	t.Destination = destination.String
	t.Reason = reason.String
	t.Notes = notes.String
	if driverPhotoURL.Valid {
		t.DriverPhoto = &domain.PhotoRef{URL: driverPhotoURL.String}
	}
	for _, u := range photoURLs {
		t.Photos = append(t.Photos, domain.PhotoRef{URL: u})
	}
	t.Status = domain.TripStatus(status)
	// Anything read from the remote store is by definition present there.
	t.SyncState = domain.SyncSynced

	return t, nil
}

func textOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// photoURLs flattens uploaded photo references for the text[] column.
// Returns nil (SQL NULL) when no photo has a URL yet, so COALESCE on the
// upsert never erases previously stored URLs with an empty array.
func photoURLs(photos []domain.PhotoRef) any {
	var urls []string
	for _, p := range photos {
		if p.Uploaded() {
			urls = append(urls, p.URL)
		}
	}
	if urls == nil {
		return nil
	}
	return urls
}
