// Package localstore is the typed CRUD façade over the embedded SQLite
// database that gives the agent offline persistence. It owns schema creation
// and query construction for trips, breadcrumbs, and the reference-data
// mirrors (drivers, vehicles).
//
// The store is deliberately forgiving about its own absence: if the database
// cannot be opened (read-only filesystem, unsupported platform) every method
// degrades to a documented no-op or empty result instead of failing hard.
// Callers detect the condition via domain.ErrStoreUnavailable or Available()
// and treat it as "offline persistence degraded", keeping the agent usable
// in memory-only mode.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver

	"github.com/fieldops/tripsync/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS trips (
	local_id         TEXT PRIMARY KEY,
	server_id        TEXT,
	device_id        TEXT NOT NULL,
	driver_id        TEXT NOT NULL,
	vehicle_id       TEXT,
	rented_plate     TEXT,
	rented_model     TEXT,
	rented_company   TEXT,
	initial_km       REAL NOT NULL,
	final_km         REAL,
	start_time       TEXT NOT NULL,
	end_time         TEXT,
	start_latitude   REAL,
	start_longitude  REAL,
	end_latitude     REAL,
	end_longitude    REAL,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	origin           TEXT,
	destination      TEXT,
	reason           TEXT,
	notes            TEXT,
	driver_photo     TEXT,
	photos           TEXT,
	status           TEXT NOT NULL,
	synced           INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	updated_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE INDEX IF NOT EXISTS idx_trips_active  ON trips (device_id, status);
CREATE INDEX IF NOT EXISTS idx_trips_pending ON trips (synced);

CREATE TABLE IF NOT EXISTS breadcrumbs (
	client_id       TEXT PRIMARY KEY,
	trip_local_id   TEXT NOT NULL,
	trip_server_id  TEXT,
	latitude        REAL NOT NULL,
	longitude       REAL NOT NULL,
	accuracy        REAL,
	speed           REAL,
	captured_at     TEXT NOT NULL,
	source          TEXT,
	synced          INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (trip_local_id) REFERENCES trips (local_id)
);

CREATE INDEX IF NOT EXISTS idx_breadcrumbs_trip ON breadcrumbs (trip_local_id, synced);

CREATE TABLE IF NOT EXISTS drivers (
	id        TEXT PRIMARY KEY,
	badge     TEXT NOT NULL,
	full_name TEXT NOT NULL,
	role      TEXT
);

CREATE TABLE IF NOT EXISTS vehicles (
	id    TEXT PRIMARY KEY,
	plate TEXT NOT NULL,
	make  TEXT,
	model TEXT
);
`

// Store provides durable offline storage for trips and breadcrumbs.
// Uses SQLite with WAL mode; a single writer connection avoids SQLITE_BUSY.
type Store struct {
	db  *sql.DB // nil when the store is degraded
	log *slog.Logger
}

// Open creates or opens the SQLite database at the given path and applies
// pragmas and the schema. Open never fails: on any error it logs a warning
// and returns a degraded Store whose methods no-op, because the agent must
// stay usable without offline persistence.
//
// Use ":memory:" in tests.
func Open(path string, log *slog.Logger) *Store {
	s := &Store{log: log}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		log.Warn("local store unavailable, running memory-only", "path", path, "error", err)
		return s
	}
	if err := db.Ping(); err != nil {
		db.Close()
		log.Warn("local store unavailable, running memory-only", "path", path, "error", err)
		return s
	}

	// SQLite supports one writer at a time; a single pooled connection
	// sidesteps lock contention entirely.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			log.Warn("local store unavailable, running memory-only", "pragma", pragma, "error", err)
			return s
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		log.Warn("local store unavailable, running memory-only", "path", path, "error", err)
		return s
	}

	s.db = db
	return s
}

// Available reports whether offline persistence is usable.
func (s *Store) Available() bool { return s.db != nil }

// Close closes the database connection. Safe to call on a degraded store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// requireDB returns the live handle or domain.ErrStoreUnavailable.
// The op name appears in the warning log so degraded-mode call sites are
// visible in the field logs.
func (s *Store) requireDB(op string) (*sql.DB, error) {
	if s.db == nil {
		s.log.Warn("local store call in degraded mode", "op", op)
		return nil, domain.ErrStoreUnavailable
	}
	return s.db, nil
}

// --- trips ------------------------------------------------------------------

// UpsertTrip inserts the trip or, when a row with the same local_id already
// exists, overwrites its mutable fields. The write is atomic; updated_at is
// refreshed on every call.
func (s *Store) UpsertTrip(ctx context.Context, t domain.Trip) error {
	db, err := s.requireDB("UpsertTrip")
	if err != nil {
		return err
	}

	driverPhoto, photos, err := marshalPhotos(t)
	if err != nil {
		return fmt.Errorf("localstore.Store.UpsertTrip: %w", err)
	}

	const q = `
		INSERT INTO trips (
			local_id, server_id, device_id, driver_id, vehicle_id,
			rented_plate, rented_model, rented_company,
			initial_km, final_km, start_time, end_time,
			start_latitude, start_longitude, end_latitude, end_longitude,
			duration_seconds, origin, destination, reason, notes,
			driver_photo, photos, status, synced
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (local_id) DO UPDATE SET
			server_id        = excluded.server_id,
			final_km         = excluded.final_km,
			end_time         = excluded.end_time,
			end_latitude     = excluded.end_latitude,
			end_longitude    = excluded.end_longitude,
			duration_seconds = excluded.duration_seconds,
			origin           = excluded.origin,
			destination      = excluded.destination,
			reason           = excluded.reason,
			notes            = excluded.notes,
			driver_photo     = excluded.driver_photo,
			photos           = excluded.photos,
			status           = excluded.status,
			synced           = excluded.synced,
			updated_at       = strftime('%Y-%m-%dT%H:%M:%fZ','now')`

	_, err = db.ExecContext(ctx, q,
		t.LocalID, uuidPtrStr(t.ServerID), t.DeviceID, t.DriverID, nullStr(t.VehicleID),
		rentedField(t.Rented, func(r *domain.RentedVehicle) string { return r.Plate }),
		rentedField(t.Rented, func(r *domain.RentedVehicle) string { return r.Model }),
		rentedField(t.Rented, func(r *domain.RentedVehicle) string { return r.Company }),
		t.InitialKm, t.FinalKm, timeStr(t.StartTime), timePtrStr(t.EndTime),
		t.StartLat, t.StartLng, t.EndLat, t.EndLng,
		t.DurationSeconds, nullStr(t.Origin), nullStr(t.Destination), nullStr(t.Reason), nullStr(t.Notes),
		driverPhoto, photos, string(t.Status), syncFlag(t.SyncState),
	)
	if err != nil {
		return fmt.Errorf("localstore.Store.UpsertTrip: %w", err)
	}
	return nil
}

// TripByLocalID retrieves a single trip. Returns domain.ErrNotFound when the
// row does not exist and domain.ErrStoreUnavailable in degraded mode.
func (s *Store) TripByLocalID(ctx context.Context, localID string) (domain.Trip, error) {
	db, err := s.requireDB("TripByLocalID")
	if err != nil {
		return domain.Trip{}, err
	}

	row := db.QueryRowContext(ctx, selectTrips+` WHERE local_id = ?`, localID)
	t, err := scanTrip(row)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("localstore.Store.TripByLocalID: %w", err)
	}
	return t, nil
}

// ActiveTrip returns the trip currently in progress for the device, or nil
// when there is none. This query is the sole local authority used to prevent
// duplicate concurrent trips, so it always reads the latest committed state.
// In degraded mode it returns (nil, nil): no local knowledge, not an error.
func (s *Store) ActiveTrip(ctx context.Context, deviceID string) (*domain.Trip, error) {
	if s.db == nil {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx,
		selectTrips+` WHERE device_id = ? AND status = ? AND end_time IS NULL
		ORDER BY start_time DESC LIMIT 1`,
		deviceID, string(domain.StatusInProgress))

	t, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("localstore.Store.ActiveTrip: %w", err)
	}
	return &t, nil
}

// PendingTrips lists all trips with syncState=pending, oldest first, so the
// sync engine replays them in creation order. Empty in degraded mode.
func (s *Store) PendingTrips(ctx context.Context) ([]domain.Trip, error) {
	if s.db == nil {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, selectTrips+` WHERE synced = 0 ORDER BY start_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("localstore.Store.PendingTrips: %w", err)
	}
	defer rows.Close()

	return collectTrips(rows, "PendingTrips")
}

// ListTrips returns the local trip history (pending and synced alike),
// newest first, along with the total row count for pagination.
func (s *Store) ListTrips(ctx context.Context, p domain.PaginationParams) ([]domain.Trip, int, error) {
	if s.db == nil {
		return nil, 0, nil
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trips`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("localstore.Store.ListTrips: count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		selectTrips+` ORDER BY start_time DESC LIMIT ? OFFSET ?`, p.Limit, p.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("localstore.Store.ListTrips: %w", err)
	}
	defer rows.Close()

	trips, err := collectTrips(rows, "ListTrips")
	return trips, total, err
}

// MarkTripSynced records that the remote store confirmed the trip and
// assigned it a serverId. Only syncState and server_id change; business
// fields are untouched.
func (s *Store) MarkTripSynced(ctx context.Context, localID string, serverID uuid.UUID) error {
	db, err := s.requireDB("MarkTripSynced")
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx,
		`UPDATE trips SET synced = 1, server_id = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		 WHERE local_id = ?`,
		serverID.String(), localID)
	if err != nil {
		return fmt.Errorf("localstore.Store.MarkTripSynced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("localstore.Store.MarkTripSynced: %w", domain.ErrNotFound)
	}
	return nil
}

// ReplaceSyncedTrips refreshes the local history mirror from server records.
// Each incoming trip is inserted, or updates an existing copy that is already
// marked synced. Nothing is ever deleted: trips the server did not return
// (history page limits, filters) stay in local history, locally pending trips
// are left untouched because they are the durability anchor, and breadcrumbs
// survive unconditionally so a failed server write can still be reconciled.
func (s *Store) ReplaceSyncedTrips(ctx context.Context, trips []domain.Trip) error {
	db, err := s.requireDB("ReplaceSyncedTrips")
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore.Store.ReplaceSyncedTrips: begin: %w", err)
	}
	defer tx.Rollback()

	// The conflict-clause WHERE guard restricts the refresh to rows already
	// synced; a pending row with the same local_id keeps its local state.
	const q = `
		INSERT INTO trips (
			local_id, server_id, device_id, driver_id, vehicle_id,
			rented_plate, rented_model, rented_company,
			initial_km, final_km, start_time, end_time,
			start_latitude, start_longitude, end_latitude, end_longitude,
			duration_seconds, origin, destination, reason, notes,
			driver_photo, photos, status, synced
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (local_id) DO UPDATE SET
			server_id        = excluded.server_id,
			final_km         = excluded.final_km,
			end_time         = excluded.end_time,
			end_latitude     = excluded.end_latitude,
			end_longitude    = excluded.end_longitude,
			duration_seconds = excluded.duration_seconds,
			origin           = excluded.origin,
			destination      = excluded.destination,
			reason           = excluded.reason,
			notes            = excluded.notes,
			driver_photo     = excluded.driver_photo,
			photos           = excluded.photos,
			status           = excluded.status,
			updated_at       = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE trips.synced = 1`

	for _, t := range trips {
		driverPhoto, photos, err := marshalPhotos(t)
		if err != nil {
			return fmt.Errorf("localstore.Store.ReplaceSyncedTrips: %w", err)
		}
		_, err = tx.ExecContext(ctx, q,
			t.LocalID, uuidPtrStr(t.ServerID), t.DeviceID, t.DriverID, nullStr(t.VehicleID),
			rentedField(t.Rented, func(r *domain.RentedVehicle) string { return r.Plate }),
			rentedField(t.Rented, func(r *domain.RentedVehicle) string { return r.Model }),
			rentedField(t.Rented, func(r *domain.RentedVehicle) string { return r.Company }),
			t.InitialKm, t.FinalKm, timeStr(t.StartTime), timePtrStr(t.EndTime),
			t.StartLat, t.StartLng, t.EndLat, t.EndLng,
			t.DurationSeconds, nullStr(t.Origin), nullStr(t.Destination), nullStr(t.Reason), nullStr(t.Notes),
			driverPhoto, photos, string(t.Status),
		)
		if err != nil {
			return fmt.Errorf("localstore.Store.ReplaceSyncedTrips: insert %s: %w", t.LocalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("localstore.Store.ReplaceSyncedTrips: commit: %w", err)
	}
	return nil
}

// --- breadcrumbs ------------------------------------------------------------

// AppendBreadcrumb persists a single position sample tagged to its trip.
// Samples are write-once; re-appending the same ClientID is a no-op.
func (s *Store) AppendBreadcrumb(ctx context.Context, b domain.Breadcrumb) error {
	db, err := s.requireDB("AppendBreadcrumb")
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO breadcrumbs (
			client_id, trip_local_id, trip_server_id,
			latitude, longitude, accuracy, speed, captured_at, source, synced
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id) DO NOTHING`

	_, err = db.ExecContext(ctx, q,
		b.ClientID, b.TripLocalID, uuidPtrStr(b.TripServerID),
		b.Latitude, b.Longitude, b.Accuracy, b.Speed,
		timeStr(b.CapturedAt), nullStr(b.Source), syncFlag(b.SyncState),
	)
	if err != nil {
		return fmt.Errorf("localstore.Store.AppendBreadcrumb: %w", err)
	}
	return nil
}

// PendingBreadcrumbs lists unsynced samples, oldest first. Pass an empty
// tripLocalID to list across all trips. Empty in degraded mode.
func (s *Store) PendingBreadcrumbs(ctx context.Context, tripLocalID string) ([]domain.Breadcrumb, error) {
	if s.db == nil {
		return nil, nil
	}

	q := `SELECT client_id, trip_local_id, trip_server_id, latitude, longitude,
	             accuracy, speed, captured_at, source, synced
	      FROM breadcrumbs WHERE synced = 0`
	args := []any{}
	if tripLocalID != "" {
		q += ` AND trip_local_id = ?`
		args = append(args, tripLocalID)
	}
	q += ` ORDER BY captured_at ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("localstore.Store.PendingBreadcrumbs: %w", err)
	}
	defer rows.Close()

	var out []domain.Breadcrumb
	for rows.Next() {
		b, err := scanBreadcrumb(rows)
		if err != nil {
			return nil, fmt.Errorf("localstore.Store.PendingBreadcrumbs: scan: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore.Store.PendingBreadcrumbs: rows: %w", err)
	}
	return out, nil
}

// CountBreadcrumbs returns how many samples exist for a trip, synced or not.
func (s *Store) CountBreadcrumbs(ctx context.Context, tripLocalID string) (int, error) {
	if s.db == nil {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM breadcrumbs WHERE trip_local_id = ?`, tripLocalID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("localstore.Store.CountBreadcrumbs: %w", err)
	}
	return n, nil
}

// MarkBreadcrumbsSynced flags the given samples as confirmed remote.
// The rows are kept — not deleted — so a later failed server write can
// always be reconciled against the local copy.
func (s *Store) MarkBreadcrumbsSynced(ctx context.Context, clientIDs []string) error {
	if len(clientIDs) == 0 {
		return nil
	}
	db, err := s.requireDB("MarkBreadcrumbsSynced")
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore.Store.MarkBreadcrumbsSynced: begin: %w", err)
	}
	defer tx.Rollback()

	for _, id := range clientIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE breadcrumbs SET synced = 1 WHERE client_id = ?`, id); err != nil {
			return fmt.Errorf("localstore.Store.MarkBreadcrumbsSynced: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("localstore.Store.MarkBreadcrumbsSynced: commit: %w", err)
	}
	return nil
}

// --- reference data ---------------------------------------------------------

// ReplaceDrivers atomically replaces the driver mirror (delete-all-then-
// reinsert). Reference data is remote-authoritative, so there are no
// partial-update semantics to preserve.
func (s *Store) ReplaceDrivers(ctx context.Context, drivers []domain.Driver) error {
	db, err := s.requireDB("ReplaceDrivers")
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore.Store.ReplaceDrivers: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM drivers`); err != nil {
		return fmt.Errorf("localstore.Store.ReplaceDrivers: clear: %w", err)
	}
	for _, d := range drivers {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO drivers (id, badge, full_name, role) VALUES (?, ?, ?, ?)`,
			d.ID, d.Badge, d.FullName, nullStr(d.Role))
		if err != nil {
			return fmt.Errorf("localstore.Store.ReplaceDrivers: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("localstore.Store.ReplaceDrivers: commit: %w", err)
	}
	return nil
}

// ListDrivers returns the driver mirror, optionally filtered by a substring
// match on name or badge (offline autocomplete). Empty in degraded mode.
func (s *Store) ListDrivers(ctx context.Context, filter string) ([]domain.Driver, error) {
	if s.db == nil {
		return nil, nil
	}

	q := `SELECT id, badge, full_name, COALESCE(role, '') FROM drivers`
	args := []any{}
	if filter != "" {
		q += ` WHERE full_name LIKE ? OR badge LIKE ?`
		pat := "%" + filter + "%"
		args = append(args, pat, pat)
	}
	q += ` ORDER BY full_name`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("localstore.Store.ListDrivers: %w", err)
	}
	defer rows.Close()

	var out []domain.Driver
	for rows.Next() {
		var d domain.Driver
		if err := rows.Scan(&d.ID, &d.Badge, &d.FullName, &d.Role); err != nil {
			return nil, fmt.Errorf("localstore.Store.ListDrivers: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore.Store.ListDrivers: rows: %w", err)
	}
	return out, nil
}

// ReplaceVehicles atomically replaces the vehicle mirror.
func (s *Store) ReplaceVehicles(ctx context.Context, vehicles []domain.Vehicle) error {
	db, err := s.requireDB("ReplaceVehicles")
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore.Store.ReplaceVehicles: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vehicles`); err != nil {
		return fmt.Errorf("localstore.Store.ReplaceVehicles: clear: %w", err)
	}
	for _, v := range vehicles {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO vehicles (id, plate, make, model) VALUES (?, ?, ?, ?)`,
			v.ID, v.Plate, nullStr(v.Make), nullStr(v.Model))
		if err != nil {
			return fmt.Errorf("localstore.Store.ReplaceVehicles: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("localstore.Store.ReplaceVehicles: commit: %w", err)
	}
	return nil
}

// ListVehicles returns the vehicle mirror, optionally filtered by a substring
// match on plate or model. Empty in degraded mode.
func (s *Store) ListVehicles(ctx context.Context, filter string) ([]domain.Vehicle, error) {
	if s.db == nil {
		return nil, nil
	}

	q := `SELECT id, plate, COALESCE(make, ''), COALESCE(model, '') FROM vehicles`
	args := []any{}
	if filter != "" {
		q += ` WHERE plate LIKE ? OR model LIKE ?`
		pat := "%" + filter + "%"
		args = append(args, pat, pat)
	}
	q += ` ORDER BY plate`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("localstore.Store.ListVehicles: %w", err)
	}
	defer rows.Close()

	var out []domain.Vehicle
	for rows.Next() {
		var v domain.Vehicle
		if err := rows.Scan(&v.ID, &v.Plate, &v.Make, &v.Model); err != nil {
			return nil, fmt.Errorf("localstore.Store.ListVehicles: scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore.Store.ListVehicles: rows: %w", err)
	}
	return out, nil
}

// --- mapping helpers --------------------------------------------------------

const selectTrips = `
	SELECT local_id, server_id, device_id, driver_id, vehicle_id,
	       rented_plate, rented_model, rented_company,
	       initial_km, final_km, start_time, end_time,
	       start_latitude, start_longitude, end_latitude, end_longitude,
	       duration_seconds, origin, destination, reason, notes,
	       driver_photo, photos, status, synced, created_at, updated_at
	FROM trips`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanTrip maps one trips row into a domain.Trip, converting the TEXT
// timestamp columns and JSON photo columns back into their typed forms.
func scanTrip(s scanner) (domain.Trip, error) {
	var (
		t                                    domain.Trip
		serverID                             sql.NullString
		vehicleID                            sql.NullString
		rentedPlate, rentedModel, rentedComp sql.NullString
		startTime                            string
		endTime                              sql.NullString
		origin, destination, reason, notes   sql.NullString
		driverPhoto, photos                  sql.NullString
		status                               string
		synced                               int
		createdAt, updatedAt                 string
	)

	err := s.Scan(
		&t.LocalID, &serverID, &t.DeviceID, &t.DriverID, &vehicleID,
		&rentedPlate, &rentedModel, &rentedComp,
		&t.InitialKm, &t.FinalKm, &startTime, &endTime,
		&t.StartLat, &t.StartLng, &t.EndLat, &t.EndLng,
		&t.DurationSeconds, &origin, &destination, &reason, &notes,
		&driverPhoto, &photos, &status, &synced, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Trip{}, domain.ErrNotFound
		}
		return domain.Trip{}, err
	}

	if serverID.Valid {
		id, err := uuid.Parse(serverID.String)
		if err != nil {
			return domain.Trip{}, fmt.Errorf("parse server_id: %w", err)
		}
		t.ServerID = &id
	}
	t.VehicleID = vehicleID.String
	if rentedPlate.Valid {
		t.Rented = &domain.RentedVehicle{
			Plate:   rentedPlate.String,
			Model:   rentedModel.String,
			Company: rentedComp.String,
		}
	}
	if t.StartTime, err = parseTime(startTime); err != nil {
		return domain.Trip{}, fmt.Errorf("parse start_time: %w", err)
	}
	if endTime.Valid {
		et, err := parseTime(endTime.String)
		if err != nil {
			return domain.Trip{}, fmt.Errorf("parse end_time: %w", err)
		}
		t.EndTime = &et
	}
	t.Origin = origin.String
	t.Destination = destination.String
	t.Reason = reason.String
	t.Notes = notes.String
	if driverPhoto.Valid && driverPhoto.String != "" {
		var p domain.PhotoRef
		if err := json.Unmarshal([]byte(driverPhoto.String), &p); err != nil {
			return domain.Trip{}, fmt.Errorf("parse driver_photo: %w", err)
		}
		t.DriverPhoto = &p
	}
	if photos.Valid && photos.String != "" {
		if err := json.Unmarshal([]byte(photos.String), &t.Photos); err != nil {
			return domain.Trip{}, fmt.Errorf("parse photos: %w", err)
		}
	}
	t.Status = domain.TripStatus(status)
	if synced == 1 {
		t.SyncState = domain.SyncSynced
	} else {
		t.SyncState = domain.SyncPending
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Trip{}, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Trip{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return t, nil
}

func collectTrips(rows *sql.Rows, op string) ([]domain.Trip, error) {
	var out []domain.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("localstore.Store.%s: scan: %w", op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore.Store.%s: rows: %w", op, err)
	}
	return out, nil
}

func scanBreadcrumb(s scanner) (domain.Breadcrumb, error) {
	var (
		b            domain.Breadcrumb
		tripServerID sql.NullString
		capturedAt   string
		source       sql.NullString
		synced       int
	)
	err := s.Scan(&b.ClientID, &b.TripLocalID, &tripServerID,
		&b.Latitude, &b.Longitude, &b.Accuracy, &b.Speed,
		&capturedAt, &source, &synced)
	if err != nil {
		return domain.Breadcrumb{}, err
	}
	if tripServerID.Valid {
		id, err := uuid.Parse(tripServerID.String)
		if err != nil {
			return domain.Breadcrumb{}, fmt.Errorf("parse trip_server_id: %w", err)
		}
		b.TripServerID = &id
	}
	if b.CapturedAt, err = parseTime(capturedAt); err != nil {
		return domain.Breadcrumb{}, fmt.Errorf("parse captured_at: %w", err)
	}
	b.Source = source.String
	if synced == 1 {
		b.SyncState = domain.SyncSynced
	} else {
		b.SyncState = domain.SyncPending
	}
	return b, nil
}

func marshalPhotos(t domain.Trip) (driverPhoto, photos any, err error) {
	driverPhoto, photos = nil, nil
	if t.DriverPhoto != nil {
		raw, err := json.Marshal(t.DriverPhoto)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal driver photo: %w", err)
		}
		driverPhoto = string(raw)
	}
	if len(t.Photos) > 0 {
		raw, err := json.Marshal(t.Photos)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal photos: %w", err)
		}
		photos = string(raw)
	}
	return driverPhoto, photos, nil
}

// timeStr serializes timestamps as RFC 3339 UTC text, the same format the
// schema defaults produce, so lexical ordering equals chronological ordering.
func timeStr(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05.000Z") }

func timePtrStr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeStr(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func uuidPtrStr(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

// syncFlag maps the domain sync state onto the INTEGER synced column.
func syncFlag(st domain.SyncState) int {
	if st == domain.SyncSynced {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rentedField(r *domain.RentedVehicle, f func(*domain.RentedVehicle) string) any {
	if r == nil {
		return nil
	}
	if v := f(r); v != "" {
		return v
	}
	return nil
}
