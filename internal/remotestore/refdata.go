package remotestore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fieldops/tripsync/internal/domain"
)

// RefDataStore reads the remote-authoritative master data that the agent
// mirrors locally for offline lookup. The agent never writes master data.
type RefDataStore interface {
	// ListDrivers returns all drivers ordered by name.
	ListDrivers(ctx context.Context) ([]domain.Driver, error)
	// ListVehicles returns all fleet vehicles ordered by plate.
	ListVehicles(ctx context.Context) ([]domain.Vehicle, error)
}

type pgRefDataStore struct {
	db db
}

// NewRefDataStore constructs a RefDataStore backed by the provided db connection.
func NewRefDataStore(db db) RefDataStore {
	return &pgRefDataStore{db: db}
}

func (r *pgRefDataStore) ListDrivers(ctx context.Context) ([]domain.Driver, error) {
	const q = `SELECT id, badge, full_name, COALESCE(role, '') FROM drivers ORDER BY full_name`

	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("remotestore.RefDataStore.ListDrivers: %w", err)
	}
	defer rows.Close()

	var drivers []domain.Driver
	for rows.Next() {
		var (
			d  domain.Driver
			id pgtype.UUID
		)
		if err := rows.Scan(&id, &d.Badge, &d.FullName, &d.Role); err != nil {
			return nil, fmt.Errorf("remotestore.RefDataStore.ListDrivers: scan: %w", err)
		}
		d.ID = uuid.UUID(id.Bytes).String()
		drivers = append(drivers, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("remotestore.RefDataStore.ListDrivers: rows: %w", err)
	}
	return drivers, nil
}

func (r *pgRefDataStore) ListVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	const q = `SELECT id, plate, COALESCE(make, ''), COALESCE(model, '') FROM vehicles ORDER BY plate`

	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("remotestore.RefDataStore.ListVehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []domain.Vehicle
	for rows.Next() {
		var (
			v  domain.Vehicle
			id pgtype.UUID
		)
		if err := rows.Scan(&id, &v.Plate, &v.Make, &v.Model); err != nil {
			return nil, fmt.Errorf("remotestore.RefDataStore.ListVehicles: scan: %w", err)
		}
		v.ID = uuid.UUID(id.Bytes).String()
		vehicles = append(vehicles, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("remotestore.RefDataStore.ListVehicles: rows: %w", err)
	}
	return vehicles, nil
}
