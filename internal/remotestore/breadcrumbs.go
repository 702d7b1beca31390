package remotestore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fieldops/tripsync/internal/domain"
)

// BreadcrumbStore pushes position samples to the remote store.
type BreadcrumbStore interface {
	// InsertBatch writes the samples, skipping any whose client_id the
	// server has already seen, and returns how many rows were actually
	// inserted. Idempotent: replaying a partially-failed batch never
	// duplicates samples.
	InsertBatch(ctx context.Context, samples []domain.Breadcrumb) (int, error)
}

type pgBreadcrumbStore struct {
	db db
}

// NewBreadcrumbStore constructs a BreadcrumbStore backed by the provided db connection.
func NewBreadcrumbStore(db db) BreadcrumbStore {
	return &pgBreadcrumbStore{db: db}
}

func (r *pgBreadcrumbStore) InsertBatch(ctx context.Context, samples []domain.Breadcrumb) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	const q = `
		INSERT INTO trip_points (
			client_id, trip_id, trip_local_id,
			latitude, longitude, accuracy, speed, captured_at, source
		) VALUES (
			@client_id, @trip_id, @trip_local_id,
			@latitude, @longitude, @accuracy, @speed, @captured_at, @source
		)
		ON CONFLICT (client_id) DO NOTHING`

	inserted := 0
	for _, b := range samples {
		args := pgx.NamedArgs{
			"client_id":     b.ClientID,
			"trip_id":       b.TripServerID, // nil becomes NULL
			"trip_local_id": b.TripLocalID,
			"latitude":      b.Latitude,
			"longitude":     b.Longitude,
			"accuracy":      b.Accuracy,
			"speed":         b.Speed,
			"captured_at":   b.CapturedAt,
			"source":        textOrNil(b.Source),
		}
		tag, err := r.db.Exec(ctx, q, args)
		if err != nil {
			return inserted, fmt.Errorf("remotestore.BreadcrumbStore.InsertBatch: %s: %w", b.ClientID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
