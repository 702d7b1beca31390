package breadcrumb_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/tripsync/internal/breadcrumb"
	"github.com/fieldops/tripsync/internal/domain"
	"github.com/fieldops/tripsync/internal/location"
)

// memStore collects appended breadcrumbs in memory.
type memStore struct {
	mu   sync.Mutex
	rows []domain.Breadcrumb
	err  error
}

func (m *memStore) AppendBreadcrumb(_ context.Context, b domain.Breadcrumb) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, b)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memStore) at(i int) domain.Breadcrumb {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[i]
}

var _ breadcrumb.Store = (*memStore)(nil)

func activeTrip(localID string) breadcrumb.ActiveTripFunc {
	return func() (domain.TripRef, bool) {
		return domain.TripRef{LocalID: localID, DeviceID: "dev-1"}, true
	}
}

func noActiveTrip() (domain.TripRef, bool) {
	return domain.TripRef{}, false
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func posAt(at time.Time) location.Position {
	return location.Position{Latitude: -23.55, Longitude: -46.63, At: at}
}

// TestSink_Throttle walks a burst of capture attempts through the sink:
// samples at t=0s, 2s, 5s, 9s and 11s with a 10-second throttle must yield
// exactly the t=0s and t=11s rows, regardless of which strategy delivered
// them.
func TestSink_Throttle(t *testing.T) {
	store := &memStore{}
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	sink := breadcrumb.NewSink(store, activeTrip("trip-a"), 10*time.Second, time.Now, discard())

	offsets := []time.Duration{0, 2 * time.Second, 5 * time.Second, 9 * time.Second, 11 * time.Second}
	sources := []string{"watch", "background", "watch", "interval", "watch"}

	var accepted int
	for i, off := range offsets {
		if sink.Persist(context.Background(), posAt(base.Add(off)), sources[i]) {
			accepted++
		}
	}

	assert.Equal(t, 2, accepted)
	require.Equal(t, 2, store.count())
	assert.Equal(t, base, store.at(0).CapturedAt)
	assert.Equal(t, base.Add(11*time.Second), store.at(1).CapturedAt)
}

func TestSink_RejectsWithoutActiveTrip(t *testing.T) {
	store := &memStore{}
	sink := breadcrumb.NewSink(store, noActiveTrip, 10*time.Second, time.Now, discard())

	ok := sink.Persist(context.Background(), posAt(time.Now()), "watch")

	assert.False(t, ok)
	assert.Zero(t, store.count())
}

func TestSink_NewTripResetsThrottle(t *testing.T) {
	store := &memStore{}
	base := time.Now()

	current := "trip-a"
	active := func() (domain.TripRef, bool) {
		return domain.TripRef{LocalID: current}, true
	}
	sink := breadcrumb.NewSink(store, active, 10*time.Second, time.Now, discard())

	require.True(t, sink.Persist(context.Background(), posAt(base), "watch"))
	require.False(t, sink.Persist(context.Background(), posAt(base.Add(time.Second)), "watch"))

	// A different trip is not throttled by the previous trip's samples.
	current = "trip-b"
	assert.True(t, sink.Persist(context.Background(), posAt(base.Add(2*time.Second)), "watch"))
}

func TestSink_StoreErrorDropsSample(t *testing.T) {
	store := &memStore{err: domain.ErrStoreUnavailable}
	base := time.Now()
	sink := breadcrumb.NewSink(store, activeTrip("trip-a"), 10*time.Second, time.Now, discard())

	ok := sink.Persist(context.Background(), posAt(base), "watch")

	assert.False(t, ok)
	// The failed write must not advance the throttle clock; the next
	// attempt should go straight through once the store recovers.
	store.err = nil
	assert.True(t, sink.Persist(context.Background(), posAt(base.Add(time.Second)), "interval"))
}

func TestSink_ResetClearsThrottle(t *testing.T) {
	store := &memStore{}
	base := time.Now()
	sink := breadcrumb.NewSink(store, activeTrip("trip-a"), 10*time.Second, time.Now, discard())

	require.True(t, sink.Persist(context.Background(), posAt(base), "watch"))
	require.False(t, sink.Persist(context.Background(), posAt(base.Add(time.Second)), "watch"))

	sink.Reset()

	assert.True(t, sink.Persist(context.Background(), posAt(base.Add(2*time.Second)), "resume"))
	assert.Equal(t, 2, store.count())
}

func TestSink_FillsMissingCaptureTime(t *testing.T) {
	store := &memStore{}
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sink := breadcrumb.NewSink(store, activeTrip("trip-a"), 10*time.Second, func() time.Time { return fixed }, discard())

	require.True(t, sink.Persist(context.Background(), location.Position{Latitude: 1, Longitude: 2}, "watch"))

	require.Equal(t, 1, store.count())
	assert.Equal(t, fixed, store.at(0).CapturedAt)
	assert.Equal(t, domain.SyncPending, store.at(0).SyncState)
	assert.NotEmpty(t, store.at(0).ClientID)
}
