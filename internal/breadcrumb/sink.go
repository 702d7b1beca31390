// Package breadcrumb implements the GPS capture pipeline: three concurrent
// capture strategies (continuous watch, fallback interval timer, background
// watcher) feeding one throttled sink that persists samples tagged to the
// active trip.
package breadcrumb

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldops/tripsync/internal/domain"
	"github.com/fieldops/tripsync/internal/location"
)

// Store is the slice of the local store the sink writes through.
type Store interface {
	AppendBreadcrumb(ctx context.Context, b domain.Breadcrumb) error
}

// ActiveTripFunc reports the currently tracked trip. The lifecycle manager
// owns the active-trip reference; the sink only reads it through this
// accessor, as of the moment of each sample.
type ActiveTripFunc func() (domain.TripRef, bool)

// Sink accepts position samples from any capture strategy and persists the
// ones that pass its rules. Throttling is the sole deduplication mechanism
// between the concurrently running strategies, and it is keyed on wall-clock
// capture time — not per-strategy counters — so overlapping strategies
// cannot double-write.
type Sink struct {
	store    Store
	active   ActiveTripFunc
	throttle time.Duration
	now      func() time.Time
	log      *slog.Logger

	mu           sync.Mutex
	lastTrip     string
	lastAccepted time.Time
}

// NewSink builds a Sink. now is the clock used for throttling; pass
// time.Now outside tests.
func NewSink(store Store, active ActiveTripFunc, throttle time.Duration, now func() time.Time, log *slog.Logger) *Sink {
	return &Sink{store: store, active: active, throttle: throttle, now: now, log: log}
}

// Persist records one sample. It rejects — as a logged no-op, never an
// error — when no trip is active or when less than the throttle interval
// has elapsed since the last accepted sample for this trip. Returns whether
// the sample was accepted.
func (s *Sink) Persist(ctx context.Context, pos location.Position, source string) bool {
	ref, ok := s.active()
	if !ok {
		s.log.Debug("breadcrumb rejected, no active trip", "source", source)
		return false
	}

	at := pos.At
	if at.IsZero() {
		at = s.now()
	}

	s.mu.Lock()
	if s.lastTrip == ref.LocalID && !s.lastAccepted.IsZero() && at.Sub(s.lastAccepted) < s.throttle {
		s.mu.Unlock()
		s.log.Debug("breadcrumb rejected, throttled", "source", source, "since_last", at.Sub(s.lastAccepted).String())
		return false
	}
	s.mu.Unlock()

	b := domain.Breadcrumb{
		ClientID:     domain.NewBreadcrumbID(),
		TripLocalID:  ref.LocalID,
		TripServerID: ref.ServerID,
		Latitude:     pos.Latitude,
		Longitude:    pos.Longitude,
		Accuracy:     pos.Accuracy,
		Speed:        pos.Speed,
		CapturedAt:   at,
		Source:       source,
		SyncState:    domain.SyncPending,
	}
	if err := s.store.AppendBreadcrumb(ctx, b); err != nil {
		// Degraded local store or write failure: drop the sample. The
		// fallback timer will try again; never propagate past the sink.
		s.log.Warn("breadcrumb persist failed", "source", source, "error", err)
		return false
	}

	s.mu.Lock()
	s.lastTrip = ref.LocalID
	s.lastAccepted = at
	s.mu.Unlock()

	s.log.Debug("breadcrumb captured", "source", source, "lat", pos.Latitude, "lng", pos.Longitude)
	return true
}

// LastAccepted returns when the sink last accepted a sample. Zero when it
// never has (or since the last Reset).
func (s *Sink) LastAccepted() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccepted
}

// Reset clears the throttle clock so the next sample is accepted
// immediately. Called on app resume: a stale throttle timestamp carried
// across a multi-minute suspension would otherwise delay the first
// post-resume sample for no reason.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccepted = time.Time{}
}
