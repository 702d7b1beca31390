package location

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fieldops/tripsync/internal/domain"
)

// Feed is a Provider and BackgroundWatcher fed by fixes pushed from outside
// the process — the platform location daemon posts each GPS fix to the
// agent's HTTP API, and the API publishes it here.
//
// Current with a low accuracy hint is satisfied immediately by a
// sufficiently fresh cached fix (the "fast" ladder rung); a high accuracy
// hint waits for the next live fix to arrive (the "precise" rung).
type Feed struct {
	maxAge time.Duration

	mu      sync.Mutex
	last    *Position
	subs    map[string]func(Position)
	nextID  int
	waiters []chan Position
}

// NewFeed builds a Feed. maxAge bounds how stale a cached fix may be and
// still satisfy a low-accuracy Current call.
func NewFeed(maxAge time.Duration) *Feed {
	return &Feed{maxAge: maxAge, subs: make(map[string]func(Position))}
}

// Publish delivers a fix to the cache, all watch subscribers, and any
// Current calls blocked waiting for a live fix.
func (f *Feed) Publish(pos Position) {
	if pos.At.IsZero() {
		pos.At = time.Now()
	}

	f.mu.Lock()
	p := pos
	f.last = &p
	fns := make([]func(Position), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	waiters := f.waiters
	f.waiters = nil
	f.mu.Unlock()

	// Callbacks run outside the lock; a slow subscriber must not block
	// Publish or other subscribers' registration.
	for _, fn := range fns {
		fn(pos)
	}
	for _, w := range waiters {
		w <- pos
	}
}

// Current implements Provider.
func (f *Feed) Current(ctx context.Context, opts Options) (Position, error) {
	f.mu.Lock()
	if !opts.HighAccuracy && f.last != nil && time.Since(f.last.At) <= f.maxAge {
		pos := *f.last
		f.mu.Unlock()
		return pos, nil
	}
	w := make(chan Position, 1)
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pos := <-w:
		return pos, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	f.dropWaiter(w)
	return Position{}, fmt.Errorf("location.Feed.Current: %w", domain.ErrNoLocation)
}

// Watch implements Provider. The returned disposer is idempotent.
func (f *Feed) Watch(_ Options, fn func(Position)) (func(), error) {
	f.mu.Lock()
	f.nextID++
	id := "watch-" + strconv.Itoa(f.nextID)
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}, nil
}

// AddWatcher implements BackgroundWatcher on the same fix stream.
func (f *Feed) AddWatcher(fn func(Position)) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "bg-" + strconv.Itoa(f.nextID)
	f.subs[id] = fn
	return id, nil
}

// RemoveWatcher implements BackgroundWatcher. Unknown ids are a no-op.
func (f *Feed) RemoveWatcher(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
	return nil
}

func (f *Feed) dropWaiter(w chan Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, other := range f.waiters {
		if other == w {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			break
		}
	}
}
