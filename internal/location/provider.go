// Package location defines the boundary to the platform's positioning
// services and the fallback logic for acquiring a fix. The GPS hardware and
// its permission model live outside the core; the core consumes them through
// the Provider and BackgroundWatcher interfaces defined here.
package location

import (
	"context"
	"time"
)

// Position is a single geographic fix.
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"` // metres, when the source reports it
	Speed     *float64  `json:"speed,omitempty"`    // m/s, when the source reports it
	At        time.Time `json:"at"`
}

// Options tunes a single acquisition attempt.
type Options struct {
	// HighAccuracy requests a precise (slow) fix instead of a fast
	// coarse one.
	HighAccuracy bool
	// Timeout bounds how long the attempt may take.
	Timeout time.Duration
}

// Provider acquires positions from the platform's foreground location
// service.
type Provider interface {
	// Current returns one fix, waiting up to opts.Timeout. Implementations
	// return domain.ErrNoLocation when no fix can be produced in time.
	Current(ctx context.Context, opts Options) (Position, error)

	// Watch subscribes fn to a continuous stream of fixes and returns a
	// disposer that releases the subscription. The disposer is safe to call
	// more than once and must be called on every exit path of the
	// subscriber's lifecycle.
	Watch(opts Options, fn func(Position)) (func(), error)
}

// BackgroundWatcher is the platform background-location service: it keeps
// delivering fixes while the application is suspended.
type BackgroundWatcher interface {
	// AddWatcher registers fn and returns an id for later removal.
	AddWatcher(fn func(Position)) (string, error)
	// RemoveWatcher releases the watcher. Unknown ids are a no-op.
	RemoveWatcher(id string) error
}
