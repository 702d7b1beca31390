package breadcrumb

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldops/tripsync/internal/location"
)

// Pipeline runs the three capture strategies for the duration of one active
// trip:
//
//   - a continuous watch subscription on the foreground provider, accuracy
//     loosened for resilience;
//   - a fallback interval timer that forces a capture through the location
//     ladder when the watch has gone quiet, with one retry after a short
//     delay;
//   - the platform background watcher, which keeps delivering while the
//     app is suspended.
//
// All three feed the same Sink; the sink's throttle is what keeps their
// overlap from double-writing. The pipeline starts when a trip enters
// IN_PROGRESS and must be stopped unconditionally when the trip leaves that
// state — no strategy may outlive its owning trip.
type Pipeline struct {
	provider   location.Provider
	background location.BackgroundWatcher // may be nil when the platform has none
	ladder     *location.Ladder
	sink       *Sink
	interval   time.Duration // fallback timer period
	retryDelay time.Duration
	log        *slog.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	stopWatch func()
	bgID      string
}

// ErrAlreadyRunning is returned by Start when the pipeline is already
// capturing for a trip.
var ErrAlreadyRunning = errors.New("breadcrumb pipeline already running")

// NewPipeline wires a Pipeline. background may be nil.
func NewPipeline(provider location.Provider, background location.BackgroundWatcher, ladder *location.Ladder, sink *Sink, interval time.Duration, log *slog.Logger) *Pipeline {
	return &Pipeline{
		provider:   provider,
		background: background,
		ladder:     ladder,
		sink:       sink,
		interval:   interval,
		retryDelay: 5 * time.Second,
		log:        log,
	}
}

// Start launches all three capture strategies. A failure to start one
// strategy is logged and tolerated — the remaining strategies still provide
// coverage — but a second Start without a Stop is refused.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	// Strategy 1: continuous watch.
	stopWatch, err := p.provider.Watch(location.Options{HighAccuracy: false}, func(pos location.Position) {
		p.ladder.Remember(pos)
		p.sink.Persist(runCtx, pos, "watch")
	})
	if err != nil {
		p.log.Warn("continuous watch unavailable", "error", err)
		stopWatch = func() {}
	}
	p.stopWatch = stopWatch

	// Strategy 2: fallback interval timer.
	go p.runFallback(runCtx)

	// Strategy 3: platform background watcher.
	if p.background != nil {
		id, err := p.background.AddWatcher(func(pos location.Position) {
			p.ladder.Remember(pos)
			p.sink.Persist(runCtx, pos, "background")
		})
		if err != nil {
			p.log.Warn("background watcher unavailable", "error", err)
		} else {
			p.bgID = id
		}
	}

	p.running = true
	p.log.Info("breadcrumb capture started", "interval", p.interval.String())
	return nil
}

// Stop releases all three strategies. Each resource is released
// independently — a failure on one never skips the others — and Stop is safe
// to call when the pipeline is not running.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.stopWatch != nil {
		p.stopWatch()
		p.stopWatch = nil
	}
	if p.background != nil && p.bgID != "" {
		if err := p.background.RemoveWatcher(p.bgID); err != nil {
			p.log.Warn("background watcher release failed", "id", p.bgID, "error", err)
		}
		p.bgID = ""
	}

	p.running = false
	p.log.Info("breadcrumb capture stopped")
}

// Running reports whether the pipeline is currently capturing.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Resume clears the sink's throttle clock and forces an immediate capture
// attempt. Called when the app returns from suspension.
func (p *Pipeline) Resume(ctx context.Context) {
	p.sink.Reset()
	if pos, err := p.ladder.Acquire(ctx); err == nil {
		p.sink.Persist(ctx, pos, "resume")
	}
}

// runFallback forces a capture whenever the sink has gone quiet for nearly
// a full interval. A failed attempt is retried once after retryDelay, then
// left to the next tick.
func (p *Pipeline) runFallback(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	quiet := p.interval - time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := p.sink.LastAccepted()
			if !last.IsZero() && time.Since(last) < quiet {
				continue
			}
			if p.captureOnce(ctx) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryDelay):
				p.captureOnce(ctx)
			}
		}
	}
}

func (p *Pipeline) captureOnce(ctx context.Context) bool {
	pos, err := p.ladder.Acquire(ctx)
	if err != nil {
		p.log.Debug("fallback capture failed", "error", err)
		return false
	}
	return p.sink.Persist(ctx, pos, "interval")
}
