package location

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldops/tripsync/internal/domain"
)

// Step is one rung of the acquisition ladder: a named strategy with its own
// accuracy hint and timeout. The ladder is kept as data — an ordered table
// tried in sequence, first success wins — rather than nested error handlers.
type Step struct {
	Name         string
	HighAccuracy bool
	Timeout      time.Duration
}

// DefaultSteps is the standard ladder: a fast low-accuracy attempt, then a
// patient high-accuracy one. The last-known-good cache acts as the implicit
// final rung.
func DefaultSteps() []Step {
	return []Step{
		{Name: "fast", HighAccuracy: false, Timeout: 5 * time.Second},
		{Name: "precise", HighAccuracy: true, Timeout: 15 * time.Second},
	}
}

// Ladder acquires a position by walking an ordered list of strategies and
// falling back to the last successful fix when every strategy fails.
// Safe for concurrent use.
type Ladder struct {
	provider Provider
	steps    []Step
	log      *slog.Logger

	mu        sync.Mutex
	lastKnown *Position
}

// NewLadder builds a Ladder over the given provider. Pass nil steps to use
// DefaultSteps.
func NewLadder(p Provider, steps []Step, log *slog.Logger) *Ladder {
	if steps == nil {
		steps = DefaultSteps()
	}
	return &Ladder{provider: p, steps: steps, log: log}
}

// Acquire walks the ladder and returns the first fix obtained. When every
// step fails it falls back to the last-known-good cache; with an empty cache
// it returns domain.ErrNoLocation.
func (l *Ladder) Acquire(ctx context.Context) (Position, error) {
	for _, step := range l.steps {
		stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
		pos, err := l.provider.Current(stepCtx, Options{HighAccuracy: step.HighAccuracy, Timeout: step.Timeout})
		cancel()
		if err == nil {
			l.Remember(pos)
			return pos, nil
		}
		l.log.Debug("location step failed", "step", step.Name, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	if pos, ok := l.LastKnown(); ok {
		l.log.Warn("all location steps failed, using last known position", "age", time.Since(pos.At).String())
		return pos, nil
	}
	return Position{}, fmt.Errorf("location.Ladder.Acquire: %w", domain.ErrNoLocation)
}

// Remember stores a fix in the last-known-good cache. The watch-based
// capture strategies call this so the cache stays warm even between
// explicit acquisitions.
func (l *Ladder) Remember(pos Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastKnown == nil || pos.At.After(l.lastKnown.At) {
		p := pos
		l.lastKnown = &p
	}
}

// LastKnown returns the cached fix, if any.
func (l *Ladder) LastKnown() (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastKnown == nil {
		return Position{}, false
	}
	return *l.lastKnown, true
}
