package location_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/tripsync/internal/domain"
	"github.com/fieldops/tripsync/internal/location"
)

// mockProvider is a hand-written test double for location.Provider.
// Set only the function fields your test needs.
type mockProvider struct {
	current func(ctx context.Context, opts location.Options) (location.Position, error)
	watch   func(opts location.Options, fn func(location.Position)) (func(), error)
}

func (m *mockProvider) Current(ctx context.Context, opts location.Options) (location.Position, error) {
	return m.current(ctx, opts)
}

func (m *mockProvider) Watch(opts location.Options, fn func(location.Position)) (func(), error) {
	return m.watch(opts, fn)
}

var _ location.Provider = (*mockProvider)(nil)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fix(lat, lng float64) location.Position {
	return location.Position{Latitude: lat, Longitude: lng, At: time.Now()}
}

func TestLadder_FirstStepWins(t *testing.T) {
	var attempts []bool
	p := &mockProvider{
		current: func(_ context.Context, opts location.Options) (location.Position, error) {
			attempts = append(attempts, opts.HighAccuracy)
			return fix(-23.5, -46.6), nil
		},
	}
	l := location.NewLadder(p, nil, discard())

	pos, err := l.Acquire(context.Background())

	require.NoError(t, err)
	assert.Equal(t, -23.5, pos.Latitude)
	// Only the fast low-accuracy rung should have run.
	assert.Equal(t, []bool{false}, attempts)
}

func TestLadder_FallsThroughToPrecise(t *testing.T) {
	var attempts []bool
	p := &mockProvider{
		current: func(_ context.Context, opts location.Options) (location.Position, error) {
			attempts = append(attempts, opts.HighAccuracy)
			if !opts.HighAccuracy {
				return location.Position{}, errors.New("fast fix timed out")
			}
			return fix(-23.5, -46.6), nil
		},
	}
	l := location.NewLadder(p, nil, discard())

	pos, err := l.Acquire(context.Background())

	require.NoError(t, err)
	assert.Equal(t, -23.5, pos.Latitude)
	assert.Equal(t, []bool{false, true}, attempts, "fast rung tried before precise")
}

func TestLadder_UsesLastKnownWhenAllFail(t *testing.T) {
	p := &mockProvider{
		current: func(_ context.Context, _ location.Options) (location.Position, error) {
			return location.Position{}, errors.New("gps cold")
		},
	}
	l := location.NewLadder(p, nil, discard())
	cached := fix(-20, -40)
	l.Remember(cached)

	pos, err := l.Acquire(context.Background())

	require.NoError(t, err)
	assert.Equal(t, cached.Latitude, pos.Latitude)
}

func TestLadder_NoLocationWhenExhausted(t *testing.T) {
	p := &mockProvider{
		current: func(_ context.Context, _ location.Options) (location.Position, error) {
			return location.Position{}, errors.New("gps cold")
		},
	}
	l := location.NewLadder(p, nil, discard())

	_, err := l.Acquire(context.Background())

	assert.ErrorIs(t, err, domain.ErrNoLocation)
}

func TestLadder_RememberKeepsNewest(t *testing.T) {
	l := location.NewLadder(&mockProvider{}, nil, discard())

	newer := location.Position{Latitude: 1, At: time.Now()}
	older := location.Position{Latitude: 2, At: time.Now().Add(-time.Hour)}
	l.Remember(newer)
	l.Remember(older) // must not overwrite the fresher fix

	got, ok := l.LastKnown()
	require.True(t, ok)
	assert.Equal(t, newer.Latitude, got.Latitude)
}

func TestLadder_CustomSteps(t *testing.T) {
	var names int
	p := &mockProvider{
		current: func(_ context.Context, _ location.Options) (location.Position, error) {
			names++
			return location.Position{}, errors.New("nope")
		},
	}
	steps := []location.Step{
		{Name: "a", Timeout: time.Second},
		{Name: "b", Timeout: time.Second},
		{Name: "c", Timeout: time.Second},
	}
	l := location.NewLadder(p, steps, discard())

	_, err := l.Acquire(context.Background())

	assert.ErrorIs(t, err, domain.ErrNoLocation)
	assert.Equal(t, 3, names, "every configured rung is tried once")
}
