package domain

import "errors"

// ErrNotFound is returned by store adapters when the requested record does
// not exist. Handlers map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when input fails business rule validation
// (missing required field, odometer regression, malformed plate).
// No state is mutated when this error is returned.
// Handlers map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrStoreUnavailable is returned by the local store adapter when the
// embedded database could not be opened or initialized. Callers must treat
// it as "offline persistence degraded", not as a fatal condition — except
// where durability is safety-critical (finalizing a trip), where the caller
// surfaces a user-facing failure instead of silently losing the trip.
var ErrStoreUnavailable = errors.New("local store unavailable")

// ErrNoLocation is returned when every strategy in the location fallback
// ladder (fast fix, precise fix, last-known-good cache) has been exhausted.
var ErrNoLocation = errors.New("location unavailable")

// ErrNoActiveTrip is returned by operations that require a trip in progress
// (ending a trip, persisting a breadcrumb) when none is being tracked.
var ErrNoActiveTrip = errors.New("no active trip")

// ErrTripInFlight is returned when a start or end operation is requested
// while another start/end for the same device is still in its transient
// STARTING/ENDING state.
var ErrTripInFlight = errors.New("trip operation already in flight")

// ErrOffline is returned when an operation strictly requires connectivity
// and none is available (e.g. starting a trip with no local store to fall
// back to).
var ErrOffline = errors.New("device is offline")
