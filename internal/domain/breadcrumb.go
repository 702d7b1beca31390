package domain

import (
	"time"

	"github.com/google/uuid"
)

// Breadcrumb is one timestamped GPS sample associated with an active trip.
// Breadcrumbs are created continuously while a trip is in progress, never
// mutated, synced to the remote store in batches, and retained locally even
// after sync for resilience against failed server writes.
//
// ClientID is generated on the device and acts as the idempotency key for
// the remote insert, so a batch that partially failed can be replayed
// without duplicating samples.
type Breadcrumb struct {
	ClientID string `json:"client_id"`

	// Both trip identities may be populated so consumers can look the
	// sample up regardless of which identity they know.
	TripLocalID  string     `json:"trip_local_id"`
	TripServerID *uuid.UUID `json:"trip_server_id,omitempty"`

	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`

	CapturedAt time.Time `json:"captured_at"`
	// Source tags which capture strategy produced the sample
	// (watch, interval, background). Diagnostic only.
	Source string `json:"source,omitempty"`

	SyncState SyncState `json:"sync_state"`
}

// NewBreadcrumbID returns a fresh client-side breadcrumb identifier.
func NewBreadcrumbID() string { return uuid.NewString() }

// NewLocalID returns a fresh client-generated trip localId. LocalIDs are
// opaque unique tokens, generated at trip start and never reused.
func NewLocalID() string { return uuid.NewString() }
