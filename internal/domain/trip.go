// Package domain contains the core data types for the trip synchronization
// engine. This package has zero external dependencies beyond uuid/time and is
// imported by every other internal package (localstore, remotestore,
// lifecycle, breadcrumb, syncer, handler).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// TripStatus is the lifecycle state of a trip as persisted in either store.
// The transient STARTING/ENDING states of the lifecycle manager are never
// persisted; only the stable states below reach a store.
type TripStatus string

const (
	// StatusInProgress marks a trip that has started and not yet ended.
	StatusInProgress TripStatus = "in_progress"
	// StatusFinalized marks a trip whose end odometer and end time are recorded.
	StatusFinalized TripStatus = "finalized"
)

// SyncState records whether a local record has been confirmed present in the
// remote authoritative store.
type SyncState string

const (
	// SyncPending means the record exists only (or primarily) locally.
	SyncPending SyncState = "pending"
	// SyncSynced means the record has been confirmed written remotely.
	SyncSynced SyncState = "synced"
)

// RentedVehicle describes a vehicle that is not part of the fleet master
// data. A trip references either a fleet VehicleID or a RentedVehicle,
// never both.
type RentedVehicle struct {
	Plate   string `json:"plate"`
	Model   string `json:"model"`
	Company string `json:"company,omitempty"`
}

// PhotoRef is a photo attached to a trip. While the device is offline the
// image bytes are cached inline in Data; after a successful upload URL holds
// the public object-store location and Data is dropped. Readers must accept
// either form.
type PhotoRef struct {
	URL  string `json:"url,omitempty"`
	Data []byte `json:"data,omitempty"` // raw image bytes, base64 in JSON
}

// Uploaded reports whether the photo has been pushed to the object store.
func (p PhotoRef) Uploaded() bool { return p.URL != "" }

// Trip is the central entity: one driver/vehicle journey from start odometer
// to end odometer.
//
// Identity is double-keyed: LocalID is generated on the device at trip start
// and never reused; ServerID is assigned by the remote store on first
// successful creation there. LocalID — not ServerID — is the natural key for
// deduplication on the remote side, which is what makes replaying the same
// trip payload idempotent.
type Trip struct {
	LocalID  string     `json:"local_id"`
	ServerID *uuid.UUID `json:"server_id,omitempty"` // nil until the remote store has the record
	DeviceID string     `json:"device_id"`

	DriverID  string         `json:"driver_id"`
	VehicleID string         `json:"vehicle_id,omitempty"` // empty when Rented is set
	Rented    *RentedVehicle `json:"rented,omitempty"`     // nil when VehicleID is set

	InitialKm float64  `json:"initial_km"`
	FinalKm   *float64 `json:"final_km,omitempty"` // nil until the trip ends

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	StartLat *float64 `json:"start_latitude,omitempty"`
	StartLng *float64 `json:"start_longitude,omitempty"`
	EndLat   *float64 `json:"end_latitude,omitempty"`
	EndLng   *float64 `json:"end_longitude,omitempty"`

	// DurationSeconds is recomputed from StartTime whenever the trip is
	// observed, never accumulated by an in-memory counter, so suspension or
	// process death cannot corrupt it.
	DurationSeconds int64 `json:"duration_seconds"`

	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Notes       string `json:"notes,omitempty"`

	DriverPhoto *PhotoRef  `json:"driver_photo,omitempty"`
	Photos      []PhotoRef `json:"photos,omitempty"`

	Status    TripStatus `json:"status"`
	SyncState SyncState  `json:"sync_state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ref returns the identity pair used by readers of the active trip
// (breadcrumb pipeline, sync engine).
func (t *Trip) Ref() TripRef {
	return TripRef{LocalID: t.LocalID, ServerID: t.ServerID, DeviceID: t.DeviceID}
}

// Active reports whether the trip is still being tracked.
func (t *Trip) Active() bool { return t.Status == StatusInProgress }

// PendingPhotos counts the photos (driver photo included) that still carry
// inline bytes and need an object-store upload.
func (t *Trip) PendingPhotos() int {
	n := 0
	if t.DriverPhoto != nil && !t.DriverPhoto.Uploaded() {
		n++
	}
	for _, p := range t.Photos {
		if !p.Uploaded() {
			n++
		}
	}
	return n
}

// TripRef is the narrow, read-only identity of the currently active trip.
// The lifecycle manager is the sole writer of the active trip; everything
// else observes it through this value.
type TripRef struct {
	LocalID  string
	ServerID *uuid.UUID
	DeviceID string
}
