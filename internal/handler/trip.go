package handler

import (
	"encoding/json"
	"net/http"

	"github.com/fieldops/tripsync/internal/domain"
	"github.com/fieldops/tripsync/internal/lifecycle"
)

// startTripRequest is the POST /trips/start body. Photos arrive as base64
// bytes (offline-first: they are cached locally and uploaded later) or as
// already-public URLs.
type startTripRequest struct {
	DriverID    string                `json:"driver_id"`
	VehicleID   string                `json:"vehicle_id,omitempty"`
	Rented      *domain.RentedVehicle `json:"rented,omitempty"`
	InitialKm   float64               `json:"initial_km"`
	Origin      string                `json:"origin,omitempty"`
	Destination string                `json:"destination,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	DriverPhoto *domain.PhotoRef      `json:"driver_photo,omitempty"`
	Photos      []domain.PhotoRef     `json:"photos,omitempty"`
}

// endTripRequest is the POST /trips/end body.
type endTripRequest struct {
	FinalKm float64           `json:"final_km"`
	Notes   string            `json:"notes,omitempty"`
	Photos  []domain.PhotoRef `json:"photos,omitempty"`
}

// StartTrip handles POST /trips/start.
func (s *Server) StartTrip(w http.ResponseWriter, r *http.Request) {
	var req startTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	trip, err := s.trips.StartTrip(r.Context(), lifecycle.StartInput{
		DriverID:    req.DriverID,
		VehicleID:   req.VehicleID,
		Rented:      req.Rented,
		InitialKm:   req.InitialKm,
		Origin:      req.Origin,
		Destination: req.Destination,
		Reason:      req.Reason,
		DriverPhoto: req.DriverPhoto,
		Photos:      req.Photos,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, trip)
}

// EndTrip handles POST /trips/end.
func (s *Server) EndTrip(w http.ResponseWriter, r *http.Request) {
	var req endTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	trip, err := s.trips.EndTrip(r.Context(), lifecycle.EndInput{
		FinalKm: req.FinalKm,
		Notes:   req.Notes,
		Photos:  req.Photos,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trip)
}

// ResumeTrip handles POST /trips/resume: the platform signals that the app
// returned from suspension and any interrupted trip should be reconciled.
func (s *Server) ResumeTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.trips.Resume(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if trip == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// ActiveTrip handles GET /trips/active.
func (s *Server) ActiveTrip(w http.ResponseWriter, _ *http.Request) {
	trip, ok := s.trips.ActiveTrip()
	if !ok {
		writeError(w, domain.ErrNoActiveTrip)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// AddPhoto handles POST /trips/photos, attaching a photo to the active trip.
func (s *Server) AddPhoto(w http.ResponseWriter, r *http.Request) {
	var photo domain.PhotoRef
	if err := json.NewDecoder(r.Body).Decode(&photo); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if len(photo.Data) == 0 && photo.URL == "" {
		badRequest(w, "photo data or url is required")
		return
	}

	if err := s.trips.AddPhoto(r.Context(), photo); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTrips handles GET /trips against the local mirror.
// Supports ?page= and ?limit= query parameters (defaults: page=1, limit=20, max=100).
func (s *Server) ListTrips(w http.ResponseWriter, r *http.Request) {
	params := domain.NewPaginationParams(queryInt(r, "page"), queryInt(r, "limit"))
	trips, total, err := s.local.ListTrips(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}

	if trips == nil {
		trips = []domain.Trip{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": trips,
		"pagination": map[string]int{
			"page":  params.Page,
			"limit": params.Limit,
			"total": total,
		},
	})
}
