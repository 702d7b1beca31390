package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fieldops/tripsync/internal/location"
)

// positionRequest is a GPS fix pushed by the platform location service.
type positionRequest struct {
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Accuracy   *float64   `json:"accuracy,omitempty"`
	Speed      *float64   `json:"speed,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

// PublishPosition handles POST /positions. Fixes flow into the location
// feed, which serves both the capture pipeline's watch subscriptions and
// pending Current calls.
func (s *Server) PublishPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		badRequest(w, "coordinates out of range")
		return
	}

	pos := location.Position{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Accuracy:  req.Accuracy,
		Speed:     req.Speed,
		At:        time.Now(),
	}
	if req.CapturedAt != nil {
		pos.At = *req.CapturedAt
	}

	s.positions.Publish(pos)
	w.WriteHeader(http.StatusAccepted)
}

// connectivityRequest is a connectivity change pushed by the platform.
type connectivityRequest struct {
	Online bool `json:"online"`
}

// SetConnectivity handles POST /connectivity. The monitor's own probing
// still runs; this is the faster push path.
func (s *Server) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	s.conn.SetStatus(req.Online)
	w.WriteHeader(http.StatusNoContent)
}
