package handler

import (
	"net/http"
	"time"
)

// RunSync handles POST /sync: an explicit user-requested sync pass. The
// response carries the aggregate result even when some steps failed — the
// client shows partial progress, not a bare error.
func (s *Server) RunSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.sync.Sync(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statusResponse is the GET /status body: the device's view of its own
// health, for the client's status bar.
type statusResponse struct {
	DeviceID        string     `json:"device_id"`
	DeviceCode      string     `json:"device_code,omitempty"`
	Online          bool       `json:"online"`
	LocalStore      bool       `json:"local_store_available"`
	TripState       string     `json:"trip_state"`
	ActiveTripID    string     `json:"active_trip_id,omitempty"`
	TripBreadcrumbs int        `json:"trip_breadcrumbs,omitempty"`
	SyncRunning     bool       `json:"sync_running"`
	LastSync        *time.Time `json:"last_sync,omitempty"`
}

// Status handles GET /status.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		DeviceID:    s.deviceID,
		DeviceCode:  s.deviceCode,
		Online:      s.conn.Online(),
		LocalStore:  s.local.Available(),
		TripState:   string(s.trips.State()),
		SyncRunning: s.sync.Running(),
	}

	if trip, ok := s.trips.ActiveTrip(); ok {
		resp.ActiveTripID = trip.LocalID
		if n, err := s.local.CountBreadcrumbs(r.Context(), trip.LocalID); err == nil {
			resp.TripBreadcrumbs = n
		}
	}
	if last, ok := s.sync.LastSync(); ok {
		resp.LastSync = &last
	}

	writeJSON(w, http.StatusOK, resp)
}
