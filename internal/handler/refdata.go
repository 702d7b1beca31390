package handler

import (
	"net/http"
	"strconv"

	"github.com/fieldops/tripsync/internal/domain"
)

// ListDrivers handles GET /drivers?search= against the offline mirror.
func (s *Server) ListDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := s.local.ListDrivers(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, err)
		return
	}
	if drivers == nil {
		drivers = []domain.Driver{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": drivers})
}

// ListVehicles handles GET /vehicles?search= against the offline mirror.
func (s *Server) ListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.local.ListVehicles(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, err)
		return
	}
	if vehicles == nil {
		vehicles = []domain.Vehicle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": vehicles})
}

// queryInt parses an integer query parameter, returning nil when absent or
// malformed so pagination falls back to its defaults.
func queryInt(r *http.Request, key string) *int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}
