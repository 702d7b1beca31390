package handler

import (
	"net/http"

	"github.com/fieldops/tripsync/spec"
)

// Health handles GET /healthz. It reports process liveness only; degraded
// dependencies (offline, local store unavailable) are visible on /status,
// not here, because the agent is designed to keep running through them.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// OpenAPI handles GET /openapi.yaml, serving the embedded API specification.
func (s *Server) OpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(spec.OpenAPI)
}
