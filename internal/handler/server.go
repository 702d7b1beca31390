// Package handler implements the HTTP API of the field agent: the boundary
// the driver-facing client talks to for trip lifecycle, positions, sync and
// offline lookups. Methods are split into domain-specific files (trip.go,
// sync.go, refdata.go, ...) but all share the same Server struct so they can
// access its dependencies.
package handler

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldops/tripsync/internal/domain"
	"github.com/fieldops/tripsync/internal/lifecycle"
	"github.com/fieldops/tripsync/internal/location"
	"github.com/fieldops/tripsync/internal/syncer"
)

// TripManager defines the lifecycle operations the handlers depend on.
// Defining the interface here (in the consumer package) follows the Go
// convention: "accept interfaces, return concrete types". It lets handler
// tests inject a mock without a real pipeline or store behind it.
type TripManager interface {
	StartTrip(ctx context.Context, in lifecycle.StartInput) (domain.Trip, error)
	EndTrip(ctx context.Context, in lifecycle.EndInput) (domain.Trip, error)
	AddPhoto(ctx context.Context, photo domain.PhotoRef) error
	Resume(ctx context.Context) (*domain.Trip, error)
	ActiveTrip() (domain.Trip, bool)
	State() lifecycle.State
}

// SyncRunner is the sync engine as the handlers drive it.
type SyncRunner interface {
	Sync(ctx context.Context) (syncer.Result, error)
	LastSync() (time.Time, bool)
	Running() bool
}

// LocalReader serves the offline mirrors for list endpoints.
type LocalReader interface {
	Available() bool
	ListTrips(ctx context.Context, p domain.PaginationParams) ([]domain.Trip, int, error)
	ListDrivers(ctx context.Context, filter string) ([]domain.Driver, error)
	ListVehicles(ctx context.Context, filter string) ([]domain.Vehicle, error)
	CountBreadcrumbs(ctx context.Context, tripLocalID string) (int, error)
}

// Connectivity is the monitor surface the handlers use: reading the current
// status and accepting pushed status changes from the platform.
type Connectivity interface {
	Online() bool
	SetStatus(connected bool)
}

// PositionSink receives GPS fixes pushed by the platform's location service.
type PositionSink interface {
	Publish(pos location.Position)
}

// Server holds the dependencies shared by all endpoint handlers.
type Server struct {
	trips      TripManager
	sync       SyncRunner
	local      LocalReader
	conn       Connectivity
	positions  PositionSink
	deviceID   string
	deviceCode string
}

// NewServer constructs the Server with all its dependencies.
func NewServer(trips TripManager, sync SyncRunner, local LocalReader, conn Connectivity, positions PositionSink, deviceID, deviceCode string) *Server {
	return &Server{
		trips:      trips,
		sync:       sync,
		local:      local,
		conn:       conn,
		positions:  positions,
		deviceID:   deviceID,
		deviceCode: deviceCode,
	}
}

// Routes returns the agent's route tree. Middleware (request id, logging,
// CORS, body limits) is applied by the caller around the whole tree.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", s.Health)
	r.Get("/status", s.Status)
	r.Get("/openapi.yaml", s.OpenAPI)

	r.Route("/trips", func(r chi.Router) {
		r.Get("/", s.ListTrips)
		r.Post("/start", s.StartTrip)
		r.Post("/end", s.EndTrip)
		r.Post("/resume", s.ResumeTrip)
		r.Get("/active", s.ActiveTrip)
		r.Post("/photos", s.AddPhoto)
	})

	r.Post("/positions", s.PublishPosition)
	r.Post("/connectivity", s.SetConnectivity)
	r.Post("/sync", s.RunSync)

	r.Get("/drivers", s.ListDrivers)
	r.Get("/vehicles", s.ListVehicles)

	return r
}
