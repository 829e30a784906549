// Package server exposes the raffle engine over HTTP.
package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/neoraffle/internal/errors"
	"github.com/R3E-Network/neoraffle/internal/events"
	"github.com/R3E-Network/neoraffle/internal/httputil"
	"github.com/R3E-Network/neoraffle/internal/logging"
	"github.com/R3E-Network/neoraffle/internal/metrics"
	"github.com/R3E-Network/neoraffle/internal/middleware"
	"github.com/R3E-Network/neoraffle/services/raffle"
	"github.com/R3E-Network/neoraffle/services/vrf"
)

// Config wires the server's collaborators. Engine and Events are required.
type Config struct {
	Engine *raffle.Engine
	Events *events.RingBuffer
	// Coordinator enables the /vrf routes.
	Coordinator *vrf.Coordinator
	// Auth guards the admin routes. Without it they answer 403.
	Auth *middleware.AuthMiddleware
	// RateLimiter is optional.
	RateLimiter *middleware.RateLimiter
	// ValidateAddresses requires entrants to be Neo N3 addresses.
	ValidateAddresses bool
	Logger            *logging.Logger
}

// Server is the raffle HTTP API.
type Server struct {
	engine            *raffle.Engine
	events            *events.RingBuffer
	coordinator       *vrf.Coordinator
	auth              *middleware.AuthMiddleware
	validateAddresses bool
	log               *logging.Logger
	router            *mux.Router
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault("raffle-http")
	}
	s := &Server{
		engine:            cfg.Engine,
		events:            cfg.Events,
		coordinator:       cfg.Coordinator,
		auth:              cfg.Auth,
		validateAddresses: cfg.ValidateAddresses,
		log:               log,
		router:            mux.NewRouter(),
	}

	s.router.Use(middleware.NewTracingMiddleware(log).Handler)
	s.router.Use(metrics.InstrumentHandler)
	if cfg.RateLimiter != nil {
		s.router.Use(cfg.RateLimiter.Handler)
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/enter", s.handleEnter).Methods(http.MethodPost)
	r.HandleFunc("/upkeep", s.handleCheckUpkeep).Methods(http.MethodGet)
	r.HandleFunc("/upkeep/perform", s.handlePerformUpkeep).Methods(http.MethodPost)
	r.HandleFunc("/raffle", s.handleRaffle).Methods(http.MethodGet)
	r.HandleFunc("/players", s.handlePlayers).Methods(http.MethodGet)
	r.HandleFunc("/players/{index}", s.handlePlayer).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/stream", s.handleStream).Methods(http.MethodGet)

	r.Handle("/admin/recover", s.admin(http.HandlerFunc(s.handleRecover))).Methods(http.MethodPost)

	if s.coordinator != nil {
		r.HandleFunc("/vrf/stats", s.handleVRFStats).Methods(http.MethodGet)
		r.HandleFunc("/vrf/public-key", s.handleVRFPublicKey).Methods(http.MethodGet)
		r.HandleFunc("/vrf/requests/{id}", s.handleVRFRequest).Methods(http.MethodGet)
		r.Handle("/vrf/fulfill/{id}", s.admin(http.HandlerFunc(s.handleFulfill))).Methods(http.MethodPost)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, r, errors.NotFound("route"))
	})
}

func (s *Server) admin(next http.Handler) http.Handler {
	if s.auth == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteError(w, r, errors.Forbidden("admin routes are disabled"))
		})
	}
	return s.auth.Handler(middleware.RequireRole(middleware.RoleAdmin)(next))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := toServiceError(err)
	entry := s.log.WithContext(r.Context()).WithError(err).WithField("code", se.Code)
	if se.HTTPStatus >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	httputil.WriteError(w, r, se)
}
