// Package api exposes the HTTP control surface used by the platform bridge:
// call event ingress, audio routing, redial, recording control and the
// recording index.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/flowpbx/callcore/internal/api/middleware"
	"github.com/flowpbx/callcore/internal/audio"
	"github.com/flowpbx/callcore/internal/call"
	"github.com/flowpbx/callcore/internal/database"
	"github.com/flowpbx/callcore/internal/incall"
	"github.com/flowpbx/callcore/internal/redial"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Deps are the components the API drives. Recordings, Settings, Metrics and
// Limiter are optional.
type Deps struct {
	Registry   *call.Registry
	Audio      *audio.Controller
	Redial     *redial.Controller
	InCall     *incall.Service
	Recordings database.RecordingRepository
	Settings   database.SettingsRepository
	Metrics    http.Handler
	Limiter    *middleware.IPRateLimiter
}

// Options configures the HTTP layer.
type Options struct {
	Secret      []byte   // bearer token secret; nil disables auth
	CORSOrigins []string // allowed browser origins
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router     *chi.Mux
	registry   *call.Registry
	audio      *audio.Controller
	redial     *redial.Controller
	incall     *incall.Service
	recordings database.RecordingRepository
	settings   database.SettingsRepository
	metrics    http.Handler
	limiter    *middleware.IPRateLimiter
	opts       Options
	logger     *slog.Logger
	startedAt  time.Time
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		registry:   deps.Registry,
		audio:      deps.Audio,
		redial:     deps.Redial,
		incall:     deps.InCall,
		recordings: deps.Recordings,
		settings:   deps.Settings,
		metrics:    deps.Metrics,
		limiter:    deps.Limiter,
		opts:       opts,
		logger:     logger.With("subsystem", "api"),
		startedAt:  time.Now(),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(s.opts.CORSOrigins))
	if s.limiter != nil {
		r.Use(middleware.RateLimit(s.limiter))
	}

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireBearer(s.opts.Secret))

			r.Get("/state", s.handleGetState)

			r.Route("/calls", func(r chi.Router) {
				r.Get("/", s.handleListCalls)
				r.Post("/", s.handleAddCall)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCall)
					r.Delete("/", s.handleRemoveCall)
					r.Post("/events", s.handleCallEvent)
				})
			})

			r.Route("/audio", func(r chi.Router) {
				r.Get("/", s.handleGetAudio)
				r.Put("/state", s.handleSetAudioState)
				r.Put("/route", s.handleSetRoute)
				r.Post("/speaker", s.handleToggleSpeaker)
			})

			r.Route("/redial", func(r chi.Router) {
				r.Get("/", s.handleRedialStatus)
				r.Post("/", s.handleRedial)
				r.Delete("/", s.handleCancelRedial)
			})

			r.Route("/recording", func(r chi.Router) {
				r.Get("/", s.handleRecordingStatus)
				r.Post("/start", s.handleStartRecording)
				r.Post("/pause", s.handlePauseRecording)
				r.Post("/resume", s.handleResumeRecording)
				r.Post("/stop", s.handleStopRecording)
			})

			r.Route("/recordings", func(r chi.Router) {
				r.Get("/", s.handleListRecordings)
				r.Get("/{sessionID}", s.handleGetRecording)
			})

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handleUpdateSettings)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.logger.Debug("api routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime_sec": int64(time.Since(s.startedAt).Seconds()),
	})
}
