// Package api serves the read surface of the replica: user bundles, entity
// lookups, transfer histories and the marketplace catalogues. Everything
// except usernames is read-only; writes happen on chain and arrive through
// the tracker.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"metafusion/observability"
	"metafusion/state"
)

// Server wires the HTTP handlers around the replica store.
type Server struct {
	store   *state.Store
	log     *slog.Logger
	metrics *observability.WebAPIMetrics
}

// NewServer builds the API server on top of an open store.
func NewServer(store *state.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:   store,
		log:     logger,
		metrics: observability.WebAPI(),
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)

	r.Route("/users/{address}", func(r chi.Router) {
		r.Get("/", s.handleUserBundle)
		r.Get("/transactions", s.handleUserTransactions)
		r.Get("/username", s.handleGetUsername)
		r.Put("/username", s.handleSetUsername)
	})

	r.Get("/packets/{id}", s.handleGetPacket)
	r.Get("/prompts/{id}", s.handleGetPrompt)
	r.Get("/images/{id}", s.handleGetImage)

	r.Route("/marketplace", func(r chi.Router) {
		r.Get("/packets", s.handleListedPackets)
		r.Get("/prompts", s.handleListedPrompts)
		r.Get("/images", s.handleListedImages)
	})

	r.Get("/collections/{id}/remaining", s.handleRemainingPackets)

	return otelhttp.NewHandler(r, "webapi")
}

// Handler returns the router wrapped for an http.Server.
func (s *Server) Handler() http.Handler { return s.Router() }

// NewHTTPServer builds the http.Server with the shared timeout policy.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// observe records per-route metrics using chi's resolved route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		s.metrics.Observe(route, ww.Status(), time.Since(start))
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
