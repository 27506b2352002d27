package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/tagpin/pkg/log"
	"github.com/cuemby/tagpin/pkg/lookup"
	"github.com/cuemby/tagpin/pkg/metrics"
	"github.com/cuemby/tagpin/pkg/types"
)

// Server exposes the lookup registry over HTTP/JSON.
type Server struct {
	registry *lookup.Registry
	router   chi.Router
	logger   zerolog.Logger
	version  string
}

// NewServer creates the API server for a lookup registry.
func NewServer(registry *lookup.Registry, version string) *Server {
	s := &Server{
		registry: registry,
		logger:   log.WithComponent("api"),
		version:  version,
	}

	r := chi.NewRouter()
	r.Use(s.instrument)

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/workflows/{workflow}", func(r chi.Router) {
		r.Post("/lookups", s.lookupHandler)
		r.Get("/pins", s.pinsHandler)
		r.Delete("/", s.deleteHandler)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API on addr. Blocks until the listener fails.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Minute, // lookups may ride out registry backoff
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// LookupRequest is the POST /v1/workflows/{workflow}/lookups body.
type LookupRequest struct {
	Image string `json:"image"`
}

// LookupResponse is the successful lookup reply.
type LookupResponse struct {
	Image      string `json:"image"`
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
	Digest     string `json:"digest"`
	MediaType  string `json:"media_type,omitempty"`
	Size       int64  `json:"size,omitempty"`
}

// ErrorResponse carries a failure reason.
type ErrorResponse struct {
	Error    string `json:"error"`
	Terminal bool   `json:"terminal,omitempty"`
}

func (s *Server) lookupHandler(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflow")

	var req LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	ref, err := types.ParseReference(req.Image)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
		return
	}

	coord, err := s.registry.Coordinator(r.Context(), workflowID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	digest, err := coord.Resolve(r.Context(), ref)
	if err != nil {
		if lookup.IsTerminal(err) {
			writeJSON(w, http.StatusGone, ErrorResponse{Error: err.Error(), Terminal: true})
			return
		}
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, LookupResponse{
		Image:      ref.String(),
		Repository: ref.Repository,
		Tag:        ref.Tag,
		Digest:     digest.String(),
		MediaType:  digest.MediaType,
		Size:       digest.Size,
	})
}

func (s *Server) pinsHandler(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflow")

	coord, err := s.registry.Coordinator(r.Context(), workflowID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	pins, err := coord.Pins(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	out := make(map[string]string, len(pins))
	for ref, digest := range pins {
		out[ref.String()] = digest.String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflow": workflowID,
		"pins":     out,
	})
}

func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflow")

	if err := s.registry.Remove(r.Context(), workflowID); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// instrument records request metrics and logs each call with a request id.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		metrics.ObserveAPIRequest(r.Method, rec.status, start)

		s.logger.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Handled request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
