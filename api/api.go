// Package api serves the probe over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"compat-probe/platform"
	"compat-probe/probe"
	"compat-probe/setup"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultStatsLimit = 50
	maxBodySize       = 16 << 20
	shutdownTimeout   = 30 * time.Second
)

// Prober is the application service behind the routes. *probe.Service
// implements it.
type Prober interface {
	GameVersions() []string
	TestMod(ctx context.Context, req probe.TestRequest) (*probe.TestResponse, error)
	TopRequested(ctx context.Context, limit int) ([]probe.RequestStat, error)
	ImportReport(ctx context.Context, report *probe.Report) (*probe.ImportSummary, error)
	UpdateLibraries(ctx context.Context) ([]setup.LibraryUpdate, error)
}

type Server struct {
	router chi.Router
	probe  Prober
	apiKey string
	log    *zap.SugaredLogger
}

// New builds the router. An empty apiKey leaves the maintenance endpoints
// unauthenticated.
func New(p Prober, apiKey string, log *zap.SugaredLogger) *Server {
	s := &Server{probe: p, apiKey: apiKey, log: log}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/versions", s.handleVersions)
		r.Post("/test", s.handleTest)
		r.Get("/stats", s.handleStats)

		r.Route("/internal", func(r chi.Router) {
			r.Use(s.requireAPIKey)
			r.Post("/libraries/update", s.handleUpdateLibraries)
			r.Post("/results/import", s.handleImport)
		})
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Infow("HTTP server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.log.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Service operational"))
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.probe.GameVersions())
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	var req probe.TestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" || req.GameVersion == "" {
		writeError(w, http.StatusBadRequest, "id and game_version are required")
		return
	}

	resp, err := s.probe.TestMod(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	limit := defaultStatsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	stats, err := s.probe.TopRequested(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUpdateLibraries(w http.ResponseWriter, r *http.Request) {
	updates, err := s.probe.UpdateLibraries(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updates)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var report probe.Report
	if err := decodeJSON(w, r, &report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid report body")
		return
	}
	summary, err := s.probe.ImportReport(r.Context(), &report)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps service errors onto HTTP statuses.
// A dependency that cannot be resolved fails the request even when the
// dependency itself was not found.
func statusFor(err error) int {
	var unresolved *platform.UnresolvedDependencyError
	switch {
	case errors.As(err, &unresolved):
		return http.StatusInternalServerError
	case errors.Is(err, platform.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, platform.ErrInvalidProjectID),
		errors.Is(err, platform.ErrUnsupportedPlatform),
		errors.Is(err, probe.ErrUnsupportedGameVersion),
		errors.Is(err, probe.ErrInvalidReport):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Errorw("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	return dec.Decode(v)
}
