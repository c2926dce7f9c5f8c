// Package server exposes the registry over a read-only HTTP API. The
// package endpoints double as the upstream API consumed by index.Upstream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frederic-klein/llamapkg/internal/lockfile"
	"github.com/frederic-klein/llamapkg/internal/metrics"
	"github.com/frederic-klein/llamapkg/internal/model"
	"github.com/frederic-klein/llamapkg/internal/registry"
	"github.com/frederic-klein/llamapkg/internal/resolver"
	"github.com/frederic-klein/llamapkg/internal/version"
)

// RequestIDHeader carries the per-request id on requests and responses.
const RequestIDHeader = "X-Request-Id"

// Server serves the registry API.
type Server struct {
	registry *registry.Index
	resolver *resolver.Resolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
	baseURL  string
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves m's registry on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBaseURL records the public URL in package purls.
func WithBaseURL(u string) Option {
	return func(s *Server) {
		s.baseURL = u
	}
}

// New creates a Server.
func New(reg *registry.Index, res *resolver.Resolver, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		resolver: res,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/packages", s.listPackages)
		r.Get("/packages/{name}", s.getPackage)
		r.Get("/packages/{name}/{version}", s.getVersion)
		r.Get("/search", s.search)
		r.Post("/resolve", s.resolve)
	})

	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving registry", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// PackageSummary is one row of the list and search endpoints.
type PackageSummary struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	LatestVersion string   `json:"latest_version,omitempty"`
	Versions      int      `json:"versions"`
	Keywords      []string `json:"keywords,omitempty"`
	PURL          string   `json:"purl,omitempty"`
}

// ResolveRequest is the body of POST /api/v1/resolve.
type ResolveRequest struct {
	Requirements []RequirementJSON `json:"requirements"`
	Installed    map[string]string `json:"installed,omitempty"`
}

// RequirementJSON is one root requirement.
type RequirementJSON struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint,omitempty"`
}

// ResolveResponse is the successful answer of POST /api/v1/resolve.
type ResolveResponse struct {
	Resolution map[string]string `json:"resolution"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Package   string            `json:"package,omitempty"`
	Requirers map[string]string `json:"requirers,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func (s *Server) summarize(pkgs []*model.Package) []PackageSummary {
	out := make([]PackageSummary, 0, len(pkgs))
	for _, p := range pkgs {
		sum := PackageSummary{
			Name:        p.Name,
			Description: p.Description,
			Versions:    len(p.Versions),
			Keywords:    p.Keywords,
		}
		if latest, ok := p.Latest(); ok {
			sum.LatestVersion = latest.Version.String()
			sum.PURL = lockfile.PURL(p.Name, sum.LatestVersion, s.baseURL)
		}
		out = append(out, sum)
	}
	return out
}

func (s *Server) listPackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.summarize(s.registry.List(r.Context())))
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "missing query parameter q"})
		return
	}
	writeJSON(w, http.StatusOK, s.summarize(s.registry.Search(r.Context(), q)))
}

func (s *Server) getPackage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	pkg, ok := s.registry.Get(r.Context(), name)
	if !ok {
		s.writeError(w, r, http.StatusNotFound, ErrorResponse{Error: "package not found", Package: name})
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, err := version.Parse(chi.URLParam(r, "version"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Package: name})
		return
	}
	pv, err := s.registry.Release(r.Context(), name, v)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, r, http.StatusNotFound, ErrorResponse{Error: err.Error(), Package: name})
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Package: name})
		return
	}
	writeJSON(w, http.StatusOK, pv)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if len(req.Requirements) == 0 {
		s.writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "no requirements"})
		return
	}

	roots := make([]model.Requirement, 0, len(req.Requirements))
	for _, rq := range req.Requirements {
		if !model.ValidName(rq.Name) {
			s.writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "invalid package name", Package: rq.Name})
			return
		}
		roots = append(roots, model.Requirement{Name: rq.Name, Constraint: rq.Constraint})
	}

	installed := req.Installed
	if installed == nil {
		// The server has no installed packages of its own.
		installed = map[string]string{}
	}

	res, err := s.resolver.Resolve(r.Context(), roots, installed)
	var conflict *resolver.ConflictError
	var parseErr *version.ParseError
	switch {
	case errors.As(err, &conflict):
		s.writeError(w, r, http.StatusConflict, ErrorResponse{
			Error:     conflict.Error(),
			Package:   conflict.Package,
			Requirers: conflict.Requirers,
		})
		return
	case errors.As(err, &parseErr):
		s.writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: parseErr.Error()})
		return
	case errors.Is(err, resolver.ErrDuplicateRoot):
		s.writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	out := ResolveResponse{Resolution: make(map[string]string, len(res))}
	for name, v := range res {
		out.Resolution[name] = v.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, body ErrorResponse) {
	body.RequestID = w.Header().Get(RequestIDHeader)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", body.Error, "request_id", body.RequestID)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestID keeps a caller-supplied request id or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", w.Header().Get(RequestIDHeader),
		)
	})
}
