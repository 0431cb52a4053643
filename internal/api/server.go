package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"peoplewatch/internal/auth"
	"peoplewatch/internal/database"
	mw "peoplewatch/internal/middleware"
	"peoplewatch/internal/pipeline"
	"peoplewatch/internal/report"
	"peoplewatch/internal/stream"
	"peoplewatch/internal/ws"
)

// Deps are the components served by the API. Nil optional components
// disable their routes.
type Deps struct {
	Stats     pipeline.StatsProvider
	Detector  pipeline.Detector
	Auth      *auth.Authenticator
	Ledger    *database.Store     // optional
	Stream    *stream.MJPEGServer // optional
	Hub       *ws.BoxHub          // optional
	Telemetry *report.Telemetry   // optional
	Logger    *slog.Logger

	// DebugWriter receives request and response dumps when set
	DebugWriter io.Writer
}

// Mount is a registered route
type Mount struct {
	Method  string
	Verb    string
	Pattern string
}

// Server routes API requests on a goa muxer
type Server struct {
	mux     goahttp.Muxer
	handler http.Handler
	logger  *slog.Logger
	Mounts  []*Mount

	health *HealthService
	status *StatusService
	runs   *RunsService
	auth   *AuthService
}

// NewServer builds the muxer and mounts every route
func NewServer(deps Deps) (*Server, error) {
	if deps.Auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mux:    goahttp.NewMuxer(),
		logger: logger.With("component", "api"),
		health: &HealthService{detector: deps.Detector},
		status: &StatusService{stats: deps.Stats, detector: deps.Detector, startedAt: time.Now()},
		runs:   &RunsService{},
		auth:   &AuthService{authenticator: deps.Auth},
	}
	if deps.Ledger != nil {
		s.health.ledger = deps.Ledger
		s.runs.ledger = deps.Ledger
	}
	if deps.Stream != nil {
		s.status.stream = deps.Stream
	}
	if deps.Hub != nil {
		s.status.boxes = deps.Hub
	}

	protect := mw.AuthMiddleware(deps.Auth)
	optionalUser := optionalAuth(deps.Auth)

	s.mount("Healthz", http.MethodGet, "/healthz", http.HandlerFunc(s.handleHealthz))
	s.mount("Readyz", http.MethodGet, "/readyz", http.HandlerFunc(s.handleReadyz))
	s.mount("Login", http.MethodPost, "/api/login", http.HandlerFunc(s.handleLogin))
	s.mount("AuthStatus", http.MethodGet, "/api/auth/status", optionalUser(http.HandlerFunc(s.handleAuthStatus)))
	s.mount("Status", http.MethodGet, "/api/status", protect(http.HandlerFunc(s.handleStatus)))
	s.mount("ListRuns", http.MethodGet, "/api/runs", protect(http.HandlerFunc(s.handleListRuns)))
	s.mount("GetRun", http.MethodGet, "/api/runs/{id}", protect(http.HandlerFunc(s.handleGetRun)))
	s.mount("SceneChanges", http.MethodGet, "/api/runs/{id}/scene-changes", protect(http.HandlerFunc(s.handleSceneChanges)))

	if deps.Stream != nil {
		s.mount("VideoStream", http.MethodGet, "/video/stream", protect(deps.Stream))
		s.mount("VideoSnapshot", http.MethodGet, "/video/snapshot", protect(stream.NewSnapshotHandler(deps.Stream)))
	}
	if deps.Hub != nil {
		s.mount("Boxes", http.MethodGet, "/ws/boxes", protect(ws.NewHandler(deps.Hub)))
	}
	if deps.Telemetry != nil {
		s.mount("Controller", http.MethodGet, "/debug/controller", protect(deps.Telemetry))
	}

	var handler http.Handler = s.mux
	if deps.DebugWriter != nil {
		handler = httpmdlwr.Debug(s.mux, deps.DebugWriter)(handler)
	}
	handler = s.logRequests(handler)
	handler = httpmdlwr.RequestID()(handler)
	s.handler = handler

	return s, nil
}

func (s *Server) mount(method, verb, pattern string, h http.Handler) {
	s.mux.Handle(verb, pattern, h.ServeHTTP)
	s.Mounts = append(s.Mounts, &Mount{Method: method, Verb: verb, Pattern: pattern})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 60 * time.Second}
	for _, m := range s.Mounts {
		s.logger.Debug("HTTP mounted", "method", m.Method, "verb", m.Verb, "pattern", m.Pattern)
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server", "addr", addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying connection
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"id", requestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(middleware.RequestIDKey).(string)
	return id
}

// optionalAuth attaches claims when a valid token is present but never rejects
func optionalAuth(a *auth.Authenticator) func(http.Handler) http.Handler {
	protect := mw.AuthMiddleware(a)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}
			protect(next).ServeHTTP(w, r)
		})
	}
}

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		s.logger.Error("encoding", "id", requestID(ctx), "error", err)
	}
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrBadPayload):
		status = http.StatusBadRequest
	case errors.Is(err, ErrLoginFailed), errors.Is(err, auth.ErrAuthDisabled):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrNoLedger):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "id", requestID(ctx), "error", err)
	}
	s.writeJSON(ctx, w, status, &errorBody{Error: err.Error(), RequestID: requestID(ctx)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Healthz(r.Context()); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Readyz(r.Context()); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload LoginPayload
	if err := goahttp.RequestDecoder(r).Decode(&payload); err != nil {
		s.writeError(r.Context(), w, errors.Join(ErrBadPayload, err))
		return
	}
	res, err := s.auth.Login(r.Context(), &payload)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, res)
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, http.StatusOK, s.auth.Status(r.Context()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.status.Status(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, res)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(r.Context(), w, fmt.Errorf("%w: limit must be a non-negative integer", ErrBadPayload))
			return
		}
		limit = n
	}
	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), s.mux.Vars(r)["id"])
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, run)
}

func (s *Server) handleSceneChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := s.runs.SceneChanges(r.Context(), s.mux.Vars(r)["id"])
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, changes)
}
