// Package api exposes run status, the run ledger and the live views over HTTP.
package api

import (
	"context"
	"errors"
	"time"

	"peoplewatch/internal/auth"
	"peoplewatch/internal/database"
	"peoplewatch/internal/middleware"
	"peoplewatch/internal/pipeline"
)

var (
	ErrNotReady    = errors.New("not ready")
	ErrNoLedger    = errors.New("run ledger is disabled")
	ErrBadPayload  = errors.New("invalid payload")
	ErrNotFound    = errors.New("not found")
	ErrLoginFailed = errors.New("invalid username or password")
)

// RunLedger is the subset of the database used by the API
type RunLedger interface {
	Ping(ctx context.Context) error
	ListRuns(ctx context.Context, limit int) ([]*database.RunRecord, error)
	GetRun(ctx context.Context, id string) (*database.RunRecord, error)
	ListSceneChanges(ctx context.Context, runID string) ([]*database.SceneChangeRecord, error)
}

// HealthService answers /healthz and /readyz
type HealthService struct {
	detector pipeline.Detector
	ledger   RunLedger
}

// Healthz always succeeds while the process is up
func (h *HealthService) Healthz(ctx context.Context) error {
	return nil
}

// Readyz fails while the detector reports unhealthy or the ledger is unreachable
func (h *HealthService) Readyz(ctx context.Context) error {
	if hc, ok := h.detector.(pipeline.HealthChecker); ok && !hc.IsHealthy(ctx) {
		return errors.Join(ErrNotReady, errors.New("detector is unhealthy"))
	}
	if h.ledger != nil {
		if err := h.ledger.Ping(ctx); err != nil {
			return errors.Join(ErrNotReady, err)
		}
	}
	return nil
}

// StatusResult is the body of GET /api/status
type StatusResult struct {
	Stats           *pipeline.Stats `json:"stats"`
	StartedAt       time.Time       `json:"started_at"`
	UptimeSeconds   float64         `json:"uptime_seconds"`
	DetectorHealthy *bool           `json:"detector_healthy,omitempty"`
	StreamClients   int             `json:"stream_clients"`
	BoxClients      int             `json:"box_clients"`
}

// ClientCounter reports connected viewers
type ClientCounter interface {
	ClientCount() int
}

// StatusService reports what the orchestrator is doing
type StatusService struct {
	stats     pipeline.StatsProvider
	detector  pipeline.Detector
	stream    ClientCounter
	boxes     ClientCounter
	startedAt time.Time
}

// Status returns a snapshot of the run
func (s *StatusService) Status(ctx context.Context) (*StatusResult, error) {
	res := &StatusResult{
		StartedAt:     s.startedAt,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
	if s.stats != nil {
		res.Stats = s.stats.Stats()
	}
	if hc, ok := s.detector.(pipeline.HealthChecker); ok {
		healthy := hc.IsHealthy(ctx)
		res.DetectorHealthy = &healthy
	}
	if s.stream != nil {
		res.StreamClients = s.stream.ClientCount()
	}
	if s.boxes != nil {
		res.BoxClients = s.boxes.ClientCount()
	}
	return res, nil
}

// RunsService reads the run ledger
type RunsService struct {
	ledger RunLedger
}

// List returns recent runs, newest first
func (s *RunsService) List(ctx context.Context, limit int) ([]*database.RunRecord, error) {
	if s.ledger == nil {
		return nil, ErrNoLedger
	}
	runs, err := s.ledger.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []*database.RunRecord{}
	}
	return runs, nil
}

// Get returns one run
func (s *RunsService) Get(ctx context.Context, id string) (*database.RunRecord, error) {
	if s.ledger == nil {
		return nil, ErrNoLedger
	}
	run, err := s.ledger.GetRun(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	return run, err
}

// SceneChanges returns the scene changes of a run
func (s *RunsService) SceneChanges(ctx context.Context, id string) ([]*database.SceneChangeRecord, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	changes, err := s.ledger.ListSceneChanges(ctx, id)
	if err != nil {
		return nil, err
	}
	if changes == nil {
		changes = []*database.SceneChangeRecord{}
	}
	return changes, nil
}

// LoginPayload is the body of POST /api/login
type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult carries the issued token
type LoginResult struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// AuthStatusResult is the body of GET /api/auth/status
type AuthStatusResult struct {
	Enabled       bool    `json:"enabled"`
	Authenticated bool    `json:"authenticated"`
	Username      *string `json:"username,omitempty"`
}

// AuthService issues tokens
type AuthService struct {
	authenticator *auth.Authenticator
}

// Login authenticates a user and returns a JWT token
func (a *AuthService) Login(ctx context.Context, payload *LoginPayload) (*LoginResult, error) {
	if payload == nil || payload.Username == "" {
		return nil, ErrBadPayload
	}
	token, expiresAt, err := a.authenticator.Authenticate(payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return nil, ErrLoginFailed
		}
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: expiresAt.Unix()}, nil
}

// Status returns the current authentication status
func (a *AuthService) Status(ctx context.Context) *AuthStatusResult {
	res := &AuthStatusResult{Enabled: a.authenticator.IsEnabled()}
	if claims := middleware.GetUserFromContext(ctx); claims != nil {
		res.Authenticated = true
		res.Username = &claims.Username
	}
	return res
}
