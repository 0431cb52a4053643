package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peoplewatch/internal/auth"
	"peoplewatch/internal/database"
	"peoplewatch/internal/pipeline"
	"peoplewatch/internal/report"
	"peoplewatch/internal/stream"
	"peoplewatch/internal/ws"
)

type fakeDetector struct {
	healthy bool
}

func (d *fakeDetector) Name() string { return "fake" }
func (d *fakeDetector) Detect(ctx context.Context, frame *pipeline.Frame) ([]pipeline.BoundingBox, error) {
	return nil, nil
}
func (d *fakeDetector) Close() error    { return nil }
func (d *fakeDetector) IsHealthy(context.Context) bool { return d.healthy }

type fixedStats struct{}

func (fixedStats) Stats() *pipeline.Stats {
	return &pipeline.Stats{Frames: 42, State: pipeline.StateTracking, Interval: 20, Policy: "adaptive"}
}

func newTestServer(t *testing.T, authCfg auth.Config, withLedger bool) (*Server, *database.Store) {
	t.Helper()
	a, err := auth.NewAuthenticator(authCfg)
	require.NoError(t, err)

	deps := Deps{
		Stats:     fixedStats{},
		Detector:  &fakeDetector{healthy: true},
		Auth:      a,
		Stream:    stream.NewMJPEGServer(nil, nil),
		Hub:       ws.NewBoxHub(nil),
		Telemetry: report.NewTelemetry(10, 500000),
	}
	var store *database.Store
	if withLedger {
		store, err = database.Open(filepath.Join(t.TempDir(), "api.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		deps.Ledger = store
	}

	srv, err := NewServer(deps)
	require.NoError(t, err)
	return srv, store
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServerRequiresAuthenticator(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, auth.Config{}, true)

	rec := do(t, srv, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	rec = do(t, srv, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzFailsWithUnhealthyDetector(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Config{})
	require.NoError(t, err)
	srv, err := NewServer(Deps{Auth: a, Detector: &fakeDetector{healthy: false}})
	require.NoError(t, err)

	rec := do(t, srv, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "detector is unhealthy")
}

func TestStatusWithoutAuth(t *testing.T) {
	srv, _ := newTestServer(t, auth.Config{}, false)

	rec := do(t, srv, http.MethodGet, "/api/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var res StatusResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.Stats)
	assert.Equal(t, uint64(42), res.Stats.Frames)
	require.NotNil(t, res.DetectorHealthy)
	assert.True(t, *res.DetectorHealthy)
	assert.Contains(t, rec.Body.String(), `"state":"tracking"`)
}

func TestLoginAndProtectedRoutes(t *testing.T) {
	srv, _ := newTestServer(t, auth.Config{Enabled: true, Password: "pw", JWTSecret: "k"}, false)

	rec := do(t, srv, http.MethodGet, "/api/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/login", `{"username":"admin","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/login", `{"username":"admin","password":"pw"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var login LoginResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)
	assert.Greater(t, login.ExpiresAt, time.Now().Unix())

	rec = do(t, srv, http.MethodGet, "/api/status", "", login.Token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/auth/status", "", login.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	var status AuthStatusResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Enabled)
	assert.True(t, status.Authenticated)

	rec = do(t, srv, http.MethodGet, "/api/auth/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"authenticated":false`)

	rec = do(t, srv, http.MethodGet, "/video/snapshot", "", login.Token)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no frame yet")
}

func TestLoginRejectsBadPayload(t *testing.T) {
	srv, _ := newTestServer(t, auth.Config{Enabled: true, Password: "pw"}, false)

	rec := do(t, srv, http.MethodPost, "/api/login", `{"username":`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/login", `{"password":"pw"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginWhenAuthDisabled(t *testing.T) {
	srv, _ := newTestServer(t, auth.Config{}, false)

	rec := do(t, srv, http.MethodPost, "/api/login", `{"username":"admin","password":"pw"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "disabled")
}

func TestRunsWithoutLedger(t *testing.T) {
	srv, _ := newTestServer(t, auth.Config{}, false)

	rec := do(t, srv, http.MethodGet, "/api/runs", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunsFromLedger(t *testing.T) {
	srv, store := newTestServer(t, auth.Config{}, true)
	ctx := context.Background()

	rec := do(t, srv, http.MethodGet, "/api/runs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	require.NoError(t, store.CreateRun(ctx, &database.RunRecord{
		ID: "r1", Input: "clip.mp4", Detector: "http", Policy: "adaptive", StartedAt: time.Now(),
	}))
	require.NoError(t, store.SaveSceneChange(ctx, &database.SceneChangeRecord{
		RunID: "r1", Frame: 12, Score: 600000, Interval: 5, At: time.Now(),
	}))

	rec = do(t, srv, http.MethodGet, "/api/runs?limit=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []database.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "clip.mp4", runs[0].Input)

	rec = do(t, srv, http.MethodGet, "/api/runs/r1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"r1"`)

	rec = do(t, srv, http.MethodGet, "/api/runs/r1/scene-changes", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"frame":12`)

	rec = do(t, srv, http.MethodGet, "/api/runs/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/runs?limit=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDebugControllerChart(t *testing.T) {
	srv, _ := newTestServer(t, auth.Config{}, false)

	rec := do(t, srv, http.MethodGet, "/debug/controller", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestMountsAreRecorded(t *testing.T) {
	srv, _ := newTestServer(t, auth.Config{}, false)

	patterns := map[string]bool{}
	for _, m := range srv.Mounts {
		patterns[m.Pattern] = true
	}
	for _, p := range []string{"/healthz", "/readyz", "/api/status", "/api/runs", "/video/stream", "/ws/boxes", "/debug/controller"} {
		assert.True(t, patterns[p], "missing mount %s", p)
	}
}
