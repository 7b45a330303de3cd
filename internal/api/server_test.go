package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/robocore/internal/action"
	"github.com/nerrad567/robocore/internal/eventlog"
	"github.com/nerrad567/robocore/internal/infrastructure/config"
	"github.com/nerrad567/robocore/internal/infrastructure/database"
	"github.com/nerrad567/robocore/internal/infrastructure/logging"
	"github.com/nerrad567/robocore/internal/routines"
	"github.com/nerrad567/robocore/internal/scheduler"
	"github.com/nerrad567/robocore/internal/subsystem"
	"github.com/nerrad567/robocore/internal/tuning"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeMechanism is a subsystem stand-in that records zeroing and tuning.
type fakeMechanism struct {
	mu       sync.Mutex
	name     string
	zeroed   bool
	zeroErr  error
	gains    []subsystem.PIDGains
	position float64
}

func (f *fakeMechanism) Name() string { return f.name }

func (f *fakeMechanism) Snapshot() subsystem.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return subsystem.Snapshot{
		Name:        f.name,
		Mode:        subsystem.OpenLoop,
		Position:    f.position,
		Healthy:     f.zeroErr == nil,
		Zeroed:      f.zeroed,
		Constraints: subsystem.Unconstrained(),
	}
}

func (f *fakeMechanism) ZeroSensors() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.zeroErr != nil {
		return f.zeroErr
	}
	f.zeroed = true
	f.position = 0
	return nil
}

func (f *fakeMechanism) SetPIDGains(g subsystem.PIDGains) error {
	if g.Slot > 2 {
		return subsystem.ErrUnknownSlot
	}
	f.mu.Lock()
	f.gains = append(f.gains, g)
	f.mu.Unlock()
	return nil
}

func (f *fakeMechanism) SetMotionConstraints(c subsystem.MotionConstraints) error {
	return c.Validate()
}

type fakeEvents struct {
	filter eventlog.Filter
}

func (f *fakeEvents) List(_ context.Context, filter eventlog.Filter) (*eventlog.ListResult, error) {
	f.filter = filter
	return &eventlog.ListResult{
		Events: []eventlog.Event{{ID: "evt-1", Name: eventlog.EventRoutineStarted, Message: "hold"}},
		Total:  1,
		Limit:  filter.Limit,
	}, nil
}

type fakeStore struct {
	schema database.SchemaStatus
	err    error
}

func (f fakeStore) Stats() sql.DBStats {
	return sql.DBStats{MaxOpenConnections: 1, OpenConnections: 1, Idle: 1}
}

func (f fakeStore) SchemaStatus(context.Context) (database.SchemaStatus, error) {
	return f.schema, f.err
}

type fakeLoop struct{}

func (fakeLoop) Stats() scheduler.Stats {
	return scheduler.Stats{Running: true, Behaviors: 3, Ticks: 100}
}

type testEnv struct {
	srv      *Server
	router   http.Handler
	arm      *fakeMechanism
	launcher *action.Launcher
	events   *fakeEvents
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	arm := &fakeMechanism{name: "arm", position: 0.4}
	wrist := &fakeMechanism{name: "wrist", zeroErr: errors.New("motor fault")}

	reg := routines.NewRegistry(nil, routines.Options{Period: 5 * time.Millisecond})
	if err := reg.Register(config.RoutineConfig{
		Name: "hold",
		Root: config.StepConfig{Type: routines.StepWait, Seconds: 30},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	launcher := action.NewLauncher(nil)
	t.Cleanup(func() {
		launcher.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		launcher.Wait(ctx) //nolint:errcheck // Test cleanup
	})

	events := &fakeEvents{}
	log := logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test")

	srv, err := New(Deps{
		Config:     config.APIConfig{Host: "127.0.0.1"},
		Security:   config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
		Logger:     log,
		RobotID:    "bot-1",
		Version:    "test",
		Subsystems: []Mechanism{arm, wrist},
		Routines:   reg,
		Launcher:   launcher,
		Tuning:     tuning.NewService(map[string]tuning.Target{"arm": arm, "wrist": wrist}, nil),
		Events:     events,
		Loop:       fakeLoop{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{srv: srv, router: srv.buildRouter(), arm: arm, launcher: launcher, events: events}
}

func (e *testEnv) do(t *testing.T, method, path, body string, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func validToken(t *testing.T) string {
	t.Helper()
	tok, err := IssueToken(testSecret, "pit-crew", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return tok
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

// ─── Health and Middleware ─────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	log := logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error"}, "test")
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without routines should fail")
	}
	_, err := New(Deps{
		Logger:     log,
		Routines:   routines.NewRegistry(nil, routines.Options{}),
		Launcher:   action.NewLauncher(nil),
		Subsystems: []Mechanism{&fakeMechanism{name: "arm"}, &fakeMechanism{name: "arm"}},
	})
	if err == nil {
		t.Error("New() with duplicate subsystems should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	resp := decode(t, w)
	if resp["status"] != "ok" || resp["version"] != "test" || resp["robot_id"] != "bot-1" {
		t.Errorf("health = %v", resp)
	}
}

func TestHealth_Schema(t *testing.T) {
	tests := []struct {
		name       string
		store      fakeStore
		wantCode   int
		wantStatus string
	}{
		{
			name:       "current",
			store:      fakeStore{schema: database.SchemaStatus{Version: "20260315_120000", Applied: 2}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "pending",
			store: fakeStore{schema: database.SchemaStatus{
				Version: "20260301_090000", Applied: 1, Pending: []string{"20260315_120000_create_tuning_history"},
			}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
		{
			name:       "unreadable",
			store:      fakeStore{err: database.ErrSchemaAhead},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.srv.db = tt.store

			w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			resp := decode(t, w)
			if resp["status"] != tt.wantStatus {
				t.Errorf("status field = %v, want %s", resp["status"], tt.wantStatus)
			}
			if tt.store.err != nil {
				if resp["schema_error"] == nil {
					t.Errorf("health = %v, want schema_error", resp)
				}
				return
			}
			schema, ok := resp["schema"].(map[string]any)
			if !ok || schema["version"] != tt.store.schema.Version {
				t.Errorf("schema = %v, want version %s", resp["schema"], tt.store.schema.Version)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q", got)
	}
}

func TestCORS_UnlistedOrigin(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://pit.local"}}
	router := env.srv.buildRouter()

	for origin, want := range map[string]string{
		"http://pit.local": "http://pit.local",
		"http://elsewhere": "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("origin %s: ACAO = %q, want %q", origin, got, want)
		}
	}
}

func TestRecovery_PanicBecomes500(t *testing.T) {
	env := newTestEnv(t)
	h := env.srv.requestIDMiddleware(env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if resp := decode(t, w); resp["code"] != ErrCodeInternal {
		t.Errorf("body = %v", resp)
	}
}

func TestSetGains_OversizedBody(t *testing.T) {
	env := newTestEnv(t)
	body := `{"slot":1,"kp":0.4,"pad":"` + strings.Repeat("x", maxRequestBody) + `"}`
	w := env.do(t, http.MethodPut, "/api/v1/subsystems/arm/gains", body, validToken(t))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
	if resp := decode(t, w); resp["code"] != ErrCodeTooLarge {
		t.Errorf("body = %v", resp)
	}
	env.arm.mu.Lock()
	defer env.arm.mu.Unlock()
	if len(env.arm.gains) != 0 {
		t.Errorf("gains applied from an oversized body: %+v", env.arm.gains)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/api/v1/nonexistent", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Authentication ────────────────────────────────────────────────

func TestAuth_MutatingRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	expired, err := IssueToken(testSecret, "pit-crew", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	foreign, err := IssueToken("some-other-secret", "pit-crew", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "garbage", token: "not.a.jwt"},
		{name: "expired", token: expired},
		{name: "wrong secret", token: foreign},
	}

	routes := []struct{ method, path string }{
		{http.MethodPut, "/api/v1/subsystems/arm/gains"},
		{http.MethodPut, "/api/v1/subsystems/arm/constraints"},
		{http.MethodPost, "/api/v1/subsystems/arm/zero"},
		{http.MethodPost, "/api/v1/routines/hold/start"},
		{http.MethodPost, "/api/v1/routines/stop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, rt := range routes {
				w := env.do(t, rt.method, rt.path, `{}`, tt.token)
				if w.Code != http.StatusUnauthorized {
					t.Errorf("%s %s status = %d, want 401", rt.method, rt.path, w.Code)
				}
			}
		})
	}

	if env.arm.Snapshot().Zeroed {
		t.Error("unauthenticated zero reached the subsystem")
	}
}

func TestAuth_NoSecretRejectsEverything(t *testing.T) {
	env := newTestEnv(t)
	env.srv.secCfg.JWT.Secret = ""

	if w := env.do(t, http.MethodPost, "/api/v1/routines/stop", "", validToken(t)); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestIssueToken_EmptySecret(t *testing.T) {
	if _, err := IssueToken("", "pit-crew", time.Hour); err == nil {
		t.Error("IssueToken() with empty secret should fail")
	}
}

// ─── Subsystems ────────────────────────────────────────────────────

func TestListSubsystems(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/subsystems", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Subsystems []map[string]any `json:"subsystems"`
		Count      int              `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 || resp.Subsystems[0]["name"] != "arm" || resp.Subsystems[1]["name"] != "wrist" {
		t.Errorf("subsystems = %+v", resp)
	}
	if resp.Subsystems[0]["mode"] != "open_loop" {
		t.Errorf("mode = %v, want open_loop", resp.Subsystems[0]["mode"])
	}
}

func TestGetSubsystem(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/subsystems/arm", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode(t, w); resp["position"] != 0.4 {
		t.Errorf("position = %v, want 0.4", resp["position"])
	}

	if w := env.do(t, http.MethodGet, "/api/v1/subsystems/turret", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown subsystem status = %d, want 404", w.Code)
	}
}

func TestZero(t *testing.T) {
	env := newTestEnv(t)
	tok := validToken(t)

	w := env.do(t, http.MethodPost, "/api/v1/subsystems/arm/zero", "", tok)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["zeroed"] != true {
		t.Errorf("zeroed = %v, want true", resp["zeroed"])
	}

	w = env.do(t, http.MethodPost, "/api/v1/subsystems/wrist/zero", "", tok)
	if w.Code != http.StatusBadGateway {
		t.Errorf("faulted zero status = %d, want 502", w.Code)
	}
}

func TestSetGains(t *testing.T) {
	env := newTestEnv(t)
	tok := validToken(t)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{"applied", "/api/v1/subsystems/arm/gains", `{"slot":1,"kp":0.4}`, http.StatusOK},
		{"bad json", "/api/v1/subsystems/arm/gains", `{"slot":`, http.StatusBadRequest},
		{"unknown field", "/api/v1/subsystems/arm/gains", `{"slot":1,"p":3}`, http.StatusBadRequest},
		{"unknown slot", "/api/v1/subsystems/arm/gains", `{"slot":9}`, http.StatusUnprocessableEntity},
		{"unknown subsystem", "/api/v1/subsystems/turret/gains", `{"slot":0}`, http.StatusNotFound},
		{"constraints", "/api/v1/subsystems/arm/constraints", `{"forward_soft_limit":1.2,"cruise_velocity":2}`, http.StatusOK},
		{"bad constraints", "/api/v1/subsystems/arm/constraints", `{"cruise_velocity":-2}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, tt.path, tt.body, tok)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}

	env.arm.mu.Lock()
	defer env.arm.mu.Unlock()
	if len(env.arm.gains) != 1 || env.arm.gains[0].KP != 0.4 {
		t.Errorf("arm gains = %+v, want one set with kp 0.4", env.arm.gains)
	}
}

func TestTuningHistory_Empty(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/subsystems/arm/tuning", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode(t, w); resp["count"] != float64(0) {
		t.Errorf("count = %v, want 0", resp["count"])
	}

	if w := env.do(t, http.MethodGet, "/api/v1/subsystems/arm/tuning?limit=-1", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestTuning_Unavailable(t *testing.T) {
	env := newTestEnv(t)
	env.srv.tuning = nil

	if w := env.do(t, http.MethodPut, "/api/v1/subsystems/arm/gains", `{}`, validToken(t)); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ─── Routines ──────────────────────────────────────────────────────

func TestRoutines_StartConflictStop(t *testing.T) {
	env := newTestEnv(t)
	tok := validToken(t)

	w := env.do(t, http.MethodGet, "/api/v1/routines", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if resp := decode(t, w); resp["count"] != float64(2) {
		t.Errorf("count = %v, want 2 (hold, idle)", resp["count"])
	}

	w = env.do(t, http.MethodPost, "/api/v1/routines/hold/start", "", tok)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body = %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["run_id"] == "" {
		t.Error("start response missing run_id")
	}

	w = env.do(t, http.MethodPost, "/api/v1/routines/idle/start", "", tok)
	if w.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/routines/stop", "", tok)
	if w.Code != http.StatusAccepted {
		t.Fatalf("stop status = %d", w.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.launcher.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := env.launcher.Status(); got != action.StatusCancelled {
		t.Errorf("launcher status = %s, want cancelled", got)
	}
}

func TestRoutines_StartUnknown(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodPost, "/api/v1/routines/dance/start", "", validToken(t)); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Events and Metrics ────────────────────────────────────────────

func TestListEvents(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/events?prefix=routine.&limit=10&offset=5&since=2026-03-01T12:00:00Z", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	f := env.events.filter
	if f.Prefix != "routine." || f.Limit != 10 || f.Offset != 5 || f.Since.IsZero() {
		t.Errorf("filter = %+v", f)
	}
	if resp := decode(t, w); resp["total"] != float64(1) {
		t.Errorf("total = %v", resp["total"])
	}

	for _, q := range []string{"limit=0", "offset=-1", "since=yesterday"} {
		if w := env.do(t, http.MethodGet, "/api/v1/events?"+q, "", ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, w.Code)
		}
	}

	env.srv.events = nil
	if w := env.do(t, http.MethodGet, "/api/v1/events", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("no history status = %d, want 503", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var m Metrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Subsystems.Total != 2 || m.Subsystems.Healthy != 1 ||
		len(m.Subsystems.Unhealthy) != 1 || m.Subsystems.Unhealthy[0] != "wrist" {
		t.Errorf("subsystems = %+v", m.Subsystems)
	}
	if m.Loop == nil || m.Loop.Ticks != 100 {
		t.Errorf("loop = %+v", m.Loop)
	}
	if m.Routines.Status != action.StatusIdle {
		t.Errorf("routines status = %s, want idle", m.Routines.Status)
	}
	if m.MQTT != nil || m.Database != nil || m.Telemetry != nil {
		t.Errorf("optional sections should be absent: %+v", m)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestMatchEvent(t *testing.T) {
	tests := []struct {
		patterns []string
		name     string
		want     bool
	}{
		{[]string{"routine.started"}, "routine.started", true},
		{[]string{"routine.started"}, "routine.completed", false},
		{[]string{"routine.*"}, "routine.completed", true},
		{[]string{"routine.*"}, "subsystem.zeroed", false},
		{[]string{"*"}, "fault.unhandled", true},
		{nil, "fault.unhandled", false},
	}

	for _, tt := range tests {
		patterns := make(map[string]struct{})
		for _, p := range tt.patterns {
			patterns[p] = struct{}{}
		}
		if got := matchEvent(patterns, tt.name); got != tt.want {
			t.Errorf("matchEvent(%v, %q) = %v, want %v", tt.patterns, tt.name, got, tt.want)
		}
	}
}

func TestValidPattern(t *testing.T) {
	for p, want := range map[string]bool{
		"*":                true,
		"routine.*":        true,
		"subsystem.zeroed": true,
		"":                 false,
		".*":               false,
		"rou*ne.started":   false,
		"*.started":        false,
	} {
		if got := validPattern(p); got != want {
			t.Errorf("validPattern(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	log := logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test")
	hub := NewHub(config.WebSocketConfig{}, log)
	sub := &subscriber{hub: hub, out: make(chan []byte, 1), patterns: map[string]struct{}{AllEvents: {}}}
	hub.add(sub)

	for i := range 3 {
		if err := hub.HandleEvent(context.Background(), eventlog.Event{Name: eventlog.EventLoopOverrun}); err != nil {
			t.Fatalf("HandleEvent(%d) error = %v", i, err)
		}
	}

	if st := hub.Stats(); st.Clients != 0 || st.SlowClosed != 1 || st.Relayed != 3 {
		t.Errorf("Stats() = %+v, want the slow subscriber dropped", st)
	}
	if code, _ := sub.closeReason(); code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", code, websocket.ClosePolicyViolation)
	}
	if _, ok := <-sub.out; !ok {
		t.Error("queued event was discarded")
	}
	if _, ok := <-sub.out; ok {
		t.Error("out still open after the subscriber was dropped")
	}
}

// dialStream opens an event stream against the test router.
func dialStream(t *testing.T, env *testEnv, header http.Header) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	var f ServerFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return f
}

func TestEventStream_RelaysMatchingEvents(t *testing.T) {
	env := newTestEnv(t)
	conn := dialStream(t, env, nil)

	if err := conn.WriteJSON(ClientFrame{Type: FrameSubscribe, ID: "1", Events: []string{"routine.*"}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if ack := readFrame(t, conn); ack.Type != FrameAck || ack.ID != "1" || len(ack.Events) != 1 {
		t.Fatalf("ack = %+v", ack)
	}

	hub := env.srv.Hub()
	if err := hub.HandleEvent(context.Background(), eventlog.Event{Name: eventlog.EventSensorsZeroed, Message: "arm"}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if err := hub.HandleEvent(context.Background(), eventlog.Event{ID: "evt-9", Name: eventlog.EventRoutineStarted, Message: "hold"}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	msg := readFrame(t, conn)
	if msg.Type != FrameEvent || msg.Event == nil || msg.Event.ID != "evt-9" {
		t.Errorf("event = %+v, want only the routine event", msg)
	}

	if err := conn.WriteJSON(ClientFrame{Type: "reboot", ID: "2"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if f := readFrame(t, conn); f.Type != FrameError || f.ID != "2" {
		t.Errorf("unknown frame reply = %+v", f)
	}
}

func TestEventStream_ReplaysBacklog(t *testing.T) {
	env := newTestEnv(t)
	hub := env.srv.Hub()
	for _, e := range []eventlog.Event{
		{ID: "a", Name: eventlog.EventSensorsZeroed},
		{ID: "b", Name: eventlog.EventRoutineStarted},
		{ID: "c", Name: eventlog.EventModeChanged},
		{ID: "d", Name: eventlog.EventBackendError},
	} {
		if err := hub.HandleEvent(context.Background(), e); err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}
	}

	conn := dialStream(t, env, nil)
	if err := conn.WriteJSON(ClientFrame{Type: FrameSubscribe, ID: "1", Events: []string{"subsystem.*"}, Backlog: 2}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if ack := readFrame(t, conn); ack.Type != FrameAck {
		t.Fatalf("ack = %+v", ack)
	}
	for _, want := range []string{"c", "d"} {
		f := readFrame(t, conn)
		if f.Type != FrameEvent || f.Event == nil || f.Event.ID != want {
			t.Fatalf("replayed %+v, want event %s", f, want)
		}
	}
}

func TestEventStream_RejectsUnlistedOrigin(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://pit.local"}}
	env.router = env.srv.buildRouter()
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://elsewhere"}})
	if err == nil {
		t.Fatal("Dial() succeeded from an unlisted origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
	if resp != nil {
		resp.Body.Close()
	}
}
