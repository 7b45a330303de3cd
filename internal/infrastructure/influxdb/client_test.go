package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/robocore/internal/infrastructure/config"
	"github.com/nerrad567/robocore/internal/infrastructure/influxdb"
)

// fakeServer answers the two endpoints the client uses: /ping and
// /api/v2/write.
type fakeServer struct {
	mu          sync.Mutex
	lines       []string
	buckets     []string
	writeStatus int
	pingStatus  int
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.URL.Path {
	case "/ping":
		status := f.pingStatus
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		if f.writeStatus != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.writeStatus)
			io.WriteString(w, `{"code":"invalid","message":"unable to parse points"}`) //nolint:errcheck // test server
			return
		}
		f.buckets = append(f.buckets, r.URL.Query().Get("bucket"))
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			f.lines = append(f.lines, line)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func startServer(t *testing.T, f *fakeServer) config.InfluxDBConfig {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "robocore-test-token",
		Org:           "robocore",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 60,
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

func TestConnect(t *testing.T) {
	tests := []struct {
		name    string
		cfg     func(t *testing.T) config.InfluxDBConfig
		wantErr error
	}{
		{
			name: "disabled",
			cfg: func(t *testing.T) config.InfluxDBConfig {
				cfg := startServer(t, &fakeServer{})
				cfg.Enabled = false
				return cfg
			},
			wantErr: influxdb.ErrDisabled,
		},
		{
			name: "server not ready",
			cfg: func(t *testing.T) config.InfluxDBConfig {
				return startServer(t, &fakeServer{pingStatus: http.StatusServiceUnavailable})
			},
			wantErr: influxdb.ErrConnectionFailed,
		},
		{
			name: "nothing listening",
			cfg: func(t *testing.T) config.InfluxDBConfig {
				cfg := startServer(t, &fakeServer{})
				cfg.URL = "http://127.0.0.1:1"
				return cfg
			},
			wantErr: influxdb.ErrConnectionFailed,
		},
		{
			name: "default batching",
			cfg: func(t *testing.T) config.InfluxDBConfig {
				cfg := startServer(t, &fakeServer{})
				cfg.BatchSize, cfg.FlushInterval = 0, -1
				return cfg
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := influxdb.Connect(tt.cfg(t))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Connect() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			defer client.Close()
			if !client.IsConnected() {
				t.Error("IsConnected() = false after Connect()")
			}
		})
	}
}

func TestWrite_FlushedOnClose(t *testing.T) {
	server := &fakeServer{}
	client, err := influxdb.Connect(startServer(t, server))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ts := time.UnixMilli(1700000000123)
	client.WriteSubsystemSample("bot-1", influxdb.SubsystemSample{
		Subsystem: "elevator", Mode: "motion_profile", Setpoint: 1.2, Position: 1.0, Healthy: true,
	}, ts)
	client.WriteLoopSample("bot-1", influxdb.LoopSample{Behaviors: 3, Ticks: 50}, ts)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	lines := server.written()
	if len(lines) != 2 {
		t.Fatalf("server received %d lines, want 2: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "subsystem,") || !strings.HasSuffix(lines[0], " 1700000000123") {
		t.Errorf("subsystem line = %q, want millisecond timestamp", lines[0])
	}
	if !strings.HasPrefix(lines[1], "scheduler,robot_id=bot-1 ") {
		t.Errorf("scheduler line = %q", lines[1])
	}
	if server.buckets[0] != "telemetry" {
		t.Errorf("bucket = %q", server.buckets[0])
	}

	// Writes after Close are dropped.
	client.WriteLoopSample("bot-1", influxdb.LoopSample{}, ts)
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestWrite_RejectedBatchIsLogged(t *testing.T) {
	server := &fakeServer{writeStatus: http.StatusBadRequest}
	client, err := influxdb.Connect(startServer(t, server))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()
	logger := &recordingLogger{}
	client.SetLogger(logger)

	client.WriteLoopSample("bot-1", influxdb.LoopSample{Ticks: 1}, time.Now())
	client.Close() //nolint:errcheck // flushes the rejected batch

	deadline := time.Now().Add(2 * time.Second)
	for logger.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("rejected batch was not logged")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealthCheck(t *testing.T) {
	server := &fakeServer{}
	client, err := influxdb.Connect(startServer(t, server))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	server.mu.Lock()
	server.pingStatus = http.StatusServiceUnavailable
	server.mu.Unlock()
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() error = nil with the server not ready")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() error = nil for a cancelled context")
	}
}

func TestZeroClient(t *testing.T) {
	client := &influxdb.Client{}
	client.WriteSubsystemSample("bot", influxdb.SubsystemSample{Subsystem: "arm"}, time.Now())
	client.WriteLoopSample("bot", influxdb.LoopSample{}, time.Now())
	client.SetLogger(nil)
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNewSubsystemPoint(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	p := influxdb.NewSubsystemPoint("bot-1", influxdb.SubsystemSample{
		Subsystem: "elevator",
		Mode:      "position_pid",
		Setpoint:  1.5,
		Position:  1.25,
		Velocity:  0.5,
		Healthy:   true,
		Failures:  2,
	}, ts)

	line := write.PointToLineProtocol(p, time.Second)
	for _, want := range []string{
		"subsystem,",
		"mode=position_pid",
		"robot_id=bot-1",
		"subsystem=elevator",
		"setpoint=1.5",
		"position=1.25",
		"error=0.25",
		"healthy=true",
		"failures=2u",
		" 1700000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
}

func TestNewLoopPoint(t *testing.T) {
	p := influxdb.NewLoopPoint("bot-1", influxdb.LoopSample{
		Behaviors: 4,
		Ticks:     500,
		Overruns:  1,
		LastDT:    0.01,
		MaxDT:     0.02,
	}, time.Unix(1700000000, 0))

	if p.Name() != influxdb.MeasurementScheduler {
		t.Errorf("Name() = %q, want %q", p.Name(), influxdb.MeasurementScheduler)
	}
	line := write.PointToLineProtocol(p, time.Second)
	for _, want := range []string{"ticks=500u", "overruns=1u", "max_dt=0.02", "behaviors=4i"} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
}
