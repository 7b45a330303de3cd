package api

import (
	"net/http"
	"runtime"
	"slices"
	"time"

	"github.com/nerrad567/robocore/internal/action"
	"github.com/nerrad567/robocore/internal/scheduler"
	"github.com/nerrad567/robocore/internal/telemetry"
)

// Metrics is the body of GET /api/v1/metrics. Sections for optional
// dependencies are omitted when the dependency is not wired.
type Metrics struct {
	Time          time.Time            `json:"time"`
	RobotID       string               `json:"robot_id"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Loop          *scheduler.Stats     `json:"loop,omitempty"`
	Routines      action.LauncherStats `json:"routines"`
	Subsystems    SubsystemHealth      `json:"subsystems"`
	Telemetry     *telemetry.Stats     `json:"telemetry,omitempty"`
	EventStream   HubStats             `json:"event_stream"`
	MQTT          *BrokerMetrics       `json:"mqtt,omitempty"`
	Database      *StoreMetrics        `json:"database,omitempty"`
	Process       ProcessMetrics       `json:"process"`
}

// SubsystemHealth counts mechanisms and names the unhealthy ones.
type SubsystemHealth struct {
	Total     int      `json:"total"`
	Healthy   int      `json:"healthy"`
	Unhealthy []string `json:"unhealthy,omitempty"`
}

// BrokerMetrics reports the MQTT connection.
type BrokerMetrics struct {
	Connected bool `json:"connected"`
}

// StoreMetrics is the part of the SQLite pool state worth watching. With a
// single connection, a rising WaitCount means writers are queueing.
type StoreMetrics struct {
	InUse        int   `json:"in_use"`
	WaitCount    int64 `json:"wait_count"`
	WaitMillis   int64 `json:"wait_ms"`
	SchemaLatest bool  `json:"schema_latest"`
}

// ProcessMetrics is a small slice of runtime state.
type ProcessMetrics struct {
	Goroutines int     `json:"goroutines"`
	HeapMB     float64 `json:"heap_mb"`
	NumGC      uint32  `json:"num_gc"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := Metrics{
		Time:          time.Now().UTC(),
		RobotID:       s.robotID,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Routines:      s.launcher.Stats(),
		EventStream:   s.hub.Stats(),
		Process:       processMetrics(),
	}

	for _, name := range s.order {
		m.Subsystems.Total++
		if s.subsystems[name].Snapshot().Healthy {
			m.Subsystems.Healthy++
		} else {
			m.Subsystems.Unhealthy = append(m.Subsystems.Unhealthy, name)
		}
	}
	slices.Sort(m.Subsystems.Unhealthy)

	if s.loop != nil {
		st := s.loop.Stats()
		m.Loop = &st
	}
	if s.telemetry != nil {
		st := s.telemetry.Stats()
		m.Telemetry = &st
	}
	if s.mqtt != nil {
		m.MQTT = &BrokerMetrics{Connected: s.mqtt.IsConnected()}
	}
	if s.db != nil {
		st := s.db.Stats()
		m.Database = &StoreMetrics{
			InUse:      st.InUse,
			WaitCount:  st.WaitCount,
			WaitMillis: st.WaitDuration.Milliseconds(),
		}
		if schema, err := s.db.SchemaStatus(r.Context()); err == nil {
			m.Database.SchemaLatest = schema.Current()
		}
	}

	writeJSON(w, http.StatusOK, m)
}

func processMetrics() ProcessMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return ProcessMetrics{
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     float64(mem.HeapAlloc) / (1 << 20),
		NumGC:      mem.NumGC,
	}
}
