package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by robocore.
const (
	MeasurementSubsystem = "subsystem"
	MeasurementScheduler = "scheduler"
)

// SubsystemSample is one telemetry reading of a mechanism, in physical units.
type SubsystemSample struct {
	Subsystem string
	Mode      string
	Setpoint  float64
	Position  float64
	Velocity  float64
	Healthy   bool
	Failures  uint64
}

// LoopSample is one reading of the scheduler's statistics.
type LoopSample struct {
	Behaviors int
	Ticks     uint64
	Faults    uint64
	Overruns  uint64
	LastDT    float64
	MaxDT     float64
}

// NewSubsystemPoint builds the point for a subsystem sample.
//
// Tags are low-cardinality identifiers (robot, subsystem, mode); the
// readings are fields.
func NewSubsystemPoint(robotID string, s SubsystemSample, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSubsystem,
		map[string]string{
			"robot_id":  robotID,
			"subsystem": s.Subsystem,
			"mode":      s.Mode,
		},
		map[string]interface{}{
			"setpoint": s.Setpoint,
			"position": s.Position,
			"velocity": s.Velocity,
			"error":    s.Setpoint - s.Position,
			"healthy":  s.Healthy,
			"failures": s.Failures,
		},
		ts,
	)
}

// NewLoopPoint builds the point for a scheduler sample.
func NewLoopPoint(robotID string, l LoopSample, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementScheduler,
		map[string]string{
			"robot_id": robotID,
		},
		map[string]interface{}{
			"behaviors": l.Behaviors,
			"ticks":     l.Ticks,
			"faults":    l.Faults,
			"overruns":  l.Overruns,
			"last_dt":   l.LastDT,
			"max_dt":    l.MaxDT,
		},
		ts,
	)
}

// WriteSubsystemSample queues a subsystem sample for the next batch.
func (c *Client) WriteSubsystemSample(robotID string, s SubsystemSample, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(NewSubsystemPoint(robotID, s, ts))
}

// WriteLoopSample queues a scheduler sample for the next batch.
func (c *Client) WriteLoopSample(robotID string, l LoopSample, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(NewLoopPoint(robotID, l, ts))
}
