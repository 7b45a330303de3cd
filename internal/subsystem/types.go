package subsystem

import (
	"encoding/json"
	"math"
)

// PIDGains is a named, slot-numbered gain set.
type PIDGains struct {
	Name  string  `json:"name"`
	Slot  int     `json:"slot"`
	KP    float64 `json:"kp"`
	KI    float64 `json:"ki"`
	KD    float64 `json:"kd"`
	KF    float64 `json:"kf"`
	IZone float64 `json:"izone"`
}

// MotionConstraints limits motion in physical units. A NaN soft limit
// disables that side. CurveStrength 0 disables profile smoothing.
type MotionConstraints struct {
	ReverseSoftLimit float64
	ForwardSoftLimit float64
	CruiseVelocity   float64
	MaxAcceleration  float64
	CurveStrength    int
}

// Unconstrained returns constraints with both soft limits disabled and no
// velocity clamp.
func Unconstrained() MotionConstraints {
	return MotionConstraints{
		ReverseSoftLimit: math.NaN(),
		ForwardSoftLimit: math.NaN(),
	}
}

// Validate checks the constraints are physically sensible.
func (c MotionConstraints) Validate() error {
	if c.CruiseVelocity < 0 || c.MaxAcceleration < 0 {
		return ErrInvalidConstraints
	}
	if c.CurveStrength < 0 || c.CurveStrength > 8 {
		return ErrInvalidConstraints
	}
	if !math.IsNaN(c.ReverseSoftLimit) && !math.IsNaN(c.ForwardSoftLimit) && c.ReverseSoftLimit > c.ForwardSoftLimit {
		return ErrInvalidConstraints
	}
	return nil
}

// constraintsJSON carries disabled soft limits as null, since JSON has no NaN.
type constraintsJSON struct {
	ReverseSoftLimit *float64 `json:"reverse_soft_limit"`
	ForwardSoftLimit *float64 `json:"forward_soft_limit"`
	CruiseVelocity   float64  `json:"cruise_velocity"`
	MaxAcceleration  float64  `json:"max_acceleration"`
	CurveStrength    int      `json:"curve_strength"`
}

// MarshalJSON encodes disabled soft limits as null.
func (c MotionConstraints) MarshalJSON() ([]byte, error) {
	return json.Marshal(constraintsJSON{
		ReverseSoftLimit: nanToNil(c.ReverseSoftLimit),
		ForwardSoftLimit: nanToNil(c.ForwardSoftLimit),
		CruiseVelocity:   c.CruiseVelocity,
		MaxAcceleration:  c.MaxAcceleration,
		CurveStrength:    c.CurveStrength,
	})
}

// UnmarshalJSON decodes null or missing soft limits as disabled.
func (c *MotionConstraints) UnmarshalJSON(b []byte) error {
	var raw constraintsJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = MotionConstraints{
		ReverseSoftLimit: nilToNaN(raw.ReverseSoftLimit),
		ForwardSoftLimit: nilToNaN(raw.ForwardSoftLimit),
		CruiseVelocity:   raw.CruiseVelocity,
		MaxAcceleration:  raw.MaxAcceleration,
		CurveStrength:    raw.CurveStrength,
	}
	return nil
}

func nanToNil(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func nilToNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// NativeConstraints is MotionConstraints converted to hardware units, as
// handed to Backend.ApplyMotionConstraints.
type NativeConstraints struct {
	ReverseEnabled bool  `json:"reverse_enabled"`
	ReverseNative  int64 `json:"reverse_native"`
	ForwardEnabled bool  `json:"forward_enabled"`
	ForwardNative  int64 `json:"forward_native"`
	CruiseNative   int64 `json:"cruise_native"`
	AccelNative    int64 `json:"accel_native"`
	CurveStrength  int   `json:"curve_strength"`
	Slot           int   `json:"slot"`
}
