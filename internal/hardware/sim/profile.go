package sim

import "math"

// trapezoid steps a constant-acceleration move toward a target. All values
// are native ticks, ticks/s and ticks/s².
type trapezoid struct {
	accel  float64
	cruise float64
}

// accelerateStep advances speed v toward targetV for dt, returning the
// distance covered and the new speed.
func (p trapezoid) accelerateStep(v, targetV, dt float64) (float64, float64) {
	if p.accel <= 0 || v >= targetV {
		return targetV * dt, targetV
	}
	tToTarget := (targetV - v) / p.accel
	if tToTarget <= dt {
		s1 := v*tToTarget + 0.5*p.accel*tToTarget*tToTarget
		s2 := targetV * (dt - tToTarget)
		return s1 + s2, targetV
	}
	return v*dt + 0.5*p.accel*dt*dt, v + p.accel*dt
}

// decelerateStep brakes speed v toward targetV for dt.
func (p trapezoid) decelerateStep(v, targetV, dt float64) (float64, float64) {
	if p.accel <= 0 || v <= targetV {
		return targetV * dt, targetV
	}
	tToTarget := (v - targetV) / p.accel
	if tToTarget <= dt {
		s1 := v*tToTarget - 0.5*p.accel*tToTarget*tToTarget
		s2 := targetV * (dt - tToTarget)
		return math.Max(0, s1) + s2, targetV
	}
	return math.Max(0, v*dt-0.5*p.accel*dt*dt), v - p.accel*dt
}

func (p trapezoid) brakingDistance(v float64) float64 {
	if p.accel <= 0 {
		return 0
	}
	return v * v / (2 * p.accel)
}

// step moves pos toward target with signed velocity vel. It returns the
// new position and velocity.
func (p trapezoid) step(pos, vel, target, dt float64) (float64, float64) {
	remaining := target - pos
	if math.Abs(remaining) < 0.5 && math.Abs(vel) < p.accel*dt+1 {
		return target, 0
	}

	dir := math.Copysign(1, remaining)
	speed := vel * dir
	if speed < 0 {
		// Moving away from the target: brake to a stop first.
		dist, newSpeed := p.decelerateStep(-speed, 0, dt)
		return pos - dir*dist, -dir * newSpeed
	}

	var dist, newSpeed float64
	if p.brakingDistance(speed) >= math.Abs(remaining) {
		dist, newSpeed = p.decelerateStep(speed, 0, dt)
	} else {
		dist, newSpeed = p.accelerateStep(speed, p.cruise, dt)
	}

	if dist >= math.Abs(remaining) {
		return target, 0
	}
	return pos + dir*dist, dir * newSpeed
}
