package bullets

import (
	"math"

	"danmaku/internal/game/vmath"
)

// MotionSample is everything a motion function may read about one bullet.
// Elapsed is the bullet's age at the end of the step being integrated.
type MotionSample struct {
	Elapsed   float32
	Dt        float32
	Index     int
	ID        uint64
	Position  vmath.Vec2
	Direction vmath.Vec2
	Scale     float32
}

// MotionFunc returns the position delta for one step. It must be pure: the
// result may depend only on the sample, never on other bullets or on global
// state, so integration order cannot change the outcome. An error fails the
// tick.
type MotionFunc func(s MotionSample) (vmath.Vec2, error)

// Linear moves along the bullet's direction at a constant speed.
func Linear(speed float32) MotionFunc {
	return func(s MotionSample) (vmath.Vec2, error) {
		return s.Direction.Scale(speed * s.Dt), nil
	}
}

// Accelerating starts at speed and changes by accel per second, clamped to
// [0, maxSpeed] when maxSpeed > 0.
func Accelerating(speed, accel, maxSpeed float32) MotionFunc {
	return func(s MotionSample) (vmath.Vec2, error) {
		v := speed + accel*s.Elapsed
		if v < 0 {
			v = 0
		}
		if maxSpeed > 0 && v > maxSpeed {
			v = maxSpeed
		}
		return s.Direction.Scale(v * s.Dt), nil
	}
}

// Sine moves forward at speed while oscillating sideways with the given
// amplitude and frequency (Hz). Each bullet gets a phase offset derived from
// its id so a ring of sine bullets does not move in lockstep.
func Sine(speed, amplitude, frequency float32) MotionFunc {
	w := 2 * math.Pi * float64(frequency)
	return func(s MotionSample) (vmath.Vec2, error) {
		phase := 2 * math.Pi * float64(InstanceRand(s.ID, 0x51))
		lateral := float32(float64(amplitude)*w*math.Cos(w*float64(s.Elapsed)+phase)) * s.Dt
		perp := vmath.V(-s.Direction.Y, s.Direction.X)
		return s.Direction.Scale(speed * s.Dt).Add(perp.Scale(lateral)), nil
	}
}

// InstanceRand maps a bullet id and salt to a stable value in [0, 1).
// It replaces per-bullet random state: the same bullet always draws the same
// number, independent of how many other bullets exist.
func InstanceRand(id, salt uint64) float32 {
	// splitmix64 finalizer
	z := id ^ (salt * 0x9e3779b97f4a7c15)
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return float32(z>>40) / float32(1<<24)
}
