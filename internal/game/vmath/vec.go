// Package vmath holds the float32 vector type shared by the simulation core.
//
// Everything here is a value type with no allocation; the hot per-tick path
// (motion integration, bucket rebuild, collision tests) passes Vec2 by value.
package vmath

import "math"

// Vec2 is a world-space point or direction.
type Vec2 struct {
	X float32 `json:"x" msgpack:"x"`
	Y float32 `json:"y" msgpack:"y"`
}

// V is shorthand for Vec2{x, y}.
func V(x, y float32) Vec2 { return Vec2{X: x, Y: y} }

func (a Vec2) Add(b Vec2) Vec2       { return Vec2{a.X + b.X, a.Y + b.Y} }
func (a Vec2) Sub(b Vec2) Vec2       { return Vec2{a.X - b.X, a.Y - b.Y} }
func (a Vec2) Scale(s float32) Vec2  { return Vec2{a.X * s, a.Y * s} }
func (a Vec2) Dot(b Vec2) float32    { return a.X*b.X + a.Y*b.Y }
func (a Vec2) Cross(b Vec2) float32  { return a.X*b.Y - a.Y*b.X }
func (a Vec2) LenSq() float32        { return a.X*a.X + a.Y*a.Y }
func (a Vec2) DistSq(b Vec2) float32 { return a.Sub(b).LenSq() }

// Len uses a square root; keep it off the collision path.
func (a Vec2) Len() float32 {
	return float32(math.Sqrt(float64(a.LenSq())))
}

// Normalize returns a unit vector, or (1, 0) for a zero-length input so that
// rotated colliders always get a usable frame.
func (a Vec2) Normalize() Vec2 {
	l := a.Len()
	if l == 0 || isNaN(l) {
		return Vec2{1, 0}
	}
	return Vec2{a.X / l, a.Y / l}
}

// Rotate rotates a by the angle whose cosine and sine are given.
func (a Vec2) Rotate(cos, sin float32) Vec2 {
	return Vec2{a.X*cos - a.Y*sin, a.X*sin + a.Y*cos}
}

// Unrotate applies the inverse rotation of Rotate.
func (a Vec2) Unrotate(cos, sin float32) Vec2 {
	return Vec2{a.X*cos + a.Y*sin, -a.X*sin + a.Y*cos}
}

// Lerp interpolates between a and b.
func Lerp(a, b Vec2, t float32) Vec2 {
	return Vec2{a.X + (b.X-a.X)*t, a.Y + (b.Y-a.Y)*t}
}

// FromAngle returns the unit vector for angle radians.
func FromAngle(angle float64) Vec2 {
	return Vec2{float32(math.Cos(angle)), float32(math.Sin(angle))}
}

// Min returns the component-wise minimum.
func Min(a, b Vec2) Vec2 {
	return Vec2{min(a.X, b.X), min(a.Y, b.Y)}
}

// Max returns the component-wise maximum.
func Max(a, b Vec2) Vec2 {
	return Vec2{max(a.X, b.X), max(a.Y, b.Y)}
}

// IsFinite reports whether both components are finite numbers.
func (a Vec2) IsFinite() bool {
	return !isNaN(a.X) && !isNaN(a.Y) && !math.IsInf(float64(a.X), 0) && !math.IsInf(float64(a.Y), 0)
}

func isNaN(f float32) bool { return f != f }
