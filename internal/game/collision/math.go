// Package collision holds the exact shape tests run after the broad phase.
//
// Every function is pure and works on squared distances, so the per-tick hot
// path never takes a square root. Degenerate shapes (non-positive or NaN
// radius, zero-length segment, non-positive extents) never collide.
package collision

import "danmaku/internal/game/vmath"

// Result is the outcome of one test. A bullet can graze without colliding,
// collide and graze, or neither; the flags are independent.
type Result struct {
	Collided bool
	Grazed   bool
}

// Any reports whether either flag is set.
func (r Result) Any() bool { return r.Collided || r.Grazed }

func positive(r float32) bool { return r > 0 } // false for NaN

func sq(f float32) float32 { return f * f }

// CircleCircle tests two circles. Symmetric in its arguments.
func CircleCircle(a vmath.Vec2, ra float32, b vmath.Vec2, rb float32) bool {
	if !positive(ra) || !positive(rb) {
		return false
	}
	return a.DistSq(b) < sq(ra+rb)
}

// CircleCircleGraze tests a receiver circle (a, ra) against a bullet circle
// (b, rb). graze is the reach of the graze ring beyond ra; zero disables it.
func CircleCircleGraze(a vmath.Vec2, ra float32, b vmath.Vec2, rb, graze float32) Result {
	if !positive(ra) || !positive(rb) {
		return Result{}
	}
	d := a.DistSq(b)
	return Result{
		Collided: d < sq(ra+rb),
		Grazed:   positive(graze) && d < sq(ra+rb+graze),
	}
}

// rectDistSq is the squared distance from c to the rectangle centered at rc
// with the given half extents, rotated by (cos, sin). Zero when c is inside.
func rectDistSq(c, rc, half vmath.Vec2, cos, sin float32) float32 {
	return boxDistSq(c.Sub(rc).Unrotate(cos, sin), half)
}

// boxDistSq is rectDistSq for a point already in the box's frame.
func boxDistSq(local, half vmath.Vec2) float32 {
	nearest := vmath.V(
		clamp(local.X, -half.X, half.X),
		clamp(local.Y, -half.Y, half.Y),
	)
	return local.DistSq(nearest)
}

// CircleRect tests a circle against an oriented rectangle. (cos, sin) is the
// rectangle's rotation; pass (1, 0) for an axis-aligned box.
func CircleRect(c vmath.Vec2, r float32, rc, half vmath.Vec2, cos, sin float32) bool {
	if !positive(r) || !positive(half.X) || !positive(half.Y) {
		return false
	}
	return rectDistSq(c, rc, half, cos, sin) < sq(r)
}

// CircleRectGraze is CircleRect plus the graze ring around the circle.
func CircleRectGraze(c vmath.Vec2, r float32, rc, half vmath.Vec2, cos, sin, graze float32) Result {
	if !positive(r) || !positive(half.X) || !positive(half.Y) {
		return Result{}
	}
	d := rectDistSq(c, rc, half, cos, sin)
	return Result{
		Collided: d < sq(r),
		Grazed:   positive(graze) && d < sq(r+graze),
	}
}

// RectRect tests two oriented rectangles with the separating axis theorem.
// Each rectangle is a center, half extents and its rotation as (cos, sin).
// Rectangles that only touch do not collide.
func RectRect(ca, ha vmath.Vec2, cosA, sinA float32, cb, hb vmath.Vec2, cosB, sinB float32) bool {
	if !positive(ha.X) || !positive(ha.Y) || !positive(hb.X) || !positive(hb.Y) {
		return false
	}
	d := cb.Sub(ca)
	ax, ay := vmath.V(cosA, sinA), vmath.V(-sinA, cosA)
	bx, by := vmath.V(cosB, sinB), vmath.V(-sinB, cosB)
	for _, u := range [4]vmath.Vec2{ax, ay, bx, by} {
		ra := ha.X*abs(ax.Dot(u)) + ha.Y*abs(ay.Dot(u))
		rb := hb.X*abs(bx.Dot(u)) + hb.Y*abs(by.Dot(u))
		if abs(d.Dot(u)) >= ra+rb {
			return false
		}
	}
	return true
}

// SegmentRect tests the capsule around segment [s0, s1] with radius r
// against an oriented rectangle. r may be zero for a bare line.
func SegmentRect(s0, s1 vmath.Vec2, r float32, rc, half vmath.Vec2, cos, sin float32) bool {
	if !(r >= 0) || !positive(half.X) || !positive(half.Y) {
		return false
	}
	a := s0.Sub(rc).Unrotate(cos, sin)
	b := s1.Sub(rc).Unrotate(cos, sin)
	if !positive(b.DistSq(a)) {
		return false
	}
	if segmentCrossesBox(a, b.Sub(a), half) {
		return true
	}
	if !positive(r) {
		return false
	}

	// Apart, the closest pair involves an endpoint or a box corner.
	rsq := sq(r)
	if boxDistSq(a, half) < rsq || boxDistSq(b, half) < rsq {
		return true
	}
	corners := [4]vmath.Vec2{
		{X: half.X, Y: half.Y}, {X: -half.X, Y: half.Y},
		{X: half.X, Y: -half.Y}, {X: -half.X, Y: -half.Y},
	}
	for _, k := range corners {
		if dsq, _ := segmentDistSq(k, a, b); dsq < rsq {
			return true
		}
	}
	return false
}

// segmentCrossesBox clips p+t*d, t in [0, 1], against the box [-half, half]
// one slab at a time.
func segmentCrossesBox(p, d, half vmath.Vec2) bool {
	t0, t1 := float32(0), float32(1)
	slabs := [2][3]float32{{p.X, d.X, half.X}, {p.Y, d.Y, half.Y}}
	for _, s := range slabs {
		pos, dir, h := s[0], s[1], s[2]
		if dir == 0 {
			if pos <= -h || pos >= h {
				return false
			}
			continue
		}
		lo, hi := (-h-pos)/dir, (h-pos)/dir
		if lo > hi {
			lo, hi = hi, lo
		}
		t0, t1 = max(t0, lo), min(t1, hi)
		if t0 > t1 {
			return false
		}
	}
	return true
}

// segmentDistSq returns the squared distance from c to segment [s0, s1] and
// false for a zero-length segment.
func segmentDistSq(c, s0, s1 vmath.Vec2) (float32, bool) {
	d := s1.Sub(s0)
	lsq := d.LenSq()
	if !positive(lsq) {
		return 0, false
	}
	t := clamp(c.Sub(s0).Dot(d)/lsq, 0, 1)
	return c.DistSq(s0.Add(d.Scale(t))), true
}

// CircleSegment tests a circle against the segment [s0, s1].
func CircleSegment(c vmath.Vec2, r float32, s0, s1 vmath.Vec2) bool {
	if !positive(r) {
		return false
	}
	d, ok := segmentDistSq(c, s0, s1)
	return ok && d < sq(r)
}

// CircleSegmentGraze is CircleSegment plus the graze ring around the circle.
func CircleSegmentGraze(c vmath.Vec2, r float32, s0, s1 vmath.Vec2, graze float32) Result {
	if !positive(r) {
		return Result{}
	}
	d, ok := segmentDistSq(c, s0, s1)
	if !ok {
		return Result{}
	}
	return Result{
		Collided: d < sq(r),
		Grazed:   positive(graze) && d < sq(r+graze),
	}
}

// CirclePolyline tests a circle against the run of segments through points
// and returns the index of the first colliding segment (segment i joins
// points[i] and points[i+1]), or -1.
func CirclePolyline(c vmath.Vec2, r float32, points []vmath.Vec2) int {
	if !positive(r) {
		return -1
	}
	rsq := sq(r)
	for i := 0; i+1 < len(points); i++ {
		if d, ok := segmentDistSq(c, points[i], points[i+1]); ok && d < rsq {
			return i
		}
	}
	return -1
}

// CirclePolylineGraze returns the joint result over all segments together
// with the first colliding segment index (-1 when nothing collided). Grazing
// is reported even when no segment collides.
func CirclePolylineGraze(c vmath.Vec2, r float32, points []vmath.Vec2, graze float32) (Result, int) {
	var res Result
	if !positive(r) {
		return res, -1
	}
	rsq := sq(r)
	gsq := sq(r + graze)
	doGraze := positive(graze)
	for i := 0; i+1 < len(points); i++ {
		d, ok := segmentDistSq(c, points[i], points[i+1])
		if !ok {
			continue
		}
		if doGraze && d < gsq {
			res.Grazed = true
		}
		if d < rsq {
			res.Collided = true
			return res, i
		}
	}
	return res, -1
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
