package game

import (
	"fmt"
	"math"

	"danmaku/internal/game/vmath"
)

// LaserID identifies a laser. Laser ids share the bullet id counter so hit
// cooldowns never confuse a laser with a bullet.
type LaserID uint64

// PathFunc returns the offset from the laser origin of the point at
// fraction s in [0, 1] along the laser, elapsed seconds after it spawned.
type PathFunc func(elapsed, s float32) vmath.Vec2

// LaserSpec describes a laser at spawn.
type LaserSpec struct {
	Name      string
	Origin    vmath.Vec2
	Direction vmath.Vec2 // used by the default straight path
	Length    float32    // used by the default straight path
	Segments  int
	Width     float32 // collision half-width, added to the receiver radius
	Path      PathFunc

	// SampleInterval spaces path resampling in seconds; 0 resamples every
	// tick. Sampling is driven by a counter compared with simulation time.
	SampleInterval float32
	Lifetime       float32 // seconds; 0 lives until removed
	PlayerOwned    bool
	NonPiercing    bool
	Damage         float32
}

// Laser is a path-following projectile made of a polyline of Segments
// segments.
//
// A non-piercing laser's active length (in segments) is cut back to the
// first segment that touches a receiver in the tick it happens, and regains
// a fixed fraction of the missing length each tick nothing is in the way.
type Laser struct {
	id         LaserID
	spec       LaserSpec
	dir        vmath.Vec2
	points     []vmath.Vec2
	active     float32
	spawned    float32
	nextSample float32
}

func newLaser(id LaserID, spec LaserSpec, now float32) *Laser {
	l := &Laser{
		id:      id,
		spec:    spec,
		dir:     spec.Direction.Normalize(),
		points:  make([]vmath.Vec2, spec.Segments+1),
		active:  float32(spec.Segments),
		spawned: now,
	}
	l.sample(now)
	return l
}

func validateLaser(s LaserSpec) error {
	switch {
	case s.Segments < 1:
		return fmt.Errorf("%w: laser needs at least one segment", ErrInvalidCommand)
	case s.Path == nil && !(s.Length > 0):
		return fmt.Errorf("%w: straight laser needs a positive length", ErrInvalidCommand)
	case s.Width < 0 || s.SampleInterval < 0 || s.Lifetime < 0:
		return fmt.Errorf("%w: negative laser parameter", ErrInvalidCommand)
	}
	return nil
}

// ID returns the laser id.
func (l *Laser) ID() LaserID { return l.id }

// Spec returns the spawn parameters.
func (l *Laser) Spec() LaserSpec { return l.spec }

// Points returns the full sampled path. Owned by the laser.
func (l *Laser) Points() []vmath.Vec2 { return l.points }

// FullLength is the segment count.
func (l *Laser) FullLength() float32 { return float32(l.spec.Segments) }

// ActiveLength is the current length in segments, in (0, FullLength].
func (l *Laser) ActiveLength() float32 { return l.active }

// ActivePath appends the active part of the path to dst. The last point is
// interpolated when the active length ends mid-segment.
func (l *Laser) ActivePath(dst []vmath.Vec2) []vmath.Vec2 {
	k := int(l.active)
	if k > l.spec.Segments {
		k = l.spec.Segments
	}
	dst = append(dst, l.points[:k+1]...)
	if frac := l.active - float32(k); frac > 0 && k < l.spec.Segments {
		dst = append(dst, vmath.Lerp(l.points[k], l.points[k+1], frac))
	}
	return dst
}

func (l *Laser) sample(now float32) {
	elapsed := now - l.spawned
	n := l.spec.Segments
	for k := 0; k <= n; k++ {
		s := float32(k) / float32(n)
		var off vmath.Vec2
		if l.spec.Path != nil {
			off = l.spec.Path(elapsed, s)
		} else {
			off = l.dir.Scale(l.spec.Length * s)
		}
		l.points[k] = l.spec.Origin.Add(off)
	}
	if l.spec.SampleInterval > 0 {
		l.nextSample = now + l.spec.SampleInterval
	} else {
		l.nextSample = now
	}
}

// advance resamples the path when its counter is due and reports whether
// the laser has outlived its lifetime.
func (l *Laser) advance(now float32) (expired bool) {
	if l.spec.Lifetime > 0 && now-l.spawned >= l.spec.Lifetime {
		return true
	}
	if now >= l.nextSample {
		l.sample(now)
	}
	return false
}

// settle moves the active length toward target: instantly when shrinking,
// by fraction of the gap when growing. Growth never overshoots and snaps
// once within 1e-3.
func (l *Laser) settle(target, fraction float32) {
	if target > l.FullLength() {
		target = l.FullLength()
	}
	if l.active >= target {
		l.active = target
		return
	}
	l.active += (target - l.active) * fraction
	if target-l.active < 1e-3 {
		l.active = target
	}
}

// SpawnLaser adds a laser.
func (w *World) SpawnLaser(spec LaserSpec) (LaserID, error) {
	if err := validateLaser(spec); err != nil {
		return 0, err
	}
	if w.limits.MaxLasers > 0 && w.lasers.Count() >= w.limits.MaxLasers {
		return 0, fmt.Errorf("%w: lasers (max %d)", ErrLimitExceeded, w.limits.MaxLasers)
	}
	id := LaserID(w.ids.Next())
	l := newLaser(id, spec, w.Now())
	w.laserByID[id] = w.lasers.Add(l)
	return id, nil
}

// RemoveLaser deletes a laser; unknown ids are a no-op.
func (w *World) RemoveLaser(id LaserID) bool {
	h, ok := w.laserByID[id]
	if !ok {
		return false
	}
	delete(w.laserByID, id)
	ok = w.lasers.MarkForDeletion(h)
	if !w.inTick {
		w.lasers.Compact()
	}
	return ok
}

// Laser looks up a live laser.
func (w *World) Laser(id LaserID) (*Laser, bool) {
	h, ok := w.laserByID[id]
	if !ok {
		return nil, false
	}
	p, ok := w.lasers.Ptr(h)
	if !ok {
		return nil, false
	}
	return *p, true
}

// EachLaser visits lasers in spawn order.
func (w *World) EachLaser(fn func(*Laser) bool) {
	w.lasers.Each(func(_ int, l **Laser) bool { return fn(*l) })
}

// LaserCount returns the number of live lasers.
func (w *World) LaserCount() int { return w.lasers.Count() }

func (w *World) advanceLasers(now float32) {
	for i := 0; i < w.lasers.Len(); i++ {
		if w.lasers.Deleted(i) {
			continue
		}
		l := *w.lasers.At(i)
		if l.advance(now) {
			delete(w.laserByID, l.id)
			w.lasers.MarkIndex(i)
		}
	}
}

// lerpRecovery is the fraction of the missing length regained per tick.
func (w *World) lerpRecovery() float32 {
	f := float32(w.cfg.LaserRecovery)
	if !(f > 0) {
		return 1
	}
	return float32(math.Min(float64(f), 1))
}
