// Package bullets implements the per-style projectile pool.
//
// A Pool stores every live bullet of one style in parallel slices
// (structure of arrays) and owns a bucket grid over those slices. A tick
// drives each pool through a fixed phase order:
//
//	Spawn* -> IntegrateMotion -> RunControls -> RebuildBuckets
//	       -> QueryRegion / Test / MarkDeleted -> CompactTick
//
// Spawning is rejected once the buckets are built (the pool is frozen) and
// indices handed out during a tick are invalid after CompactTick. Persistent
// identity goes through collections.Handle.
package bullets

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"danmaku/internal/game/vmath"
)

var (
	// ErrInvalidCollider reports a malformed collider descriptor.
	ErrInvalidCollider = errors.New("invalid collider")
	// ErrInvalidStyle reports a style that cannot back a pool.
	ErrInvalidStyle = errors.New("invalid style")
	// ErrPoolFrozen is returned by Spawn after RebuildBuckets in the same tick.
	ErrPoolFrozen = errors.New("pool is frozen until the end of the tick")
	// ErrNoCullPool is returned by MakeCulledCopy on a pool without a cull twin.
	ErrNoCullPool = errors.New("pool has no cull target")
	// ErrMotion wraps a motion function that failed or panicked.
	ErrMotion = errors.New("motion failed")
)

// CullSuffix names the cosmetic twin pool of a style.
const CullSuffix = "#cull"

// ColliderKind selects the collider shape.
type ColliderKind int

const (
	ColliderCircle ColliderKind = iota
	ColliderRect
	ColliderSegment
)

func (k ColliderKind) String() string {
	switch k {
	case ColliderCircle:
		return "circle"
	case ColliderRect:
		return "rect"
	case ColliderSegment:
		return "segment"
	}
	return fmt.Sprintf("collider(%d)", int(k))
}

// ParseColliderKind accepts the names produced by String.
func ParseColliderKind(s string) (ColliderKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "circle", "":
		return ColliderCircle, nil
	case "rect", "rectangle":
		return ColliderRect, nil
	case "segment", "line":
		return ColliderSegment, nil
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidCollider, s)
}

// Collider is the immutable shape shared by every bullet of a style, at
// scale 1. Rect and segment colliders are oriented along the bullet's
// direction.
type Collider struct {
	Kind        ColliderKind
	Radius      float32    // circle radius, or segment thickness
	HalfExtents vmath.Vec2 // rect only
	Length      float32    // segment only, centered on the bullet position
}

// Circle is shorthand for a circular collider.
func Circle(radius float32) Collider {
	return Collider{Kind: ColliderCircle, Radius: radius}
}

// Validate fails fast on shapes the collision tests would silently ignore.
func (c Collider) Validate() error {
	bad := func(v float32) bool { return !(v > 0) || math.IsInf(float64(v), 0) }
	switch c.Kind {
	case ColliderCircle:
		if bad(c.Radius) {
			return fmt.Errorf("%w: circle radius %v", ErrInvalidCollider, c.Radius)
		}
	case ColliderRect:
		if bad(c.HalfExtents.X) || bad(c.HalfExtents.Y) {
			return fmt.Errorf("%w: rect half extents %v", ErrInvalidCollider, c.HalfExtents)
		}
	case ColliderSegment:
		if bad(c.Length) {
			return fmt.Errorf("%w: segment length %v", ErrInvalidCollider, c.Length)
		}
		if c.Radius < 0 || c.Radius != c.Radius {
			return fmt.Errorf("%w: segment thickness %v", ErrInvalidCollider, c.Radius)
		}
	default:
		return fmt.Errorf("%w: %v", ErrInvalidCollider, c.Kind)
	}
	return nil
}

// MaxRadius bounds the collider's distance from the bullet position at
// scale 1, for any direction.
func (c Collider) MaxRadius() float32 {
	switch c.Kind {
	case ColliderRect:
		return c.HalfExtents.Len()
	case ColliderSegment:
		return c.Length/2 + c.Radius
	}
	return c.Radius
}

// RenderHint is passed through to snapshot consumers untouched.
type RenderHint struct {
	Color  string `json:"color,omitempty"`
	Sprite string `json:"sprite,omitempty"`
}

// Style describes one named category of bullets.
type Style struct {
	Name     string
	Collider Collider
	Motion   MotionFunc // nil means stationary
	Lifetime float32    // seconds; 0 never expires

	// Destructible bullets are culled when they hit. For player-owned styles
	// a non-destructible bullet pierces.
	Destructible bool
	PlayerOwned  bool
	NonColliding bool // cosmetic only, never bucketed or tested
	Damage       float32
	Render       RenderHint

	// Fingerprint identifies the definition a style was built from. Two
	// non-zero equal fingerprints mean the same shape and motion.
	Fingerprint uint64
}

// Validate checks the style can back a pool.
func (s Style) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidStyle)
	}
	if s.Lifetime < 0 {
		return fmt.Errorf("%w: %s: negative lifetime", ErrInvalidStyle, s.Name)
	}
	if err := s.Collider.Validate(); err != nil {
		return fmt.Errorf("style %s: %w", s.Name, err)
	}
	return nil
}

// CullStyle derives the non-colliding twin used for cancel effects.
func (s Style) CullStyle(lifetime float32) Style {
	c := s
	c.Name = s.Name + CullSuffix
	c.NonColliding = true
	c.Destructible = false
	c.Lifetime = lifetime
	return c
}

// IsCullStyle reports whether name is a cull twin.
func IsCullStyle(name string) bool {
	return strings.HasSuffix(name, CullSuffix)
}

// OwnerData is the payload attached to bullets of player-owned styles.
type OwnerData struct {
	Shooter string  `json:"shooter,omitempty"`
	Power   float32 `json:"power,omitempty"`
}
