package game

import (
	"fmt"
	"math"

	"danmaku/internal/game/bullets"
	"danmaku/internal/game/collections"
	"danmaku/internal/game/collision"
	"danmaku/internal/game/vmath"
)

// DefaultHitCooldownTicks is the invulnerability window against the same
// indestructible bullet or laser when a receiver does not set its own.
const DefaultHitCooldownTicks = 30

// ReceiverKind is the closed set of things bullets can hit.
type ReceiverKind uint8

const (
	// ReceiverPlayer is a circular hitbox with a graze ring. It receives
	// enemy-owned bullets and is tested against its live position.
	ReceiverPlayer ReceiverKind = iota + 1
	// ReceiverEnemy is a circular enemy. It receives player-owned bullets
	// through the frozen per-tick snapshot.
	ReceiverEnemy
	// ReceiverCollider is an enemy with an oriented rectangle hurtbox,
	// also dispatched through the frozen snapshot.
	ReceiverCollider
)

func (k ReceiverKind) String() string {
	switch k {
	case ReceiverPlayer:
		return "player"
	case ReceiverEnemy:
		return "enemy"
	case ReceiverCollider:
		return "collider"
	}
	return fmt.Sprintf("receiver(%d)", uint8(k))
}

// IsEnemy reports whether the kind receives player-owned fire.
func (k ReceiverKind) IsEnemy() bool { return k == ReceiverEnemy || k == ReceiverCollider }

// ReceiverID identifies a registered receiver. Ids are never reused.
type ReceiverID uint32

// ReceiverSpec describes a receiver at registration.
type ReceiverSpec struct {
	Kind     ReceiverKind
	Name     string
	Position func() vmath.Vec2
	Radius   float32 // player and enemy kinds

	// Collider kind only: half extents and rotation of the hurtbox.
	HalfExtents vmath.Vec2
	Rotation    func() float32 // radians; nil is axis-aligned

	// GrazeRadius overrides the world's graze reach for a player; NoGraze
	// disables grazing for this receiver.
	GrazeRadius float32
	NoGraze     bool

	// Active gates the receiver for a whole tick (e.g. respawn
	// invulnerability). nil is always active.
	Active func() bool

	HitCooldownTicks int
	OnHit            func(Hit)
}

// Hit is delivered to a receiver's OnHit. Index is valid only until the end
// of the tick.
type Hit struct {
	Receiver ReceiverID
	Kind     ReceiverKind
	Style    string
	Index    int
	Bullet   BulletHandle
	BulletID uint64
	Laser    LaserID // non-zero for laser hits
	Segment  int     // first colliding laser segment, -1 for bullets
	Result   collision.Result
	Damage   float32
	Owner    bullets.OwnerData
	Position vmath.Vec2
}

// FrozenCollisionInfo is the per-tick copy of an enemy's collision state.
// Token is the receiver's handle; once the receiver is unregistered the
// token stops resolving and the entry is skipped.
type FrozenCollisionInfo struct {
	ID          ReceiverID
	Token       collections.Handle
	Kind        ReceiverKind
	Position    vmath.Vec2
	Radius      float32
	HalfExtents vmath.Vec2
	Cos, Sin    float32
	Active      bool
}

type receiver struct {
	id   ReceiverID
	spec ReceiverSpec
}

func (r *receiver) cooldownTicks() uint64 {
	if r.spec.HitCooldownTicks > 0 {
		return uint64(r.spec.HitCooldownTicks)
	}
	return DefaultHitCooldownTicks
}

func (r *receiver) active() bool {
	return r.spec.Active == nil || r.spec.Active()
}

func validateReceiver(s ReceiverSpec) error {
	bad := func(v float32) bool { return !(v > 0) || math.IsInf(float64(v), 0) }
	if s.Position == nil {
		return fmt.Errorf("%w: %s: missing position provider", ErrInvalidReceiver, s.Kind)
	}
	switch s.Kind {
	case ReceiverPlayer, ReceiverEnemy:
		if bad(s.Radius) {
			return fmt.Errorf("%w: %s: radius %v", ErrInvalidReceiver, s.Kind, s.Radius)
		}
	case ReceiverCollider:
		if bad(s.HalfExtents.X) || bad(s.HalfExtents.Y) {
			return fmt.Errorf("%w: collider half extents %v", ErrInvalidReceiver, s.HalfExtents)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidReceiver, s.Kind)
	}
	if s.GrazeRadius < 0 {
		return fmt.Errorf("%w: negative graze radius", ErrInvalidReceiver)
	}
	return nil
}

// RegisterReceiver adds a hit receiver. Registration during a tick takes
// effect in the next tick's dispatch.
func (w *World) RegisterReceiver(spec ReceiverSpec) (ReceiverID, error) {
	if err := validateReceiver(spec); err != nil {
		return 0, err
	}
	if w.limits.MaxReceivers > 0 && w.receivers.Count() >= w.limits.MaxReceivers {
		return 0, fmt.Errorf("%w: receivers (max %d)", ErrLimitExceeded, w.limits.MaxReceivers)
	}
	w.nextReceiver++
	id := w.nextReceiver
	h := w.receivers.Add(receiver{id: id, spec: spec})
	w.receiverByID[id] = h
	return id, nil
}

// UnregisterReceiver removes a receiver. Safe inside OnHit: later bullets in
// the same tick skip it.
func (w *World) UnregisterReceiver(id ReceiverID) bool {
	h, ok := w.receiverByID[id]
	if !ok {
		return false
	}
	delete(w.receiverByID, id)
	ok = w.receivers.MarkForDeletion(h)
	if !w.inTick {
		w.receivers.Compact()
	}
	return ok
}

// ReceiverCount returns the number of registered receivers.
func (w *World) ReceiverCount() int { return w.receivers.Count() }

// ReceiverState is a read-only view for snapshots and diagnostics.
type ReceiverState struct {
	ID          ReceiverID   `json:"id"`
	Name        string       `json:"name,omitempty"`
	Kind        ReceiverKind `json:"kind"`
	Position    vmath.Vec2   `json:"position"`
	Radius      float32      `json:"radius"`
	HalfExtents vmath.Vec2   `json:"halfExtents"`
}

// EachReceiver visits receivers in registration order.
func (w *World) EachReceiver(fn func(ReceiverState) bool) {
	w.receivers.Each(func(_ int, r *receiver) bool {
		return fn(ReceiverState{
			ID:          r.id,
			Name:        r.spec.Name,
			Kind:        r.spec.Kind,
			Position:    r.spec.Position(),
			Radius:      r.spec.Radius,
			HalfExtents: r.spec.HalfExtents,
		})
	})
}

// freezeEnemies captures every enemy receiver once, before any receiver of
// the tick runs.
func (w *World) freezeEnemies() {
	w.frozen = w.frozen[:0]
	w.receivers.Each(func(i int, r *receiver) bool {
		if !r.spec.Kind.IsEnemy() {
			return true
		}
		info := FrozenCollisionInfo{
			ID:          r.id,
			Token:       w.receivers.HandleAt(i),
			Kind:        r.spec.Kind,
			Position:    r.spec.Position(),
			Radius:      r.spec.Radius,
			HalfExtents: r.spec.HalfExtents,
			Cos:         1,
			Active:      r.active(),
		}
		if r.spec.Kind == ReceiverCollider && r.spec.Rotation != nil {
			a := float64(r.spec.Rotation())
			info.Cos, info.Sin = float32(math.Cos(a)), float32(math.Sin(a))
		}
		w.frozen = append(w.frozen, info)
		return true
	})
}

// FrozenSnapshot returns the enemy snapshot of the current or last tick.
func (w *World) FrozenSnapshot() []FrozenCollisionInfo { return w.frozen }
