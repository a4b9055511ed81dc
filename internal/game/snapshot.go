package game

import (
	"sync/atomic"
	"time"

	"danmaku/internal/game/vmath"
)

// BulletSnapshot is an immutable copy of one bullet for rendering
type BulletSnapshot struct {
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	DX    float32 `json:"dx"`
	DY    float32 `json:"dy"`
	Scale float32 `json:"scale"`
}

// PoolSnapshot is one style's bullets. Bullets is capped; Count is the
// real number of live bullets.
type PoolSnapshot struct {
	Style     string           `json:"style"`
	Collider  string           `json:"collider"`
	Radius    float32          `json:"radius"`
	Color     string           `json:"color,omitempty"`
	Sprite    string           `json:"sprite,omitempty"`
	Cosmetic  bool             `json:"cosmetic,omitempty"`
	Count     int              `json:"count"`
	Truncated bool             `json:"truncated,omitempty"`
	Bullets   []BulletSnapshot `json:"bullets"`
}

// LaserSnapshot is an immutable laser for rendering
type LaserSnapshot struct {
	ID          LaserID      `json:"id"`
	Name        string       `json:"name"`
	Width       float32      `json:"width"`
	Active      float32      `json:"active"`
	PlayerOwned bool         `json:"playerOwned"`
	Points      []vmath.Vec2 `json:"points"` // active part only
}

// WorldSnapshot is a complete immutable world state for rendering and
// broadcast. Slices keep their capacity between reuses.
type WorldSnapshot struct {
	Sequence  uint64    `json:"sequence"`  // Monotonic sequence for ordering
	Timestamp time.Time `json:"timestamp"` // When snapshot was created
	Session   string    `json:"session,omitempty"`
	Seed      int64     `json:"seed"`
	Stats     TickStats `json:"stats"`

	Width  float32 `json:"width"`
	Height float32 `json:"height"`

	Pools     []PoolSnapshot  `json:"pools"`
	Lasers    []LaserSnapshot `json:"lasers"`
	Receivers []ReceiverState `json:"receivers"`
	Actors    []ActorState    `json:"actors"`
}

// BulletTotal counts the bullets copied into the snapshot.
func (s *WorldSnapshot) BulletTotal() int {
	n := 0
	for i := range s.Pools {
		n += len(s.Pools[i].Bullets)
	}
	return n
}

// SnapshotPool pre-allocates snapshots to avoid GC pressure
// Uses triple buffering for lock-free producer/consumer
type SnapshotPool struct {
	snapshots [3]WorldSnapshot // Triple buffer
	writeIdx  uint32           // atomic - producer index
	readIdx   uint32           // atomic - consumer index
	sequence  uint64           // atomic - monotonic sequence
	published atomic.Bool
}

// NewSnapshotPool creates an empty pool
func NewSnapshotPool() *SnapshotPool {
	return &SnapshotPool{}
}

// AcquireWrite gets the next write slot (producer only, called from the
// tick goroutine). Slices are reset but keep their capacity.
func (p *SnapshotPool) AcquireWrite() *WorldSnapshot {
	idx := atomic.AddUint32(&p.writeIdx, 1) % 3
	snap := &p.snapshots[idx]

	snap.Pools = snap.Pools[:0]
	snap.Lasers = snap.Lasers[:0]
	snap.Receivers = snap.Receivers[:0]
	snap.Actors = snap.Actors[:0]

	snap.Sequence = atomic.AddUint64(&p.sequence, 1)
	snap.Timestamp = time.Now()
	return snap
}

// PublishWrite marks write complete and advances read pointer
func (p *SnapshotPool) PublishWrite() {
	atomic.StoreUint32(&p.readIdx, atomic.LoadUint32(&p.writeIdx))
	p.published.Store(true)
}

// AcquireRead gets the latest complete snapshot (consumer only). Returns
// nil before the first publish. A reader must be done with it within two
// further publishes.
func (p *SnapshotPool) AcquireRead() *WorldSnapshot {
	if !p.published.Load() {
		return nil
	}
	idx := atomic.LoadUint32(&p.readIdx) % 3
	return &p.snapshots[idx]
}

// FillSnapshot copies the world into snap, at most maxBullets bullets per
// pool (0 means no cap).
func (w *World) FillSnapshot(snap *WorldSnapshot, maxBullets int) {
	snap.Seed = w.seed
	snap.Stats = w.stats
	snap.Width = w.max.X - w.min.X
	snap.Height = w.max.Y - w.min.Y

	w.pools.Each(func(_ int, e **poolEntry) bool {
		p := (*e).pool
		st := p.Style()
		snap.Pools = extend(snap.Pools)
		ps := &snap.Pools[len(snap.Pools)-1]
		bullets := ps.Bullets[:0]
		*ps = PoolSnapshot{
			Style:    st.Name,
			Collider: st.Collider.Kind.String(),
			Radius:   st.Collider.MaxRadius(),
			Color:    st.Render.Color,
			Sprite:   st.Render.Sprite,
			Cosmetic: st.NonColliding,
			Count:    p.Count(),
		}
		p.Each(func(i int) bool {
			if maxBullets > 0 && len(bullets) >= maxBullets {
				ps.Truncated = true
				return false
			}
			pos, dir := p.Position(i), p.Direction(i)
			bullets = append(bullets, BulletSnapshot{X: pos.X, Y: pos.Y, DX: dir.X, DY: dir.Y, Scale: p.Scale(i)})
			return true
		})
		ps.Bullets = bullets
		return true
	})

	w.lasers.Each(func(_ int, l **Laser) bool {
		snap.Lasers = extend(snap.Lasers)
		ls := &snap.Lasers[len(snap.Lasers)-1]
		points := ls.Points[:0]
		*ls = LaserSnapshot{
			ID:          (*l).id,
			Name:        (*l).spec.Name,
			Width:       (*l).spec.Width,
			Active:      (*l).active,
			PlayerOwned: (*l).spec.PlayerOwned,
			Points:      (*l).ActivePath(points),
		}
		return true
	})

	w.EachReceiver(func(r ReceiverState) bool {
		snap.Receivers = append(snap.Receivers, r)
		return true
	})
	w.EachActor(func(a ActorState) bool {
		snap.Actors = append(snap.Actors, a)
		return true
	})
}

// extend grows s by one element, reusing the element left past len by an
// earlier fill so its nested slices keep their capacity.
func extend[T any](s []T) []T {
	if len(s) < cap(s) {
		return s[:len(s)+1]
	}
	var zero T
	return append(s, zero)
}
