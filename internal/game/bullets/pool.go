package bullets

import (
	"fmt"

	"danmaku/internal/game/collections"
	"danmaku/internal/game/collision"
	"danmaku/internal/game/spatial"
	"danmaku/internal/game/vmath"
)

// IDSource hands out the monotonic bullet ids shared by every pool of one
// world. Ids key per-instance randomness and hit cooldowns.
type IDSource struct {
	next uint64
}

// Next returns a fresh id; the first id is 1.
func (s *IDSource) Next() uint64 {
	s.next++
	return s.next
}

// Peek returns the last id handed out.
func (s *IDSource) Peek() uint64 { return s.next }

// PoolConfig sizes a pool and its bucket grid.
type PoolConfig struct {
	Min, Max   vmath.Vec2 // grid bounds; also the culling rectangle
	CellSize   float32
	CullMargin float32 // bullets further than this outside the bounds expire; negative disables
	Capacity   int
	IDs        *IDSource // shared id counter; a private one is created when nil
}

// SpawnParams describes one bullet to add.
type SpawnParams struct {
	Position  vmath.Vec2
	Direction vmath.Vec2 // normalized on spawn
	Scale     float32    // non-positive means 1
	Owner     OwnerData  // kept only by player-owned styles
}

// Pool holds every bullet of one style in structure-of-arrays form.
//
// All slices share one length; index i of each describes the same bullet.
// Deleted bullets stay in place until CompactTick.
type Pool struct {
	style  Style
	reach  float32
	config PoolConfig

	positions  []vmath.Vec2
	directions []vmath.Vec2
	scales     []float32
	spawnTimes []float32
	ids        []uint64
	deleted    []bool
	markers    []collections.Handle
	owners     []OwnerData // nil unless the style is player-owned

	arena    collections.MarkerArena
	grid     *spatial.BucketGrid
	controls *collections.CompactingArray[Control]
	cull     *Pool

	now       float32
	maxScale  float32
	live      int
	pending   int
	frozen    bool
	gridValid bool
}

// NewPool validates the style and preallocates storage.
func NewPool(style Style, cfg PoolConfig) (*Pool, error) {
	if err := style.Validate(); err != nil {
		return nil, err
	}
	if cfg.IDs == nil {
		cfg.IDs = &IDSource{}
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 256
	}
	n := cfg.Capacity
	p := &Pool{
		style:      style,
		reach:      style.Collider.MaxRadius(),
		config:     cfg,
		positions:  make([]vmath.Vec2, 0, n),
		directions: make([]vmath.Vec2, 0, n),
		scales:     make([]float32, 0, n),
		spawnTimes: make([]float32, 0, n),
		ids:        make([]uint64, 0, n),
		deleted:    make([]bool, 0, n),
		markers:    make([]collections.Handle, 0, n),
		controls:   collections.NewCompactingArray[Control](4),
		maxScale:   1,
	}
	if style.PlayerOwned {
		p.owners = make([]OwnerData, 0, n)
	}
	if !style.NonColliding {
		p.grid = spatial.NewBucketGrid(cfg.Min, cfg.Max, cfg.CellSize, n)
	}
	return p, nil
}

// Style returns the pool's style.
func (p *Pool) Style() Style { return p.style }

// Name returns the style name.
func (p *Pool) Name() string { return p.style.Name }

// Len is the physical length, including bullets marked for deletion.
func (p *Pool) Len() int { return len(p.positions) }

// Count is the number of live bullets.
func (p *Pool) Count() int { return p.live }

// Pending is the number of bullets waiting for CompactTick.
func (p *Pool) Pending() int { return p.pending }

// Frozen reports whether spawning is currently rejected.
func (p *Pool) Frozen() bool { return p.frozen }

// Now is the simulation time of the last IntegrateMotion.
func (p *Pool) Now() float32 { return p.now }

// SetNow seeds the pool clock, used when a pool is created mid-run so that
// its first spawns get the world time.
func (p *Pool) SetNow(now float32) { p.now = now }

// Reach is the inflation a receiver adds to its own radius before querying:
// the collider's max radius times the largest live scale.
func (p *Pool) Reach() float32 { return p.reach * p.maxScale }

// Spawn appends a bullet and returns its index, valid until CompactTick.
func (p *Pool) Spawn(sp SpawnParams) (int, error) {
	if p.frozen {
		return -1, fmt.Errorf("spawn %s: %w", p.style.Name, ErrPoolFrozen)
	}
	scale := sp.Scale
	if !(scale > 0) {
		scale = 1
	}
	i := len(p.positions)
	p.positions = append(p.positions, sp.Position)
	p.directions = append(p.directions, sp.Direction.Normalize())
	p.scales = append(p.scales, scale)
	p.spawnTimes = append(p.spawnTimes, p.now)
	p.ids = append(p.ids, p.config.IDs.Next())
	p.deleted = append(p.deleted, false)
	p.markers = append(p.markers, p.arena.Alloc(i))
	if p.owners != nil {
		p.owners = append(p.owners, sp.Owner)
	}
	if scale > p.maxScale {
		p.maxScale = scale
	}
	p.live++
	p.gridValid = false
	return i, nil
}

// IntegrateMotion advances every live bullet in index order and expires the
// ones past their lifetime or outside the culling rectangle. now is the
// simulation time after the step. Returns the number of expired bullets.
//
// A motion error or panic stops integration at that bullet and is returned
// wrapped in ErrMotion; the pool is then partially stepped and the tick must
// not continue.
func (p *Pool) IntegrateMotion(dt, now float32) (expired int, err error) {
	p.now = now
	p.gridValid = false
	motion := p.style.Motion
	lifetime := p.style.Lifetime
	cur := -1
	if motion != nil {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s bullet %d: panic: %v", ErrMotion, p.style.Name, p.ids[cur], r)
			}
		}()
	}
	for i := range p.positions {
		if p.deleted[i] {
			continue
		}
		elapsed := now - p.spawnTimes[i]
		if motion != nil {
			cur = i
			d, merr := motion(MotionSample{
				Elapsed:   elapsed,
				Dt:        dt,
				Index:     i,
				ID:        p.ids[i],
				Position:  p.positions[i],
				Direction: p.directions[i],
				Scale:     p.scales[i],
			})
			if merr != nil {
				return expired, fmt.Errorf("%w: %s bullet %d: %w", ErrMotion, p.style.Name, p.ids[i], merr)
			}
			p.positions[i] = p.positions[i].Add(d)
		}
		if (lifetime > 0 && elapsed >= lifetime) || p.outside(p.positions[i]) {
			p.MarkDeleted(i)
			expired++
		}
	}
	return expired, nil
}

func (p *Pool) outside(pos vmath.Vec2) bool {
	m := p.config.CullMargin
	if m < 0 {
		return false
	}
	return pos.X < p.config.Min.X-m || pos.X > p.config.Max.X+m ||
		pos.Y < p.config.Min.Y-m || pos.Y > p.config.Max.Y+m ||
		!pos.IsFinite()
}

// RebuildBuckets refills the grid from the current positions and freezes the
// pool for the rest of the tick. Non-colliding pools have no grid and never
// freeze.
func (p *Pool) RebuildBuckets() {
	p.maxScale = 1
	for i := range p.scales {
		if !p.deleted[i] && p.scales[i] > p.maxScale {
			p.maxScale = p.scales[i]
		}
	}
	if p.grid == nil {
		return
	}
	p.grid.Clear()
	for i, pos := range p.positions {
		if !p.deleted[i] {
			p.grid.Insert(uint32(i), pos)
		}
	}
	p.frozen = true
	p.gridValid = true
}

// QueryRegion appends to dst the live bullets that may lie in [lo, hi] and
// returns it. With valid buckets the result is a superset drawn from the
// overlapping cells; otherwise every live bullet is checked against the box.
func (p *Pool) QueryRegion(lo, hi vmath.Vec2, dst []int) []int {
	if p.gridValid {
		for _, idx := range p.grid.QueryRegion(lo, hi) {
			if !p.deleted[idx] {
				dst = append(dst, int(idx))
			}
		}
		return dst
	}
	for i, pos := range p.positions {
		if p.deleted[i] {
			continue
		}
		if pos.X >= lo.X && pos.X <= hi.X && pos.Y >= lo.Y && pos.Y <= hi.Y {
			dst = append(dst, i)
		}
	}
	return dst
}

// Each calls fn for every live bullet in index order until fn returns false.
func (p *Pool) Each(fn func(i int) bool) {
	for i := range p.positions {
		if p.deleted[i] {
			continue
		}
		if !fn(i) {
			return
		}
	}
}

// MarkDeleted soft-deletes index i. Deleting twice is a no-op that returns
// false. Panics if i is out of range.
func (p *Pool) MarkDeleted(i int) bool {
	if p.deleted[i] {
		return false
	}
	p.deleted[i] = true
	p.live--
	p.pending++
	return true
}

// Delete soft-deletes through a handle; stale handles are ignored.
func (p *Pool) Delete(h collections.Handle) bool {
	i, ok := p.arena.Index(h)
	if !ok {
		return false
	}
	return p.MarkDeleted(i)
}

// IndexOf resolves a handle to the bullet's current index.
func (p *Pool) IndexOf(h collections.Handle) (int, bool) {
	i, ok := p.arena.Index(h)
	if !ok || p.deleted[i] {
		return -1, false
	}
	return i, true
}

// SetCullTarget attaches the cosmetic twin used by MakeCulledCopy.
func (p *Pool) SetCullTarget(twin *Pool) { p.cull = twin }

// CullTarget returns the twin, or nil.
func (p *Pool) CullTarget() *Pool { return p.cull }

// MakeCulledCopy spawns a non-colliding copy of bullet i in the cull twin.
// The caller deletes the original.
func (p *Pool) MakeCulledCopy(i int) (int, error) {
	if p.cull == nil {
		return -1, fmt.Errorf("%s: %w", p.style.Name, ErrNoCullPool)
	}
	return p.cull.Spawn(SpawnParams{
		Position:  p.positions[i],
		Direction: p.directions[i],
		Scale:     p.scales[i],
	})
}

// CompactTick removes deleted bullets, preserving order, and unfreezes the
// pool. Every index handed out earlier in the tick is invalid afterwards.
// Returns the number of removed bullets.
func (p *Pool) CompactTick() int {
	p.frozen = false
	p.gridValid = false
	if p.pending == 0 {
		return 0
	}
	removed := p.pending
	n := collections.Compact(len(p.positions),
		func(i int) bool { return p.deleted[i] },
		func(dst, src int) {
			p.positions[dst] = p.positions[src]
			p.directions[dst] = p.directions[src]
			p.scales[dst] = p.scales[src]
			p.spawnTimes[dst] = p.spawnTimes[src]
			p.ids[dst] = p.ids[src]
			p.deleted[dst] = false
			p.markers[dst] = p.markers[src]
			if p.owners != nil {
				p.owners[dst] = p.owners[src]
			}
			p.arena.Move(p.markers[dst], dst)
		},
		func(src int) { p.arena.Release(p.markers[src]) },
	)
	p.truncate(n)
	p.pending = 0
	return removed
}

// Clear drops every bullet without releasing storage. Outstanding handles go
// stale.
func (p *Pool) Clear() {
	p.arena.Reset()
	p.truncate(0)
	if p.grid != nil {
		p.grid.Clear()
	}
	p.live = 0
	p.pending = 0
	p.maxScale = 1
	p.frozen = false
	p.gridValid = false
}

func (p *Pool) truncate(n int) {
	p.positions = p.positions[:n]
	p.directions = p.directions[:n]
	p.scales = p.scales[:n]
	p.spawnTimes = p.spawnTimes[:n]
	p.ids = p.ids[:n]
	p.deleted = p.deleted[:n]
	clear(p.markers[n:])
	p.markers = p.markers[:n]
	if p.owners != nil {
		clear(p.owners[n:])
		p.owners = p.owners[:n]
	}
}

// Per-index accessors. All panic when i is out of range.

func (p *Pool) Position(i int) vmath.Vec2          { return p.positions[i] }
func (p *Pool) Direction(i int) vmath.Vec2         { return p.directions[i] }
func (p *Pool) Scale(i int) float32                { return p.scales[i] }
func (p *Pool) SpawnTime(i int) float32            { return p.spawnTimes[i] }
func (p *Pool) ID(i int) uint64                    { return p.ids[i] }
func (p *Pool) Deleted(i int) bool                 { return p.deleted[i] }
func (p *Pool) Handle(i int) collections.Handle    { return p.markers[i] }
func (p *Pool) SetDirection(i int, dir vmath.Vec2) { p.directions[i] = dir.Normalize() }
func (p *Pool) SetPosition(i int, pos vmath.Vec2)  { p.positions[i] = pos; p.gridValid = false }
func (p *Pool) Age(i int) float32                  { return p.now - p.spawnTimes[i] }
func (p *Pool) Radius(i int) float32               { return p.reach * p.scales[i] }
func (p *Pool) PositionsView() []vmath.Vec2        { return p.positions }
func (p *Pool) Grid() *spatial.BucketGrid          { return p.grid }

// Owner returns the owner payload of a player-owned bullet.
func (p *Pool) Owner(i int) (OwnerData, bool) {
	if p.owners == nil {
		return OwnerData{}, false
	}
	return p.owners[i], true
}

// Test runs the exact collision test between bullet i and a receiver circle,
// using the bullet's own scale and direction. graze is the receiver's graze
// reach beyond radius; zero disables grazing.
func (p *Pool) Test(i int, center vmath.Vec2, radius, graze float32) collision.Result {
	pos := p.positions[i]
	scale := p.scales[i]
	c := p.style.Collider
	switch c.Kind {
	case ColliderRect:
		dir := p.directions[i]
		return collision.CircleRectGraze(center, radius, pos, c.HalfExtents.Scale(scale), dir.X, dir.Y, graze)
	case ColliderSegment:
		half := p.directions[i].Scale(c.Length * scale / 2)
		return collision.CircleSegmentGraze(center, radius+c.Radius*scale, pos.Sub(half), pos.Add(half), graze)
	}
	return collision.CircleCircleGraze(center, radius, pos, c.Radius*scale, graze)
}

// TestRect tests bullet i against an oriented rectangle hurtbox with the
// bullet's own collider shape.
func (p *Pool) TestRect(i int, center, half vmath.Vec2, cos, sin float32) bool {
	pos := p.positions[i]
	scale := p.scales[i]
	c := p.style.Collider
	switch c.Kind {
	case ColliderRect:
		dir := p.directions[i]
		return collision.RectRect(pos, c.HalfExtents.Scale(scale), dir.X, dir.Y, center, half, cos, sin)
	case ColliderSegment:
		h := p.directions[i].Scale(c.Length * scale / 2)
		return collision.SegmentRect(pos.Sub(h), pos.Add(h), c.Radius*scale, center, half, cos, sin)
	}
	return collision.CircleRect(pos, c.Radius*scale, center, half, cos, sin)
}
