package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"danmaku/internal/config"
	"danmaku/internal/game/bullets"
	"danmaku/internal/game/collections"
	"danmaku/internal/game/vmath"
)

var (
	// ErrUnknownStyle is returned when a style key has no definition.
	ErrUnknownStyle = errors.New("unknown style")
	// ErrInvalidReceiver is returned by RegisterReceiver for malformed specs.
	ErrInvalidReceiver = errors.New("invalid receiver")
	// ErrLimitExceeded is returned when a resource limit would be crossed.
	ErrLimitExceeded = errors.New("resource limit exceeded")
	// ErrInvalidCommand is returned for commands that cannot be applied.
	ErrInvalidCommand = errors.New("invalid command")
)

// PoolIdleTicks is how long an empty pool with no controls survives before
// it is destroyed.
const PoolIdleTicks = 600

// BulletHandle identifies one bullet across compactions. Pool ids are never
// reused, so a handle into a cleared style stays "not found" forever.
type BulletHandle struct {
	Pool   uint32
	Marker collections.Handle
}

type poolEntry struct {
	id      uint32
	pool    *bullets.Pool
	twin    *poolEntry // cull twin; nil for non-colliding pools
	idle    int
	cleared bool
}

type binding struct {
	style string
	ctx   context.Context
}

// TickStats summarizes one tick.
type TickStats struct {
	Tick          uint64  `json:"tick"`
	Time          float32 `json:"time"`
	Pools         int     `json:"pools"`
	Bullets       int     `json:"bullets"`
	Lasers        int     `json:"lasers"`
	Receivers     int     `json:"receivers"`
	Spawned       int     `json:"spawned"`
	Expired       int     `json:"expired"`
	Compacted     int     `json:"compacted"`
	Hits          int     `json:"hits"`
	Grazes        int     `json:"grazes"`
	Kills         int     `json:"kills"`
	Candidates    int     `json:"candidates"`
	PrunedControl int     `json:"prunedControls"`
	CommandErrors int     `json:"commandErrors"`
}

// World owns every pool, receiver and laser of one simulation. It is not
// safe for concurrent use; Engine serializes access.
//
// Pools are processed in registration order and bullets in index order, and
// the only random source is the seeded rng advanced by command application,
// so identical seeds and command streams reproduce identical states.
type World struct {
	cfg    config.SimConfig
	limits config.ResourceLimits
	min    vmath.Vec2
	max    vmath.Vec2
	graze  float32

	styles     map[string]bullets.Style
	pools      *collections.CompactingArray[*poolEntry]
	byName     map[string]*poolEntry
	nextPoolID uint32
	ids        bullets.IDSource

	receivers    *collections.CompactingArray[receiver]
	receiverByID map[ReceiverID]collections.Handle
	nextReceiver ReceiverID
	frozen       []FrozenCollisionInfo

	lasers    *collections.CompactingArray[*Laser]
	laserByID map[LaserID]collections.Handle

	actors     map[string]*actor
	actorOrder []string

	bindings  []binding
	cooldowns *HitCooldowns
	rng       *rand.Rand
	seed      int64

	pending     []Command
	cmdErrors   []error
	clears      []string
	clearAll    bool
	inTick      bool
	clock       float64
	tick        uint64
	stats       TickStats
	events      EventSink
	scratch     []int
	pathScratch []vmath.Vec2
	players     []target
	enemies     []target
}

// NewWorld creates an empty world. The seed must be fixed for replays.
func NewWorld(cfg config.SimConfig, limits config.ResourceLimits, seed int64) *World {
	w := &World{
		cfg:          cfg,
		limits:       limits,
		min:          vmath.V(0, 0),
		max:          vmath.V(float32(cfg.Width), float32(cfg.Height)),
		graze:        float32(cfg.GrazeRadius),
		styles:       make(map[string]bullets.Style),
		pools:        collections.NewCompactingArray[*poolEntry](16),
		byName:       make(map[string]*poolEntry),
		receivers:    collections.NewCompactingArray[receiver](8),
		receiverByID: make(map[ReceiverID]collections.Handle),
		lasers:       collections.NewCompactingArray[*Laser](8),
		laserByID:    make(map[LaserID]collections.Handle),
		actors:       make(map[string]*actor),
		cooldowns:    NewHitCooldowns(),
		rng:          rand.New(rand.NewSource(seed)),
		seed:         seed,
		scratch:      make([]int, 0, 256),
	}
	return w
}

// SetEventSink routes gameplay events (hits, grazes, kills, clears).
func (w *World) SetEventSink(s EventSink) { w.events = s }

// Seed returns the RNG seed the world was created with.
func (w *World) Seed() int64 { return w.seed }

// TickCount returns the number of completed ticks.
func (w *World) TickCount() uint64 { return w.tick }

// Now returns the simulation time in seconds.
func (w *World) Now() float32 { return float32(w.clock) }

// Stats returns the statistics of the last tick.
func (w *World) Stats() TickStats { return w.stats }

// Bounds returns the play field rectangle.
func (w *World) Bounds() (min, max vmath.Vec2) { return w.min, w.max }

// DefineStyle adds or replaces a style definition. Replacing a style that
// already has a pool destroys that pool so the next spawn uses the new shape.
// Redefining a style with its current non-zero Fingerprint changes nothing
// and keeps its bullets.
func (w *World) DefineStyle(s bullets.Style) error {
	if bullets.IsCullStyle(s.Name) {
		return fmt.Errorf("%w: %s: reserved suffix %s", bullets.ErrInvalidStyle, s.Name, bullets.CullSuffix)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if old, ok := w.styles[s.Name]; ok && s.Fingerprint != 0 && old.Fingerprint == s.Fingerprint {
		return nil
	}
	if _, ok := w.byName[s.Name]; ok {
		w.ClearStyle(s.Name)
	}
	w.styles[s.Name] = s
	return nil
}

// Style returns a style definition.
func (w *World) Style(name string) (bullets.Style, bool) {
	s, ok := w.styles[name]
	return s, ok
}

// StyleNames returns the defined style keys, sorted.
func (w *World) StyleNames() []string {
	names := make([]string, 0, len(w.styles))
	for n := range w.styles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (w *World) poolConfig() bullets.PoolConfig {
	return bullets.PoolConfig{
		Min:        w.min,
		Max:        w.max,
		CellSize:   float32(w.cfg.CellSize),
		CullMargin: float32(w.cfg.CullMargin),
		Capacity:   w.cfg.PoolCapacity,
		IDs:        &w.ids,
	}
}

// poolFor returns the pool of a style, creating it (and its cull twin) on
// first use.
func (w *World) poolFor(name string) (*poolEntry, error) {
	if e, ok := w.byName[name]; ok {
		return e, nil
	}
	style, ok := w.styles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStyle, name)
	}
	need := 1
	if !style.NonColliding {
		need = 2
	}
	if w.limits.MaxPools > 0 && w.pools.Count()+need > w.limits.MaxPools {
		return nil, fmt.Errorf("%w: pools (max %d)", ErrLimitExceeded, w.limits.MaxPools)
	}

	e, err := w.addPool(style)
	if err != nil {
		return nil, err
	}
	if !style.NonColliding {
		twin, err := w.addPool(style.CullStyle(float32(w.cfg.CullLifetime)))
		if err != nil {
			return nil, err
		}
		e.twin = twin
		e.pool.SetCullTarget(twin.pool)
	}
	return e, nil
}

func (w *World) addPool(style bullets.Style) (*poolEntry, error) {
	p, err := bullets.NewPool(style, w.poolConfig())
	if err != nil {
		return nil, err
	}
	p.SetNow(w.Now())
	w.nextPoolID++
	e := &poolEntry{id: w.nextPoolID, pool: p}
	w.pools.Add(e)
	w.byName[style.Name] = e
	return e, nil
}

func (w *World) entryByID(id uint32) *poolEntry {
	// Pool ids grow with registration order, so the dense array is sorted.
	n := w.pools.Len()
	i := sort.Search(n, func(i int) bool { return (*w.pools.At(i)).id >= id })
	if i < n && !w.pools.Deleted(i) {
		if e := *w.pools.At(i); e.id == id {
			return e
		}
	}
	return nil
}

// Pool returns the live pool of a style.
func (w *World) Pool(name string) (*bullets.Pool, bool) {
	e, ok := w.byName[name]
	if !ok {
		return nil, false
	}
	return e.pool, true
}

// EachPool visits pools in registration order.
func (w *World) EachPool(fn func(id uint32, p *bullets.Pool) bool) {
	w.pools.Each(func(_ int, e **poolEntry) bool {
		return fn((*e).id, (*e).pool)
	})
}

// Spawn adds one bullet of the given style. Spawning into a pool whose
// buckets are already built for the current tick fails with
// bullets.ErrPoolFrozen; use Submit from inside hit callbacks.
func (w *World) Spawn(style string, pos, dir vmath.Vec2, scale float32) (BulletHandle, error) {
	return w.spawn(style, bullets.SpawnParams{Position: pos, Direction: dir, Scale: scale})
}

func (w *World) spawn(style string, sp bullets.SpawnParams) (BulletHandle, error) {
	e, err := w.poolFor(style)
	if err != nil {
		return BulletHandle{}, err
	}
	if w.limits.MaxBulletsPerPool > 0 && e.pool.Count() >= w.limits.MaxBulletsPerPool {
		return BulletHandle{}, fmt.Errorf("%w: %s holds %d bullets", ErrLimitExceeded, style, e.pool.Count())
	}
	i, err := e.pool.Spawn(sp)
	if err != nil {
		return BulletHandle{}, err
	}
	e.idle = 0
	w.stats.Spawned++
	return BulletHandle{Pool: e.id, Marker: e.pool.Handle(i)}, nil
}

// Delete soft-deletes a bullet. Stale handles are a no-op.
func (w *World) Delete(h BulletHandle) bool {
	e := w.entryByID(h.Pool)
	if e == nil {
		return false
	}
	return e.pool.Delete(h.Marker)
}

// Position resolves a handle to the bullet's position.
func (w *World) Position(h BulletHandle) (vmath.Vec2, bool) {
	e := w.entryByID(h.Pool)
	if e == nil {
		return vmath.Vec2{}, false
	}
	i, ok := e.pool.IndexOf(h.Marker)
	if !ok {
		return vmath.Vec2{}, false
	}
	return e.pool.Position(i), true
}

// QueryPool appends the candidate indices of a style's bullets in [lo, hi]
// to dst. Indices are valid until the next tick.
func (w *World) QueryPool(style string, lo, hi vmath.Vec2, dst []int) ([]int, error) {
	e, ok := w.byName[style]
	if !ok {
		if _, defined := w.styles[style]; defined || bullets.IsCullStyle(style) {
			return dst, nil
		}
		return dst, fmt.Errorf("%w: %q", ErrUnknownStyle, style)
	}
	return e.pool.QueryRegion(lo, hi, dst), nil
}

// AddControl attaches a control to a style's pool, creating the pool.
func (w *World) AddControl(style string, c bullets.Control) (collections.Handle, error) {
	e, err := w.poolFor(style)
	if err != nil {
		return collections.Handle{}, err
	}
	return e.pool.AddControl(c), nil
}

// BindStyle clears the style's pool once ctx is cancelled. The check runs
// once per tick.
func (w *World) BindStyle(style string, ctx context.Context) {
	w.bindings = append(w.bindings, binding{style: style, ctx: ctx})
}

// ClearStyle destroys a style's pool and its cull twin. Inside a tick the
// clear is deferred until collision dispatch has finished.
func (w *World) ClearStyle(style string) bool {
	e, ok := w.byName[style]
	if !ok {
		return false
	}
	if w.inTick {
		w.clears = append(w.clears, style)
		return true
	}
	w.destroy(e)
	if e.twin != nil {
		w.destroy(e.twin)
	}
	w.pools.Compact()
	w.emit(EventTypeClear, "", ClearPayload{Style: style, All: false})
	return true
}

// CancelStyle turns every live bullet of a style into its cosmetic cull
// copy, leaving the pool itself in place. Returns the number cancelled.
func (w *World) CancelStyle(style string) int {
	e, ok := w.byName[style]
	if !ok || e.twin == nil {
		return 0
	}
	n := 0
	e.pool.Each(func(i int) bool {
		if _, err := e.pool.MakeCulledCopy(i); err == nil {
			e.pool.MarkDeleted(i)
			n++
		}
		return true
	})
	return n
}

// ClearAll destroys every pool and laser. Receivers stay registered.
func (w *World) ClearAll() {
	if w.inTick {
		w.clearAll = true
		return
	}
	w.pools.Each(func(_ int, e **poolEntry) bool {
		w.destroy(*e)
		return true
	})
	w.pools.Compact()
	w.lasers.Each(func(_ int, l **Laser) bool {
		delete(w.laserByID, (*l).id)
		return true
	})
	w.lasers.Empty()
	w.bindings = w.bindings[:0]
	w.emit(EventTypeClear, "", ClearPayload{All: true})
}

func (w *World) destroy(e *poolEntry) {
	if e.cleared {
		return
	}
	e.cleared = true
	e.pool.Clear()
	if cur, ok := w.byName[e.pool.Name()]; ok && cur == e {
		delete(w.byName, e.pool.Name())
	}
	n := w.pools.Len()
	for i := 0; i < n; i++ {
		if *w.pools.At(i) == e {
			w.pools.MarkIndex(i)
			break
		}
	}
}

// BulletCount returns the number of live bullets across all pools.
func (w *World) BulletCount() int {
	total := 0
	w.pools.Each(func(_ int, e **poolEntry) bool {
		total += (*e).pool.Count()
		return true
	})
	return total
}

// PoolCount returns the number of live pools, cull twins included.
func (w *World) PoolCount() int { return w.pools.Count() }

// Submit queues a command for the start of the next tick. Safe to call from
// hit callbacks.
func (w *World) Submit(cmd Command) {
	w.pending = append(w.pending, cmd)
}

// CommandErrors returns the errors from commands applied in the last tick.
func (w *World) CommandErrors() []error { return w.cmdErrors }

func (w *World) emit(t EventType, source string, payload any) {
	if w.events == nil {
		return
	}
	w.events.EmitSimple(t, w.tick, source, payload)
}
