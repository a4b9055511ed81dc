package game

import (
	"fmt"
	"math"

	"danmaku/internal/game/bullets"
	"danmaku/internal/game/collections"
	"danmaku/internal/game/collision"
	"danmaku/internal/game/vmath"
)

// target is one receiver as seen by a dispatch phase. Players carry their
// live position, enemies the frozen one.
type target struct {
	id       ReceiverID
	token    collections.Handle
	kind     ReceiverKind
	pos      vmath.Vec2
	radius   float32
	half     vmath.Vec2
	cos, sin float32
	graze    float32
	cooldown uint64
}

// reach is the radius of the circle that encloses the target's hurtbox and
// graze ring.
func (t *target) reach() float32 {
	if t.kind == ReceiverCollider {
		return t.half.Len()
	}
	return t.radius + t.graze
}

// laserRadius approximates a collider by its bounding circle.
func (t *target) laserRadius() float32 {
	if t.kind == ReceiverCollider {
		return t.half.Len()
	}
	return t.radius
}

// Tick advances the world by dt seconds:
//
//  1. apply queued commands
//  2. advance the clock and drop pools whose binding context ended
//  3. integrate motion and run controls, pool by pool in registration order
//  4. resample lasers, rebuild buckets and freeze enemy state
//  5. dispatch enemy fire at players, then player fire at frozen enemies
//  6. apply deferred clears, compact everything and reap idle pools
//
// An invalid dt or a failing motion function fails the tick and leaves the
// world partially stepped; command errors are collected and exposed through
// CommandErrors.
func (w *World) Tick(dt float32) error {
	if !(dt > 0) || math.IsInf(float64(dt), 0) {
		return fmt.Errorf("tick %d: invalid dt %v", w.tick+1, dt)
	}
	w.stats = TickStats{}
	w.cmdErrors = w.cmdErrors[:0]

	w.applyPending()
	w.tick++
	w.clock += float64(dt)
	now := float32(w.clock)
	w.pruneBindings()

	w.inTick = true
	var motionErr error
	w.pools.Each(func(_ int, e **poolEntry) bool {
		p := (*e).pool
		expired, err := p.IntegrateMotion(dt, now)
		w.stats.Expired += expired
		if err != nil {
			motionErr = err
			return false
		}
		w.stats.PrunedControl += p.RunControls(now, dt)
		return true
	})
	if motionErr != nil {
		w.inTick = false
		return fmt.Errorf("tick %d: %w", w.tick, motionErr)
	}
	w.advanceLasers(now)
	w.pools.Each(func(_ int, e **poolEntry) bool {
		(*e).pool.RebuildBuckets()
		return true
	})
	w.freezeEnemies()

	w.dispatchPlayers()
	w.dispatchEnemies()
	w.inTick = false

	w.applyDeferredClears()
	w.compact()
	w.cooldowns.Prune(w.tick)
	w.fillStats(now)
	return nil
}

func (w *World) applyPending() {
	if len(w.pending) == 0 {
		return
	}
	cmds := w.pending
	w.pending = nil
	for _, c := range cmds {
		if err := w.apply(c); err != nil {
			w.cmdErrors = append(w.cmdErrors, fmt.Errorf("tick %d: %s: %w", w.tick+1, c.Kind, err))
		}
	}
	w.stats.CommandErrors = len(w.cmdErrors)
	// Commands submitted while applying run next tick.
	if w.pending == nil {
		w.pending = cmds[:0]
	}
}

func (w *World) pruneBindings() {
	kept := w.bindings[:0]
	for _, b := range w.bindings {
		if b.ctx.Err() != nil {
			w.ClearStyle(b.style)
			continue
		}
		kept = append(kept, b)
	}
	clear(w.bindings[len(kept):])
	w.bindings = kept
}

func (w *World) grazeFor(r *receiver) float32 {
	switch {
	case r.spec.NoGraze:
		return 0
	case r.spec.GrazeRadius > 0:
		return r.spec.GrazeRadius
	case r.spec.Kind == ReceiverPlayer:
		return w.graze
	}
	return 0
}

// dispatchPlayers tests every active player against enemy-owned pools and
// lasers using the player's live position.
func (w *World) dispatchPlayers() {
	players := w.players[:0]
	n := w.receivers.Len()
	for i := 0; i < n; i++ {
		if w.receivers.Deleted(i) {
			continue
		}
		r := w.receivers.At(i)
		if r.spec.Kind != ReceiverPlayer || !r.active() {
			continue
		}
		players = append(players, target{
			id:       r.id,
			token:    w.receivers.HandleAt(i),
			kind:     ReceiverPlayer,
			pos:      r.spec.Position(),
			radius:   r.spec.Radius,
			graze:    w.grazeFor(r),
			cooldown: r.cooldownTicks(),
		})
	}
	for ti := range players {
		t := &players[ti]
		for pi := 0; pi < w.pools.Len(); pi++ {
			if w.pools.Deleted(pi) {
				continue
			}
			e := *w.pools.At(pi)
			st := e.pool.Style()
			if st.NonColliding || st.PlayerOwned {
				continue
			}
			if !w.collideBullets(e, t) {
				break
			}
		}
	}
	w.dispatchLasers(false, players)
	w.players = players
}

// dispatchEnemies tests player-owned pools and lasers against the frozen
// enemy snapshot. Pools are the outer loop so a destructible bullet spent on
// one enemy is skipped by the rest.
func (w *World) dispatchEnemies() {
	enemies := w.enemies[:0]
	for _, f := range w.frozen {
		if !f.Active {
			continue
		}
		r, ok := w.receivers.Ptr(f.Token)
		if !ok {
			continue
		}
		enemies = append(enemies, target{
			id:       f.ID,
			token:    f.Token,
			kind:     f.Kind,
			pos:      f.Position,
			radius:   f.Radius,
			half:     f.HalfExtents,
			cos:      f.Cos,
			sin:      f.Sin,
			graze:    w.grazeFor(r),
			cooldown: r.cooldownTicks(),
		})
	}
	for pi := 0; pi < w.pools.Len(); pi++ {
		if w.pools.Deleted(pi) {
			continue
		}
		e := *w.pools.At(pi)
		st := e.pool.Style()
		if st.NonColliding || !st.PlayerOwned {
			continue
		}
		for ti := range enemies {
			if w.alive(&enemies[ti]) {
				w.collideBullets(e, &enemies[ti])
			}
		}
	}
	w.dispatchLasers(true, enemies)
	w.enemies = enemies
}

func (w *World) alive(t *target) bool {
	_, ok := w.receivers.Ptr(t.token)
	return ok
}

// collideBullets runs the broad and narrow phase of one pool against one
// target. It returns false once the target has been unregistered.
func (w *World) collideBullets(e *poolEntry, t *target) bool {
	p := e.pool
	if p.Count() == 0 {
		return true
	}
	mcd := t.reach() + p.Reach()
	span := vmath.V(mcd, mcd)
	w.scratch = p.QueryRegion(t.pos.Sub(span), t.pos.Add(span), w.scratch[:0])
	w.stats.Candidates += len(w.scratch)
	for _, i := range w.scratch {
		if p.Deleted(i) {
			continue
		}
		var res collision.Result
		if t.kind == ReceiverCollider {
			res.Collided = p.TestRect(i, t.pos, t.half, t.cos, t.sin)
		} else {
			res = p.Test(i, t.pos, t.radius, t.graze)
		}
		if !res.Any() {
			continue
		}
		if !w.deliverBullet(e, i, t, res) {
			return false
		}
	}
	return true
}

// deliverBullet filters a raw result through the hit and graze cooldowns,
// calls the receiver and applies the style's hit policy: destructible
// bullets are cancelled into the cull twin, the rest start a cooldown.
func (w *World) deliverBullet(e *poolEntry, i int, t *target, res collision.Result) bool {
	p := e.pool
	st := p.Style()
	id := p.ID(i)
	if res.Grazed {
		res.Grazed = w.cooldowns.Graze(id, t.id, w.tick)
	}
	if res.Collided && !st.Destructible && w.cooldowns.Blocked(id, t.id, w.tick) {
		res.Collided = false
	}
	if !res.Any() {
		return true
	}
	r, ok := w.receivers.Ptr(t.token)
	if !ok {
		return false
	}
	onHit := r.spec.OnHit

	hit := Hit{
		Receiver: t.id,
		Kind:     t.kind,
		Style:    st.Name,
		Index:    i,
		Bullet:   BulletHandle{Pool: e.id, Marker: p.Handle(i)},
		BulletID: id,
		Segment:  -1,
		Result:   res,
		Damage:   st.Damage,
		Position: p.Position(i),
	}
	hit.Owner, _ = p.Owner(i)
	w.record(hit)
	if onHit != nil {
		onHit(hit)
	}

	if res.Collided {
		if st.Destructible {
			// Pools without a twin drop the bullet outright.
			_, _ = p.MakeCulledCopy(i)
			p.MarkDeleted(i)
		} else {
			w.cooldowns.Start(id, t.id, w.tick, t.cooldown)
		}
	}
	return w.alive(t)
}

// dispatchLasers runs every laser owned by the given side against targets.
// Non-piercing lasers first settle their active length against the first
// segment any target blocks on the full path, then deliver on the active
// path only.
func (w *World) dispatchLasers(playerOwned bool, targets []target) {
	recovery := w.lerpRecovery()
	n := w.lasers.Len()
	for li := 0; li < n; li++ {
		if w.lasers.Deleted(li) {
			continue
		}
		l := *w.lasers.At(li)
		if l.spec.PlayerOwned != playerOwned {
			continue
		}
		width := l.spec.Width
		if l.spec.NonPiercing {
			first := -1
			for ti := range targets {
				t := &targets[ti]
				if !w.alive(t) {
					continue
				}
				seg := collision.CirclePolyline(t.pos, t.laserRadius()+width, l.points)
				if seg >= 0 && (first < 0 || seg < first) {
					first = seg
				}
			}
			if first >= 0 {
				l.settle(float32(first+1), recovery)
			} else {
				l.settle(l.FullLength(), recovery)
			}
		}

		w.pathScratch = l.ActivePath(w.pathScratch[:0])
		for ti := range targets {
			t := &targets[ti]
			if !w.alive(t) {
				continue
			}
			res, seg := collision.CirclePolylineGraze(t.pos, t.laserRadius()+width, w.pathScratch, t.graze)
			if !res.Any() {
				continue
			}
			w.deliverLaser(l, t, res, seg)
		}
	}
}

// deliverLaser is deliverBullet for lasers, which are never consumed.
func (w *World) deliverLaser(l *Laser, t *target, res collision.Result, seg int) {
	id := uint64(l.id)
	if res.Grazed {
		res.Grazed = w.cooldowns.Graze(id, t.id, w.tick)
	}
	if res.Collided && w.cooldowns.Blocked(id, t.id, w.tick) {
		res.Collided = false
	}
	if !res.Any() {
		return
	}
	r, ok := w.receivers.Ptr(t.token)
	if !ok {
		return
	}
	onHit := r.spec.OnHit

	hit := Hit{
		Receiver: t.id,
		Kind:     t.kind,
		Style:    l.spec.Name,
		Index:    -1,
		BulletID: id,
		Laser:    l.id,
		Segment:  seg,
		Result:   res,
		Damage:   l.spec.Damage,
		Position: t.pos,
	}
	if seg >= 0 && seg < len(w.pathScratch) {
		hit.Position = w.pathScratch[seg]
	}
	if res.Collided {
		w.cooldowns.Start(id, t.id, w.tick, t.cooldown)
	}
	w.record(hit)
	if onHit != nil {
		onHit(hit)
	}
}

func (w *World) record(h Hit) {
	if h.Result.Collided {
		w.stats.Hits++
	}
	if h.Result.Grazed {
		w.stats.Grazes++
	}
	t := EventTypeHit
	if !h.Result.Collided {
		t = EventTypeGraze
	}
	w.emit(t, h.Kind.String(), HitPayload{
		Receiver: uint32(h.Receiver),
		Style:    h.Style,
		BulletID: h.BulletID,
		Laser:    uint64(h.Laser),
		Collided: h.Result.Collided,
		Grazed:   h.Result.Grazed,
		X:        h.Position.X,
		Y:        h.Position.Y,
	})
}

func (w *World) applyDeferredClears() {
	if w.clearAll {
		w.clearAll = false
		w.clears = w.clears[:0]
		w.ClearAll()
		return
	}
	for _, s := range w.clears {
		w.ClearStyle(s)
	}
	w.clears = w.clears[:0]
}

// compact removes everything marked this tick and reaps pools that stayed
// empty, with no controls, for PoolIdleTicks ticks. A cull twin goes with
// its source pool.
func (w *World) compact() {
	w.pools.Each(func(_ int, e **poolEntry) bool {
		ent := *e
		w.stats.Compacted += ent.pool.CompactTick()
		if ent.pool.Count() == 0 && ent.pool.Controls() == 0 {
			ent.idle++
		} else {
			ent.idle = 0
		}
		return true
	})
	w.pools.Each(func(_ int, e **poolEntry) bool {
		ent := *e
		if bullets.IsCullStyle(ent.pool.Name()) || ent.idle < PoolIdleTicks {
			return true
		}
		if ent.twin != nil && ent.twin.pool.Count() > 0 {
			return true
		}
		w.destroy(ent)
		if ent.twin != nil {
			w.destroy(ent.twin)
		}
		return true
	})
	w.pools.Compact()
	w.receivers.Compact()
	w.lasers.Compact()
}

func (w *World) fillStats(now float32) {
	w.stats.Tick = w.tick
	w.stats.Time = now
	w.stats.Pools = w.pools.Count()
	w.stats.Bullets = w.BulletCount()
	w.stats.Lasers = w.lasers.Count()
	w.stats.Receivers = w.receivers.Count()
	w.stats.CommandErrors = len(w.cmdErrors)
}
