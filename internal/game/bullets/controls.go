package bullets

import (
	"context"
	"math"

	"danmaku/internal/game/collections"
	"danmaku/internal/game/vmath"
)

// Control is a per-tick rule attached to a pool, run after motion in
// ascending priority. A control whose context is cancelled is removed from
// the pool on the next tick instead of being skipped forever.
type Control struct {
	Name     string
	Priority int32
	Ctx      context.Context // nil never cancels
	Apply    func(p *Pool, now, dt float32)
}

// AddControl attaches c and returns its handle.
func (p *Pool) AddControl(c Control) collections.Handle {
	return p.controls.AddWithPriority(c, c.Priority)
}

// RemoveControl detaches a control; stale handles are ignored.
func (p *Pool) RemoveControl(h collections.Handle) bool {
	if !p.controls.MarkForDeletion(h) {
		return false
	}
	p.controls.Compact()
	return true
}

// Controls returns the number of attached controls.
func (p *Pool) Controls() int { return p.controls.Count() }

// RunControls prunes cancelled controls, then applies the rest in priority
// order. Returns the number pruned.
func (p *Pool) RunControls(now, dt float32) int {
	pruned := 0
	for i := 0; i < p.controls.Len(); i++ {
		if c := p.controls.At(i); c.Ctx != nil && c.Ctx.Err() != nil {
			p.controls.MarkIndex(i)
			pruned++
		}
	}
	p.controls.Compact()
	p.controls.Each(func(_ int, c *Control) bool {
		if c.Apply != nil {
			c.Apply(p, now, dt)
		}
		return true
	})
	return pruned
}

// DeleteOutside removes bullets that leave [min, max]. It runs last.
func DeleteOutside(ctx context.Context, min, max vmath.Vec2) Control {
	return Control{
		Name:     "delete_outside",
		Priority: collections.MaxPriority,
		Ctx:      ctx,
		Apply: func(p *Pool, _, _ float32) {
			p.Each(func(i int) bool {
				pos := p.positions[i]
				if pos.X < min.X || pos.X > max.X || pos.Y < min.Y || pos.Y > max.Y {
					p.MarkDeleted(i)
				}
				return true
			})
		},
	}
}

// CancelAfter turns bullets older than age into their cosmetic cull copy.
func CancelAfter(ctx context.Context, age float32) Control {
	return Control{
		Name: "cancel_after",
		Ctx:  ctx,
		Apply: func(p *Pool, now, _ float32) {
			p.Each(func(i int) bool {
				if now-p.spawnTimes[i] >= age {
					// The cull copy is cosmetic; skip it silently when the
					// pool has no twin.
					_, _ = p.MakeCulledCopy(i)
					p.MarkDeleted(i)
				}
				return true
			})
		},
	}
}

// Rotate turns every bullet's heading by rate radians per second, which
// curves linear bullets.
func Rotate(ctx context.Context, rate float32) Control {
	return Control{
		Name: "rotate",
		Ctx:  ctx,
		Apply: func(p *Pool, _, dt float32) {
			a := float64(rate * dt)
			cos, sin := float32(math.Cos(a)), float32(math.Sin(a))
			p.Each(func(i int) bool {
				p.directions[i] = p.directions[i].Rotate(cos, sin)
				return true
			})
		},
	}
}
