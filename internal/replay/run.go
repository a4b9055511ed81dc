package replay

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"danmaku/internal/game"
	"danmaku/internal/game/bullets"
	"danmaku/internal/game/vmath"
	"danmaku/internal/styles"
)

// Result summarizes a re-run.
type Result struct {
	Ticks       uint64
	Commands    int
	Final       uint64
	Checkpoints []Checkpoint
	Stats       game.TickStats
}

// Run re-simulates rec on a fresh world. When rec has checkpoints every one
// is verified and the first mismatch returns ErrDiverged. every sets the
// spacing of the checkpoints in the result.
func Run(rec *Recording, every uint64) (*Result, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	defs, err := catalogStyles(rec.Catalog)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecording, err)
	}

	w := game.NewWorld(rec.Sim, rec.Limits, rec.Seed)
	for _, s := range defs {
		if err := w.DefineStyle(s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRecording, err)
		}
	}

	dt := 1 / float32(rec.Sim.TickRate)
	res := &Result{Ticks: rec.Ticks}
	frames := rec.Frames
	expect := rec.Checkpoints

	for tick := uint64(1); tick <= rec.Ticks; tick++ {
		if len(frames) > 0 && frames[0].Tick == tick {
			for _, c := range frames[0].Commands {
				w.Submit(c)
			}
			res.Commands += len(frames[0].Commands)
			frames = frames[1:]
		}
		if err := w.Tick(dt); err != nil {
			return res, fmt.Errorf("tick %d: %w", tick, err)
		}

		wantCheck := len(expect) > 0 && expect[0].Tick == tick
		keep := every > 0 && tick%every == 0
		if !wantCheck && !keep {
			continue
		}
		d := Digest(w)
		if wantCheck {
			if d != expect[0].Digest {
				return res, fmt.Errorf("%w at tick %d: digest %016x, recorded %016x", ErrDiverged, tick, d, expect[0].Digest)
			}
			expect = expect[1:]
		}
		if keep {
			res.Checkpoints = append(res.Checkpoints, Checkpoint{Tick: tick, Digest: d})
		}
	}

	res.Final = Digest(w)
	res.Stats = w.Stats()
	return res, nil
}

func catalogStyles(catalog []byte) ([]bullets.Style, error) {
	if len(catalog) == 0 {
		return styles.Builtin()
	}
	return styles.Parse(catalog, func(name string) ([]byte, error) {
		return nil, fmt.Errorf("script file %s: recordings need inline scripts", name)
	})
}

// Digest hashes everything observable about a world: tick, every live
// bullet in pool and index order, lasers and actors.
func Digest(w *game.World) uint64 {
	h := xxhash.New()
	var buf [8]byte
	u64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	f32 := func(v float32) {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v))
		h.Write(buf[:4])
	}
	vec := func(v vmath.Vec2) {
		f32(v.X)
		f32(v.Y)
	}

	u64(w.TickCount())
	w.EachPool(func(id uint32, p *bullets.Pool) bool {
		h.WriteString(p.Name())
		u64(uint64(id))
		u64(uint64(p.Count()))
		p.Each(func(i int) bool {
			u64(p.ID(i))
			vec(p.Position(i))
			vec(p.Direction(i))
			f32(p.Scale(i))
			return true
		})
		return true
	})
	w.EachLaser(func(l *game.Laser) bool {
		u64(uint64(l.ID()))
		f32(l.ActiveLength())
		for _, pt := range l.Points() {
			vec(pt)
		}
		return true
	})
	w.EachActor(func(a game.ActorState) bool {
		h.WriteString(a.Name)
		vec(a.Position)
		f32(a.HP)
		u64(uint64(a.Hits))
		u64(uint64(a.Grazes))
		return true
	})
	return h.Sum64()
}
