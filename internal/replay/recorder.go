package replay

import (
	"sync"

	"danmaku/internal/game"
)

// DefaultCheckpointEvery is the checkpoint spacing in ticks.
const DefaultCheckpointEvery = 60

// Recorder captures the commands an Engine applies. Attach it before the
// engine starts so no tick is missed.
type Recorder struct {
	mu    sync.Mutex
	rec   Recording
	every uint64
}

// NewRecorder hooks a recorder into e. catalog is the YAML source of the
// styles the engine runs with, or nil for the built-in catalog. A
// checkpoint is taken every `every` ticks; 0 disables checkpoints.
func NewRecorder(e *game.Engine, catalog []byte, every uint64) *Recorder {
	sim := e.SimConfig()
	sim.Seed = e.Seed()
	r := &Recorder{
		rec: Recording{
			Version: FormatVersion,
			Session: e.Session(),
			Seed:    e.Seed(),
			Sim:     sim,
			Limits:  e.GetLimits(),
			Catalog: catalog,
		},
		every: every,
	}
	e.Observe(r.observe)
	return r
}

func (r *Recorder) observe(w *game.World, cmds []game.Command) {
	tick := w.TickCount()
	var digest uint64
	checkpoint := r.every > 0 && tick%r.every == 0
	if checkpoint {
		digest = Digest(w)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Ticks = tick
	if len(cmds) > 0 {
		r.rec.Frames = append(r.rec.Frames, Frame{
			Tick:     tick,
			Commands: append([]game.Command(nil), cmds...),
		})
	}
	if checkpoint {
		r.rec.Checkpoints = append(r.rec.Checkpoints, Checkpoint{Tick: tick, Digest: digest})
	}
}

// Recording returns a copy of everything captured so far.
func (r *Recorder) Recording() *Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.rec
	out.Frames = append([]Frame(nil), r.rec.Frames...)
	out.Checkpoints = append([]Checkpoint(nil), r.rec.Checkpoints...)
	return &out
}

// Ticks returns the number of recorded ticks.
func (r *Recorder) Ticks() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.Ticks
}
