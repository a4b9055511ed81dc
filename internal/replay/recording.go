// Package replay records the external command stream of a simulation and
// re-runs it. A Recording holds everything that influences the world: the
// simulation settings, the seed, the style catalog source and the commands
// applied on each tick. Re-running it must reproduce the same world state
// digests, tick for tick.
package replay

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"danmaku/internal/config"
	"danmaku/internal/game"
)

// FormatVersion is bumped whenever Recording changes incompatibly.
const FormatVersion = 1

var (
	// ErrDiverged is returned when a re-run disagrees with a checkpoint.
	ErrDiverged = errors.New("replay diverged")
	// ErrBadRecording reports a recording that cannot be replayed.
	ErrBadRecording = errors.New("bad recording")
)

// Frame is the list of commands applied at the start of one tick.
type Frame struct {
	Tick     uint64         `msgpack:"t"`
	Commands []game.Command `msgpack:"c"`
}

// Checkpoint is a world state digest taken after a tick.
type Checkpoint struct {
	Tick   uint64 `msgpack:"t"`
	Digest uint64 `msgpack:"d"`
}

// Recording is the persisted form of one session.
type Recording struct {
	Version     int                   `msgpack:"version"`
	Session     string                `msgpack:"session"`
	Seed        int64                 `msgpack:"seed"`
	Sim         config.SimConfig      `msgpack:"sim"`
	Limits      config.ResourceLimits `msgpack:"limits"`
	Catalog     []byte                `msgpack:"catalog,omitempty"` // YAML; empty means the built-in catalog
	Ticks       uint64                `msgpack:"ticks"`
	Frames      []Frame               `msgpack:"frames"`
	Checkpoints []Checkpoint          `msgpack:"checkpoints,omitempty"`
}

// Validate checks the recording can be replayed.
func (r *Recording) Validate() error {
	if r.Version != FormatVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrBadRecording, r.Version, FormatVersion)
	}
	if err := r.Sim.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRecording, err)
	}
	var last uint64
	for _, f := range r.Frames {
		if f.Tick == 0 || f.Tick <= last || f.Tick > r.Ticks {
			return fmt.Errorf("%w: frame at tick %d out of order", ErrBadRecording, f.Tick)
		}
		last = f.Tick
	}
	return nil
}

// CommandCount returns the number of recorded commands.
func (r *Recording) CommandCount() int {
	n := 0
	for _, f := range r.Frames {
		n += len(f.Commands)
	}
	return n
}

// Encode writes the recording as msgpack.
func Encode(w io.Writer, r *Recording) error {
	return msgpack.NewEncoder(w).Encode(r)
}

// Decode reads a msgpack recording and validates it.
func Decode(rd io.Reader) (*Recording, error) {
	var r Recording
	if err := msgpack.NewDecoder(rd).Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecording, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveFile writes a recording to path.
func SaveFile(path string, r *Recording) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, r); err != nil {
		f.Close()
		return fmt.Errorf("encode recording: %w", err)
	}
	return f.Close()
}

// LoadFile reads a recording from path.
func LoadFile(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
