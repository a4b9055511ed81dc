package game

import (
	"fmt"
	"math"

	"danmaku/internal/game/bullets"
	"danmaku/internal/game/vmath"
)

// CommandKind names an external command.
type CommandKind string

const (
	CmdSpawn    CommandKind = "spawn"     // one bullet
	CmdRing     CommandKind = "ring"      // Count bullets evenly spaced, random phase
	CmdSpray    CommandKind = "spray"     // Count bullets at random angles within Spread
	CmdLaser    CommandKind = "laser"     // straight laser
	CmdClear    CommandKind = "clear"     // destroy a style's pool
	CmdCancel   CommandKind = "cancel"    // turn a style's bullets into cull copies
	CmdClearAll CommandKind = "clear_all" // destroy every pool and laser
	CmdPlayer   CommandKind = "player"    // add or move the named player actor
	CmdEnemy    CommandKind = "enemy"     // add or move the named enemy actor
	CmdRemove   CommandKind = "remove"    // remove the named actor
)

// CommandKinds lists every kind, in documentation order.
var CommandKinds = []CommandKind{
	CmdSpawn, CmdRing, CmdSpray, CmdLaser, CmdClear, CmdCancel, CmdClearAll,
	CmdPlayer, CmdEnemy, CmdRemove,
}

// Command is the unit of external input. Commands are queued and applied at
// the start of a tick; a recording of them per tick plus the seed is enough
// to replay a session.
type Command struct {
	Kind        CommandKind `json:"kind" msgpack:"k"`
	Style       string      `json:"style,omitempty" msgpack:"s,omitempty"`
	Name        string      `json:"name,omitempty" msgpack:"n,omitempty"`
	X           float32     `json:"x" msgpack:"x"`
	Y           float32     `json:"y" msgpack:"y"`
	Angle       float32     `json:"angle,omitempty" msgpack:"a,omitempty"`   // radians
	Spread      float32     `json:"spread,omitempty" msgpack:"sp,omitempty"` // spray arc, radians
	Count       int         `json:"count,omitempty" msgpack:"c,omitempty"`
	Scale       float32     `json:"scale,omitempty" msgpack:"sc,omitempty"`
	Radius      float32     `json:"radius,omitempty" msgpack:"r,omitempty"` // actor radius, laser width
	HP          float32     `json:"hp,omitempty" msgpack:"hp,omitempty"`
	Length      float32     `json:"length,omitempty" msgpack:"l,omitempty"`
	Segments    int         `json:"segments,omitempty" msgpack:"sg,omitempty"`
	Lifetime    float32     `json:"lifetime,omitempty" msgpack:"lt,omitempty"`
	Damage      float32     `json:"damage,omitempty" msgpack:"d,omitempty"`
	PlayerOwned bool        `json:"playerOwned,omitempty" msgpack:"po,omitempty"`
	NonPiercing bool        `json:"nonPiercing,omitempty" msgpack:"np,omitempty"`
	Shooter     string      `json:"shooter,omitempty" msgpack:"sh,omitempty"`
}

// DefaultLaserSegments is used when a laser command leaves Segments unset.
const DefaultLaserSegments = 16

// Validate checks a command without touching world state. maxCount caps ring
// and spray sizes; 0 means unlimited.
func (c Command) Validate(maxCount int) error {
	finite := func(vs ...float32) bool {
		for _, v := range vs {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return false
			}
		}
		return true
	}
	if !finite(c.X, c.Y, c.Angle, c.Spread, c.Scale, c.Radius, c.HP, c.Length, c.Lifetime, c.Damage) {
		return fmt.Errorf("%w: %s: non-finite parameter", ErrInvalidCommand, c.Kind)
	}
	switch c.Kind {
	case CmdSpawn, CmdClear, CmdCancel:
		if c.Style == "" {
			return fmt.Errorf("%w: %s needs a style", ErrInvalidCommand, c.Kind)
		}
	case CmdRing, CmdSpray:
		if c.Style == "" {
			return fmt.Errorf("%w: %s needs a style", ErrInvalidCommand, c.Kind)
		}
		if c.Count <= 0 {
			return fmt.Errorf("%w: %s count %d", ErrInvalidCommand, c.Kind, c.Count)
		}
		if maxCount > 0 && c.Count > maxCount {
			return fmt.Errorf("%w: %s count %d above %d", ErrLimitExceeded, c.Kind, c.Count, maxCount)
		}
	case CmdLaser:
		if !(c.Length > 0) {
			return fmt.Errorf("%w: laser length %v", ErrInvalidCommand, c.Length)
		}
		if c.Segments < 0 || c.Radius < 0 || c.Lifetime < 0 {
			return fmt.Errorf("%w: negative laser parameter", ErrInvalidCommand)
		}
	case CmdPlayer, CmdEnemy:
		if c.Name == "" {
			return fmt.Errorf("%w: %s needs a name", ErrInvalidCommand, c.Kind)
		}
		if c.Radius < 0 || c.HP < 0 {
			return fmt.Errorf("%w: negative actor parameter", ErrInvalidCommand)
		}
	case CmdRemove:
		if c.Name == "" {
			return fmt.Errorf("%w: remove needs a name", ErrInvalidCommand)
		}
	case CmdClearAll:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, c.Kind)
	}
	return nil
}

// apply runs one command. Only ring and spray draw from the world rng, and
// they draw the same amount whether or not spawning succeeds.
func (w *World) apply(c Command) error {
	if err := c.Validate(w.limits.MaxSpawnPerCommand); err != nil {
		return err
	}
	pos := vmath.V(c.X, c.Y)
	owner := bullets.OwnerData{Shooter: c.Shooter, Power: c.Damage}

	switch c.Kind {
	case CmdSpawn:
		_, err := w.spawn(c.Style, bullets.SpawnParams{
			Position:  pos,
			Direction: vmath.FromAngle(float64(c.Angle)),
			Scale:     c.Scale,
			Owner:     owner,
		})
		return err

	case CmdRing:
		step := 2 * math.Pi / float64(c.Count)
		phase := float64(c.Angle) + w.rng.Float64()*step
		for k := 0; k < c.Count; k++ {
			if _, err := w.spawn(c.Style, bullets.SpawnParams{
				Position:  pos,
				Direction: vmath.FromAngle(phase + float64(k)*step),
				Scale:     c.Scale,
				Owner:     owner,
			}); err != nil {
				return err
			}
		}

	case CmdSpray:
		angles := make([]float64, c.Count)
		for k := range angles {
			angles[k] = float64(c.Angle) + (w.rng.Float64()-0.5)*float64(c.Spread)
		}
		for _, a := range angles {
			if _, err := w.spawn(c.Style, bullets.SpawnParams{
				Position:  pos,
				Direction: vmath.FromAngle(a),
				Scale:     c.Scale,
				Owner:     owner,
			}); err != nil {
				return err
			}
		}

	case CmdLaser:
		segments := c.Segments
		if segments == 0 {
			segments = DefaultLaserSegments
		}
		name := c.Style
		if name == "" {
			name = "laser"
		}
		_, err := w.SpawnLaser(LaserSpec{
			Name:        name,
			Origin:      pos,
			Direction:   vmath.FromAngle(float64(c.Angle)),
			Length:      c.Length,
			Segments:    segments,
			Width:       c.Radius,
			Lifetime:    c.Lifetime,
			PlayerOwned: c.PlayerOwned,
			NonPiercing: c.NonPiercing,
			Damage:      c.Damage,
		})
		return err

	case CmdClear:
		w.ClearStyle(c.Style)
	case CmdCancel:
		w.CancelStyle(c.Style)
	case CmdClearAll:
		w.ClearAll()
	case CmdPlayer:
		return w.upsertActor(ReceiverPlayer, c)
	case CmdEnemy:
		return w.upsertActor(ReceiverEnemy, c)
	case CmdRemove:
		if !w.removeActor(c.Name) {
			return fmt.Errorf("%w: no actor %q", ErrInvalidCommand, c.Name)
		}
	}
	return nil
}
