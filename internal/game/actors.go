package game

import (
	"fmt"

	"danmaku/internal/game/vmath"
)

// Default actor sizes for command-driven receivers.
const (
	DefaultPlayerRadius = 3
	DefaultEnemyRadius  = 16
	DefaultEnemyHP      = 100
)

// actor is a receiver owned by the world and driven by commands, so that a
// recorded command stream reproduces hits and kills without any outside
// code.
type actor struct {
	name     string
	kind     ReceiverKind
	pos      vmath.Vec2
	hp       float32
	receiver ReceiverID
	hits     int
	grazes   int
}

// ActorState is a read-only view of an actor.
type ActorState struct {
	Name     string       `json:"name"`
	Kind     ReceiverKind `json:"kind"`
	Receiver ReceiverID   `json:"receiver"`
	Position vmath.Vec2   `json:"position"`
	HP       float32      `json:"hp,omitempty"`
	Hits     int          `json:"hits"`
	Grazes   int          `json:"grazes"`
}

func (w *World) upsertActor(kind ReceiverKind, c Command) error {
	pos := vmath.V(c.X, c.Y)
	if a, ok := w.actors[c.Name]; ok {
		if a.kind != kind {
			return fmt.Errorf("%w: actor %q is a %s", ErrInvalidCommand, c.Name, a.kind)
		}
		a.pos = pos
		if c.HP > 0 {
			a.hp = c.HP
		}
		return nil
	}

	a := &actor{name: c.Name, kind: kind, pos: pos, hp: c.HP}
	radius := c.Radius
	if radius == 0 {
		radius = DefaultPlayerRadius
		if kind == ReceiverEnemy {
			radius = DefaultEnemyRadius
		}
	}
	if kind == ReceiverEnemy && a.hp == 0 {
		a.hp = DefaultEnemyHP
	}
	id, err := w.RegisterReceiver(ReceiverSpec{
		Kind:     kind,
		Name:     c.Name,
		Position: func() vmath.Vec2 { return a.pos },
		Radius:   radius,
		OnHit:    func(h Hit) { w.actorHit(a, h) },
	})
	if err != nil {
		return err
	}
	a.receiver = id
	w.actors[c.Name] = a
	w.actorOrder = append(w.actorOrder, c.Name)
	return nil
}

func (w *World) actorHit(a *actor, h Hit) {
	if h.Result.Grazed {
		a.grazes++
	}
	if !h.Result.Collided {
		return
	}
	a.hits++
	if a.kind != ReceiverEnemy || a.hp <= 0 {
		return
	}
	dmg := h.Damage
	if h.Owner.Power > 0 {
		dmg = h.Owner.Power
	}
	if dmg <= 0 {
		dmg = 1
	}
	a.hp -= dmg
	if a.hp <= 0 {
		w.stats.Kills++
		w.emit(EventTypeKill, a.kind.String(), KillPayload{Actor: a.name, Style: h.Style, Damage: dmg})
		w.removeActor(a.name)
	}
}

func (w *World) removeActor(name string) bool {
	a, ok := w.actors[name]
	if !ok {
		return false
	}
	delete(w.actors, name)
	for i, n := range w.actorOrder {
		if n == name {
			w.actorOrder = append(w.actorOrder[:i], w.actorOrder[i+1:]...)
			break
		}
	}
	w.UnregisterReceiver(a.receiver)
	return true
}

// Actor returns the state of a command-driven actor.
func (w *World) Actor(name string) (ActorState, bool) {
	a, ok := w.actors[name]
	if !ok {
		return ActorState{}, false
	}
	return a.state(), true
}

// EachActor visits actors in creation order.
func (w *World) EachActor(fn func(ActorState) bool) {
	for _, n := range w.actorOrder {
		if !fn(w.actors[n].state()) {
			return
		}
	}
}

func (a *actor) state() ActorState {
	return ActorState{
		Name:     a.name,
		Kind:     a.kind,
		Receiver: a.receiver,
		Position: a.pos,
		HP:       a.hp,
		Hits:     a.hits,
		Grazes:   a.grazes,
	}
}
