package game

import (
	"encoding/json"
	"time"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeTick              // Tick boundary with stats
	EventTypeHit
	EventTypeGraze
	EventTypeKill
	EventTypeClear
	EventTypeCommand
	EventTypeCommandError

	eventTypeCount = int(EventTypeCommandError) + 1
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 2

// Event is the core event structure for the event log
type Event struct {
	Version   uint8           `json:"version"`   // Schema version
	Type      EventType       `json:"type"`      // Event type
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Monotonic sequence
	TickNum   uint64          `json:"tickNum"`   // Simulation tick this occurred in
	Source    string          `json:"source"`    // Emitting receiver, style or command source
	Payload   json.RawMessage `json:"payload"`   // JSON-encoded payload
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeTick:
		return "tick"
	case EventTypeHit:
		return "hit"
	case EventTypeGraze:
		return "graze"
	case EventTypeKill:
		return "kill"
	case EventTypeClear:
		return "clear"
	case EventTypeCommand:
		return "command"
	case EventTypeCommandError:
		return "command_error"
	default:
		return "unknown"
	}
}

// MarshalText writes the readable name into JSON logs.
func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// EventSink receives gameplay events. *EventLog implements it; nil sinks
// are allowed everywhere.
type EventSink interface {
	EmitSimple(eventType EventType, tickNum uint64, source string, payload any) bool
}

// Typed payloads for different event types

// TickPayload summarizes a tick for the log
type TickPayload struct {
	Session string    `json:"session,omitempty"`
	Seed    int64     `json:"seed"`
	Stats   TickStats `json:"stats"`
}

// HitPayload contains hit and graze details
type HitPayload struct {
	Receiver uint32  `json:"receiver"`
	Style    string  `json:"style"`
	BulletID uint64  `json:"bulletId"`
	Laser    uint64  `json:"laser,omitempty"`
	Collided bool    `json:"collided"`
	Grazed   bool    `json:"grazed"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
}

// KillPayload contains kill event details
type KillPayload struct {
	Actor  string  `json:"actor"`
	Style  string  `json:"style"`
	Damage float32 `json:"damage"`
}

// ClearPayload contains style clear details
type ClearPayload struct {
	Style string `json:"style,omitempty"`
	All   bool   `json:"all"`
}

// CommandPayload records an applied external command
type CommandPayload struct {
	Kind  CommandKind `json:"kind"`
	Style string      `json:"style,omitempty"`
	Name  string      `json:"name,omitempty"`
	Count int         `json:"count,omitempty"`
	Error string      `json:"error,omitempty"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload any) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, tickNum uint64, source string, payload any) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		TickNum:   tickNum,
		Source:    source,
		Payload:   EncodePayload(payload),
	}
}
