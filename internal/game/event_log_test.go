package game

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sync"
	"testing"
)

// syncBuffer is an io.WriteCloser safe for the writer goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Close() error { return nil }

func (b *syncBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

func TestEventLogWritesJSONL(t *testing.T) {
	out := &syncBuffer{}
	el := NewEventLog()
	el.StartWriter(out)

	if !el.EmitSimple(EventTypeHit, 7, "player", HitPayload{Receiver: 1, Style: "orb", Collided: true}) {
		t.Fatal("emit rejected")
	}
	el.EmitSimple(EventTypeClear, 8, "", ClearPayload{All: true})
	el.Stop()

	lines := out.lines()
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %v", len(lines), lines)
	}
	var ev struct {
		Type    string     `json:"type"`
		TickNum uint64     `json:"tickNum"`
		Source  string     `json:"source"`
		Payload HitPayload `json:"payload"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("bad JSON %q: %v", lines[0], err)
	}
	if ev.Type != "hit" || ev.TickNum != 7 || ev.Source != "player" || ev.Payload.Style != "orb" {
		t.Errorf("Unexpected event %+v", ev)
	}
}

func TestEventLogRejectsWhenStopped(t *testing.T) {
	el := NewEventLog()
	if el.EmitSimple(EventTypeKill, 1, "enemy", KillPayload{Actor: "boss"}) {
		t.Error("Expected emit to fail before Start")
	}
	el.StartWriter(nil)
	el.Stop()
	if el.EmitSimple(EventTypeKill, 1, "enemy", KillPayload{Actor: "boss"}) {
		t.Error("Expected emit to fail after Stop")
	}
}

func TestEventLogTypeBudgets(t *testing.T) {
	el := NewEventLog()
	el.StartWriter(nil)
	defer el.Stop()

	burst := eventBudgets[EventTypeGraze].burst * 2
	accepted := 0
	for i := 0; i < burst; i++ {
		if el.EmitSimple(EventTypeGraze, 1, "player", nil) {
			accepted++
		}
		if i%100 == 99 {
			el.EndTick(1)
		}
	}
	if accepted >= burst {
		t.Errorf("Expected the graze budget to drop a burst, accepted %d", accepted)
	}

	stats := el.Stats()
	graze := stats.ByType["graze"]
	if graze.Dropped == 0 || graze.Emitted != uint64(accepted) {
		t.Errorf("Expected %d emitted and some dropped grazes, got %+v", accepted, graze)
	}
	// Kills have no budget and hits keep their own.
	if !el.EmitSimple(EventTypeKill, 1, "boss", KillPayload{Actor: "boss"}) {
		t.Error("Expected a kill to be accepted")
	}
	if !el.EmitSimple(EventTypeHit, 1, "player", nil) {
		t.Error("Expected a hit to be accepted")
	}
}

// gateWriter blocks every write until released.
type gateWriter struct {
	syncBuffer
	release chan struct{}
}

func (g *gateWriter) Write(p []byte) (int, error) {
	<-g.release
	return g.syncBuffer.Write(p)
}

func TestEventLogDropsTicksWhenWriterLags(t *testing.T) {
	out := &gateWriter{release: make(chan struct{})}
	el := NewEventLog()
	el.StartWriter(out)

	const ticks = TickBatchQueue + 40
	for tick := uint64(1); tick <= ticks; tick++ {
		el.EmitSimple(EventTypeKill, tick, "boss", KillPayload{Actor: "boss"})
		el.EndTick(tick)
	}
	if got := el.Stats().Queued; got == 0 {
		t.Error("Expected tick batches waiting for the writer")
	}
	close(out.release)
	el.Stop()

	kill := el.Stats().ByType["kill"]
	if kill.Emitted != ticks {
		t.Errorf("Expected %d kills accepted, got %d", ticks, kill.Emitted)
	}
	// One batch in the writer plus a full queue survive.
	if kill.Dropped < ticks-TickBatchQueue-1 {
		t.Errorf("Expected at least %d dropped kills, got %d", ticks-TickBatchQueue-1, kill.Dropped)
	}
	if got := uint64(len(out.lines())); got != kill.Emitted-kill.Dropped {
		t.Errorf("Expected %d lines, got %d", kill.Emitted-kill.Dropped, got)
	}
}

func TestEventLogRestarts(t *testing.T) {
	el := NewEventLog()
	first := &syncBuffer{}
	el.StartWriter(first)
	if el.StartWriter(&syncBuffer{}) {
		t.Error("Expected a second start to be refused while running")
	}
	el.EmitSimple(EventTypeClear, 1, "", ClearPayload{All: true})
	el.Stop()
	el.Stop()

	second := &syncBuffer{}
	if !el.StartWriter(second) {
		t.Fatal("Expected the log to start again after Stop")
	}
	el.EmitSimple(EventTypeClear, 2, "", ClearPayload{All: true})
	el.EndTick(2)
	el.Stop()

	if len(first.lines()) != 1 || len(second.lines()) != 1 {
		t.Errorf("Expected one line per run, got %d and %d", len(first.lines()), len(second.lines()))
	}
	if got := el.Stats().Total; got != 2 {
		t.Errorf("Expected total 2 across runs, got %d", got)
	}
}

func TestWorldEmitsGameplayEvents(t *testing.T) {
	out := &syncBuffer{}
	el := NewEventLog()
	el.StartWriter(out)

	w := newTestWorld(t)
	w.SetEventSink(el)
	mustDefine(t, w, orbStyle)
	register(t, w, ReceiverSpec{Kind: ReceiverPlayer, Radius: 2}, 100, 100)
	mustSpawn(t, w, "orb", 100, 100)
	mustTick(t, w, 1)
	w.ClearStyle("orb")
	el.Stop()

	var types []string
	for _, line := range out.lines() {
		var ev struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad JSON: %v", err)
		}
		types = append(types, ev.Type)
	}
	if len(types) != 2 || types[0] != "hit" || types[1] != "clear" {
		t.Errorf("Expected [hit clear], got %v", types)
	}
}
