package game

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

const (
	MaxEventsPerTick = 8192 // events kept for one tick; the rest are dropped
	TickBatchQueue   = 64   // finished ticks waiting for the writer
)

// eventBudgets caps how many events of each type per second reach the log.
// Hits and grazes arrive in bursts as large as a bullet pattern; lifecycle
// events (ticks, kills, clears) have no budget and are only lost when the
// writer falls a whole queue of ticks behind.
var eventBudgets = [eventTypeCount]struct {
	limit rate.Limit
	burst int
}{
	EventTypeHit:          {5000, 1000},
	EventTypeGraze:        {5000, 1000},
	EventTypeCommand:      {1000, 200},
	EventTypeCommandError: {100, 20},
}

// EventTypeStats counts one event type. Emitted counts events accepted into
// a tick; when the whole tick is dropped later they count in Dropped too.
type EventTypeStats struct {
	Emitted uint64 `json:"emitted"`
	Dropped uint64 `json:"dropped"`
}

// EventLogStats is a point-in-time view of the log.
type EventLogStats struct {
	Running     bool                      `json:"running"`
	Total       uint64                    `json:"total"`
	Dropped     uint64                    `json:"dropped"`
	Queued      int                       `json:"queued"`
	WriteErrors uint64                    `json:"writeErrors"`
	ByType      map[string]EventTypeStats `json:"byType"`
}

type tickBatch struct {
	tick   uint64
	events []Event
}

type typeCounters struct {
	emitted atomic.Uint64
	dropped atomic.Uint64
}

// EventLog writes gameplay events as JSONL, one batch per simulated tick.
//
// Events of the running tick collect in memory; EndTick hands the batch to
// a writer goroutine, which writes each tick with a single flush. Emitting never blocks the simulation: a type over its
// budget, a tick over MaxEventsPerTick or a full batch queue drops events
// and counts them per type.
type EventLog struct {
	mu       sync.Mutex
	open     bool
	current  []Event
	seq      uint64
	limiters [eventTypeCount]*rate.Limiter

	batches chan tickBatch
	free    chan []Event
	done    chan struct{}
	out     io.WriteCloser

	counts    [eventTypeCount]typeCounters
	writeErrs atomic.Uint64
}

// NewEventLog creates a stopped event log.
func NewEventLog() *EventLog {
	el := &EventLog{}
	for t, b := range eventBudgets {
		if b.limit > 0 {
			el.limiters[t] = rate.NewLimiter(b.limit, b.burst)
		}
	}
	return el
}

// Start opens filePath for append and starts the writer. An empty path
// keeps the log counting without persisting anything.
func (el *EventLog) Start(filePath string) error {
	var out io.WriteCloser
	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		out = file
	}
	if !el.StartWriter(out) && out != nil {
		out.Close()
	}
	return nil
}

// StartWriter starts the log on an arbitrary destination; nil discards.
// It returns false when the log is already running.
func (el *EventLog) StartWriter(out io.WriteCloser) bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.open {
		return false
	}
	el.open = true
	el.out = out
	el.batches = make(chan tickBatch, TickBatchQueue)
	el.free = make(chan []Event, TickBatchQueue)
	el.done = make(chan struct{})
	el.current = make([]Event, 0, 256)
	go el.writeLoop(out, el.batches, el.free, el.done)
	return true
}

// Stop flushes the open tick, waits for the writer and closes the output.
// The log can be started again afterwards.
func (el *EventLog) Stop() {
	el.mu.Lock()
	if !el.open {
		el.mu.Unlock()
		return
	}
	el.open = false
	if len(el.current) > 0 {
		el.batches <- tickBatch{tick: el.current[len(el.current)-1].TickNum, events: el.current}
	}
	el.current = nil
	close(el.batches)
	done, out := el.done, el.out
	el.out = nil
	el.mu.Unlock()

	<-done
	if out != nil {
		out.Close()
	}
}

// Emit queues an event for the current tick. It returns false when the
// log is stopped or the event was dropped.
func (el *EventLog) Emit(event Event) bool {
	if int(event.Type) >= eventTypeCount {
		event.Type = EventTypeUnknown
	}
	t := event.Type

	el.mu.Lock()
	defer el.mu.Unlock()
	if !el.open {
		return false
	}
	if lim := el.limiters[t]; lim != nil && !lim.Allow() {
		el.counts[t].dropped.Add(1)
		return false
	}
	if len(el.current) >= MaxEventsPerTick {
		el.counts[t].dropped.Add(1)
		return false
	}
	el.seq++
	event.Sequence = el.seq
	el.current = append(el.current, event)
	el.counts[t].emitted.Add(1)
	return true
}

// EmitSimple builds and emits an event. The payload is not encoded while
// the log is stopped.
func (el *EventLog) EmitSimple(eventType EventType, tickNum uint64, source string, payload any) bool {
	if !el.Running() {
		return false
	}
	return el.Emit(NewEvent(eventType, tickNum, source, payload))
}

// EndTick closes the batch of the tick that just finished. When the writer
// is a full queue behind, the whole batch is dropped.
func (el *EventLog) EndTick(tick uint64) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if !el.open || len(el.current) == 0 {
		return
	}
	select {
	case el.batches <- tickBatch{tick: tick, events: el.current}:
		select {
		case buf := <-el.free:
			el.current = buf
		default:
			el.current = make([]Event, 0, cap(el.current))
		}
	default:
		for i := range el.current {
			el.counts[el.current[i].Type].dropped.Add(1)
		}
		el.current = el.current[:0]
	}
}

func (el *EventLog) writeLoop(out io.Writer, batches <-chan tickBatch, free chan<- []Event, done chan<- struct{}) {
	defer close(done)
	if out == nil {
		out = io.Discard
	}
	w := bufio.NewWriterSize(out, 64<<10)
	enc := json.NewEncoder(w)

	for b := range batches {
		for i := range b.events {
			if err := enc.Encode(&b.events[i]); err != nil {
				el.writeFailed(b.tick, err)
				break
			}
		}
		if err := w.Flush(); err != nil {
			el.writeFailed(b.tick, err)
		}
		clear(b.events)
		select {
		case free <- b.events[:0]:
		default:
		}
	}
}

func (el *EventLog) writeFailed(tick uint64, err error) {
	if el.writeErrs.Add(1) == 1 {
		log.Printf("⚠️ Event log write failed at tick %d: %v", tick, err)
	}
}

// Running reports whether events are accepted.
func (el *EventLog) Running() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.open
}

// Stats returns totals and per-type counts.
func (el *EventLog) Stats() EventLogStats {
	el.mu.Lock()
	s := EventLogStats{Running: el.open}
	if el.open {
		s.Queued = len(el.batches)
	}
	el.mu.Unlock()

	s.WriteErrors = el.writeErrs.Load()
	s.ByType = make(map[string]EventTypeStats, eventTypeCount)
	for t := range el.counts {
		ts := EventTypeStats{
			Emitted: el.counts[t].emitted.Load(),
			Dropped: el.counts[t].dropped.Load(),
		}
		if ts.Emitted == 0 && ts.Dropped == 0 {
			continue
		}
		s.ByType[EventType(t).String()] = ts
		s.Total += ts.Emitted
		s.Dropped += ts.Dropped
	}
	return s
}
