package game

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"danmaku/internal/config"
	"danmaku/internal/game/bullets"
	"danmaku/internal/game/queue"
	"danmaku/internal/game/vmath"
)

var (
	// ErrQueueFull is returned by Submit when the command ring is full.
	ErrQueueFull = errors.New("command queue full")
	// ErrStopped is returned by Submit after the engine has failed.
	ErrStopped = errors.New("engine stopped")
)

// TickObserver is told about every completed tick together with the
// external commands applied in it. It runs on the tick goroutine with the
// world locked: it may read w but must not keep w or cmds after returning.
type TickObserver func(w *World, cmds []Command)

// MetricsSink receives per-tick statistics and wall-clock duration.
type MetricsSink interface {
	ObserveTick(stats TickStats, took time.Duration)
}

// Engine runs a World at a fixed tick rate on its own goroutine. Commands
// come in through a lock-free queue from any goroutine; readers get the
// latest published WorldSnapshot without touching the world.
type Engine struct {
	mu     sync.RWMutex
	world  *World
	cfg    config.SimConfig
	limits config.ResourceLimits

	commands *queue.MPSC[Command]
	drained  []Command

	tickRate int
	dt       float32
	running  bool
	started  bool
	ticker   *time.Ticker
	stopChan chan struct{}
	done     chan struct{}
	failed   error

	session   string
	observers []TickObserver
	metrics   MetricsSink

	// Snapshot system for lock-free render separation
	snapshotPool *SnapshotPool

	// Event sourcing for replay and debugging
	eventLog *EventLog
}

// NewEngine creates an engine. A zero cfg.Seed picks one from the clock;
// the chosen seed is logged and available through Seed for replays.
func NewEngine(cfg config.SimConfig, limits config.ResourceLimits) *Engine {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	queueSize := limits.CommandQueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultLimits().CommandQueueSize
	}

	e := &Engine{
		world:        NewWorld(cfg, limits, seed),
		cfg:          cfg,
		limits:       limits,
		commands:     queue.New[Command](queueSize),
		drained:      make([]Command, 0, 64),
		tickRate:     cfg.TickRate,
		dt:           1 / float32(cfg.TickRate),
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
		session:      uuid.NewString(),
		snapshotPool: NewSnapshotPool(),
		eventLog:     NewEventLog(),
	}
	e.world.SetEventSink(e.eventLog)
	e.publish()
	return e
}

// Start begins the tick loop. An engine stopped with Stop can be started
// again and continues from the tick it stopped at.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	if e.started {
		e.stopChan = make(chan struct{})
		e.done = make(chan struct{})
	}
	e.running = true
	e.started = true
	e.ticker = time.NewTicker(time.Second / time.Duration(e.tickRate))
	ticker, stop, done := e.ticker, e.stopChan, e.done
	e.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				if err := e.Step(); err != nil {
					log.Printf("💥 Simulation halted at tick %d: %v", e.TickCount(), err)
					ticker.Stop()
					return
				}
			case <-stop:
				return
			}
		}
	}()

	log.Printf("🎮 Simulation started at %d TPS (seed %d, session %s)", e.tickRate, e.world.Seed(), e.session)
}

// Stop stops the tick loop and waits for the current tick to finish
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.ticker.Stop()
	close(e.stopChan)
	done := e.done
	e.mu.Unlock()

	<-done
	log.Println("🛑 Simulation stopped")
}

// Done is closed when the current run of the tick loop exits.
func (e *Engine) Done() <-chan struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.done
}

// Err returns the error that halted the simulation, if any.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.failed
}

// Step runs exactly one tick. Tests and the replay runner call it directly
// instead of Start.
func (e *Engine) Step() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failed != nil {
		return e.failed
	}
	e.drained = e.commands.DrainTo(e.drained[:0])
	for _, c := range e.drained {
		e.world.Submit(c)
	}

	start := time.Now()
	if err := e.world.Tick(e.dt); err != nil {
		e.failed = fmt.Errorf("%w: %v", ErrStopped, err)
		return e.failed
	}
	took := time.Since(start)
	tick := e.world.TickCount()

	for _, err := range e.world.CommandErrors() {
		log.Printf("⚠️ Command rejected: %v", err)
		e.eventLog.EmitSimple(EventTypeCommandError, tick, "command", CommandPayload{Error: err.Error()})
	}
	for _, c := range e.drained {
		e.eventLog.EmitSimple(EventTypeCommand, tick, string(c.Kind), CommandPayload{
			Kind: c.Kind, Style: c.Style, Name: c.Name, Count: c.Count,
		})
	}
	if e.tickRate > 0 && tick%uint64(e.tickRate) == 0 {
		e.eventLog.EmitSimple(EventTypeTick, tick, "", TickPayload{
			Session: e.session,
			Seed:    e.world.Seed(),
			Stats:   e.world.Stats(),
		})
	}
	e.eventLog.EndTick(tick)
	for _, obs := range e.observers {
		obs(e.world, e.drained)
	}
	if e.metrics != nil {
		e.metrics.ObserveTick(e.world.Stats(), took)
	}
	e.publish()
	return nil
}

func (e *Engine) publish() {
	snap := e.snapshotPool.AcquireWrite()
	snap.Session = e.session
	e.world.FillSnapshot(snap, e.limits.MaxSnapshotBullets)
	e.snapshotPool.PublishWrite()
}

// Submit validates a command and queues it for the next tick. Safe for
// concurrent use.
func (e *Engine) Submit(cmd Command) error {
	if err := cmd.Validate(e.limits.MaxSpawnPerCommand); err != nil {
		return err
	}
	if cmd.Kind == CmdSpawn || cmd.Kind == CmdRing || cmd.Kind == CmdSpray {
		e.mu.RLock()
		_, ok := e.world.Style(cmd.Style)
		e.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownStyle, cmd.Style)
		}
	}
	if !e.commands.TryPush(cmd) {
		return ErrQueueFull
	}
	return nil
}

// QueueLen returns the number of commands waiting for the next tick.
func (e *Engine) QueueLen() int { return e.commands.Len() }

// DefineStyles installs or replaces style definitions between ticks.
// Every style is validated before any is installed.
func (e *Engine) DefineStyles(styles []bullets.Style) error {
	for _, s := range styles {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range styles {
		if err := e.world.DefineStyle(s); err != nil {
			return err
		}
	}
	return nil
}

// WithWorld runs fn with exclusive access to the world between ticks.
func (e *Engine) WithWorld(fn func(w *World)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.world)
}

// QueryPool returns the live bullets of a style whose centers lie in
// [lo, hi], read between ticks.
func (e *Engine) QueryPool(style string, lo, hi vmath.Vec2) ([]BulletSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx, err := e.world.QueryPool(style, lo, hi, nil)
	if err != nil || len(idx) == 0 {
		return nil, err
	}
	pool, _ := e.world.Pool(style)
	out := make([]BulletSnapshot, 0, len(idx))
	for _, i := range idx {
		pos := pool.Position(i)
		if pos.X < lo.X || pos.X > hi.X || pos.Y < lo.Y || pos.Y > hi.Y {
			continue
		}
		dir := pool.Direction(i)
		out = append(out, BulletSnapshot{X: pos.X, Y: pos.Y, DX: dir.X, DY: dir.Y, Scale: pool.Scale(i)})
	}
	return out, nil
}

// Observe registers a tick observer. Call before Start.
func (e *Engine) Observe(obs TickObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, obs)
}

// SetMetrics attaches a metrics sink. Call before Start.
func (e *Engine) SetMetrics(m MetricsSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// Snapshot returns the latest published world snapshot. Safe for
// concurrent use; see SnapshotPool.AcquireRead for the lifetime rule.
func (e *Engine) Snapshot() *WorldSnapshot {
	return e.snapshotPool.AcquireRead()
}

// Stats returns the statistics of the last tick.
func (e *Engine) Stats() TickStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.world.Stats()
}

// TickCount returns the number of completed ticks.
func (e *Engine) TickCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.world.TickCount()
}

// StyleNames returns the defined style keys.
func (e *Engine) StyleNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.world.StyleNames()
}

// Seed returns the RNG seed of the running world.
func (e *Engine) Seed() int64 { return e.world.Seed() }

// SimConfig returns the simulation settings the world was built with.
func (e *Engine) SimConfig() config.SimConfig { return e.cfg }

// TickRate returns ticks per second.
func (e *Engine) TickRate() int { return e.tickRate }

// Session returns the unique id of this engine run.
func (e *Engine) Session() string { return e.session }

// StartEventLog starts the event log
func (e *Engine) StartEventLog(filePath string) error {
	return e.eventLog.Start(filePath)
}

// StopEventLog stops the event log
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// GetEventLogStats returns event log statistics for monitoring
func (e *Engine) GetEventLogStats() EventLogStats {
	return e.eventLog.Stats()
}

// GetLimits returns the resource limits
func (e *Engine) GetLimits() config.ResourceLimits {
	return e.limits
}
