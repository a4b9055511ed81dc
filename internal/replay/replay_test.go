package replay

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"danmaku/internal/config"
	"danmaku/internal/game"
	"danmaku/internal/styles"
)

// recordSession drives an engine through a short scripted fight and returns
// the recording.
func recordSession(t *testing.T, ticks int) *Recording {
	t.Helper()
	sim := config.DefaultSim()
	sim.Seed = 4242
	engine := game.NewEngine(sim, config.DefaultLimits())
	defs, err := styles.Builtin()
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	if err := engine.DefineStyles(defs); err != nil {
		t.Fatalf("DefineStyles: %v", err)
	}
	rec := NewRecorder(engine, nil, 30)

	submit := func(c game.Command) {
		t.Helper()
		if err := engine.Submit(c); err != nil {
			t.Fatalf("Submit %s: %v", c.Kind, err)
		}
	}
	submit(game.Command{Kind: game.CmdPlayer, Name: "p1", X: 320, Y: 420})
	submit(game.Command{Kind: game.CmdEnemy, Name: "boss", X: 320, Y: 80, HP: 50})
	for i := 1; i <= ticks; i++ {
		switch {
		case i%40 == 0:
			submit(game.Command{Kind: game.CmdRing, Style: "orb", X: 320, Y: 80, Count: 32})
		case i%25 == 0:
			submit(game.Command{Kind: game.CmdSpray, Style: "spiral", X: 320, Y: 80, Angle: math.Pi / 2, Spread: 1, Count: 12})
		case i%6 == 0:
			submit(game.Command{Kind: game.CmdSpawn, Style: "shot", X: 320, Y: 410, Angle: -math.Pi / 2, Shooter: "p1"})
		}
		if i%15 == 0 {
			submit(game.Command{Kind: game.CmdPlayer, Name: "p1", X: float32(260 + i%120), Y: 420})
		}
		if i == 100 {
			submit(game.Command{Kind: game.CmdLaser, X: 320, Y: 80, Angle: math.Pi / 2, Length: 360, Segments: 12, Lifetime: 1.5, NonPiercing: true})
		}
		if err := engine.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	return rec.Recording()
}

func TestRecorderCapturesFrames(t *testing.T) {
	rec := recordSession(t, 120)

	if rec.Ticks != 120 {
		t.Errorf("Expected 120 ticks, got %d", rec.Ticks)
	}
	if rec.Seed != 4242 || rec.Sim.Seed != 4242 {
		t.Errorf("Expected seed 4242, got %d/%d", rec.Seed, rec.Sim.Seed)
	}
	if rec.Frames[0].Tick != 1 || len(rec.Frames[0].Commands) != 2 {
		t.Errorf("Expected actors on tick 1, got %+v", rec.Frames[0])
	}
	if len(rec.Checkpoints) != 4 {
		t.Errorf("Expected 4 checkpoints, got %d", len(rec.Checkpoints))
	}
	if err := rec.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestRunReproducesRecording(t *testing.T) {
	rec := recordSession(t, 300)

	res, err := Run(rec, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Ticks != 300 || res.Commands != rec.CommandCount() {
		t.Errorf("Expected 300 ticks and %d commands, got %d and %d", rec.CommandCount(), res.Ticks, res.Commands)
	}

	again, err := Run(rec, 50)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if again.Final != res.Final {
		t.Errorf("Final digests differ: %016x vs %016x", res.Final, again.Final)
	}
	if len(again.Checkpoints) != 6 {
		t.Errorf("Expected 6 checkpoints, got %d", len(again.Checkpoints))
	}
}

func TestRunDetectsDivergence(t *testing.T) {
	rec := recordSession(t, 120)

	// Nudge one recorded spawn; the next checkpoint must disagree.
	for i := range rec.Frames {
		if rec.Frames[i].Tick == 40 {
			rec.Frames[i].Commands[0].X += 1
		}
	}
	_, err := Run(rec, 0)
	if !errors.Is(err, ErrDiverged) {
		t.Fatalf("Expected ErrDiverged, got %v", err)
	}
}

func TestRunDifferentSeedDiverges(t *testing.T) {
	rec := recordSession(t, 60)
	rec.Seed++
	if _, err := Run(rec, 0); !errors.Is(err, ErrDiverged) {
		t.Errorf("Expected a different seed to diverge, got %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	rec := recordSession(t, 90)

	var buf bytes.Buffer
	if err := Encode(&buf, rec); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Ticks != rec.Ticks || got.CommandCount() != rec.CommandCount() || len(got.Checkpoints) != len(rec.Checkpoints) {
		t.Errorf("Recording changed across encoding")
	}
	if _, err := Run(got, 0); err != nil {
		t.Errorf("Run after decode: %v", err)
	}
}

func TestSaveLoadFile(t *testing.T) {
	rec := recordSession(t, 30)
	path := filepath.Join(t.TempDir(), "session.dmk")
	if err := SaveFile(path, rec); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got.Session != rec.Session {
		t.Errorf("Expected session %s, got %s", rec.Session, got.Session)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Recording)
	}{
		{"version", func(r *Recording) { r.Version = 99 }},
		{"tick rate", func(r *Recording) { r.Sim.TickRate = 0 }},
		{"frame past end", func(r *Recording) { r.Frames = append(r.Frames, Frame{Tick: r.Ticks + 1}) }},
		{"frame at zero", func(r *Recording) { r.Frames = append([]Frame{{Tick: 0}}, r.Frames...) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Recording{Version: FormatVersion, Sim: config.DefaultSim(), Limits: config.DefaultLimits(), Ticks: 10,
				Frames: []Frame{{Tick: 2}, {Tick: 5}}}
			tt.mutate(rec)
			if err := rec.Validate(); !errors.Is(err, ErrBadRecording) {
				t.Errorf("Expected ErrBadRecording, got %v", err)
			}
		})
	}

	if _, err := Decode(bytes.NewReader([]byte{0xc1})); !errors.Is(err, ErrBadRecording) {
		t.Errorf("Expected ErrBadRecording for garbage, got %v", err)
	}
}

func TestDigestSensitivity(t *testing.T) {
	w := game.NewWorld(config.DefaultSim(), config.DefaultLimits(), 1)
	defs, _ := styles.Builtin()
	for _, s := range defs {
		w.DefineStyle(s)
	}
	empty := Digest(w)

	w.Submit(game.Command{Kind: game.CmdSpawn, Style: "orb", X: 10, Y: 10})
	if err := w.Tick(1.0 / 60); err != nil {
		t.Fatal(err)
	}
	one := Digest(w)
	if one == empty {
		t.Error("Expected digest to change after a spawn and tick")
	}
	if Digest(w) != one {
		t.Error("Expected digest to be stable without a tick")
	}
}

func TestRecordDemoReplays(t *testing.T) {
	sim := config.DefaultSim()
	sim.Seed = 7
	rec, err := RecordDemo(sim, config.DefaultLimits(), 240, 60)
	if err != nil {
		t.Fatalf("RecordDemo: %v", err)
	}
	if rec.Ticks != 240 || len(rec.Checkpoints) != 4 {
		t.Fatalf("Expected 240 ticks and 4 checkpoints, got %d and %d", rec.Ticks, len(rec.Checkpoints))
	}

	res, err := Run(rec, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Commands != rec.CommandCount() {
		t.Errorf("Expected %d commands replayed, got %d", rec.CommandCount(), res.Commands)
	}
	if res.Stats.Bullets == 0 {
		t.Error("Expected the demo to leave bullets in flight")
	}
}

func TestDemoCommandsPlaceActorsFirst(t *testing.T) {
	first := DemoCommands(1, 640, 480)
	if len(first) < 2 || first[0].Kind != game.CmdPlayer || first[1].Kind != game.CmdEnemy {
		t.Errorf("Expected player and enemy on tick 1, got %+v", first)
	}
	if cmds := DemoCommands(2, 640, 480); len(cmds) != 0 {
		t.Errorf("Expected a quiet tick 2, got %d commands", len(cmds))
	}
}
