package replay

import (
	"fmt"
	"math"

	"danmaku/internal/config"
	"danmaku/internal/game"
	"danmaku/internal/styles"
)

// DemoCommands returns the scripted input for tick i (1-based) of the demo
// session: a boss firing rings and sprays, a strafing player shooting back
// and one sweeping laser. Tick 1 also places both actors.
func DemoCommands(i int, width, height float32) []game.Command {
	cx, top, bottom := width/2, height/6, height-height/8
	var cmds []game.Command
	if i == 1 {
		cmds = append(cmds,
			game.Command{Kind: game.CmdPlayer, Name: "p1", X: cx, Y: bottom},
			game.Command{Kind: game.CmdEnemy, Name: "boss", X: cx, Y: top, HP: 200},
		)
	}
	switch {
	case i%40 == 0:
		cmds = append(cmds, game.Command{Kind: game.CmdRing, Style: "orb", X: cx, Y: top, Count: 32})
	case i%25 == 0:
		cmds = append(cmds, game.Command{Kind: game.CmdSpray, Style: "spiral", X: cx, Y: top, Angle: math.Pi / 2, Spread: 1, Count: 12})
	case i%6 == 0:
		cmds = append(cmds, game.Command{Kind: game.CmdSpawn, Style: "shot", X: cx, Y: bottom - 10, Angle: -math.Pi / 2, Shooter: "p1"})
	}
	if i%15 == 0 {
		x := cx - 60 + float32(i%120)
		cmds = append(cmds, game.Command{Kind: game.CmdPlayer, Name: "p1", X: x, Y: bottom})
	}
	if i%300 == 100 {
		cmds = append(cmds, game.Command{
			Kind: game.CmdLaser, X: cx, Y: top, Angle: math.Pi / 2,
			Length: bottom - top, Segments: 12, Lifetime: 1.5, NonPiercing: true,
		})
	}
	return cmds
}

// RecordDemo runs the demo session for ticks ticks on a fresh engine with
// the built-in styles and returns its recording.
func RecordDemo(sim config.SimConfig, limits config.ResourceLimits, ticks int, every uint64) (*Recording, error) {
	engine := game.NewEngine(sim, limits)
	defs, err := styles.Builtin()
	if err != nil {
		return nil, err
	}
	if err := engine.DefineStyles(defs); err != nil {
		return nil, err
	}
	rec := NewRecorder(engine, nil, every)

	w, h := float32(sim.Width), float32(sim.Height)
	for i := 1; i <= ticks; i++ {
		for _, c := range DemoCommands(i, w, h) {
			if err := engine.Submit(c); err != nil {
				return nil, fmt.Errorf("tick %d %s: %w", i, c.Kind, err)
			}
		}
		if err := engine.Step(); err != nil {
			return nil, fmt.Errorf("tick %d: %w", i, err)
		}
	}
	return rec.Recording(), nil
}
