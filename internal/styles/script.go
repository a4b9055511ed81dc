package styles

import (
	"fmt"
	"math"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"danmaku/internal/game/bullets"
	"danmaku/internal/game/vmath"
)

// Inputs visible to a motion script. The script assigns vx and vy, the
// bullet's velocity in world units per second.
//
//	elapsed  bullet age in seconds at the end of the step
//	dt       step length in seconds
//	speed    the style's motion.speed value
//	dir_x, dir_y  current unit direction
//	scale    bullet scale
//	seed     stable per-bullet value in [0, 1)
var scriptInputs = []string{"elapsed", "dt", "speed", "dir_x", "dir_y", "scale", "seed"}

// Only pure modules are importable so a script cannot break replays.
var scriptModules = []string{"math"}

// ScriptMotion is a compiled tengo motion script. It is not safe for
// concurrent use; the simulation calls it from the tick goroutine only.
type ScriptMotion struct {
	style    string
	speed    float32
	compiled *tengo.Compiled
}

// CompileMotion compiles src and runs it once against a sample bullet so
// runtime errors surface at load time. Errors that depend on the bullet's
// state can still happen later and fail the tick they happen in.
func CompileMotion(style, src string, speed float32) (*ScriptMotion, error) {
	script := tengo.NewScript([]byte(src))
	for _, name := range scriptInputs {
		if err := script.Add(name, 0.0); err != nil {
			return nil, err
		}
	}
	_ = script.Add("vx", 0.0)
	_ = script.Add("vy", 0.0)
	script.SetImports(stdlib.GetModuleMap(scriptModules...))
	script.SetMaxAllocs(4096)

	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("%w: compile motion script: %v", ErrInvalidStyle, err)
	}

	sm := &ScriptMotion{style: style, speed: speed, compiled: compiled}
	if _, err := sm.velocity(bullets.MotionSample{
		Elapsed:   0.5,
		Dt:        1.0 / 60,
		Direction: vmath.V(1, 0),
		Scale:     1,
	}); err != nil {
		return nil, fmt.Errorf("%w: motion script: %v", ErrInvalidStyle, err)
	}
	return sm, nil
}

// Func adapts the script to a bullets.MotionFunc.
func (m *ScriptMotion) Func() bullets.MotionFunc {
	return func(s bullets.MotionSample) (vmath.Vec2, error) {
		v, err := m.velocity(s)
		if err != nil {
			return vmath.Vec2{}, fmt.Errorf("script %s: %w", m.style, err)
		}
		return v.Scale(s.Dt), nil
	}
}

func (m *ScriptMotion) velocity(s bullets.MotionSample) (v vmath.Vec2, err error) {
	// The tengo VM panics on some runtime faults, integer division by zero
	// among them.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runtime panic: %v", r)
		}
	}()
	inputs := [...]float64{
		float64(s.Elapsed),
		float64(s.Dt),
		float64(m.speed),
		float64(s.Direction.X),
		float64(s.Direction.Y),
		float64(s.Scale),
		float64(bullets.InstanceRand(s.ID, 0x5c)),
	}
	for i, name := range scriptInputs {
		if err := m.compiled.Set(name, inputs[i]); err != nil {
			return vmath.Vec2{}, err
		}
	}
	if err := m.compiled.Run(); err != nil {
		return vmath.Vec2{}, err
	}
	vx := m.compiled.Get("vx").Float()
	vy := m.compiled.Get("vy").Float()
	if math.IsNaN(vx) || math.IsNaN(vy) || math.IsInf(vx, 0) || math.IsInf(vy, 0) {
		return vmath.Vec2{}, fmt.Errorf("non-finite velocity (%v, %v)", vx, vy)
	}
	return vmath.V(float32(vx), float32(vy)), nil
}
