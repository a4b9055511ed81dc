package bullets

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"danmaku/internal/game/collections"
	"danmaku/internal/game/vmath"
)

func testConfig() PoolConfig {
	return PoolConfig{
		Min:        vmath.V(-20, -20),
		Max:        vmath.V(20, 20),
		CellSize:   2,
		CullMargin: -1,
		Capacity:   8,
	}
}

func newTestPool(t *testing.T, style Style, cfg PoolConfig) *Pool {
	t.Helper()
	p, err := NewPool(style, cfg)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return p
}

func spawnAt(t *testing.T, p *Pool, pos vmath.Vec2) int {
	t.Helper()
	i, err := p.Spawn(SpawnParams{Position: pos, Direction: vmath.V(1, 0), Scale: 1})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return i
}

func TestQueryRegionReturnsOnlyNearbyBullet(t *testing.T) {
	p := newTestPool(t, Style{Name: "orb", Collider: Circle(1)}, testConfig())
	for _, pos := range []vmath.Vec2{vmath.V(0, 0), vmath.V(5, 5), vmath.V(10, 10)} {
		spawnAt(t, p, pos)
	}
	p.RebuildBuckets()

	got := p.QueryRegion(vmath.V(-1, -1), vmath.V(1, 1), nil)
	if len(got) != 1 || got[0] != 0 {
		t.Errorf("expected [0], got %v", got)
	}
}

func TestLinearQueryBeforeBucketing(t *testing.T) {
	p := newTestPool(t, Style{Name: "orb", Collider: Circle(1)}, testConfig())
	spawnAt(t, p, vmath.V(0, 0))
	spawnAt(t, p, vmath.V(0.5, 0.5))
	spawnAt(t, p, vmath.V(3, 3))

	got := p.QueryRegion(vmath.V(-1, -1), vmath.V(1, 1), nil)
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("expected [0 1], got %v", got)
	}
}

func TestSpawnRejectedWhileFrozen(t *testing.T) {
	p := newTestPool(t, Style{Name: "orb", Collider: Circle(1)}, testConfig())
	spawnAt(t, p, vmath.V(0, 0))
	p.RebuildBuckets()

	if _, err := p.Spawn(SpawnParams{}); !errors.Is(err, ErrPoolFrozen) {
		t.Fatalf("expected ErrPoolFrozen, got %v", err)
	}

	p.CompactTick()
	if _, err := p.Spawn(SpawnParams{}); err != nil {
		t.Errorf("spawn after compaction should succeed: %v", err)
	}
}

func TestCompactTickPreservesOrder(t *testing.T) {
	p := newTestPool(t, Style{Name: "orb", Collider: Circle(1)}, testConfig())
	for i := 0; i < 5; i++ {
		spawnAt(t, p, vmath.V(float32(i), 0))
	}
	handles := make([]collections.Handle, 5)
	for i := range handles {
		handles[i] = p.Handle(i)
	}

	if !p.MarkDeleted(1) {
		t.Fatal("first delete should succeed")
	}
	if p.MarkDeleted(1) {
		t.Error("double delete should be a no-op")
	}
	if removed := p.CompactTick(); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	if p.Len() != 4 || p.Count() != 4 {
		t.Fatalf("expected 4 bullets, got len=%d count=%d", p.Len(), p.Count())
	}
	for i, x := range []float32{0, 2, 3, 4} {
		if p.Position(i).X != x {
			t.Errorf("index %d: x=%v, want %v", i, p.Position(i).X, x)
		}
	}
	for _, orig := range []int{0, 2, 3, 4} {
		idx, ok := p.IndexOf(handles[orig])
		if !ok || p.Position(idx).X != float32(orig) {
			t.Errorf("handle of bullet %d resolved to (%d, %v)", orig, idx, ok)
		}
	}
	if _, ok := p.IndexOf(handles[1]); ok {
		t.Error("handle of removed bullet must be stale")
	}
	if p.Delete(handles[1]) {
		t.Error("delete through a stale handle should be a no-op")
	}
}

func TestIntegrateMotion(t *testing.T) {
	style := Style{Name: "shot", Collider: Circle(1), Motion: Linear(10), Lifetime: 1}
	p := newTestPool(t, style, testConfig())
	spawnAt(t, p, vmath.V(0, 0))

	if expired, err := p.IntegrateMotion(0.5, 0.5); err != nil || expired != 0 {
		t.Fatalf("nothing should expire yet, got %d (%v)", expired, err)
	}
	if got := p.Position(0); got != vmath.V(5, 0) {
		t.Errorf("expected (5, 0), got %v", got)
	}

	if expired, err := p.IntegrateMotion(0.5, 1.0); err != nil || expired != 1 {
		t.Errorf("bullet at its lifetime should expire, got %d (%v)", expired, err)
	}
	if p.Count() != 0 || p.Pending() != 1 {
		t.Errorf("expected 0 live / 1 pending, got %d / %d", p.Count(), p.Pending())
	}
}

func TestBoundsCulling(t *testing.T) {
	cfg := testConfig()
	cfg.CullMargin = 5
	p := newTestPool(t, Style{Name: "shot", Collider: Circle(1), Motion: Linear(100)}, cfg)
	spawnAt(t, p, vmath.V(18, 0))
	spawnAt(t, p, vmath.V(0, 0))

	if _, err := p.IntegrateMotion(0.1, 0.1); err != nil { // +10 on x
		t.Fatal(err)
	}
	if !p.Deleted(0) {
		t.Error("bullet beyond bounds plus margin should expire")
	}
	if p.Deleted(1) {
		t.Error("bullet inside bounds should survive")
	}
}

func TestMakeCulledCopy(t *testing.T) {
	style := Style{Name: "orb", Collider: Circle(1), Destructible: true}
	p := newTestPool(t, style, testConfig())
	spawnAt(t, p, vmath.V(3, 4))

	if _, err := p.MakeCulledCopy(0); !errors.Is(err, ErrNoCullPool) {
		t.Fatalf("expected ErrNoCullPool, got %v", err)
	}

	twin := newTestPool(t, style.CullStyle(0.5), testConfig())
	p.SetCullTarget(twin)
	p.RebuildBuckets()
	twin.RebuildBuckets()

	if _, err := p.MakeCulledCopy(0); err != nil {
		t.Fatalf("cull copy into non-colliding twin must work mid-tick: %v", err)
	}
	p.MarkDeleted(0)
	if twin.Count() != 1 || twin.Position(0) != vmath.V(3, 4) {
		t.Errorf("twin should hold the copy, count=%d", twin.Count())
	}
	if !twin.Style().NonColliding || twin.Name() != "orb#cull" {
		t.Errorf("unexpected twin style %+v", twin.Style())
	}
	if twin.Frozen() {
		t.Error("non-colliding pools never freeze")
	}
}

func TestExactTestPerShape(t *testing.T) {
	tests := []struct {
		name     string
		collider Collider
		dir      vmath.Vec2
		target   vmath.Vec2
		want     bool
	}{
		{"circle hit", Circle(1), vmath.V(1, 0), vmath.V(2.5, 0), true},
		{"circle miss", Circle(1), vmath.V(1, 0), vmath.V(3.5, 0), false},
		{"rect long axis", Collider{Kind: ColliderRect, HalfExtents: vmath.V(4, 0.5)}, vmath.V(1, 0), vmath.V(5.5, 0), true},
		{"rect rotated away", Collider{Kind: ColliderRect, HalfExtents: vmath.V(4, 0.5)}, vmath.V(0, 1), vmath.V(5.5, 0), false},
		{"segment tip", Collider{Kind: ColliderSegment, Length: 10}, vmath.V(1, 0), vmath.V(6, 0), true},
		{"segment side", Collider{Kind: ColliderSegment, Length: 10, Radius: 1}, vmath.V(1, 0), vmath.V(0, 2.5), true},
		{"segment side miss", Collider{Kind: ColliderSegment, Length: 10}, vmath.V(1, 0), vmath.V(0, 2.5), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPool(t, Style{Name: "s", Collider: tt.collider}, testConfig())
			if _, err := p.Spawn(SpawnParams{Direction: tt.dir, Scale: 1}); err != nil {
				t.Fatal(err)
			}
			if got := p.Test(0, tt.target, 2, 0).Collided; got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRectHurtboxPerShape(t *testing.T) {
	long := Collider{Kind: ColliderRect, HalfExtents: vmath.V(4, 0.5)}
	line := Collider{Kind: ColliderSegment, Length: 10}
	thick := Collider{Kind: ColliderSegment, Length: 10, Radius: 1}
	const d = 0.70710677
	tests := []struct {
		name     string
		collider Collider
		dir      vmath.Vec2
		center   vmath.Vec2
		half     vmath.Vec2
		cos, sin float32
		want     bool
	}{
		{"circle hit", Circle(1), vmath.V(1, 0), vmath.V(1.8, 0), vmath.V(1, 1), 1, 0, true},
		{"circle miss", Circle(1), vmath.V(1, 0), vmath.V(2.5, 0), vmath.V(1, 1), 1, 0, false},
		{"rect overlaps end", long, vmath.V(1, 0), vmath.V(4.2, 0), vmath.V(0.5, 0.5), 1, 0, true},
		{"rect clear of corner", long, vmath.V(1, 0), vmath.V(3, 2), vmath.V(0.5, 0.5), 1, 0, false},
		{"rect turned toward box", long, vmath.V(0, 1), vmath.V(0, 3.5), vmath.V(0.5, 0.5), 1, 0, true},
		{"rect touching square", long, vmath.V(1, 0), vmath.V(5, 0), vmath.V(1, 1), 1, 0, false},
		{"rect reaches diamond", long, vmath.V(1, 0), vmath.V(5, 0), vmath.V(1, 1), d, d, true},
		{"line clear of box", line, vmath.V(1, 0), vmath.V(3, 2), vmath.V(0.5, 0.5), 1, 0, false},
		{"line crosses box", line, vmath.V(1, 0), vmath.V(3, 0.3), vmath.V(0.5, 0.5), 1, 0, true},
		{"thick line beside box", thick, vmath.V(1, 0), vmath.V(3, 1.2), vmath.V(0.5, 0.5), 1, 0, true},
		{"thin line beside box", line, vmath.V(1, 0), vmath.V(3, 1.2), vmath.V(0.5, 0.5), 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPool(t, Style{Name: "s", Collider: tt.collider}, testConfig())
			if _, err := p.Spawn(SpawnParams{Direction: tt.dir, Scale: 1}); err != nil {
				t.Fatal(err)
			}
			if got := p.TestRect(0, tt.center, tt.half, tt.cos, tt.sin); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScaleAffectsReachAndTest(t *testing.T) {
	p := newTestPool(t, Style{Name: "orb", Collider: Circle(1)}, testConfig())
	if _, err := p.Spawn(SpawnParams{Scale: 3}); err != nil {
		t.Fatal(err)
	}
	p.RebuildBuckets()
	if p.Reach() != 3 {
		t.Errorf("expected reach 3, got %v", p.Reach())
	}
	if !p.Test(0, vmath.V(4.5, 0), 2, 0).Collided {
		t.Error("scaled bullet should reach the receiver")
	}
}

func TestBucketQueryHasNoFalseNegatives(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	cfg := PoolConfig{Min: vmath.V(0, 0), Max: vmath.V(640, 480), CellSize: 24, CullMargin: -1}
	p := newTestPool(t, Style{Name: "orb", Collider: Circle(4), Motion: Sine(80, 6, 1.5)}, cfg)
	for i := 0; i < 800; i++ {
		_, err := p.Spawn(SpawnParams{
			Position:  vmath.V(rng.Float32()*700-30, rng.Float32()*540-30),
			Direction: vmath.FromAngle(rng.Float64() * 2 * math.Pi),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if _, err := p.IntegrateMotion(1.0/60, 1.0/60); err != nil {
		t.Fatal(err)
	}
	p.RebuildBuckets()

	for q := 0; q < 200; q++ {
		center := vmath.V(rng.Float32()*640, rng.Float32()*480)
		const radius = 5
		mcd := radius + p.Reach()
		candidates := p.QueryRegion(center.Sub(vmath.V(mcd, mcd)), center.Add(vmath.V(mcd, mcd)), nil)
		seen := make(map[int]bool, len(candidates))
		for _, c := range candidates {
			seen[c] = true
		}
		p.Each(func(i int) bool {
			if p.Test(i, center, radius, 0).Collided && !seen[i] {
				t.Fatalf("query %d: colliding bullet %d missing from candidates", q, i)
			}
			return true
		})
	}
}

func TestInvalidStyleFailsFast(t *testing.T) {
	tests := []struct {
		name  string
		style Style
		want  error
	}{
		{"zero radius", Style{Name: "a", Collider: Circle(0)}, ErrInvalidCollider},
		{"flat rect", Style{Name: "a", Collider: Collider{Kind: ColliderRect, HalfExtents: vmath.V(1, 0)}}, ErrInvalidCollider},
		{"unknown kind", Style{Name: "a", Collider: Collider{Kind: 9, Radius: 1}}, ErrInvalidCollider},
		{"no name", Style{Collider: Circle(1)}, ErrInvalidStyle},
		{"negative lifetime", Style{Name: "a", Collider: Circle(1), Lifetime: -1}, ErrInvalidStyle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPool(tt.style, testConfig()); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestOwnerDataOnlyForPlayerPools(t *testing.T) {
	player := newTestPool(t, Style{Name: "shot", Collider: Circle(1), PlayerOwned: true}, testConfig())
	enemy := newTestPool(t, Style{Name: "orb", Collider: Circle(1)}, testConfig())
	owner := OwnerData{Shooter: "p1", Power: 2}
	player.Spawn(SpawnParams{Owner: owner})
	enemy.Spawn(SpawnParams{Owner: owner})

	if got, ok := player.Owner(0); !ok || got != owner {
		t.Errorf("player pool owner = (%+v, %v)", got, ok)
	}
	if _, ok := enemy.Owner(0); ok {
		t.Error("enemy pool should not carry owner data")
	}
}

func TestControlsRunInPriorityOrderAndPrune(t *testing.T) {
	p := newTestPool(t, Style{Name: "orb", Collider: Circle(1)}, testConfig())
	var order []string
	record := func(name string) func(*Pool, float32, float32) {
		return func(*Pool, float32, float32) { order = append(order, name) }
	}
	ctx, cancel := context.WithCancel(context.Background())

	p.AddControl(Control{Name: "late", Priority: 10, Apply: record("late")})
	p.AddControl(Control{Name: "early", Priority: -1, Ctx: ctx, Apply: record("early")})
	p.AddControl(Control{Name: "mid", Priority: 0, Apply: record("mid")})

	if pruned := p.RunControls(0, 0); pruned != 0 {
		t.Fatalf("nothing should be pruned yet, got %d", pruned)
	}
	if len(order) != 3 || order[0] != "early" || order[1] != "mid" || order[2] != "late" {
		t.Errorf("unexpected order %v", order)
	}

	cancel()
	order = order[:0]
	if pruned := p.RunControls(0, 0); pruned != 1 {
		t.Errorf("expected 1 pruned control, got %d", pruned)
	}
	if p.Controls() != 2 {
		t.Errorf("cancelled control should be removed, %d left", p.Controls())
	}
	if len(order) != 2 || order[0] != "mid" {
		t.Errorf("unexpected order after prune %v", order)
	}
}

func TestBuiltinControls(t *testing.T) {
	style := Style{Name: "orb", Collider: Circle(1)}
	p := newTestPool(t, style, testConfig())
	twin := newTestPool(t, style.CullStyle(1), testConfig())
	p.SetCullTarget(twin)

	spawnAt(t, p, vmath.V(0, 0))
	spawnAt(t, p, vmath.V(15, 0))
	p.AddControl(DeleteOutside(nil, vmath.V(-10, -10), vmath.V(10, 10)))
	p.AddControl(Rotate(nil, math.Pi))
	p.RunControls(0, 0.5)

	if !p.Deleted(1) || p.Deleted(0) {
		t.Error("only the bullet outside the box should be deleted")
	}
	if d := p.Direction(0); math.Abs(float64(d.X)) > 1e-5 || math.Abs(float64(d.Y-1)) > 1e-5 {
		t.Errorf("half a turn per second for 0.5s should point up, got %v", d)
	}

	p.CompactTick()
	p.AddControl(CancelAfter(nil, 0))
	p.RunControls(1, 0)
	if p.Count() != 0 || twin.Count() != 1 {
		t.Errorf("expected bullet converted to cull copy, live=%d twin=%d", p.Count(), twin.Count())
	}
}

func TestInstanceRandIsStable(t *testing.T) {
	for id := uint64(0); id < 1000; id++ {
		a := InstanceRand(id, 7)
		if a != InstanceRand(id, 7) {
			t.Fatal("same inputs must give the same value")
		}
		if a < 0 || a >= 1 {
			t.Fatalf("value %v out of [0, 1)", a)
		}
	}
	if InstanceRand(1, 1) == InstanceRand(1, 2) {
		t.Error("salt should change the draw")
	}
}

func TestIntegrateMotionStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	style := Style{Name: "faulty", Collider: Circle(1), Motion: func(s MotionSample) (vmath.Vec2, error) {
		if s.Position.X > 0 {
			return vmath.Vec2{}, boom
		}
		return vmath.V(1, 0), nil
	}}
	p := newTestPool(t, style, testConfig())
	spawnAt(t, p, vmath.V(0, 0))
	spawnAt(t, p, vmath.V(2, 0))
	spawnAt(t, p, vmath.V(0, 0))

	_, err := p.IntegrateMotion(0.1, 0.1)
	if !errors.Is(err, ErrMotion) || !errors.Is(err, boom) {
		t.Fatalf("Expected ErrMotion wrapping boom, got %v", err)
	}
	if got := p.Position(2); got != vmath.V(0, 0) {
		t.Errorf("Expected integration to stop at the failing bullet, third moved to %v", got)
	}
}

func TestIntegrateMotionRecoversPanic(t *testing.T) {
	style := Style{Name: "panicky", Collider: Circle(1), Motion: func(s MotionSample) (vmath.Vec2, error) {
		var zero int
		return vmath.V(float32(1/zero), 0), nil
	}}
	p := newTestPool(t, style, testConfig())
	spawnAt(t, p, vmath.V(0, 0))

	if _, err := p.IntegrateMotion(0.1, 0.1); !errors.Is(err, ErrMotion) {
		t.Fatalf("Expected a recovered ErrMotion, got %v", err)
	}
}
