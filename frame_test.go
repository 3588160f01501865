package loom

import (
	"log/slog"
	"sync"
	"testing"
	stdtime "time"
)

// newManualWorld builds a World the way NewWorld does internally, but lets
// the caller register component types first and build systems against the
// resulting *ComponentType handles before sealing — the two-phase sequence
// documented in DESIGN.md's Open Questions (Reads/Writes need a live
// pointer, which a single WithDefs(...) call can't forward-reference).
func newManualWorld(t *testing.T, threads, maxEntities int, register func(r *Registry) map[string]*ComponentType, buildSystems func(types map[string]*ComponentType) []*System) *World {
	t.Helper()
	cfg := NewConfig().WithThreads(threads).WithMaxEntities(maxEntities)
	numWriters := threads
	if numWriters < 1 {
		numWriters = 1
	}
	r := NewRegistry(cfg, numWriters)
	types := register(r)
	r.seal()

	systems := buildSystems(types)
	planner := NewPlanner()
	for _, s := range systems {
		planner.Add(s)
	}
	if err := planner.Seal(threads); err != nil {
		t.Fatalf("planner.Seal: %v", err)
	}
	logger := slog.Default()
	director := NewDirector(planner, logger)
	var plan Plan
	if threads <= 1 {
		plan = NewSimplePlan(director, systems)
	} else {
		plan = NewThreadedPlan(director, systems)
	}
	return &World{
		cfg:        cfg,
		registry:   r,
		buffers:    NewBuffers(numWriters),
		planner:    planner,
		director:   director,
		plans:      map[string]Plan{DefaultGroupName: plan},
		groups:     map[string][]*System{DefaultGroupName: systems},
		groupOrder: []string{DefaultGroupName},
		sealed:     true,
		logger:     logger,
	}
}

// Scenario 1 (scaled): doubling an all-zero component leaves it at zero,
// and the frame completes in a single tick.
func TestFrameDoublesComponentValue(t *testing.T) {
	const n = 200
	var a *ComponentType
	w := newManualWorld(t, 1, n,
		func(r *Registry) map[string]*ComponentType {
			ct, err := r.RegisterComponentType("A", []Field{{Name: "Value", Kind: FieldInt32}},
				ComponentTypeOptions{Storage: StoragePacked, Capacity: n})
			if err != nil {
				t.Fatalf("RegisterComponentType: %v", err)
			}
			a = ct
			return map[string]*ComponentType{"A": ct}
		},
		func(types map[string]*ComponentType) []*System {
			return []*System{
				NewSystem("SystemA", func(w *World, time, delta float64) error {
					acc := FactoryNewAccessor[int32](w, a)
					q := w.NewQuery(QueryOptions{With: a, WantCurrent: true})
					if err := q.BeginFrame(); err != nil {
						return err
					}
					c := w.NewCursor(q)
					for c.Next() {
						id, _ := c.CurrentEntityID()
						v, _ := acc.Get(id, true, 0)
						*v *= 2
					}
					return nil
				}).Writes(a),
			}
		})

	for i := 0; i < n; i++ {
		if _, err := w.CreateEntity(); err != nil {
			t.Fatalf("CreateEntity: %v", err)
		}
	}
	for id := EntityID(1); int(id) <= n; id++ {
		if err := w.registry.AddComponent(0, id, a.ID()); err != nil {
			t.Fatalf("AddComponent: %v", err)
		}
	}

	if err := w.Execute(nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if w.frameCount != 1 {
		t.Fatalf("frameCount = %d, want 1", w.frameCount)
	}

	acc := FactoryNewAccessor[int32](w, a)
	for id := EntityID(1); int(id) <= n; id++ {
		v, ok := acc.Get(id, false, 0)
		if !ok || *v != 0 {
			t.Fatalf("entity %d A.Value = %v, want 0", id, v)
		}
	}
}

// Scenario 2 (scaled): SpawnB creates two B entities per A entity, KillB
// (scheduled after) destroys every B; entity count returns to the initial
// count and limbo components are observable before finalisation.
func TestFrameSpawnThenKillLeavesEntityCountUnchanged(t *testing.T) {
	const n = 20
	types := map[string]*ComponentType{}
	w := newManualWorld(t, 1, 8*n,
		func(r *Registry) map[string]*ComponentType {
			a, err := r.RegisterComponentType("A", []Field{{Name: "Value", Kind: FieldInt32}},
				ComponentTypeOptions{Storage: StoragePacked, Capacity: n})
			if err != nil {
				t.Fatalf("RegisterComponentType A: %v", err)
			}
			b, err := r.RegisterComponentType("B", []Field{{Name: "Value", Kind: FieldInt32}},
				ComponentTypeOptions{Storage: StoragePacked, Capacity: 4 * n})
			if err != nil {
				t.Fatalf("RegisterComponentType B: %v", err)
			}
			types["A"] = a
			types["B"] = b
			return types
		},
		func(types map[string]*ComponentType) []*System {
			a, b := types["A"], types["B"]
			spawnB := NewSystem("SpawnB", func(w *World, time, delta float64) error {
				aAcc := FactoryNewAccessor[int32](w, a)
				q := w.NewQuery(QueryOptions{With: a, WantCurrent: true})
				if err := q.BeginFrame(); err != nil {
					return err
				}
				c := w.NewCursor(q)
				var values []int32
				for c.Next() {
					id, _ := c.CurrentEntityID()
					v, _ := aAcc.Get(id, false, 0)
					values = append(values, *v)
				}
				c.Reset()

				bAcc := FactoryNewAccessor[int32](w, b)
				for _, v := range values {
					for i := 0; i < 2; i++ {
						e, err := w.CreateEntity()
						if err != nil {
							return err
						}
						if err := e.AddComponent(0, b); err != nil {
							return err
						}
						p, _ := bAcc.Get(e.ID(), true, 0)
						*p = v
					}
				}
				return nil
			}).Reads(a).Writes(b).Before("KillB")

			killB := NewSystem("KillB", func(w *World, time, delta float64) error {
				q := w.NewQuery(QueryOptions{With: b, WantCurrent: true})
				if err := q.BeginFrame(); err != nil {
					return err
				}
				c := w.NewCursor(q)
				var ids []EntityID
				for c.Next() {
					id, _ := c.CurrentEntityID()
					ids = append(ids, id)
				}
				c.Reset()
				for _, id := range ids {
					e := Entity{id: id, recycled: w.registry.pool.Recycled(id), registry: w.registry}
					if err := e.Destroy(0); err != nil {
						return err
					}
				}
				return nil
			}).Writes(b).After("SpawnB")

			return []*System{spawnB, killB}
		})

	a := types["A"]
	for i := 0; i < n; i++ {
		e, err := w.CreateEntity()
		if err != nil {
			t.Fatalf("CreateEntity: %v", err)
		}
		if err := e.AddComponent(0, a); err != nil {
			t.Fatalf("AddComponent: %v", err)
		}
	}

	before := w.Stats().EntityCount
	if before != n {
		t.Fatalf("EntityCount before frame = %d, want %d", before, n)
	}

	// Drive the frame manually (rather than w.Execute) so Stats can be read
	// after execute but before finalisation commits the removal log.
	f := newFrame(w)
	f.begin(nil)
	if err := f.execute(DefaultGroupName); err != nil {
		t.Fatalf("execute: %v", err)
	}
	mid := w.Stats()
	if got := mid.LimboComponents["B"]; got < 2*n {
		t.Fatalf("mid-cycle limbo B components = %d, want >= %d", got, 2*n)
	}
	if err := f.end(); err != nil {
		t.Fatalf("end: %v", err)
	}

	after := w.Stats().EntityCount
	if after != n {
		t.Fatalf("EntityCount after frame = %d, want %d", after, n)
	}

	bQuery := w.NewQuery(QueryOptions{With: types["B"], WantCurrent: true})
	if err := bQuery.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	if got := len(bQuery.Current()); got != 0 {
		t.Fatalf("B-query matched %d entities after KillB, want 0", got)
	}
}

// Scenario 3 (scaled): AddB (A without B -> add B) before RemoveB (B ->
// remove B); after a frame, added/removed each report the full entity
// count and no entity ends the frame with B.
func TestFrameAddThenRemoveRoundTrip(t *testing.T) {
	const n = 30
	types := map[string]*ComponentType{}
	w := newManualWorld(t, 1, 2*n,
		func(r *Registry) map[string]*ComponentType {
			a, err := r.RegisterComponentType("A", nil, ComponentTypeOptions{Storage: StorageSparse})
			if err != nil {
				t.Fatalf("RegisterComponentType A: %v", err)
			}
			b, err := r.RegisterComponentType("B", nil, ComponentTypeOptions{Storage: StorageSparse})
			if err != nil {
				t.Fatalf("RegisterComponentType B: %v", err)
			}
			types["A"] = a
			types["B"] = b
			return types
		},
		func(types map[string]*ComponentType) []*System {
			a, b := types["A"], types["B"]
			addB := NewSystem("AddB", func(w *World, time, delta float64) error {
				q := w.NewQuery(QueryOptions{With: a, WithoutTypes: []ComponentTypeID{b.ID()}, WantCurrent: true})
				if err := q.BeginFrame(); err != nil {
					return err
				}
				c := w.NewCursor(q)
				var ids []EntityID
				for c.Next() {
					id, _ := c.CurrentEntityID()
					ids = append(ids, id)
				}
				c.Reset()
				for _, id := range ids {
					e := Entity{id: id, recycled: w.registry.pool.Recycled(id), registry: w.registry}
					if err := e.AddComponent(0, b); err != nil {
						return err
					}
				}
				return nil
			}).Writes(b).Before("RemoveB")

			removeB := NewSystem("RemoveB", func(w *World, time, delta float64) error {
				q := w.NewQuery(QueryOptions{With: b, WantCurrent: true})
				if err := q.BeginFrame(); err != nil {
					return err
				}
				c := w.NewCursor(q)
				var ids []EntityID
				for c.Next() {
					id, _ := c.CurrentEntityID()
					ids = append(ids, id)
				}
				c.Reset()
				for _, id := range ids {
					e := Entity{id: id, recycled: w.registry.pool.Recycled(id), registry: w.registry}
					if err := e.RemoveComponent(0, b); err != nil {
						return err
					}
				}
				return nil
			}).Writes(b).After("AddB")

			return []*System{addB, removeB}
		})

	a := types["A"]
	for i := 0; i < n; i++ {
		e, err := w.CreateEntity()
		if err != nil {
			t.Fatalf("CreateEntity: %v", err)
		}
		if err := e.AddComponent(0, a); err != nil {
			t.Fatalf("AddComponent: %v", err)
		}
	}

	bQuery := w.NewQuery(QueryOptions{With: types["B"], WantCurrent: true, WantAdded: true, WantRemoved: true})
	if err := bQuery.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}

	for frame := 0; frame < 3; frame++ {
		if err := w.Execute(nil); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if err := bQuery.BeginFrame(); err != nil {
			t.Fatalf("BeginFrame: %v", err)
		}
		if got := len(bQuery.Added()); got != n {
			t.Fatalf("frame %d: Added() = %d, want %d", frame, got, n)
		}
		if got := len(bQuery.Removed()); got != n {
			t.Fatalf("frame %d: Removed() = %d, want %d", frame, got, n)
		}
		if got := len(bQuery.Current()); got != 0 {
			t.Fatalf("frame %d: no entity should have B at frame end, got %d", frame, got)
		}
	}
}

// Scenario 4: a cyclic explicit schedule fails Planner.Seal with
// PrecedenceCycleError naming both systems.
func TestFrameCyclicScheduleFailsToSeal(t *testing.T) {
	s1 := NewSystem("S1", func(w *World, time, delta float64) error { return nil }).Before("S2")
	s2 := NewSystem("S2", func(w *World, time, delta float64) error { return nil }).Before("S1")

	p := NewPlanner()
	p.Add(s1)
	p.Add(s2)
	err := p.Seal(1)
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	if !IsCheckError(err) {
		t.Fatalf("expected a check error, got %v", err)
	}
}

// Scenario 5: a changed-tracking query on A is empty until A is written,
// reports the entity once the frame after a write, then goes empty again.
func TestFrameChangedQueryTracksWritesAcrossFrames(t *testing.T) {
	const n = 1
	var a *ComponentType
	w := newManualWorld(t, 1, 8,
		func(r *Registry) map[string]*ComponentType {
			ct, err := r.RegisterComponentType("A", []Field{{Name: "Value", Kind: FieldInt32}},
				ComponentTypeOptions{Storage: StoragePacked, Capacity: 8})
			if err != nil {
				t.Fatalf("RegisterComponentType: %v", err)
			}
			a = ct
			return map[string]*ComponentType{"A": ct}
		},
		func(types map[string]*ComponentType) []*System { return nil })

	e, err := w.CreateEntity()
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if err := e.AddComponent(0, a); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}
	acc := FactoryNewAccessor[int32](w, a)
	v, _ := acc.Get(e.ID(), true, 0)
	*v = 1

	q := w.NewQuery(QueryOptions{With: a, Track: []ComponentTypeID{a.ID()}, WantCurrent: true, WantChanged: true})
	if err := q.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}

	if err := w.Execute(nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := q.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	if got := len(q.Changed()); got != 0 {
		t.Fatalf("Changed() after a no-write frame = %d, want 0", got)
	}

	v2, _ := acc.Get(e.ID(), true, 0)
	*v2 = 2
	if err := w.Execute(nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := q.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	changed := q.Changed()
	if len(changed) != 1 || changed[0] != e.ID() {
		t.Fatalf("Changed() after a write = %v, want [%d]", changed, e.ID())
	}

	if err := w.Execute(nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := q.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	if got := len(q.Changed()); got != 0 {
		t.Fatalf("Changed() after another no-write frame = %d, want 0", got)
	}
}

// Scenario 6 (scaled): a four-lane configuration with independent systems
// never overlaps two systems whose write masks intersect.
func TestFrameParallelLanesDontOverlapConflictingWrites(t *testing.T) {
	const nSystems = 8
	types := map[string]*ComponentType{}
	var mu sync.Mutex
	activeWrites := map[ComponentTypeID]bool{}
	var overlapErr error
	var executed int

	w := newManualWorld(t, 4, 64,
		func(r *Registry) map[string]*ComponentType {
			for i := 0; i < nSystems/2; i++ {
				name := componentName(i)
				ct, err := r.RegisterComponentType(name, []Field{{Name: "Value", Kind: FieldInt32}},
					ComponentTypeOptions{Storage: StoragePacked, Capacity: 8})
				if err != nil {
					t.Fatalf("RegisterComponentType %s: %v", name, err)
				}
				types[name] = ct
			}
			return types
		},
		func(types map[string]*ComponentType) []*System {
			var systems []*System
			for i := 0; i < nSystems; i++ {
				ct := types[componentName(i%(nSystems/2))]
				name := systemName(i)
				systems = append(systems, NewSystem(name, func(w *World, time, delta float64) error {
					mu.Lock()
					if activeWrites[ct.ID()] && overlapErr == nil {
						overlapErr = CheckErrorf("%s overlapped another writer of %s", name, ct.Name())
					}
					activeWrites[ct.ID()] = true
					mu.Unlock()

					stdtime.Sleep(2 * stdtime.Millisecond)

					mu.Lock()
					delete(activeWrites, ct.ID())
					executed++
					mu.Unlock()
					return nil
				}).Writes(ct))
			}
			return systems
		})

	if w.planner.LaneCount() > 4 {
		t.Fatalf("LaneCount() = %d, want at most 4", w.planner.LaneCount())
	}
	if err := w.Execute(nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	mu.Lock()
	gotExecuted := executed
	mu.Unlock()
	if gotExecuted != nSystems {
		t.Fatalf("executed = %d systems, want %d — the concurrency guarantee below is vacuous unless every system actually ran", gotExecuted, nSystems)
	}
	if overlapErr != nil {
		t.Fatal(overlapErr)
	}
}

func componentName(i int) string { return "C" + string(rune('A'+i)) }
func systemName(i int) string    { return "Sys" + string(rune('A'+i)) }

// Regression: a second call to Graph.traverse's topoOrder (for a non-default
// group) used to see a graph whose traversal state was already drained by
// the default group's plan, so the second group's systems never ran.
func TestFrameRunsEveryGroup(t *testing.T) {
	var mu sync.Mutex
	ran := map[string]bool{}
	sysDefault := NewSystem("Default", func(w *World, time, delta float64) error {
		mu.Lock()
		ran["default"] = true
		mu.Unlock()
		return nil
	})
	sysOther := NewSystem("Other", func(w *World, time, delta float64) error {
		mu.Lock()
		ran["other"] = true
		mu.Unlock()
		return nil
	})
	cfg := NewConfig().WithThreads(1).WithMaxEntities(8).
		WithDefs(DefSystems(sysDefault), DefGroup("other", sysOther))
	w, err := NewWorld(cfg, nil)
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	if err := w.Execute(nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !ran["default"] || !ran["other"] {
		t.Fatalf("ran = %v, want both the default and the other group to execute", ran)
	}
}
