package loom

import (
	"errors"
	"testing"
)

func newTestWorld(t *testing.T, defs ...Def) (*World, *ComponentType, *ComponentType) {
	t.Helper()
	var position, velocity *ComponentType
	base := []Def{
		DefComponent("Position", []Field{{Name: "X", Kind: FieldFloat64}, {Name: "Y", Kind: FieldFloat64}},
			ComponentTypeOptions{Storage: StoragePacked, Capacity: 64}),
	}
	cfg := NewConfig().WithThreads(1).WithMaxEntities(256).WithDefs(append(base, defs...)...)
	w, err := NewWorld(cfg, nil)
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	position, _ = w.registry.ComponentTypeByName("Position")
	velocity, _ = w.registry.ComponentTypeByName("Velocity")
	return w, position, velocity
}

func TestEntityCreation(t *testing.T) {
	w, _, _ := newTestWorld(t)

	e, err := w.CreateEntity()
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if !e.Valid() {
		t.Fatal("freshly created entity should be valid")
	}
	if e.ID() == 0 {
		t.Fatal("entity id 0 is the dead sentinel, should never be issued")
	}
}

func TestComponentAddRemove(t *testing.T) {
	w, position, _ := newTestWorld(t)

	e, err := w.CreateEntity()
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if e.Has(position) {
		t.Fatal("fresh entity should not have Position yet")
	}

	if err := e.AddComponent(0, position); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}
	if !e.Has(position) {
		t.Fatal("entity should have Position after AddComponent")
	}

	if err := e.AddComponent(0, position); !IsCheckError(err) {
		t.Fatalf("adding an already-present component should return a CheckError, got %v", err)
	}

	if err := e.RemoveComponent(0, position); err != nil {
		t.Fatalf("RemoveComponent: %v", err)
	}
	if e.Has(position) {
		t.Fatal("entity should not have Position immediately after RemoveComponent (current view)")
	}

	if err := e.RemoveComponent(0, position); !IsCheckError(err) {
		t.Fatalf("removing an absent component should return a CheckError, got %v", err)
	}
}

func TestComponentValues(t *testing.T) {
	w, position, _ := newTestWorld(t)
	positionAccessor := FactoryNewAccessor[struct{ X, Y float64 }](w, position)

	e, err := w.CreateEntity()
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if err := e.AddComponent(0, position); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}

	pos, ok := positionAccessor.GetFromEntity(e, true, 0)
	if !ok {
		t.Fatal("expected a writable row for a bound component")
	}
	pos.X, pos.Y = 3, 4

	pos2, ok := positionAccessor.GetFromEntity(e, false, 0)
	if !ok {
		t.Fatal("expected an existing row on a read-only bind")
	}
	if pos2.X != 3 || pos2.Y != 4 {
		t.Fatalf("got (%v, %v), want (3, 4)", pos2.X, pos2.Y)
	}
}

func TestDestroyRecyclesID(t *testing.T) {
	w, position, _ := newTestWorld(t)

	e, err := w.CreateEntity()
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if err := e.AddComponent(0, position); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}
	if err := e.Destroy(0); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if !e.Valid() {
		t.Fatal("handle should stay valid until completeCycle returns its id to the pool")
	}

	// completeCycle runs at frame end, which is when the id is actually
	// returned to the pool and a stale handle starts reporting invalid
	// against a *new* occupant of the same slot.
	if err := w.Execute(nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	e2, err := w.CreateEntity()
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if e.Valid() {
		t.Fatal("original handle must be invalid once its slot is recycled")
	}
	if !e2.Valid() {
		t.Fatal("the recycled entity's new handle should be valid")
	}
}

func TestEnumConflict(t *testing.T) {
	cfg := NewConfig().WithMaxEntities(64)
	r := NewRegistry(cfg, 1)
	idle, err := r.RegisterComponentType("Idle", nil, ComponentTypeOptions{Storage: StoragePacked, Capacity: 16})
	if err != nil {
		t.Fatalf("RegisterComponentType(Idle): %v", err)
	}
	running, err := r.RegisterComponentType("Running", nil, ComponentTypeOptions{Storage: StoragePacked, Capacity: 16})
	if err != nil {
		t.Fatalf("RegisterComponentType(Running): %v", err)
	}
	if _, err := r.RegisterEnum("motion", idle, running); err != nil {
		t.Fatalf("RegisterEnum: %v", err)
	}
	r.seal()

	id, err := r.Create(0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.AddComponent(0, id, idle.ID()); err != nil {
		t.Fatalf("AddComponent(idle): %v", err)
	}
	err = r.AddComponent(0, id, running.ID())
	if !IsCheckError(err) {
		t.Fatalf("adding a second enum member should return a CheckError, got %v", err)
	}
	var conflict EnumConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected an EnumConflictError in the chain, got %v", err)
	}
	if conflict.Group != "motion" {
		t.Fatalf("got group %q, want %q", conflict.Group, "motion")
	}
}

func TestAddComponentWhileLockedIsRejected(t *testing.T) {
	w, position, _ := newTestWorld(t)
	e, err := w.CreateEntity()
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	q := w.NewQuery(QueryOptions{With: position, WantCurrent: true})
	c := w.NewCursor(q)
	c.Initialize()
	defer c.Reset()

	if err := e.AddComponent(0, position); err != (LockedStorageError{}) {
		t.Fatalf("AddComponent while a cursor holds the registry locked should return LockedStorageError, got %v", err)
	}

	if err := e.EnqueueAddComponent(0, position); err != nil {
		t.Fatalf("EnqueueAddComponent should succeed by deferring: %v", err)
	}
}
