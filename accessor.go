package loom

// AccessibleComponent is the generic, user-facing handle for one registered
// component type, pairing the non-generic *ComponentType descriptor with a
// typed backing slice — generalizing the teacher's
// AccessibleComponent[T]{Component, table.Accessor[T]} pair (component.go,
// component_accessor.go, componentaccessible.go) from an archetype-table
// column to a storageColumn-backed one (§9 "Prototype-based property
// accessors" → `type.bind(id, writable) -> ComponentView").
type AccessibleComponent[T any] struct {
	*ComponentType
	rows     []T
	col      storageColumn
	registry *Registry
}

// newAccessibleComponent wires an AccessibleComponent to its registered
// ComponentType and column; called by FactoryNewAccessor, once per accessor
// it builds.
func newAccessibleComponent[T any](ct *ComponentType, col storageColumn, capacity int, registry *Registry) AccessibleComponent[T] {
	return AccessibleComponent[T]{ComponentType: ct, rows: make([]T, capacity), col: col, registry: registry}
}

// Get returns a pointer into the row backing entity id, allocating a row if
// writable and the entity has no row yet. Returns nil, false if the entity
// has no row and writable is false — the teacher's "accessor returns a
// usable zero value only for an existing row" contract (component_accessor.go).
// A writable bind on a write-tracked component pushes a write-log entry on
// writer's lane (§4.3 "trackWrite(id, type): callers invoke this when a
// tracked field is assigned"); loom has no field-level write instrumentation,
// so a writable bind stands in for "this field is about to be assigned".
func (a *AccessibleComponent[T]) Get(id EntityID, writable bool, writer int) (*T, bool) {
	row, ok := a.col.bind(id, writable)
	if !ok {
		return nil, false
	}
	a.growRows(row)
	if writable && a.tracksWrites {
		a.registry.TrackWrite(writer, id, a.id)
	}
	return &a.rows[row], true
}

// GetFromEntity is Get's ergonomic form taking an Entity handle directly,
// mirroring the teacher's GetFromCursor / GetFromEntity split
// (componentaccessible.go).
func (a *AccessibleComponent[T]) GetFromEntity(e Entity, writable bool, writer int) (*T, bool) {
	return a.Get(e.ID(), writable, writer)
}

// GetFromCursor reads the component off the entity the cursor currently
// points at.
func (a *AccessibleComponent[T]) GetFromCursor(c *Cursor, writable bool, writer int) (*T, bool) {
	id, ok := c.CurrentEntityID()
	if !ok {
		return nil, false
	}
	return a.Get(id, writable, writer)
}

// Check reports whether id currently carries this component, without
// allocating a row.
func (a *AccessibleComponent[T]) Check(shape *ShapeArray, id EntityID) bool {
	return shape.Has(id, a.ID())
}

func (a *AccessibleComponent[T]) growRows(row int) {
	if row < len(a.rows) {
		return
	}
	next := make([]T, max(row+1, 2*len(a.rows)))
	copy(next, a.rows)
	a.rows = next
}
