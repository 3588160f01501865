package loom

// Entity is a lightweight handle: an id plus the recycle generation it was
// issued at, checked against the registry on every use so a stale handle
// from a destroyed-and-recycled slot is rejected (§4.3 "every entity handle
// carries a validity bit"). Generalized from the teacher's entity.go, which
// wraps a table.Entry and a parent/child relationship; the hierarchy
// feature is dropped (this spec has no analogue of "entity trees").
type Entity struct {
	id       EntityID
	recycled uint32
	registry *Registry
}

// ID returns the entity's identifier.
func (e Entity) ID() EntityID { return e.id }

// Valid reports whether this handle's recycle generation still matches the
// registry's.
func (e Entity) Valid() bool {
	return e.registry.CheckValid(e.id, e.recycled) == nil
}

// checkValid returns the registry's staleness error, if any.
func (e Entity) checkValid() error {
	return e.registry.CheckValid(e.id, e.recycled)
}

// Has reports whether t is currently set on this entity.
func (e Entity) Has(t *ComponentType) bool {
	return e.registry.shape.Has(e.id, t.id)
}

// AddComponent adds t to the entity immediately, or errors if the registry
// is locked (a Cursor is iterating); see EnqueueAddComponent for the
// deferred form.
func (e Entity) AddComponent(writer int, t *ComponentType) error {
	if err := e.checkValid(); err != nil {
		return err
	}
	if e.registry.Locked() {
		return LockedStorageError{}
	}
	return e.registry.AddComponent(writer, e.id, t.id)
}

// RemoveComponent removes t from the entity immediately.
func (e Entity) RemoveComponent(writer int, t *ComponentType) error {
	if err := e.checkValid(); err != nil {
		return err
	}
	if e.registry.Locked() {
		return LockedStorageError{}
	}
	return e.registry.RemoveComponent(writer, e.id, t.id)
}

// Destroy removes every component and the Alive bit immediately.
func (e Entity) Destroy(writer int) error {
	if err := e.checkValid(); err != nil {
		return err
	}
	if e.registry.Locked() {
		return LockedStorageError{}
	}
	return e.registry.Destroy(writer, e.id)
}

// EnqueueAddComponent runs AddComponent now if the registry isn't locked,
// or defers it until the registry next fully unlocks (teacher's
// EnqueueAddComponent pattern, entity.go).
func (e Entity) EnqueueAddComponent(writer int, t *ComponentType) error {
	if err := e.checkValid(); err != nil {
		return err
	}
	if !e.registry.Locked() {
		return e.registry.AddComponent(writer, e.id, t.id)
	}
	e.registry.Enqueue(addComponentOperation{entity: e, writer: writer, t: t.id})
	return nil
}

// EnqueueRemoveComponent is RemoveComponent's deferred form.
func (e Entity) EnqueueRemoveComponent(writer int, t *ComponentType) error {
	if err := e.checkValid(); err != nil {
		return err
	}
	if !e.registry.Locked() {
		return e.registry.RemoveComponent(writer, e.id, t.id)
	}
	e.registry.Enqueue(removeComponentOperation{entity: e, writer: writer, t: t.id})
	return nil
}

// EnqueueDestroy is Destroy's deferred form.
func (e Entity) EnqueueDestroy(writer int) error {
	if err := e.checkValid(); err != nil {
		return err
	}
	if !e.registry.Locked() {
		return e.registry.Destroy(writer, e.id)
	}
	e.registry.Enqueue(destroyOperation{entity: e, writer: writer})
	return nil
}
