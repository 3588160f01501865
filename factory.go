package loom

// factory implements the factory pattern for loom's construction entry
// points, kept from the teacher's factory.go (a single package-level
// `Factory` value with `New*` methods) and retargeted from table-backed
// construction to the Registry/World-backed model.
type factory struct{}

// Factory is the package's construction entry point.
var Factory factory

// NewWorld builds and seals a World from cfg.
func (f factory) NewWorld(cfg *Config, clock func() float64) (*World, error) {
	return NewWorld(cfg, clock)
}

// NewQuery seals a new Query against r.
func (f factory) NewQuery(r *Registry, opts QueryOptions) *Query {
	return NewQuery(r, opts)
}

// NewCursor returns a cursor over q's current matches.
func (f factory) NewCursor(q *Query, r *Registry) *Cursor {
	return newCursor(q, r)
}

// FactoryNewAccessor binds an AccessibleComponent[T] to ct's storage column
// within w, mirroring the teacher's FactoryNewComponent[T] but binding
// against a live World/Registry instead of a standalone table.ElementType.
func FactoryNewAccessor[T any](w *World, ct *ComponentType) AccessibleComponent[T] {
	col := w.registry.columns[ct.id]
	return newAccessibleComponent[T](ct, col, w.cfg.maxEntities, w.registry)
}

// FactoryNewCache creates a new Cache with the specified capacity.
func FactoryNewCache[T any](capacity int) Cache[T] {
	return NewSimpleCache[T](capacity)
}
