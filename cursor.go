package loom

import "iter"

// Cursor iterates a Query's current match list, locking the owning Registry
// against structural mutation for the duration — generalized from the
// teacher's archetype-table Cursor (cursor.go) to the packedEntityList
// backing a mask-based Query (§4.5, §9 "Cursor").
type Cursor struct {
	query    *Query
	registry *Registry

	index       int // position of the entity last returned by Next, -1 before first call
	initialized bool
}

// newCursor creates a cursor over query's current matches.
func newCursor(query *Query, registry *Registry) *Cursor {
	return &Cursor{query: query, registry: registry, index: -1}
}

// Initialize locks the registry against structural mutation; idempotent.
func (c *Cursor) Initialize() {
	if c.initialized {
		return
	}
	c.registry.Lock()
	c.initialized = true
}

// Next advances the cursor and reports whether an entity is available.
func (c *Cursor) Next() bool {
	c.Initialize()
	if c.index+1 >= c.query.current.Len() {
		return false
	}
	c.index++
	return true
}

// Reset rewinds the cursor and releases the registry lock.
func (c *Cursor) Reset() {
	c.index = -1
	if c.initialized {
		c.initialized = false
		// Unlock errors only from draining a malformed queued operation,
		// which would already have surfaced earlier; nothing useful to do
		// with it here, matching the teacher's Reset (cursor.go) which
		// ignores PopLock's return.
		_ = c.registry.Unlock()
	}
}

// CurrentEntityID returns the EntityID at the cursor's current position.
func (c *Cursor) CurrentEntityID() (EntityID, bool) {
	if c.index < 0 || c.index >= c.query.current.Len() {
		return 0, false
	}
	return c.query.current.At(c.index), true
}

// EntityAtOffset returns the EntityID at offset from the current position,
// without moving the cursor.
func (c *Cursor) EntityAtOffset(offset int) (EntityID, bool) {
	i := c.index + offset
	if i < 0 || i >= c.query.current.Len() {
		return 0, false
	}
	return c.query.current.At(i), true
}

// RemainingInCurrent returns how many entities remain after the cursor's
// current position.
func (c *Cursor) RemainingInCurrent() int {
	return c.query.current.Len() - (c.index + 1)
}

// TotalMatched returns the number of entities currently matched.
func (c *Cursor) TotalMatched() int {
	return c.query.current.Len()
}

// Entities returns an iterator sequence over the query's current matches,
// locking the registry for the duration of iteration.
func (c *Cursor) Entities() iter.Seq2[int, EntityID] {
	return func(yield func(int, EntityID) bool) {
		c.Initialize()
		for i := 0; i < c.query.current.Len(); i++ {
			if !yield(i, c.query.current.At(i)) {
				c.Reset()
				return
			}
		}
		c.Reset()
	}
}
