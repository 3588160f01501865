package loom

import "github.com/TheBitDrifter/mask"

// ShapeArray holds, per entity, three parallel bitsets indexed by
// ComponentTypeID: current (live components), stale (current plus
// components removed earlier this cycle, used for accessRecentlyDeleted),
// and removedThisCycle (set at remove, cleared at completeCycle). See
// spec §3 "Shape".
//
// mask.Mask256 gives each entity a 256-bit row, so only component type ids
// 0..255 fit; MaxComponentTypes (512, from the 9-bit id field) is larger,
// and RegisterComponentType rejects ids from 256 on.
type ShapeArray struct {
	current           []mask.Mask256
	stale             []mask.Mask256
	removedThisCycle  []mask.Mask256
}

// NewShapeArray allocates a shape array sized for capacity entities (1-indexed;
// index 0 is unused so EntityID can be used directly as an index).
func NewShapeArray(capacity int) *ShapeArray {
	return &ShapeArray{
		current:          make([]mask.Mask256, capacity+1),
		stale:            make([]mask.Mask256, capacity+1),
		removedThisCycle: make([]mask.Mask256, capacity+1),
	}
}

// Grow extends the shape array to at least capacity entities.
func (s *ShapeArray) Grow(capacity int) {
	if len(s.current) > capacity {
		return
	}
	grow := func(m []mask.Mask256) []mask.Mask256 {
		next := make([]mask.Mask256, capacity+1)
		copy(next, m)
		return next
	}
	s.current = grow(s.current)
	s.stale = grow(s.stale)
	s.removedThisCycle = grow(s.removedThisCycle)
}

// Current returns entity id's live shape bitset.
func (s *ShapeArray) Current(id EntityID) mask.Mask256 { return s.current[id] }

// Stale returns entity id's stale (current ∪ removed-this-cycle) bitset.
func (s *ShapeArray) Stale(id EntityID) mask.Mask256 { return s.stale[id] }

// Set marks component type t present on entity id (current and stale).
func (s *ShapeArray) Set(id EntityID, t ComponentTypeID) {
	s.current[id].Mark(uint32(t))
	s.stale[id].Mark(uint32(t))
	s.removedThisCycle[id].Unmark(uint32(t))
}

// ClearCurrent unmarks component type t in the current view, marks it
// removedThisCycle, but leaves the stale view untouched so
// accessRecentlyDeleted continues to see it until completeCycle finalises.
func (s *ShapeArray) ClearCurrent(id EntityID, t ComponentTypeID) {
	s.current[id].Unmark(uint32(t))
	s.removedThisCycle[id].Mark(uint32(t))
}

// Finalize clears the stale and removedThisCycle bits for t on id; called by
// Registry.completeCycle once a removal is confirmed not re-added.
func (s *ShapeArray) Finalize(id EntityID, t ComponentTypeID) {
	s.stale[id].Unmark(uint32(t))
	s.removedThisCycle[id].Unmark(uint32(t))
}

// EndCycle clears the removedThisCycle bitset for id; called unconditionally
// once the cycle's removal log has been fully processed, whether or not any
// given bit was finalised (a re-added component keeps its stale/current bits
// but must stop being "removed this cycle").
func (s *ShapeArray) EndCycle(id EntityID) {
	s.removedThisCycle[id] = mask.Mask256{}
}

// Has reports whether t is set in id's current shape.
func (s *ShapeArray) Has(id EntityID, t ComponentTypeID) bool {
	var m mask.Mask256
	m.Mark(uint32(t))
	return s.current[id].ContainsAll(m)
}

// HasStale reports whether t is set in id's stale shape.
func (s *ShapeArray) HasStale(id EntityID, t ComponentTypeID) bool {
	var m mask.Mask256
	m.Mark(uint32(t))
	return s.stale[id].ContainsAll(m)
}

// RemovedThisCycle reports whether t was cleared from id during the
// in-progress cycle and not yet finalised.
func (s *ShapeArray) RemovedThisCycle(id EntityID, t ComponentTypeID) bool {
	var m mask.Mask256
	m.Mark(uint32(t))
	return s.removedThisCycle[id].ContainsAll(m)
}

// Match implements Registry.matchShape (§4.3): all positive bits present,
// none of the negative bits present, and (if any is non-empty) at least one
// bit of any present.
func Match(shape, positive, negative, any mask.Mask256) bool {
	if !shape.ContainsAll(positive) {
		return false
	}
	if !shape.ContainsNone(negative) {
		return false
	}
	if !any.IsEmpty() && !shape.ContainsAny(any) {
		return false
	}
	return true
}
