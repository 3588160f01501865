package loom

import "sync/atomic"

// IntPool is a FILO stack of free integers, used by EntityPool to hand out
// and reclaim entity ids. Per spec §5, "entity id pool uses atomic decrement
// on take, non-atomic push on return (only director returns)": Take is safe
// to call from any lane (it only needs the atomic top-of-stack index to move
// monotonically), Return is only ever called by the director during
// Registry.completeCycle.
type IntPool struct {
	free []uint32
	top  atomic.Int64 // index of the next free slot to hand out, -1 when empty
}

// NewIntPool creates a pool pre-seeded with values [1, n] (0 is never
// issued — it is the dead-entity sentinel).
func NewIntPool(n int) *IntPool {
	free := make([]uint32, n)
	for i := range free {
		free[i] = uint32(n - i) // pop order: 1 first
	}
	p := &IntPool{free: free}
	p.top.Store(int64(n - 1))
	return p
}

// Take pops the next free value, or (0, false) if the pool is exhausted.
func (p *IntPool) Take() (uint32, bool) {
	for {
		top := p.top.Load()
		if top < 0 {
			return 0, false
		}
		if p.top.CompareAndSwap(top, top-1) {
			return p.free[top], true
		}
	}
}

// Return pushes v back onto the pool. Only safe single-writer (the
// director), matching the spec's non-atomic-return rule.
func (p *IntPool) Return(v uint32) {
	top := p.top.Load()
	next := top + 1
	if int(next) >= len(p.free) {
		// pool grew past its original seed size (shouldn't happen under
		// normal EntityPool use, but keeps Return total rather than panicking)
		p.free = append(p.free, v)
		p.top.Store(int64(len(p.free) - 1))
		return
	}
	p.free[next] = v
	p.top.Store(next)
}

// Len reports the number of currently-free values.
func (p *IntPool) Len() int {
	return int(p.top.Load() + 1)
}

// EntityPool issues EntityIDs, tracks a per-id "recycled" generation counter
// so stale handles can be detected, and an ever-increasing ordinal used for
// deterministic cross-lane ordering (spec §3, "ordinal").
type EntityPool struct {
	ids       *IntPool
	recycled  []uint32
	ordinal   []uint32
	nextOrdinal atomic.Uint32
}

// NewEntityPool allocates a pool capable of issuing up to maxEntities
// distinct, simultaneously-alive entities.
func NewEntityPool(maxEntities int) *EntityPool {
	return &EntityPool{
		ids:      NewIntPool(maxEntities),
		recycled: make([]uint32, maxEntities+1),
		ordinal:  make([]uint32, maxEntities+1),
	}
}

// Take borrows a fresh EntityID, recording its creation ordinal. Returns
// ok=false if the pool is exhausted (EntityCapacityExceeded at the call
// site).
func (p *EntityPool) Take() (EntityID, bool) {
	v, ok := p.ids.Take()
	if !ok {
		return 0, false
	}
	id := EntityID(v)
	p.ordinal[id] = p.nextOrdinal.Add(1)
	return id, true
}

// Return reclaims id, bumping its recycled counter so any handle still
// referencing the old generation is detected as stale by Recycled.
func (p *EntityPool) Return(id EntityID) {
	p.recycled[id]++
	p.ids.Return(uint32(id))
}

// Recycled returns id's current recycle generation.
func (p *EntityPool) Recycled(id EntityID) uint32 { return p.recycled[id] }

// Ordinal returns id's creation ordinal.
func (p *EntityPool) Ordinal(id EntityID) uint32 { return p.ordinal[id] }

// NextOrdinal returns the ordinal that will be assigned to the next entity
// created by this pool, without consuming it — used by the worker bridge to
// report `nextEntityOrdinal` (§4.9).
func (p *EntityPool) NextOrdinal() uint32 { return p.nextOrdinal.Load() + 1 }
