package loom

// storageColumn maps an entity id to a dense row index for one component
// type, per §4.4. Grounded on lzuwei/pecs-go's ComponentPool/SparseSet and
// totodo713/vamplite's component storage (other_examples): both answer "how
// do I get O(1) add/remove over a column without archetype moves", which is
// exactly what replacing the teacher's table.Table column model requires.
type storageColumn interface {
	// bind returns the row index backing id, acquiring one if writable and
	// none exists yet.
	bind(id EntityID, writable bool) (row int, ok bool)
	// acquire allocates a row for id, growing the column if necessary.
	acquire(id EntityID) int
	// release returns id's row to the column's freelist (packed/compact) or
	// is a no-op (sparse).
	release(id EntityID)
	// len reports the number of live rows.
	len() int
}

// sparseColumn implements storage=sparse: row index equals entity id
// directly, so bind/acquire/release never move data (§4.4 "sparse").
type sparseColumn struct {
	bound map[EntityID]bool
}

func newSparseColumn() *sparseColumn {
	return &sparseColumn{bound: make(map[EntityID]bool)}
}

func (c *sparseColumn) bind(id EntityID, writable bool) (int, bool) {
	if !c.bound[id] {
		if !writable {
			return 0, false
		}
		c.bound[id] = true
	}
	return int(id), true
}

func (c *sparseColumn) acquire(id EntityID) int {
	c.bound[id] = true
	return int(id)
}

func (c *sparseColumn) release(id EntityID) { delete(c.bound, id) }
func (c *sparseColumn) len() int            { return len(c.bound) }

// packedColumn implements storage=packed: a dense row counter, an
// entity-id→row map sized to the configured capacity, and a freelist of
// spare rows recycled before growing (§4.4 "packed").
type packedColumn struct {
	capacity  int
	index     []int32 // id -> row, -1 if unbound; length capacity+1
	rowToID   []EntityID
	nextIndex int
	spares    []int
	shrink    bool // true for storage=compact
}

func newPackedColumn(capacity int, shrink bool) *packedColumn {
	return &packedColumn{
		capacity: capacity,
		index:    newUnboundIndex(capacity),
		rowToID:  make([]EntityID, capacity),
		shrink:   shrink,
	}
}

func newUnboundIndex(n int) []int32 {
	idx := make([]int32, n+1)
	for i := range idx {
		idx[i] = -1
	}
	return idx
}

func (c *packedColumn) bind(id EntityID, writable bool) (int, bool) {
	c.growIndexFor(id)
	if c.index[id] < 0 {
		if !writable {
			return 0, false
		}
		return c.acquire(id), true
	}
	return int(c.index[id]), true
}

func (c *packedColumn) acquire(id EntityID) int {
	c.growIndexFor(id)
	if c.index[id] >= 0 {
		return int(c.index[id])
	}

	var row int
	if n := len(c.spares); n > 0 {
		row = c.spares[n-1]
		c.spares = c.spares[:n-1]
	} else {
		if c.nextIndex == c.capacity {
			c.growCapacity()
		}
		row = c.nextIndex
		c.nextIndex++
	}
	c.index[id] = int32(row)
	c.rowToID[row] = id
	return row
}

func (c *packedColumn) release(id EntityID) {
	if int(id) >= len(c.index) || c.index[id] < 0 {
		return
	}
	row := c.index[id]
	c.index[id] = -1
	c.spares = append(c.spares, int(row))

	if c.shrink {
		c.maybeShrink()
	}
}

func (c *packedColumn) len() int { return c.nextIndex - len(c.spares) }

func (c *packedColumn) growIndexFor(id EntityID) {
	if int(id) < len(c.index) {
		return
	}
	next := newUnboundIndex(int(id) * 2)
	copy(next, c.index)
	c.index = next
}

// growCapacity doubles the backing row arrays, matching the teacher's own
// doubling-with-copy growth idiom (storage.go NewEntities).
func (c *packedColumn) growCapacity() {
	newCap := max(c.capacity*2, 1)
	newRowToID := make([]EntityID, newCap)
	copy(newRowToID, c.rowToID)
	c.rowToID = newRowToID
	c.capacity = newCap
}

// maybeShrink implements the chosen Open Question resolution for
// storage=compact: halve capacity when occupancy drops below 1/4, down to a
// floor of 16 rows. Truncating rowToID/nextIndex to the new capacity would
// alias a still-bound entity's row if any live (non-spare) row sits at or
// beyond the new capacity, so the shrink is skipped in that case and
// retried on a later release once the live rows have drained below the
// threshold.
func (c *packedColumn) maybeShrink() {
	const floor = 16
	if c.capacity <= floor {
		return
	}
	occupied := c.nextIndex - len(c.spares)
	if occupied*4 >= c.capacity {
		return
	}
	newCap := max(c.capacity/2, floor)
	if newCap >= c.capacity {
		return
	}

	spareSet := make(map[int]bool, len(c.spares))
	for _, row := range c.spares {
		spareSet[row] = true
	}
	highestBound := -1
	for row := 0; row < c.nextIndex; row++ {
		if !spareSet[row] {
			highestBound = row
		}
	}
	if highestBound >= newCap {
		return
	}

	c.capacity = newCap
	if c.nextIndex > newCap {
		c.nextIndex = newCap
	}
	c.rowToID = c.rowToID[:newCap]
	kept := c.spares[:0]
	for _, row := range c.spares {
		if row < newCap {
			kept = append(kept, row)
		}
	}
	c.spares = kept
}

func newStorageColumn(t *ComponentType, defaultCapacity int) storageColumn {
	switch t.storageKind {
	case StorageSparse:
		return newSparseColumn()
	case StorageCompact:
		cap := t.capacity
		if cap <= 0 {
			cap = defaultCapacity
		}
		return newPackedColumn(cap, true)
	default: // StoragePacked
		cap := t.capacity
		if cap <= 0 {
			cap = defaultCapacity
		}
		return newPackedColumn(cap, false)
	}
}
