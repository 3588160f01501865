package loom

// packedEntityList is the "PackedArrayEntityList" from §4.4/§4.5: a dense
// slice of EntityIDs plus an id→index lookup table giving O(1) Add/Remove
// via swap-removal, the same trick the storage strategies use for row
// recycling (storage_strategy.go's packedColumn).
type packedEntityList struct {
	entities []EntityID
	index    []int32 // id -> position in entities, -1 if absent
}

func newPackedEntityList(capacity int) *packedEntityList {
	idx := make([]int32, capacity+1)
	for i := range idx {
		idx[i] = -1
	}
	return &packedEntityList{index: idx}
}

func (l *packedEntityList) growIndex(id EntityID) {
	if int(id) < len(l.index) {
		return
	}
	next := make([]int32, int(id)*2+1)
	for i := range next {
		next[i] = -1
	}
	copy(next, l.index)
	l.index = next
}

// Contains reports whether id is currently a member.
func (l *packedEntityList) Contains(id EntityID) bool {
	return int(id) < len(l.index) && l.index[id] >= 0
}

// Add appends id if not already present.
func (l *packedEntityList) Add(id EntityID) {
	l.growIndex(id)
	if l.index[id] >= 0 {
		return
	}
	l.index[id] = int32(len(l.entities))
	l.entities = append(l.entities, id)
}

// Remove swap-deletes id if present.
func (l *packedEntityList) Remove(id EntityID) {
	if !l.Contains(id) {
		return
	}
	pos := l.index[id]
	last := len(l.entities) - 1
	movedID := l.entities[last]
	l.entities[pos] = movedID
	l.entities = l.entities[:last]
	l.index[movedID] = pos
	l.index[id] = -1
}

func (l *packedEntityList) Len() int { return len(l.entities) }

func (l *packedEntityList) At(i int) EntityID { return l.entities[i] }
