package loom

import "fmt"

// LogCapacityExceededError is returned when the entries waiting in a log's
// corrals would exceed its configured maxEntries, or when a consumer Pointer has been
// lapped by two or more generations. See spec §4.2.
type LogCapacityExceededError struct {
	Param string // the config parameter that bounds this log
	Limit int
}

func (e LogCapacityExceededError) Error() string {
	return fmt.Sprintf("log capacity exceeded (%s limit is %d)", e.Param, e.Limit)
}

func (LogCapacityExceededError) checkError() {}

// Pointer identifies a read position into a Log: the ring index/generation.
// The corral index/generation fields are never set by NewPointer or
// ProcessSince and stay zero. A pointer is valid iff its ring generation is within 1 of the
// ring's current generation (grounded on the generation-ring idea in
// Voskan/arena-cache's genring, and the circular index arithmetic in
// friendsincode/grimnir_radio's internal/logbuffer, both other_examples).
type Pointer struct {
	index           int
	generation      uint32
	corralIndex     int
	corralGeneration uint32
}

// Log is a circular ring buffer of uint32 events, with one "corral" staging
// slice per writer (lane) that is merged into the shared ring at Commit.
// See spec §4.2.
type Log struct {
	param     string // config parameter name, used in capacity-exceeded errors
	maxEntries int

	ring       []uint32
	writeIndex int
	generation uint32

	corrals [][]uint32 // per-writer staging areas
	sortKeyBits int    // if >0, high bits of each value used to sort within Commit

	committed     int // total entries ever committed, for high-water-mark stats
	highWaterMark int // largest corral total merged by a single Commit
}

// NewLog allocates a Log with room for maxEntries events and numWriters
// per-lane corrals.
func NewLog(param string, maxEntries, numWriters int) *Log {
	if numWriters < 1 {
		numWriters = 1
	}
	corrals := make([][]uint32, numWriters)
	return &Log{
		param:      param,
		maxEntries: maxEntries,
		ring:       make([]uint32, maxEntries),
		corrals:    corrals,
	}
}

// SetSortKeyBits configures Commit to stable-sort each corral by the
// ComponentTypeID packed at bit offset EntityIDBits (the layout shared by
// shape- and write-log words, see packWriteEvent/packShapeEvent) before
// merging — used so consumers can scan contiguous type-sorted runs (§4.2,
// §5). bits is the field width (ComponentTypeIDBits); pass 0 to disable.
func (l *Log) SetSortKeyBits(bits int) { l.sortKeyBits = bits }

// Push appends value to writer w's corral.
func (l *Log) Push(w int, value uint32) error {
	if l.corraledTotal()+1 > l.maxEntries {
		return LogCapacityExceededError{Param: l.param, Limit: l.maxEntries}
	}
	l.corrals[w] = append(l.corrals[w], value)
	return nil
}

func (l *Log) corraledTotal() int {
	total := 0
	for _, c := range l.corrals {
		total += len(c)
	}
	return total
}

// Commit merges every writer's corral into the ring in corral order
// (0..numWriters-1), preserving per-writer FIFO order, optionally
// type-sorting each corral first. It advances writeIndex and bumps
// generation on wrap.
func (l *Log) Commit() error {
	frameTotal := l.corraledTotal()
	for w := range l.corrals {
		if l.sortKeyBits > 0 {
			sortByComponentType(l.corrals[w], l.sortKeyBits)
		}
		for _, v := range l.corrals[w] {
			if err := l.append(v); err != nil {
				return err
			}
		}
		l.corrals[w] = l.corrals[w][:0]
	}
	l.committed += frameTotal
	if frameTotal > l.highWaterMark {
		l.highWaterMark = frameTotal
	}
	return nil
}

func (l *Log) append(v uint32) error {
	if l.maxEntries == 0 {
		return LogCapacityExceededError{Param: l.param, Limit: l.maxEntries}
	}
	l.ring[l.writeIndex] = v
	l.writeIndex++
	if l.writeIndex >= l.maxEntries {
		l.writeIndex = 0
		l.generation++
	}
	return nil
}

// sortByComponentType stable-sorts entries by the ComponentTypeID field
// shared by shape/write-log words (bits EntityIDBits..EntityIDBits+bits-1).
func sortByComponentType(entries []uint32, bits int) {
	keyOf := func(v uint32) uint32 { return (v >> EntityIDBits) & (uint32(1)<<bits - 1) }
	// insertion sort: corrals are small (per-frame, per-lane) so O(n^2)
	// worst case is fine and keeps the sort stable.
	for i := 1; i < len(entries); i++ {
		v := entries[i]
		key := keyOf(v)
		j := i - 1
		for j >= 0 && keyOf(entries[j]) > key {
			entries[j+1] = entries[j]
			j--
		}
		entries[j+1] = v
	}
}

// NewPointer returns a Pointer at the log's current write position, suitable
// for a consumer that wants to see only entries committed after this call.
func (l *Log) NewPointer() Pointer {
	return Pointer{index: l.writeIndex, generation: l.generation}
}

// CountSince returns the number of entries committed between from and the
// log's current position.
func (l *Log) CountSince(from Pointer) (int, error) {
	lapped, err := l.lapped(from)
	if err != nil {
		return 0, err
	}
	if lapped {
		return 0, LogCapacityExceededError{Param: l.param, Limit: l.maxEntries}
	}
	if from.generation == l.generation {
		return l.writeIndex - from.index, nil
	}
	return (l.maxEntries - from.index) + l.writeIndex, nil
}

func (l *Log) lapped(p Pointer) (bool, error) {
	diff := l.generation - p.generation
	if diff > 1 {
		return true, nil
	}
	if diff == 1 && p.index < l.writeIndex {
		// the ring wrapped at least once more than the pointer accounts for
		return true, nil
	}
	return false, nil
}

// ProcessSince returns a contiguous slice of entries committed since from
// (advancing from to the new read position), or (nil, from, false) if
// nothing new is available. Because the ring is circular, a caller that
// straddles the wrap point receives only the tail-most contiguous run; it
// must call ProcessSince again to drain the rest.
func (l *Log) ProcessSince(from Pointer) ([]uint32, Pointer, error) {
	lapped, err := l.lapped(from)
	if err != nil {
		return nil, from, err
	}
	if lapped {
		return nil, from, LogCapacityExceededError{Param: l.param, Limit: l.maxEntries}
	}
	if from.generation == l.generation {
		if from.index == l.writeIndex {
			return nil, from, nil
		}
		slice := l.ring[from.index:l.writeIndex]
		return slice, Pointer{index: l.writeIndex, generation: l.generation}, nil
	}
	// from is one generation behind: drain to the end of the ring first.
	if from.index == l.maxEntries {
		return nil, Pointer{index: 0, generation: l.generation}, nil
	}
	slice := l.ring[from.index:l.maxEntries]
	return slice, Pointer{index: 0, generation: from.generation + 1}, nil
}

// ProcessAndCommitSince drains all entries visible from `from` at call time,
// commits pending corrals, then drains again so late-arriving corral entries
// from the same frame are also observed. Used by consumers (RefIndexer,
// Registry.completeCycle) that must see everything written during a cycle.
func (l *Log) ProcessAndCommitSince(from Pointer, consume func([]uint32)) (Pointer, error) {
	cur := from
	for {
		slice, next, err := l.ProcessSince(cur)
		if err != nil {
			return cur, err
		}
		if len(slice) == 0 {
			break
		}
		consume(slice)
		cur = next
	}
	if err := l.Commit(); err != nil {
		return cur, err
	}
	for {
		slice, next, err := l.ProcessSince(cur)
		if err != nil {
			return cur, err
		}
		if len(slice) == 0 {
			break
		}
		consume(slice)
		cur = next
	}
	return cur, nil
}
