package loom

import "reflect"

// BufferPatch is the pending set of buffer changes for one tracker (lane),
// keyed by buffer name, as described in spec §4.1 ("a map key →
// {buffer, elementKind}"). It crosses the worker bridge as part of a
// request/response message (§4.9).
type BufferPatch map[string]bufferSnapshot

type bufferSnapshot struct {
	value    reflect.Value
	elemType reflect.Type
}

type bufferEntry struct {
	value    reflect.Value // a slice of some element type
	elemType reflect.Type
}

// Buffers owns named, typed, growable backing arrays and the versioned
// patches used to replicate them to worker lanes. In single-lane mode this
// is plain memory; in multi-lane mode the same slices are shared across
// lane goroutines and mutation is coordinated through MakePatch/ApplyPatch
// rather than OS shared memory (Go has no SharedArrayBuffer — see spec §5
// and SPEC_FULL.md's AMBIENT STACK note). Growth uses the teacher's own
// doubling-with-copy idiom from storage.go's NewEntities.
type Buffers struct {
	entries  map[string]*bufferEntry
	pending  []map[string]bufferSnapshot // one pending-patch set per tracker
	numTrackers int
}

// NewBuffers allocates a Buffers manager serving numTrackers lanes (at least
// 1, for single-lane worlds).
func NewBuffers(numTrackers int) *Buffers {
	if numTrackers < 1 {
		numTrackers = 1
	}
	pending := make([]map[string]bufferSnapshot, numTrackers)
	for i := range pending {
		pending[i] = make(map[string]bufferSnapshot)
	}
	return &Buffers{
		entries:     make(map[string]*bufferEntry),
		pending:     pending,
		numTrackers: numTrackers,
	}
}

// RegisterBuffer returns a typed view of the named buffer, (re)allocating it
// if it doesn't exist yet, is shorter than length, or holds a different
// element type. On (re)allocation the old contents are copied forward,
// filler (if non-nil) populates the newly-grown tail, every tracker other
// than trackerIndex is marked with a pending patch, and onRebind (if
// non-nil) is invoked with the fresh view so the caller's cached slice
// reference is refreshed — this satisfies the "after applyPatch every
// rebind callback has been invoked before any caller uses the array"
// contract for the local (non-patch) registration path too.
func RegisterBuffer[T any](b *Buffers, trackerIndex int, key string, length int, onRebind func([]T), filler func(index int) T) []T {
	existing, ok := b.entries[key]
	var elemType = reflect.TypeOf((*T)(nil)).Elem()

	if ok && existing.value.Len() >= length && existing.elemType == elemType {
		view := existing.value.Interface().([]T)
		return view
	}

	newLen := length
	if ok {
		oldCap := existing.value.Len()
		if newLen < 2*oldCap {
			newLen = 2 * oldCap
		}
	}
	newSlice := make([]T, newLen)
	if ok && existing.elemType == elemType {
		old := existing.value.Interface().([]T)
		copy(newSlice, old)
	}
	if filler != nil {
		start := 0
		if ok && existing.elemType == elemType {
			start = existing.value.Len()
		}
		for i := start; i < newLen; i++ {
			newSlice[i] = filler(i)
		}
	}

	rv := reflect.ValueOf(newSlice)
	b.entries[key] = &bufferEntry{value: rv, elemType: elemType}

	for t := 0; t < b.numTrackers; t++ {
		if t == trackerIndex {
			continue
		}
		b.pending[t][key] = bufferSnapshot{value: rv, elemType: elemType}
	}

	if onRebind != nil {
		onRebind(newSlice)
	}
	return newSlice
}

// MakePatch returns and clears the pending change set accumulated for
// trackerIndex since the last call.
func (b *Buffers) MakePatch(trackerIndex int) BufferPatch {
	pending := b.pending[trackerIndex]
	if len(pending) == 0 {
		return nil
	}
	patch := make(BufferPatch, len(pending))
	for k, v := range pending {
		patch[k] = v
	}
	b.pending[trackerIndex] = make(map[string]bufferSnapshot)
	return patch
}

// ApplyPatch installs every buffer referenced by patch, invoking rebind
// hooks registered under onRebind (the caller is expected to pass the same
// onRebind closures it used at RegisterBuffer time via rebinds). If
// trackChanges is true, the installed buffers are also queued as pending
// changes for every tracker except skippedTracker (propagating a patch
// received from one lane on to the others, per §4.1).
func (b *Buffers) ApplyPatch(patch BufferPatch, rebinds map[string]func(reflect.Value), trackChanges bool, skippedTracker int) {
	for key, snap := range patch {
		b.entries[key] = &bufferEntry{value: snap.value, elemType: snap.elemType}
		if rebind, ok := rebinds[key]; ok && rebind != nil {
			rebind(snap.value)
		}
		if trackChanges {
			for t := 0; t < b.numTrackers; t++ {
				if t == skippedTracker {
					continue
				}
				b.pending[t][key] = snap
			}
		}
	}
}

// Len returns the current length of the named buffer, or 0 if unregistered.
func (b *Buffers) Len(key string) int {
	e, ok := b.entries[key]
	if !ok {
		return 0
	}
	return e.value.Len()
}
