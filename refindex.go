package loom

import "github.com/TheBitDrifter/mask"

// RefIndexer maintains backreference indexes for ref-kind fields (§4.6):
// every reference change is pushed to a dedicated ref log as a two-word
// event, and processAndCommit dispatches drained events to every selector
// whose (sourceType, fieldSeq) matches, updating that selector's per-target
// trackers. Grounded on the same push/drain shape as Registry's shape and
// write logs (log.go), generalized from the teacher's lack of a ref
// subsystem — the teacher's archetype model has no analogue, so this is
// modeled directly on spec §4.6 and on the shape/stale split already used
// by ShapeArray (shape.go).
type RefIndexer struct {
	registry *Registry
	log      *Log
	pointer  Pointer

	selectors []RefSelector

	liveByTarget  []map[EntityID]*refTracker // indexed by selector id
	staleByTarget []map[EntityID]*refTracker

	clearHooks map[ComponentTypeID]ClearRefFunc

	pendingWordA uint32
	hasPending   bool
}

// RefSelector filters which (sourceType, fieldSeq) ref events a tracker
// observes. The global selector (id 0) matches every event.
type RefSelector struct {
	id         int
	sourceType ComponentTypeID
	hasType    bool
	fieldSeq   uint8
	hasSeq     bool
	global     bool
}

const globalSelectorID = 0

func (s RefSelector) matches(t ComponentTypeID, seq uint8) bool {
	if s.global {
		return true
	}
	if s.hasType && s.sourceType != t {
		return false
	}
	if s.hasSeq && s.fieldSeq != seq {
		return false
	}
	return true
}

// ClearRefFunc is invoked on every entity that held a reference to a target
// being removed, so the source component's ref field reads as null.
// Registered per source component type via RegisterClearRefHook.
type ClearRefFunc func(src EntityID, fieldSeq uint8, internalIndex int)

func refTag(t ComponentTypeID, seq uint8) uint32 { return uint32(t)<<16 | uint32(seq) }

// refTracker holds the backreference set for one (selector, target) pair: a
// dense entities list plus a per-source tag set recording which (type, seq)
// pairs that source references the target through. The tag set starts as a
// small slice and switches to a map past 1000 entries, per §4.6.
type refTracker struct {
	entities []EntityID
	index    map[EntityID]int
	tags     map[EntityID][]uint32
	tagSet   map[EntityID]map[uint32]bool
}

func newRefTracker() *refTracker {
	return &refTracker{
		index:  make(map[EntityID]int),
		tags:   make(map[EntityID][]uint32),
		tagSet: make(map[EntityID]map[uint32]bool),
	}
}

func (tr *refTracker) hasTag(src EntityID, tag uint32) bool {
	if set, ok := tr.tagSet[src]; ok {
		return set[tag]
	}
	for _, t := range tr.tags[src] {
		if t == tag {
			return true
		}
	}
	return false
}

func (tr *refTracker) track(src EntityID, tag uint32) {
	if tr.hasTag(src, tag) {
		return
	}
	if _, ok := tr.index[src]; !ok {
		tr.index[src] = len(tr.entities)
		tr.entities = append(tr.entities, src)
	}
	if set, ok := tr.tagSet[src]; ok {
		set[tag] = true
		return
	}
	tr.tags[src] = append(tr.tags[src], tag)
	if len(tr.tags[src]) > 1000 {
		set := make(map[uint32]bool, len(tr.tags[src]))
		for _, t := range tr.tags[src] {
			set[t] = true
		}
		tr.tagSet[src] = set
		delete(tr.tags, src)
	}
}

func (tr *refTracker) untrack(src EntityID, tag uint32) {
	empty := false
	if set, ok := tr.tagSet[src]; ok {
		delete(set, tag)
		empty = len(set) == 0
		if empty {
			delete(tr.tagSet, src)
		}
	} else {
		list := tr.tags[src]
		for i, t := range list {
			if t == tag {
				list[i] = list[len(list)-1]
				list = list[:len(list)-1]
				break
			}
		}
		if len(list) == 0 {
			delete(tr.tags, src)
			empty = true
		} else {
			tr.tags[src] = list
		}
	}
	if !empty {
		return
	}
	pos, ok := tr.index[src]
	if !ok {
		return
	}
	last := len(tr.entities) - 1
	moved := tr.entities[last]
	tr.entities[pos] = moved
	tr.entities = tr.entities[:last]
	tr.index[moved] = pos
	delete(tr.index, src)
}

// Backrefs returns the tracked source entity list directly; callers must
// not mutate it (§4.6 "getBackrefs returns the entity array directly").
func (tr *refTracker) Backrefs() []EntityID { return tr.entities }

// NewRefIndexer constructs an indexer with its own ref log and the global
// selector pre-registered.
func NewRefIndexer(r *Registry, maxRefChangesPerFrame, numWriters int) *RefIndexer {
	ri := &RefIndexer{
		registry:   r,
		log:        NewLog("maxRefChangesPerFrame", maxRefChangesPerFrame, numWriters),
		clearHooks: make(map[ComponentTypeID]ClearRefFunc),
	}
	ri.pointer = ri.log.NewPointer()
	ri.selectors = append(ri.selectors, RefSelector{id: globalSelectorID, global: true})
	ri.liveByTarget = append(ri.liveByTarget, make(map[EntityID]*refTracker))
	ri.staleByTarget = append(ri.staleByTarget, make(map[EntityID]*refTracker))
	return ri
}

// NewSelector registers a selector scoped to sourceType and/or fieldSeq (nil
// / -1 to leave a dimension unconstrained) and returns it.
func (ri *RefIndexer) NewSelector(sourceType *ComponentType, fieldSeq int) *RefSelector {
	id := len(ri.selectors)
	sel := RefSelector{id: id}
	if sourceType != nil {
		sel.sourceType = sourceType.id
		sel.hasType = true
	}
	if fieldSeq >= 0 {
		sel.fieldSeq = uint8(fieldSeq)
		sel.hasSeq = true
	}
	ri.selectors = append(ri.selectors, sel)
	ri.liveByTarget = append(ri.liveByTarget, make(map[EntityID]*refTracker))
	ri.staleByTarget = append(ri.staleByTarget, make(map[EntityID]*refTracker))
	return &ri.selectors[id]
}

// RegisterClearRefHook attaches fn, invoked for every source entity of type
// t that referenced a target being cleared.
func (ri *RefIndexer) RegisterClearRefHook(t ComponentTypeID, fn ClearRefFunc) {
	ri.clearHooks[t] = fn
}

// SetRef records a ref field reassignment: an UNREFERENCE event for
// oldTarget (if non-zero) followed by a REFERENCE event for newTarget (if
// non-zero), both against (src, sourceType, fieldSeq).
func (ri *RefIndexer) SetRef(writer int, src EntityID, sourceType ComponentTypeID, fieldSeq uint8, oldTarget, newTarget EntityID) error {
	if oldTarget != 0 {
		if err := ri.pushEvent(writer, oldTarget, sourceType, fieldSeq, src, true); err != nil {
			return err
		}
	}
	if newTarget != 0 {
		if err := ri.pushEvent(writer, newTarget, sourceType, fieldSeq, src, false); err != nil {
			return err
		}
	}
	return nil
}

func (ri *RefIndexer) pushEvent(writer int, target EntityID, sourceType ComponentTypeID, fieldSeq uint8, src EntityID, unreference bool) error {
	wordA := packShapeEvent(target, sourceType, unreference)
	wordB := packWriteEvent(src, ComponentTypeID(fieldSeq))
	if err := ri.log.Push(writer, wordA); err != nil {
		return err
	}
	return ri.log.Push(writer, wordB)
}

func (ri *RefIndexer) trackerFor(byTarget []map[EntityID]*refTracker, selID int, target EntityID) *refTracker {
	tr, ok := byTarget[selID][target]
	if !ok {
		tr = newRefTracker()
		byTarget[selID][target] = tr
	}
	return tr
}

func (ri *RefIndexer) handlePair(wordA, wordB uint32) {
	target, sourceType, unref := unpackShapeEvent(wordA)
	src, seqID := unpackWriteEvent(wordB)
	seq := uint8(seqID)
	tag := refTag(sourceType, seq)
	for i := range ri.selectors {
		sel := ri.selectors[i]
		if !sel.matches(sourceType, seq) {
			continue
		}
		live := ri.trackerFor(ri.liveByTarget, sel.id, target)
		stale := ri.trackerFor(ri.staleByTarget, sel.id, target)
		if unref {
			live.untrack(src, tag)
			// stale retains the reference until clearAllRefs(final=true)
			// purges it, mirroring ShapeArray's current/stale split.
		} else {
			live.track(src, tag)
			stale.track(src, tag)
		}
	}
}

func (ri *RefIndexer) consume(entries []uint32) {
	i := 0
	if ri.hasPending && len(entries) > 0 {
		ri.handlePair(ri.pendingWordA, entries[0])
		ri.hasPending = false
		i = 1
	}
	for ; i+1 < len(entries); i += 2 {
		ri.handlePair(entries[i], entries[i+1])
	}
	if i < len(entries) {
		ri.pendingWordA = entries[i]
		ri.hasPending = true
	}
}

// processAndCommit drains the ref log since the last call and dispatches
// every event to matching selectors.
func (ri *RefIndexer) processAndCommit() error {
	next, err := ri.log.ProcessAndCommitSince(ri.pointer, ri.consume)
	if err != nil {
		return err
	}
	ri.pointer = next
	return nil
}

// clearAllRefs handles a target entity's component (or whole-entity)
// removal (§4.6): it invokes every currently tracked source's clear hook so
// reads observe null immediately; at final=true it additionally drops the
// bookkeeping for target since it can no longer be referenced.
func (ri *RefIndexer) clearAllRefs(target EntityID, final bool) {
	for i := range ri.selectors {
		sel := ri.selectors[i]
		if live, ok := ri.liveByTarget[sel.id][target]; ok {
			for _, src := range live.Backrefs() {
				ri.invokeClearHooks(src)
			}
		}
		if final {
			delete(ri.liveByTarget[sel.id], target)
			delete(ri.staleByTarget[sel.id], target)
		}
	}
}

func (ri *RefIndexer) invokeClearHooks(src EntityID) {
	shape := ri.registry.shape.Current(src)
	for t, fn := range ri.clearHooks {
		var m mask.Mask256
		m.Mark(uint32(t))
		if shape.ContainsAll(m) {
			fn(src, 0, 0)
		}
	}
}

// getBackrefs returns target's live backreference list under sel (the
// global selector if sel is nil); callers must not mutate the result.
func (ri *RefIndexer) getBackrefs(target EntityID, sel *RefSelector) []EntityID {
	id := globalSelectorID
	if sel != nil {
		id = sel.id
	}
	live, ok := ri.liveByTarget[id][target]
	if !ok {
		return nil
	}
	return live.Backrefs()
}
