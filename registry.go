package loom

import (
	"github.com/TheBitDrifter/bark"
	"github.com/TheBitDrifter/mask"
)

// Registry owns entity id allocation, shape bookkeeping, and the shape/
// write/removal logs — the union of the teacher's storage.go (entity/
// archetype lifecycle) and entity.go (per-entity mutation), rebuilt around
// per-component sparse/packed/compact columns instead of archetype tables
// (§4.3). Each log gets numWriters corrals, and every mutating call takes
// the writer index of the corral it pushes into; the caller picks that
// index (worker.go does not assign one per lane).
type Registry struct {
	cfg  *Config
	pool *EntityPool

	shape *ShapeArray

	shapeLog   *Log
	writeLog   *Log
	removalLog *Log
	removalPointer Pointer

	types       []*ComponentType
	typesByName map[string]ComponentTypeID
	enums       *SimpleCache[EnumGroup]
	columns     []storageColumn // indexed by ComponentTypeID, nil for AliveType

	refIndexer *RefIndexer

	lockCount int
	opQueue   *entityOperationsQueue

	sealed bool
}

// NewRegistry builds an empty Registry sized per cfg. Component types are
// added afterward via RegisterComponentType.
func NewRegistry(cfg *Config, numWriters int) *Registry {
	r := &Registry{
		cfg:         cfg,
		pool:        NewEntityPool(cfg.maxEntities),
		shape:       NewShapeArray(cfg.maxEntities),
		shapeLog:    NewLog("maxShapeChangesPerFrame", cfg.maxShapeChangesPerFrame, numWriters),
		writeLog:    NewLog("maxWritesPerFrame", cfg.maxWritesPerFrame, numWriters),
		removalLog:  NewLog("maxShapeChangesPerFrame", cfg.maxShapeChangesPerFrame, numWriters),
		typesByName: make(map[string]ComponentTypeID),
		enums:       NewSimpleCache[EnumGroup](MaxComponentTypes),
		opQueue:     &entityOperationsQueue{},
	}
	r.shapeLog.SetSortKeyBits(ComponentTypeIDBits)
	r.writeLog.SetSortKeyBits(ComponentTypeIDBits)
	r.types = append(r.types, &ComponentType{id: AliveType, name: "Alive", binding: newShapeBinding(AliveType)})
	r.typesByName["Alive"] = AliveType
	r.columns = append(r.columns, nil)
	r.removalPointer = r.removalLog.NewPointer()
	r.refIndexer = NewRefIndexer(r, cfg.maxRefChangesPerFrame, numWriters)
	return r
}

// RegisterComponentType assigns the next ComponentTypeID and allocates its
// storage column. Non-goal per spec §1: dynamic registration after world
// construction, so this rejects calls once the registry is sealed.
func (r *Registry) RegisterComponentType(name string, fields []Field, opts ComponentTypeOptions) (*ComponentType, error) {
	if r.sealed {
		return nil, CheckErrorf("component type %q: cannot register after world construction", name)
	}
	if _, exists := r.typesByName[name]; exists {
		return nil, CheckErrorf("component type %q already registered", name)
	}
	if len(fields) > MaxFieldSeq {
		return nil, fmtFieldSeqOverflow(name)
	}
	if err := validateOptions(name, opts); err != nil {
		return nil, err
	}
	id := ComponentTypeID(len(r.types))
	if int(id) >= MaxComponentTypes {
		return nil, CheckErrorf("component type capacity exceeded (max %d)", MaxComponentTypes)
	}
	if int(id) >= 256 {
		return nil, CheckErrorf("component type capacity exceeded (a shape row holds %d types)", 256)
	}
	for i := range fields {
		fields[i].Seq = uint8(i)
	}
	hasRefs := false
	for _, f := range fields {
		if f.Kind == FieldRef {
			hasRefs = true
		}
	}

	ct := &ComponentType{
		id:           id,
		name:         name,
		fields:       fields,
		storageKind:  opts.Storage,
		capacity:     opts.Capacity,
		tracksWrites: true,
		hasRefs:      hasRefs,
		binding:      newShapeBinding(id),
	}
	r.types = append(r.types, ct)
	r.typesByName[name] = id
	r.columns = append(r.columns, newStorageColumn(ct, r.cfg.maxEntities))
	return ct, nil
}

// RegisterEnum groups component types into a mutually-exclusive set (§3
// "Enum").
func (r *Registry) RegisterEnum(name string, members ...*ComponentType) (*EnumGroup, error) {
	if _, exists := r.enums.GetIndex(name); exists {
		return nil, CheckErrorf("enum %q already registered", name)
	}
	g := NewEnumGroup(name)
	for _, m := range members {
		m.enumGroup = g
		g.add(m.id)
	}
	idx, err := r.enums.Register(name, *g)
	if err != nil {
		return nil, err
	}
	return r.enums.GetItem(idx), nil
}

// ComponentTypeByName looks up a previously registered component type.
func (r *Registry) ComponentTypeByName(name string) (*ComponentType, bool) {
	id, ok := r.typesByName[name]
	if !ok {
		return nil, false
	}
	return r.types[id], true
}

// seal freezes component/enum registration once the World finishes wiring
// systems, matching the "no dynamic registration after world construction"
// non-goal.
func (r *Registry) seal() { r.sealed = true }

// Create borrows a fresh EntityID, sets its Alive bit, and logs the shape
// change (§4.3 "Registry", "Entity: created").
func (r *Registry) Create(writer int) (EntityID, error) {
	id, ok := r.pool.Take()
	if !ok {
		return 0, bark.AddTrace(EntityCapacityExceededError{Max: r.cfg.maxEntities})
	}
	r.shape.Grow(int(id))
	r.shape.Set(id, AliveType)
	if err := r.shapeLog.Push(writer, packShapeEvent(id, AliveType, false)); err != nil {
		return 0, err
	}
	return id, nil
}

// AddComponent sets type t on entity id, enforcing duplicate and enum-group
// rules (§4.3 failure modes).
func (r *Registry) AddComponent(writer int, id EntityID, t ComponentTypeID) error {
	if r.shape.Has(id, t) {
		return bark.AddTrace(ComponentExistsError{Type: t})
	}
	if ct := r.types[t]; ct.enumGroup != nil {
		cur := r.shape.Current(id)
		for member := range ct.enumGroup.members {
			if member != t && cur.ContainsAll(bitOf(member)) {
				return bark.AddTrace(EnumConflictError{Group: ct.enumGroup.Name, Existing: member, Wanted: t})
			}
		}
	}
	r.shape.Set(id, t)
	if col := r.columns[t]; col != nil {
		col.acquire(id)
	}
	return r.shapeLog.Push(writer, packShapeEvent(id, t, false))
}

func bitOf(t ComponentTypeID) mask.Mask256 {
	var m mask.Mask256
	m.Mark(uint32(t))
	return m
}

// RemoveComponent clears type t's current bit on id and defers storage
// reclamation and ref finalisation to completeCycle (§4.3 "Removal
// semantics are two-phase").
func (r *Registry) RemoveComponent(writer int, id EntityID, t ComponentTypeID) error {
	if !r.shape.Has(id, t) {
		return bark.AddTrace(ComponentNotFoundError{Type: t})
	}
	r.shape.ClearCurrent(id, t)
	if r.types[t].hasRefs {
		r.refIndexer.clearAllRefs(id, false)
	}
	if err := r.shapeLog.Push(writer, packShapeEvent(id, t, true)); err != nil {
		return err
	}
	return r.removalLog.Push(writer, packWriteEvent(id, t))
}

// Destroy clears Alive plus every currently-set component on id, logging a
// removal entry for each (§3 "Entity: deleted").
func (r *Registry) Destroy(writer int, id EntityID) error {
	cur := r.shape.Current(id)
	for t := ComponentTypeID(1); int(t) < len(r.types); t++ {
		if cur.ContainsAll(bitOf(t)) {
			if err := r.RemoveComponent(writer, id, t); err != nil {
				return err
			}
		}
	}
	r.shape.ClearCurrent(id, AliveType)
	if err := r.shapeLog.Push(writer, packShapeEvent(id, AliveType, true)); err != nil {
		return err
	}
	return r.removalLog.Push(writer, packWriteEvent(id, AliveType))
}

// MatchShape implements §4.3's matchShape clause used by the query engine.
func (r *Registry) MatchShape(id EntityID, positive, negative, any mask.Mask256) bool {
	return Match(r.shape.Current(id), positive, negative, any)
}

// TrackWrite pushes a write-log entry for a tracked field assignment.
func (r *Registry) TrackWrite(writer int, id EntityID, t ComponentTypeID) error {
	return r.writeLog.Push(writer, packWriteEvent(id, t))
}

// CheckValid rejects a handle whose recycle generation no longer matches
// the pool's (§4.3 "Every entity handle carries a validity bit").
func (r *Registry) CheckValid(id EntityID, recycled uint32) error {
	if r.pool.Recycled(id) != recycled {
		return CheckErrorf("stale entity handle: id %d was recycled", id)
	}
	return nil
}

// Locked reports whether structural mutation is currently deferred.
func (r *Registry) Locked() bool { return r.lockCount > 0 }

// Lock defers structural mutation, used while a Cursor iterates.
func (r *Registry) Lock() { r.lockCount++ }

// Unlock releases one lock and, once fully unlocked, drains queued
// operations (teacher's storage.go RemoveLock pattern).
func (r *Registry) Unlock() error {
	if r.lockCount > 0 {
		r.lockCount--
	}
	if r.lockCount == 0 {
		return r.opQueue.ProcessAll(r)
	}
	return nil
}

// Enqueue defers op until the registry next fully unlocks.
func (r *Registry) Enqueue(op EntityOperation) { r.opQueue.Enqueue(op) }

// CompleteCycle drains the removal log, finalising components that weren't
// re-added and weren't removed a second time, releasing storage rows and
// returning entity ids to the pool (§4.3 "At completeCycle").
func (r *Registry) CompleteCycle() error {
	touched := make(map[EntityID]bool)
	next, err := r.removalLog.ProcessAndCommitSince(r.removalPointer, func(entries []uint32) {
		for _, word := range entries {
			id, t := unpackWriteEvent(word)
			touched[id] = true
			if r.shape.Has(id, t) || !r.shape.RemovedThisCycle(id, t) {
				continue // re-added, or already finalised by an earlier duplicate entry
			}
			r.shape.Finalize(id, t)
			if col := r.columns[t]; col != nil {
				col.release(id)
			}
			if t == AliveType {
				r.refIndexer.clearAllRefs(id, true)
				r.pool.Return(id)
			} else if r.types[t].hasRefs {
				r.refIndexer.clearAllRefs(id, true)
			}
		}
	})
	if err != nil {
		return err
	}
	r.removalPointer = next
	for id := range touched {
		r.shape.EndCycle(id)
	}
	return r.refIndexer.processAndCommit()
}

// Stats is the read-only introspection snapshot (SUPPLEMENTED FEATURES:
// World.Stats()).
type Stats struct {
	EntityCount           int
	LimboComponents       map[string]int
	ShapeLogHighWaterMark int
	WriteLogHighWaterMark int
	RefLogHighWaterMark   int
}

func (r *Registry) stats() Stats {
	limbo := make(map[string]int)
	for t := ComponentTypeID(1); int(t) < len(r.types); t++ {
		count := 0
		for id := EntityID(1); int(id) < len(r.shape.removedThisCycle); id++ {
			if r.shape.RemovedThisCycle(id, t) {
				count++
			}
		}
		if count > 0 {
			limbo[r.types[t].name] = count
		}
	}
	return Stats{
		EntityCount:           r.cfg.maxEntities - r.pool.ids.Len(),
		LimboComponents:       limbo,
		ShapeLogHighWaterMark: r.shapeLog.highWaterMark,
		WriteLogHighWaterMark: r.writeLog.highWaterMark,
		RefLogHighWaterMark:   r.refIndexer.log.highWaterMark,
	}
}
