package loom

import "github.com/TheBitDrifter/mask"

// System is a registered unit of per-frame work: a name, access masks used
// for ordering and conflict detection, scheduling constraints, and the
// execute callback itself (§4.7, §4.8). Systems have no teacher analogue
// (the teacher has no scheduler); modeled directly on spec §4.7/§4.8 with
// the builder idiom kept from config.go's With* chain style.
type System struct {
	name string

	reads  mask.Mask256
	writes mask.Mask256

	stateless bool
	lane      int // -1 until assigned by the planner

	before           []string
	after            []string
	inAnyOrderWith   []string
	beforeReadersOf  []ComponentTypeID
	afterWritersOf   []ComponentTypeID
	inAnyOrderWithReadersOf []ComponentTypeID

	groupName string

	execute func(w *World, time, delta float64) error

	prepare    func(w *World) error
	initialize func(w *World) error
	finalize   func(w *World) error
}

// NewSystem starts building a system named name, whose execute callback is
// fn.
func NewSystem(name string, fn func(w *World, time, delta float64) error) *System {
	return &System{name: name, execute: fn, lane: -1}
}

func (s *System) Reads(types ...*ComponentType) *System {
	for _, t := range types {
		s.reads.Mark(uint32(t.id))
	}
	return s
}

func (s *System) Writes(types ...*ComponentType) *System {
	for _, t := range types {
		s.writes.Mark(uint32(t.id))
	}
	return s
}

func (s *System) Stateless() *System { s.stateless = true; return s }

func (s *System) Before(names ...string) *System { s.before = append(s.before, names...); return s }
func (s *System) After(names ...string) *System  { s.after = append(s.after, names...); return s }
func (s *System) InAnyOrderWith(names ...string) *System {
	s.inAnyOrderWith = append(s.inAnyOrderWith, names...)
	return s
}
func (s *System) BeforeReadersOf(types ...*ComponentType) *System {
	for _, t := range types {
		s.beforeReadersOf = append(s.beforeReadersOf, t.id)
	}
	return s
}
func (s *System) AfterWritersOf(types ...*ComponentType) *System {
	for _, t := range types {
		s.afterWritersOf = append(s.afterWritersOf, t.id)
	}
	return s
}
func (s *System) InAnyOrderWithReadersOf(types ...*ComponentType) *System {
	for _, t := range types {
		s.inAnyOrderWithReadersOf = append(s.inAnyOrderWithReadersOf, t.id)
	}
	return s
}

func (s *System) Prepare(fn func(w *World) error) *System    { s.prepare = fn; return s }
func (s *System) Initialize(fn func(w *World) error) *System { s.initialize = fn; return s }
func (s *System) Finalize(fn func(w *World) error) *System   { s.finalize = fn; return s }

// conflictsWith reports whether s and other have an access conflict
// (write/write or write/read on a shared component type) that the planner
// must exclude from concurrent execution. Denial edges are not consulted.
func (s *System) conflictsWith(other *System) bool {
	if s.writes.ContainsAny(other.writes) {
		return true
	}
	if s.writes.ContainsAny(other.reads) {
		return true
	}
	if other.writes.ContainsAny(s.reads) {
		return true
	}
	return false
}

// SystemGroup is a named, ordered collection of systems run together by a
// Frame (§4.8). The default group runs every frame; other groups are
// triggered explicitly (e.g. a finalisation-only group).
type SystemGroup struct {
	name    string
	systems []*System
}

// NewSystemGroup starts a named group.
func NewSystemGroup(name string, systems ...*System) *SystemGroup {
	return &SystemGroup{name: name, systems: systems}
}

func (g *SystemGroup) apply(w *World) error {
	for _, s := range g.systems {
		if err := w.addSystem(s, g.name); err != nil {
			return err
		}
	}
	return nil
}

// DefSystems returns a Def that registers systems into the default group.
func DefSystems(systems ...*System) Def {
	return NewSystemGroup(DefaultGroupName, systems...)
}

// DefGroup returns a Def that registers systems into a named group.
func DefGroup(name string, systems ...*System) Def {
	return NewSystemGroup(name, systems...)
}

// DefaultGroupName is the group a Frame runs every frame.
const DefaultGroupName = "default"
