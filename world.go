package loom

import (
	"log/slog"
	"runtime"
)

// World is the top-level handle a host program builds and drives: it owns
// the Registry, the sealed scheduling graph, and the per-group plans. There
// is no teacher analogue (the teacher exposes Storage directly with no
// scheduler); World is this module's addition per SPEC_FULL.md §4.8/§4.9,
// built the way config.go's builder pattern and entity.go's thin-handle
// style already established.
type World struct {
	cfg      *Config
	registry *Registry
	buffers  *Buffers

	planner    *Planner
	director   *Director
	plans      map[string]Plan
	groups     map[string][]*System
	groupOrder []string

	lastFrameTime float64
	frameCount    int
	clock         func() float64

	sealed bool

	logger *slog.Logger
}

func numCPU() int { return runtime.NumCPU() }

// NewWorld applies cfg's defs (components, enums, systems, groups) and
// seals the scheduling graph. clock defaults to a monotonically increasing
// frame counter if nil (hosts that care about wall-clock time should pass
// one backed by time.Now).
func NewWorld(cfg *Config, clock func() float64) (*World, error) {
	logger := cfg.resolveLogger().With("component", "world")
	threads := cfg.resolveThreads()
	numWriters := threads
	if numWriters < 1 {
		numWriters = 1
	}

	logger.Info("building world", "threads", threads, "maxEntities", cfg.maxEntities)

	w := &World{
		cfg:      cfg,
		registry: NewRegistry(cfg, numWriters),
		buffers:  NewBuffers(numWriters),
		planner:  NewPlanner(),
		plans:    make(map[string]Plan),
		groups:   make(map[string][]*System),
		clock:    clock,
		logger:   logger,
	}

	for _, def := range cfg.defs {
		if err := def.apply(w); err != nil {
			logger.Error("world build failed", "err", err)
			return nil, err
		}
	}

	if err := w.planner.Seal(threads); err != nil {
		logger.Error("schedule seal failed", "err", err)
		return nil, err
	}
	logger.Info("schedule sealed", "lanes", w.planner.LaneCount())
	w.director = NewDirector(w.planner, logger)
	for name, systems := range w.groups {
		if threads <= 1 {
			w.plans[name] = NewSimplePlan(w.director, systems)
		} else {
			w.plans[name] = NewThreadedPlan(w.director, systems)
		}
	}

	w.registry.seal()
	w.sealed = true
	logger.Info("world built")
	return w, nil
}

func (w *World) clockSeconds() float64 {
	if w.clock != nil {
		return w.clock()
	}
	return float64(w.frameCount)
}

// addSystem registers s into the named group's planner vertex and system
// list; called by SystemGroup.apply during World construction.
func (w *World) addSystem(s *System, group string) error {
	w.planner.Add(s)
	if _, exists := w.groups[group]; !exists {
		w.groupOrder = append(w.groupOrder, group)
	}
	w.groups[group] = append(w.groups[group], s)
	return nil
}

// RegisterComponentType exposes Registry.RegisterComponentType for Def
// implementations (DefComponent).
func (w *World) RegisterComponentType(name string, fields []Field, opts ComponentTypeOptions) (*ComponentType, error) {
	return w.registry.RegisterComponentType(name, fields, opts)
}

// RegisterEnum exposes Registry.RegisterEnum for Def implementations
// (DefEnum).
func (w *World) RegisterEnum(name string, members ...*ComponentType) (*EnumGroup, error) {
	return w.registry.RegisterEnum(name, members...)
}

// ComponentTypeByName looks up a component type registered via DefComponent
// by name, for host code that needs the *ComponentType handle back after
// NewWorld returns rather than threading an out-pointer through WithDefs.
func (w *World) ComponentTypeByName(name string) (*ComponentType, bool) {
	return w.registry.ComponentTypeByName(name)
}

// CreateEntity borrows a fresh entity on writer lane 0 (the director/main
// thread).
func (w *World) CreateEntity() (Entity, error) {
	id, err := w.registry.Create(0)
	if err != nil {
		return Entity{}, err
	}
	return Entity{id: id, recycled: w.registry.pool.Recycled(id), registry: w.registry}, nil
}

// NewQuery seals a Query against the world's registry.
func (w *World) NewQuery(opts QueryOptions) *Query {
	return NewQuery(w.registry, opts)
}

// NewCursor returns a cursor over q's current matches.
func (w *World) NewCursor(q *Query) *Cursor {
	return newCursor(q, w.registry)
}

// Execute drives one frame: begin, run every group (default first, then
// any others in registration order), end. time is optional; pass nil to use
// the world's clock.
func (w *World) Execute(time *float64) error {
	f := newFrame(w)
	f.begin(time)
	if plan, ok := w.plans[DefaultGroupName]; ok {
		if err := plan.RunPrepare(w); err != nil {
			return err
		}
		if err := plan.RunInitialize(w); err != nil {
			return err
		}
	}
	if _, ok := w.plans[DefaultGroupName]; ok {
		if err := f.execute(DefaultGroupName); err != nil {
			return err
		}
	}
	for _, name := range w.groupOrder {
		if name == DefaultGroupName {
			continue
		}
		if err := f.execute(name); err != nil {
			return err
		}
	}
	if plan, ok := w.plans[DefaultGroupName]; ok {
		if err := plan.RunFinalize(w); err != nil {
			return err
		}
	}
	return f.end()
}

// Terminate releases every lane's laborer goroutine (§5 "terminate()"); the
// in-progress frame must already have completed via Execute.
func (w *World) Terminate() {
	w.logger.Info("world terminating", "frames", w.frameCount)
	w.director.Release()
}

// Stats exposes Registry.stats for host-program introspection.
func (w *World) Stats() Stats { return w.registry.stats() }

// DefComponent returns a Def that registers a component type.
func DefComponent(name string, fields []Field, opts ComponentTypeOptions) Def {
	return &componentDef{name: name, fields: fields, opts: opts}
}

type componentDef struct {
	name  string
	fields []Field
	opts  ComponentTypeOptions
	out   **ComponentType
}

func (d *componentDef) apply(w *World) error {
	ct, err := w.RegisterComponentType(d.name, d.fields, d.opts)
	if err != nil {
		return err
	}
	if d.out != nil {
		*d.out = ct
	}
	return nil
}

// DefEnum returns a Def that groups previously registered component types
// into a mutually-exclusive enum.
func DefEnum(name string, members ...*ComponentType) Def {
	return &enumDef{name: name, members: members}
}

type enumDef struct {
	name    string
	members []*ComponentType
}

func (d *enumDef) apply(w *World) error {
	_, err := w.RegisterEnum(d.name, d.members...)
	return err
}
