package loom

import "log/slog"

// Config holds the construction-time options for a World (§6 "External
// interfaces"). It follows the teacher's config.go shape — a plain struct
// with setter methods — generalized from a single package-level value to a
// per-world builder, since a process may host more than one World.
type Config struct {
	defs []Def

	threads  int
	maxEntities            int
	maxLimboComponents     int
	maxShapeChangesPerFrame int
	maxWritesPerFrame      int
	maxRefChangesPerFrame  int
	defaultComponentStorage StorageKind

	workerPath   string
	workerModule string

	logger *slog.Logger
}

// Def is anything a World can be built from: a component type registration,
// an enum group, or a system registration. Concrete def types are returned
// by DefComponent / DefEnum / DefSystems / DefGroup.
type Def interface {
	apply(w *World) error
}

// NewConfig returns a Config pre-filled with the spec's documented defaults.
func NewConfig() *Config {
	c := &Config{
		maxEntities:             10_000,
		defaultComponentStorage: StoragePacked,
	}
	c.maxLimboComponents = ceilDiv(c.maxEntities, 5)
	c.maxShapeChangesPerFrame = c.maxEntities * 2
	c.maxWritesPerFrame = c.maxEntities * 4
	c.maxRefChangesPerFrame = c.maxEntities
	return c
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// WithDefs appends component/enum/system/group definitions.
func (c *Config) WithDefs(defs ...Def) *Config {
	c.defs = append(c.defs, defs...)
	return c
}

// WithThreads sets the lane count: positive is an exact count, zero or
// negative is an offset from the detected CPU count (applied at World
// construction, since runtime.NumCPU is read then, not at config time).
func (c *Config) WithThreads(n int) *Config {
	c.threads = n
	return c
}

// WithMaxEntities overrides the entity capacity and re-derives every
// capacity-scaled limit (limbo, shape, write and ref changes per frame) from
// it. Values set earlier through the With* overrides are not kept; call
// those after WithMaxEntities for them to take effect.
func (c *Config) WithMaxEntities(n int) *Config {
	c.maxEntities = n
	c.maxLimboComponents = ceilDiv(n, 5)
	c.maxShapeChangesPerFrame = n * 2
	c.maxWritesPerFrame = n * 4
	c.maxRefChangesPerFrame = n
	return c
}

func (c *Config) WithMaxLimboComponents(n int) *Config {
	c.maxLimboComponents = n
	return c
}

func (c *Config) WithMaxShapeChangesPerFrame(n int) *Config {
	c.maxShapeChangesPerFrame = n
	return c
}

func (c *Config) WithMaxWritesPerFrame(n int) *Config {
	c.maxWritesPerFrame = n
	return c
}

func (c *Config) WithMaxRefChangesPerFrame(n int) *Config {
	c.maxRefChangesPerFrame = n
	return c
}

func (c *Config) WithDefaultComponentStorage(k StorageKind) *Config {
	c.defaultComponentStorage = k
	return c
}

// WithWorkerBridge configures the multi-lane worker transport location;
// ignored in single-lane worlds.
func (c *Config) WithWorkerBridge(path, module string) *Config {
	c.workerPath = path
	c.workerModule = module
	return c
}

// WithLogger sets the base logger lifecycle events are scoped from (world
// build/seal, frame begin/end, lane spawn/stop, laborer errors). Defaults to
// slog.Default() if never called.
func (c *Config) WithLogger(l *slog.Logger) *Config {
	c.logger = l
	return c
}

func (c *Config) resolveLogger() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

func (c *Config) resolveThreads() int {
	if c.threads > 0 {
		return c.threads
	}
	n := numCPU() + c.threads
	if n < 1 {
		n = 1
	}
	return n
}
