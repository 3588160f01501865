package loom

import "fmt"

// FieldKind is the tagged variant describing a Field's wire/storage type,
// replacing the host-language decorator syntax the original spec treats as
// an external, out-of-scope concern (§9 "Dynamic schemas via decorators").
type FieldKind int

const (
	FieldBool FieldKind = iota
	FieldInt8
	FieldInt16
	FieldInt32
	FieldFloat32
	FieldFloat64
	FieldStaticString // value ∈ enumerated Choices
	FieldDynString    // ≤ MaxBytes UTF-8 bytes
	FieldRef          // references another entity
)

func (k FieldKind) String() string {
	switch k {
	case FieldBool:
		return "bool"
	case FieldInt8:
		return "int8"
	case FieldInt16:
		return "int16"
	case FieldInt32:
		return "int32"
	case FieldFloat32:
		return "float32"
	case FieldFloat64:
		return "float64"
	case FieldStaticString:
		return "static_string"
	case FieldDynString:
		return "dyn_string"
	case FieldRef:
		return "ref"
	default:
		return "unknown"
	}
}

// Field describes one member of a ComponentType's schema (§3 "Field").
type Field struct {
	Name     string
	Kind     FieldKind
	Default  any
	Choices  []string // FieldStaticString only
	MaxBytes int      // FieldDynString only
	// Seq is the field's sequence number within its component, used as the
	// 7-bit field sequence in ref-log entries (§3, §4.6).
	Seq uint8
}

// StorageKind selects one of the three storage strategies a ComponentType
// may use (§4.4).
type StorageKind int

const (
	StorageSparse StorageKind = iota
	StoragePacked
	StorageCompact
)

func (k StorageKind) String() string {
	switch k {
	case StorageSparse:
		return "sparse"
	case StoragePacked:
		return "packed"
	case StorageCompact:
		return "compact"
	default:
		return "unknown"
	}
}

// ComponentTypeOptions configures a single component type at registration
// time (§6 "Per-component-type options").
type ComponentTypeOptions struct {
	Storage                StorageKind
	Capacity               int // required for packed/compact, rejected for sparse
	RestrictedToMainThread bool
}

// shapeBinding records the (word, bit) position a ComponentTypeID occupies
// in a ShapeArray row — kept as documented, inspectable metadata even though
// mask.Mask256 hides the actual word array from callers (§3 "binding").
type shapeBinding struct {
	shapeOffset uint32
	shapeMask   uint64
}

func newShapeBinding(id ComponentTypeID) shapeBinding {
	return shapeBinding{shapeOffset: uint32(id) / 64, shapeMask: 1 << (uint32(id) % 64)}
}

// ComponentType is the non-generic descriptor every component carries,
// created once at world construction and stable for the world's lifetime
// (§3 "ComponentType"). The generic, user-facing accessor is
// AccessibleComponent[T] (accessor.go), which embeds a *ComponentType.
type ComponentType struct {
	id     ComponentTypeID
	name   string
	fields []Field

	storageKind StorageKind
	capacity    int

	tracksWrites      bool
	hasRefs           bool
	internallyIndexed bool

	binding shapeBinding

	// enumGroup, if non-nil, is the EnumGroup this type belongs to; members
	// of an EnumGroup are mutually exclusive on any one entity (§3 "Enum").
	enumGroup *EnumGroup
}

// ID returns the component type's sequential, stable-for-this-world id.
func (c *ComponentType) ID() ComponentTypeID { return c.id }

// Name returns the component type's unique name.
func (c *ComponentType) Name() string { return c.name }

// Fields returns the component's ordered field schema.
func (c *ComponentType) Fields() []Field { return c.fields }

// Storage returns the storage strategy this component type uses.
func (c *ComponentType) Storage() StorageKind { return c.storageKind }

// TracksWrites reports whether field writes on this component are pushed to
// the write log for `changed` queries to observe.
func (c *ComponentType) TracksWrites() bool { return c.tracksWrites }

// HasRefs reports whether this component declares one or more FieldRef
// fields, making it eligible for RefIndexer tracking.
func (c *ComponentType) HasRefs() bool { return c.hasRefs }

// EnumGroup is a set of mutually-exclusive component types sharing one
// shape slot conceptually (§3 "Enum (component enum)"); in this
// implementation each member still owns its own ShapeArray bit (a full
// bitset rather than a packed multi-bit slot), but EnumGroup is what
// Registry.AddComponent consults to reject adding a member while another
// member is present (EnumConflict, §4.3).
type EnumGroup struct {
	Name    string
	members map[ComponentTypeID]bool
}

// NewEnumGroup creates an empty, named enum group.
func NewEnumGroup(name string) *EnumGroup {
	return &EnumGroup{Name: name, members: make(map[ComponentTypeID]bool)}
}

func (g *EnumGroup) add(id ComponentTypeID) { g.members[id] = true }

// Contains reports whether id is a member of this enum group.
func (g *EnumGroup) Contains(id ComponentTypeID) bool { return g.members[id] }

// validateOptions applies the per-component-type option rules from §6:
// "Storage sparse with explicit capacity is rejected."
func validateOptions(name string, opts ComponentTypeOptions) error {
	if opts.Storage == StorageSparse && opts.Capacity != 0 {
		return CheckErrorf("component %q: storage=sparse does not accept an explicit capacity", name)
	}
	if opts.Storage != StorageSparse && opts.Capacity <= 0 {
		return CheckErrorf("component %q: storage=%s requires a positive capacity", name, opts.Storage)
	}
	return nil
}

func fmtFieldSeqOverflow(name string) error {
	return fmt.Errorf("component %q: too many fields (max %d)", name, MaxFieldSeq)
}
