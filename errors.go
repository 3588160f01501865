package loom

import (
	"errors"
	"fmt"

	"github.com/TheBitDrifter/bark"
)

// CheckError marks errors caused by caller misuse: bad arguments, duplicate
// or missing components, exhausted capacity. These are returned, never
// panicked, and the caller rejects the offending call rather than the frame
// aborting (§7 "CheckError").
type CheckError struct {
	msg string
}

func (e CheckError) Error() string { return e.msg }

func (e CheckError) checkError() {}

// CheckErrorf builds a CheckError, wrapping it with bark.AddTrace the same
// way the teacher wraps its table-lookup errors, so failures carry a stack
// trace back to the offending call site.
func CheckErrorf(format string, args ...any) error {
	return bark.AddTrace(CheckError{msg: fmt.Sprintf(format, args...)})
}

// InternalError marks invariant violations inside the engine rather than
// caller misuse. Log overruns, lapped log pointers and precedence cycles are
// not reported this way: they surface as LogCapacityExceededError and
// PrecedenceCycleError, which are check errors. InternalErrors abort the running frame rather than being handed back to the caller
// to retry (§7 "InternalError").
type InternalError struct {
	msg string
}

func (e InternalError) Error() string { return e.msg }

func (e InternalError) internalError() {}

// InternalErrorf builds an InternalError wrapped with bark.AddTrace.
func InternalErrorf(format string, args ...any) error {
	return bark.AddTrace(InternalError{msg: fmt.Sprintf(format, args...)})
}

// IsCheckError reports whether err (or anything bark/fmt wrapped around it)
// is a CheckError.
func IsCheckError(err error) bool {
	var marker interface{ checkError() }
	return errors.As(err, &marker)
}

// IsInternalError reports whether err (or anything wrapped around it) is an
// InternalError.
func IsInternalError(err error) bool {
	var marker interface{ internalError() }
	return errors.As(err, &marker)
}

// Entity/storage errors retained from the teacher's error set (errors.go),
// adapted to the registry's ComponentTypeID-based shape model in place of
// the teacher's table.ElementType components.

// LockedStorageError is raised when a mutating call arrives while a Cursor
// holds the registry locked for iteration (§4.3's "locked during Frame
// execution" note).
type LockedStorageError struct{}

func (e LockedStorageError) Error() string { return "storage is currently locked" }
func (e LockedStorageError) checkError()   {}

// ComponentExistsError is DuplicateComponent from §4.3's failure modes:
// addComponent(id, type) when type is already present in id's shape.
type ComponentExistsError struct {
	Type ComponentTypeID
}

func (e ComponentExistsError) Error() string {
	return fmt.Sprintf("component type %d already exists on entity", e.Type)
}
func (e ComponentExistsError) checkError() {}

// ComponentNotFoundError is MissingComponent: removeComponent/bind on a type
// absent from the entity's current shape.
type ComponentNotFoundError struct {
	Type ComponentTypeID
}

func (e ComponentNotFoundError) Error() string {
	return fmt.Sprintf("component type %d does not exist on entity", e.Type)
}
func (e ComponentNotFoundError) checkError() {}

// EntityCapacityExceededError is raised by EntityPool.Take failing, per
// §4.3's "world at MaxEntities" failure mode.
type EntityCapacityExceededError struct {
	Max int
}

func (e EntityCapacityExceededError) Error() string {
	return fmt.Sprintf("entity capacity exceeded (max %d)", e.Max)
}
func (e EntityCapacityExceededError) checkError() {}

// EnumConflictError is raised when addComponent would place two members of
// the same EnumGroup on one entity simultaneously (§4.3, §3 "Enum").
type EnumConflictError struct {
	Group            string
	Existing, Wanted ComponentTypeID
}

func (e EnumConflictError) Error() string {
	return fmt.Sprintf("enum %q: entity already has member %d, cannot add %d", e.Group, e.Existing, e.Wanted)
}
func (e EnumConflictError) checkError() {}

// PrecedenceCycleError is raised by Graph.Seal when the positive ordering
// edges form a cycle; denial edges never take part in a cycle (§4.7).
type PrecedenceCycleError struct {
	Cycle []string
}

func (e PrecedenceCycleError) Error() string {
	return fmt.Sprintf("system precedence cycle: %v", e.Cycle)
}
func (e PrecedenceCycleError) checkError() {}
