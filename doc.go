/*
Package loom provides an Entity-Component-System (ECS) runtime built around
per-component storage instead of archetype tables: each component type owns
its own sparse, packed, or compact column, and an entity's "shape" (its set
of component types) is tracked directly as a bitset rather than by which
table it lives in.

Core Concepts:

  - Entity: a recycle-checked handle (id plus generation) into a Registry.
  - ComponentType: a registered field layout bound to a storage column.
  - Shape: the bitset of component types currently set on an entity.
  - Query: a sealed view over entities matching a shape predicate, with
    current/added/removed/changed delta lists fed by the shape and write
    logs.
  - System: a unit of per-frame work with declared read/write access used
    to build the scheduling graph.
  - World: owns the Registry, the sealed graph, and the per-group plans
    that a host program drives one frame at a time.

Basic Usage:

	position := Field{Name: "X", Kind: FieldFloat64}
	var Position *ComponentType

	cfg := NewConfig().WithDefs(
		DefComponent("Position", []Field{position}, ComponentTypeOptions{Storage: StoragePacked, Capacity: 1024}),
		DefSystems(NewSystem("gravity", applyGravity)),
	)

	world, err := NewWorld(cfg, nil)
	if err != nil {
		panic(err)
	}
	e, err := world.CreateEntity()
	if err != nil {
		panic(err)
	}
	_ = e

	for {
		if err := world.Execute(nil); err != nil {
			break
		}
	}
*/
package loom
