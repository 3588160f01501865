package loom

// Cache is a fixed-capacity, string-keyed, index-addressable registry,
// kept from the teacher's api.go/cache.go almost verbatim (one of the few
// concerns that needed no archetype-model rework) and repurposed here to
// back Registry's enum-group lookup by name.
type Cache[T any] interface {
	GetIndex(string) (int, bool)
	GetItem(int) *T
	GetItem32(uint32) *T
	Register(string, T) (int, error)
}

// CacheLocation names a cache entry by its registration key and resolved
// index, for callers that want to cache the lookup itself.
type CacheLocation struct {
	Key   string
	Index uint32
}

// SimpleCache is Cache's slice-backed implementation: O(1) index lookup,
// O(1) amortised registration, fixed maxCapacity.
type SimpleCache[T any] struct {
	items       []T
	itemIndices map[string]int
	maxCapacity int
}

var _ Cache[any] = &SimpleCache[any]{}

// NewSimpleCache allocates an empty cache that rejects registration past
// capacity entries.
func NewSimpleCache[T any](capacity int) *SimpleCache[T] {
	return &SimpleCache[T]{itemIndices: make(map[string]int), maxCapacity: capacity}
}

func (c *SimpleCache[T]) GetIndex(key string) (int, bool) {
	index, ok := c.itemIndices[key]
	return index, ok
}

func (c *SimpleCache[T]) GetItem(index int) *T {
	return &c.items[index]
}

func (c *SimpleCache[T]) GetItem32(index uint32) *T {
	return &c.items[index]
}

func (c *SimpleCache[T]) Register(key string, item T) (int, error) {
	if _, exists := c.itemIndices[key]; exists {
		return -1, CheckErrorf("cache key %q already registered", key)
	}
	if len(c.itemIndices) >= c.maxCapacity {
		return -1, CheckErrorf("cache at maximum capacity (%d)", c.maxCapacity)
	}
	idx := len(c.items)
	c.itemIndices[key] = idx
	c.items = append(c.items, item)
	return idx, nil
}

func (c *SimpleCache[T]) Clear() {
	c.items = c.items[:0]
	c.itemIndices = make(map[string]int)
}

func (c *SimpleCache[T]) Len() int { return len(c.items) }
