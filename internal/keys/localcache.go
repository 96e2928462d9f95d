package keys

import (
	"container/list"
	"sync"
)

// localCache is the process-local tier: a concurrent map from key to
// validated entity, private to one running instance. Entries have no
// TTL and live until evicted explicitly or displaced by the LRU bound,
// so cross-instance coherence depends entirely on the invalidation bus.
type localCache struct {
	maxEntries int

	mu       sync.RWMutex
	items    map[string]*list.Element
	eviction *list.List
}

// localCacheEntry is an entry in the local cache.
type localCacheEntry struct {
	key    string
	entity *Entity
}

// newLocalCache creates a local cache bounded to maxEntries. A bound of
// zero or less means unbounded.
func newLocalCache(maxEntries int) *localCache {
	return &localCache{
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
	}
}

// Get retrieves an entity. The second return reports whether the key
// was present.
func (c *localCache) Get(key string) (*Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	c.eviction.MoveToFront(elem)
	return elem.Value.(*localCacheEntry).entity, true
}

// Set stores an entity, displacing the least recently used entry when
// over capacity.
func (c *localCache) Set(key string, entity *Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		elem.Value = &localCacheEntry{key: key, entity: entity}
		return
	}

	c.items[key] = c.eviction.PushFront(&localCacheEntry{key: key, entity: entity})

	for c.maxEntries > 0 && c.eviction.Len() > c.maxEntries {
		c.removeElement(c.eviction.Back())
	}
}

// Delete evicts a key.
func (c *localCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Len returns the number of cached entries.
func (c *localCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eviction.Len()
}

// removeElement removes an element. Must be called with lock held.
func (c *localCache) removeElement(elem *list.Element) {
	if elem == nil {
		return
	}
	c.eviction.Remove(elem)
	delete(c.items, elem.Value.(*localCacheEntry).key)
}
