package localcache

import "container/list"

// evictOldest removes the least recently used entry once maxEntries is
// exceeded. Caller must hold c.mu.
func (c *Cache) evictOldest() {
	elem := c.lru.Back()
	if elem != nil {
		c.removeElement(elem)
		c.stats.Evictions++
	}
}

// removeElement removes e from both the LRU list and the map. Caller must
// hold c.mu. Used by eviction, lazy expiration, and active expiration so
// the two structures never drift out of sync.
func (c *Cache) removeElement(e *list.Element) {
	c.lru.Remove(e)
	it := e.Value.(*item)
	delete(c.data, it.key)
}
