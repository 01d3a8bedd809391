package cache

import (
	"container/list"
	"sync"
)

type entry struct {
	key   TileKey
	value []byte
}

// MemoryCache implements in-memory LRU cache
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[TileKey]*list.Element
	lruList *list.List
}

// NewMemoryCache creates a new in-memory LRU cache
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &MemoryCache{
		maxSize: maxSize,
		items:   make(map[TileKey]*list.Element),
		lruList: list.New(),
	}
}

// Get promotes the entry, so it takes the write lock.
func (c *MemoryCache) Get(key TileKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	c.lruList.MoveToFront(elem)
	return elem.Value.(*entry).value, true
}

func (c *MemoryCache) Set(key TileKey, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry).value = value
		c.lruList.MoveToFront(elem)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		oldest := c.lruList.Back()
		if oldest != nil {
			delete(c.items, oldest.Value.(*entry).key)
			c.lruList.Remove(oldest)
		}
	}

	ent := &entry{key: key, value: value}
	elem := c.lruList.PushFront(ent)
	c.items[key] = elem
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lruList.Len()
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[TileKey]*list.Element)
	c.lruList = list.New()
}
