package layout

import (
	"sync"

	"opal/internal/types"
)

type classEntry struct {
	slots []Slot
	bits  int64
	err   *Error
}

type arrayEntry struct {
	info ArrayInfo
	err  *Error
}

type cache struct {
	mu      sync.RWMutex
	classes map[types.ClassID]*classEntry
	arrays  map[types.ClassID]*arrayEntry
}

func newCache() *cache {
	return &cache{
		classes: make(map[types.ClassID]*classEntry, 64),
		arrays:  make(map[types.ClassID]*arrayEntry, 16),
	}
}

func (c *cache) class(id types.ClassID) (*classEntry, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.classes[id]
	return entry, ok
}

func (c *cache) putClass(id types.ClassID, entry *classEntry) {
	if c == nil || entry == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classes[id] = entry
}

func (c *cache) array(id types.ClassID) (*arrayEntry, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.arrays[id]
	return entry, ok
}

func (c *cache) putArray(id types.ClassID, entry *arrayEntry) {
	if c == nil || entry == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arrays[id] = entry
}
