package slab

import "sync"

// Manager tracks every live Cache so a single Reclaim call can walk all of
// them under memory pressure, mirroring the original's slab_cache_init plus
// its global cache list.
type Manager struct {
	mu     sync.Mutex
	caches []*Cache
}

// NewManager creates an empty cache registry.
func NewManager() *Manager { return &Manager{} }

// Register adds a cache to the set Reclaim walks. Caches are never
// unregistered; a cache that is no longer needed is simply never allocated
// from again, matching the original's lack of a cache-destroy call from the
// reclaim path.
func (m *Manager) Register(c *Cache) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, c)
}

// Reclaim walks every registered cache and drains it per flags, returning
// the total number of frames released. This is the function frame.Allocator
// wires in via SetReclaimFn, closing the reclaim-and-retry loop spec §4.1
// describes.
func (m *Manager) Reclaim(flags ReclaimFlags) uint32 {
	m.mu.Lock()
	caches := make([]*Cache, len(m.caches))
	copy(caches, m.caches)
	m.mu.Unlock()

	var total uint32
	for _, c := range caches {
		total += c.reclaim(flags)
	}
	return total
}
