// Package slab implements the object-cache allocator from spec.md §4.2: a
// per-cache state machine with per-CPU magazines backed by frame.Allocator,
// generalized from HelenOS's slab_cache_t (original_source's
// generic/include/mm/slab.h) since the teacher (gopher-os) never reached a
// slab-allocator stage of its own early-boot memory manager.
package slab

import (
	"sync"

	"github.com/sirupsen/logrus"

	"spartan/kernel"
	"spartan/kernel/errors"
	"spartan/kernel/mem"
	"spartan/kernel/mem/frame"
)

// magSize is SLAB_MAG_SIZE from the original: the fixed number of object
// slots in one magazine.
const magSize = 4

// CacheFlags changes a cache's behavior (mirrors SLAB_CACHE_* in the
// original).
type CacheFlags uint8

const (
	// FlagNoMagazine disables the per-CPU magazine layer; every Alloc and
	// Free goes straight to the partial/full slab lists. Useful for
	// caches with very few live objects, where magazines would just
	// waste memory.
	FlagNoMagazine CacheFlags = 1 << iota
)

// ReclaimFlags controls how aggressively Manager.Reclaim drains a cache.
type ReclaimFlags uint8

const (
	// ReclaimAll additionally drops every per-CPU magazine, not just the
	// shared spare list, as spec §4.2 requires under memory stress.
	ReclaimAll ReclaimFlags = 1 << iota
)

type magazine struct {
	objs []interface{}
}

func newMagazine() *magazine { return &magazine{objs: make([]interface{}, 0, magSize)} }

func (m *magazine) full() bool  { return len(m.objs) == magSize }
func (m *magazine) empty() bool { return len(m.objs) == 0 }

func (m *magazine) push(obj interface{}) bool {
	if m.full() {
		return false
	}
	m.objs = append(m.objs, obj)
	return true
}

func (m *magazine) pop() (interface{}, bool) {
	if m.empty() {
		return nil, false
	}
	obj := m.objs[len(m.objs)-1]
	m.objs = m.objs[:len(m.objs)-1]
	return obj, true
}

type cpuMagCache struct {
	mu               sync.Mutex
	current, previous *magazine
}

type slabBlock struct {
	start frame.Frame
	order mem.PageOrder
	free  []interface{}
	inUse int
	total int
}

// Cache is one object cache: a fixed object size, an optional constructor
// and destructor run at slab-creation/destruction time, and the magazine +
// slab-list state machine spec §4.2 describes.
type Cache struct {
	name    string
	objSize mem.Size
	flags   CacheFlags

	newObj      func() interface{}
	constructor func(obj interface{})
	destructor  func(obj interface{})

	frames *frame.Allocator
	order  mem.PageOrder
	perSlab int

	mu           sync.Mutex
	partialSlabs []*slabBlock
	fullSlabs    []*slabBlock
	emptySlabs   []*slabBlock
	ownerOf      map[interface{}]*slabBlock
	sharedMags   []*magazine

	percpu []cpuMagCache

	allocatedSlabs int64
	allocatedObjs  int64
	cachedObjs     int64

	log *logrus.Entry
}

// NewCache creates a cache of objects of size objSize backed by frames,
// with numCPU per-CPU magazine slots. newObj must return a freshly
// allocated zero object of the cache's type; constructor/destructor may be
// nil.
func NewCache(name string, frames *frame.Allocator, objSize mem.Size, numCPU int, newObj func() interface{}, constructor, destructor func(interface{}), flags CacheFlags) *Cache {
	// order > 0 objects (larger than one page) get exactly one object
	// per slab, since (PageSize<<order)/objSize rounds to 1 either way.
	order := objSize.Order()
	perSlab := int((mem.PageSize << order) / objSize)
	if perSlab < 1 {
		perSlab = 1
	}

	c := &Cache{
		name:        name,
		objSize:     objSize,
		flags:       flags,
		newObj:      newObj,
		constructor: constructor,
		destructor:  destructor,
		frames:      frames,
		order:       order,
		perSlab:     perSlab,
		ownerOf:     make(map[interface{}]*slabBlock),
		percpu:      make([]cpuMagCache, numCPU),
		log:         logrus.WithField("component", "slab").WithField("cache", name),
	}
	return c
}

// Alloc returns one object from the cache, implementing spec §4.2's
// allocation state machine: per-CPU magazine, then shared magazine, then
// partial slab, then a freshly grown slab.
func (c *Cache) Alloc(cpu int, flags frame.Flags) (interface{}, *kernel.Error) {
	if c.flags&FlagNoMagazine == 0 {
		if obj, ok := c.allocFromMagazine(cpu); ok {
			return obj, nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocFromSlabLocked(flags)
}

// allocFromMagazine never holds cm.mu and c.mu at the same time, the same
// lock ordering Free uses: reclaim takes c.mu before each cm.mu, so holding
// both here at once would be the reverse order and could deadlock against
// it (spec §5 "nested lock acquisitions out of order are design bugs").
func (c *Cache) allocFromMagazine(cpu int) (interface{}, bool) {
	cm := &c.percpu[cpu]
	cm.mu.Lock()

	if cm.current == nil {
		cm.current = newMagazine()
	}
	if obj, ok := cm.current.pop(); ok {
		cm.mu.Unlock()
		return obj, true
	}

	if cm.previous != nil && !cm.previous.empty() {
		cm.current, cm.previous = cm.previous, cm.current
		if obj, ok := cm.current.pop(); ok {
			cm.mu.Unlock()
			return obj, true
		}
	}
	cm.mu.Unlock()

	c.mu.Lock()
	if n := len(c.sharedMags); n > 0 {
		m := c.sharedMags[n-1]
		c.sharedMags = c.sharedMags[:n-1]
		c.mu.Unlock()

		cm.mu.Lock()
		cm.current = m
		obj, ok := cm.current.pop()
		cm.mu.Unlock()
		return obj, ok
	}
	c.mu.Unlock()
	return nil, false
}

func (c *Cache) allocFromSlabLocked(flags frame.Flags) (interface{}, *kernel.Error) {
	if len(c.partialSlabs) == 0 {
		if err := c.growLocked(flags); err != nil {
			return nil, err
		}
	}

	s := c.partialSlabs[len(c.partialSlabs)-1]
	obj := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.inUse++
	c.allocatedObjs++

	if len(s.free) == 0 {
		c.partialSlabs = c.partialSlabs[:len(c.partialSlabs)-1]
		c.fullSlabs = append(c.fullSlabs, s)
	}
	return obj, nil
}

func (c *Cache) growLocked(flags frame.Flags) *kernel.Error {
	count := uint32(1) << c.order
	pfn, err := c.frames.Alloc(count, flags)
	if err != nil {
		return err
	}

	s := &slabBlock{start: pfn, order: c.order, total: c.perSlab}
	s.free = make([]interface{}, 0, c.perSlab)
	for i := 0; i < c.perSlab; i++ {
		obj := c.newObj()
		if c.constructor != nil {
			c.constructor(obj)
		}
		s.free = append(s.free, obj)
		c.ownerOf[obj] = s
	}

	c.partialSlabs = append(c.partialSlabs, s)
	c.allocatedSlabs++
	return nil
}

// Free returns obj to the cache, implementing spec §4.2's free path: the
// object lands in the calling CPU's current magazine, spilling to the
// shared list when that magazine fills.
func (c *Cache) Free(cpu int, obj interface{}) *kernel.Error {
	if c.flags&FlagNoMagazine == 0 {
		cm := &c.percpu[cpu]
		cm.mu.Lock()
		if cm.current == nil {
			cm.current = newMagazine()
		}
		if cm.current.push(obj) {
			cm.mu.Unlock()
			return nil
		}
		full := cm.current
		if cm.previous != nil && cm.previous.empty() {
			cm.current, cm.previous = cm.previous, full
		} else {
			cm.current = newMagazine()
			cm.previous = nil
		}
		cm.current.push(obj)
		cm.mu.Unlock()

		c.mu.Lock()
		c.sharedMags = append(c.sharedMags, full)
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.returnToSlabLocked(obj)
}

func (c *Cache) returnToSlabLocked(obj interface{}) *kernel.Error {
	s, ok := c.ownerOf[obj]
	if !ok {
		return errors.New("slab", errors.KindInval, "object does not belong to this cache")
	}

	wasFull := s.inUse == s.total
	s.free = append(s.free, obj)
	s.inUse--
	c.allocatedObjs--

	if wasFull {
		c.removeFrom(&c.fullSlabs, s)
		c.partialSlabs = append(c.partialSlabs, s)
	}
	if s.inUse == 0 {
		c.removeFrom(&c.partialSlabs, s)
		c.emptySlabs = append(c.emptySlabs, s)
	}
	return nil
}

func (c *Cache) removeFrom(list *[]*slabBlock, s *slabBlock) {
	for i, e := range *list {
		if e == s {
			(*list)[i] = (*list)[len(*list)-1]
			*list = (*list)[:len(*list)-1]
			return
		}
	}
}

// reclaim drains this cache per spec §4.2 slab_reclaim semantics and
// returns the number of frames released.
func (c *Cache) reclaim(flags ReclaimFlags) uint32 {
	c.mu.Lock()

	for _, m := range c.sharedMags {
		for _, obj := range m.objs {
			c.returnToSlabLocked(obj)
		}
	}
	c.sharedMags = nil

	if flags&ReclaimAll != 0 {
		for i := range c.percpu {
			cm := &c.percpu[i]
			cm.mu.Lock()
			for _, m := range []*magazine{cm.current, cm.previous} {
				if m == nil {
					continue
				}
				for _, obj := range m.objs {
					c.returnToSlabLocked(obj)
				}
			}
			cm.current, cm.previous = nil, nil
			cm.mu.Unlock()
		}
	}

	freed := c.emptySlabs
	c.emptySlabs = nil
	c.mu.Unlock()

	var frameCount uint32
	for _, s := range freed {
		for _, obj := range s.free {
			if c.destructor != nil {
				c.destructor(obj)
			}
			delete(c.ownerOf, obj)
		}
		n := uint32(1) << s.order
		if err := c.frames.Free(s.start, n, 0); err != nil {
			c.log.WithError(err).Warn("failed to release empty slab frames")
			continue
		}
		frameCount += n
	}
	if frameCount > 0 {
		c.log.WithField("frames", frameCount).Debug("slab reclaim released frames")
	}
	return frameCount
}
