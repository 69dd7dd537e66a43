package frame

import (
	"sync"

	"spartan/kernel"
	"spartan/kernel/errors"
	"spartan/kernel/mem"
)

type allocation struct {
	order    mem.PageOrder
	refcount uint32
}

// Zone owns a contiguous run of physical frames and runs its own buddy
// allocator over them, per spec §3 "Frame / Zone". Zone locks are always
// acquired without holding any other zone's lock (spec §5 locking
// discipline); Allocator is responsible for never nesting two zone locks.
type Zone struct {
	class     Class
	available bool

	start Frame
	count uint32

	mu         sync.Mutex
	freeLists  [][]Frame
	allocated  map[Frame]*allocation
	freeFrames uint32
}

// NewZone creates a zone covering count frames starting at start, classified
// as class. Zones are created once at boot and never destroyed (spec §3);
// Allocator.AddZone is the only place new zones enter the system.
func NewZone(class Class, available bool, start Frame, count uint32) *Zone {
	z := &Zone{
		class:     class,
		available: available,
		start:     start,
		count:     count,
		freeLists: make([][]Frame, mem.MaxPageOrder+1),
		allocated: make(map[Frame]*allocation),
	}
	z.seedFreeLists()
	return z
}

// seedFreeLists partitions the zone's frame run into the coarsest possible
// power-of-two, alignment-respecting blocks, the same greedy strategy any
// buddy allocator uses to bootstrap its free lists from a flat range.
func (z *Zone) seedFreeLists() {
	var pos uint32
	for pos < z.count {
		order := mem.MaxPageOrder
		for order > 0 {
			blockSize := uint32(1) << order
			if pos%blockSize == 0 && pos+blockSize <= z.count {
				break
			}
			order--
		}
		z.pushFree(order, z.start+Frame(pos))
		pos += uint32(1) << order
		z.freeFrames += uint32(1) << order
	}
}

func (z *Zone) pushFree(order mem.PageOrder, head Frame) {
	z.freeLists[order] = append(z.freeLists[order], head)
}

// popFree removes and returns head from freeLists[order], reporting whether
// it was found.
func (z *Zone) popFree(order mem.PageOrder, head Frame) bool {
	list := z.freeLists[order]
	for i, f := range list {
		if f == head {
			list[i] = list[len(list)-1]
			z.freeLists[order] = list[:len(list)-1]
			return true
		}
	}
	return false
}

func (z *Zone) matches(flags Flags) bool {
	if !z.available {
		return false
	}
	wantsLow := flags&FlagLowMem != 0
	wantsHigh := flags&FlagHighMem != 0
	if !wantsLow && !wantsHigh {
		return true
	}
	if wantsLow && z.class == ClassLowMem {
		return true
	}
	if wantsHigh && z.class == ClassHighMem {
		return true
	}
	return false
}

// alloc performs a buddy allocation at the given order, splitting a coarser
// free block if necessary. It returns InvalidFrame, false when the zone has
// no block of sufficient order available.
func (z *Zone) alloc(order mem.PageOrder) (Frame, bool) {
	z.mu.Lock()
	defer z.mu.Unlock()

	found := -1
	for o := int(order); o <= int(mem.MaxPageOrder); o++ {
		if len(z.freeLists[o]) > 0 {
			found = o
			break
		}
	}
	if found < 0 {
		return InvalidFrame, false
	}

	head := z.freeLists[found][len(z.freeLists[found])-1]
	z.freeLists[found] = z.freeLists[found][:len(z.freeLists[found])-1]

	// Split the block down to the requested order, pushing each freed
	// buddy half back onto its own order's free list.
	for o := found; o > int(order); o-- {
		half := uint32(1) << (o - 1)
		buddy := head + Frame(half)
		z.pushFree(mem.PageOrder(o-1), buddy)
	}

	z.allocated[head] = &allocation{order: order, refcount: 1}
	z.freeFrames -= uint32(1) << order
	return head, true
}

// release returns an allocation whose refcount has reached zero to the
// buddy tree, coalescing with the buddy block as long as it is free and of
// the same order (spec §4.1 frame_free).
func (z *Zone) release(head Frame, order mem.PageOrder) {
	z.mu.Lock()
	defer z.mu.Unlock()

	z.freeFrames += uint32(1) << order

	for order < mem.MaxPageOrder {
		rel := uint64(head - z.start)
		blockSize := uint64(1) << order
		buddyRel := rel ^ blockSize
		if buddyRel+blockSize > uint64(z.count) {
			break
		}
		buddy := z.start + Frame(buddyRel)
		if !z.popFree(order, buddy) {
			break
		}
		if buddy < head {
			head = buddy
		}
		order++
	}
	z.pushFree(order, head)
}

// refAdd increments the refcount of the allocation headed at pfn.
func (z *Zone) refAdd(pfn Frame) *kernel.Error {
	z.mu.Lock()
	defer z.mu.Unlock()

	a, ok := z.allocated[pfn]
	if !ok {
		return errors.ErrNoEnt
	}
	a.refcount++
	return nil
}

// free decrements the refcount of the allocation headed at pfn, releasing
// it to the buddy tree once the refcount reaches zero. It reports whether
// pfn was a live allocation in this zone at all.
func (z *Zone) free(pfn Frame) (released bool, order mem.PageOrder, ok bool) {
	z.mu.Lock()
	a, found := z.allocated[pfn]
	if !found {
		z.mu.Unlock()
		return false, 0, false
	}
	a.refcount--
	order = a.order
	if a.refcount == 0 {
		delete(z.allocated, pfn)
	}
	released = a.refcount == 0
	z.mu.Unlock()

	if released {
		z.release(pfn, order)
	}
	return released, order, true
}

func (z *Zone) freeBytes() mem.Size {
	z.mu.Lock()
	defer z.mu.Unlock()
	return mem.Size(z.freeFrames) * mem.PageSize
}
