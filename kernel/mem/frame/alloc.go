package frame

import (
	"sync"

	"github.com/sirupsen/logrus"

	"spartan/kernel"
	"spartan/kernel/errors"
	"spartan/kernel/mem"
)

// Allocator is the top-level physical frame allocator: a list of zones plus
// the reservation accounting and reclaim-and-retry policy from spec §4.1.
// The zero value is usable; zones are added with AddZone.
type Allocator struct {
	// listMu is the "global zone-list lock" spec §5 requires be acquired
	// before any zone lock. It is only ever held while reading/appending
	// the zones slice, never while a zone lock is also held, so the two
	// locks are never nested in a way that could deadlock against the
	// opposite order.
	listMu sync.Mutex
	zones  []*Zone

	reserve mem.Size

	// reclaimFn is invoked with all=true for RECLAIM_ALL before a second
	// allocation attempt; wired to slab.Manager.Reclaim by boot.New. A
	// nil reclaimFn means failures never retry.
	reclaimFn func(all bool)

	memory *Memory

	log *logrus.Entry
}

// New creates an empty allocator. Call AddZone for each zone discovered at
// boot before serving any Alloc calls.
func New() *Allocator {
	return &Allocator{log: logrus.WithField("component", "frame"), memory: NewMemory()}
}

// Memory returns the simulated physical RAM backing this allocator's
// frames, letting callers observe the bytes a mapped page actually holds.
func (a *Allocator) Memory() *Memory {
	return a.memory
}

// AddZone registers z with the allocator. Zones are appended in discovery
// order and never removed (spec §3: "Zones are created at boot, never
// destroyed").
func (a *Allocator) AddZone(z *Zone) {
	a.listMu.Lock()
	defer a.listMu.Unlock()
	a.zones = append(a.zones, z)
	a.log.WithFields(logrus.Fields{
		"class":     z.class,
		"available": z.available,
		"frames":    z.count,
	}).Info("zone registered")
}

// SetReserve configures the emergency reserve: Alloc calls that lack
// FlagNoReserve fail once satisfying them would leave fewer than size bytes
// free across all zones combined.
func (a *Allocator) SetReserve(size mem.Size) {
	a.reserve = size
}

// SetReclaimFn wires the slab-reclaim hook invoked between a failed and a
// retried allocation, unless FlagAtomic or FlagNoReclaim is set.
func (a *Allocator) SetReclaimFn(fn func(all bool)) {
	a.reclaimFn = fn
}

func (a *Allocator) snapshotZones() []*Zone {
	a.listMu.Lock()
	defer a.listMu.Unlock()
	out := make([]*Zone, len(a.zones))
	copy(out, a.zones)
	return out
}

func (a *Allocator) freeBytes(zones []*Zone) mem.Size {
	var total mem.Size
	for _, z := range zones {
		total += z.freeBytes()
	}
	return total
}

// Alloc allocates count (a power of two) contiguous frames matching flags,
// implementing spec §4.1's frame_alloc. On exhaustion it invokes the
// reclaim hook and retries once, unless FlagAtomic or FlagNoReclaim forbids
// it, in which case failure is immediate.
func (a *Allocator) Alloc(count uint32, flags Flags) (Frame, *kernel.Error) {
	order, err := orderOf(count)
	if err != nil {
		return InvalidFrame, err
	}

	need := mem.PageSize << order
	zones := a.snapshotZones()

	for attempt := 0; ; attempt++ {
		if flags&FlagNoReserve == 0 && a.freeBytes(zones) < a.reserve+need {
			// Not enough headroom past the reserve; treat like
			// exhaustion so the same reclaim/retry path applies.
		} else {
			for _, z := range zones {
				if !z.matches(flags) {
					continue
				}
				if pfn, ok := z.alloc(order); ok {
					return pfn, nil
				}
			}
		}

		if attempt > 0 || flags&FlagAtomic != 0 || flags&FlagNoReclaim != 0 || a.reclaimFn == nil {
			break
		}
		a.reclaimFn(true)
	}

	return InvalidFrame, errors.ErrNoMem
}

// Free returns count frames starting at pfn (spec §4.1 frame_free),
// coalescing with the buddy block once the allocation's refcount reaches
// zero. Flags is accepted for API symmetry with Alloc; no flag currently
// changes Free's behavior.
func (a *Allocator) Free(pfn Frame, count uint32, flags Flags) *kernel.Error {
	_, err := orderOf(count)
	if err != nil {
		return err
	}

	for _, z := range a.snapshotZones() {
		if pfn < z.start || pfn >= z.start+Frame(z.count) {
			continue
		}
		if _, _, ok := z.free(pfn); ok {
			return nil
		}
		return errors.ErrNoEnt
	}
	return errors.ErrNoEnt
}

// ReferenceAdd increments the refcount of the allocation headed at pfn,
// implementing spec §4.1 frame_reference_add for backends that share
// physical frames across address spaces.
func (a *Allocator) ReferenceAdd(pfn Frame) *kernel.Error {
	for _, z := range a.snapshotZones() {
		if pfn < z.start || pfn >= z.start+Frame(z.count) {
			continue
		}
		return z.refAdd(pfn)
	}
	return errors.ErrNoEnt
}

// FreeBytes reports the total currently-free memory across every zone; used
// by tests and by the slab allocator's reclaim-pressure decision.
func (a *Allocator) FreeBytes() mem.Size {
	return a.freeBytes(a.snapshotZones())
}
