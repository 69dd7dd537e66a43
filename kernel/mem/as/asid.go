package as

import (
	"math"
	"sync"

	"spartan/kernel/arch"
)

// ASID is an address-space identifier, tagging TLB entries so a context
// switch need not flush the whole TLB.
type ASID uint32

const (
	// ASIDKernel is permanently reserved for the kernel address space and
	// is never reassigned by Allocator.reassignLocked (spec §4.4).
	ASIDKernel ASID = 0
	// ASIDStart is the first ASID handed to a non-kernel address space.
	ASIDStart ASID = 1
)

// Allocator assigns ASIDs on a monotonic counter per generation. On
// overflow every live (non-kernel) address space is reassigned a fresh
// ASID and a global TLB invalidate is issued, per spec §4.4.
type Allocator struct {
	mu         sync.Mutex
	next       ASID
	wrapAt     ASID
	generation uint64
	spaces     []*AddressSpace
	arch       arch.Provider
}

// NewAllocator creates an ASID allocator that wraps at the full uint32
// range, the production default.
func NewAllocator(ar arch.Provider) *Allocator {
	return NewAllocatorWithWrapLimit(ar, ASID(math.MaxUint32))
}

// NewAllocatorWithWrapLimit creates an ASID allocator that wraps once next
// would reach wrapAt, instead of the full uint32 range. Tests use a small
// wrapAt to exercise the overflow-reassignment path deterministically.
func NewAllocatorWithWrapLimit(ar arch.Provider, wrapAt ASID) *Allocator {
	return &Allocator{next: ASIDStart, wrapAt: wrapAt, arch: ar}
}

// Register assigns as a fresh ASID and begins tracking it for future
// overflow reassignment. as is appended to a.spaces before the overflow
// check so that, when a wrap is needed, reassignLocked repacks it together
// with every already-tracked space in one pass instead of handing it
// whatever a.next was left at by repacking the others alone — which could
// run one past the intended in-range maximum (spec §4.4).
func (a *Allocator) Register(as *AddressSpace) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.spaces = append(a.spaces, as)

	if a.next >= a.wrapAt {
		a.reassignLocked()
		return
	}

	as.mu.Lock()
	as.asid = a.next
	as.mu.Unlock()

	a.next++
}

// reassignLocked resets the counter to ASIDStart and hands every tracked
// address space a fresh ASID, then issues a global TLB invalidate so no
// CPU keeps stale ASID-tagged entries around. ASIDKernel is untouched since
// the kernel address space is never tracked in a.spaces.
func (a *Allocator) reassignLocked() {
	a.generation++
	a.next = ASIDStart
	for _, s := range a.spaces {
		s.mu.Lock()
		s.asid = a.next
		s.mu.Unlock()
		a.next++
	}
	a.arch.InvalidateTLBAll()
}

// Generation reports how many times the ASID space has wrapped.
func (a *Allocator) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}
