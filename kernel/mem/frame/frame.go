// Package frame implements the physical frame allocator described in
// spec.md §4.1: a buddy allocator per memory zone, classified frames, and
// reservation accounting so transient kernel allocations cannot starve an
// emergency reserve. It generalizes the teacher's pmm.Frame type and
// allocator/bitmap_allocator.go pool structure into true per-order buddy
// tracking instead of a flat free bitmap.
package frame

import (
	"math"
	"math/bits"

	"spartan/kernel"
	"spartan/kernel/errors"
	"spartan/kernel/mem"
)

// Frame identifies a physical page frame by its page frame number, the same
// representation the teacher's pmm.Frame uses.
type Frame uint64

// InvalidFrame is returned by allocation paths that fail.
const InvalidFrame = Frame(math.MaxUint64)

// IsValid reports whether f is a real frame number.
func (f Frame) IsValid() bool { return f != InvalidFrame }

// Address returns the physical address of the start of f.
func (f Frame) Address() uintptr { return uintptr(f << mem.PageShift) }

// Flags constrains a frame_alloc/frame_free call (spec §4.1).
type Flags uint8

const (
	// FlagAtomic forbids sleeping or reclaiming; failure is immediate.
	FlagAtomic Flags = 1 << iota
	// FlagNoReclaim skips the slab-reclaim-and-retry step on failure.
	FlagNoReclaim
	// FlagNoReserve allows the allocation to dip into the emergency
	// reserve that would otherwise be protected for non-reserving callers.
	FlagNoReserve
	// FlagLowMem restricts the search to LOWMEM-class zones.
	FlagLowMem
	// FlagHighMem restricts the search to HIGHMEM-class zones.
	FlagHighMem
)

// Class tags the kind of physical range a Zone covers (spec §3 "Frame /
// Zone"). Class and a zone's Available bit are deliberately separate:
// firmware and bootloader-reserved ranges get a Class but are never
// available, matching the spec's "only AVAILABLE+mapping-class zones serve
// allocation" — resolved here as (Available == true) AND (Class matches
// LowMem/HighMem, when the caller asked for one).
type Class uint8

const (
	ClassLowMem Class = iota
	ClassHighMem
	ClassFirmware
	ClassReserved
)

var errInvalidCount = errors.New("frame", errors.KindInval, "frame count must be a nonzero power of two within MaxPageOrder")

func orderOf(count uint32) (mem.PageOrder, *kernel.Error) {
	if count == 0 || count&(count-1) != 0 {
		return 0, errInvalidCount
	}
	order := mem.PageOrder(bits.TrailingZeros32(count))
	if order > mem.MaxPageOrder {
		return 0, errInvalidCount
	}
	return order, nil
}
