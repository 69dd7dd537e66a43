package as

import (
	"testing"

	"spartan/kernel/arch"
	"spartan/kernel/arch/sim"
)

func TestAllocatorAssignsIncreasingASIDs(t *testing.T) {
	s := sim.New(1)
	alloc := NewAllocator(s)

	a1 := New(s, arch.PTRoot(1))
	a2 := New(s, arch.PTRoot(2))
	alloc.Register(a1)
	alloc.Register(a2)

	if a1.ASID() == a2.ASID() {
		t.Fatal("expected distinct ASIDs")
	}
	if a1.ASID() == ASIDKernel || a2.ASID() == ASIDKernel {
		t.Fatal("expected non-kernel address spaces to never receive ASIDKernel")
	}
}

func TestAllocatorReassignsOnOverflow(t *testing.T) {
	s := sim.New(1)
	alloc := NewAllocatorWithWrapLimit(s, ASID(3))

	spaces := make([]*AddressSpace, 4)
	for i := range spaces {
		spaces[i] = New(s, arch.PTRoot(i+1))
		alloc.Register(spaces[i])
	}

	// The fourth registration should have triggered a wrap, so no two
	// spaces should collide and generation should have advanced.
	seen := make(map[ASID]bool)
	for _, sp := range spaces {
		if seen[sp.ASID()] {
			t.Fatalf("expected unique ASIDs after reassignment, got duplicate %d", sp.ASID())
		}
		seen[sp.ASID()] = true
	}
	if alloc.Generation() == 0 {
		t.Fatal("expected the generation counter to advance after an overflow")
	}
}
