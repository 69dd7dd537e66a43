package frame

import (
	"testing"

	"spartan/kernel/errors"
	"spartan/kernel/mem"
)

func newTestAllocator(frames uint32) *Allocator {
	a := New()
	a.AddZone(NewZone(ClassLowMem, true, Frame(0), frames))
	return a
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := newTestAllocator(64)

	pfn, err := a.Alloc(4, 0)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if !pfn.IsValid() {
		t.Fatal("expected a valid frame")
	}

	before := a.FreeBytes()
	if err := a.Free(pfn, 4, 0); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	after := a.FreeBytes()
	if after <= before {
		t.Fatalf("expected FreeBytes to grow after Free: before=%d after=%d", before, after)
	}
}

func TestAllocExhaustion(t *testing.T) {
	a := newTestAllocator(8)

	// Drain the zone one page at a time.
	var allocated []Frame
	for i := 0; i < 8; i++ {
		pfn, err := a.Alloc(1, 0)
		if err != nil {
			t.Fatalf("Alloc #%d failed: %v", i, err)
		}
		allocated = append(allocated, pfn)
	}

	if _, err := a.Alloc(1, FlagAtomic); err == nil {
		t.Fatal("expected exhaustion to fail an atomic allocation")
	}

	for _, pfn := range allocated {
		if err := a.Free(pfn, 1, 0); err != nil {
			t.Fatalf("Free failed: %v", err)
		}
	}

	// After freeing everything the zone should have fully coalesced back
	// into a single maximal block, satisfying a full-zone request.
	if pfn, err := a.Alloc(8, 0); err != nil || !pfn.IsValid() {
		t.Fatalf("expected full coalesce to satisfy an 8-frame request, got pfn=%v err=%v", pfn, err)
	}
}

func TestAllocInvalidCount(t *testing.T) {
	a := newTestAllocator(16)

	if _, err := a.Alloc(3, 0); err == nil {
		t.Fatal("expected non-power-of-two count to fail")
	}
	if _, err := a.Alloc(0, 0); err == nil {
		t.Fatal("expected zero count to fail")
	}
}

func TestReclaimRetry(t *testing.T) {
	a := newTestAllocator(1)

	pfn, err := a.Alloc(1, 0)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	var reclaimed bool
	a.SetReclaimFn(func(all bool) {
		reclaimed = true
		if !all {
			t.Fatal("expected RECLAIM_ALL semantics (all=true)")
		}
		if err := a.Free(pfn, 1, 0); err != nil {
			t.Fatalf("reclaim-time Free failed: %v", err)
		}
	})

	if _, err := a.Alloc(1, 0); err != nil {
		t.Fatalf("expected retry after reclaim to succeed, got %v", err)
	}
	if !reclaimed {
		t.Fatal("expected reclaim hook to run on exhaustion")
	}
}

func TestAtomicNeverReclaims(t *testing.T) {
	a := newTestAllocator(1)
	if _, err := a.Alloc(1, 0); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	called := false
	a.SetReclaimFn(func(all bool) { called = true })

	if _, err := a.Alloc(1, FlagAtomic); err == nil {
		t.Fatal("expected atomic allocation to fail immediately on exhaustion")
	}
	if called {
		t.Fatal("expected FlagAtomic to skip the reclaim hook entirely")
	}
}

func TestReserve(t *testing.T) {
	a := newTestAllocator(4)
	a.SetReserve(2 * mem.PageSize)

	// Two frames are reachable before the reserve line is crossed.
	if _, err := a.Alloc(1, 0); err != nil {
		t.Fatalf("Alloc #1 failed: %v", err)
	}
	if _, err := a.Alloc(1, 0); err != nil {
		t.Fatalf("Alloc #2 failed: %v", err)
	}

	if _, err := a.Alloc(1, 0); err == nil {
		t.Fatal("expected the reserve to block a non-reserving allocation")
	}

	if pfn, err := a.Alloc(1, FlagNoReserve); err != nil || !pfn.IsValid() {
		t.Fatalf("expected FlagNoReserve to bypass the reserve, got pfn=%v err=%v", pfn, err)
	}
}

func TestReferenceAdd(t *testing.T) {
	a := newTestAllocator(1)
	pfn, err := a.Alloc(1, 0)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	if err := a.ReferenceAdd(pfn); err != nil {
		t.Fatalf("ReferenceAdd failed: %v", err)
	}

	// First Free only drops the refcount added above; the frame must
	// still be allocated.
	if err := a.Free(pfn, 1, 0); err != nil {
		t.Fatalf("first Free failed: %v", err)
	}
	if _, err := a.Alloc(1, FlagAtomic); err == nil {
		t.Fatal("expected the zone to still be exhausted after only one Free")
	}

	if err := a.Free(pfn, 1, 0); err != nil {
		t.Fatalf("second Free failed: %v", err)
	}
	if pfn2, err := a.Alloc(1, 0); err != nil || !pfn2.IsValid() {
		t.Fatalf("expected the frame to be free after both refs dropped, got pfn=%v err=%v", pfn2, err)
	}
}

func TestFreeUnknownFrame(t *testing.T) {
	a := newTestAllocator(4)
	if err := a.Free(Frame(0), 1, 0); err != errors.ErrNoEnt {
		t.Fatalf("expected ErrNoEnt for a never-allocated frame, got %v", err)
	}
}

func TestZoneClassMatching(t *testing.T) {
	a := New()
	a.AddZone(NewZone(ClassLowMem, true, Frame(0), 4))
	a.AddZone(NewZone(ClassHighMem, true, Frame(100), 4))

	pfn, err := a.Alloc(1, FlagHighMem)
	if err != nil {
		t.Fatalf("Alloc with FlagHighMem failed: %v", err)
	}
	if pfn < Frame(100) {
		t.Fatalf("expected FlagHighMem to be satisfied by the HIGHMEM zone, got pfn=%v", pfn)
	}
}

func TestUnavailableZoneNeverServes(t *testing.T) {
	a := New()
	a.AddZone(NewZone(ClassFirmware, false, Frame(0), 4))

	if _, err := a.Alloc(1, 0); err == nil {
		t.Fatal("expected an unavailable zone to never satisfy an allocation")
	}
}
