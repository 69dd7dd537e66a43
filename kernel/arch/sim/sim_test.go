package sim

import (
	"sync"
	"testing"
	"time"

	"spartan/kernel/arch"
)

func TestIPL(t *testing.T) {
	s := New(2)

	prev := s.RaiseIPL(0, arch.IPLTimer)
	if prev != arch.IPLLow {
		t.Fatalf("expected previous IPL %v, got %v", arch.IPLLow, prev)
	}

	prev = s.RaiseIPL(0, arch.IPLHigh)
	if prev != arch.IPLTimer {
		t.Fatalf("expected previous IPL %v, got %v", arch.IPLTimer, prev)
	}

	// Raising to a lower level than current must not lower it.
	prev = s.RaiseIPL(0, arch.IPLLow)
	if prev != arch.IPLHigh {
		t.Fatalf("expected RaiseIPL to no-op below current level, got prev %v", prev)
	}

	s.LowerIPL(0, arch.IPLLow)
	prev = s.RaiseIPL(0, arch.IPLTimer)
	if prev != arch.IPLLow {
		t.Fatalf("expected IPL to be restored to %v, got %v", arch.IPLLow, prev)
	}

	// CPU 1 must be unaffected by CPU 0's IPL.
	if prev := s.RaiseIPL(1, arch.IPLLow); prev != arch.IPLLow {
		t.Fatalf("expected cpu 1 to start at %v, got %v", arch.IPLLow, prev)
	}
}

func TestContextSaveRestore(t *testing.T) {
	s := New(1)

	var resumed bool
	slot := &arch.ContextSlot{Resume: func() { resumed = true }}

	s.SaveContext(0, slot)
	s.RestoreContext(0, slot)

	if !resumed {
		t.Fatal("expected RestoreContext to invoke slot.Resume")
	}
}

func TestMapping(t *testing.T) {
	s := New(1)
	root := arch.PTRoot(1)

	if _, _, ok := s.Translate(root, 0x1000); ok {
		t.Fatal("expected no mapping before WriteMapping")
	}

	s.WriteMapping(root, 0x1000, 0x2000, 0x7)
	pa, flags, ok := s.Translate(root, 0x1000)
	if !ok || pa != 0x2000 || flags != 0x7 {
		t.Fatalf("got (%#x, %#x, %v), want (0x2000, 0x7, true)", pa, flags, ok)
	}

	s.ClearMapping(root, 0x1000)
	if _, _, ok := s.Translate(root, 0x1000); ok {
		t.Fatal("expected mapping to be gone after ClearMapping")
	}

	// Invalidate calls must not panic even with nothing cached.
	s.InvalidateTLB(root, 0x1000)
	s.InvalidateTLBAll()
}

func TestOnTickAndSendIPI(t *testing.T) {
	s := New(1)
	defer s.StopTicks()

	var (
		mu       sync.Mutex
		ticks    int
		ipiFired bool
	)
	s.OnTick(0, func() {
		mu.Lock()
		ticks++
		mu.Unlock()
	})

	s.SendIPI(0, func() { ipiFired = true })

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := ticks
		mu.Unlock()
		if n > 0 && ipiFired {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected at least one tick and the IPI to fire within 1s")
}

func TestNumCPU(t *testing.T) {
	if got := New(4).NumCPU(); got != 4 {
		t.Fatalf("expected NumCPU() == 4, got %d", got)
	}
	if got := New(0).NumCPU(); got != 1 {
		t.Fatalf("expected NumCPU() to default to 1, got %d", got)
	}
}
