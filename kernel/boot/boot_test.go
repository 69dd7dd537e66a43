package boot

import (
	"context"
	"testing"
	"time"

	"spartan/kernel/mem/frame"
)

func testZones() []ZoneSpec {
	return []ZoneSpec{
		{Class: frame.ClassLowMem, Available: true, StartPFN: 0, Frames: 64},
	}
}

func TestNewSeedsFrameAllocator(t *testing.T) {
	sys := New(2, testZones())

	pfn, err := sys.Frames.Alloc(1, 0)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if !pfn.IsValid() {
		t.Fatal("expected a valid frame from a seeded zone")
	}
}

func TestStartStopsCleanlyOnCancel(t *testing.T) {
	sys := New(2, testZones())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := sys.Start(ctx); err != nil {
		t.Fatalf("Start returned an error: %v", err)
	}
}

func TestNumCPUReportsConstructorValue(t *testing.T) {
	sys := New(4, testZones())
	if sys.NumCPU() != 4 {
		t.Fatalf("expected NumCPU 4, got %d", sys.NumCPU())
	}
}
