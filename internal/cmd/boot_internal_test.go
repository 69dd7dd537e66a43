package cmd

import (
	"testing"

	"spartan/internal/config"
	"spartan/kernel/mem/frame"
)

func TestBootZonesTranslatesKnownClasses(t *testing.T) {
	specs, err := bootZones([]config.Zone{
		{Class: "lowmem", Available: true, StartPFN: 0, Frames: 64},
		{Class: "highmem", Available: false, StartPFN: 64, Frames: 32},
	})
	if err != nil {
		t.Fatalf("bootZones failed: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs[0].Class != frame.ClassLowMem || specs[1].Class != frame.ClassHighMem {
		t.Fatalf("unexpected class mapping: %+v", specs)
	}
}

func TestBootZonesRejectsUnknownClass(t *testing.T) {
	if _, err := bootZones([]config.Zone{{Class: "weird"}}); err == nil {
		t.Fatal("expected an unknown zone class to be rejected")
	}
}
