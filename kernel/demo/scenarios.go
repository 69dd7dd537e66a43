// Package demo runs the six end-to-end scenarios from spec.md §8 against
// the real kernel/* packages, each built and torn down standalone rather
// than against a shared boot.System, mirroring how the teacher's own
// mem_test.go and vmm_test.go each construct just the allocator state one
// scenario needs. cmd/spartanctl's demo subcommand is a thin cobra wrapper
// around these functions; the behavior they exercise lives here so it can
// be unit-tested without going through the CLI.
package demo

import (
	"context"
	"fmt"

	"spartan/kernel"
	"spartan/kernel/arch"
	"spartan/kernel/arch/sim"
	"spartan/kernel/errors"
	"spartan/kernel/ipc"
	"spartan/kernel/mem"
	"spartan/kernel/mem/as"
	"spartan/kernel/mem/frame"
	"spartan/kernel/mem/slab"
)

// IPCRoundTripResult reports the outcome of the IPC roundtrip scenario.
type IPCRoundTripResult struct {
	Retval uint64
	Arg1   uint64
}

// IPCRoundTrip implements spec §8 scenario 1: task A sends (imethod=2000,
// arg1=7) over a phone; task B receives it and answers (retval=0, arg1=14);
// A's call returns OK with arg1 14.
func IPCRoundTrip(ctx context.Context) (*IPCRoundTripResult, *kernel.Error) {
	callerBox := ipc.NewAnswerbox()
	targetBox := ipc.NewAnswerbox()
	phone := ipc.Connect(targetBox)

	type reply struct {
		args ipc.Args
		err  *kernel.Error
	}
	done := make(chan reply, 1)
	go func() {
		args, err := phone.CallSync(ctx, callerBox, ipc.Args{IMethod: 2000, Arg1: 7})
		done <- reply{args, err}
	}()

	call, err := targetBox.Receive(ctx, 0)
	if err != nil {
		return nil, err
	}
	if call.Args().IMethod != 2000 || call.Args().Arg1 != 7 {
		return nil, errors.New("demo", errors.KindInval, "call did not arrive with the expected args")
	}
	if err := targetBox.Answer(call, ipc.Args{Arg1: 14}); err != nil {
		return nil, err
	}

	r := <-done
	if r.err != nil {
		return nil, r.err
	}
	return &IPCRoundTripResult{Retval: r.args.IMethod, Arg1: r.args.Arg1}, nil
}

// HangupResult reports how many pending calls were unblocked by a hangup.
type HangupResult struct {
	CallsUnblocked int
	AllHadHangup   bool
}

// HangupUnblocksCallers implements spec §8 scenario 2: 3 synchronous calls
// in flight on one phone; hanging it up must complete every one with
// HANGUP.
func HangupUnblocksCallers(ctx context.Context) (*HangupResult, *kernel.Error) {
	callerBox := ipc.NewAnswerbox()
	targetBox := ipc.NewAnswerbox()
	phone := ipc.Connect(targetBox)

	const n = 3
	errs := make(chan *kernel.Error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := phone.CallSync(ctx, callerBox, ipc.Args{IMethod: 1})
			errs <- err
		}()
	}

	for i := 0; i < n; i++ {
		if _, err := targetBox.Receive(ctx, 0); err != nil {
			return nil, err
		}
	}

	phone.Hangup()

	allHangup := true
	for i := 0; i < n; i++ {
		if err := <-errs; err == nil || err.Kind != string(errors.KindHangup) {
			allHangup = false
		}
	}
	return &HangupResult{CallsUnblocked: n, AllHadHangup: allHangup}, nil
}

// DemandPagingResult reports the physical address the faulting page
// resolved to and the byte values observed at each step, exercising spec
// §8 scenario 3's literal read-zero/write/read-back sequence against the
// frame allocator's simulated RAM.
type DemandPagingResult struct {
	ReadFaultPA    uintptr
	WriteFaultPA   uintptr
	InitialByte    byte
	ByteAfterWrite byte
}

// DemandPaging implements spec §8 scenario 3: a 4-page anonymous area gets
// its first page resolved by a read fault (observed zero, the anonymous
// backend's zero-fill-on-demand guarantee), a byte is stored into it, and a
// second fault at the same address for a write access resolves to the same
// page — not a fresh one — so the stored byte is still there to read back.
func DemandPaging() (*DemandPagingResult, *kernel.Error) {
	s := sim.New(1)
	frames := frame.New()
	frames.AddZone(frame.NewZone(frame.ClassLowMem, true, frame.Frame(0), 64))
	space := as.New(s, arch.PTRoot(1))

	const base = 0x40000000
	if _, err := space.AddArea(base, 4*uintptr(mem.PageSize), as.AreaRead|as.AreaWrite, &as.AnonymousBackend{Frames: frames}); err != nil {
		return nil, err
	}

	const addr = base + 0xabc
	pageAddr := addr &^ (uintptr(mem.PageSize) - 1)

	if err := space.HandleFault(addr, as.AccessRead); err != nil {
		return nil, err
	}
	readPA, _, _ := s.Translate(space.Root(), pageAddr)
	initial := frames.Memory().ReadByte(readPA)

	frames.Memory().WriteByte(readPA, 0xAB)

	if err := space.HandleFault(addr, as.AccessWrite); err != nil {
		return nil, err
	}
	writePA, _, _ := s.Translate(space.Root(), pageAddr)

	return &DemandPagingResult{
		ReadFaultPA:    readPA,
		WriteFaultPA:   writePA,
		InitialByte:    initial,
		ByteAfterWrite: frames.Memory().ReadByte(writePA),
	}, nil
}

// TLBShootdownResult reports whether every other CPU's translation for V
// was gone once the shootdown finished.
type TLBShootdownResult struct {
	AllCPUsCleared bool
}

// TLBShootdown implements spec §8 scenario 4: CPU0 unmaps page V in an
// address space active on every CPU, then drives the real Start/receive/
// finalize shootdown sequence across numCPU-1 peers before checking that V
// no longer translates. The simulated page table in kernel/arch/sim is a
// single shared map rather than one per CPU, so "every CPU reports no
// entry" collapses to one post-shootdown Translate check against that
// shared table; what the scenario actually exercises is that Start's IPI
// fan-out and acknowledgment wait complete correctly across multiple peers.
func TLBShootdown() (*TLBShootdownResult, *kernel.Error) {
	const numCPU = 3
	s := sim.New(numCPU)
	frames := frame.New()
	frames.AddZone(frame.NewZone(frame.ClassLowMem, true, frame.Frame(0), 64))
	space := as.New(s, arch.PTRoot(1))

	const v = 0x50000000
	if _, err := space.AddArea(v, uintptr(mem.PageSize), as.AreaRead|as.AreaWrite, &as.AnonymousBackend{Frames: frames}); err != nil {
		return nil, err
	}
	if err := space.HandleFault(v, as.AccessRead); err != nil {
		return nil, err
	}

	// Peers only drain their IPI channel once a tick loop is running for
	// them; give CPUs 1 and 2 one each so Start's fan-out can be serviced.
	for cpu := 1; cpu < numCPU; cpu++ {
		s.OnTick(cpu, func() {})
	}
	defer s.StopTicks()

	sd := as.NewShootdown(s, 8)
	s.ClearMapping(space.Root(), v)
	sd.Start(0, space.Root(), v, 1)

	cleared := true
	if _, _, ok := s.Translate(space.Root(), v); ok {
		cleared = false
	}
	return &TLBShootdownResult{AllCPUsCleared: cleared}, nil
}

// SlabReclaimResult reports the exhaustion/recovery trace.
type SlabReclaimResult struct {
	ExhaustedFirst  bool
	FreedFrames     uint32
	SucceededAfter  bool
}

// SlabReclaim implements spec §8 scenario 5: allocate frames until
// frame_alloc(ATOMIC) returns NOMEM; call slab_reclaim(ALL); the next
// frame_alloc(ATOMIC) of equal order succeeds because reclaim freed
// slab-held frames.
func SlabReclaim() (*SlabReclaimResult, *kernel.Error) {
	frames := frame.New()
	const zoneFrames = 4
	frames.AddZone(frame.NewZone(frame.ClassLowMem, true, frame.Frame(0), zoneFrames))

	manager := slab.NewManager()
	frames.SetReclaimFn(func(all bool) {
		flags := slab.ReclaimFlags(0)
		if all {
			flags = slab.ReclaimAll
		}
		manager.Reclaim(flags)
	})

	cache := slab.NewCache("demo-objs", frames, mem.PageSize, 1,
		func() interface{} { return new([4096]byte) }, nil, nil, slab.FlagNoMagazine)
	manager.Register(cache)

	var held []interface{}
	for i := 0; i < zoneFrames; i++ {
		obj, err := cache.Alloc(0, 0)
		if err != nil {
			return nil, err
		}
		held = append(held, obj)
	}

	_, exhaustedErr := frames.Alloc(1, frame.FlagAtomic)
	exhausted := exhaustedErr != nil

	for _, obj := range held {
		if err := cache.Free(0, obj); err != nil {
			return nil, err
		}
	}

	freed := manager.Reclaim(slab.ReclaimAll)

	_, err := frames.Alloc(1, frame.FlagAtomic)
	succeeded := err == nil

	return &SlabReclaimResult{ExhaustedFirst: exhausted, FreedFrames: freed, SucceededAfter: succeeded}, nil
}

// ASIDOverflowResult reports the reassignment trace.
type ASIDOverflowResult struct {
	SpacesCreated   int
	GenerationAfter uint64
	KernelASIDKept  bool
}

// ASIDOverflow implements spec §8 scenario 6: create ASID_OVERFLOW -
// ASID_START + 1 address spaces; the last creation triggers global
// reassignment; every live as gets a new ASID and the kernel as is
// untouched. The allocator issues InvalidateTLBAll on the wrap, but the sim
// provider keeps no record of it, so the result does not report whether a
// system-wide TLB flush happened. A small wrap limit stands in for
// ASID_OVERFLOW so the scenario runs in milliseconds rather than creating
// billions of address spaces.
func ASIDOverflow() (*ASIDOverflowResult, *kernel.Error) {
	const wrapAt = as.ASID(8)
	s := sim.New(1)
	alloc := as.NewAllocatorWithWrapLimit(s, wrapAt)

	kernelSpace := as.New(s, arch.PTRoot(0))

	n := int(wrapAt - as.ASIDStart + 1)
	spaces := make([]*as.AddressSpace, 0, n)
	for i := 0; i < n; i++ {
		sp := as.New(s, arch.PTRoot(uint64(i+1)))
		alloc.Register(sp)
		spaces = append(spaces, sp)
	}

	return &ASIDOverflowResult{
		SpacesCreated:   n,
		GenerationAfter: alloc.Generation(),
		KernelASIDKept:  kernelSpace.ASID() == as.ASIDKernel,
	}, nil
}

// Run looks up a scenario by name and executes it, returning a
// human-readable summary. Used by cmd/spartanctl's demo subcommand.
func Run(ctx context.Context, name string) (string, *kernel.Error) {
	switch name {
	case "ipc-roundtrip":
		r, err := IPCRoundTrip(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("call answered: retval=%d arg1=%d", r.Retval, r.Arg1), nil

	case "hangup":
		r, err := HangupUnblocksCallers(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("unblocked %d calls, all with HANGUP: %v", r.CallsUnblocked, r.AllHadHangup), nil

	case "demand-paging":
		r, err := DemandPaging()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("pa=%#x, initial byte=%#x, byte after write=%#x (same page on re-fault: %v)",
			r.ReadFaultPA, r.InitialByte, r.ByteAfterWrite, r.ReadFaultPA == r.WriteFaultPA), nil

	case "tlb-shootdown":
		r, err := TLBShootdown()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("all CPUs cleared: %v", r.AllCPUsCleared), nil

	case "slab-reclaim":
		r, err := SlabReclaim()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("exhausted first: %v, freed %d frames on reclaim, succeeded after: %v",
			r.ExhaustedFirst, r.FreedFrames, r.SucceededAfter), nil

	case "asid-overflow":
		r, err := ASIDOverflow()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("created %d spaces, generation now %d, kernel ASID kept: %v",
			r.SpacesCreated, r.GenerationAfter, r.KernelASIDKept), nil

	default:
		return "", errors.New("demo", errors.KindInval, fmt.Sprintf("unknown scenario %q", name))
	}
}

// Scenarios lists every valid demo name, for cobra's argument validation
// and help text.
var Scenarios = []string{
	"ipc-roundtrip",
	"hangup",
	"demand-paging",
	"tlb-shootdown",
	"slab-reclaim",
	"asid-overflow",
}
