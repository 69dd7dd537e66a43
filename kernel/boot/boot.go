// Package boot assembles the kernel's components into one running System,
// the hosted-simulation analogue of the teacher's kernel/kmain.Kmain: a
// short, strictly ordered sequence of Init-style steps (frame allocator,
// then slab manager, then scheduler). New has no failure path of its own;
// Start returns the first error any of its per-CPU goroutines reports.
package boot

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"spartan/kernel"
	"spartan/kernel/arch"
	"spartan/kernel/arch/sim"
	"spartan/kernel/mem/frame"
	"spartan/kernel/mem/slab"
	"spartan/kernel/sched"
	"spartan/kernel/thread"
)

// ZoneSpec seeds one physical memory zone into the frame allocator at boot,
// the hosted equivalent of the memory map the teacher's multiboot.Init
// reads from the bootloader.
type ZoneSpec struct {
	Class     frame.Class
	Available bool
	StartPFN  frame.Frame
	Frames    uint32
}

// System holds every long-lived component a booted kernel needs: the arch
// seam, frame allocator, slab manager, scheduler, and the per-CPU reaper
// lanes. Tasks, threads, and IPC endpoints are created against it by
// whatever demo scenario runs next; System itself does not hold any.
type System struct {
	Arch      arch.Provider
	Frames    *frame.Allocator
	Slabs     *slab.Manager
	Scheduler *sched.Scheduler
	Reaper    *thread.Reaper

	numCPU int
	log    *logrus.Entry
}

// New builds a System over numCPU simulated CPUs, seeding the frame
// allocator with zones and wiring frame reclaim through to the slab
// manager (spec §4.1 "reclaim-and-retry"; spec §4.2 "slab_reclaim walks all
// caches"). It does not start any goroutines; call Start for that.
func New(numCPU int, zones []ZoneSpec) *System {
	log := logrus.WithField("component", "boot")

	ar := sim.New(numCPU)

	frames := frame.New()
	for _, z := range zones {
		frames.AddZone(frame.NewZone(z.Class, z.Available, z.StartPFN, z.Frames))
	}

	slabs := slab.NewManager()
	frames.SetReclaimFn(func(all bool) {
		flags := slab.ReclaimFlags(0)
		if all {
			flags = slab.ReclaimAll
		}
		freed := slabs.Reclaim(flags)
		log.WithField("freed_frames", freed).Debug("slab reclaim ran under memory pressure")
	})

	return &System{
		Arch:      ar,
		Frames:    frames,
		Slabs:     slabs,
		Scheduler: sched.New(ar),
		Reaper:    thread.NewReaper(numCPU),
		numCPU:    numCPU,
		log:       log,
	}
}

// NumCPU returns the number of simulated CPUs this System was built with.
func (s *System) NumCPU() int { return s.numCPU }

// Start launches the scheduler's per-CPU run loops, the reaper lanes, and
// registers each CPU's timer tick with the scheduler, then blocks until ctx
// is cancelled or a goroutine fails. Mirrors the teacher's kmain sequence of
// Init calls, except every step here runs concurrently instead of
// sequentially, since each CPU is its own goroutine rather than the single
// thread of control a freestanding kernel boots with.
func (s *System) Start(ctx context.Context) error {
	for cpu := 0; cpu < s.numCPU; cpu++ {
		cpuIdx := cpu
		s.Arch.OnTick(cpuIdx, func() { s.Scheduler.Tick(cpuIdx) })
	}

	g, ctx := errgroup.WithContext(ctx)
	for cpu := 0; cpu < s.numCPU; cpu++ {
		cpuIdx := cpu
		g.Go(func() error {
			s.Reaper.Run(ctx, cpuIdx)
			return nil
		})
	}
	g.Go(func() error {
		return s.Scheduler.Start(ctx)
	})

	s.log.WithField("num_cpu", s.numCPU).Info("system started")
	err := g.Wait()
	s.Arch.StopTicks()
	return err
}

// Shutdown hands a non-nil shutdown-time *kernel.Error to kernel.Panic, the
// way the teacher's Kmain panics with errKmainReturned; a nil error is
// ignored.
func Shutdown(err *kernel.Error) {
	if err != nil {
		kernel.Panic(err)
	}
}
