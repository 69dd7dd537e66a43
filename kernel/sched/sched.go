// Package sched implements the per-CPU scheduler from spec.md §4.5: 16
// priority run queues per CPU, load balancing by stealing from the
// lowest-priority queues of peer CPUs, quantum-based priority aging, and a
// preemption-disable counter threaded through the Runnable interface rather
// than owned by this package. It generalizes the teacher's single-threaded
// boot-time execution model (gopher-os never had more than one logical
// thread of control) into one goroutine per simulated CPU, coordinated with
// golang.org/x/sync/errgroup the way dsmmcken-dh-cli structures its
// concurrent command pipelines.
package sched

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"spartan/kernel/arch"
)

// Priority is a run-queue priority; 0 is highest.
type Priority uint8

const (
	// NumPriorities is the number of distinct run queues per CPU.
	NumPriorities = 16
	// MinPriority is the highest-priority queue.
	MinPriority Priority = 0
	// MaxPriority is the lowest-priority queue.
	MaxPriority Priority = NumPriorities - 1
)

// Runnable is the subset of a thread's state the scheduler needs. Thread
// lifecycle (kernel/thread) implements this interface; sched intentionally
// does not import kernel/thread to avoid a cycle, since kernel/thread
// depends on sched to enqueue itself.
type Runnable interface {
	// ID uniquely identifies the runnable for logging and equality.
	ID() uint64
	// Priority returns the runnable's current run-queue priority.
	Priority() Priority
	// SetPriority updates the runnable's priority (aging).
	SetPriority(Priority)
	// PreemptDisabled reports whether the thread's preemption-disable
	// counter is nonzero; a nonzero counter defers timer-driven
	// rescheduling (spec §5 "Preemption").
	PreemptDisabled() bool
	// TickQuantum decrements the remaining quantum by one tick and
	// reports whether it just reached zero.
	TickQuantum() bool
	// ResetQuantum restores the runnable's quantum to its configured
	// starting value after it is rescheduled.
	ResetQuantum()
	// ContextSlot returns the saved-context record arch.Provider uses to
	// suspend and resume this runnable.
	ContextSlot() *arch.ContextSlot
	// AddressSpaceRoot returns the page-table root this runnable expects
	// to be active while it runs.
	AddressSpaceRoot() arch.PTRoot
}

type runQueue struct {
	mu    sync.Mutex
	lanes [NumPriorities][]Runnable
	ready int
}

func (rq *runQueue) enqueue(t Runnable) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	p := t.Priority()
	rq.lanes[p] = append(rq.lanes[p], t)
	rq.ready++
}

func (rq *runQueue) popHighest() (Runnable, bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	for p := 0; p < NumPriorities; p++ {
		if n := len(rq.lanes[p]); n > 0 {
			t := rq.lanes[p][0]
			rq.lanes[p] = rq.lanes[p][1:]
			rq.ready--
			return t, true
		}
	}
	return nil, false
}

// stealLowest removes up to max runnables from the lowest (highest-numbered,
// i.e. least important) non-empty lanes, for load balancing.
func (rq *runQueue) stealLowest(max int) []Runnable {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	var stolen []Runnable
	for p := NumPriorities - 1; p >= 0 && len(stolen) < max; p-- {
		lane := rq.lanes[p]
		for len(lane) > 0 && len(stolen) < max {
			n := len(lane)
			stolen = append(stolen, lane[n-1])
			lane = lane[:n-1]
		}
		rq.lanes[p] = lane
	}
	rq.ready -= len(stolen)
	return stolen
}

func (rq *runQueue) readyCount() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.ready
}

// cpuState is one simulated CPU's scheduling state.
type cpuState struct {
	id      int
	rq      runQueue
	mu      sync.Mutex
	current Runnable
}

// Scheduler owns one cpuState per simulated CPU and the arch.Provider used
// to perform context switches and page-table-root bookkeeping.
type Scheduler struct {
	arch arch.Provider
	cpus []*cpuState
	wake []chan struct{}
	log  *logrus.Entry
}

// New creates a scheduler over every CPU ar.NumCPU reports.
func New(ar arch.Provider) *Scheduler {
	n := ar.NumCPU()
	s := &Scheduler{
		arch: ar,
		cpus: make([]*cpuState, n),
		wake: make([]chan struct{}, n),
		log:  logrus.WithField("component", "sched"),
	}
	for i := range s.cpus {
		s.cpus[i] = &cpuState{id: i}
		s.wake[i] = make(chan struct{}, 1)
	}
	return s
}

// NumCPU returns the number of CPUs this scheduler manages.
func (s *Scheduler) NumCPU() int { return len(s.cpus) }

// Enqueue places t on cpu's run queue and nudges that CPU's scheduling
// goroutine (if Start is running) to reconsider what to run.
func (s *Scheduler) Enqueue(cpu int, t Runnable) {
	s.cpus[cpu].rq.enqueue(t)
	select {
	case s.wake[cpu] <- struct{}{}:
	default:
	}
}

// Wake re-enqueues t after a sleep, promoting its priority by one step
// (spec §4.5 "On wakeup from long sleep, priority is promoted").
func (s *Scheduler) Wake(cpu int, t Runnable) {
	if p := t.Priority(); p > MinPriority {
		t.SetPriority(p - 1)
	}
	s.Enqueue(cpu, t)
}

func (s *Scheduler) averageReady() int {
	if len(s.cpus) == 0 {
		return 0
	}
	total := 0
	for _, c := range s.cpus {
		total += c.rq.readyCount()
	}
	return total / len(s.cpus)
}

// loadBalance tries to steal up to average_ready/4 runnables from a peer
// CPU's lowest-priority queues, round-robin starting just after cpuIdx
// (spec §4.5 step 2).
func (s *Scheduler) loadBalance(cpuIdx int) bool {
	n := len(s.cpus)
	if n < 2 {
		return false
	}
	maxSteal := s.averageReady() / 4
	if maxSteal < 1 {
		maxSteal = 1
	}

	for i := 1; i < n; i++ {
		peer := s.cpus[(cpuIdx+i)%n]
		stolen := peer.rq.stealLowest(maxSteal)
		if len(stolen) == 0 {
			continue
		}
		for _, t := range stolen {
			s.cpus[cpuIdx].rq.enqueue(t)
		}
		return true
	}
	return false
}

// schedule implements spec §4.5 steps 1-2: the next runnable from cpuIdx's
// own queues, or one stolen from a peer via load balancing.
func (s *Scheduler) schedule(cpuIdx int) (Runnable, bool) {
	if t, ok := s.cpus[cpuIdx].rq.popHighest(); ok {
		return t, true
	}
	if s.loadBalance(cpuIdx) {
		return s.cpus[cpuIdx].rq.popHighest()
	}
	return nil, false
}

// Run performs one scheduling decision on cpuIdx: pick the next runnable
// and context-switch into it if it differs from whatever is currently
// running. It returns false if there was nothing to run (the caller should
// idle until the next interrupt, spec §4.5 step 3).
func (s *Scheduler) Run(cpuIdx int) bool {
	cpu := s.cpus[cpuIdx]

	next, ok := s.schedule(cpuIdx)
	if !ok {
		return false
	}

	cpu.mu.Lock()
	prev := cpu.current
	cpu.current = next
	cpu.mu.Unlock()

	if prev != nil && prev.ID() == next.ID() {
		return true
	}

	// arch.Provider.WriteMapping always takes an explicit PTRoot rather
	// than operating on one implicit "active" register, so there is no
	// separate switch-page-table-root primitive to call here; the next
	// runnable's mappings are already addressed by its own root on every
	// future fault or explicit map call.
	if prev != nil {
		s.arch.SaveContext(cpuIdx, prev.ContextSlot())
	}
	s.arch.RestoreContext(cpuIdx, next.ContextSlot())
	return true
}

// Current returns the runnable currently assigned to cpuIdx, or nil if the
// CPU is idle.
func (s *Scheduler) Current(cpuIdx int) Runnable {
	cpu := s.cpus[cpuIdx]
	cpu.mu.Lock()
	defer cpu.mu.Unlock()
	return cpu.current
}

// Tick runs one timer-interrupt's worth of quantum accounting for cpuIdx's
// current runnable (spec §4.5 "Priority aging"). A thread with preemption
// disabled is left alone entirely; its quantum is not even decremented,
// matching "timer-driven rescheduling is deferred" while disabled.
func (s *Scheduler) Tick(cpuIdx int) {
	cur := s.Current(cpuIdx)
	if cur == nil || cur.PreemptDisabled() {
		return
	}
	if !cur.TickQuantum() {
		return
	}

	if p := cur.Priority(); p < MaxPriority {
		cur.SetPriority(p + 1)
	}
	cur.ResetQuantum()

	cpu := s.cpus[cpuIdx]
	cpu.mu.Lock()
	cpu.current = nil
	cpu.mu.Unlock()

	s.cpus[cpuIdx].rq.enqueue(cur)
	s.Run(cpuIdx)
}

// Start launches one goroutine per CPU, each running the scheduling loop
// until ctx is cancelled. The pool is owned by an errgroup so a panicking
// CPU goroutine's error surfaces from Start instead of being silently lost.
func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range s.cpus {
		cpuIdx := i
		g.Go(func() error {
			return s.runLoop(ctx, cpuIdx)
		})
	}
	return g.Wait()
}

// runLoop waits for Enqueue/Wake to signal cpuIdx's wake channel, then
// makes one scheduling decision. It does not spin: a runnable that keeps
// running (Run returns true with the same current thread) produces no
// further wake signals until something re-enqueues work, yields, or a
// timer Tick demotes and requeues it.
func (s *Scheduler) runLoop(ctx context.Context, cpuIdx int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake[cpuIdx]:
			s.Run(cpuIdx)
		}
	}
}
