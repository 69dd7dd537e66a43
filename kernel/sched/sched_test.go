package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"spartan/kernel/arch"
	"spartan/kernel/arch/sim"
)

type fakeThread struct {
	id           uint64
	priority     Priority
	quantum      int32
	startQuantum int32
	preemptCnt   int32
	root         arch.PTRoot
	slot         arch.ContextSlot
	resumeCount  int32
}

func newFakeThread(id uint64, p Priority) *fakeThread {
	t := &fakeThread{id: id, priority: p, quantum: 3, startQuantum: 3}
	t.slot.Resume = func() { atomic.AddInt32(&t.resumeCount, 1) }
	return t
}

func (t *fakeThread) ID() uint64                      { return t.id }
func (t *fakeThread) Priority() Priority              { return t.priority }
func (t *fakeThread) SetPriority(p Priority)           { t.priority = p }
func (t *fakeThread) PreemptDisabled() bool           { return atomic.LoadInt32(&t.preemptCnt) > 0 }
func (t *fakeThread) ResetQuantum()                   { atomic.StoreInt32(&t.quantum, t.startQuantum) }
func (t *fakeThread) ContextSlot() *arch.ContextSlot  { return &t.slot }
func (t *fakeThread) AddressSpaceRoot() arch.PTRoot   { return t.root }

func (t *fakeThread) TickQuantum() bool {
	n := atomic.AddInt32(&t.quantum, -1)
	return n <= 0
}

func TestRunPicksHighestPriorityFirst(t *testing.T) {
	s := New(sim.New(1))
	low := newFakeThread(1, 10)
	high := newFakeThread(2, 2)

	s.Enqueue(0, low)
	s.Enqueue(0, high)

	if !s.Run(0) {
		t.Fatal("expected Run to find a runnable thread")
	}
	if got := s.Current(0); got.ID() != high.ID() {
		t.Fatalf("expected the higher-priority thread to run first, got id %d", got.ID())
	}
}

func TestRunIdlesWithNothingQueued(t *testing.T) {
	s := New(sim.New(1))
	if s.Run(0) {
		t.Fatal("expected Run to report idle with an empty queue")
	}
}

func TestLoadBalancingSteals(t *testing.T) {
	s := New(sim.New(2))

	for i := 0; i < 8; i++ {
		s.Enqueue(1, newFakeThread(uint64(i+1), MaxPriority))
	}

	if !s.Run(0) {
		t.Fatal("expected CPU 0 to steal work from CPU 1 via load balancing")
	}
}

func TestTickDemotesOnQuantumExpiry(t *testing.T) {
	s := New(sim.New(1))
	th := newFakeThread(1, 5)
	s.Enqueue(0, th)
	s.Run(0)

	for i := 0; i < 3; i++ {
		s.Tick(0)
	}

	if th.priority != 6 {
		t.Fatalf("expected priority to be demoted to 6 after quantum expiry, got %d", th.priority)
	}
}

func TestTickSkipsPreemptionDisabledThread(t *testing.T) {
	s := New(sim.New(1))
	th := newFakeThread(1, 5)
	th.quantum = 1
	atomic.StoreInt32(&th.preemptCnt, 1)
	s.Enqueue(0, th)
	s.Run(0)

	s.Tick(0)
	if th.priority != 5 {
		t.Fatalf("expected priority to stay at 5 while preemption is disabled, got %d", th.priority)
	}
}

func TestWakePromotesPriority(t *testing.T) {
	s := New(sim.New(1))
	th := newFakeThread(1, 5)
	s.Wake(0, th)
	if th.priority != 4 {
		t.Fatalf("expected Wake to promote priority to 4, got %d", th.priority)
	}
}

func TestStartRunsEnqueuedThread(t *testing.T) {
	s := New(sim.New(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Start(ctx)

	th := newFakeThread(1, 5)
	s.Enqueue(0, th)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&th.resumeCount) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected Start's scheduling loop to resume the enqueued thread")
}
