package as

import (
	"runtime"
	"sync"

	"spartan/kernel/arch"
	"spartan/kernel/mem"
)

const defaultShootdownQueueCap = 8

type shootdownMsg struct {
	root          arch.PTRoot
	page          uintptr
	count         uint32
	invalidateAll bool
}

// Shootdown coordinates cross-CPU TLB invalidation per spec §4.4: the
// initiator enqueues a message on every other CPU's bounded queue (falling
// back to "invalidate all" on overflow), IPIs them, and busy-waits for each
// to acknowledge by restoring its tlb_active flag. The shootdown lock here
// only serializes enqueue/IPI-send against concurrent Start calls and
// against a receiving CPU draining its queue; it is not held across the
// busy-wait, since a receiver must be able to acquire it to drain (see
// DESIGN.md's Open Question decision on this point).
type Shootdown struct {
	arch     arch.Provider
	queueCap int

	mu     sync.Mutex
	active []bool
	queues [][]shootdownMsg
}

// NewShootdown creates a shootdown coordinator for every CPU ar reports via
// NumCPU, each with a queueCap-deep pending-message queue.
func NewShootdown(ar arch.Provider, queueCap int) *Shootdown {
	if queueCap <= 0 {
		queueCap = defaultShootdownQueueCap
	}
	n := ar.NumCPU()
	s := &Shootdown{
		arch:     ar,
		queueCap: queueCap,
		active:   make([]bool, n),
		queues:   make([][]shootdownMsg, n),
	}
	for i := range s.active {
		s.active[i] = true
	}
	return s
}

// Start invalidates count pages starting at page under root, beginning at
// virtual address page, across every CPU other than initiator, then
// invalidates them locally and returns once every CPU has acknowledged.
func (s *Shootdown) Start(initiator int, root arch.PTRoot, page uintptr, count uint32) {
	prevIPL := s.arch.RaiseIPL(initiator, arch.IPLHigh)
	defer s.arch.LowerIPL(initiator, prevIPL)

	s.mu.Lock()
	for cpu := range s.active {
		if cpu == initiator {
			continue
		}
		s.enqueueLocked(cpu, shootdownMsg{root: root, page: page, count: count})
		s.active[cpu] = false
	}
	s.mu.Unlock()

	for cpu := range s.active {
		if cpu == initiator {
			continue
		}
		cpu := cpu
		s.arch.SendIPI(cpu, func() { s.receive(cpu) })
	}

	for cpu := range s.active {
		if cpu == initiator {
			continue
		}
		for !s.isActive(cpu) {
			runtime.Gosched()
		}
	}

	for i := uint32(0); i < count; i++ {
		s.arch.InvalidateTLB(root, page+uintptr(i)*uintptr(mem.PageSize))
	}
	s.finalize()
}

// enqueueLocked must be called with s.mu held. A queue at capacity
// collapses to a single "invalidate all" message, the overflow degradation
// spec §4.4 calls for.
func (s *Shootdown) enqueueLocked(cpu int, msg shootdownMsg) {
	if len(s.queues[cpu]) >= s.queueCap {
		s.queues[cpu] = []shootdownMsg{{invalidateAll: true}}
		return
	}
	s.queues[cpu] = append(s.queues[cpu], msg)
}

// receive is invoked on the target CPU when the shootdown IPI arrives: it
// clears tlb_active, drains the queue under the shootdown lock, performs
// the invalidations, then restores tlb_active.
func (s *Shootdown) receive(cpu int) {
	s.mu.Lock()
	s.active[cpu] = false
	msgs := s.queues[cpu]
	s.queues[cpu] = nil
	s.mu.Unlock()

	for _, m := range msgs {
		if m.invalidateAll {
			s.arch.InvalidateTLBAll()
			continue
		}
		for i := uint32(0); i < m.count; i++ {
			s.arch.InvalidateTLB(m.root, m.page+uintptr(i)*uintptr(mem.PageSize))
		}
	}

	s.mu.Lock()
	s.active[cpu] = true
	s.mu.Unlock()
}

func (s *Shootdown) isActive(cpu int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[cpu]
}

// finalize does nothing: Start's own critical sections have already released
// the shootdown lock by this point. It exists so the named
// tlb_shootdown_finalize operation from spec §4.4 has a concrete call site
// rather than being folded silently into Start.
func (s *Shootdown) finalize() {}
