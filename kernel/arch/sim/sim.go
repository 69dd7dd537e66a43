// Package sim is the sole implementation of arch.Provider in this
// repository: it stands in for bare-metal arch code the way the teacher's
// cpu_amd64.go stands in for real CPU instructions, except every primitive
// is backed by ordinary Go concurrency instead of assembly.
//
//   - IPL is a per-CPU counter guarded by a mutex instead of a CPU register.
//   - Context save/restore parks and unparks the thread's own goroutine via
//     a channel instead of swapping register files.
//   - Page-table writes land in an in-memory map instead of real page-table
//     frames; TLB invalidation is a no-op.
//   - Timer ticks are backed by time.Ticker; IPIs are delivered over a
//     per-CPU buffered channel drained by OnTick's own goroutine.
package sim

import (
	"sync"
	"time"

	"spartan/kernel/arch"
)

// pte is a single simulated page-table entry.
type pte struct {
	pa    uintptr
	flags uint
}

// Sim is an in-process stand-in for real architecture support, scaled to
// numCPU simulated CPUs. The zero value is not usable; construct with New.
type Sim struct {
	numCPU int

	iplMu sync.Mutex
	ipl   []arch.IPL

	ptMu  sync.Mutex
	pts   map[arch.PTRoot]map[uintptr]pte

	tickMu  sync.Mutex
	tickers []*time.Ticker
	stopCh  chan struct{}

	ipiMu sync.Mutex
	ipis  []chan func()
}

// New creates a simulated architecture provider backing numCPU CPUs. Each
// CPU gets its own IPI channel so SendIPI never blocks on an unrelated CPU's
// backlog.
func New(numCPU int) *Sim {
	if numCPU <= 0 {
		numCPU = 1
	}
	s := &Sim{
		numCPU: numCPU,
		ipl:    make([]arch.IPL, numCPU),
		pts:    make(map[arch.PTRoot]map[uintptr]pte),
		stopCh: make(chan struct{}),
		ipis:   make([]chan func(), numCPU),
	}
	for i := range s.ipis {
		s.ipis[i] = make(chan func(), 64)
	}
	return s
}

// NumCPU returns the number of simulated CPUs this provider backs.
func (s *Sim) NumCPU() int { return s.numCPU }

// RaiseIPL raises cpu's interrupt priority level to at least `to`, returning
// the level that was in effect before the call.
func (s *Sim) RaiseIPL(cpu int, to arch.IPL) arch.IPL {
	s.iplMu.Lock()
	defer s.iplMu.Unlock()

	prev := s.ipl[cpu]
	if to > s.ipl[cpu] {
		s.ipl[cpu] = to
	}
	return prev
}

// LowerIPL restores cpu's interrupt priority level to `to`. Callers are
// expected to pass the value RaiseIPL returned; LowerIPL does not attempt to
// detect mismatched raise/lower pairs.
func (s *Sim) LowerIPL(cpu int, to arch.IPL) {
	s.iplMu.Lock()
	defer s.iplMu.Unlock()
	s.ipl[cpu] = to
}

// SaveContext does nothing. In this simulation the "context" is nothing more
// than slot.Resume, a closure that resumes the parked goroutine and that the
// caller already holds for RestoreContext; SaveContext exists to keep the
// call site symmetric with real arch code that would save registers here.
func (s *Sim) SaveContext(cpu int, slot *arch.ContextSlot) {
	_ = cpu
	_ = slot
}

// RestoreContext invokes slot.Resume, unparking whatever goroutine it
// captured (or starting a freshly created thread at its entry point).
func (s *Sim) RestoreContext(cpu int, slot *arch.ContextSlot) {
	_ = cpu
	if slot != nil && slot.Resume != nil {
		slot.Resume()
	}
}

// WriteMapping installs a single page-table entry for va under root,
// creating root's table on first use.
func (s *Sim) WriteMapping(root arch.PTRoot, va uintptr, pa uintptr, flags uint) {
	s.ptMu.Lock()
	defer s.ptMu.Unlock()

	tbl, ok := s.pts[root]
	if !ok {
		tbl = make(map[uintptr]pte)
		s.pts[root] = tbl
	}
	tbl[va] = pte{pa: pa, flags: flags}
}

// ClearMapping removes va's entry from root's table, if present.
func (s *Sim) ClearMapping(root arch.PTRoot, va uintptr) {
	s.ptMu.Lock()
	defer s.ptMu.Unlock()

	if tbl, ok := s.pts[root]; ok {
		delete(tbl, va)
	}
}

// Translate is a test/debug hook exposing the simulated table; it has no
// counterpart in arch.Provider because real arch code never exposes raw
// table contents across the seam.
func (s *Sim) Translate(root arch.PTRoot, va uintptr) (pa uintptr, flags uint, ok bool) {
	s.ptMu.Lock()
	defer s.ptMu.Unlock()

	tbl, found := s.pts[root]
	if !found {
		return 0, 0, false
	}
	e, found := tbl[va]
	return e.pa, e.flags, found
}

// InvalidateTLB is a no-op: the simulated table in WriteMapping/ClearMapping
// is consulted directly on every access, so there is no stale cache to
// evict. It exists so callers exercise the real shootdown call sequence
// (spec §4.4) even though this backend has nothing to flush.
func (s *Sim) InvalidateTLB(root arch.PTRoot, va uintptr) {
	_ = root
	_ = va
}

// InvalidateTLBAll is the bulk form of InvalidateTLB; likewise a no-op here.
func (s *Sim) InvalidateTLBAll() {}

// OnTick starts a periodic goroutine that calls fn roughly every tick
// interval, simulating a CPU's local timer interrupt. Ticks stop at
// StopTicks.
func (s *Sim) OnTick(cpu int, fn func()) {
	const tick = 4 * time.Millisecond

	s.tickMu.Lock()
	t := time.NewTicker(tick)
	s.tickers = append(s.tickers, t)
	stop := s.stopCh
	s.tickMu.Unlock()

	go func() {
		for {
			select {
			case <-t.C:
				fn()
			case ipiFn := <-s.ipis[cpu]:
				ipiFn()
			case <-stop:
				return
			}
		}
	}()
}

// StopTicks cancels every OnTick registration. Used on kernel halt so a test
// process can exit without leaked goroutines.
func (s *Sim) StopTicks() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	for _, t := range s.tickers {
		t.Stop()
	}
	s.tickers = nil
	close(s.stopCh)
	s.stopCh = make(chan struct{})
}

// SendIPI delivers fn to cpu's OnTick goroutine. If cpu has no OnTick
// goroutine running yet, fn is buffered and delivered once one starts, up to
// the channel's capacity; callers that need delivery to a quiescent CPU
// should call OnTick first.
func (s *Sim) SendIPI(cpu int, fn func()) {
	s.ipiMu.Lock()
	ch := s.ipis[cpu]
	s.ipiMu.Unlock()

	select {
	case ch <- fn:
	default:
		// Backlog full: run inline rather than drop, mirroring a real
		// IPI that degrades to a synchronous poke under saturation.
		fn()
	}
}

var _ arch.Provider = (*Sim)(nil)
