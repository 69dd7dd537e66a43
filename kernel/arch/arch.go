// Package arch defines the boundary between the kernel core and the
// architecture-specific collaborators spec.md §1 keeps external: an IPL
// interface, a context save/restore pair, a page-table write primitive with
// TLB invalidation, a timer tick callback, and IPI send. The teacher
// resolves these per-arch via empty-bodied Go functions in kernel/cpu
// (cpu_amd64.go) backed by assembly; this package replaces the per-file
// seam with a single interface so every other component depends on
// arch.Provider and never on a specific architecture.
package arch

// IPL is the interrupt priority level. Raising it masks lower-priority
// interrupts; spinlocks taken from interrupt context must raise it first and
// restore it last (spec §5 "IPL").
type IPL uint8

const (
	// IPLLow is the default, fully-preemptible level.
	IPLLow IPL = iota
	// IPLTimer masks the timer tick.
	IPLTimer
	// IPLHigh masks everything, including IPIs; held only for the
	// shortest possible critical sections (TLB shootdown, run-queue
	// splice).
	IPLHigh
)

// PTRoot identifies a page-table root (one per address space) in a way that
// is opaque to callers outside the as/arch packages — concretely the frame
// number of the table's root node.
type PTRoot uint64

// ContextSlot is the saved-context record exchanged with the scheduler on a
// context switch. It stands in for real register state (Design Notes §9
// "Pointer graphs": arena-and-index instead of raw pointers) by recording
// which goroutine the arch provider should park/unpark.
type ContextSlot struct {
	// Resume, when non-nil, is invoked by RestoreContext to unblock the
	// thread's goroutine. Save populates it; a freshly created thread
	// has a Resume that starts it at its entry point instead.
	Resume func()
}

// Provider is the five-point seam spec.md §1 calls out. kernel/arch/sim is
// the only implementation in this repository: a real port would add a
// second package implementing the same interface without requiring changes
// to sched, as, or ipc.
type Provider interface {
	// RaiseIPL raises cpu's interrupt priority level to at least `to`,
	// returning the previous level so the caller can restore it. Callers
	// identify "the calling CPU" explicitly (cpu) since this package has
	// no register-pinned goroutine-local CPU identity to read implicitly
	// the way real arch code reads a CPU register (Design Notes §9,
	// "Per-CPU state"). (a) cpu_priority / IPL.
	RaiseIPL(cpu int, to IPL) IPL
	// LowerIPL restores a previously-saved interrupt priority level.
	LowerIPL(cpu int, to IPL)

	// SaveContext captures enough state to later resume the calling
	// thread of execution via RestoreContext. (b) context_save/restore.
	SaveContext(cpu int, slot *ContextSlot)
	// RestoreContext resumes a previously saved (or freshly initialized)
	// context, making it the one running on cpu.
	RestoreContext(cpu int, slot *ContextSlot)

	// WriteMapping installs a single page-table entry. (c) page-table
	// write primitive.
	WriteMapping(root PTRoot, va uintptr, pa uintptr, flags uint)
	// ClearMapping removes a single page-table entry.
	ClearMapping(root PTRoot, va uintptr)
	// InvalidateTLB invalidates any cached translation for va under
	// root on the calling CPU. (c), continued: + TLB invalidate.
	InvalidateTLB(root PTRoot, va uintptr)
	// InvalidateTLBAll invalidates every cached translation on the
	// calling CPU, used when shootdown queues overflow (spec §4.4).
	InvalidateTLBAll()

	// OnTick registers a callback invoked on every timer interrupt for
	// the given CPU. (d) timer tick callback.
	OnTick(cpu int, fn func())
	// StopTicks cancels every OnTick registration; used on kernel halt.
	StopTicks()

	// SendIPI delivers fn to run on the target CPU at the next
	// opportunity. (e) IPI send.
	SendIPI(cpu int, fn func())

	// NumCPU returns the number of simulated CPUs this provider backs.
	NumCPU() int
}
