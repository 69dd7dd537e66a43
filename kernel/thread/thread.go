// Package thread implements thread lifecycle per spec.md §4.6: creation
// with a kernel stack and a saved context that enters a specified function
// on first schedule, WIRED/USPACE flags, and exit via self-marked "exiting"
// followed by collection by a per-CPU reaper out of interrupt context. A
// Thread implements kernel/sched.Runnable so it can be enqueued directly;
// the teacher has no thread/task model of its own (a freestanding kernel
// image has exactly one thread of control), so this package is new, built
// in the teacher's error/logging idiom rather than ported from any single
// teacher file.
package thread

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"spartan/kernel/arch"
	"spartan/kernel/sched"
)

// Flags modifies thread creation (spec §4.6).
type Flags uint8

const (
	// FlagWired marks the thread as pinned to the CPU it was created on.
	// The flag is only recorded on the thread: the scheduler does not read
	// thread flags, so its load balancer can still steal a wired thread.
	FlagWired Flags = 1 << iota
	// FlagUser marks a thread that may return to user mode, as opposed
	// to a kernel-only worker thread.
	FlagUser
)

// State is a thread's lifecycle stage.
type State uint8

const (
	StateCreated State = iota
	StateRunning
	StateSleeping
	StateExiting
	StateDone
)

// Owner is the subset of task.Task a thread needs: dropping its reference
// on exit. Defined here rather than importing kernel/task to avoid a
// cycle (task.Task holds []*thread.Thread).
type Owner interface {
	Release()
}

// EntryFunc is a thread's first-schedule entry point. It should select on
// ctx.Done() at its suspension points so Exit's cancellation can unblock it
// promptly.
type EntryFunc func(ctx context.Context, arg interface{})

// Thread is one schedulable thread of control.
type Thread struct {
	mu    sync.Mutex
	id    uint64
	task  Owner
	flags Flags
	state State

	priority     sched.Priority
	quantum      int32
	startQuantum int32
	preempt      int32

	slot   arch.ContextSlot
	asRoot arch.PTRoot

	entry EntryFunc
	arg   interface{}

	startOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc

	log *logrus.Entry
}

// New allocates a thread owned by task, entering at entry(arg) on first
// schedule. It does not start running until the scheduler invokes its
// ContextSlot's Resume for the first time.
func New(task Owner, id uint64, entry EntryFunc, arg interface{}, flags Flags, priority sched.Priority, quantum int32, asRoot arch.PTRoot) *Thread {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Thread{
		id:           id,
		task:         task,
		flags:        flags,
		state:        StateCreated,
		priority:     priority,
		quantum:      quantum,
		startQuantum: quantum,
		asRoot:       asRoot,
		entry:        entry,
		arg:          arg,
		done:         make(chan struct{}),
		cancel:       cancel,
		log:          logrus.WithField("component", "thread").WithField("id", id),
	}
	t.slot.Resume = func() {
		t.startOnce.Do(func() {
			t.mu.Lock()
			t.state = StateRunning
			t.mu.Unlock()
			go func() {
				defer close(t.done)
				t.entry(ctx, t.arg)
			}()
		})
	}
	return t
}

// ID implements sched.Runnable.
func (t *Thread) ID() uint64 { return t.id }

// Priority implements sched.Runnable.
func (t *Thread) Priority() sched.Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// SetPriority implements sched.Runnable.
func (t *Thread) SetPriority(p sched.Priority) {
	t.mu.Lock()
	t.priority = p
	t.mu.Unlock()
}

// PreemptDisabled implements sched.Runnable.
func (t *Thread) PreemptDisabled() bool { return atomic.LoadInt32(&t.preempt) > 0 }

// DisablePreempt increments the preemption-disable counter. Nestable;
// pairs with EnablePreempt.
func (t *Thread) DisablePreempt() { atomic.AddInt32(&t.preempt, 1) }

// EnablePreempt decrements the preemption-disable counter.
func (t *Thread) EnablePreempt() { atomic.AddInt32(&t.preempt, -1) }

// TickQuantum implements sched.Runnable.
func (t *Thread) TickQuantum() bool {
	return atomic.AddInt32(&t.quantum, -1) <= 0
}

// ResetQuantum implements sched.Runnable.
func (t *Thread) ResetQuantum() {
	atomic.StoreInt32(&t.quantum, t.startQuantum)
}

// ContextSlot implements sched.Runnable.
func (t *Thread) ContextSlot() *arch.ContextSlot { return &t.slot }

// AddressSpaceRoot implements sched.Runnable.
func (t *Thread) AddressSpaceRoot() arch.PTRoot { return t.asRoot }

// Flags reports the WIRED/USPACE flags this thread was created with.
func (t *Thread) Flags() Flags { return t.flags }

// State reports the thread's current lifecycle stage.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Exit marks the thread exiting, drops its task reference, and cancels its
// entry context so the goroutine yields at its next suspension point (spec
// §4.6 "Thread termination"). It does not block waiting for the goroutine
// to actually return; a Reaper collects it once Done() closes.
func (t *Thread) Exit() {
	t.mu.Lock()
	if t.state == StateExiting || t.state == StateDone {
		t.mu.Unlock()
		return
	}
	t.state = StateExiting
	t.mu.Unlock()

	t.log.Debug("thread exiting")
	t.task.Release()
	t.cancel()
}

// Done returns a channel closed once the thread's entry function has
// returned, for the Reaper to wait on out of interrupt context.
func (t *Thread) Done() <-chan struct{} { return t.done }

// markDone transitions the thread to StateDone; called only by a Reaper
// after Done() has fired.
func (t *Thread) markDone() {
	t.mu.Lock()
	t.state = StateDone
	t.mu.Unlock()
}

var _ sched.Runnable = (*Thread)(nil)
