// Package task implements task lifecycle per spec.md §4.6: creation
// allocates an address space (unless inheriting), an answerbox, a
// capability table, and a PID; the task holds a refcount contributed by
// each of its threads and by each outstanding IPC reference, and tears
// down its capability table and answerbox once that refcount reaches
// zero. As with kernel/thread, the teacher has no process model of its
// own, so this is new code written in the teacher's error/logging idiom.
package task

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"spartan/kernel/arch"
	"spartan/kernel/cap"
	"spartan/kernel/mem/as"
	"spartan/kernel/sched"
	"spartan/kernel/thread"
)

// PID identifies a task.
type PID uint64

// Answerbox is the subset of kernel/ipc.Answerbox a task needs at exit:
// cancelling every pending call. Defined here rather than importing
// kernel/ipc, so the two packages do not import each other; whatever
// constructs a Task passes in the answerbox, and *ipc.Answerbox satisfies
// this interface.
type Answerbox interface {
	// Close cancels every call still outstanding against this
	// answerbox, auto-answering each with a hangup-equivalent error.
	Close()
}

// Task is one schedulable unit of ownership: an address space, a
// capability table, an answerbox, and the threads running inside it.
type Task struct {
	mu sync.Mutex

	pid          PID
	addressSpace *as.AddressSpace
	caps         *cap.Table
	answerbox    Answerbox
	threads      []*thread.Thread

	refcount int32
	exiting  bool

	log *logrus.Entry
}

// New creates a task with refcount 1, representing the task's own
// existence; that reference is dropped by Exit. addressSpace and
// answerbox are constructed by the caller (inheriting an existing address
// space, per spec §4.6, is just passing the same *as.AddressSpace to two
// tasks).
func New(pid PID, addressSpace *as.AddressSpace, answerbox Answerbox) *Task {
	return &Task{
		pid:          pid,
		addressSpace: addressSpace,
		caps:         cap.NewTable(),
		answerbox:    answerbox,
		refcount:     1,
		log:          logrus.WithField("component", "task").WithField("pid", pid),
	}
}

// PID returns the task's process ID.
func (t *Task) PID() PID { return t.pid }

// AddressSpace returns the task's address space.
func (t *Task) AddressSpace() *as.AddressSpace { return t.addressSpace }

// Caps returns the task's capability table.
func (t *Task) Caps() *cap.Table { return t.caps }

// Threads returns a snapshot of the task's currently owned threads.
func (t *Task) Threads() []*thread.Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*thread.Thread, len(t.threads))
	copy(out, t.threads)
	return out
}

// NewThread creates a thread owned by this task and takes a refcount on
// its behalf (spec §4.6 "A task holds a refcount from each of its
// threads").
func (t *Task) NewThread(id uint64, entry thread.EntryFunc, arg interface{}, flags thread.Flags, priority sched.Priority, quantum int32, asRoot arch.PTRoot) *thread.Thread {
	atomic.AddInt32(&t.refcount, 1)
	th := thread.New(t, id, entry, arg, flags, priority, quantum, asRoot)

	t.mu.Lock()
	t.threads = append(t.threads, th)
	t.mu.Unlock()
	return th
}

// HoldIPC takes a refcount on behalf of an in-flight IPC call referencing
// this task (spec §4.6 "each reference held via IPC"). Pair with
// ReleaseIPC.
func (t *Task) HoldIPC() { atomic.AddInt32(&t.refcount, 1) }

// ReleaseIPC drops an IPC-held refcount. Equivalent to Release, named
// separately so call sites document which kind of reference they're
// dropping.
func (t *Task) ReleaseIPC() { t.Release() }

// Release implements thread.Owner: a thread drops its task reference when
// it exits. The caller that brings the refcount to zero triggers final
// teardown.
func (t *Task) Release() {
	if atomic.AddInt32(&t.refcount, -1) == 0 {
		t.finish()
	}
}

func (t *Task) finish() {
	t.log.Debug("task refcount reached zero, tearing down")
	t.caps.Close()
	if t.answerbox != nil {
		t.answerbox.Close()
	}
}

// Exit begins task teardown (spec §4.6 / §4.8 "On task exit"): every
// owned thread is asked to exit, and the task's own implicit reference is
// dropped last, so finish() runs only once every thread has also released
// its reference. Idempotent.
func (t *Task) Exit() {
	t.mu.Lock()
	if t.exiting {
		t.mu.Unlock()
		return
	}
	t.exiting = true
	threads := make([]*thread.Thread, len(t.threads))
	copy(threads, t.threads)
	t.mu.Unlock()

	for _, th := range threads {
		th.Exit()
	}
	t.Release()
}

// Exiting reports whether Exit has been called.
func (t *Task) Exiting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exiting
}
