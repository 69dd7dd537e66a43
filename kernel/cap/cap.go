// Package cap implements the per-task capability table described in
// spec.md §4.8: a sparse handle table mapping small integers to
// reference-counted kobjects, with type-checked lookup and a generic
// per-type cleanup callback run at task exit. It generalizes the
// original_source's synch/syswaitq.c `waitq_cap_cleanup_cb` pattern (a
// waitq is itself a capability-bearing kobject, cleaned up specially on
// task exit) into a registry any kobject type can hook into, rather than
// special-casing waitq the way the C sources do.
package cap

import (
	"sync"

	"spartan/kernel"
	"spartan/kernel/errors"
)

// Handle is a per-task capability index.
type Handle int

// Type discriminates what kind of kobject a handle refers to, so
// kobject_get can reject a type mismatch as a protocol error rather than
// handing the caller a value it will misinterpret.
type Type string

// Kobject is anything that can be published into a capability table. Real
// kobjects (waitq.WaitQ, ipc.Phone, ipc.Answerbox, as.AddressSpace, ...)
// wrap themselves to satisfy this minimal interface rather than this
// package importing any of them, avoiding an import cycle back from every
// owning package into cap.
type Kobject interface {
	// Type names the concrete kind of kobject, checked by kobject_get.
	Type() Type
}

// entry is one occupied slot in a Table.
type entry struct {
	obj      Kobject
	refcount uint32
}

// CleanupFunc runs once per live capability of a given type at task exit,
// before the capability's refcount is dropped and the slot freed. It is
// the Go analogue of waitq_cap_cleanup_cb: a waitq's cleanup wakes every
// sleeper with a hangup code before the waitq itself is released.
type CleanupFunc func(obj Kobject)

// Table is one task's sparse capability table.
type Table struct {
	mu       sync.Mutex
	entries  map[Handle]*entry
	next     Handle
	cleanup  map[Type]CleanupFunc
}

// NewTable creates an empty capability table.
func NewTable() *Table {
	return &Table{
		entries: make(map[Handle]*entry),
		cleanup: make(map[Type]CleanupFunc),
	}
}

// RegisterCleanup installs the per-type cleanup callback run at Close for
// every live capability of that type. Typically called once per kobject
// type at kernel initialization (e.g. the waitq package registering its own
// hangup-all cleanup), not per task.
func (t *Table) RegisterCleanup(typ Type, fn CleanupFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanup[typ] = fn
}

// Alloc returns a free handle without publishing anything into it. Handles
// come from a counter that only moves forward, skipping handles that are
// currently published; a handle freed by Unpublish is not handed out again,
// so the result is the lowest free handle only while nothing has been
// unpublished. The handle is reserved implicitly: a caller races with
// itself, not with another caller, since a Table is owned by exactly one
// task.
func (t *Table) Alloc() Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		h := t.next
		t.next++
		if _, used := t.entries[h]; !used {
			return h
		}
	}
}

// Publish installs obj into handle, incrementing its refcount. Publishing
// into an already-occupied handle is a caller bug (cap_alloc should have
// been used to find a free handle first) and returns an errors.KindInval
// error.
func (t *Table) Publish(h Handle, obj Kobject) *kernel.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, used := t.entries[h]; used {
		return errors.New("cap", errors.KindInval, "handle already published")
	}
	t.entries[h] = &entry{obj: obj, refcount: 1}
	return nil
}

// Unpublish removes h from the table and returns the kobject it named, for
// the caller to drop or republish elsewhere. It is the inverse of Publish
// and does not run the type's cleanup callback — that only happens at
// task-exit Close.
func (t *Table) Unpublish(h Handle) (Kobject, *kernel.Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return nil, errors.ErrNoEnt
	}
	delete(t.entries, h)
	return e.obj, nil
}

// Get performs a type-checked lookup. A handle that exists but names a
// kobject of a different type is a protocol error (errors.KindInval), not
// a panic, matching spec §4.8's "a mismatch is a protocol error".
func (t *Table) Get(h Handle, expected Type) (Kobject, *kernel.Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return nil, errors.ErrNoEnt
	}
	if e.obj.Type() != expected {
		return nil, errors.New("cap", errors.KindInval, "capability type mismatch")
	}
	return e.obj, nil
}

// Ref increments h's refcount, for a second subsystem sharing the same
// kobject through a different handle.
func (t *Table) Ref(h Handle) *kernel.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return errors.ErrNoEnt
	}
	e.refcount++
	return nil
}

// Close walks every live capability and runs unpublish + cleanup + put +
// free for each, per spec §4.8 "On task exit". Cleanup callbacks run before
// the entry is removed so they can still observe which handle named the
// object.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for h, e := range t.entries {
		if fn, ok := t.cleanup[e.obj.Type()]; ok {
			fn(e.obj)
		}
		delete(t.entries, h)
	}
}

// Len reports the number of live capabilities, for tests and diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
