package thread

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"spartan/kernel/arch"
)

type fakeOwner struct {
	released int32
}

func (o *fakeOwner) Release() { atomic.AddInt32(&o.released, 1) }

func TestThreadDoesNotRunBeforeFirstResume(t *testing.T) {
	var ran int32
	owner := &fakeOwner{}
	th := New(owner, 1, func(ctx context.Context, arg interface{}) {
		atomic.AddInt32(&ran, 1)
	}, nil, 0, 5, 3, arch.PTRoot(1))

	time.Sleep(10 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatal("expected the entry function to not run before ContextSlot.Resume is called")
	}
	th.ContextSlot().Resume()
}

func TestThreadResumeStartsEntryExactlyOnce(t *testing.T) {
	var ran int32
	owner := &fakeOwner{}
	started := make(chan struct{})
	th := New(owner, 1, func(ctx context.Context, arg interface{}) {
		atomic.AddInt32(&ran, 1)
		close(started)
		<-ctx.Done()
	}, nil, 0, 5, 3, arch.PTRoot(1))

	th.ContextSlot().Resume()
	th.ContextSlot().Resume()
	th.ContextSlot().Resume()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("expected the entry function to start")
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("expected the entry function to run exactly once, ran %d times", ran)
	}
	th.Exit()
}

func TestExitReleasesOwnerAndCancelsEntry(t *testing.T) {
	owner := &fakeOwner{}
	entryDone := make(chan struct{})
	th := New(owner, 1, func(ctx context.Context, arg interface{}) {
		<-ctx.Done()
		close(entryDone)
	}, nil, 0, 5, 3, arch.PTRoot(1))

	th.ContextSlot().Resume()
	th.Exit()

	select {
	case <-entryDone:
	case <-time.After(time.Second):
		t.Fatal("expected Exit to cancel the entry function")
	}
	if atomic.LoadInt32(&owner.released) != 1 {
		t.Fatal("expected Exit to release the owner exactly once")
	}
}

func TestExitIsIdempotent(t *testing.T) {
	owner := &fakeOwner{}
	th := New(owner, 1, func(ctx context.Context, arg interface{}) {
		<-ctx.Done()
	}, nil, 0, 5, 3, arch.PTRoot(1))
	th.ContextSlot().Resume()

	th.Exit()
	th.Exit()
	if atomic.LoadInt32(&owner.released) != 1 {
		t.Fatalf("expected owner to be released exactly once, got %d", owner.released)
	}
}

func TestPreemptDisabledCounterNests(t *testing.T) {
	owner := &fakeOwner{}
	th := New(owner, 1, func(ctx context.Context, arg interface{}) {}, nil, 0, 5, 3, arch.PTRoot(1))

	th.DisablePreempt()
	th.DisablePreempt()
	if !th.PreemptDisabled() {
		t.Fatal("expected preemption to be disabled")
	}
	th.EnablePreempt()
	if !th.PreemptDisabled() {
		t.Fatal("expected preemption to still be disabled after one matching enable")
	}
	th.EnablePreempt()
	if th.PreemptDisabled() {
		t.Fatal("expected preemption to be enabled after both disables are matched")
	}
}

func TestReaperCollectsExitedThread(t *testing.T) {
	owner := &fakeOwner{}
	th := New(owner, 1, func(ctx context.Context, arg interface{}) {
		<-ctx.Done()
	}, nil, 0, 5, 3, arch.PTRoot(1))
	th.ContextSlot().Resume()

	r := NewReaper(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, 0)

	th.Exit()
	r.Submit(0, th)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if th.State() == StateDone {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected the reaper to eventually mark the thread done")
}
