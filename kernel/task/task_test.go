package task

import (
	"context"
	"testing"
	"time"

	"spartan/kernel/arch"
	"spartan/kernel/arch/sim"
	"spartan/kernel/mem/as"
)

type fakeAnswerbox struct {
	closed bool
}

func (a *fakeAnswerbox) Close() { a.closed = true }

func newTestTask(t *testing.T) (*Task, *fakeAnswerbox) {
	t.Helper()
	s := sim.New(1)
	space := as.New(s, arch.PTRoot(1))
	box := &fakeAnswerbox{}
	return New(1, space, box), box
}

func TestNewTaskHasNoThreadsAndRefcountOne(t *testing.T) {
	tsk, _ := newTestTask(t)
	if len(tsk.Threads()) != 0 {
		t.Fatal("expected a freshly created task to own no threads")
	}
	if tsk.refcount != 1 {
		t.Fatalf("expected a freshly created task to hold refcount 1, got %d", tsk.refcount)
	}
}

func TestExitWithNoThreadsTearsDownImmediately(t *testing.T) {
	tsk, box := newTestTask(t)
	tsk.Exit()
	if !box.closed {
		t.Fatal("expected Exit to close the answerbox once refcount reaches zero")
	}
	if tsk.Caps().Len() != 0 {
		t.Fatal("expected the capability table to be closed")
	}
}

func TestExitWaitsForOwnedThreadsToReleaseBeforeTearingDown(t *testing.T) {
	tsk, box := newTestTask(t)

	started := make(chan struct{})
	th := tsk.NewThread(1, func(ctx context.Context, arg interface{}) {
		close(started)
		<-ctx.Done()
	}, nil, 0, 5, 3, arch.PTRoot(1))
	th.ContextSlot().Resume()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("expected the thread to start")
	}

	if box.closed {
		t.Fatal("expected the answerbox to remain open while a thread is still running")
	}

	tsk.Exit()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if box.closed {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected Exit to eventually close the answerbox once the thread releases its reference")
}

func TestExitIsIdempotent(t *testing.T) {
	tsk, box := newTestTask(t)
	tsk.Exit()
	tsk.Exit()
	if !box.closed {
		t.Fatal("expected the answerbox to be closed")
	}
}

func TestHoldIPCDelaysTeardown(t *testing.T) {
	tsk, box := newTestTask(t)
	tsk.HoldIPC()

	tsk.Exit()
	if box.closed {
		t.Fatal("expected an outstanding IPC hold to delay teardown")
	}

	tsk.ReleaseIPC()
	if !box.closed {
		t.Fatal("expected releasing the last IPC hold to finish teardown")
	}
}
