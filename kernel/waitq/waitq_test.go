package waitq

import (
	"context"
	"testing"
	"time"

	"spartan/kernel/errors"
)

func TestWakeupFirstReleasesOneWaiter(t *testing.T) {
	wq := New()
	results := make(chan Result, 2)

	for i := 0; i < 2; i++ {
		go func() {
			r, err := wq.Sleep(context.Background(), 0, 0)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results <- r
		}()
	}

	waitForWaiters(t, wq, 2)
	wq.Wakeup(WakeupFirst)

	select {
	case r := <-results:
		if r != Woken {
			t.Fatalf("expected Woken, got %v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the woken waiter")
	}

	if n := wq.Waiting(); n != 1 {
		t.Fatalf("expected exactly one waiter left asleep, got %d", n)
	}
}

func TestWakeupAllReleasesEveryWaiter(t *testing.T) {
	wq := New()
	const n = 4
	done := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		go func() {
			wq.Sleep(context.Background(), 0, 0)
			done <- struct{}{}
		}()
	}

	waitForWaiters(t, wq, n)
	wq.Wakeup(WakeupAll)

	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for all waiters to wake")
		}
	}
}

func TestSleepTimeout(t *testing.T) {
	wq := New()
	r, err := wq.Sleep(context.Background(), 1000, 0)
	if r != TimedOut {
		t.Fatalf("expected TimedOut, got %v", r)
	}
	if err != errors.ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestSleepInterruptible(t *testing.T) {
	wq := New()
	ctx, cancel := context.WithCancel(context.Background())

	resultCh := make(chan Result, 1)
	go func() {
		r, _ := wq.Sleep(ctx, 0, FlagInterruptible)
		resultCh <- r
	}()

	waitForWaiters(t, wq, 1)
	cancel()

	select {
	case r := <-resultCh:
		if r != Interrupted {
			t.Fatalf("expected Interrupted, got %v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for interruption")
	}
}

func TestSleepCancelledWithoutInterruptibleFlag(t *testing.T) {
	wq := New()
	ctx, cancel := context.WithCancel(context.Background())

	resultCh := make(chan Result, 1)
	go func() {
		r, _ := wq.Sleep(ctx, 0, 0)
		resultCh <- r
	}()

	waitForWaiters(t, wq, 1)
	cancel()

	select {
	case r := <-resultCh:
		if r != Cancelled {
			t.Fatalf("expected Cancelled, got %v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
}

func TestNonBlockingConsumesMissedWakeup(t *testing.T) {
	wq := NewPermanent()
	wq.Wakeup(WakeupFirst) // no one sleeping: recorded as missed

	if got := wq.Missed(); got != 1 {
		t.Fatalf("expected 1 missed wakeup, got %d", got)
	}

	r, err := wq.Sleep(context.Background(), 0, FlagNonBlocking)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != Immediate {
		t.Fatalf("expected Immediate, got %v", r)
	}
	if got := wq.Missed(); got != 0 {
		t.Fatalf("expected the missed wakeup to be consumed, got %d", got)
	}
}

func TestNonPermanentWakeupWithNoWaitersIsDropped(t *testing.T) {
	wq := New()
	wq.Wakeup(WakeupFirst)
	if got := wq.Missed(); got != 0 {
		t.Fatalf("expected a non-permanent queue to never record missed wakeups, got %d", got)
	}
}

func waitForWaiters(t *testing.T, wq *WaitQ, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if wq.Waiting() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d waiters", n)
}
