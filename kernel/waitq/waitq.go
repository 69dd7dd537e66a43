// Package waitq implements the canonical blocking primitive described in
// spec.md §4.3: sleep-with-timeout/cancellation, wake-one/all, and a
// missed-wakeup counter for "permanent" queues whose wakeups must not be
// lost when no one is sleeping yet. Every other blocking operation in this
// module (scheduler suspension, IPC call/answer, page-fault-on-pager) is
// built on top of a WaitQ rather than rolling its own condition variable,
// the same layering HelenOS uses (original_source's synch/syswaitq.c treats
// a waitq as a first-class kobject other subsystems build on).
package waitq

import (
	"context"
	"sync"
	"time"

	"spartan/kernel"
	"spartan/kernel/errors"
)

// WakeupMode selects how many waiters Wakeup releases.
type WakeupMode uint8

const (
	// WakeupFirst releases a single waiter, FIFO.
	WakeupFirst WakeupMode = iota
	// WakeupAll releases every current waiter.
	WakeupAll
)

// SleepFlags modifies Sleep's behavior (spec §4.3).
type SleepFlags uint8

const (
	// FlagNonBlocking consumes one pending missed wakeup instead of
	// sleeping, when one is available.
	FlagNonBlocking SleepFlags = 1 << iota
	// FlagInterruptible allows ctx cancellation to end the sleep with
	// Interrupted instead of Cancelled.
	FlagInterruptible
)

// Result reports why Sleep returned.
type Result uint8

const (
	// Woken means a matching Wakeup call released this waiter.
	Woken Result = iota
	// TimedOut means the deadline passed before any Wakeup.
	TimedOut
	// Interrupted means ctx was cancelled while FlagInterruptible was set.
	Interrupted
	// Cancelled means ctx was cancelled without FlagInterruptible.
	Cancelled
	// Immediate means a pending missed wakeup was consumed without
	// sleeping at all.
	Immediate
)

type waiter struct {
	ready  chan struct{}
	result Result
}

// WaitQ is a FIFO sleep/wakeup queue with an optional missed-wakeup
// counter. The zero value is a valid non-permanent queue; use NewPermanent
// for queues whose Wakeup calls must not be lost (spec §3 "permanent"
// waitqs, used by e.g. answerbox hangup notification).
type WaitQ struct {
	mu        sync.Mutex
	waiters   []*waiter
	missed    uint32
	permanent bool
}

// New creates a non-permanent wait queue: a Wakeup with no one sleeping is
// simply dropped.
func New() *WaitQ { return &WaitQ{} }

// NewPermanent creates a wait queue that remembers wakeups that arrive with
// no one sleeping, so a subsequent FlagNonBlocking sleep (or an ordinary
// sleep that arrives after the wakeup) observes it instead of losing it.
func NewPermanent() *WaitQ { return &WaitQ{permanent: true} }

// Sleep blocks the caller until a matching Wakeup, ctx is cancelled, or
// usec microseconds elapse (0 means block forever, subject only to ctx).
// The thread's sleeping->ready transition and the timeout/cancellation race
// against it are both serialized by wq.mu, matching spec §4.3's race-free
// requirement.
func (wq *WaitQ) Sleep(ctx context.Context, usec uint64, flags SleepFlags) (Result, *kernel.Error) {
	wq.mu.Lock()
	if wq.missed > 0 {
		wq.missed--
		wq.mu.Unlock()
		return Immediate, nil
	}

	w := &waiter{ready: make(chan struct{})}
	wq.waiters = append(wq.waiters, w)
	wq.mu.Unlock()

	var timeoutCh <-chan time.Time
	if usec > 0 {
		timer := time.NewTimer(time.Duration(usec) * time.Microsecond)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-w.ready:
		return w.result, nil
	case <-timeoutCh:
		if wq.removeIfPresent(w) {
			return TimedOut, errors.ErrTimeout
		}
		// Wakeup already claimed this waiter concurrently with the
		// timer firing; honor the wakeup rather than the timeout.
		<-w.ready
		return w.result, nil
	case <-ctx.Done():
		if wq.removeIfPresent(w) {
			if flags&FlagInterruptible != 0 {
				return Interrupted, errors.ErrIntr
			}
			return Cancelled, errors.ErrIntr
		}
		<-w.ready
		return w.result, nil
	}
}

// removeIfPresent removes w from the waiter list under wq.mu, reporting
// whether it was still there (false means a concurrent Wakeup already
// claimed it).
func (wq *WaitQ) removeIfPresent(w *waiter) bool {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	for i, cand := range wq.waiters {
		if cand == w {
			wq.waiters = append(wq.waiters[:i], wq.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Wakeup releases one or all waiters per mode. If the queue is empty and
// permanent, the wakeup is remembered as a missed wakeup instead of being
// dropped.
func (wq *WaitQ) Wakeup(mode WakeupMode) {
	wq.mu.Lock()
	if len(wq.waiters) == 0 {
		if wq.permanent {
			wq.missed++
		}
		wq.mu.Unlock()
		return
	}

	var woken []*waiter
	if mode == WakeupAll {
		woken = wq.waiters
		wq.waiters = nil
	} else {
		woken = wq.waiters[:1]
		wq.waiters = wq.waiters[1:]
	}
	wq.mu.Unlock()

	for _, w := range woken {
		w.result = Woken
		close(w.ready)
	}
}

// Waiting reports the number of threads currently asleep on wq; used by
// tests and by scheduler diagnostics.
func (wq *WaitQ) Waiting() int {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return len(wq.waiters)
}

// Missed reports the number of pending missed wakeups on a permanent queue.
func (wq *WaitQ) Missed() uint32 {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return wq.missed
}
