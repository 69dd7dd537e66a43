package ipc

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"spartan/kernel"
	"spartan/kernel/errors"
	"spartan/kernel/waitq"
)

// Answerbox is the queue set owned by a task: incoming calls, dispatched
// calls awaiting an answer, notifications, and the answers list for calls
// this box's owner originated (spec §4.7, GLOSSARY "Answerbox"). It
// satisfies kernel/task.Answerbox via Close.
type Answerbox struct {
	mu            sync.Mutex
	calls         []*Call
	notifications []*Call
	dispatched    map[uuid.UUID]*Call
	answers       []*Call
	closed        bool
	wake          *waitq.WaitQ
}

// NewAnswerbox creates an empty answerbox.
func NewAnswerbox() *Answerbox {
	return &Answerbox{
		dispatched: make(map[uuid.UUID]*Call),
		wake:       waitq.NewPermanent(),
	}
}

// enqueueCall places c on the calls list (spec §4.7 step 1) and wakes any
// Receive waiting on this box.
func (b *Answerbox) enqueueCall(c *Call) *kernel.Error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.ErrNoEnt
	}
	if len(b.calls)+len(b.notifications) >= maxQueueDepth {
		b.mu.Unlock()
		return errors.ErrLimit
	}
	b.calls = append(b.calls, c)
	b.mu.Unlock()

	b.wake.Wakeup(waitq.WakeupFirst)
	return nil
}

// Notify delivers a kernel-originated asynchronous message that never
// blocks and cannot be answered (spec §4.7 "Notifications").
func (b *Answerbox) Notify(args Args) *kernel.Error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.ErrNoEnt
	}
	c := newCall(args, nil)
	c.state = CallAnswered
	b.notifications = append(b.notifications, c)
	b.mu.Unlock()

	b.wake.Wakeup(waitq.WakeupFirst)
	return nil
}

// Receive implements spec §4.7 step 2: dequeue one call (notifications
// take priority, since they represent time-sensitive kernel events like
// IRQs) or block until one arrives or timeoutUsec elapses. Dequeued
// regular calls move into dispatched; notifications are handed back
// as-is and never tracked in dispatched, since they can't be answered.
func (b *Answerbox) Receive(ctx context.Context, timeoutUsec uint64) (*Call, *kernel.Error) {
	for {
		if c, ok := b.tryDequeue(); ok {
			return c, nil
		}

		if _, err := b.wake.Sleep(ctx, timeoutUsec, waitq.FlagInterruptible); err != nil {
			return nil, err
		}
		// Woken or Immediate: loop around and re-check the queues,
		// since Wakeup has no payload and another receiver may have
		// raced us to the same call.
	}
}

func (b *Answerbox) tryDequeue() (*Call, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.notifications) > 0 {
		c := b.notifications[0]
		b.notifications = b.notifications[1:]
		return c, true
	}
	if len(b.calls) > 0 {
		c := b.calls[0]
		b.calls = b.calls[1:]
		c.mu.Lock()
		c.state = CallDispatched
		c.mu.Unlock()
		b.dispatched[c.id] = c
		return c, true
	}
	return nil, false
}

// Answer implements spec §4.7 step 3: fills answer words, moves the call
// from dispatched to the caller's answers list, and wakes the caller.
func (b *Answerbox) Answer(c *Call, retval Args) *kernel.Error {
	b.mu.Lock()
	if _, ok := b.dispatched[c.id]; !ok {
		b.mu.Unlock()
		return errors.New("ipc", errors.KindNoEnt, "call is not dispatched on this answerbox")
	}
	delete(b.dispatched, c.id)
	b.mu.Unlock()

	c.complete(retval)
	return nil
}

// Forward takes a dispatched call and routes it to a different
// answerbox without completing it (spec §4.7 "Forward"). With
// ForwardRouteFromMe, via, the call's apparent caller-facing phone
// becomes the forwarder's own phone to the new target; reply routing
// (callerBox) is always preserved, since the original sender is still the
// one sleeping on the call's replyWaitq regardless of who forwards it.
func (b *Answerbox) Forward(c *Call, newTarget *Answerbox, mode ForwardMode, via *Phone) *kernel.Error {
	b.mu.Lock()
	if _, ok := b.dispatched[c.id]; !ok {
		b.mu.Unlock()
		return errors.New("ipc", errors.KindNoEnt, "call is not dispatched on this answerbox")
	}
	delete(b.dispatched, c.id)
	b.mu.Unlock()

	c.mu.Lock()
	c.state = CallPending
	c.mu.Unlock()

	if mode == ForwardRouteFromMe && via != nil {
		via.trackPending(c)
	}

	return newTarget.enqueueCall(c)
}

// recordAnswer appends a completed call to this box's answers list, the
// Go analogue of spec §4.7's "moves the call ... to the caller's
// answerbox answers list".
func (b *Answerbox) recordAnswer(c *Call) {
	b.mu.Lock()
	b.answers = append(b.answers, c)
	b.mu.Unlock()
}

// Answers returns a snapshot of completed calls this box's owner has
// originated, for diagnostics and the testable-property invariant checks.
func (b *Answerbox) Answers() []*Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Call, len(b.answers))
	copy(out, b.answers)
	return out
}

// Close cancels every call still pending or dispatched against this box,
// auto-answering each with a hangup-equivalent error so no sender is left
// blocked forever (spec §5 "Pending IPC calls are cancelled when the
// caller task exits"). It satisfies kernel/task.Answerbox.
func (b *Answerbox) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	pending := append([]*Call(nil), b.calls...)
	for _, c := range b.dispatched {
		pending = append(pending, c)
	}
	b.calls = nil
	b.dispatched = make(map[uuid.UUID]*Call)
	b.mu.Unlock()

	for _, c := range pending {
		c.completeWithError(errors.ErrHangup)
	}
	b.wake.Wakeup(waitq.WakeupAll)
}
