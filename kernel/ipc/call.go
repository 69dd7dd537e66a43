package ipc

import (
	"sync"

	"github.com/google/uuid"

	"spartan/kernel"
	"spartan/kernel/waitq"
)

// CallState tracks which of the three queues (spec §8 invariant) a call
// currently sits on.
type CallState uint8

const (
	// CallPending sits on the target answerbox's calls list.
	CallPending CallState = iota
	// CallDispatched has been received by a handler but not yet
	// answered.
	CallDispatched
	// CallAnswered has completed; its answer is on the caller's
	// answerbox answers list.
	CallAnswered
)

// Call is a single six-word IPC message plus its routing metadata (spec
// §4.7, §8 invariant "k is on exactly one of {caller-answers,
// target-calls, target-dispatched}").
type Call struct {
	mu sync.Mutex

	id     uuid.UUID
	args   Args
	retval Args
	err    *kernel.Error
	state  CallState
	async  bool

	callerBox  *Answerbox
	replyWaitq *waitq.WaitQ

	// onComplete, set only for async calls, lets the originating Phone
	// release its semaphore slot and deliver the answer to Reap.
	onComplete func(*Call)
}

func newCall(args Args, callerBox *Answerbox) *Call {
	return &Call{
		id:         uuid.New(),
		args:       args,
		state:      CallPending,
		callerBox:  callerBox,
		replyWaitq: waitq.NewPermanent(),
	}
}

// Args returns the call's argument words, for a handler that received it.
func (c *Call) Args() Args {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.args
}

// State reports the call's current lifecycle stage.
func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// complete answers the call with retval, moves it onto the caller's
// answerbox answers list, and wakes anyone sleeping in CallSync (spec
// §4.7 step 3).
func (c *Call) complete(retval Args) {
	c.mu.Lock()
	c.retval = retval
	c.state = CallAnswered
	oc := c.onComplete
	box := c.callerBox
	c.mu.Unlock()

	if box != nil {
		box.recordAnswer(c)
	}
	c.replyWaitq.Wakeup(waitq.WakeupFirst)
	if oc != nil {
		oc(c)
	}
}

// completeWithError answers the call with a kernel-originated error
// (hangup, cancellation) instead of handler-supplied retval words.
func (c *Call) completeWithError(err *kernel.Error) {
	c.mu.Lock()
	c.err = err
	c.state = CallAnswered
	oc := c.onComplete
	box := c.callerBox
	c.mu.Unlock()

	if box != nil {
		box.recordAnswer(c)
	}
	c.replyWaitq.Wakeup(waitq.WakeupFirst)
	if oc != nil {
		oc(c)
	}
}
