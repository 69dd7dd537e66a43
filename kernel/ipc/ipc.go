// Package ipc implements the synchronous/asynchronous call protocol from
// spec.md §4.7: phones as send endpoints, answerboxes as the queue set a
// task receives on, six-word call argument encoding, forwarding, kernel
// notifications, and hangup auto-answer. The teacher has no IPC layer of
// its own (a freestanding single-image kernel has nothing to call), so the
// message-passing shape is grounded on the request/response channel
// pairing in other_examples' supervisor.go, rebuilt around
// kernel/waitq.WaitQ as the actual suspension primitive rather than a bare
// Go channel, since a caller must be cancellable/timeoutable the same way
// every other kernel sleep is (spec §5 "Suspension points").
package ipc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"spartan/kernel"
	"spartan/kernel/errors"
	"spartan/kernel/waitq"
)

// FirstUserMethod is the lowest imethod value available to user code;
// values below it are reserved for the kernel (spec §6).
const FirstUserMethod = 1024

// Kernel-reserved imethod values (spec §6).
const (
	MethodPhoneHungup uint64 = iota
	MethodConnectToMe
	MethodConnectMeTo
	MethodDataRead
	MethodDataWrite
	MethodPageIn
)

// maxQueueDepth bounds an answerbox's pending call queue (spec §7
// LIMIT "IPC queue depth").
const maxQueueDepth = 4096

// maxAsyncInFlight is the fixed per-phone cap on outstanding async calls
// (spec §4.7 "Each phone caps in-flight async calls at a fixed number"),
// matching original_source's IPC_MAX_ASYNC_CALLS.
const maxAsyncInFlight = 64

// Args is the six-machine-word call argument encoding (spec §6): IMethod
// doubles as Retval on the answer path, matching "one of these doubles as
// retval".
type Args struct {
	IMethod uint64
	Arg1    uint64
	Arg2    uint64
	Arg3    uint64
	Arg4    uint64
	Arg5    uint64
}

// ForwardMode modifies Forward's routing (spec §4.7).
type ForwardMode uint8

const (
	// ForwardKeepPhone preserves the call's original apparent phone.
	ForwardKeepPhone ForwardMode = iota
	// ForwardRouteFromMe makes the call's apparent phone the
	// forwarder's own connection to the new target.
	ForwardRouteFromMe
)

// PhoneState is a phone's connection lifecycle.
type PhoneState uint8

const (
	PhoneConnected PhoneState = iota
	PhoneHungUp
)

// Phone is a unidirectional send endpoint referring to a target
// answerbox (spec §4.7 "Phone lifecycle").
type Phone struct {
	mu       sync.Mutex
	target   *Answerbox
	state    PhoneState
	pending  map[uuid.UUID]*Call
	asyncSem *semaphore.Weighted
	asyncRx  map[uuid.UUID]chan *Call
}

// Connect installs a new phone pointed at target (spec §6
// IPC_CONNECT_ME_TO).
func Connect(target *Answerbox) *Phone {
	return &Phone{
		target:   target,
		state:    PhoneConnected,
		pending:  make(map[uuid.UUID]*Call),
		asyncSem: semaphore.NewWeighted(maxAsyncInFlight),
		asyncRx:  make(map[uuid.UUID]chan *Call),
	}
}

// Hangup drops the phone's connection (spec §6 IPC_HANGUP). Every call
// still pending on it is auto-answered with HANGUP so its sender unblocks
// (spec §4.7 "Phone lifecycle").
func (p *Phone) Hangup() {
	p.mu.Lock()
	if p.state == PhoneHungUp {
		p.mu.Unlock()
		return
	}
	p.state = PhoneHungUp
	pending := make([]*Call, 0, len(p.pending))
	for _, c := range p.pending {
		pending = append(pending, c)
	}
	p.pending = make(map[uuid.UUID]*Call)
	p.mu.Unlock()

	for _, c := range pending {
		c.completeWithError(errors.ErrHangup)
	}
}

func (p *Phone) checkConnected() *kernel.Error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PhoneHungUp {
		return errors.ErrHangup
	}
	return nil
}

func (p *Phone) trackPending(c *Call) {
	p.mu.Lock()
	p.pending[c.id] = c
	p.mu.Unlock()
}

func (p *Phone) untrackPending(c *Call) {
	p.mu.Lock()
	delete(p.pending, c.id)
	p.mu.Unlock()
}

// CallSync implements spec §4.7's synchronous call flow steps 1-3 from the
// caller's side: enqueue a call on target's calls list and sleep on a
// private waitq until a handler answers it (or the phone hangs up, or ctx
// is cancelled).
func (p *Phone) CallSync(ctx context.Context, callerBox *Answerbox, args Args) (Args, *kernel.Error) {
	if err := p.checkConnected(); err != nil {
		return Args{}, err
	}

	c := newCall(args, callerBox)
	p.trackPending(c)
	defer p.untrackPending(c)

	if err := p.target.enqueueCall(c); err != nil {
		return Args{}, err
	}

	if _, err := c.replyWaitq.Sleep(ctx, 0, waitq.FlagInterruptible); err != nil {
		return Args{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return Args{}, c.err
	}
	return c.retval, nil
}

// CallAsync implements the async half of spec §4.7: the caller does not
// sleep. It returns a handle the caller later reaps via Reap. The
// semaphore weight is released as soon as the call completes (answered by
// its handler, or auto-answered by Hangup), before Reap collects it.
func (p *Phone) CallAsync(ctx context.Context, callerBox *Answerbox, args Args) (*Call, *kernel.Error) {
	if err := p.checkConnected(); err != nil {
		return nil, err
	}
	if err := p.asyncSem.Acquire(ctx, 1); err != nil {
		return nil, errors.ErrLimit
	}

	c := newCall(args, callerBox)
	c.async = true
	rx := make(chan *Call, 1)

	p.mu.Lock()
	p.pending[c.id] = c
	p.asyncRx[c.id] = rx
	p.mu.Unlock()

	c.onComplete = func(done *Call) {
		p.mu.Lock()
		delete(p.pending, done.id)
		ch := p.asyncRx[done.id]
		delete(p.asyncRx, done.id)
		p.mu.Unlock()
		p.asyncSem.Release(1)
		if ch != nil {
			ch <- done
		}
	}

	if err := p.target.enqueueCall(c); err != nil {
		p.mu.Lock()
		delete(p.pending, c.id)
		delete(p.asyncRx, c.id)
		p.mu.Unlock()
		p.asyncSem.Release(1)
		return nil, err
	}
	return c, nil
}

// Reap blocks until c's async call completes, returning its answer words.
func (p *Phone) Reap(ctx context.Context, c *Call) (Args, *kernel.Error) {
	p.mu.Lock()
	rx := p.asyncRx[c.id]
	p.mu.Unlock()
	if rx == nil {
		// Already completed (and collected the channel) before Reap
		// was called; read the result directly.
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.err != nil {
			return Args{}, c.err
		}
		return c.retval, nil
	}

	select {
	case <-ctx.Done():
		return Args{}, errors.ErrIntr
	case done := <-rx:
		done.mu.Lock()
		defer done.mu.Unlock()
		if done.err != nil {
			return Args{}, done.err
		}
		return done.retval, nil
	}
}
