package thread

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Reaper collects exiting threads out of interrupt context, freeing their
// "kernel stack" (in this simulation, just releasing the goroutine's
// resources) once Thread.Exit's entry function has actually returned.
// spec.md §4.6 assigns one reaper per CPU; Lane mirrors that by index.
type Reaper struct {
	lanes []*lane
	log   *logrus.Entry
}

type lane struct {
	mu      sync.Mutex
	pending []*Thread
	wake    chan struct{}
}

// NewReaper creates one reaper lane per CPU.
func NewReaper(numCPU int) *Reaper {
	r := &Reaper{
		lanes: make([]*lane, numCPU),
		log:   logrus.WithField("component", "reaper"),
	}
	for i := range r.lanes {
		r.lanes[i] = &lane{wake: make(chan struct{}, 1)}
	}
	return r
}

// Submit queues t for collection by cpu's reaper lane. Safe to call from
// any goroutine, including the one that just called t.Exit().
func (r *Reaper) Submit(cpu int, t *Thread) {
	l := r.lanes[cpu]
	l.mu.Lock()
	l.pending = append(l.pending, t)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drives cpu's reaper lane until ctx is cancelled, waiting for each
// pending thread's entry function to return before marking it done and
// moving to the next. A real kernel reaper runs outside interrupt context
// precisely so this wait is safe; this goroutine plays that role here.
func (r *Reaper) Run(ctx context.Context, cpu int) {
	l := r.lanes[cpu]
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
			r.drain(ctx, l)
		}
	}
}

func (r *Reaper) drain(ctx context.Context, l *lane) {
	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.mu.Unlock()
			return
		}
		t := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()

		select {
		case <-t.Done():
			t.markDone()
			r.log.WithField("id", t.ID()).Debug("reaped thread")
		case <-ctx.Done():
			return
		}
	}
}
