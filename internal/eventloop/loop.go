// Package eventloop runs posted callbacks one at a time on a single goroutine.
//
// It stands in for a UI thread: every mutation of session state is posted here,
// while network calls run elsewhere and post their continuation on completion.
package eventloop

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrStopped is returned when work is posted after the loop has exited
var ErrStopped = errors.New("event loop stopped")

const (
	callPending int32 = iota
	callRunning
	callAbandoned
)

// Loop serializes callbacks. Create with New and start with Run.
type Loop struct {
	events chan func()
	done   chan struct{}
}

// New returns a loop whose queue holds up to backlog pending callbacks
func New(backlog int) *Loop {
	if backlog < 1 {
		backlog = 64
	}
	return &Loop{
		events: make(chan func(), backlog),
		done:   make(chan struct{}),
	}
}

// Run processes callbacks until ctx is cancelled. It must be called at most once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.events:
			fn()
		}
	}
}

// Post queues fn without waiting for it to run
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.events <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Call runs fn on the loop and waits for it to finish.
// When Call returns an error fn has not run and never will; when it returns nil fn ran to
// completion. It must not be called from a callback already running on the loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var claim atomic.Int32 // callPending, callRunning or callAbandoned
	finished := make(chan struct{})
	run := func() {
		if !claim.CompareAndSwap(callPending, callRunning) {
			return
		}
		defer close(finished)
		fn()
	}
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.events <- run:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	// abandon reports whether fn was withdrawn before the loop picked it up.
	// Otherwise fn is running and the caller waits for it.
	abandon := func() bool {
		if claim.CompareAndSwap(callPending, callAbandoned) {
			return true
		}
		<-finished
		return false
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		if abandon() {
			return ErrStopped
		}
		return nil
	case <-ctx.Done():
		if abandon() {
			return ctx.Err()
		}
		return nil
	}
}

// Done is closed once Run returns
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
