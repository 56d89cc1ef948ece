// Package inflight limits a controller to one outstanding request at a time.
package inflight

import (
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when a request of the same kind is still in flight
var ErrBusy = errors.New("a request is already in flight")

// Guard admits a single outstanding request. The zero value is not usable; use New.
type Guard struct {
	sem *semaphore.Weighted
}

// New returns an idle guard
func New() *Guard {
	return &Guard{sem: semaphore.NewWeighted(1)}
}

// Acquire claims the guard without waiting. The returned release func must be called
// exactly once when the request completes.
func (g *Guard) Acquire() (release func(), err error) {
	if !g.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	return func() { g.sem.Release(1) }, nil
}

// Busy reports whether a request currently holds the guard
func (g *Guard) Busy() bool {
	if !g.sem.TryAcquire(1) {
		return true
	}
	g.sem.Release(1)
	return false
}
