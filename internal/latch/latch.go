// Package latch provides a single-use quorum latch: N workers report
// completion and waiters are released either when all N have reported or
// when the K-th worker reports a payload, whichever comes first.
package latch

import (
	"context"
	"sync"
)

// State is the lifecycle state of a Latch.
type State int

const (
	Pending  State = iota
	Complete       // every worker signaled
	Released       // the payload threshold was reached first
	Expired        // Await gave up on its context before a terminal state
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Complete:
		return "complete"
	case Released:
		return "released"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// Outcome is what Await observed.
type Outcome[T any] struct {
	State    State
	Results  []T // payloads in the order they were signaled
	Reported int // workers that signaled before the latch closed
}

// Latch coordinates one round of N workers. Create a new one per round.
type Latch[T any] struct {
	mu        sync.Mutex
	expected  int
	reported  int
	threshold int // 0 means wait for all
	results   []T
	state     State
	discarded int
	done      chan struct{}
}

// NewAll returns a latch that completes once n workers have signaled.
func NewAll[T any](n int) *Latch[T] {
	return newLatch[T](n, 0)
}

// NewFirstK returns a latch over n workers that releases as soon as k of them
// have signaled with a payload. k <= 0 or k >= n behaves like NewAll.
func NewFirstK[T any](n, k int) *Latch[T] {
	if k >= n {
		k = 0
	}
	return newLatch[T](n, k)
}

func newLatch[T any](n, k int) *Latch[T] {
	if n < 0 {
		n = 0
	}
	if k < 0 {
		k = 0
	}
	l := &Latch[T]{
		expected:  n,
		threshold: k,
		done:      make(chan struct{}),
	}
	if n == 0 {
		l.state = Complete
		close(l.done)
	}
	return l
}

// Signal reports that one worker finished without a result. It returns
// false if the latch had already closed and the signal was discarded.
func (l *Latch[T]) Signal() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Pending {
		l.discarded++
		return false
	}
	l.arrive()
	return true
}

// SignalWithPayload reports that one worker finished with v. It returns
// false if the latch had already closed and v was discarded.
func (l *Latch[T]) SignalWithPayload(v T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Pending {
		l.discarded++
		return false
	}
	l.results = append(l.results, v)
	if l.threshold > 0 && len(l.results) >= l.threshold {
		l.reported++
		l.close(Released)
		return true
	}
	l.arrive()
	return true
}

// must hold mu
func (l *Latch[T]) arrive() {
	l.reported++
	if l.reported >= l.expected {
		l.close(Complete)
	}
}

// must hold mu
func (l *Latch[T]) close(s State) {
	l.state = s
	close(l.done)
}

// Done is closed once the latch leaves Pending, including on expiry.
func (l *Latch[T]) Done() <-chan struct{} { return l.done }

// Await blocks until the latch closes or ctx is done. On ctx expiry the latch
// moves to Expired and the payloads gathered so far are returned; workers
// that signal afterwards are discarded.
func (l *Latch[T]) Await(ctx context.Context) Outcome[T] {
	select {
	case <-l.done:
	case <-ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Pending {
		l.close(Expired)
	}
	out := Outcome[T]{State: l.state, Reported: l.reported}
	if len(l.results) > 0 {
		out.Results = make([]T, len(l.results))
		copy(out.Results, l.results)
	}
	return out
}

// State returns the current state.
func (l *Latch[T]) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Discarded returns how many signals arrived after the latch closed.
func (l *Latch[T]) Discarded() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.discarded
}
