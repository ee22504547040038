package cache

import "sync/atomic"

// Snapshot is a lock-free, read-optimized holder for an immutable value.
// Writers build a new value and Store it; readers Load whatever is current
// and keep using it for as long as they need a consistent view.
type Snapshot[T any] struct{ p atomic.Pointer[T] }

// Load returns the current value, or nil if nothing was stored yet.
func (s *Snapshot[T]) Load() *T { return s.p.Load() }

// Store atomically swaps in v. v must not be modified afterwards.
func (s *Snapshot[T]) Store(v *T) { s.p.Store(v) }

// Swap stores v and returns the previous value.
func (s *Snapshot[T]) Swap(v *T) *T { return s.p.Swap(v) }
