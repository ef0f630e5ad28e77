package lifelock

import "sync"

// Wrapper holds an inline value of type T alongside the LifeLock that
// guards it: the "life-locked" wrapper. Destruction order on Reset is the
// life-lock first (which waits out in-flight promotions), then the value
// itself is dropped.
type Wrapper[T any] struct {
	mu  sync.Mutex
	ll  *LifeLock[T]
	has bool
}

// NewWrapper returns a Wrapper already holding v.
func NewWrapper[T any](v T) *Wrapper[T] {
	return &Wrapper[T]{ll: New(v), has: true}
}

// Emplace destroys any value currently held (waiting out in-flight
// promotions first) and constructs a new one in its place.
func (w *Wrapper[T]) Emplace(v T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.has {
		w.ll.Destroy()
	} else {
		w.ll = &LifeLock[T]{done: make(chan struct{})}
	}
	w.ll.reinit(v)
	w.has = true
}

// Reset destroys the held value, if any, waiting for outstanding weak
// promotions to release first.
func (w *Wrapper[T]) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.has {
		return
	}
	w.ll.Destroy()
	w.has = false
}

// HasValue reports whether the wrapper currently holds a value.
func (w *Wrapper[T]) HasValue() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.has
}

// Value returns the held value and true, or the zero value and false if
// the wrapper is empty. Intended for the owning goroutine; callers that
// need a promotable reference across goroutines should use Weak.
func (w *Wrapper[T]) Value() (T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var zero T
	if !w.has {
		return zero, false
	}
	return w.ll.value, true
}

// Weak returns a weak reference to the held value, or a reference that
// always fails to promote if the wrapper is empty.
func (w *Wrapper[T]) Weak() Weak[T] {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.has {
		return Weak[T]{}
	}
	return w.ll.Weak()
}

// Lock promotes a strong reference directly from the wrapper, equivalent
// to taking a Weak and promoting it in one step.
func (w *Wrapper[T]) Lock() (Promoted[T], bool) {
	return w.Weak().Promote()
}
