package lifelock

import (
	"testing"
	"time"
)

func TestPromoteThenDestroyWaits(t *testing.T) {
	l := New(42)
	weak := l.Weak()

	p, ok := weak.Promote()
	if !ok {
		t.Fatal("expected promotion to succeed while working")
	}
	if p.Value() != 42 {
		t.Errorf("expected 42, got %v", p.Value())
	}

	destroyed := make(chan struct{})
	go func() {
		l.Destroy()
		close(destroyed)
	}()

	select {
	case <-destroyed:
		t.Fatal("Destroy returned before the promoted reference was released")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release()

	select {
	case <-destroyed:
	case <-time.After(time.Second):
		t.Fatal("Destroy did not return after release")
	}

	if l.HasValue() {
		t.Error("expected life-lock to be empty after Destroy")
	}
}

func TestPromoteFailsAfterDestroy(t *testing.T) {
	l := New("x")
	l.Destroy()

	weak := l.Weak()
	if _, ok := weak.Promote(); ok {
		t.Error("expected promotion to fail on a destroyed life-lock")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	l := New(1)
	l.Destroy()
	l.Destroy()
	if l.HasValue() {
		t.Error("expected life-lock to remain empty")
	}
}

func TestWrapperEmplaceAndReset(t *testing.T) {
	w := NewWrapper("first")
	if v, ok := w.Value(); !ok || v != "first" {
		t.Fatalf("expected (first, true), got (%v, %v)", v, ok)
	}

	w.Emplace("second")
	if v, ok := w.Value(); !ok || v != "second" {
		t.Fatalf("expected (second, true), got (%v, %v)", v, ok)
	}

	w.Reset()
	if w.HasValue() {
		t.Error("expected wrapper to be empty after Reset")
	}
	if _, ok := w.Value(); ok {
		t.Error("expected Value to report absent after Reset")
	}
}

func TestWrapperWeakBlocksReset(t *testing.T) {
	w := NewWrapper(7)
	weak := w.Weak()
	p, ok := weak.Promote()
	if !ok {
		t.Fatal("expected promotion to succeed")
	}

	resetDone := make(chan struct{})
	go func() {
		w.Reset()
		close(resetDone)
	}()

	select {
	case <-resetDone:
		t.Fatal("Reset returned before the promoted reference was released")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release()

	select {
	case <-resetDone:
	case <-time.After(time.Second):
		t.Fatal("Reset did not return after release")
	}
}

func TestConcurrentPromotions(t *testing.T) {
	l := New(9)
	weak := l.Weak()

	const n = 50
	releases := make(chan func(), n)
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		go func() {
			if p, ok := weak.Promote(); ok {
				releases <- p.Release
			} else {
				releases <- func() {}
			}
		}()
	}

	go func() {
		for i := 0; i < n; i++ {
			(<-releases)()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("concurrent promotions did not all complete")
	}

	l.Destroy()
	if l.HasValue() {
		t.Error("expected life-lock to be empty after Destroy")
	}
}
