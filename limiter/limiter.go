// Package limiter provides a FIFO admission gate with a capacity that can
// be changed at runtime without preempting work already admitted.
package limiter

import (
	"context"
	"sync"
)

type waiter struct {
	ready chan struct{}
}

type Limiter struct {
	mu       sync.Mutex
	capacity int
	running  int
	waiters  []*waiter
}

func New(capacity int) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{capacity: capacity}
}

// Acquire blocks until a slot is free or ctx is done. Admission is strictly
// in call order: a later caller never overtakes an earlier one.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.running < l.capacity && len(l.waiters) == 0 {
		l.running++
		l.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, queued := range l.waiters {
			if queued == w {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		// The slot was granted between ctx firing and us taking the lock.
		l.releaseLocked()
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Release frees the caller's slot and admits the next waiter if any.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.releaseLocked()
	l.mu.Unlock()
}

func (l *Limiter) releaseLocked() {
	l.running--
	l.admitLocked()
}

func (l *Limiter) admitLocked() {
	for l.running < l.capacity && len(l.waiters) > 0 {
		w := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.running++
		close(w.ready)
	}
}

// SetCapacity applies to future admissions only; shrinking never stops a
// task that already holds a slot.
func (l *Limiter) SetCapacity(n int) {
	if n < 1 {
		return
	}
	l.mu.Lock()
	l.capacity = n
	l.admitLocked()
	l.mu.Unlock()
}

func (l *Limiter) Capacity() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity
}

func (l *Limiter) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}
