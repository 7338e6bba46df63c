package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiterNeverExceedsCapacity(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		tasks    int
	}{
		{"1 of 8", 1, 8},
		{"3 of 10", 3, 10},
		{"5 of 5", 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.capacity)
			var running int32
			var peak int32
			var wg sync.WaitGroup
			for i := 0; i < tt.tasks; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := l.Acquire(context.Background()); err != nil {
						t.Error(err)
						return
					}
					defer l.Release()
					now := atomic.AddInt32(&running, 1)
					for {
						old := atomic.LoadInt32(&peak)
						if now <= old || atomic.CompareAndSwapInt32(&peak, old, now) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt32(&running, -1)
				}()
			}
			wg.Wait()
			if got := atomic.LoadInt32(&peak); got > int32(tt.capacity) {
				t.Errorf("peak running = %v, capacity %v", got, tt.capacity)
			}
			if l.Running() != 0 || l.Pending() != 0 {
				t.Errorf("limiter not drained: running=%v pending=%v", l.Running(), l.Pending())
			}
		})
	}
}

func TestLimiterFIFO(t *testing.T) {
	l := New(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = l.Acquire(context.Background())
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			l.Release()
		}(i)
		// Give each goroutine time to enqueue before the next one.
		time.Sleep(10 * time.Millisecond)
	}
	l.Release()
	wg.Wait()

	for i, n := range order {
		if n != i {
			t.Fatalf("admission order = %v, want FIFO", order)
		}
	}
}

func TestLimiterSetCapacityAdmitsWaiters(t *testing.T) {
	l := New(1)
	_ = l.Acquire(context.Background())

	admitted := make(chan struct{})
	go func() {
		_ = l.Acquire(context.Background())
		close(admitted)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-admitted:
		t.Fatal("waiter admitted beyond capacity")
	default:
	}

	l.SetCapacity(2)
	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("waiter not admitted after capacity grew")
	}
	l.Release()
	l.Release()
}

func TestLimiterShrinkKeepsRunning(t *testing.T) {
	l := New(3)
	for i := 0; i < 3; i++ {
		_ = l.Acquire(context.Background())
	}
	l.SetCapacity(1)
	if l.Running() != 3 {
		t.Errorf("running = %v after shrink, want 3", l.Running())
	}
	l.Release()
	l.Release()
	l.Release()

	// After the old tasks drained, only one slot remains.
	_ = l.Acquire(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Error("second Acquire succeeded after shrink to 1")
	}
	l.Release()
}

func TestLimiterAcquireCancelled(t *testing.T) {
	l := New(1)
	_ = l.Acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- l.Acquire(ctx)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-errc; err == nil {
		t.Fatal("Acquire returned nil after cancel")
	}
	if l.Pending() != 0 {
		t.Errorf("pending = %v after cancelled waiter, want 0", l.Pending())
	}
	l.Release()
	// The freed slot must still be usable.
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.Release()
}
