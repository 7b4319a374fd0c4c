package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLockManagerExclusive(t *testing.T) {
	m := NewLockManager(time.Second)
	defer m.Close()

	release, err := m.Acquire(context.Background(), "s1", "turn-1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !m.IsLocked("s1") {
		t.Fatal("session should be locked")
	}

	if _, err := m.TryAcquire("s1", "turn-2"); !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}

	release()
	if m.IsLocked("s1") {
		t.Error("session should be unlocked after release")
	}
}

func TestLockManagerFIFOOrder(t *testing.T) {
	m := NewLockManager(time.Second)
	defer m.Close()

	release, err := m.Acquire(context.Background(), "s1", "turn-0", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	const waiters = 5
	var mu sync.Mutex
	var order []int
	started := make(chan struct{}, waiters)
	done := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			started <- struct{}{}
			rel, err := m.Acquire(context.Background(), "s1", "w", 5*time.Second)
			if err != nil {
				t.Errorf("waiter %d: %v", n, err)
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			rel()
		}(i)
		// Serialize arrival so the queue order is deterministic.
		<-started
		time.Sleep(20 * time.Millisecond)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	release()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiters did not finish")
	}

	for i, n := range order {
		if n != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestLockManagerTimeout(t *testing.T) {
	m := NewLockManager(time.Second)
	defer m.Close()

	release, _ := m.Acquire(context.Background(), "s1", "turn-1", time.Second)
	defer release()

	start := time.Now()
	_, err := m.Acquire(context.Background(), "s1", "turn-2", 50*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout took too long")
	}
}

func TestLockManagerContextCancel(t *testing.T) {
	m := NewLockManager(time.Second)
	defer m.Close()

	release, _ := m.Acquire(context.Background(), "s1", "turn-1", time.Second)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx, "s1", "turn-2", 5*time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire did not return")
	}
}

func TestLockManagerAbandonedWaiterDoesNotStall(t *testing.T) {
	m := NewLockManager(time.Second)
	defer m.Close()

	release, _ := m.Acquire(context.Background(), "s1", "turn-1", time.Second)

	// This waiter times out and leaves the queue.
	if _, err := m.Acquire(context.Background(), "s1", "turn-2", 30*time.Millisecond); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	release()

	// The lock must still be acquirable after the abandoned waiter.
	rel, err := m.Acquire(context.Background(), "s1", "turn-3", time.Second)
	if err != nil {
		t.Fatalf("acquire after abandon: %v", err)
	}
	rel()
}

func TestLockManagerReleaseIdempotent(t *testing.T) {
	m := NewLockManager(time.Second)
	defer m.Close()

	release, _ := m.Acquire(context.Background(), "s1", "turn-1", time.Second)
	release()
	release() // second call is a no-op

	rel, err := m.Acquire(context.Background(), "s1", "turn-2", time.Second)
	if err != nil {
		t.Fatalf("acquire after double release: %v", err)
	}
	rel()
}

func TestLockManagerIndependentSessions(t *testing.T) {
	m := NewLockManager(time.Second)
	defer m.Close()

	rel1, err := m.Acquire(context.Background(), "s1", "a", time.Second)
	if err != nil {
		t.Fatalf("acquire s1: %v", err)
	}
	defer rel1()

	rel2, err := m.Acquire(context.Background(), "s2", "b", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("s2 must not block on s1: %v", err)
	}
	rel2()
}
