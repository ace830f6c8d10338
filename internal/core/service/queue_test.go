package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/authpersist/internal/telemetry/logger"
)

func TestOperationQueue_RunsInOrder(t *testing.T) {
	q := NewOperationQueue()
	defer q.Close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		q.Go(context.Background(), func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	if err := q.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Do: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 50 {
		t.Fatalf("ran %d operations, want 50", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d", i, v)
		}
	}
}

func TestOperationQueue_DoReturnsOperationError(t *testing.T) {
	q := NewOperationQueue()
	defer q.Close()

	err := q.Do(context.Background(), func(context.Context) error { return errBoom })
	if !errors.Is(err, errBoom) {
		t.Errorf("Do() = %v, want boom", err)
	}
}

func TestOperationQueue_NoOverlap(t *testing.T) {
	q := NewOperationQueue()
	defer q.Close()

	var mu sync.Mutex
	running, peak := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				running++
				if running > peak {
					peak = running
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
}

func TestOperationQueue_SkipsCanceledOperation(t *testing.T) {
	q := NewOperationQueue()
	defer q.Close()

	release := make(chan struct{})
	q.Go(context.Background(), func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{}, 1)
	q.Go(ctx, func(context.Context) error {
		ran <- struct{}{}
		return nil
	})
	cancel()
	close(release)

	if err := q.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ran:
		t.Error("operation with canceled context ran")
	default:
	}
}

func TestOperationQueue_DoHonorsContext(t *testing.T) {
	q := NewOperationQueue()
	defer q.Close()

	release := make(chan struct{})
	q.Go(context.Background(), func(context.Context) error {
		<-release
		return nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Do(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() = %v, want DeadlineExceeded", err)
	}
}

func TestOperationQueue_Panic(t *testing.T) {
	q := NewOperationQueue()
	defer q.Close()

	err := q.Do(context.Background(), func(context.Context) error { panic("bad") })
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "bad" {
		t.Fatalf("Do() = %v, want PanicError(bad)", err)
	}
	if err := q.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Errorf("queue stopped after panic: %v", err)
	}
}

func TestOperationQueue_Close(t *testing.T) {
	q := NewOperationQueue()
	ran := make(chan struct{}, 1)
	q.Go(context.Background(), func(context.Context) error {
		ran <- struct{}{}
		return nil
	})
	q.Close()
	q.Close()

	select {
	case <-ran:
	default:
		t.Error("queued operation did not run before Close returned")
	}
	if err := q.Do(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Do() after Close = %v, want ErrQueueClosed", err)
	}
	if q.Go(context.Background(), func(context.Context) error { return nil }) {
		t.Error("Go() after Close reported true")
	}
}

func TestOperationQueue_TagsOperationID(t *testing.T) {
	q := NewOperationQueue()
	defer q.Close()

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		err := q.Do(context.Background(), func(ctx context.Context) error {
			id := logger.OperationIDFromContext(ctx)
			if id == "" {
				return errors.New("no operation id")
			}
			seen[id] = true
			return nil
		})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if len(seen) != 3 {
		t.Errorf("distinct operation ids = %d, want 3", len(seen))
	}
}
