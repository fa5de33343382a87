package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFIFO(t *testing.T) {
	q := New[int](0)
	for i := 0; i < 100; i++ {
		if _, err := q.Push(i); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	for i := 0; i < 100; i++ {
		got, ok := q.Pop(context.Background())
		if !ok || got != i {
			t.Fatalf("expected %d, got %d (ok=%v)", i, got, ok)
		}
	}
}

func TestBoundedDropsOldest(t *testing.T) {
	q := New[int](2)
	q.Push(1)
	q.Push(2)
	evicted, err := q.Push(3)
	if err != nil || !evicted {
		t.Fatalf("expected eviction, got evicted=%v err=%v", evicted, err)
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", q.Dropped())
	}
	first, _ := q.Pop(context.Background())
	second, _ := q.Pop(context.Background())
	if first != 2 || second != 3 {
		t.Fatalf("expected [2 3], got [%d %d]", first, second)
	}
}

func TestCloseDrainsThenStops(t *testing.T) {
	q := New[string](0)
	q.Push("a")
	q.Close()
	if _, err := q.Push("b"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if got, ok := q.Pop(context.Background()); !ok || got != "a" {
		t.Fatalf("expected queued item after close, got %q ok=%v", got, ok)
	}
	if _, ok := q.Pop(context.Background()); ok {
		t.Fatal("expected closed queue to report exhaustion")
	}
}

func TestPopHonoursContext(t *testing.T) {
	q := New[int](0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := q.Pop(ctx); ok {
		t.Fatal("expected pop to give up on context")
	}
}

func TestConcurrentProducerPreservesOrder(t *testing.T) {
	q := New[int](0)
	const n = 1000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Push(i)
		}
		q.Close()
	}()

	next := 0
	for {
		v, ok := q.Pop(context.Background())
		if !ok {
			break
		}
		if v != next {
			t.Fatalf("expected %d, got %d", next, v)
		}
		next++
	}
	wg.Wait()
	if next != n {
		t.Fatalf("expected %d items, got %d", n, next)
	}
}
