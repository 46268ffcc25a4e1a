package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDeliveryQueue_FIFO(t *testing.T) {
	q := NewDeliveryQueue(0, OverflowBlock)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if err := q.Push(ctx, AudioRecord{ID: id}); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected len 3, got %d", q.Len())
	}

	for _, want := range []int64{1, 2, 3} {
		rec, ok := q.TryPop()
		if !ok || rec.ID != want {
			t.Fatalf("expected id %d, got %d (ok=%v)", want, rec.ID, ok)
		}
	}

	if _, ok := q.TryPop(); ok {
		t.Error("TryPop on empty queue should return false")
	}
}

func TestDeliveryQueue_Drain(t *testing.T) {
	q := NewDeliveryQueue(0, OverflowBlock)
	for i := 0; i < 5; i++ {
		q.Push(context.Background(), AudioRecord{ID: int64(i)})
	}

	if n := q.Drain(); n != 5 {
		t.Errorf("expected 5 drained, got %d", n)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue after drain, got %d", q.Len())
	}
}

func TestDeliveryQueue_DropOldest(t *testing.T) {
	q := NewDeliveryQueue(2, OverflowDropOldest)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		if err := q.Push(ctx, AudioRecord{ID: id}); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	if q.Len() != 2 {
		t.Fatalf("expected len 2, got %d", q.Len())
	}
	if q.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", q.Dropped())
	}
	rec, _ := q.TryPop()
	if rec.ID != 2 {
		t.Errorf("expected oldest surviving id 2, got %d", rec.ID)
	}
}

func TestDeliveryQueue_BlockUntilSpace(t *testing.T) {
	q := NewDeliveryQueue(1, OverflowBlock)
	ctx := context.Background()
	q.Push(ctx, AudioRecord{ID: 1})

	done := make(chan error, 1)
	go func() {
		done <- q.Push(ctx, AudioRecord{ID: 2})
	}()

	select {
	case <-done:
		t.Fatal("Push should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	q.TryPop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Push did not resume after space was made")
	}

	rec, _ := q.TryPop()
	if rec.ID != 2 {
		t.Errorf("expected id 2, got %d", rec.ID)
	}
}

func TestDeliveryQueue_BlockedPushCancelled(t *testing.T) {
	q := NewDeliveryQueue(1, OverflowBlock)
	q.Push(context.Background(), AudioRecord{ID: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := q.Push(ctx, AudioRecord{ID: 2})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestDeliveryQueue_ConcurrentConsumers(t *testing.T) {
	q := NewDeliveryQueue(0, OverflowBlock)
	const total = 500
	for i := 0; i < total; i++ {
		q.Push(context.Background(), AudioRecord{ID: int64(i)})
	}

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				rec, ok := q.TryPop()
				if !ok {
					return
				}
				mu.Lock()
				seen[rec.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Errorf("expected %d distinct records, got %d", total, len(seen))
	}
}

func TestParseOverflowPolicy(t *testing.T) {
	if p, err := ParseOverflowPolicy(""); err != nil || p != OverflowBlock {
		t.Errorf("empty policy should default to block, got %q %v", p, err)
	}
	if _, err := ParseOverflowPolicy("spill"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
