package scanner

import (
	"context"
	"fmt"
	"sync"
)

// OverflowPolicy decides what a bounded queue does when it is full
type OverflowPolicy string

const (
	// OverflowBlock makes the producer wait for space
	OverflowBlock OverflowPolicy = "block"
	// OverflowDropOldest discards the head to make room
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

// ParseOverflowPolicy validates a configured policy name
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case OverflowBlock, OverflowDropOldest:
		return OverflowPolicy(s), nil
	case "":
		return OverflowBlock, nil
	default:
		return "", fmt.Errorf("unknown queue overflow policy: %s", s)
	}
}

// DeliveryQueue is a FIFO hand-off from the polling loop to pull-based consumers.
// A capacity of 0 means unbounded.
type DeliveryQueue struct {
	mu       sync.Mutex
	items    []AudioRecord
	capacity int
	policy   OverflowPolicy
	dropped  int64
	space    chan struct{} // closed and replaced whenever room is made
}

// NewDeliveryQueue creates a queue
func NewDeliveryQueue(capacity int, policy OverflowPolicy) *DeliveryQueue {
	if policy == "" {
		policy = OverflowBlock
	}
	return &DeliveryQueue{
		capacity: capacity,
		policy:   policy,
		space:    make(chan struct{}),
	}
}

// Push appends rec. With the block policy on a full queue it waits until a consumer
// makes room or ctx is done.
func (q *DeliveryQueue) Push(ctx context.Context, rec AudioRecord) error {
	for {
		q.mu.Lock()
		if q.capacity <= 0 || len(q.items) < q.capacity {
			q.items = append(q.items, rec)
			q.mu.Unlock()
			return nil
		}
		if q.policy == OverflowDropOldest {
			q.items[0] = AudioRecord{}
			q.items = append(q.items[1:], rec)
			q.dropped++
			q.mu.Unlock()
			return nil
		}
		space := q.space
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-space:
		}
	}
}

// TryPop removes and returns the head without waiting
func (q *DeliveryQueue) TryPop() (AudioRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return AudioRecord{}, false
	}
	rec := q.items[0]
	q.items[0] = AudioRecord{}
	q.items = q.items[1:]
	q.signalSpace()
	return rec, true
}

// Drain empties the queue and returns how many records were discarded
func (q *DeliveryQueue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	if n > 0 {
		q.signalSpace()
	}
	return n
}

// Len returns the current depth
func (q *DeliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many records the drop_oldest policy has discarded
func (q *DeliveryQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// signalSpace wakes blocked producers. Caller holds q.mu.
func (q *DeliveryQueue) signalSpace() {
	close(q.space)
	q.space = make(chan struct{})
}
