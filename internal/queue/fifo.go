package queue

import "sync"

// OverflowPolicy decides what a full FIFO does with a new item.
type OverflowPolicy int

const (
	// DropOldest evicts the head to make room, keeping the freshest data.
	DropOldest OverflowPolicy = iota
	// DropNewest rejects the incoming item.
	DropNewest
)

// FIFO is a mutex guarded ring buffer. It is safe for one producer and one
// consumer running on different goroutines. Capacity 0 means unbounded.
type FIFO[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int
	size     int
	capacity int
	policy   OverflowPolicy
	dropped  uint64
}

func NewFIFO[T any](capacity int, policy OverflowPolicy) *FIFO[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &FIFO[T]{capacity: capacity, policy: policy}
}

// Push appends v. It returns false only when the queue is full and the
// policy is DropNewest.
func (q *FIFO[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && q.size == q.capacity {
		q.dropped++
		if q.policy == DropNewest {
			return false
		}
		var zero T
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
		q.size--
	}
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = v
	q.size++
	return true
}

func (q *FIFO[T]) grow() {
	n := len(q.buf) * 2
	if n == 0 {
		n = 16
	}
	if q.capacity > 0 && n > q.capacity {
		n = q.capacity
	}
	nb := make([]T, n)
	for i := 0; i < q.size; i++ {
		nb[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = nb
	q.head = 0
}

// Pop removes the head item. It never blocks.
func (q *FIFO[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.size == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return v, true
}

func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped counts items lost to overflow since creation.
func (q *FIFO[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear discards every queued item and returns how many there were.
func (q *FIFO[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.size
	q.buf = nil
	q.head = 0
	q.size = 0
	return n
}
