package journal

import "sync"

// Queue is a FIFO ring buffer that doubles its capacity at 70% fill, up to
// a hard limit. Once the limit is reached Push rejects new items.
type Queue[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int
	count  int
	limit  int
	closed bool

	pushed  int64
	popped  int64
	dropped int64
	resizes int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Len     int
	Cap     int
	Pushed  int64
	Popped  int64
	Dropped int64
	Resizes int
}

// NewQueue creates a queue with the given initial capacity and hard limit.
// A limit below the initial capacity is raised to it.
func NewQueue[T any](initial, limit int) *Queue[T] {
	if initial < 1 {
		initial = 1
	}
	if limit < initial {
		limit = initial
	}
	return &Queue[T]{
		buf:   make([]T, initial),
		limit: limit,
	}
}

// Push appends an item. It returns false if the queue is closed or full.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := max((len(q.buf)*70)/100, 1)
	if q.count+1 >= threshold && len(q.buf) < q.limit {
		q.grow()
	}
	if q.count == len(q.buf) {
		q.dropped++
		return false
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.pushed++
	return true
}

// Drain removes up to n items in FIFO order; n <= 0 drains everything.
func (q *Queue[T]) Drain(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	if n <= 0 || n > q.count {
		n = q.count
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i] = q.buf[q.head]
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
	}
	q.count -= n
	q.popped += int64(n)
	return out
}

// Close stops accepting items. Queued items can still be drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:     q.count,
		Cap:     len(q.buf),
		Pushed:  q.pushed,
		Popped:  q.popped,
		Dropped: q.dropped,
		Resizes: q.resizes,
	}
}

// grow doubles capacity, capped at limit. Must be called with lock held.
func (q *Queue[T]) grow() {
	newCap := min(len(q.buf)*2, q.limit)
	newBuf := make([]T, newCap)

	if q.count > 0 {
		if q.head+q.count <= len(q.buf) {
			copy(newBuf, q.buf[q.head:q.head+q.count])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.count-n])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.resizes++
}
