package cursor

// fifo is a plain FIFO queue. It is not safe for concurrent use; the
// Appender guards it with its own mutex.
type fifo[T any] struct {
	items []T
}

func (q *fifo[T]) push(item T) {
	q.items = append(q.items, item)
}

// pop removes and returns the front element. The boolean is false when the
// queue is empty.
func (q *fifo[T]) pop() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

func (q *fifo[T]) len() int {
	return len(q.items)
}

func (q *fifo[T]) reset() int {
	n := len(q.items)
	q.items = nil
	return n
}
