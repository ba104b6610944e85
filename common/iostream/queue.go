package iostream

// queue is a FIFO of pending operations. Only the head is ever inspected.
type queue[T any] struct {
	items []T
	head  int
}

func (q *queue[T]) Len() int {
	return len(q.items) - q.head
}

func (q *queue[T]) Push(item T) {
	q.items = append(q.items, item)
}

func (q *queue[T]) Front() *T {
	if q.Len() == 0 {
		return nil
	}
	return &q.items[q.head]
}

func (q *queue[T]) Pop() T {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 32 && q.head*2 >= len(q.items) {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return item
}

// Drain empties the queue and returns what was pending, oldest first.
func (q *queue[T]) Drain() []T {
	items := q.items[q.head:]
	q.items = nil
	q.head = 0
	return items
}
