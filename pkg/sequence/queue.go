package sequence

import "container/heap"

// Heap is a binary heap ordered by less. The element for which less reports
// true against every other element is popped first.
type Heap[T any] struct {
	h inner[T]
}

type inner[T any] struct {
	items []T
	less  func(a, b T) bool
}

func (h *inner[T]) Len() int           { return len(h.items) }
func (h *inner[T]) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *inner[T]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *inner[T]) Push(x any)         { h.items = append(h.items, x.(T)) }

func (h *inner[T]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	var zero T
	old[n-1] = zero // avoid memory leak
	h.items = old[:n-1]
	return item
}

func NewHeap[T any](less func(a, b T) bool) *Heap[T] {
	return &Heap[T]{h: inner[T]{less: less}}
}

func (q *Heap[T]) Len() int { return q.h.Len() }

func (q *Heap[T]) Push(v T) { heap.Push(&q.h, v) }

func (q *Heap[T]) Pop() (T, bool) {
	if q.h.Len() == 0 {
		var zero T
		return zero, false
	}
	return heap.Pop(&q.h).(T), true
}

func (q *Heap[T]) Peek() (T, bool) {
	if q.h.Len() == 0 {
		var zero T
		return zero, false
	}
	return q.h.items[0], true
}

// Clear drops every element.
func (q *Heap[T]) Clear() {
	clear(q.h.items)
	q.h.items = q.h.items[:0]
}

// Filter drops every element for which keep reports false and restores the
// heap order.
func (q *Heap[T]) Filter(keep func(T) bool) {
	kept := q.h.items[:0]
	for _, v := range q.h.items {
		if keep(v) {
			kept = append(kept, v)
		}
	}
	clear(q.h.items[len(kept):])
	q.h.items = kept
	heap.Init(&q.h)
}
