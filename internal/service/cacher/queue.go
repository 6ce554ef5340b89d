package cacher

import (
	"container/list"
	"context"
	"sync"

	"github.com/vertextoedge/media-stream-cache/internal/domain"
)

// Deque is the bounded download queue. New work goes to the back, retries
// to the front. A path is queued at most once.
type Deque struct {
	capacity int

	mu     sync.Mutex
	items  *list.List
	byPath map[string]*list.Element
	notify chan struct{}
}

// NewDeque creates a new queue holding at most capacity entries
func NewDeque(capacity int) *Deque {
	return &Deque{
		capacity: capacity,
		items:    list.New(),
		byPath:   make(map[string]*list.Element),
		notify:   make(chan struct{}, 1),
	}
}

// PushBack appends e. An already queued path keeps its position.
func (q *Deque) PushBack(e *Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if el, ok := q.byPath[e.Path()]; ok {
		el.Value = e
		e.markScheduled()
		return nil
	}
	if q.items.Len() >= q.capacity {
		return domain.ErrCacheFull
	}

	q.byPath[e.Path()] = q.items.PushBack(e)
	e.markScheduled()
	q.signal()
	return nil
}

// PushFront puts e at the head of the queue, moving it there if already queued
func (q *Deque) PushFront(e *Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if el, ok := q.byPath[e.Path()]; ok {
		el.Value = e
		q.items.MoveToFront(el)
		e.markScheduled()
		q.signal()
		return nil
	}
	if q.items.Len() >= q.capacity {
		return domain.ErrCacheFull
	}

	q.byPath[e.Path()] = q.items.PushFront(e)
	e.markScheduled()
	q.signal()
	return nil
}

// Take removes and returns the head of the queue, blocking until an entry
// is available or ctx is done
func (q *Deque) Take(ctx context.Context) (*Entry, error) {
	for {
		q.mu.Lock()
		if el := q.items.Front(); el != nil {
			e := q.items.Remove(el).(*Entry)
			delete(q.byPath, e.Path())
			q.mu.Unlock()
			return e, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Remove drops e if it is queued
func (q *Deque) Remove(e *Entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	el, ok := q.byPath[e.Path()]
	if !ok || el.Value.(*Entry) != e {
		return false
	}
	q.items.Remove(el)
	delete(q.byPath, e.Path())
	e.markSettled()
	return true
}

// Clear drops every queued entry and returns how many were dropped
func (q *Deque) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Len()
	for el := q.items.Front(); el != nil; el = el.Next() {
		el.Value.(*Entry).markSettled()
	}
	q.items.Init()
	q.byPath = make(map[string]*list.Element)
	return n
}

// Settle clears the scheduled flag of e unless its path was queued again
func (q *Deque) Settle(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byPath[e.Path()]; !ok {
		e.markSettled()
	}
}

// Contains reports whether path is queued
func (q *Deque) Contains(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byPath[path]
	return ok
}

// Len returns the number of queued entries
func (q *Deque) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Paths returns the queued paths from head to tail
func (q *Deque) Paths() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	paths := make([]string, 0, q.items.Len())
	for el := q.items.Front(); el != nil; el = el.Next() {
		paths = append(paths, el.Value.(*Entry).Path())
	}
	return paths
}

// Capacity returns the maximum number of queued entries
func (q *Deque) Capacity() int {
	return q.capacity
}

func (q *Deque) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
