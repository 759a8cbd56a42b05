package realtime

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Source. Inserts are delivered synchronously to the
// matching subscribers in subscription order.
type Memory[T any] struct {
	field func(doc T, name string) string

	mu     sync.Mutex
	nextID int
	subs   map[int]*memorySubscription[T]
}

// NewMemory returns a Memory source. field reads the named field of a document.
func NewMemory[T any](field func(doc T, name string) string) *Memory[T] {
	return &Memory[T]{
		field: field,
		subs:  make(map[int]*memorySubscription[T]),
	}
}

type memorySubscription[T any] struct {
	id       int
	owner    *Memory[T]
	filter   Filter
	onInsert func(T)
	onError  func(error)
}

func (s *memorySubscription[T]) Close() {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	delete(s.owner.subs, s.id)
}

func (m *Memory[T]) Subscribe(ctx context.Context, filter Filter, onInsert func(T), onError func(error)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscription, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &memorySubscription[T]{
		id:       m.nextID,
		owner:    m,
		filter:   filter,
		onInsert: onInsert,
		onError:  onError,
	}
	m.subs[sub.id] = sub
	m.nextID++
	return sub, nil
}

// Insert delivers doc to every subscription whose filter matches
func (m *Memory[T]) Insert(doc T) int {
	delivered := 0
	for _, sub := range m.snapshot() {
		if m.field(doc, sub.filter.Field) != sub.filter.Value {
			continue
		}
		sub.onInsert(doc)
		delivered++
	}
	return delivered
}

// Fail reports err to every subscription and drops them
func (m *Memory[T]) Fail(err error) {
	subs := m.snapshot()

	m.mu.Lock()
	m.subs = make(map[int]*memorySubscription[T])
	m.mu.Unlock()

	for _, sub := range subs {
		if sub.onError != nil {
			sub.onError(fmt.Errorf("%w: %w", ErrSubscription, err))
		}
	}
}

// Subscribers returns the number of open subscriptions
func (m *Memory[T]) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Memory[T]) snapshot() []*memorySubscription[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*memorySubscription[T], 0, len(m.subs))
	for id := 0; id < m.nextID; id++ {
		if sub, ok := m.subs[id]; ok {
			out = append(out, sub)
		}
	}
	return out
}
