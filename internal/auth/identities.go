package auth

import (
	"slices"
	"sync"
)

// IdentityChange reports that a party came online or went offline on this node
type IdentityChange struct {
	UserID string
	Online bool
}

// Identities fans identity changes out to subscribers. It is constructed once in
// the container and injected where needed.
type Identities struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(IdentityChange)
}

func NewIdentities() *Identities {
	return &Identities{
		subs: make(map[int]func(IdentityChange)),
	}
}

// Subscribe registers fn and returns a function that removes it
func (i *Identities) Subscribe(fn func(IdentityChange)) (unsubscribe func()) {
	i.mu.Lock()
	id := i.nextID
	i.nextID++
	i.subs[id] = fn
	i.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			i.mu.Lock()
			delete(i.subs, id)
			i.mu.Unlock()
		})
	}
}

// Publish delivers change to every subscriber in registration order
func (i *Identities) Publish(change IdentityChange) {
	i.mu.RLock()
	ids := make([]int, 0, len(i.subs))
	for id := range i.subs {
		ids = append(ids, id)
	}
	i.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		i.mu.RLock()
		fn, ok := i.subs[id]
		i.mu.RUnlock()
		if ok {
			fn(change)
		}
	}
}
