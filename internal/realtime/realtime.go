// Package realtime delivers row inserts to subscribers, filtered by one field.
//
// Subscriptions are never repaired in place. When one reports an error the
// owner closes it and subscribes again; inserts that happen in between are
// not replayed.
package realtime

import (
	"context"
	"errors"
)

var ErrSubscription = errors.New("realtime: subscription failed")

// Filter selects inserts whose Field equals Value
type Filter struct {
	Field string
	Value string
}

type Subscription interface {
	Close()
}

// Source streams inserted documents of type T
type Source[T any] interface {
	Subscribe(ctx context.Context, filter Filter, onInsert func(T), onError func(error)) (Subscription, error)
}
