// Package notify delivers best-effort side-channel notifications: in-app
// toasts over the WebSocket hub and permission-gated platform pushes via Redis.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ifindlife/internal/event"
)

const (
	pushPermittedKey  = "push:permitted"
	pushChannelPrefix = "push:"
)

var ErrUndelivered = errors.New("notify: no open connection for user")

type Notification struct {
	UserID string            `json:"userId"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// UserSender delivers an event to every socket of a user
type UserSender interface {
	SendToUser(userID string, ev event.WsEvent) bool
}

// Toast shows an in-app notification
type Toast struct {
	sender UserSender
}

func NewToast(sender UserSender) *Toast {
	return &Toast{sender: sender}
}

func (t *Toast) Notify(_ context.Context, n Notification) error {
	ev := event.New(event.EventToast, event.ToastEvent{
		Title:     n.Title,
		Body:      n.Body,
		Data:      n.Data,
		Timestamp: event.Now(),
	})
	if !t.sender.SendToUser(n.UserID, ev) {
		return ErrUndelivered
	}
	return nil
}

// RedisCommands is the subset of the redis client used for pushes
type RedisCommands interface {
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Push publishes platform notifications for users that granted permission.
// A push gateway subscribes to push:<user>.
type Push struct {
	rdb    RedisCommands
	logger *zap.Logger
}

func NewPush(rdb RedisCommands, logger *zap.Logger) *Push {
	return &Push{rdb: rdb, logger: logger}
}

func (p *Push) Permitted(ctx context.Context, userID string) (bool, error) {
	ok, err := p.rdb.SIsMember(ctx, pushPermittedKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("check push permission: %w", err)
	}
	return ok, nil
}

func (p *Push) SetPermission(ctx context.Context, userID string, allowed bool) error {
	var err error
	if allowed {
		err = p.rdb.SAdd(ctx, pushPermittedKey, userID).Err()
	} else {
		err = p.rdb.SRem(ctx, pushPermittedKey, userID).Err()
	}
	if err != nil {
		return fmt.Errorf("set push permission: %w", err)
	}
	return nil
}

func (p *Push) Notify(ctx context.Context, n Notification) error {
	ok, err := p.Permitted(ctx, n.UserID)
	if err != nil {
		return err
	}
	if !ok {
		p.logger.Debug("push not permitted", zap.String("user_id", n.UserID))
		return nil
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode push: %w", err)
	}
	if err := p.rdb.Publish(ctx, pushChannelPrefix+n.UserID, body).Err(); err != nil {
		return fmt.Errorf("publish push: %w", err)
	}
	return nil
}

// Multi fans a notification out. Failures are logged and never returned.
type Multi struct {
	notifiers []Notifier
	logger    *zap.Logger
}

func NewMulti(logger *zap.Logger, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, logger: logger}
}

func (m *Multi) Notify(ctx context.Context, n Notification) error {
	for _, nt := range m.notifiers {
		if err := nt.Notify(ctx, n); err != nil {
			m.logger.Warn("notification failed",
				zap.String("user_id", n.UserID),
				zap.String("notifier", fmt.Sprintf("%T", nt)),
				zap.Error(err),
			)
		}
	}
	return nil
}
