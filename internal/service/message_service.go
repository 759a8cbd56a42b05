package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ifindlife/internal/apperr"
	"ifindlife/internal/auth"
	"ifindlife/internal/db"
	"ifindlife/internal/event"
	"ifindlife/internal/model"
	"ifindlife/internal/notify"
	"ifindlife/internal/realtime"
	"ifindlife/internal/repo"
)

// Presence reports whether a user has an open socket on this node
type Presence interface {
	IsOnline(userID string) bool
}

type MessageService interface {
	Send(ctx context.Context, senderID string, payload model.SendMessagePayload) (*model.PersistedMessage, error)
	Conversation(ctx context.Context, partyID, otherID string, page int64) (*db.PaginatedResult[model.PersistedMessage], error)
	MarkRead(ctx context.Context, readerID, senderID string) (int64, error)
}

type messageService struct {
	messages repo.MessageRepository
	sender   notify.UserSender
	presence Presence
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewMessageService(messages repo.MessageRepository, sender notify.UserSender, presence Presence, notifier notify.Notifier, logger *zap.Logger) MessageService {
	return &messageService{
		messages: messages,
		sender:   sender,
		presence: presence,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Send stores the message. Online receivers get it through their feed
// subscription; offline receivers are sent a push.
func (s *messageService) Send(ctx context.Context, senderID string, payload model.SendMessagePayload) (*model.PersistedMessage, error) {
	const op = "MessageService.Send"

	receiverID := strings.TrimSpace(payload.ReceiverID)
	if receiverID == "" || strings.TrimSpace(payload.Content) == "" {
		return nil, apperr.E(apperr.CodeInvalidArgument, op, "receiverId and content are required", nil)
	}
	if receiverID == senderID {
		return nil, apperr.E(apperr.CodeInvalidArgument, op, "cannot message yourself", nil)
	}

	msg := repo.NewPersistedMessage(uuid.New().String(), senderID, receiverID, payload.Content, s.now())
	if _, err := s.messages.InsertMessage(ctx, msg); err != nil {
		return nil, repoError(op, err)
	}

	if s.notifier != nil && s.presence != nil && !s.presence.IsOnline(receiverID) {
		n := notify.Notification{
			UserID: receiverID,
			Title:  "New message",
			Body:   preview(msg.Content),
			Data:   map[string]string{"message_id": msg.ID, "sender_id": senderID},
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Warn("message push failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
	return msg, nil
}

func preview(content string) string {
	const limit = 80
	r := []rune(content)
	if len(r) <= limit {
		return content
	}
	return string(r[:limit]) + "…"
}

func (s *messageService) Conversation(ctx context.Context, partyID, otherID string, page int64) (*db.PaginatedResult[model.PersistedMessage], error) {
	if page < 1 {
		page = 1
	}
	result, err := s.messages.Conversation(ctx, partyID, otherID, page)
	if err != nil {
		return nil, repoError("MessageService.Conversation", err)
	}
	return result, nil
}

// MarkRead marks senderID's messages to readerID as read and tells the sender
func (s *messageService) MarkRead(ctx context.Context, readerID, senderID string) (int64, error) {
	const op = "MessageService.MarkRead"
	if senderID == "" {
		return 0, apperr.E(apperr.CodeInvalidArgument, op, "senderId is required", nil)
	}

	n, err := s.messages.MarkRead(ctx, readerID, senderID)
	if err != nil {
		return 0, repoError(op, err)
	}
	if n > 0 {
		s.sender.SendToUser(senderID, event.New(event.EventMessageRead, model.MessagesRead{
			ReaderID:  readerID,
			SenderID:  senderID,
			Count:     n,
			Timestamp: event.Now(),
		}))
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// MessageFeed
// -----------------------------------------------------------------------------

const messageReceiverField = "receiver_id"

// MessageFeed holds one insert subscription per online user and pushes every
// new message addressed to them as a message:new event.
type MessageFeed struct {
	source           realtime.Source[model.PersistedMessage]
	sender           notify.UserSender
	logger           *zap.Logger
	resubscribeDelay time.Duration

	changes chan auth.IdentityChange

	mu          sync.Mutex
	subs        map[string]realtime.Subscription
	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewMessageFeed(source realtime.Source[model.PersistedMessage], sender notify.UserSender, logger *zap.Logger) *MessageFeed {
	return &MessageFeed{
		source:           source,
		sender:           sender,
		logger:           logger,
		resubscribeDelay: time.Second,
		changes:          make(chan auth.IdentityChange, 1024),
		subs:             make(map[string]realtime.Subscription),
	}
}

// Start follows identity changes until ctx is done or Stop is called
func (f *MessageFeed) Start(ctx context.Context, identities *auth.Identities) {
	ctx, cancel := context.WithCancel(ctx)
	unsubscribe := identities.Subscribe(func(change auth.IdentityChange) {
		select {
		case f.changes <- change:
		case <-ctx.Done():
		}
	})

	f.mu.Lock()
	f.unsubscribe = unsubscribe
	f.cancel = cancel
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case change := <-f.changes:
				if change.Online {
					f.Follow(ctx, change.UserID)
				} else {
					f.Unfollow(change.UserID)
				}
			}
		}
	}()
}

// Follow subscribes to inserts addressed to userID
func (f *MessageFeed) Follow(ctx context.Context, userID string) {
	f.mu.Lock()
	if _, ok := f.subs[userID]; ok {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	var sub realtime.Subscription
	sub, err := f.source.Subscribe(ctx, realtime.Filter{Field: messageReceiverField, Value: userID},
		func(msg model.PersistedMessage) {
			f.sender.SendToUser(userID, event.New(event.EventMessageNew, model.MessageNewEvent{
				Message:   msg,
				Timestamp: event.Now(),
			}))
		},
		func(err error) {
			f.logger.Warn("message feed subscription lost", zap.String("user_id", userID), zap.Error(err))
			f.refollow(ctx, userID, sub)
		},
	)
	if err != nil {
		f.logger.Error("message feed subscription failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	f.mu.Lock()
	if _, ok := f.subs[userID]; ok {
		f.mu.Unlock()
		sub.Close()
		return
	}
	f.subs[userID] = sub
	f.mu.Unlock()
}

func (f *MessageFeed) refollow(ctx context.Context, userID string, failed realtime.Subscription) {
	f.mu.Lock()
	if f.subs[userID] != failed {
		f.mu.Unlock()
		return
	}
	delete(f.subs, userID)
	f.mu.Unlock()

	time.AfterFunc(f.resubscribeDelay, func() {
		if ctx.Err() != nil {
			return
		}
		f.Follow(ctx, userID)
	})
}

func (f *MessageFeed) Unfollow(userID string) {
	f.mu.Lock()
	sub, ok := f.subs[userID]
	delete(f.subs, userID)
	f.mu.Unlock()

	if ok {
		sub.Close()
	}
}

func (f *MessageFeed) Following(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[userID]
	return ok
}

func (f *MessageFeed) Stop() {
	f.mu.Lock()
	unsubscribe, cancel := f.unsubscribe, f.cancel
	subs := f.subs
	f.subs = make(map[string]realtime.Subscription)
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	for _, sub := range subs {
		sub.Close()
	}
	f.wg.Wait()
}
