package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"ifindlife/internal/db"
	"ifindlife/internal/model"
)

var (
	ErrInvalidMessage  = errors.New("invalid message: sender, receiver and content are required")
	ErrDuplicateInsert = errors.New("duplicate insert in progress")
)

type messageRepository struct {
	mongoRepo *db.Repository[model.PersistedMessage]
	logger    *zap.Logger

	// in-flight inserts keyed by message id
	inFlightOps     map[string]struct{}
	inFlightOpsLock sync.Mutex
}

type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *model.PersistedMessage) (string, error)
	Conversation(ctx context.Context, a, b string, page int64) (*db.PaginatedResult[model.PersistedMessage], error)
	MarkRead(ctx context.Context, receiverID, senderID string) (int64, error)
}

func NewMessageRepository(repo *db.Repository[model.PersistedMessage], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		mongoRepo:   repo,
		logger:      logger,
		inFlightOps: make(map[string]struct{}),
	}
}

// -----------------------------------------------------------------------------
// InsertMessage
// -----------------------------------------------------------------------------

func (m *messageRepository) InsertMessage(ctx context.Context, msg *model.PersistedMessage) (string, error) {
	if err := validateMessage(msg); err != nil {
		return "", err
	}

	if !m.tryAcquireInFlight(msg.ID) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateInsert, msg.ID)
	}
	defer m.releaseInFlight(msg.ID)

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	err := withRetry(ctx, m.logger, "message.insert", func(ctx context.Context) error {
		_, err := m.mongoRepo.Create(ctx, *msg)
		return err
	})
	if err != nil {
		m.logger.Error("failed to insert message after all retries",
			zap.Error(err),
			zap.String("sender_id", msg.SenderID),
			zap.String("receiver_id", msg.ReceiverID),
		)
		return "", fmt.Errorf("insert message failed: %w", err)
	}

	m.logger.Debug("message inserted", zap.String("message_id", msg.ID))
	return msg.ID, nil
}

// -----------------------------------------------------------------------------
// Conversation
// -----------------------------------------------------------------------------

// Conversation pages the messages exchanged between a and b, oldest first
func (m *messageRepository) Conversation(ctx context.Context, a, b string, page int64) (*db.PaginatedResult[model.PersistedMessage], error) {
	if a == "" || b == "" {
		return nil, fmt.Errorf("%w: both parties are required", ErrInvalidArgument)
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Or(
		bson.M{"sender_id": a, "receiver_id": b},
		bson.M{"sender_id": b, "receiver_id": a},
	).Build()

	var result *db.PaginatedResult[model.PersistedMessage]
	err := withRetry(ctx, m.logger, "message.conversation", func(ctx context.Context) error {
		res, err := m.mongoRepo.FindWithPagination(ctx, filter, db.PaginationParams{
			Page:     page,
			PageSize: defaultPageSize,
			SortBy:   "created_at",
		})
		result = res
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return &db.PaginatedResult[model.PersistedMessage]{Page: page, PageSize: defaultPageSize}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filter messages failed: %w", err)
	}
	return result, nil
}

// MarkRead marks everything senderID sent to receiverID as read
func (m *messageRepository) MarkRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("receiver_id", receiverID).
		Eq("sender_id", senderID).
		Eq("read", false).
		Build()

	var modified int64
	err := withRetry(ctx, m.logger, "message.mark_read", func(ctx context.Context) error {
		res, err := m.mongoRepo.UpdateMany(ctx, filter, bson.M{"read": true})
		if err != nil {
			return err
		}
		modified = res.ModifiedCount
		return nil
	})
	return modified, err
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func (m *messageRepository) tryAcquireInFlight(key string) bool {
	m.inFlightOpsLock.Lock()
	defer m.inFlightOpsLock.Unlock()

	if _, exists := m.inFlightOps[key]; exists {
		return false
	}
	m.inFlightOps[key] = struct{}{}
	return true
}

func (m *messageRepository) releaseInFlight(key string) {
	m.inFlightOpsLock.Lock()
	defer m.inFlightOpsLock.Unlock()
	delete(m.inFlightOps, key)
}

func validateMessage(msg *model.PersistedMessage) error {
	if msg == nil || msg.ID == "" || msg.SenderID == "" || msg.ReceiverID == "" {
		return ErrInvalidMessage
	}
	if strings.TrimSpace(msg.Content) == "" {
		return ErrInvalidMessage
	}
	return nil
}

// NewPersistedMessage builds an unread message stamped with now
func NewPersistedMessage(id, sender, receiver, content string, now time.Time) *model.PersistedMessage {
	return &model.PersistedMessage{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		CreatedAt:  now,
	}
}
