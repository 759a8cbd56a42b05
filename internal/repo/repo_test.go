package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"ifindlife/internal/model"
)

func TestRetryDelayIsCapped(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, retryDelay(1))
	assert.Equal(t, 400*time.Millisecond, retryDelay(2))
	assert.Equal(t, maxRetryDelay, retryDelay(10))
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), zap.NewNop(), "test", func(context.Context) error {
		calls++
		return ErrStateConflict
	})

	assert.ErrorIs(t, err, ErrStateConflict)
	assert.Equal(t, 1, calls)
}

func TestWithRetryTranslatesNoDocuments(t *testing.T) {
	err := withRetry(context.Background(), zap.NewNop(), "test", func(context.Context) error {
		return mongo.ErrNoDocuments
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithRetryCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withRetry(ctx, zap.NewNop(), "test", func(context.Context) error {
		calls++
		cancel()
		return mongo.CommandError{Labels: []string{"NetworkError"}}
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestEnsureTimeoutKeepsCallerDeadline(t *testing.T) {
	deadline := time.Now().Add(time.Minute)
	parent, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	ctx, cancel2 := ensureTimeout(parent, time.Second)
	defer cancel2()

	got, ok := ctx.Deadline()
	require.True(t, ok)
	assert.Equal(t, deadline, got)
}

func TestValidateMessage(t *testing.T) {
	now := time.Now()
	assert.NoError(t, validateMessage(NewPersistedMessage("m1", "u1", "e1", "hi", now)))
	assert.ErrorIs(t, validateMessage(nil), ErrInvalidMessage)
	assert.ErrorIs(t, validateMessage(NewPersistedMessage("m1", "u1", "e1", "   ", now)), ErrInvalidMessage)
	assert.ErrorIs(t, validateMessage(&model.PersistedMessage{ID: "m1", SenderID: "u1", Content: "x"}), ErrInvalidMessage)
}

func TestInsertGuardRejectsConcurrentDuplicate(t *testing.T) {
	m := &messageRepository{logger: zap.NewNop(), inFlightOps: make(map[string]struct{})}

	require.True(t, m.tryAcquireInFlight("m1"))
	assert.False(t, m.tryAcquireInFlight("m1"))
	m.releaseInFlight("m1")
	assert.True(t, m.tryAcquireInFlight("m1"))
}
