package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ifindlife/internal/apperr"
	"ifindlife/internal/auth"
	"ifindlife/internal/event"
	"ifindlife/internal/model"
	"ifindlife/internal/notify"
	"ifindlife/internal/realtime"
)

type capturingNotifier struct {
	notes []notify.Notification
}

func (c *capturingNotifier) Notify(_ context.Context, n notify.Notification) error {
	c.notes = append(c.notes, n)
	return nil
}

func messageField(m model.PersistedMessage, name string) string {
	if name == messageReceiverField {
		return m.ReceiverID
	}
	return ""
}

func TestSendPushesOnlyToOfflineReceivers(t *testing.T) {
	messages := &fakeMessages{}
	sender := &recordingSender{online: map[string]bool{"e1": true}}
	notifier := &capturingNotifier{}
	svc := NewMessageService(messages, sender, sender, notifier, zap.NewNop())
	ctx := context.Background()

	msg, err := svc.Send(ctx, "u1", model.SendMessagePayload{ReceiverID: "e1", Content: "are you free at 5?"})
	require.NoError(t, err)
	assert.Equal(t, "u1", msg.SenderID)
	assert.False(t, msg.Read)
	assert.Empty(t, notifier.notes)

	_, err = svc.Send(ctx, "e1", model.SendMessagePayload{ReceiverID: "u1", Content: "yes"})
	require.NoError(t, err)
	require.Len(t, notifier.notes, 1)
	assert.Equal(t, "u1", notifier.notes[0].UserID)
	assert.Equal(t, "yes", notifier.notes[0].Body)

	page, err := svc.Conversation(ctx, "u1", "e1", 0)
	require.NoError(t, err)
	assert.Len(t, page.Data, 2)
	assert.EqualValues(t, 1, page.Page)
}

func TestSendValidation(t *testing.T) {
	svc := NewMessageService(&fakeMessages{}, &recordingSender{}, nil, nil, zap.NewNop())

	_, err := svc.Send(context.Background(), "u1", model.SendMessagePayload{ReceiverID: "e1", Content: "  "})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument))
	_, err = svc.Send(context.Background(), "u1", model.SendMessagePayload{ReceiverID: "u1", Content: "hi"})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument))
}

func TestMarkReadTellsTheSender(t *testing.T) {
	messages := &fakeMessages{}
	sender := &recordingSender{}
	svc := NewMessageService(messages, sender, sender, nil, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Send(ctx, "u1", model.SendMessagePayload{ReceiverID: "e1", Content: "one"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, "u1", model.SendMessagePayload{ReceiverID: "e1", Content: "two"})
	require.NoError(t, err)

	n, err := svc.MarkRead(ctx, "e1", "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, []string{event.EventMessageRead}, sender.names("u1"))

	n, err = svc.MarkRead(ctx, "e1", "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, sender.names("u1"), 1)
}

func TestMessageFeedFollowsOnlineUsers(t *testing.T) {
	source := realtime.NewMemory(messageField)
	sender := &recordingSender{}
	identities := auth.NewIdentities()
	feed := NewMessageFeed(source, sender, zap.NewNop())
	feed.Start(context.Background(), identities)
	t.Cleanup(feed.Stop)

	messages := &fakeMessages{onSave: func(m model.PersistedMessage) { source.Insert(m) }}
	svc := NewMessageService(messages, sender, sender, nil, zap.NewNop())

	identities.Publish(auth.IdentityChange{UserID: "e1", Online: true})
	require.Eventually(t, func() bool { return feed.Following("e1") }, time.Second, time.Millisecond)

	_, err := svc.Send(context.Background(), "u1", model.SendMessagePayload{ReceiverID: "e1", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{event.EventMessageNew}, sender.names("e1"))

	identities.Publish(auth.IdentityChange{UserID: "e1", Online: false})
	require.Eventually(t, func() bool { return !feed.Following("e1") }, time.Second, time.Millisecond)

	_, err = svc.Send(context.Background(), "u1", model.SendMessagePayload{ReceiverID: "e1", Content: "still there?"})
	require.NoError(t, err)
	assert.Len(t, sender.names("e1"), 1)
}

func TestMessageFeedResubscribesAfterFailure(t *testing.T) {
	source := realtime.NewMemory(messageField)
	feed := NewMessageFeed(source, &recordingSender{}, zap.NewNop())
	feed.resubscribeDelay = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	feed.Follow(ctx, "e1")
	require.Equal(t, 1, source.Subscribers())

	source.Fail(errors.New("change stream closed"))
	assert.False(t, feed.Following("e1"))

	require.Eventually(t, func() bool {
		return feed.Following("e1") && source.Subscribers() == 1
	}, time.Second, time.Millisecond)
}
