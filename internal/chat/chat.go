// Package chat carries text messages over a call's RTC data stream. The
// transcript lives only as long as the call session that owns it.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ifindlife/internal/metrics"
	"ifindlife/internal/model"
)

var (
	ErrSendFailure  = errors.New("chat: message not sent")
	ErrEmptyMessage = errors.New("chat: message is empty")
)

// Sender is the part of an RTC client used to publish data stream payloads
type Sender interface {
	SendStreamMessage(ctx context.Context, payload []byte) error
}

type DataChannel struct {
	sender     Sender
	senderID   string
	senderName string
	logger     *zap.Logger
	now        func() time.Time

	mu         sync.Mutex
	input      string
	transcript []model.ChatMessage
	seen       map[string]struct{}
	onMessage  func(model.ChatMessage)
}

func NewDataChannel(sender Sender, senderID, senderName string, logger *zap.Logger) *DataChannel {
	return &DataChannel{
		sender:     sender,
		senderID:   senderID,
		senderName: senderName,
		logger:     logger,
		now:        time.Now,
		seen:       make(map[string]struct{}),
	}
}

func (d *DataChannel) SetInput(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.input = text
}

func (d *DataChannel) Input() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.input
}

// OnMessage registers fn to be called for every message appended by Receive
func (d *DataChannel) OnMessage(fn func(model.ChatMessage)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMessage = fn
}

// Send publishes the current input. On failure the input is restored and the
// transcript is left untouched.
func (d *DataChannel) Send(ctx context.Context) (model.ChatMessage, error) {
	d.mu.Lock()
	text := d.input
	if strings.TrimSpace(text) == "" {
		d.mu.Unlock()
		return model.ChatMessage{}, ErrEmptyMessage
	}
	d.input = ""
	d.mu.Unlock()

	msg := model.ChatMessage{
		ID:         uuid.New().String(),
		SenderID:   d.senderID,
		SenderName: d.senderName,
		Content:    text,
		Timestamp:  d.now().UnixMilli(),
	}

	payload, err := json.Marshal(msg)
	if err == nil {
		err = d.sender.SendStreamMessage(ctx, payload)
	}
	if err != nil {
		d.mu.Lock()
		d.input = text
		d.mu.Unlock()

		metrics.ChatSendFailures.Inc()
		d.logger.Warn("chat send failed", zap.String("sender_id", d.senderID), zap.Error(err))
		return model.ChatMessage{}, fmt.Errorf("%w: %w", ErrSendFailure, err)
	}

	d.mu.Lock()
	d.seen[msg.ID] = struct{}{}
	d.transcript = append(d.transcript, msg)
	d.mu.Unlock()

	metrics.ChatMessages.WithLabelValues("out").Inc()
	return msg, nil
}

// Receive appends a message decoded from a data stream payload. Malformed
// payloads and already seen ids are dropped.
func (d *DataChannel) Receive(payload []byte) (model.ChatMessage, bool) {
	var msg model.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ID == "" {
		d.logger.Debug("dropping malformed chat payload", zap.Int("size", len(payload)), zap.Error(err))
		return model.ChatMessage{}, false
	}

	d.mu.Lock()
	if _, dup := d.seen[msg.ID]; dup {
		d.mu.Unlock()
		return model.ChatMessage{}, false
	}
	d.seen[msg.ID] = struct{}{}
	d.transcript = append(d.transcript, msg)
	fn := d.onMessage
	d.mu.Unlock()

	metrics.ChatMessages.WithLabelValues("in").Inc()
	if fn != nil {
		fn(msg)
	}
	return msg, true
}

func (d *DataChannel) Transcript() []model.ChatMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.ChatMessage, len(d.transcript))
	copy(out, d.transcript)
	return out
}

// Reset discards the transcript and the pending input
func (d *DataChannel) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.input = ""
	d.transcript = nil
	d.seen = make(map[string]struct{})
}
