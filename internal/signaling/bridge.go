// Package signaling tells a party that someone is calling them, one dialog
// at a time. Requests arriving while a dialog is open wait in a FIFO queue.
package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ifindlife/internal/event"
	"ifindlife/internal/metrics"
	"ifindlife/internal/model"
	"ifindlife/internal/notify"
	"ifindlife/internal/realtime"
)

const receiverField = "receiver_id"

// Presenter shows and clears a party's incoming call dialog
type Presenter interface {
	Show(partyID string, req model.IncomingCallRequest)
	Clear(partyID string)
}

// HubPresenter drives the dialog over the party's WebSocket connections
type HubPresenter struct {
	sender notify.UserSender
}

func NewHubPresenter(sender notify.UserSender) *HubPresenter {
	return &HubPresenter{sender: sender}
}

func (p *HubPresenter) Show(partyID string, req model.IncomingCallRequest) {
	p.sender.SendToUser(partyID, event.New(event.EventCallIncoming, req))
}

func (p *HubPresenter) Clear(partyID string) {
	p.sender.SendToUser(partyID, event.New(event.EventCallDialogCleared, event.CallDialogClearedEvent{
		Timestamp: event.Now(),
	}))
}

type Config struct {
	DialogCloseDelay time.Duration
	ResubscribeDelay time.Duration
	Now              func() time.Time
}

type Bridge struct {
	source    realtime.Source[model.IncomingCallRequest]
	presenter Presenter
	notifier  notify.Notifier
	logger    *zap.Logger
	delay     time.Duration
	now       func() time.Time

	// onError is called when the subscription dies. The bridge does not resubscribe by itself.
	onError func(error)

	mu      sync.Mutex
	party   string
	sub     realtime.Subscription
	gen     int
	current *model.IncomingCallRequest
	expiry  *time.Timer // dismisses current when it expires
	closing bool
	queue   []model.IncomingCallRequest
	seen    map[string]struct{}
}

func NewBridge(source realtime.Source[model.IncomingCallRequest], presenter Presenter, notifier notify.Notifier, cfg Config, logger *zap.Logger) *Bridge {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Bridge{
		source:    source,
		presenter: presenter,
		notifier:  notifier,
		logger:    logger,
		delay:     cfg.DialogCloseDelay,
		now:       cfg.Now,
		seen:      make(map[string]struct{}),
	}
}

// SetParty points the bridge at partyID. The old subscription is torn down and
// a new one created; inserts landing between the two are missed.
func (b *Bridge) SetParty(ctx context.Context, partyID string) error {
	b.mu.Lock()
	if partyID == b.party && b.sub != nil {
		b.mu.Unlock()
		return nil
	}
	old, oldParty := b.sub, b.party
	b.sub = nil
	b.party = partyID
	b.gen++
	gen := b.gen
	b.resetLocked()
	b.mu.Unlock()

	if old != nil {
		old.Close()
		b.logger.Info("incoming call subscription recreated, inserts during the gap are not replayed",
			zap.String("old_party", oldParty),
			zap.String("party", partyID),
		)
	}
	if partyID == "" {
		return nil
	}

	sub, err := b.source.Subscribe(ctx, realtime.Filter{Field: receiverField, Value: partyID},
		func(req model.IncomingCallRequest) { b.offer(gen, req) },
		func(err error) { b.subscriptionFailed(gen, err) },
	)
	if err != nil {
		b.logger.Error("incoming call subscription failed", zap.String("party", partyID), zap.Error(err))
		return fmt.Errorf("subscribe incoming calls for %s: %w", partyID, err)
	}

	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		sub.Close()
		return nil
	}
	b.sub = sub
	b.mu.Unlock()
	return nil
}

func (b *Bridge) resetLocked() {
	metrics.IncomingCallsQueued.Sub(float64(len(b.queue)))
	b.stopExpiryLocked()
	b.current = nil
	b.closing = false
	b.queue = nil
	b.seen = make(map[string]struct{})
}

// Offer presents req to the current party, or queues it behind the open dialog
func (b *Bridge) Offer(req model.IncomingCallRequest) {
	b.mu.Lock()
	gen := b.gen
	b.mu.Unlock()
	b.offer(gen, req)
}

func (b *Bridge) offer(gen int, req model.IncomingCallRequest) {
	now := b.now()

	b.mu.Lock()
	if gen != b.gen || req.ReceiverID != b.party {
		b.mu.Unlock()
		return
	}
	if !req.Actionable(now) {
		b.mu.Unlock()
		b.logger.Debug("ignoring stale incoming call", zap.String("request_id", req.ID), zap.String("status", string(req.Status)))
		return
	}
	if _, dup := b.seen[req.ID]; dup {
		b.mu.Unlock()
		return
	}
	b.seen[req.ID] = struct{}{}

	show := b.current == nil && !b.closing
	if show {
		cur := req
		b.current = &cur
		b.armExpiryLocked(gen, now, cur)
	} else {
		b.queue = append(b.queue, req)
		metrics.IncomingCallsQueued.Inc()
	}
	party := b.party
	b.mu.Unlock()

	if show {
		b.presenter.Show(party, req)
	}
	b.sideChannels(req)
}

func (b *Bridge) sideChannels(req model.IncomingCallRequest) {
	if b.notifier == nil {
		return
	}
	caller := req.CallerName
	if caller == "" {
		caller = "Someone"
	}
	n := notify.Notification{
		UserID: req.ReceiverID,
		Title:  "Incoming call",
		Body:   fmt.Sprintf("%s is requesting a %s call", caller, req.CallType),
		Data: map[string]string{
			"request_id": req.ID,
			"call_id":    req.CallSessionID,
			"channel":    req.ChannelName,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.notifier.Notify(ctx, n); err != nil {
		b.logger.Warn("incoming call notification failed", zap.String("request_id", req.ID), zap.Error(err))
	}
}

// Dismiss closes the dialog showing requestID. After the close delay the next
// actionable queued request is shown, or the slot is cleared.
func (b *Bridge) Dismiss(requestID string) bool {
	b.mu.Lock()
	if b.current == nil || b.current.ID != requestID {
		b.mu.Unlock()
		return false
	}
	b.stopExpiryLocked()
	b.current = nil
	b.closing = true
	gen := b.gen
	b.mu.Unlock()

	if b.delay <= 0 {
		b.advance(gen)
	} else {
		time.AfterFunc(b.delay, func() { b.advance(gen) })
	}
	return true
}

// Withdraw takes requestID away from the party: the dialog is dismissed when
// it is shown, a queued copy is dropped, and a late insert is ignored.
func (b *Bridge) Withdraw(requestID string) bool {
	if b.Dismiss(requestID) {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen[requestID] = struct{}{}
	for i, r := range b.queue {
		if r.ID == requestID {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			metrics.IncomingCallsQueued.Dec()
			return true
		}
	}
	return false
}

func (b *Bridge) armExpiryLocked(gen int, now time.Time, req model.IncomingCallRequest) {
	b.stopExpiryLocked()
	if req.ExpiresAt.IsZero() {
		return
	}
	id := req.ID
	b.expiry = time.AfterFunc(req.ExpiresAt.Sub(now), func() { b.expire(gen, id) })
}

func (b *Bridge) stopExpiryLocked() {
	if b.expiry != nil {
		b.expiry.Stop()
		b.expiry = nil
	}
}

func (b *Bridge) expire(gen int, requestID string) {
	b.mu.Lock()
	shown := gen == b.gen && b.current != nil && b.current.ID == requestID
	b.mu.Unlock()
	if !shown {
		return
	}
	if b.Dismiss(requestID) {
		b.logger.Info("incoming call expired while shown", zap.String("request_id", requestID))
	}
}

func (b *Bridge) advance(gen int) {
	now := b.now()

	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.closing = false
	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		metrics.IncomingCallsQueued.Dec()
		if next.Actionable(now) {
			b.current = &next
			b.armExpiryLocked(gen, now, next)
			break
		}
	}
	party, current := b.party, b.current
	b.mu.Unlock()

	if current != nil {
		b.presenter.Show(party, *current)
		return
	}
	b.presenter.Clear(party)
}

func (b *Bridge) subscriptionFailed(gen int, err error) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.sub = nil
	party, onError := b.party, b.onError
	b.mu.Unlock()

	b.logger.Error("incoming call subscription lost", zap.String("party", party), zap.Error(err))
	if onError != nil {
		onError(err)
	}
}

// Current returns the request whose dialog is shown, if any
func (b *Bridge) Current() (model.IncomingCallRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return model.IncomingCallRequest{}, false
	}
	return *b.current, true
}

// Queued returns the ids waiting behind the open dialog in arrival order
func (b *Bridge) Queued() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.queue))
	for _, r := range b.queue {
		ids = append(ids, r.ID)
	}
	return ids
}

func (b *Bridge) Party() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.party
}

// Close drops the subscription and any pending dialog state
func (b *Bridge) Close() {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.gen++
	b.resetLocked()
	b.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}
