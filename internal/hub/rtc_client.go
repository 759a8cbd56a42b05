package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ifindlife/internal/event"
	"ifindlife/internal/rtc"
)

const inboxSize = 256

var errInvalidStreamPayload = errors.New("rtc: stream message must be JSON")

// Engine creates RTC clients whose transport is the hub's channel rooms
type Engine struct {
	hub *Hub
}

func NewEngine(h *Hub) *Engine {
	return &Engine{hub: h}
}

func (e *Engine) CreateClient() (rtc.Client, error) {
	if e.hub.ctx.Err() != nil {
		return nil, rtc.ErrClientClosed
	}
	return &roomClient{
		id:  uuid.New().String(),
		hub: e.hub,
	}, nil
}

// roomClient joins a hub room as a peer. Room events are queued to an inbox
// and dispatched to the registered handlers on a separate goroutine.
type roomClient struct {
	id  string
	hub *Hub

	mu       sync.Mutex
	channel  string
	uid      string
	inbox    chan event.WsEvent
	stop     chan struct{}
	onRemote func(rtc.RemoteEvent)
	onStream func(uid string, payload []byte)
}

func (c *roomClient) PeerID() string { return c.id }

func (c *roomClient) UID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

func (c *roomClient) Deliver(ev event.WsEvent) bool {
	c.mu.Lock()
	inbox, stop := c.inbox, c.stop
	c.mu.Unlock()
	if inbox == nil {
		return false
	}

	select {
	case <-stop:
		return false
	case inbox <- ev:
		return true
	case <-c.hub.ctx.Done():
		return false
	}
}

func (c *roomClient) joined() (channel string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel, c.channel != ""
}

func (c *roomClient) Join(ctx context.Context, channel, token, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.hub.ctx.Err() != nil {
		return rtc.ErrClientClosed
	}
	if err := c.hub.verifier.VerifyChannel(token, channel, uid); err != nil {
		return fmt.Errorf("%w: %v", rtc.ErrInvalidToken, err)
	}

	c.mu.Lock()
	if c.channel != "" {
		c.mu.Unlock()
		return rtc.ErrAlreadyJoined
	}
	c.channel = channel
	c.uid = uid
	c.inbox = make(chan event.WsEvent, inboxSize)
	c.stop = make(chan struct{})
	inbox, stop := c.inbox, c.stop
	c.mu.Unlock()

	go c.dispatch(inbox, stop)
	c.hub.JoinRoom(channel, c)
	return nil
}

// Leave exits the room. The dispatch goroutine is signalled and not awaited.
func (c *roomClient) Leave(ctx context.Context) error {
	c.mu.Lock()
	channel := c.channel
	if channel == "" {
		c.mu.Unlock()
		return nil
	}
	c.channel = ""
	stop := c.stop
	c.mu.Unlock()

	c.hub.LeaveRoom(channel, c)
	close(stop)
	return nil
}

func (c *roomClient) dispatch(inbox <-chan event.WsEvent, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-c.hub.ctx.Done():
			return
		case ev := <-inbox:
			c.handle(ev)
		}
	}
}

func (c *roomClient) handle(ev event.WsEvent) {
	c.mu.Lock()
	onRemote, onStream := c.onRemote, c.onStream
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			c.hub.logger.Error("rtc handler panicked", zap.String("peer_id", c.id), zap.Any("panic", r))
		}
	}()

	switch ev.Event {
	case event.EventRTCUserPublished, event.EventRTCUserUnpublished:
		var payload event.RTCMediaPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || onRemote == nil {
			return
		}
		typ := rtc.EventUserPublished
		if ev.Event == event.EventRTCUserUnpublished {
			typ = rtc.EventUserUnpublished
		}
		onRemote(rtc.RemoteEvent{Type: typ, UID: payload.UID, Kind: rtc.Kind(payload.Kind)})

	case event.EventRTCUserLeft:
		var payload event.RTCPeerPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || onRemote == nil {
			return
		}
		onRemote(rtc.RemoteEvent{Type: rtc.EventUserLeft, UID: payload.UID})

	case event.EventRTCStreamMessage:
		if onStream != nil {
			onStream(ev.From, []byte(ev.Payload))
		}
	}
}

func (c *roomClient) CreateTracks(ctx context.Context, kinds ...rtc.Kind) ([]rtc.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tracks := make([]rtc.Track, 0, len(kinds))
	for _, k := range kinds {
		if k != rtc.KindAudio && k != rtc.KindVideo {
			return nil, fmt.Errorf("create track %q: %w", k, errUnknownKind)
		}
		tracks = append(tracks, &roomTrack{client: c, kind: k, enabled: true})
	}
	return tracks, nil
}

func (c *roomClient) Publish(ctx context.Context, tracks ...rtc.Track) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	channel, ok := c.joined()
	if !ok {
		return rtc.ErrNotJoined
	}
	for _, t := range tracks {
		rt, own := t.(*roomTrack)
		if !own || rt.client != c {
			return fmt.Errorf("publish %s: track belongs to another client", t.Kind())
		}
		if err := rt.publish(channel); err != nil {
			return err
		}
	}
	return nil
}

func (c *roomClient) Subscribe(ctx context.Context, uid string, kind rtc.Kind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	channel, ok := c.joined()
	if !ok {
		return rtc.ErrNotJoined
	}
	if !slices.Contains(c.hub.RoomUIDs(channel), uid) {
		return fmt.Errorf("subscribe %s/%s: %w", uid, kind, errNotInRoom)
	}
	return nil
}

func (c *roomClient) SendStreamMessage(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	channel, ok := c.joined()
	if !ok {
		return rtc.ErrNotJoined
	}
	if !json.Valid(payload) {
		return errInvalidStreamPayload
	}
	ev := event.WsEvent{
		Event:   event.EventRTCStreamMessage,
		From:    c.UID(),
		Payload: json.RawMessage(payload),
	}
	c.hub.PublishToRoom(channel, ev, c)
	return nil
}

func (c *roomClient) OnRemoteEvent(handler func(rtc.RemoteEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRemote = handler
}

func (c *roomClient) OnStreamMessage(handler func(uid string, payload []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStream = handler
}

type roomTrack struct {
	client *roomClient
	kind   rtc.Kind

	mu        sync.Mutex
	enabled   bool
	published bool
	closed    bool
}

func (t *roomTrack) Kind() rtc.Kind { return t.kind }

func (t *roomTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *roomTrack) publish(channel string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return rtc.ErrTrackClosed
	}
	t.published = true
	enabled := t.enabled
	t.mu.Unlock()

	if !enabled {
		return nil
	}
	return t.client.hub.SetPublished(channel, t.client, string(t.kind), true)
}

// SetEnabled mutes or unmutes the track. A published track is announced as
// unpublished while disabled.
func (t *roomTrack) SetEnabled(ctx context.Context, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return rtc.ErrTrackClosed
	}
	changed := t.enabled != enabled
	t.enabled = enabled
	published := t.published
	t.mu.Unlock()

	if !changed || !published {
		return nil
	}
	channel, ok := t.client.joined()
	if !ok {
		return nil
	}
	return t.client.hub.SetPublished(channel, t.client, string(t.kind), enabled)
}

func (t *roomTrack) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	announce := t.published && t.enabled
	t.mu.Unlock()

	if !announce {
		return
	}
	if channel, ok := t.client.joined(); ok {
		_ = t.client.hub.SetPublished(channel, t.client, string(t.kind), false)
	}
}
