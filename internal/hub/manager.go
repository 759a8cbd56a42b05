package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ifindlife/internal/auth"
	"ifindlife/internal/event"
	"ifindlife/internal/metrics"
	"ifindlife/internal/rtc"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

// Peer is a member of a channel room: a browser socket or an in-process RTC client
type Peer interface {
	PeerID() string
	UID() string
	Deliver(ev event.WsEvent) bool
}

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

type room struct {
	peers     map[string]Peer            // peerID -> peer
	published map[string]map[string]bool // peerID -> media kind
}

type clientBucket struct {
	sync.RWMutex
	rooms map[string]*room
}

type Hub struct {
	shards     [shardCount]*clientBucket
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage

	// userID -> clientID -> client
	onlineUsers   map[string]map[string]*Client
	onlineUsersMu sync.RWMutex

	verifier   rtc.TokenVerifier
	identities *auth.Identities
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func NewHub(verifier rtc.TokenVerifier, identities *auth.Identities, allowedOrigins []string, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		register:    make(chan *Client, 1024),
		unregister:  make(chan *Client, 1024),
		inbound:     make(chan inboundMessage, 4096), // buffer for burst handling
		onlineUsers: make(map[string]map[string]*Client),
		verifier:    verifier,
		identities:  identities,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(allowedOrigins),
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &clientBucket{
			rooms: make(map[string]*room),
		}
	}

	// run manager loop
	h.wg.Add(1)
	go h.run()

	// start worker loop
	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in := <-h.inbound:
					h.handleEvent(in.event, in.client)
				}
			}
		}()
	}

	return h
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

// handleEvent processes one event read from a browser socket
func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	switch ev.Event {
	case event.EventRTCJoin:
		var payload event.RTCJoinPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.Channel == "" {
			h.sendError(c, "invalid_payload", "channel is required")
			return
		}
		if err := h.verifier.VerifyChannel(payload.Token, payload.Channel, c.userId); err != nil {
			h.logger.Warn("channel join rejected",
				zap.String("client_id", c.ID),
				zap.String("channel", payload.Channel),
				zap.Error(err),
			)
			h.sendError(c, "invalid_token", "channel token rejected")
			return
		}
		if prev := c.Channel(); prev != "" {
			h.LeaveRoom(prev, c)
		}
		c.setChannel(payload.Channel)
		h.JoinRoom(payload.Channel, c)
		c.SafeSend(event.New(event.EventRTCJoined, event.RTCJoinPayload{Channel: payload.Channel}), sendTimeout)

	case event.EventRTCLeave:
		if channel := c.Channel(); channel != "" {
			h.LeaveRoom(channel, c)
			c.setChannel("")
		}

	case event.EventRTCPublish, event.EventRTCUnpublish:
		var payload event.RTCMediaPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			h.sendError(c, "invalid_payload", "media kind is required")
			return
		}
		channel := c.Channel()
		if channel == "" {
			h.sendError(c, "not_joined", "join a channel first")
			return
		}
		if err := h.SetPublished(channel, c, payload.Kind, ev.Event == event.EventRTCPublish); err != nil {
			h.sendError(c, "invalid_payload", err.Error())
		}

	case event.EventRTCStreamMessage:
		channel := c.Channel()
		if channel == "" {
			h.sendError(c, "not_joined", "join a channel first")
			return
		}
		h.PublishToRoom(channel, ev, c)

	default:
		h.logger.Debug("unknown event type", zap.String("event", ev.Event), zap.String("client_id", c.ID))
	}
}

func (h *Hub) sendError(c *Client, code, message string) {
	c.SafeSend(event.New(event.EventRTCError, event.CallErrorEvent{
		Error:     message,
		Code:      code,
		Timestamp: event.Now(),
	}), sendTimeout)
}

// -----------------------------------------------------------------
// Rooms
// -----------------------------------------------------------------

func getShard(channelId string) uint32 {
	if channelId == "" {
		return 0
	}

	h := sha1.Sum([]byte(channelId))
	return binary.BigEndian.Uint32(h[:4]) % shardCount
}

// JoinRoom adds p to channel and replays the tracks already published there
func (h *Hub) JoinRoom(channel string, p Peer) {
	b := h.shards[getShard(channel)]

	b.Lock()
	r, ok := b.rooms[channel]
	if !ok {
		r = &room{
			peers:     make(map[string]Peer),
			published: make(map[string]map[string]bool),
		}
		b.rooms[channel] = r
	}
	r.peers[p.PeerID()] = p

	replay := make([]event.WsEvent, 0)
	for peerID, kinds := range r.published {
		other, ok := r.peers[peerID]
		if !ok || peerID == p.PeerID() {
			continue
		}
		for kind, on := range kinds {
			if on {
				replay = append(replay, roomEvent(event.EventRTCUserPublished, channel, other.UID(),
					event.RTCMediaPayload{UID: other.UID(), Kind: kind}))
			}
		}
	}
	b.Unlock()

	for _, ev := range replay {
		p.Deliver(ev)
	}
	h.logger.Debug("peer joined channel", zap.String("peer_id", p.PeerID()), zap.String("uid", p.UID()), zap.String("channel", channel))
}

// LeaveRoom removes p from channel. user-left is announced once no peer with the same uid remains.
func (h *Hub) LeaveRoom(channel string, p Peer) {
	b := h.shards[getShard(channel)]

	b.Lock()
	r, ok := b.rooms[channel]
	if !ok {
		b.Unlock()
		return
	}
	if _, exists := r.peers[p.PeerID()]; !exists {
		b.Unlock()
		return
	}
	delete(r.peers, p.PeerID())
	delete(r.published, p.PeerID())

	uidRemains := false
	for _, other := range r.peers {
		if other.UID() == p.UID() {
			uidRemains = true
			break
		}
	}
	if len(r.peers) == 0 {
		delete(b.rooms, channel)
	}
	b.Unlock()

	if !uidRemains {
		h.PublishToRoom(channel, roomEvent(event.EventRTCUserLeft, channel, p.UID(), event.RTCPeerPayload{UID: p.UID()}), p)
	}
	h.logger.Debug("peer left channel", zap.String("peer_id", p.PeerID()), zap.String("channel", channel))
}

// SetPublished records a publish/unpublish of kind by p and announces it to the room
func (h *Hub) SetPublished(channel string, p Peer, kind string, published bool) error {
	if kind != event.MediaAudio && kind != event.MediaVideo {
		return errUnknownKind
	}

	b := h.shards[getShard(channel)]
	b.Lock()
	r, ok := b.rooms[channel]
	if !ok {
		b.Unlock()
		return errNotInRoom
	}
	if _, member := r.peers[p.PeerID()]; !member {
		b.Unlock()
		return errNotInRoom
	}
	kinds, ok := r.published[p.PeerID()]
	if !ok {
		kinds = make(map[string]bool)
		r.published[p.PeerID()] = kinds
	}
	kinds[kind] = published
	b.Unlock()

	name := event.EventRTCUserPublished
	if !published {
		name = event.EventRTCUserUnpublished
	}
	h.PublishToRoom(channel, roomEvent(name, channel, p.UID(), event.RTCMediaPayload{UID: p.UID(), Kind: kind}), p)
	return nil
}

// PublishToRoom delivers ev to every peer of channel except the sender
func (h *Hub) PublishToRoom(channel string, ev event.WsEvent, except Peer) int {
	b := h.shards[getShard(channel)]

	// collect peers while holding RLock
	b.RLock()
	r, ok := b.rooms[channel]
	if !ok || len(r.peers) == 0 {
		b.RUnlock()
		return 0
	}
	peers := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if except != nil && p.PeerID() == except.PeerID() {
			continue
		}
		peers = append(peers, p)
	}
	b.RUnlock()

	ev.ChannelId = channel
	if except != nil && ev.From == "" {
		ev.From = except.UID()
	}

	// deliver without holding lock
	delivered := 0
	for _, p := range peers {
		if p.Deliver(ev) {
			delivered++
			continue
		}
		h.logger.Warn("delivery to peer failed", zap.String("peer_id", p.PeerID()), zap.String("channel", channel))
		if c, isSocket := p.(*Client); isSocket && kickOnFull {
			h.Unregister(c)
		}
	}
	return delivered
}

// RoomUIDs lists the uids currently present in channel
func (h *Hub) RoomUIDs(channel string) []string {
	b := h.shards[getShard(channel)]
	b.RLock()
	defer b.RUnlock()

	r, ok := b.rooms[channel]
	if !ok {
		return nil
	}
	uids := make([]string, 0, len(r.peers))
	for _, p := range r.peers {
		if !slices.Contains(uids, p.UID()) {
			uids = append(uids, p.UID())
		}
	}
	slices.Sort(uids)
	return uids
}

func roomEvent(name, channel, from string, payload any) event.WsEvent {
	ev := event.New(name, payload)
	ev.ChannelId = channel
	ev.From = from
	return ev
}

// -----------------------------------------------------------------
// Users
// -----------------------------------------------------------------

func (h *Hub) addClient(c *Client) {
	h.onlineUsersMu.Lock()
	conns, ok := h.onlineUsers[c.userId]
	if !ok {
		conns = make(map[string]*Client)
		h.onlineUsers[c.userId] = conns
	}
	conns[c.ID] = c
	first := len(conns) == 1
	h.onlineUsersMu.Unlock()

	metrics.SocketConnections.Inc()
	h.logger.Info("client registered", zap.String("client_id", c.ID), zap.String("user_id", c.userId))

	if first && h.identities != nil {
		h.identities.Publish(auth.IdentityChange{UserID: c.userId, Online: true})
	}
}

func (h *Hub) removeClient(c *Client) {
	if channel := c.Channel(); channel != "" {
		h.LeaveRoom(channel, c)
		c.setChannel("")
	}

	h.onlineUsersMu.Lock()
	conns, ok := h.onlineUsers[c.userId]
	if !ok {
		h.onlineUsersMu.Unlock()
		c.Close()
		return
	}
	if _, exists := conns[c.ID]; !exists {
		h.onlineUsersMu.Unlock()
		c.Close()
		return
	}
	delete(conns, c.ID)
	last := len(conns) == 0
	if last {
		delete(h.onlineUsers, c.userId)
	}
	h.onlineUsersMu.Unlock()

	c.Close()
	metrics.SocketConnections.Dec()
	h.logger.Info("client removed", zap.String("client_id", c.ID), zap.String("user_id", c.userId))

	if last && h.identities != nil {
		h.identities.Publish(auth.IdentityChange{UserID: c.userId, Online: false})
	}
}

// Unregister schedules removal of c without blocking the caller
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	default:
		go func() {
			select {
			case h.unregister <- c:
			case <-h.ctx.Done():
			}
		}()
	}
}

// SendToUser delivers ev to every socket of userID. It reports whether any socket accepted it.
func (h *Hub) SendToUser(userID string, ev event.WsEvent) bool {
	h.onlineUsersMu.RLock()
	clients := make([]*Client, 0, len(h.onlineUsers[userID]))
	for _, c := range h.onlineUsers[userID] {
		clients = append(clients, c)
	}
	h.onlineUsersMu.RUnlock()

	if len(clients) == 0 {
		h.logger.Debug("user is offline, cannot deliver event", zap.String("user_id", userID), zap.String("event", ev.Event))
		return false
	}

	sent := false
	for _, c := range clients {
		if c.SafeSend(ev, sendTimeout) {
			sent = true
		} else {
			h.logger.Warn("failed to send event to user", zap.String("user_id", userID), zap.String("client_id", c.ID))
		}
	}
	return sent
}

// IsOnline reports whether userID has at least one open socket
func (h *Hub) IsOnline(userID string) bool {
	h.onlineUsersMu.RLock()
	defer h.onlineUsersMu.RUnlock()
	return len(h.onlineUsers[userID]) > 0
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()

		h.onlineUsersMu.RLock()
		for _, conns := range h.onlineUsers {
			for _, c := range conns {
				c.Close()
			}
		}
		h.onlineUsersMu.RUnlock()

		h.wg.Wait()
	})
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	RegisterClient(userID, conn, h)
}
