package call

import (
	"context"
	"errors"
	"sync"

	"ifindlife/internal/rtc"
)

type fakeEngine struct {
	client *fakeClient
	err    error
}

func (e *fakeEngine) CreateClient() (rtc.Client, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.client, nil
}

type fakeTrack struct {
	kind rtc.Kind
	err  error

	mu      sync.Mutex
	enabled bool
	closed  bool
}

func (t *fakeTrack) Kind() rtc.Kind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(_ context.Context, enabled bool) error {
	if t.err != nil {
		return t.err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	return nil
}

func (t *fakeTrack) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

func (t *fakeTrack) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeClient struct {
	joinErr, publishErr, sendErr error

	mu         sync.Mutex
	joined     bool
	joins      int
	leaves     int
	tracks     []*fakeTrack
	published  []rtc.Kind
	subscribed []string
	sent       [][]byte
	onRemote   func(rtc.RemoteEvent)
	onStream   func(string, []byte)
	afterJoin  func()
}

func (c *fakeClient) Join(_ context.Context, _, _, _ string) error {
	c.mu.Lock()
	c.joins++
	if c.joinErr != nil {
		c.mu.Unlock()
		return c.joinErr
	}
	c.joined = true
	afterJoin := c.afterJoin
	c.mu.Unlock()

	if afterJoin != nil {
		afterJoin()
	}
	return nil
}

func (c *fakeClient) Leave(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves++
	c.joined = false
	return nil
}

func (c *fakeClient) CreateTracks(_ context.Context, kinds ...rtc.Kind) ([]rtc.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]rtc.Track, 0, len(kinds))
	for _, k := range kinds {
		t := &fakeTrack{kind: k, enabled: true}
		c.tracks = append(c.tracks, t)
		out = append(out, t)
	}
	return out, nil
}

func (c *fakeClient) Publish(_ context.Context, tracks ...rtc.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	if !c.joined {
		return rtc.ErrNotJoined
	}
	for _, t := range tracks {
		c.published = append(c.published, t.Kind())
	}
	return nil
}

func (c *fakeClient) Subscribe(_ context.Context, uid string, _ rtc.Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, uid)
	return nil
}

func (c *fakeClient) SendStreamMessage(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeClient) OnRemoteEvent(fn func(rtc.RemoteEvent)) { c.onRemote = fn }

func (c *fakeClient) OnStreamMessage(fn func(string, []byte)) { c.onStream = fn }

func (c *fakeClient) emit(ev rtc.RemoteEvent) { c.onRemote(ev) }

func (c *fakeClient) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

var errBoom = errors.New("boom")
