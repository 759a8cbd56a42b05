package call

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ifindlife/internal/model"
	"ifindlife/internal/rtc"
)

func newSession(t *testing.T, client *fakeClient, callType model.CallType) *Session {
	t.Helper()
	return NewSession(&fakeEngine{client: client}, Config{
		CallID:           "c1",
		Channel:          "call_e1_u1_1",
		Token:            "tok",
		UID:              "u1",
		DisplayName:      "Asha",
		CallType:         callType,
		AllotmentMinutes: 15,
		RatePerMinute:    2,
		TickInterval:     time.Hour,
	}, zap.NewNop())
}

func TestStartVideoCallPublishesBothTracks(t *testing.T) {
	client := &fakeClient{}
	s := newSession(t, client, model.CallTypeVideo)

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, StateJoined, s.State())
	assert.Equal(t, []rtc.Kind{rtc.KindAudio, rtc.KindVideo}, client.published)
	assert.ErrorIs(t, s.Start(context.Background()), ErrCallInProgress)
	assert.Equal(t, 1, client.joins)
}

func TestTwentyMinuteVideoCall(t *testing.T) {
	client := &fakeClient{}
	s := newSession(t, client, model.CallTypeVideo)
	require.NoError(t, s.Start(context.Background()))

	s.Advance(20 * time.Minute)
	result, err := s.End(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.CallEndResult{Success: true, Duration: 1200, Cost: Cost(1200, 900, 2)}, result)
	assert.Equal(t, StateEnded, s.State())
}

func TestSeventeenMinutesCostsTwoMinutes(t *testing.T) {
	s := newSession(t, &fakeClient{}, model.CallTypeAudio)
	require.NoError(t, s.Start(context.Background()))

	s.Advance(17 * time.Minute)
	result, err := s.End(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1020, result.Duration)
	assert.InDelta(t, 4.0, result.Cost, 1e-9)
}

func TestEndIsIdempotentAndStopsTimers(t *testing.T) {
	client := &fakeClient{}
	s := NewSession(&fakeEngine{client: client}, Config{
		UID:          "u1",
		CallType:     model.CallTypeVideo,
		TickInterval: 2 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Status().Elapsed >= 2 }, time.Second, time.Millisecond)

	first, err := s.End(context.Background())
	require.NoError(t, err)
	second, err := s.End(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, client.leaves)
	for _, tr := range client.tracks {
		assert.True(t, tr.isClosed())
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, first.Duration, s.Status().Elapsed)
}

func TestEndBeforeStart(t *testing.T) {
	client := &fakeClient{}
	s := newSession(t, client, model.CallTypeAudio)

	result, err := s.End(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Zero(t, client.leaves)
}

func TestClientUnavailable(t *testing.T) {
	s := NewSession(&fakeEngine{err: errBoom}, Config{UID: "u1"}, zap.NewNop())

	assert.ErrorIs(t, s.Start(context.Background()), ErrClientUnavailable)

	result, err := s.End(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)

	s.Chat().SetInput("hi")
	_, err = s.Chat().Send(context.Background())
	assert.ErrorIs(t, err, ErrClientUnavailable)
	assert.Equal(t, "hi", s.Chat().Input())
}

func TestJoinFailureReleasesTracksAndAllowsRetry(t *testing.T) {
	client := &fakeClient{joinErr: errBoom}
	s := newSession(t, client, model.CallTypeVideo)

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrJoinFailure)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateIdle, s.State())
	for _, tr := range client.tracks {
		assert.True(t, tr.isClosed())
	}

	client.joinErr = nil
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateJoined, s.State())
}

func TestPublishFailureLeavesChannel(t *testing.T) {
	client := &fakeClient{publishErr: errBoom}
	s := newSession(t, client, model.CallTypeAudio)

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrPublishFailure)
	assert.Equal(t, 1, client.leaves)
	assert.Equal(t, StateIdle, s.State())
}

func TestRestartAfterEnd(t *testing.T) {
	s := newSession(t, &fakeClient{}, model.CallTypeAudio)
	require.NoError(t, s.Start(context.Background()))
	s.Advance(time.Minute)
	_, err := s.End(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Zero(t, s.Status().Elapsed)
}

func TestRemoteParticipantsAreDeduplicated(t *testing.T) {
	client := &fakeClient{}
	s := newSession(t, client, model.CallTypeVideo)
	require.NoError(t, s.Start(context.Background()))

	client.emit(rtc.RemoteEvent{Type: rtc.EventUserPublished, UID: "e1", Kind: rtc.KindAudio})
	client.emit(rtc.RemoteEvent{Type: rtc.EventUserPublished, UID: "e1", Kind: rtc.KindAudio})
	client.emit(rtc.RemoteEvent{Type: rtc.EventUserPublished, UID: "e1", Kind: rtc.KindVideo})
	client.emit(rtc.RemoteEvent{Type: rtc.EventUserPublished, UID: "u1", Kind: rtc.KindAudio})

	assert.Equal(t, []model.RemoteParticipant{{UID: "e1", HasAudio: true, HasVideo: true}}, s.Status().Remote)
	assert.Equal(t, []string{"e1", "e1", "e1"}, client.subscribed)

	client.emit(rtc.RemoteEvent{Type: rtc.EventUserUnpublished, UID: "e1", Kind: rtc.KindVideo})
	assert.Equal(t, []model.RemoteParticipant{{UID: "e1", HasAudio: true}}, s.Status().Remote)

	client.emit(rtc.RemoteEvent{Type: rtc.EventUserLeft, UID: "e1"})
	assert.Empty(t, s.Status().Remote)
}

func TestTracksPublishedWhileConnectingAreSubscribed(t *testing.T) {
	client := &fakeClient{}
	s := newSession(t, client, model.CallTypeVideo)
	client.afterJoin = func() {
		client.emit(rtc.RemoteEvent{Type: rtc.EventUserPublished, UID: "e1", Kind: rtc.KindAudio})
		client.emit(rtc.RemoteEvent{Type: rtc.EventUserPublished, UID: "e1", Kind: rtc.KindVideo})
	}

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, []model.RemoteParticipant{{UID: "e1", HasAudio: true, HasVideo: true}}, s.Status().Remote)
	assert.Equal(t, []string{"e1", "e1"}, client.subscriptions())
}

func (b *Billing) isRunning() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.running
}

func TestJoinedSessionAlwaysHasRunningTimers(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := NewSession(&fakeEngine{client: &fakeClient{}}, Config{
			UID:          "u1",
			CallType:     model.CallTypeAudio,
			TickInterval: time.Millisecond,
		}, zap.NewNop())

		ended := make(chan *Billing, 1)
		go func() {
			for s.State() != StateJoined {
				time.Sleep(time.Microsecond)
			}
			_, err := s.End(context.Background())
			assert.NoError(t, err)
			s.mu.Lock()
			ended <- s.billing
			s.mu.Unlock()
		}()

		require.NoError(t, s.Start(context.Background()))
		billing := <-ended
		require.Equal(t, StateEnded, s.State())
		require.False(t, billing.isRunning(), "timers still running after End, iteration %d", i)
	}
}

func TestToggleWithoutTrackKeepsFlag(t *testing.T) {
	s := newSession(t, &fakeClient{}, model.CallTypeAudio)

	muted, err := s.ToggleMute(context.Background())
	require.NoError(t, err)
	assert.False(t, muted)

	require.NoError(t, s.Start(context.Background()))
	videoOff, err := s.ToggleVideo(context.Background())
	require.NoError(t, err)
	assert.False(t, videoOff)
	assert.False(t, s.VideoOff())
}

func TestToggleMute(t *testing.T) {
	client := &fakeClient{}
	s := newSession(t, client, model.CallTypeAudio)
	require.NoError(t, s.Start(context.Background()))

	muted, err := s.ToggleMute(context.Background())
	require.NoError(t, err)
	assert.True(t, muted)
	assert.False(t, client.tracks[0].Enabled())

	client.tracks[0].err = errBoom
	muted, err = s.ToggleMute(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, muted)
	assert.True(t, s.Muted())
}

func TestStreamMessagesReachTranscript(t *testing.T) {
	client := &fakeClient{}
	s := newSession(t, client, model.CallTypeAudio)
	require.NoError(t, s.Start(context.Background()))

	payload, err := json.Marshal(model.ChatMessage{ID: "m1", SenderID: "e1", Content: "hello"})
	require.NoError(t, err)
	client.onStream("e1", payload)

	require.Len(t, s.Chat().Transcript(), 1)

	_, err = s.End(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.Chat().Transcript())
}

func TestExtensionCallbackFiresOnce(t *testing.T) {
	var fired atomic.Int32
	s := NewSession(&fakeEngine{client: &fakeClient{}}, Config{
		UID:              "u1",
		CallType:         model.CallTypeAudio,
		AllotmentMinutes: 1,
		TickInterval:     time.Hour,
		OnExtension:      func(int) { fired.Add(1) },
	}, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))

	s.Advance(5 * time.Minute)

	assert.Equal(t, int32(1), fired.Load())
	st := s.Status()
	assert.True(t, st.NeedsExtension)
	assert.Equal(t, StateJoined, st.State)
}

func TestChannelName(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	assert.Equal(t, "call_e1_u1_1700000000123", ChannelName("e1", "u1", ts))
}
