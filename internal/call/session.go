// Package call owns one participant's side of a consultation: the RTC client,
// local tracks, the remote participant list, billing timers and the in-call chat.
package call

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"ifindlife/internal/chat"
	"ifindlife/internal/metrics"
	"ifindlife/internal/model"
	"ifindlife/internal/rtc"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateJoined     State = "joined"
	StateEnding     State = "ending"
	StateEnded      State = "ended"
)

type Config struct {
	CallID      string
	Channel     string
	Token       string
	UID         string
	DisplayName string
	CallType    model.CallType

	AllotmentMinutes int
	RatePerMinute    float64
	TickInterval     time.Duration
	OnExtension      func(elapsedSec int)
}

// Status is a point-in-time view of a session
type Status struct {
	State          State
	Muted          bool
	VideoOff       bool
	Elapsed        int
	Remaining      int
	Cost           float64
	NeedsExtension bool
	Remote         []model.RemoteParticipant
}

type Session struct {
	cfg    Config
	client rtc.Client
	chat   *chat.DataChannel
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	audio    rtc.Track
	video    rtc.Track
	muted    bool
	videoOff bool
	remote   []model.RemoteParticipant
	billing  *Billing
	result   *model.CallEndResult
}

// NewSession creates the session's RTC client. A client that cannot be created
// leaves the session unusable: Start reports ErrClientUnavailable.
func NewSession(engine rtc.Engine, cfg Config, logger *zap.Logger) *Session {
	if cfg.AllotmentMinutes <= 0 {
		cfg.AllotmentMinutes = 15
	}
	logger = logger.With(zap.String("call_id", cfg.CallID), zap.String("uid", cfg.UID))

	s := &Session{
		cfg:    cfg,
		logger: logger,
		state:  StateIdle,
	}

	client, err := engine.CreateClient()
	if err != nil {
		logger.Warn("rtc client unavailable", zap.Error(err))
		s.chat = chat.NewDataChannel(unavailableSender{}, cfg.UID, cfg.DisplayName, logger)
		return s
	}

	s.client = client
	s.chat = chat.NewDataChannel(client, cfg.UID, cfg.DisplayName, logger)
	client.OnRemoteEvent(s.handleRemote)
	client.OnStreamMessage(func(_ string, payload []byte) {
		s.chat.Receive(payload)
	})
	return s
}

func (s *Session) Config() Config { return s.cfg }

func (s *Session) Chat() *chat.DataChannel { return s.chat }

// Start creates local tracks, joins the channel, publishes and starts billing
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.client == nil {
		s.mu.Unlock()
		return ErrClientUnavailable
	}
	switch s.state {
	case StateConnecting, StateJoined, StateEnding:
		s.mu.Unlock()
		return ErrCallInProgress
	}
	s.state = StateConnecting
	s.result = nil
	s.remote = nil
	s.muted = false
	s.videoOff = false
	s.mu.Unlock()

	kinds := []rtc.Kind{rtc.KindAudio}
	if s.cfg.CallType == model.CallTypeVideo {
		kinds = append(kinds, rtc.KindVideo)
	}

	tracks, err := s.client.CreateTracks(ctx, kinds...)
	if err != nil {
		s.abort(nil, false)
		metrics.CallsFailed.WithLabelValues("tracks").Inc()
		return fmt.Errorf("%w: create tracks: %w", ErrJoinFailure, err)
	}

	if err := s.client.Join(ctx, s.cfg.Channel, s.cfg.Token, s.cfg.UID); err != nil {
		s.abort(tracks, false)
		metrics.CallsFailed.WithLabelValues("join").Inc()
		return fmt.Errorf("%w: %w", ErrJoinFailure, err)
	}

	if err := s.client.Publish(ctx, tracks...); err != nil {
		s.abort(tracks, true)
		metrics.CallsFailed.WithLabelValues("publish").Inc()
		return fmt.Errorf("%w: %w", ErrPublishFailure, err)
	}

	billing := NewBilling(BillingConfig{
		AllotmentMinutes: s.cfg.AllotmentMinutes,
		RatePerMinute:    s.cfg.RatePerMinute,
		TickInterval:     s.cfg.TickInterval,
		OnExtension:      s.cfg.OnExtension,
	}, s.logger)

	s.mu.Lock()
	for _, t := range tracks {
		switch t.Kind() {
		case rtc.KindAudio:
			s.audio = t
		case rtc.KindVideo:
			s.video = t
		}
	}
	s.billing = billing
	// timers run before End can observe joined
	billing.Start()
	s.state = StateJoined
	pending := remoteMedia(s.remote)
	s.mu.Unlock()

	// remote tracks published while connecting
	for _, m := range pending {
		if err := s.client.Subscribe(ctx, m.uid, m.kind); err != nil {
			s.logger.Warn("subscribe to remote track failed", zap.String("remote_uid", m.uid), zap.Error(err))
		}
	}

	metrics.CallsStarted.WithLabelValues(string(s.cfg.CallType)).Inc()
	metrics.ActiveCalls.Inc()
	s.logger.Info("call session joined", zap.String("channel", s.cfg.Channel))
	return nil
}

func (s *Session) abort(tracks []rtc.Track, leave bool) {
	for _, t := range tracks {
		t.Close()
	}
	if leave {
		if err := s.client.Leave(context.Background()); err != nil {
			s.logger.Warn("leave after failed start", zap.Error(err))
		}
	}
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

// End stops billing, releases the tracks and leaves the channel. A second End
// returns the first result.
func (s *Session) End(ctx context.Context) (model.CallEndResult, error) {
	s.mu.Lock()
	if s.client == nil {
		s.mu.Unlock()
		return model.CallEndResult{Success: false}, nil
	}
	switch s.state {
	case StateEnded:
		result := *s.result
		s.mu.Unlock()
		return result, nil
	case StateIdle:
		s.mu.Unlock()
		return model.CallEndResult{Success: false}, nil
	case StateConnecting, StateEnding:
		s.mu.Unlock()
		return model.CallEndResult{}, ErrCallInProgress
	}
	s.state = StateEnding
	billing, audio, video := s.billing, s.audio, s.video
	s.mu.Unlock()

	billing.Stop()
	snap := billing.Snapshot()

	for _, t := range []rtc.Track{audio, video} {
		if t != nil {
			t.Close()
		}
	}
	if err := s.client.Leave(ctx); err != nil {
		s.logger.Warn("leave channel failed", zap.Error(err))
	}
	s.chat.Reset()

	result := model.CallEndResult{
		Success:  true,
		Duration: snap.Elapsed,
		Cost:     snap.Cost,
	}

	s.mu.Lock()
	s.audio, s.video = nil, nil
	s.remote = nil
	s.result = &result
	s.state = StateEnded
	s.mu.Unlock()

	metrics.ActiveCalls.Dec()
	s.logger.Info("call session ended", zap.Int("duration", result.Duration), zap.Float64("cost", result.Cost))
	return result, nil
}

// ToggleMute flips the microphone. Without an audio track it does nothing.
func (s *Session) ToggleMute(ctx context.Context) (bool, error) {
	s.mu.Lock()
	track, target := s.audio, !s.muted
	s.mu.Unlock()
	if track == nil {
		return s.Muted(), nil
	}

	if err := track.SetEnabled(ctx, !target); err != nil {
		return s.Muted(), err
	}
	s.mu.Lock()
	s.muted = target
	s.mu.Unlock()
	return target, nil
}

// ToggleVideo flips the camera. Without a video track it does nothing.
func (s *Session) ToggleVideo(ctx context.Context) (bool, error) {
	s.mu.Lock()
	track, target := s.video, !s.videoOff
	s.mu.Unlock()
	if track == nil {
		return s.VideoOff(), nil
	}

	if err := track.SetEnabled(ctx, !target); err != nil {
		return s.VideoOff(), err
	}
	s.mu.Lock()
	s.videoOff = target
	s.mu.Unlock()
	return target, nil
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Session) VideoOff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOff
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Advance moves the billing timers forward by d of simulated time
func (s *Session) Advance(d time.Duration) {
	s.mu.Lock()
	billing := s.billing
	s.mu.Unlock()
	if billing != nil {
		billing.Advance(d)
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:    s.state,
		Muted:    s.muted,
		VideoOff: s.videoOff,
		Remote:   slices.Clone(s.remote),
	}
	switch {
	case s.result != nil:
		st.Elapsed = s.result.Duration
		st.Cost = s.result.Cost
	case s.billing != nil:
		snap := s.billing.Snapshot()
		st.Elapsed = snap.Elapsed
		st.Remaining = snap.Remaining
		st.Cost = snap.Cost
		st.NeedsExtension = snap.NeedsExtension
	}
	return st
}

func (s *Session) handleRemote(ev rtc.RemoteEvent) {
	if ev.UID == "" || ev.UID == s.cfg.UID {
		return
	}

	s.mu.Lock()
	if s.state == StateIdle || s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	idx := slices.IndexFunc(s.remote, func(p model.RemoteParticipant) bool { return p.UID == ev.UID })
	subscribe := false

	switch ev.Type {
	case rtc.EventUserPublished:
		if idx < 0 {
			s.remote = append(s.remote, model.RemoteParticipant{UID: ev.UID})
			idx = len(s.remote) - 1
		}
		setMedia(&s.remote[idx], ev.Kind, true)
		subscribe = s.state == StateJoined
	case rtc.EventUserUnpublished:
		if idx >= 0 {
			setMedia(&s.remote[idx], ev.Kind, false)
		}
	case rtc.EventUserLeft:
		if idx >= 0 {
			s.remote = slices.Delete(s.remote, idx, idx+1)
		}
	}
	s.mu.Unlock()

	if subscribe {
		if err := s.client.Subscribe(context.Background(), ev.UID, ev.Kind); err != nil {
			s.logger.Warn("subscribe to remote track failed", zap.String("remote_uid", ev.UID), zap.Error(err))
		}
	}
}

type remoteTrack struct {
	uid  string
	kind rtc.Kind
}

func remoteMedia(remote []model.RemoteParticipant) []remoteTrack {
	var out []remoteTrack
	for _, p := range remote {
		if p.HasAudio {
			out = append(out, remoteTrack{uid: p.UID, kind: rtc.KindAudio})
		}
		if p.HasVideo {
			out = append(out, remoteTrack{uid: p.UID, kind: rtc.KindVideo})
		}
	}
	return out
}

func setMedia(p *model.RemoteParticipant, kind rtc.Kind, on bool) {
	switch kind {
	case rtc.KindAudio:
		p.HasAudio = on
	case rtc.KindVideo:
		p.HasVideo = on
	}
}

type unavailableSender struct{}

func (unavailableSender) SendStreamMessage(context.Context, []byte) error {
	return ErrClientUnavailable
}
