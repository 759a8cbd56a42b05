package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ifindlife/internal/apperr"
	"ifindlife/internal/call"
	"ifindlife/internal/chat"
	"ifindlife/internal/db"
	"ifindlife/internal/event"
	"ifindlife/internal/ledger"
	"ifindlife/internal/metrics"
	"ifindlife/internal/model"
	"ifindlife/internal/notify"
	"ifindlife/internal/repo"
	"ifindlife/internal/rtc"
)

// SystemActor ends calls on behalf of the server
const SystemActor = "system"

// TokenIssuer signs channel tokens for participants
type TokenIssuer interface {
	Issue(channel, uid string) (string, error)
}

// DialogDismisser closes the incoming call dialog a party is looking at.
// Withdraw also drops the request when it is still queued behind another dialog.
type DialogDismisser interface {
	Dismiss(partyID, requestID string) bool
	Withdraw(partyID, requestID string) bool
}

type CallConfig struct {
	AllotmentMinutes int
	RatePerMinute    float64
	Currency         string
	IncomingCallTTL  time.Duration
	TickInterval     time.Duration
}

type CallService interface {
	CreateCall(ctx context.Context, initiatorID string, payload model.CreateCallPayload) (*model.CreateCallResponse, error)
	RespondToIncoming(ctx context.Context, requestID, responderID string, accept bool) (*model.IncomingCallRequest, error)
	StartParticipant(ctx context.Context, callID, participantID, displayName string) (model.ParticipantStateResponse, error)
	EndCall(ctx context.Context, callID, endedBy string) (model.CallEndResult, error)
	ToggleMute(ctx context.Context, callID, participantID string) (bool, error)
	ToggleVideo(ctx context.Context, callID, participantID string) (bool, error)
	ParticipantState(callID, participantID string) (model.ParticipantStateResponse, error)
	SendChat(ctx context.Context, callID, participantID, content string) (model.ChatMessage, error)
	Transcript(callID, participantID string) ([]model.ChatMessage, error)
	IssueToken(ctx context.Context, callID, participantID string) (model.ChannelTokenResponse, error)
	History(ctx context.Context, participantID string, page int64) (*db.PaginatedResult[model.CallSession], error)
	CallStats() model.CallStats
	ExpireIncomingCalls(ctx context.Context) (int64, error)
	RunIncomingCallExpiryMonitor(ctx context.Context, interval time.Duration)
	Shutdown(ctx context.Context)
}

type callService struct {
	sessions repo.CallSessionRepository
	incoming repo.IncomingCallRepository
	engine   rtc.Engine
	tokens   TokenIssuer
	sender   notify.UserSender
	dialogs  DialogDismisser
	ledger   ledger.Recorder
	cfg      CallConfig
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	live map[string]map[string]*call.Session // call id -> participant id
}

func NewCallService(
	sessions repo.CallSessionRepository,
	incoming repo.IncomingCallRepository,
	engine rtc.Engine,
	tokens TokenIssuer,
	sender notify.UserSender,
	dialogs DialogDismisser,
	recorder ledger.Recorder,
	cfg CallConfig,
	logger *zap.Logger,
) CallService {
	if cfg.AllotmentMinutes <= 0 {
		cfg.AllotmentMinutes = event.DefaultAllotmentMinutes
	}
	if cfg.IncomingCallTTL <= 0 {
		cfg.IncomingCallTTL = event.DefaultIncomingCallTTL
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if recorder == nil {
		recorder = ledger.Noop{}
	}
	return &callService{
		sessions: sessions,
		incoming: incoming,
		engine:   engine,
		tokens:   tokens,
		sender:   sender,
		dialogs:  dialogs,
		ledger:   recorder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		live:     make(map[string]map[string]*call.Session),
	}
}

// -----------------------------------------------------------------------------
// CreateCall
// -----------------------------------------------------------------------------

func (s *callService) CreateCall(ctx context.Context, initiatorID string, payload model.CreateCallPayload) (*model.CreateCallResponse, error) {
	const op = "CallService.CreateCall"

	payload.ExpertID = strings.TrimSpace(payload.ExpertID)
	payload.UserID = strings.TrimSpace(payload.UserID)
	switch {
	case payload.ExpertID == "" || payload.UserID == "":
		return nil, apperr.E(apperr.CodeInvalidArgument, op, "expertId and userId are required", nil)
	case payload.ExpertID == payload.UserID:
		return nil, apperr.E(apperr.CodeInvalidArgument, op, "a participant cannot call themselves", nil)
	case !payload.CallType.Valid():
		return nil, apperr.E(apperr.CodeInvalidArgument, op, "callType must be audio or video", nil)
	case payload.SelectedDurationMinutes < 0 || payload.RatePerMinute < 0:
		return nil, apperr.E(apperr.CodeInvalidArgument, op, "duration and rate cannot be negative", nil)
	case initiatorID != payload.ExpertID && initiatorID != payload.UserID:
		return nil, apperr.E(apperr.CodeForbidden, op, "only a participant can start a call", nil)
	}

	if payload.SelectedDurationMinutes == 0 {
		payload.SelectedDurationMinutes = s.cfg.AllotmentMinutes
	}
	if payload.RatePerMinute == 0 {
		payload.RatePerMinute = s.cfg.RatePerMinute
	}
	if payload.Currency == "" {
		payload.Currency = s.cfg.Currency
	}

	now := s.now()
	channel := call.ChannelName(payload.ExpertID, payload.UserID, now)

	exists, err := s.sessions.ExistsActive(ctx, payload.ExpertID, payload.UserID, channel)
	if err != nil {
		return nil, repoError(op, err)
	}
	if exists {
		return nil, apperr.E(apperr.CodeConflict, op, "an active call already uses this channel", nil)
	}

	receiverID := payload.ExpertID
	if initiatorID == payload.ExpertID {
		receiverID = payload.UserID
	}

	receiverToken, err := s.tokens.Issue(channel, receiverID)
	if err != nil {
		return nil, apperr.E(apperr.CodeInternal, op, "could not issue channel token", err)
	}
	callerToken, err := s.tokens.Issue(channel, initiatorID)
	if err != nil {
		return nil, apperr.E(apperr.CodeInternal, op, "could not issue channel token", err)
	}

	session := &model.CallSession{
		ID:                      uuid.New().String(),
		ExpertID:                payload.ExpertID,
		UserID:                  payload.UserID,
		ChannelName:             channel,
		CallType:                payload.CallType,
		Status:                  model.CallSessionPending,
		SelectedDurationMinutes: payload.SelectedDurationMinutes,
		RatePerMinute:           payload.RatePerMinute,
		Currency:                payload.Currency,
		InitiatedBy:             initiatorID,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, repoError(op, err)
	}

	req := &model.IncomingCallRequest{
		ID:            uuid.New().String(),
		CallSessionID: session.ID,
		UserID:        payload.UserID,
		ExpertID:      payload.ExpertID,
		ReceiverID:    receiverID,
		CallerName:    payload.CallerName,
		CallType:      payload.CallType,
		Status:        model.IncomingCallPending,
		ChannelName:   channel,
		AgoraToken:    receiverToken,
		ExpiresAt:     now.Add(s.cfg.IncomingCallTTL),
		CreatedAt:     now,
	}
	if err := s.incoming.Create(ctx, req); err != nil {
		s.abandon(session, initiatorID)
		return nil, repoError(op, err)
	}

	s.logger.Info("call created",
		zap.String("call_id", session.ID),
		zap.String("request_id", req.ID),
		zap.String("channel", channel),
		zap.String("receiver_id", receiverID),
	)

	// the receiver's token is only handed to the receiver
	shown := *req
	shown.AgoraToken = ""
	return &model.CreateCallResponse{Session: session, Request: &shown, Token: callerToken}, nil
}

// abandon completes a session whose incoming request could not be stored
func (s *callService) abandon(session *model.CallSession, by string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := s.now()
	session.Status = model.CallSessionCompleted
	session.EndTime = &now
	session.EndedBy = by
	session.UpdatedAt = now
	if err := s.sessions.Complete(ctx, session); err != nil {
		s.logger.Warn("could not abandon call session", zap.String("call_id", session.ID), zap.Error(err))
	}
}

// -----------------------------------------------------------------------------
// RespondToIncoming
// -----------------------------------------------------------------------------

func (s *callService) RespondToIncoming(ctx context.Context, requestID, responderID string, accept bool) (*model.IncomingCallRequest, error) {
	const op = "CallService.RespondToIncoming"

	req, err := s.incoming.FindByID(ctx, requestID)
	if err != nil {
		return nil, repoError(op, err)
	}
	if req.ReceiverID != responderID {
		return nil, apperr.E(apperr.CodeForbidden, op, "request is addressed to another party", nil)
	}
	if req.Status != model.IncomingCallPending {
		return nil, apperr.E(apperr.CodeConflict, op, "request was already answered", nil)
	}
	if req.Expired(s.now()) {
		if err := s.incoming.Resolve(ctx, req.ID, model.IncomingCallExpired); err != nil && !errors.Is(err, repo.ErrStateConflict) {
			s.logger.Warn("could not mark request expired", zap.String("request_id", req.ID), zap.Error(err))
		}
		s.dismiss(responderID, req.ID)
		return nil, apperr.E(apperr.CodeGone, op, "request has expired", nil)
	}

	status := model.IncomingCallRejected
	if accept {
		status = model.IncomingCallAccepted
	}
	if err := s.incoming.Resolve(ctx, req.ID, status); err != nil {
		if errors.Is(err, repo.ErrStateConflict) {
			return nil, apperr.E(apperr.CodeConflict, op, "request was already answered", err)
		}
		return nil, repoError(op, err)
	}
	req.Status = status
	s.dismiss(responderID, req.ID)

	callerID := req.UserID
	if req.ReceiverID == req.UserID {
		callerID = req.ExpertID
	}

	if accept {
		s.sender.SendToUser(callerID, event.New(event.EventCallAccepted, event.CallAcceptedEvent{
			CallID:     req.CallSessionID,
			AcceptedBy: responderID,
			Channel:    req.ChannelName,
			Timestamp:  event.Now(),
		}))
		s.logger.Info("incoming call accepted", zap.String("request_id", req.ID), zap.String("call_id", req.CallSessionID))
		return req, nil
	}

	s.sender.SendToUser(callerID, event.New(event.EventCallRejected, event.CallRejectedEvent{
		CallID:     req.CallSessionID,
		RejectedBy: responderID,
		Timestamp:  event.Now(),
	}))
	s.logger.Info("incoming call rejected", zap.String("request_id", req.ID), zap.String("call_id", req.CallSessionID))

	if session, err := s.sessions.FindByID(ctx, req.CallSessionID); err == nil {
		if _, err := s.endCall(ctx, session, responderID); err != nil {
			s.logger.Warn("could not close rejected call", zap.String("call_id", session.ID), zap.Error(err))
		}
	}
	return req, nil
}

func (s *callService) dismiss(partyID, requestID string) {
	if s.dialogs != nil {
		s.dialogs.Dismiss(partyID, requestID)
	}
}

// -----------------------------------------------------------------------------
// Participant sessions
// -----------------------------------------------------------------------------

func (s *callService) StartParticipant(ctx context.Context, callID, participantID, displayName string) (model.ParticipantStateResponse, error) {
	const op = "CallService.StartParticipant"

	cs, err := s.participantCall(ctx, op, callID, participantID)
	if err != nil {
		return model.ParticipantStateResponse{}, err
	}
	if cs.Status == model.CallSessionCompleted {
		return model.ParticipantStateResponse{}, apperr.E(apperr.CodeConflict, op, "call has already ended", nil)
	}

	sess, err := s.sessionFor(cs, participantID, displayName)
	if err != nil {
		return model.ParticipantStateResponse{}, apperr.E(apperr.CodeInternal, op, "could not issue channel token", err)
	}

	if err := sess.Start(ctx); err != nil {
		switch {
		case errors.Is(err, call.ErrCallInProgress):
			return model.ParticipantStateResponse{}, apperr.E(apperr.CodeConflict, op, "call is already in progress", err)
		case errors.Is(err, call.ErrClientUnavailable):
			s.dropSession(callID, participantID, sess)
			return model.ParticipantStateResponse{}, apperr.E(apperr.CodeUnavailable, op, "call service unavailable", err)
		default:
			return model.ParticipantStateResponse{}, apperr.E(apperr.CodeUnavailable, op, "could not join the call", err)
		}
	}

	if cs.Status == model.CallSessionPending {
		if err := s.sessions.MarkActive(ctx, cs.ID, s.now()); err != nil && !errors.Is(err, repo.ErrStateConflict) {
			s.logger.Warn("could not mark call active", zap.String("call_id", cs.ID), zap.Error(err))
		}
	}
	return stateResponse(callID, participantID, sess.Status()), nil
}

// sessionFor returns the participant's live session, creating it on first use
func (s *callService) sessionFor(cs *model.CallSession, participantID, displayName string) (*call.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.live[cs.ID][participantID]; ok {
		return sess, nil
	}

	token, err := s.tokens.Issue(cs.ChannelName, participantID)
	if err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = participantID
	}

	cfg := call.Config{
		CallID:           cs.ID,
		Channel:          cs.ChannelName,
		Token:            token,
		UID:              participantID,
		DisplayName:      displayName,
		CallType:         cs.CallType,
		AllotmentMinutes: cs.SelectedDurationMinutes,
		RatePerMinute:    cs.RatePerMinute,
		TickInterval:     s.cfg.TickInterval,
	}
	// only the paying user's timer asks for an extension
	if participantID == cs.UserID {
		userID, expertID, callID := cs.UserID, cs.ExpertID, cs.ID
		cfg.OnExtension = func(elapsed int) {
			ev := event.New(event.EventCallExtensionRequired, event.CallExtensionEvent{
				CallID:        callID,
				ParticipantID: userID,
				Elapsed:       elapsed,
				Timestamp:     event.Now(),
			})
			s.sender.SendToUser(userID, ev)
			s.sender.SendToUser(expertID, ev)
		}
	}

	sess := call.NewSession(s.engine, cfg, s.logger)
	callID := cs.ID
	sess.Chat().OnMessage(func(msg model.ChatMessage) {
		s.sender.SendToUser(participantID, event.New(event.EventCallChat, model.ChatTranscriptEvent{
			CallID:    callID,
			Message:   msg,
			Timestamp: event.Now(),
		}))
	})

	if s.live[cs.ID] == nil {
		s.live[cs.ID] = make(map[string]*call.Session)
	}
	s.live[cs.ID][participantID] = sess
	return sess, nil
}

func (s *callService) dropSession(callID, participantID string, sess *call.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[callID][participantID] == sess {
		delete(s.live[callID], participantID)
		if len(s.live[callID]) == 0 {
			delete(s.live, callID)
		}
	}
}

func (s *callService) liveSession(op, callID, participantID string) (*call.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.live[callID][participantID]
	if !ok {
		return nil, apperr.E(apperr.CodeNotFound, op, "participant has no live session in this call", nil)
	}
	return sess, nil
}

func (s *callService) participantCall(ctx context.Context, op, callID, participantID string) (*model.CallSession, error) {
	cs, err := s.sessions.FindByID(ctx, callID)
	if err != nil {
		return nil, repoError(op, err)
	}
	if !cs.IsParticipant(participantID) {
		return nil, apperr.E(apperr.CodeForbidden, op, "not a participant of this call", nil)
	}
	return cs, nil
}

// -----------------------------------------------------------------------------
// EndCall
// -----------------------------------------------------------------------------

func (s *callService) EndCall(ctx context.Context, callID, endedBy string) (model.CallEndResult, error) {
	const op = "CallService.EndCall"

	cs, err := s.participantCall(ctx, op, callID, endedBy)
	if err != nil {
		return model.CallEndResult{}, err
	}
	return s.endCall(ctx, cs, endedBy)
}

// endCall ends every live participant session and completes the record with
// the payer's duration and cost. Completed calls return their stored totals.
func (s *callService) endCall(ctx context.Context, cs *model.CallSession, endedBy string) (model.CallEndResult, error) {
	const op = "CallService.EndCall"

	if cs.Status == model.CallSessionCompleted {
		return completedResult(cs), nil
	}

	s.mu.Lock()
	participants := make(map[string]*call.Session, len(s.live[cs.ID]))
	for id, sess := range s.live[cs.ID] {
		participants[id] = sess
	}
	s.mu.Unlock()

	results := make(map[string]model.CallEndResult, len(participants))
	for id, sess := range participants {
		res, err := sess.End(ctx)
		if errors.Is(err, call.ErrCallInProgress) {
			return model.CallEndResult{}, apperr.E(apperr.CodeConflict, op, "call is still connecting", err)
		}
		if err != nil {
			s.logger.Warn("participant session did not end cleanly", zap.String("call_id", cs.ID), zap.String("participant_id", id), zap.Error(err))
		}
		results[id] = res
	}

	result := model.CallEndResult{Success: false}
	if res, ok := results[cs.UserID]; ok && res.Success {
		result = res
	} else if res, ok := results[cs.ExpertID]; ok && res.Success {
		result = res
	}

	now := s.now()
	cs.Status = model.CallSessionCompleted
	cs.EndTime = &now
	cs.DurationSeconds = result.Duration
	cs.CostAccrued = result.Cost
	cs.EndedBy = endedBy
	cs.UpdatedAt = now

	if err := s.sessions.Complete(ctx, cs); err != nil {
		if !errors.Is(err, repo.ErrStateConflict) {
			return model.CallEndResult{}, repoError(op, err)
		}
		// someone else completed it first
		stored, ferr := s.sessions.FindByID(ctx, cs.ID)
		if ferr != nil {
			return model.CallEndResult{}, repoError(op, ferr)
		}
		s.forget(cs.ID)
		return completedResult(stored), nil
	}
	s.forget(cs.ID)
	s.cancelUnanswered(ctx, cs, endedBy)

	if result.Cost > 0 {
		charge := ledger.CallCharge{
			CallSessionID:   cs.ID,
			UserID:          cs.UserID,
			ExpertID:        cs.ExpertID,
			Amount:          result.Cost,
			Currency:        cs.Currency,
			DurationSeconds: result.Duration,
			ChargedAt:       now,
		}
		if err := s.ledger.Record(ctx, charge); err != nil {
			s.logger.Error("could not record call charge", zap.String("call_id", cs.ID), zap.Float64("amount", result.Cost), zap.Error(err))
		}
	}

	ev := event.New(event.EventCallEnded, event.CallEndedEvent{
		CallID:    cs.ID,
		EndedBy:   endedBy,
		Duration:  result.Duration,
		Cost:      result.Cost,
		Currency:  cs.Currency,
		Timestamp: event.Now(),
	})
	s.sender.SendToUser(cs.UserID, ev)
	s.sender.SendToUser(cs.ExpertID, ev)

	s.logger.Info("call completed",
		zap.String("call_id", cs.ID),
		zap.String("ended_by", endedBy),
		zap.Int("duration", result.Duration),
		zap.Float64("cost", result.Cost),
	)
	return result, nil
}

// cancelUnanswered expires the requests nobody answered before the call ended
// and takes them off the receiver's screen.
func (s *callService) cancelUnanswered(ctx context.Context, cs *model.CallSession, endedBy string) {
	pending, err := s.incoming.PendingForCall(ctx, cs.ID)
	if err != nil {
		s.logger.Warn("could not load unanswered requests", zap.String("call_id", cs.ID), zap.Error(err))
		return
	}
	for _, req := range pending {
		if err := s.incoming.Resolve(ctx, req.ID, model.IncomingCallExpired); err != nil {
			if !errors.Is(err, repo.ErrStateConflict) {
				s.logger.Warn("could not cancel incoming call", zap.String("request_id", req.ID), zap.Error(err))
			}
			continue
		}
		if s.dialogs != nil {
			s.dialogs.Withdraw(req.ReceiverID, req.ID)
		}
		s.sender.SendToUser(req.ReceiverID, event.New(event.EventCallCancelled, event.CallCancelledEvent{
			CallID:      cs.ID,
			RequestID:   req.ID,
			CancelledBy: endedBy,
			Timestamp:   event.Now(),
		}))
		s.logger.Info("incoming call cancelled", zap.String("request_id", req.ID), zap.String("call_id", cs.ID))
	}
}

func (s *callService) forget(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, callID)
}

func completedResult(cs *model.CallSession) model.CallEndResult {
	return model.CallEndResult{
		Success:  cs.StartTime != nil,
		Duration: cs.DurationSeconds,
		Cost:     cs.CostAccrued,
	}
}

// -----------------------------------------------------------------------------
// Controls and chat
// -----------------------------------------------------------------------------

func (s *callService) ToggleMute(ctx context.Context, callID, participantID string) (bool, error) {
	const op = "CallService.ToggleMute"
	sess, err := s.liveSession(op, callID, participantID)
	if err != nil {
		return false, err
	}
	muted, err := sess.ToggleMute(ctx)
	if err != nil {
		return muted, apperr.E(apperr.CodeUnavailable, op, "could not change microphone", err)
	}
	return muted, nil
}

func (s *callService) ToggleVideo(ctx context.Context, callID, participantID string) (bool, error) {
	const op = "CallService.ToggleVideo"
	sess, err := s.liveSession(op, callID, participantID)
	if err != nil {
		return false, err
	}
	off, err := sess.ToggleVideo(ctx)
	if err != nil {
		return off, apperr.E(apperr.CodeUnavailable, op, "could not change camera", err)
	}
	return off, nil
}

func (s *callService) ParticipantState(callID, participantID string) (model.ParticipantStateResponse, error) {
	sess, err := s.liveSession("CallService.ParticipantState", callID, participantID)
	if err != nil {
		return model.ParticipantStateResponse{}, err
	}
	return stateResponse(callID, participantID, sess.Status()), nil
}

func (s *callService) SendChat(ctx context.Context, callID, participantID, content string) (model.ChatMessage, error) {
	const op = "CallService.SendChat"
	sess, err := s.liveSession(op, callID, participantID)
	if err != nil {
		return model.ChatMessage{}, err
	}

	dc := sess.Chat()
	dc.SetInput(content)
	msg, err := dc.Send(ctx)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return model.ChatMessage{}, apperr.E(apperr.CodeInvalidArgument, op, "message is empty", err)
	case err != nil:
		return model.ChatMessage{}, apperr.E(apperr.CodeUnavailable, op, "message not sent", err)
	}
	return msg, nil
}

func (s *callService) Transcript(callID, participantID string) ([]model.ChatMessage, error) {
	sess, err := s.liveSession("CallService.Transcript", callID, participantID)
	if err != nil {
		return nil, err
	}
	return sess.Chat().Transcript(), nil
}

// IssueToken signs a channel token so the participant's browser can join the room
func (s *callService) IssueToken(ctx context.Context, callID, participantID string) (model.ChannelTokenResponse, error) {
	const op = "CallService.IssueToken"
	cs, err := s.participantCall(ctx, op, callID, participantID)
	if err != nil {
		return model.ChannelTokenResponse{}, err
	}
	if cs.Status == model.CallSessionCompleted {
		return model.ChannelTokenResponse{}, apperr.E(apperr.CodeGone, op, "call has already ended", nil)
	}
	token, err := s.tokens.Issue(cs.ChannelName, participantID)
	if err != nil {
		return model.ChannelTokenResponse{}, apperr.E(apperr.CodeInternal, op, "could not issue channel token", err)
	}
	return model.ChannelTokenResponse{CallID: cs.ID, Channel: cs.ChannelName, UID: participantID, Token: token}, nil
}

func (s *callService) History(ctx context.Context, participantID string, page int64) (*db.PaginatedResult[model.CallSession], error) {
	result, err := s.sessions.ListByParticipant(ctx, participantID, page)
	if err != nil {
		return nil, repoError("CallService.History", err)
	}
	return result, nil
}

func stateResponse(callID, participantID string, st call.Status) model.ParticipantStateResponse {
	remote := st.Remote
	if remote == nil {
		remote = []model.RemoteParticipant{}
	}
	return model.ParticipantStateResponse{
		CallID:         callID,
		ParticipantID:  participantID,
		State:          string(st.State),
		Muted:          st.Muted,
		VideoOff:       st.VideoOff,
		Elapsed:        st.Elapsed,
		Remaining:      st.Remaining,
		Cost:           st.Cost,
		NeedsExtension: st.NeedsExtension,
		Remote:         remote,
	}
}

// CallStats lists the live participant sessions for the monitor
func (s *callService) CallStats() model.CallStats {
	s.mu.Lock()
	var details []model.CallInfo
	for callID, participants := range s.live {
		for pid, sess := range participants {
			st := sess.Status()
			details = append(details, model.CallInfo{
				CallID:        callID,
				ParticipantID: pid,
				State:         string(st.State),
				Elapsed:       st.Elapsed,
				Cost:          st.Cost,
			})
		}
	}
	s.mu.Unlock()

	active := Filter(details, func(c model.CallInfo) bool { return c.State == string(call.StateJoined) })
	slices.SortFunc(details, func(a, b model.CallInfo) int {
		if c := strings.Compare(a.CallID, b.CallID); c != 0 {
			return c
		}
		return strings.Compare(a.ParticipantID, b.ParticipantID)
	})
	return model.CallStats{TotalActiveCalls: len(active), CallDetails: details}
}

// -----------------------------------------------------------------------------
// Expiry monitor and shutdown
// -----------------------------------------------------------------------------

func (s *callService) RunIncomingCallExpiryMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if _, err := s.ExpireIncomingCalls(sweepCtx); err != nil {
				s.logger.Warn("incoming call expiry sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// ExpireIncomingCalls marks pending requests past their expiry as expired
func (s *callService) ExpireIncomingCalls(ctx context.Context) (int64, error) {
	n, err := s.incoming.ExpireBefore(ctx, s.now())
	if err != nil {
		return 0, repoError("CallService.ExpireIncomingCalls", err)
	}
	if n > 0 {
		metrics.IncomingCallsExpired.Add(float64(n))
		s.logger.Info("expired incoming calls", zap.Int64("count", n))
	}
	return n, nil
}

// Shutdown ends every call that still has live participant sessions
func (s *callService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		cs, err := s.sessions.FindByID(ctx, id)
		if err != nil {
			s.logger.Warn("could not load call on shutdown", zap.String("call_id", id), zap.Error(err))
			continue
		}
		if _, err := s.endCall(ctx, cs, SystemActor); err != nil {
			s.logger.Warn("could not end call on shutdown", zap.String("call_id", id), zap.Error(err))
		}
	}
}

// repoError maps repository errors to client-safe application errors
func repoError(op string, err error) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return apperr.E(apperr.CodeNotFound, op, "not found", err)
	case errors.Is(err, repo.ErrInvalidArgument), errors.Is(err, repo.ErrInvalidMessage):
		return apperr.E(apperr.CodeInvalidArgument, op, "invalid request", err)
	case errors.Is(err, repo.ErrStateConflict), errors.Is(err, repo.ErrDuplicateInsert):
		return apperr.E(apperr.CodeConflict, op, "conflicting update", err)
	case errors.Is(err, repo.ErrOperationTimeout), errors.Is(err, context.DeadlineExceeded):
		return apperr.E(apperr.CodeUnavailable, op, "storage timed out", err)
	default:
		return apperr.E(apperr.CodeInternal, op, "storage error", err)
	}
}
