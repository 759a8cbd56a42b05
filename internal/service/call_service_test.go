package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ifindlife/internal/apperr"
	"ifindlife/internal/auth"
	"ifindlife/internal/call"
	"ifindlife/internal/event"
	"ifindlife/internal/hub"
	"ifindlife/internal/model"
	"ifindlife/internal/rtc"
)

type callFixture struct {
	svc      *callService
	sessions *fakeSessions
	incoming *fakeIncoming
	sender   *recordingSender
	dialogs  *recordingDismisser
	ledger   *recordingLedger
	issuer   *rtc.TokenIssuer
	now      time.Time
}

func newCallFixture(t *testing.T) *callFixture {
	t.Helper()
	issuer := rtc.NewTokenIssuer("test-secret", time.Hour)
	h := hub.NewHub(issuer, auth.NewIdentities(), nil, zap.NewNop())
	t.Cleanup(h.Stop)

	f := &callFixture{
		sessions: newFakeSessions(),
		incoming: newFakeIncoming(),
		sender:   &recordingSender{},
		dialogs:  &recordingDismisser{},
		ledger:   &recordingLedger{},
		issuer:   issuer,
		now:      time.Now(),
	}
	svc := NewCallService(f.sessions, f.incoming, hub.NewEngine(h), issuer, f.sender, f.dialogs, f.ledger, CallConfig{
		AllotmentMinutes: 15,
		RatePerMinute:    2,
		Currency:         "INR",
		TickInterval:     time.Hour,
	}, zap.NewNop()).(*callService)
	svc.now = func() time.Time { return f.now }
	f.svc = svc
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return f
}

func (f *callFixture) create(t *testing.T) *model.CreateCallResponse {
	t.Helper()
	resp, err := f.svc.CreateCall(context.Background(), "u1", model.CreateCallPayload{
		ExpertID:   "e1",
		UserID:     "u1",
		CallType:   model.CallTypeVideo,
		CallerName: "Asha",
	})
	require.NoError(t, err)
	return resp
}

func (f *callFixture) session(callID, participantID string) *call.Session {
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	return f.svc.live[callID][participantID]
}

func TestCreateCallPersistsSessionAndRequest(t *testing.T) {
	f := newCallFixture(t)
	resp := f.create(t)

	assert.Equal(t, model.CallSessionPending, resp.Session.Status)
	assert.True(t, strings.HasPrefix(resp.Session.ChannelName, "call_e1_u1_"))
	assert.Equal(t, 15, resp.Session.SelectedDurationMinutes)
	assert.Equal(t, 2.0, resp.Session.RatePerMinute)
	assert.Equal(t, "u1", resp.Session.InitiatedBy)

	assert.Equal(t, "e1", resp.Request.ReceiverID)
	assert.Empty(t, resp.Request.AgoraToken)
	assert.Equal(t, f.now.Add(event.DefaultIncomingCallTTL), resp.Request.ExpiresAt)

	stored := f.incoming.only()
	assert.NoError(t, f.issuer.VerifyChannel(stored.AgoraToken, stored.ChannelName, "e1"))
	assert.NoError(t, f.issuer.VerifyChannel(resp.Token, resp.Session.ChannelName, "u1"))
}

func TestCreateCallValidation(t *testing.T) {
	f := newCallFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCall(ctx, "u1", model.CreateCallPayload{ExpertID: "u1", UserID: "u1", CallType: model.CallTypeAudio})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument))

	_, err = f.svc.CreateCall(ctx, "u1", model.CreateCallPayload{ExpertID: "e1", UserID: "u1", CallType: "screen"})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument))

	_, err = f.svc.CreateCall(ctx, "x9", model.CreateCallPayload{ExpertID: "e1", UserID: "u1", CallType: model.CallTypeAudio})
	assert.True(t, apperr.IsCode(err, apperr.CodeForbidden))

	f.sessions.existsActive = true
	_, err = f.svc.CreateCall(ctx, "u1", model.CreateCallPayload{ExpertID: "e1", UserID: "u1", CallType: model.CallTypeAudio})
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict))
}

func TestExpertInitiatedCallIsAddressedToUser(t *testing.T) {
	f := newCallFixture(t)
	resp, err := f.svc.CreateCall(context.Background(), "e1", model.CreateCallPayload{ExpertID: "e1", UserID: "u1", CallType: model.CallTypeAudio})
	require.NoError(t, err)
	assert.Equal(t, "u1", resp.Request.ReceiverID)
}

func TestAcceptNotifiesCallerAndDismissesDialog(t *testing.T) {
	f := newCallFixture(t)
	resp := f.create(t)
	ctx := context.Background()

	_, err := f.svc.RespondToIncoming(ctx, resp.Request.ID, "u1", true)
	assert.True(t, apperr.IsCode(err, apperr.CodeForbidden))

	req, err := f.svc.RespondToIncoming(ctx, resp.Request.ID, "e1", true)
	require.NoError(t, err)
	assert.Equal(t, model.IncomingCallAccepted, req.Status)
	assert.NotEmpty(t, req.AgoraToken)
	assert.Equal(t, []string{event.EventCallAccepted}, f.sender.names("u1"))
	assert.Equal(t, []string{"e1/" + resp.Request.ID}, f.dialogs.dismissed)

	_, err = f.svc.RespondToIncoming(ctx, resp.Request.ID, "e1", false)
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict))
}

func TestExpiredRequestCannotBeAnswered(t *testing.T) {
	f := newCallFixture(t)
	resp := f.create(t)

	f.now = f.now.Add(3 * time.Minute)
	_, err := f.svc.RespondToIncoming(context.Background(), resp.Request.ID, "e1", true)

	assert.True(t, apperr.IsCode(err, apperr.CodeGone))
	assert.Equal(t, model.IncomingCallExpired, f.incoming.only().Status)
}

func TestRejectCompletesCallWithoutCharge(t *testing.T) {
	f := newCallFixture(t)
	resp := f.create(t)

	_, err := f.svc.RespondToIncoming(context.Background(), resp.Request.ID, "e1", false)
	require.NoError(t, err)

	stored := f.sessions.get(resp.Session.ID)
	assert.Equal(t, model.CallSessionCompleted, stored.Status)
	assert.Zero(t, stored.CostAccrued)
	assert.Equal(t, "e1", stored.EndedBy)
	assert.True(t, f.sender.has("u1", event.EventCallRejected))
	assert.True(t, f.sender.has("u1", event.EventCallEnded))
}

func TestTwentyMinuteCallBillsThePayer(t *testing.T) {
	f := newCallFixture(t)
	resp := f.create(t)
	ctx := context.Background()
	callID := resp.Session.ID

	st, err := f.svc.StartParticipant(ctx, callID, "u1", "Asha")
	require.NoError(t, err)
	assert.Equal(t, string(call.StateJoined), st.State)
	_, err = f.svc.StartParticipant(ctx, callID, "e1", "Dr. Rao")
	require.NoError(t, err)
	assert.Equal(t, model.CallSessionActive, f.sessions.get(callID).Status)

	_, err = f.svc.StartParticipant(ctx, callID, "u1", "Asha")
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict))

	require.Eventually(t, func() bool {
		st, err := f.svc.ParticipantState(callID, "u1")
		return err == nil && len(st.Remote) == 1 && st.Remote[0].HasVideo
	}, time.Second, 5*time.Millisecond)

	f.session(callID, "u1").Advance(20 * time.Minute)
	f.session(callID, "e1").Advance(20 * time.Minute)

	assert.True(t, f.sender.has("u1", event.EventCallExtensionRequired))
	assert.True(t, f.sender.has("e1", event.EventCallExtensionRequired))

	result, err := f.svc.EndCall(ctx, callID, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.CallEndResult{Success: true, Duration: 1200, Cost: call.Cost(1200, 900, 2)}, result)

	stored := f.sessions.get(callID)
	assert.Equal(t, model.CallSessionCompleted, stored.Status)
	assert.Equal(t, 1200, stored.DurationSeconds)
	assert.Equal(t, "e1", stored.EndedBy)

	require.Len(t, f.ledger.charges, 1)
	assert.Equal(t, result.Cost, f.ledger.charges[0].Amount)
	assert.Equal(t, "u1", f.ledger.charges[0].UserID)
	assert.True(t, f.sender.has("u1", event.EventCallEnded))
	assert.True(t, f.sender.has("e1", event.EventCallEnded))

	again, err := f.svc.EndCall(ctx, callID, "u1")
	require.NoError(t, err)
	assert.Equal(t, result, again)
	assert.Len(t, f.ledger.charges, 1)

	_, err = f.svc.ParticipantState(callID, "u1")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestEndCallByStranger(t *testing.T) {
	f := newCallFixture(t)
	resp := f.create(t)

	_, err := f.svc.EndCall(context.Background(), resp.Session.ID, "x9")
	assert.True(t, apperr.IsCode(err, apperr.CodeForbidden))

	_, err = f.svc.EndCall(context.Background(), "missing", "u1")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestEndBeforeAnyoneJoined(t *testing.T) {
	f := newCallFixture(t)
	resp := f.create(t)

	result, err := f.svc.EndCall(context.Background(), resp.Session.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.CallEndResult{Success: false}, result)
	assert.Empty(t, f.ledger.charges)
}

func TestCallerHangsUpBeforeAnswer(t *testing.T) {
	f := newCallFixture(t)
	resp := f.create(t)
	ctx := context.Background()

	_, err := f.svc.EndCall(ctx, resp.Session.ID, "u1")
	require.NoError(t, err)

	assert.Equal(t, model.CallSessionCompleted, f.sessions.get(resp.Session.ID).Status)
	assert.Equal(t, model.IncomingCallExpired, f.incoming.only().Status)
	assert.Equal(t, []string{"e1/" + resp.Request.ID}, f.dialogs.withdrawn)
	assert.Equal(t, []string{event.EventCallCancelled, event.EventCallEnded}, f.sender.names("e1"))

	_, err = f.svc.RespondToIncoming(ctx, resp.Request.ID, "e1", true)
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict))
	assert.Equal(t, []string{event.EventCallEnded}, f.sender.names("u1"))
}

func TestRejectedRequestIsNotCancelledAgain(t *testing.T) {
	f := newCallFixture(t)
	resp := f.create(t)

	_, err := f.svc.RespondToIncoming(context.Background(), resp.Request.ID, "e1", false)
	require.NoError(t, err)

	assert.Equal(t, model.IncomingCallRejected, f.incoming.only().Status)
	assert.Empty(t, f.dialogs.withdrawn)
	assert.False(t, f.sender.has("e1", event.EventCallCancelled))
}

func TestChatReachesTheOtherParticipant(t *testing.T) {
	f := newCallFixture(t)
	resp := f.create(t)
	ctx := context.Background()
	callID := resp.Session.ID

	_, err := f.svc.StartParticipant(ctx, callID, "u1", "Asha")
	require.NoError(t, err)
	_, err = f.svc.StartParticipant(ctx, callID, "e1", "Dr. Rao")
	require.NoError(t, err)

	_, err = f.svc.SendChat(ctx, callID, "u1", "   ")
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument))

	msg, err := f.svc.SendChat(ctx, callID, "u1", "hello doctor")
	require.NoError(t, err)
	assert.Equal(t, "Asha", msg.SenderName)

	require.Eventually(t, func() bool {
		transcript, err := f.svc.Transcript(callID, "e1")
		return err == nil && len(transcript) == 1 && transcript[0].ID == msg.ID
	}, time.Second, 5*time.Millisecond)
	assert.True(t, f.sender.has("e1", event.EventCallChat))

	mine, err := f.svc.Transcript(callID, "u1")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestControlsNeedALiveSession(t *testing.T) {
	f := newCallFixture(t)
	resp := f.create(t)
	ctx := context.Background()
	callID := resp.Session.ID

	_, err := f.svc.ToggleMute(ctx, callID, "u1")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	_, err = f.svc.StartParticipant(ctx, callID, "u1", "")
	require.NoError(t, err)

	muted, err := f.svc.ToggleMute(ctx, callID, "u1")
	require.NoError(t, err)
	assert.True(t, muted)
	off, err := f.svc.ToggleVideo(ctx, callID, "u1")
	require.NoError(t, err)
	assert.True(t, off)

	st, err := f.svc.ParticipantState(callID, "u1")
	require.NoError(t, err)
	assert.True(t, st.Muted)
	assert.True(t, st.VideoOff)

	stats := f.svc.CallStats()
	assert.Equal(t, 1, stats.TotalActiveCalls)
	require.Len(t, stats.CallDetails, 1)
	assert.Equal(t, "u1", stats.CallDetails[0].ParticipantID)
}

func TestIssueToken(t *testing.T) {
	f := newCallFixture(t)
	resp := f.create(t)

	tok, err := f.svc.IssueToken(context.Background(), resp.Session.ID, "e1")
	require.NoError(t, err)
	assert.NoError(t, f.issuer.VerifyChannel(tok.Token, resp.Session.ChannelName, "e1"))

	_, err = f.svc.IssueToken(context.Background(), resp.Session.ID, "x9")
	assert.True(t, apperr.IsCode(err, apperr.CodeForbidden))
}

func TestExpireIncomingCalls(t *testing.T) {
	f := newCallFixture(t)
	f.create(t)

	n, err := f.svc.ExpireIncomingCalls(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(event.DefaultIncomingCallTTL)
	n, err = f.svc.ExpireIncomingCalls(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, model.IncomingCallExpired, f.incoming.only().Status)
}

func TestHistory(t *testing.T) {
	f := newCallFixture(t)
	f.create(t)

	page, err := f.svc.History(context.Background(), "e1", 1)
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
}
