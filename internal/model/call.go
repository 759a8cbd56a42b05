package model

import (
	"time"
)

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is one of the supported call types
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

type CallSessionStatus string

const (
	CallSessionPending   CallSessionStatus = "pending"
	CallSessionActive    CallSessionStatus = "active"
	CallSessionCompleted CallSessionStatus = "completed"
)

// CallSession is the durable record of one consultation between a user and an expert
type CallSession struct {
	ID                      string            `json:"id" bson:"_id"`
	ExpertID                string            `json:"expertId" bson:"expert_id"`
	UserID                  string            `json:"userId" bson:"user_id"`
	ChannelName             string            `json:"channelName" bson:"channel_name"`
	CallType                CallType          `json:"callType" bson:"call_type"`
	Status                  CallSessionStatus `json:"status" bson:"status"`
	StartTime               *time.Time        `json:"startTime,omitempty" bson:"start_time"`
	EndTime                 *time.Time        `json:"endTime,omitempty" bson:"end_time"`
	SelectedDurationMinutes int               `json:"selectedDurationMinutes" bson:"selected_duration_minutes"` // free allotment
	RatePerMinute           float64           `json:"ratePerMinute" bson:"rate_per_minute"`                     // charged after the allotment
	CostAccrued             float64           `json:"costAccrued" bson:"cost_accrued"`
	Currency                string            `json:"currency" bson:"currency"`
	DurationSeconds         int               `json:"durationSeconds" bson:"duration_seconds"`
	InitiatedBy             string            `json:"initiatedBy" bson:"initiated_by"`
	EndedBy                 string            `json:"endedBy,omitempty" bson:"ended_by"`
	CreatedAt               time.Time         `json:"createdAt" bson:"created_at"`
	UpdatedAt               time.Time         `json:"updatedAt" bson:"updated_at"`
}

// IsParticipant reports whether userID is the user or the expert of this call
func (c *CallSession) IsParticipant(userID string) bool {
	return userID != "" && (c.UserID == userID || c.ExpertID == userID)
}

// Counterpart returns the other participant of the call
func (c *CallSession) Counterpart(userID string) string {
	if userID == c.UserID {
		return c.ExpertID
	}
	return c.UserID
}

type IncomingCallStatus string

const (
	IncomingCallPending  IncomingCallStatus = "pending"
	IncomingCallAccepted IncomingCallStatus = "accepted"
	IncomingCallRejected IncomingCallStatus = "rejected"
	IncomingCallExpired  IncomingCallStatus = "expired"
)

// IncomingCallRequest is an unanswered invitation addressed to ReceiverID
type IncomingCallRequest struct {
	ID            string             `json:"id" bson:"_id"`
	CallSessionID string             `json:"callSessionId" bson:"call_session_id"`
	UserID        string             `json:"userId" bson:"user_id"`
	ExpertID      string             `json:"expertId" bson:"expert_id"`
	ReceiverID    string             `json:"receiverId" bson:"receiver_id"`
	CallerName    string             `json:"callerName,omitempty" bson:"caller_name"`
	CallType      CallType           `json:"callType" bson:"call_type"`
	Status        IncomingCallStatus `json:"status" bson:"status"`
	ChannelName   string             `json:"channelName" bson:"channel_name"`
	AgoraToken    string             `json:"agoraToken" bson:"agora_token"`
	ExpiresAt     time.Time          `json:"expiresAt" bson:"expires_at"`
	CreatedAt     time.Time          `json:"createdAt" bson:"created_at"`
}

// Expired reports whether the request should no longer be honored at now.
// Expiry is advisory for receivers; the expiry monitor persists it.
func (r *IncomingCallRequest) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Actionable reports whether the receiver may still answer the request
func (r *IncomingCallRequest) Actionable(now time.Time) bool {
	return r.Status == IncomingCallPending && !r.Expired(now)
}

// CallEndResult is returned when a participant's call session ends
type CallEndResult struct {
	Success  bool    `json:"success"`
	Duration int     `json:"duration"` // seconds
	Cost     float64 `json:"cost"`
}

// RemoteParticipant is a peer seen in the RTC channel
type RemoteParticipant struct {
	UID      string `json:"uid"`
	HasAudio bool   `json:"hasAudio"`
	HasVideo bool   `json:"hasVideo"`
}

// -----------------------------------------------------------------
// HTTP Payloads
// -----------------------------------------------------------------

// CreateCallPayload is sent by either party to initiate a consultation
type CreateCallPayload struct {
	ExpertID                string   `json:"expertId" binding:"required"`
	UserID                  string   `json:"userId" binding:"required"`
	CallType                CallType `json:"callType" binding:"required"`
	SelectedDurationMinutes int      `json:"selectedDurationMinutes,omitempty"`
	RatePerMinute           float64  `json:"ratePerMinute,omitempty"`
	Currency                string   `json:"currency,omitempty"`
	CallerName              string   `json:"callerName,omitempty"`
}

// CreateCallResponse carries the created session and the caller's channel token
type CreateCallResponse struct {
	Session *CallSession         `json:"session"`
	Request *IncomingCallRequest `json:"request"`
	Token   string               `json:"token"`
}

// StartCallPayload is sent by a participant to join the call's channel
type StartCallPayload struct {
	DisplayName string `json:"displayName,omitempty"`
}

// RespondIncomingPayload answers an incoming call request
type RespondIncomingPayload struct {
	Accept bool `json:"accept"`
}

// ParticipantStateResponse describes one participant's live call state
type ParticipantStateResponse struct {
	CallID         string              `json:"callId"`
	ParticipantID  string              `json:"participantId"`
	State          string              `json:"state"`
	Muted          bool                `json:"muted"`
	VideoOff       bool                `json:"videoOff"`
	Elapsed        int                 `json:"elapsed"`
	Remaining      int                 `json:"remaining"`
	Cost           float64             `json:"cost"`
	NeedsExtension bool                `json:"needsExtension"`
	Remote         []RemoteParticipant `json:"remote"`
}

// ChannelTokenResponse lets a browser join the call's channel room itself
type ChannelTokenResponse struct {
	CallID  string `json:"callId"`
	Channel string `json:"channel"`
	UID     string `json:"uid"`
	Token   string `json:"token"`
}
