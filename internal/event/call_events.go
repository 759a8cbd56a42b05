package event

import "time"

// Call Event Types - Server to Client
const (
	// EventCallIncoming - Show the incoming call dialog
	EventCallIncoming = "call:incoming"

	// EventCallDialogCleared - No incoming call is pending display
	EventCallDialogCleared = "call:dialog_cleared"

	// EventCallAccepted - Notify caller that the receiver accepted
	EventCallAccepted = "call:accepted"

	// EventCallRejected - Notify caller that the receiver rejected
	EventCallRejected = "call:rejected"

	// EventCallCancelled - Notify the receiver that the caller hung up before an answer
	EventCallCancelled = "call:cancelled"

	// EventCallEnded - Notify both parties that the call is completed
	EventCallEnded = "call:ended"

	// EventCallExtensionRequired - The free allotment ran out
	EventCallExtensionRequired = "call:extension_required"

	// EventCallChat - A data channel chat message reached a participant's transcript
	EventCallChat = "call:chat"

	// EventCallError - Notify of call-related errors
	EventCallError = "call:error"
)

// Message and notification events
const (
	EventMessageNew  = "message:new"
	EventMessageRead = "message:read"
	EventToast       = "notify:toast"
)

// Call Configuration
const (
	// DefaultAllotmentMinutes is the free duration before per-minute billing
	DefaultAllotmentMinutes = 15

	// DefaultIncomingCallTTL is how long an incoming call request stays answerable
	DefaultIncomingCallTTL = 2 * time.Minute

	// DefaultDialogCloseDelay is the pause before the next queued call is shown
	DefaultDialogCloseDelay = 500 * time.Millisecond
)

// CallAcceptedEvent is sent to the caller when the receiver accepts
type CallAcceptedEvent struct {
	CallID     string `json:"callId"`
	AcceptedBy string `json:"acceptedBy"`
	Channel    string `json:"channel"`
	Timestamp  int64  `json:"timestamp"`
}

// CallRejectedEvent is sent to the caller when the receiver rejects
type CallRejectedEvent struct {
	CallID     string `json:"callId"`
	RejectedBy string `json:"rejectedBy"`
	Timestamp  int64  `json:"timestamp"`
}

// CallCancelledEvent is sent to the receiver when the call ends before it was answered
type CallCancelledEvent struct {
	CallID      string `json:"callId"`
	RequestID   string `json:"requestId"`
	CancelledBy string `json:"cancelledBy"`
	Timestamp   int64  `json:"timestamp"`
}

// CallEndedEvent is sent to both parties when the call completes
type CallEndedEvent struct {
	CallID    string  `json:"callId"`
	EndedBy   string  `json:"endedBy"`
	Duration  int     `json:"duration"` // seconds
	Cost      float64 `json:"cost"`
	Currency  string  `json:"currency"`
	Timestamp int64   `json:"timestamp"`
}

// CallExtensionEvent is sent when the free allotment is exhausted
type CallExtensionEvent struct {
	CallID        string `json:"callId"`
	ParticipantID string `json:"participantId"`
	Elapsed       int    `json:"elapsed"`
	Timestamp     int64  `json:"timestamp"`
}

// CallDialogClearedEvent is sent when no incoming call remains to show
type CallDialogClearedEvent struct {
	Timestamp int64 `json:"timestamp"`
}

// CallErrorEvent is sent when a call error occurs
type CallErrorEvent struct {
	CallID    string `json:"callId,omitempty"`
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ToastEvent is an in-app notification
type ToastEvent struct {
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp int64             `json:"timestamp"`
}
