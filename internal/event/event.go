package event

import (
	"encoding/json"
	"time"
)

type WsEvent struct {
	Event     string          `json:"event"`
	ChannelId string          `json:"channelId,omitempty"`
	From      string          `json:"from,omitempty"` // uid of the originating peer
	Payload   json.RawMessage `json:"payload,omitempty"`
	MessageId string          `json:"messageId,omitempty"`
}

// New marshals payload into a WsEvent. A payload that cannot be marshalled yields an empty body.
func New(name string, payload any) WsEvent {
	body, err := json.Marshal(payload)
	if err != nil {
		body = nil
	}
	return WsEvent{
		Event:   name,
		Payload: body,
	}
}

// Now is the timestamp stamped on server events
func Now() int64 {
	return time.Now().Unix()
}
