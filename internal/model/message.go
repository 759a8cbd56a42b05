package model

import (
	"time"
)

// PersistedMessage is a durable chat message between two parties, independent of any call
type PersistedMessage struct {
	ID         string    `json:"id" bson:"_id"`
	SenderID   string    `json:"sender_id" bson:"sender_id"`
	ReceiverID string    `json:"receiver_id" bson:"receiver_id"`
	Content    string    `json:"content" bson:"content"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
	Read       bool      `json:"read" bson:"read"`
}

// ChatMessage is sent over a call's RTC data stream and is never persisted
type ChatMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
}

// SendMessagePayload is the body of a persisted message send
type SendMessagePayload struct {
	ReceiverID string `json:"receiverId" binding:"required"`
	Content    string `json:"content" binding:"required"`
}

// SendChatPayload is the body of an in-call chat send
type SendChatPayload struct {
	Content string `json:"content"`
}

// ErrorPayload represents an error response sent to client via WebSocket
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
