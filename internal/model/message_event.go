package model

// MessageNewEvent - pushed to the receiver when a persisted message is inserted
type MessageNewEvent struct {
	Message   PersistedMessage `json:"message"`
	Timestamp int64            `json:"timestamp"`
}

// MessagesRead - for read receipts
type MessagesRead struct {
	ReaderID  string `json:"readerId"`
	SenderID  string `json:"senderId"`
	Count     int64  `json:"count"`
	Timestamp int64  `json:"timestamp"`
}

// ChatTranscriptEvent - pushed to a participant when their call transcript grows
type ChatTranscriptEvent struct {
	CallID    string      `json:"callId"`
	Message   ChatMessage `json:"message"`
	Timestamp int64       `json:"timestamp"`
}
