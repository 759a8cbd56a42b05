// Package rtc defines the boundary to the real-time transport: clients that join
// named channels, publish local tracks and exchange data stream messages.
package rtc

import (
	"context"
	"errors"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

type RemoteEventType string

const (
	EventUserPublished   RemoteEventType = "user-published"
	EventUserUnpublished RemoteEventType = "user-unpublished"
	EventUserLeft        RemoteEventType = "user-left"
)

var (
	ErrNotJoined     = errors.New("rtc: client has not joined a channel")
	ErrAlreadyJoined = errors.New("rtc: client already joined a channel")
	ErrClientClosed  = errors.New("rtc: client closed")
	ErrInvalidToken  = errors.New("rtc: invalid channel token")
	ErrTrackClosed   = errors.New("rtc: track closed")
)

// RemoteEvent reports a change of a remote participant identified by UID
type RemoteEvent struct {
	Type RemoteEventType
	UID  string
	Kind Kind // empty for user-left
}

// Track is a local media track owned by one client
type Track interface {
	Kind() Kind
	Enabled() bool
	SetEnabled(ctx context.Context, enabled bool) error
	Close()
}

// Client is one participant's connection to the transport
type Client interface {
	Join(ctx context.Context, channel, token, uid string) error
	Leave(ctx context.Context) error
	CreateTracks(ctx context.Context, kinds ...Kind) ([]Track, error)
	Publish(ctx context.Context, tracks ...Track) error
	Subscribe(ctx context.Context, uid string, kind Kind) error
	SendStreamMessage(ctx context.Context, payload []byte) error

	OnRemoteEvent(handler func(RemoteEvent))
	OnStreamMessage(handler func(uid string, payload []byte))
}

// Engine constructs clients
type Engine interface {
	CreateClient() (Client, error)
}

// TokenVerifier checks that a channel token grants uid access to channel
type TokenVerifier interface {
	VerifyChannel(token, channel, uid string) error
}
