package event

// RTC Event Types - Client to Server
const (
	// EventRTCJoin - Join a channel room with a channel token
	EventRTCJoin = "rtc:join"

	// EventRTCLeave - Leave the current channel room
	EventRTCLeave = "rtc:leave"

	// EventRTCPublish - Announce a local media track to the room
	EventRTCPublish = "rtc:publish"

	// EventRTCUnpublish - Withdraw a local media track
	EventRTCUnpublish = "rtc:unpublish"
)

// RTC Event Types - Both directions
const (
	// EventRTCStreamMessage - Opaque data stream payload relayed to every other peer
	EventRTCStreamMessage = "rtc:stream-message"
)

// RTC Event Types - Server to Client
const (
	EventRTCUserPublished   = "rtc:user-published"
	EventRTCUserUnpublished = "rtc:user-unpublished"
	EventRTCUserLeft        = "rtc:user-left"
	EventRTCJoined          = "rtc:joined"
	EventRTCError           = "rtc:error"
)

// Media kinds
const (
	MediaAudio = "audio"
	MediaVideo = "video"
)

// RTCJoinPayload is sent by a browser to enter a channel
type RTCJoinPayload struct {
	Channel string `json:"channel"`
	Token   string `json:"token"`
}

// RTCMediaPayload describes a publish/unpublish of one media kind
type RTCMediaPayload struct {
	UID  string `json:"uid,omitempty"`
	Kind string `json:"kind"`
}

// RTCPeerPayload identifies a peer that left
type RTCPeerPayload struct {
	UID string `json:"uid"`
}
