package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API
type MonitorResponse struct {
	Status      string          `json:"status"`      // "healthy", "idle"
	Connections ConnectionStats `json:"connections"` // Client connection stats
	Channels    ChannelStats    `json:"channels"`    // RTC channel stats
	Calls       CallStats       `json:"calls"`       // Live participant sessions
	Clients     []ClientInfo    `json:"clients"`     // List of connected clients
	StatusCount map[string]int  `json:"statusCount"` // Count by status (online, in_call)
}

// ConnectionStats holds connection-related statistics
type ConnectionStats struct {
	TotalConnected int `json:"totalConnected"` // Socket connections currently open
	TotalUsers     int `json:"totalUsers"`     // Distinct users online
	TotalOnline    int `json:"totalOnline"`    // Clients with status "online"
	TotalInCall    int `json:"totalInCall"`    // Clients with status "in_call"
}

// ChannelStats holds RTC channel statistics
type ChannelStats struct {
	TotalChannels  int           `json:"totalChannels"`
	ChannelDetails []ChannelInfo `json:"channelDetails"`
}

// ChannelInfo contains information about a single channel room
type ChannelInfo struct {
	ChannelName string   `json:"channelName"`
	Peers       int      `json:"peers"`
	PeerUIDs    []string `json:"peerUids"`
}

// CallStats holds live participant session statistics
type CallStats struct {
	TotalActiveCalls int        `json:"totalActiveCalls"` // Number of live participant sessions
	CallDetails      []CallInfo `json:"callDetails"`
}

// CallInfo contains information about a single participant session
type CallInfo struct {
	CallID        string  `json:"callId"`
	ParticipantID string  `json:"participantId"`
	State         string  `json:"state"`
	Elapsed       int     `json:"elapsed"` // seconds
	Cost          float64 `json:"cost"`
}

// ClientInfo contains information about a connected client
type ClientInfo struct {
	ClientID       string `json:"clientId"`
	UserID         string `json:"userId"`
	Status         string `json:"status"`                   // "online", "in_call"
	CurrentChannel string `json:"currentChannel,omitempty"` // If joined to a channel
}
