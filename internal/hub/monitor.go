package hub

import (
	"slices"

	"ifindlife/internal/model"
)

// CallStatsProvider reports the live participant sessions
type CallStatsProvider interface {
	CallStats() model.CallStats
}

// MonitorService provides methods to gather hub statistics
type MonitorService struct {
	hub   *Hub
	calls CallStatsProvider
}

// NewMonitorService creates a new monitor service. calls may be nil.
func NewMonitorService(hub *Hub, calls CallStatsProvider) *MonitorService {
	return &MonitorService{hub: hub, calls: calls}
}

// GetStats gathers and returns all hub statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	connectionStats := ms.getConnectionStats()

	status := "healthy"
	if connectionStats.TotalConnected == 0 {
		status = "idle"
	}

	callStats := model.CallStats{CallDetails: make([]model.CallInfo, 0)}
	if ms.calls != nil {
		callStats = ms.calls.CallStats()
	}

	return model.MonitorResponse{
		Status:      status,
		Connections: connectionStats,
		Channels:    ms.getChannelStats(),
		Calls:       callStats,
		Clients:     ms.getClientList(),
		StatusCount: ms.getStatusCount(),
	}
}

func (ms *MonitorService) getConnectionStats() model.ConnectionStats {
	ms.hub.onlineUsersMu.RLock()
	defer ms.hub.onlineUsersMu.RUnlock()

	stats := model.ConnectionStats{
		TotalUsers: len(ms.hub.onlineUsers),
	}

	for _, conns := range ms.hub.onlineUsers {
		for _, client := range conns {
			stats.TotalConnected++
			switch client.GetStatus() {
			case StatusOnline:
				stats.TotalOnline++
			case StatusInCall:
				stats.TotalInCall++
			}
		}
	}

	return stats
}

func (ms *MonitorService) getChannelStats() model.ChannelStats {
	stats := model.ChannelStats{
		ChannelDetails: make([]model.ChannelInfo, 0),
	}

	for _, bucket := range ms.hub.shards {
		bucket.RLock()
		for name, r := range bucket.rooms {
			uids := make([]string, 0, len(r.peers))
			for _, p := range r.peers {
				if !slices.Contains(uids, p.UID()) {
					uids = append(uids, p.UID())
				}
			}
			slices.Sort(uids)

			stats.ChannelDetails = append(stats.ChannelDetails, model.ChannelInfo{
				ChannelName: name,
				Peers:       len(r.peers),
				PeerUIDs:    uids,
			})
			stats.TotalChannels++
		}
		bucket.RUnlock()
	}

	return stats
}

func (ms *MonitorService) getClientList() []model.ClientInfo {
	ms.hub.onlineUsersMu.RLock()
	defer ms.hub.onlineUsersMu.RUnlock()

	clients := make([]model.ClientInfo, 0, len(ms.hub.onlineUsers))
	for _, conns := range ms.hub.onlineUsers {
		for _, client := range conns {
			clients = append(clients, model.ClientInfo{
				ClientID:       client.ID,
				UserID:         client.userId,
				Status:         client.GetStatus(),
				CurrentChannel: client.Channel(),
			})
		}
	}

	return clients
}

func (ms *MonitorService) getStatusCount() map[string]int {
	ms.hub.onlineUsersMu.RLock()
	defer ms.hub.onlineUsersMu.RUnlock()

	statusCount := map[string]int{
		StatusOnline: 0,
		StatusInCall: 0,
	}

	for _, conns := range ms.hub.onlineUsers {
		for _, client := range conns {
			statusCount[client.GetStatus()]++
		}
	}

	return statusCount
}
