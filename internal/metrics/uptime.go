package metrics

import (
	"math"
	"time"

	"peerkeeper/internal/models"
)

// PeerUptime summarises how often a peer was connected across history.
type PeerUptime struct {
	Peer          models.PeerAddress `json:"peer"`
	UptimePercent float64            `json:"uptime_percent"`
	Samples       int                `json:"samples"`
	Connected     int                `json:"connected"`
	Disconnected  int                `json:"disconnected"`
	LastState     string             `json:"last_state,omitempty"`
	LastUpdated   string             `json:"last_updated,omitempty"`
	LastConnected string             `json:"last_connected,omitempty"`
}

// ComputePeerUptime aggregates per-peer uptime from history entries. Uptime is
// the share of connected samples, one per recorded report. Peers are returned
// in order of first appearance.
func ComputePeerUptime(entries []models.HistoryEntry) []PeerUptime {
	type acc struct {
		connected     int
		disconnected  int
		lastState     bool
		lastTime      time.Time
		lastConnected *time.Time
	}
	state := make(map[models.PeerAddress]*acc)
	var order []models.PeerAddress
	for _, entry := range entries {
		for _, peer := range entry.Snapshot.Peers {
			target := state[peer.Peer]
			if target == nil {
				target = &acc{}
				state[peer.Peer] = target
				order = append(order, peer.Peer)
			}
			if peer.Status.Connected {
				target.connected++
			} else {
				target.disconnected++
			}
			target.lastState = peer.Status.Connected
			target.lastTime = entry.Timestamp
			if peer.Status.LastConnectedAt != nil {
				target.lastConnected = peer.Status.LastConnectedAt
			}
		}
	}
	if len(order) == 0 {
		return nil
	}

	results := make([]PeerUptime, 0, len(order))
	for _, peer := range order {
		data := state[peer]
		total := data.connected + data.disconnected
		uptime := 0.0
		if total > 0 {
			uptime = float64(data.connected) / float64(total) * 100
		}

		result := PeerUptime{
			Peer:          peer,
			UptimePercent: round2(uptime),
			Samples:       total,
			Connected:     data.connected,
			Disconnected:  data.disconnected,
			LastState:     stateName(data.lastState),
		}
		if !data.lastTime.IsZero() {
			result.LastUpdated = data.lastTime.UTC().Format(time.RFC3339)
		}
		if data.lastConnected != nil {
			result.LastConnected = data.lastConnected.UTC().Format(time.RFC3339)
		}
		results = append(results, result)
	}
	return results
}

func stateName(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
