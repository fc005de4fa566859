package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"peerkeeper/internal/models"
)

// PeerConnected is 1 while the peer reports a live session.
var PeerConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "peerkeeper",
	Name:      "peer_connected",
	Help:      "Whether the peer is currently connected (1) or not (0).",
}, []string{"peer"})

// PeerLatency holds the last measured round trip per peer.
var PeerLatency = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "peerkeeper",
	Name:      "peer_latency_seconds",
	Help:      "Last measured ping latency in seconds.",
}, []string{"peer"})

// Reconnects counts reconnect cycles started by supervisors.
var Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "peerkeeper",
	Name:      "reconnects_total",
	Help:      "Total reconnect cycles per peer.",
}, []string{"peer"})

// ProbeFailures counts failed liveness probes.
var ProbeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "peerkeeper",
	Name:      "probe_failures_total",
	Help:      "Total failed pings per peer.",
}, []string{"peer"})

// GiveUps counts peers abandoned after exhausting their retries.
var GiveUps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "peerkeeper",
	Name:      "give_ups_total",
	Help:      "Total times a peer exhausted its reconnect retries.",
}, []string{"peer"})

// NetworkRestarts counts supervisors restarted by a network-online signal.
var NetworkRestarts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "peerkeeper",
	Name:      "network_restarts_total",
	Help:      "Total supervisor restarts triggered by network availability.",
})

// Offline is 1 when no peer is connected.
var Offline = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "peerkeeper",
	Name:      "offline",
	Help:      "Whether every known peer is disconnected.",
})

// AverageLatency mirrors the aggregated snapshot latency.
var AverageLatency = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "peerkeeper",
	Name:      "average_latency_seconds",
	Help:      "Mean latency across connected peers.",
})

// ObserveSnapshot updates gauges from an aggregated snapshot.
func ObserveSnapshot(s models.Snapshot) {
	if s.Offline {
		Offline.Set(1)
	} else {
		Offline.Set(0)
	}
	if s.AverageLatency != nil {
		AverageLatency.Set(s.AverageLatency.Seconds())
	} else {
		AverageLatency.Set(0)
	}

	for _, entry := range s.Peers {
		peer := entry.Peer.String()
		if entry.Status.Connected {
			PeerConnected.WithLabelValues(peer).Set(1)
		} else {
			PeerConnected.WithLabelValues(peer).Set(0)
		}
		if entry.Status.Connected && entry.Status.Latency != nil {
			PeerLatency.WithLabelValues(peer).Set(entry.Status.Latency.Seconds())
		} else {
			PeerLatency.DeleteLabelValues(peer)
		}
	}
}
