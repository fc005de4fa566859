package models

import "time"

// Timeline states.
const (
	TimelineConnected    = "connected"
	TimelineDisconnected = "disconnected"
	TimelineFlapping     = "flapping"
	TimelineMissing      = "missing"
)

// TimelinePoint summarises one peer over a time bucket.
type TimelinePoint struct {
	State          string           `json:"state"`
	Label          string           `json:"label"`
	Start          time.Time        `json:"start"`
	End            time.Time        `json:"end"`
	Samples        int              `json:"samples"`
	AverageLatency *time.Duration   `json:"average_latency,omitempty"`
	Details        []TimelineDetail `json:"details,omitempty"`
}

// TimelineDetail records a disconnect inside a bucket.
type TimelineDetail struct {
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state"`
}

// PeerTimeline is the bucketed connectivity history of one peer.
type PeerTimeline struct {
	Peer     PeerAddress     `json:"peer"`
	Timeline []TimelinePoint `json:"timeline"`
}
