// Package history turns recorded snapshots into compact per-peer timelines.
package history

import (
	"sort"
	"time"

	"peerkeeper/internal/models"
)

const (
	// DefaultTimelinePoints controls how many buckets we generate per peer.
	DefaultTimelinePoints = 60
	maxDetailsPerPoint    = 4
)

type sample struct {
	at        time.Time
	connected bool
	latency   *time.Duration
}

// BuildPeerTimelines buckets history into points between start and end. Peers
// keep the order in which they first appear. A snapshot is recorded for every
// report, so samples follow keep-alive and reconnect cycles rather than a fixed
// period. A bucket without samples carries the last known state.
func BuildPeerTimelines(entries []models.HistoryEntry, start, end time.Time, points int) []models.PeerTimeline {
	if points <= 0 {
		points = DefaultTimelinePoints
	}
	if !end.After(start) {
		end = start.Add(time.Minute)
	}

	var order []models.PeerAddress
	samples := make(map[models.PeerAddress][]sample)
	for _, entry := range entries {
		for _, p := range entry.Snapshot.Peers {
			if _, ok := samples[p.Peer]; !ok {
				order = append(order, p.Peer)
			}
			samples[p.Peer] = append(samples[p.Peer], sample{
				at:        entry.Timestamp,
				connected: p.Status.Connected,
				latency:   p.Status.Latency,
			})
		}
	}
	if len(order) == 0 {
		return nil
	}

	result := make([]models.PeerTimeline, 0, len(order))
	for _, peer := range order {
		result = append(result, models.PeerTimeline{
			Peer:     peer,
			Timeline: buildTimeline(samples[peer], start, end, points),
		})
	}
	return result
}

func buildTimeline(samples []sample, start, end time.Time, points int) []models.TimelinePoint {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].at.Before(samples[j].at)
	})

	bucketDuration := end.Sub(start) / time.Duration(points)
	if bucketDuration <= 0 {
		bucketDuration = time.Minute
	}

	idx := 0
	var last sample
	haveLast := false
	for idx < len(samples) && samples[idx].at.Before(start) {
		last = samples[idx]
		haveLast = true
		idx++
	}

	output := make([]models.TimelinePoint, 0, points)
	for i := 0; i < points; i++ {
		bucketStart := start.Add(time.Duration(i) * bucketDuration)
		bucketEnd := bucketStart.Add(bucketDuration)
		if i == points-1 {
			bucketEnd = end
		}

		j := idx
		for j < len(samples) && samples[j].at.Before(bucketEnd) {
			j++
		}
		bucket := samples[idx:j]
		idx = j

		point := models.TimelinePoint{Start: bucketStart, End: bucketEnd}
		switch {
		case len(bucket) > 0:
			evaluateBucket(&point, bucket)
			last = bucket[len(bucket)-1]
			haveLast = true
		case haveLast:
			point.State, point.Label = classify(last.connected)
		default:
			point.State, point.Label = models.TimelineMissing, "No data"
		}
		output = append(output, point)
	}
	return output
}

func evaluateBucket(point *models.TimelinePoint, bucket []sample) {
	var (
		up, down int
		total    time.Duration
		measured int
	)
	for _, s := range bucket {
		if s.connected {
			up++
			if s.latency != nil {
				total += *s.latency
				measured++
			}
			continue
		}
		down++
		if len(point.Details) < maxDetailsPerPoint {
			point.Details = append(point.Details, models.TimelineDetail{
				Timestamp: s.at,
				State:     models.TimelineDisconnected,
			})
		}
	}

	point.Samples = len(bucket)
	if measured > 0 {
		avg := total / time.Duration(measured)
		point.AverageLatency = &avg
	}
	switch {
	case up > 0 && down > 0:
		point.State, point.Label = models.TimelineFlapping, "Intermittent"
	default:
		point.State, point.Label = classify(up > 0)
	}
	if point.State == models.TimelineConnected {
		point.Details = nil
	}
}

func classify(connected bool) (state, label string) {
	if connected {
		return models.TimelineConnected, "Connected"
	}
	return models.TimelineDisconnected, "Disconnected"
}
