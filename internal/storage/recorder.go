package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"peerkeeper/internal/models"
)

const defaultRecorderBuffer = 64

// Recorder writes snapshots to a HistoryStorage from its own goroutine so
// that callers never wait on disk I/O.
type Recorder struct {
	store   *HistoryStorage
	now     func() time.Time
	queue   chan models.HistoryEntry
	dropped atomic.Int64
	log     *logrus.Entry
}

// NewRecorder creates a recorder. now stamps each snapshot when it is queued.
func NewRecorder(store *HistoryStorage, now func() time.Time, buffer int, logger *logrus.Entry) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Recorder{
		store: store,
		now:   now,
		queue: make(chan models.HistoryEntry, buffer),
		log:   logger.WithField("component", "history"),
	}
}

// Record queues snap without blocking. Snapshots are dropped while the queue
// is full.
func (r *Recorder) Record(snap models.Snapshot) {
	entry := models.HistoryEntry{Timestamp: r.now().UTC(), Snapshot: snap}
	select {
	case r.queue <- entry:
	default:
		r.dropped.Add(1)
		r.log.Debug("history queue full, snapshot dropped")
	}
}

// Dropped returns how many snapshots were discarded.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Run writes queued snapshots until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-ctx.Done():
			r.flush()
			return nil
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		default:
			return
		}
	}
}

func (r *Recorder) write(entry models.HistoryEntry) {
	if err := r.store.Append(entry); err != nil {
		r.log.WithError(err).Warn("record history")
	}
}
