package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerkeeper/internal/models"
)

func quietEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func fixedNow() time.Time {
	return time.Unix(42, 0)
}

func TestRecorder_WritesInBackground(t *testing.T) {
	store, err := NewHistoryStorage("", 10)
	require.NoError(t, err)
	r := NewRecorder(store, fixedNow, 4, quietEntry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Record(models.Snapshot{Offline: true})
	r.Record(models.Snapshot{Offline: false})
	require.Eventually(t, func() bool { return len(store.History()) == 2 }, 2*time.Second, 5*time.Millisecond)

	history := store.History()
	assert.True(t, history[0].Snapshot.Offline)
	assert.Equal(t, int64(42), history[1].Timestamp.Unix())

	cancel()
	require.NoError(t, <-done)
}

func TestRecorder_RecordDoesNotBlockWhenFull(t *testing.T) {
	store, err := NewHistoryStorage("", 10)
	require.NoError(t, err)
	r := NewRecorder(store, fixedNow, 1, quietEntry())

	r.Record(models.Snapshot{})
	r.Record(models.Snapshot{})
	r.Record(models.Snapshot{})
	assert.Equal(t, int64(2), r.Dropped())
	assert.Empty(t, store.History())
}

func TestRecorder_FlushesOnStop(t *testing.T) {
	store, err := NewHistoryStorage("", 10)
	require.NoError(t, err)
	r := NewRecorder(store, fixedNow, 4, quietEntry())

	r.Record(models.Snapshot{Offline: true})
	r.Record(models.Snapshot{Offline: true})
	r.Record(models.Snapshot{Offline: false})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
	assert.Len(t, store.History(), 3)
}
