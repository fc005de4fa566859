package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerkeeper/internal/backoff"
	"peerkeeper/internal/models"
	"peerkeeper/internal/status"
)

// peerNode answers pings only for peers listed in reachable.
type peerNode struct {
	mu        sync.Mutex
	reachable map[models.PeerAddress]time.Duration
	pings     map[models.PeerAddress]int
}

func newPeerNode(reachable map[models.PeerAddress]time.Duration) *peerNode {
	return &peerNode{reachable: reachable, pings: make(map[models.PeerAddress]int)}
}

func (n *peerNode) Ping(_ context.Context, peer models.PeerAddress) (time.Duration, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pings[peer]++
	latency, ok := n.reachable[peer]
	if !ok {
		return 0, errUnreachable
	}
	return latency, nil
}

func (n *peerNode) Connect(_ context.Context, peer models.PeerAddress, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.reachable[peer]; !ok {
		return errUnreachable
	}
	return nil
}

func (n *peerNode) Disconnect(context.Context, models.PeerAddress) error {
	return nil
}

func (n *peerNode) pingCount(peer models.PeerAddress) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pings[peer]
}

const (
	peerA models.PeerAddress = "/dns4/a.example.com/tcp/443/wss"
	peerB models.PeerAddress = "/ip4/10.0.0.2/tcp/4001/ws"
	local models.PeerAddress = "/ip4/127.0.0.1/tcp/4001/ws"
)

func newTestRegistry(t *testing.T, n *peerNode, agg *status.Aggregator, peers ...models.PeerAddress) *Registry {
	t.Helper()
	var rep Reporter
	if agg != nil {
		rep = agg
	}
	r, err := NewRegistry(RegistryConfig{
		Peers:    peers,
		Node:     n,
		Policy:   backoff.Bounded{InitialBackoff: time.Second, MaxRetries: 3},
		Reporter: rep,
		Clock:    clock.NewMock(),
		Timing:   testTiming,
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(r.Stop)
	return r
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{Node: newPeerNode(nil), Peers: []models.PeerAddress{" ", ""}})
	assert.ErrorIs(t, err, models.ErrNoPeers)

	_, err = NewRegistry(RegistryConfig{Peers: []models.PeerAddress{peerA}})
	assert.Error(t, err)
}

func TestNewRegistry_DeduplicatesPeers(t *testing.T) {
	r := newTestRegistry(t, newPeerNode(nil), nil, peerA, " "+peerA+" ", peerB, peerA)

	assert.Equal(t, []models.PeerAddress{peerA, peerB}, r.Peers())
	_, ok := r.Supervisor(peerB)
	assert.True(t, ok)
	_, ok = r.Supervisor(local)
	assert.False(t, ok)
}

func TestRegistry_StartAggregatesStatus(t *testing.T) {
	n := newPeerNode(map[models.PeerAddress]time.Duration{peerA: 40 * time.Millisecond})
	agg := status.NewAggregator(peerA, peerB)
	r := newTestRegistry(t, n, agg, peerA, peerB)

	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool {
		st, _ := agg.Status(peerA)
		return st.Connected
	}, waitFor, tick)

	snap := agg.Snapshot()
	assert.False(t, snap.Offline)
	require.NotNil(t, snap.AverageLatency)
	assert.Equal(t, 40*time.Millisecond, *snap.AverageLatency)

	supA, _ := r.Supervisor(peerA)
	assert.Equal(t, supA.Status().LastConnectedAt, snap.LastConnectedAt)

	stB, ok := agg.Status(peerB)
	require.True(t, ok)
	assert.False(t, stB.Connected)

	states := r.States()
	require.Len(t, states, 2)
	assert.Equal(t, PeerState{Peer: peerA, State: "connected"}, states[0])
	assert.Equal(t, peerB, states[1].Peer)
}

func TestRegistry_StartTwice(t *testing.T) {
	r := newTestRegistry(t, newPeerNode(nil), nil, peerA)

	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyStarted)
	assert.True(t, r.Started())

	r.Stop()
	assert.False(t, r.Started())
	assert.ErrorIs(t, r.Start(context.Background()), ErrStopped)
}

func TestRegistry_Restart(t *testing.T) {
	n := newPeerNode(map[models.PeerAddress]time.Duration{peerA: time.Millisecond})
	r := newTestRegistry(t, n, nil, peerA)

	assert.ErrorIs(t, r.Restart(peerB), models.ErrUnknownPeer)
	assert.ErrorIs(t, r.Restart(peerA), ErrNotStarted)

	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return n.pingCount(peerA) == 1 }, waitFor, tick)

	require.NoError(t, r.Restart(peerA))
	require.Eventually(t, func() bool { return n.pingCount(peerA) == 2 }, waitFor, tick)
}

func TestRegistry_ContextCancelStopsSupervisors(t *testing.T) {
	r := newTestRegistry(t, newPeerNode(nil), nil, peerA, peerB)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, r.Start(ctx))
	cancel()

	require.Eventually(t, func() bool {
		for _, peer := range r.Peers() {
			sup, _ := r.Supervisor(peer)
			if sup.State() != StateStopped {
				return false
			}
		}
		return true
	}, waitFor, tick)
	assert.False(t, r.Started())
}
