package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerkeeper/internal/config"
	"peerkeeper/internal/models"
	"peerkeeper/internal/monitor"
	"peerkeeper/internal/node"
	"peerkeeper/internal/server"
	"peerkeeper/internal/status"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newResponder(t *testing.T) models.PeerAddress {
	t.Helper()
	responder := node.NewResponder(logrus.NewEntry(quietLogger()))
	srv := httptest.NewServer(responder)
	t.Cleanup(func() {
		responder.CloseAll()
		srv.Close()
	})
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	return models.PeerAddress(fmt.Sprintf("/ip4/%s/tcp/%s/ws", host, port))
}

// signalSource hands the app a network channel the test writes to.
type signalSource struct {
	updates chan bool
}

func (s signalSource) Watch(context.Context) (<-chan bool, error) {
	return s.updates, nil
}

func testConfig(peers ...string) config.Config {
	cfg := config.DefaultConfig()
	cfg.NodeID = "test-node"
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Peers = peers
	cfg.ConnectTimeout = config.Duration(2 * time.Second)
	cfg.PingTimeout = config.Duration(2 * time.Second)
	return cfg
}

func TestApp_ConnectsToPeer(t *testing.T) {
	peer := newResponder(t)
	unreachable := "/ip4/127.0.0.1/tcp/1/ws"
	network := signalSource{updates: make(chan bool, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := newApp(ctx, testConfig(peer.String(), unreachable), quietLogger(), network)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	require.Eventually(t, func() bool {
		return !a.agg.Snapshot().Offline
	}, 5*time.Second, 10*time.Millisecond)

	snap := a.agg.Snapshot()
	require.Len(t, snap.Peers, 2)
	assert.True(t, snap.Peers[0].Status.Connected)
	assert.False(t, snap.Peers[1].Status.Connected)
	require.NotNil(t, snap.AverageLatency)

	network.updates <- true
	require.Eventually(t, func() bool {
		latest, ok := a.history.Latest()
		return ok && !latest.Snapshot.Offline
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.False(t, a.registry.Started())
}

func TestApp_WaitsForStartTrigger(t *testing.T) {
	peer := newResponder(t)
	cfg := testConfig(peer.String())
	cfg.AutoStart = false
	cfg.NetworkWatch = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := newApp(ctx, cfg, quietLogger(), nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	assert.True(t, a.agg.Snapshot().Offline)
	assert.False(t, a.registry.Started())

	require.NoError(t, a.registry.Start(ctx))
	require.Eventually(t, func() bool {
		return !a.agg.Snapshot().Offline
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestNewApp_NoPeers(t *testing.T) {
	_, err := newApp(context.Background(), testConfig(), quietLogger(), nil)
	assert.ErrorIs(t, err, models.ErrNoPeers)
}

func TestNewApp_BadNodeID(t *testing.T) {
	cfg := testConfig("/ip4/10.0.0.1/tcp/1/ws")
	cfg.NodeID = string(bytes.Repeat([]byte("x"), 200))
	_, err := newApp(context.Background(), cfg, quietLogger(), nil)
	assert.ErrorContains(t, err, "create node")
}

func TestOfflineLogger(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	listen := offlineLogger(logrus.NewEntry(logger))

	listen(models.Snapshot{Offline: true})
	listen(models.Snapshot{Offline: true})
	listen(models.Snapshot{Offline: false, Peers: []models.PeerEntry{{Status: models.PeerStatus{Connected: true}}}})

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.WarnLevel, entries[0].Level)
	assert.Equal(t, logrus.InfoLevel, entries[1].Level)
	assert.Equal(t, 1, entries[1].Data["peers"])
}

func TestFetchAndRenderStatus(t *testing.T) {
	a := models.PeerAddress("/ip4/10.0.0.1/tcp/4001/ws")
	b := models.PeerAddress("/ip4/10.0.0.2/tcp/4001/ws")
	agg := status.NewAggregator(a, b)
	agg.Report(a, models.ConnectedStatus(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), 1500*time.Microsecond))

	reg, err := monitor.NewRegistry(monitor.RegistryConfig{
		Peers:  []models.PeerAddress{a, b},
		Node:   noopNode{},
		Logger: logrus.NewEntry(quietLogger()),
	})
	require.NoError(t, err)
	defer reg.Stop()

	srv := httptest.NewServer(server.New(server.Options{
		NodeID:     "edge-1",
		Status:     agg,
		Controller: reg,
		Logger:     logrus.NewEntry(quietLogger()),
	}).Handler())
	defer srv.Close()

	resp, err := fetchStatus(context.Background(), srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "edge-1", resp.NodeID)

	var out bytes.Buffer
	renderStatus(&out, resp)
	text := out.String()

	assert.Contains(t, text, "node edge-1  offline=false  avg latency 1.5ms")
	assert.Regexp(t, `PEER\s*\|\s*STATE\s*\|\s*CONNECTED`, text)
	assert.Regexp(t, `/ip4/10\.0\.0\.1/tcp/4001/ws\s*\|\s*idle\s*\|\s*true\s*\|\s*1\.5ms\s*\|\s*2024-05-01T12:00:00Z`, text)
	assert.Regexp(t, `/ip4/10\.0\.0\.2/tcp/4001/ws\s*\|\s*idle\s*\|\s*false\s*\|\s*-\s*\|\s*never\s*\|\s*0`, text)
}

func TestFetchStatus_Errors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := fetchStatus(context.Background(), srv.Client(), srv.URL)
	assert.ErrorContains(t, err, "http 404")

	_, err = fetchStatus(context.Background(), http.DefaultClient, "http://127.0.0.1:1")
	assert.ErrorContains(t, err, "fetch status")
}

func TestPeerAddress(t *testing.T) {
	assert.Equal(t, "/ip4/127.0.0.1/tcp/4001/ws", peerAddress(&net.TCPAddr{Port: 4001}))
	assert.Equal(t, "/ip4/10.1.2.3/tcp/80/ws", peerAddress(&net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 80}))
	assert.Equal(t, "/ip6/::1/tcp/80/ws", peerAddress(&net.TCPAddr{IP: net.ParseIP("::1"), Port: 80}))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(false, &buf)
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	assert.Equal(t, logrus.DebugLevel, newLogger(true, io.Discard).GetLevel())
}

type noopNode struct{}

func (noopNode) Ping(context.Context, models.PeerAddress) (time.Duration, error) { return 0, nil }

func (noopNode) Connect(context.Context, models.PeerAddress, time.Duration) error { return nil }

func (noopNode) Disconnect(context.Context, models.PeerAddress) error { return nil }
