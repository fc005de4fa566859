package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerkeeper/internal/backoff"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NotEmpty(t, cfg.NodeID)
	assert.Equal(t, time.Minute, cfg.KeepAliveInterval.Std())
	assert.Equal(t, time.Second, cfg.ConnectTimeout.Std())
	assert.Equal(t, 10*time.Second, cfg.PingTimeout.Std())
	assert.Equal(t, backoff.VariantBounded, cfg.Backoff.Variant)
	assert.Equal(t, time.Second, cfg.Backoff.Initial.Std())
	assert.Equal(t, 17, cfg.Backoff.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Backoff.MaxInterval.Std())
	assert.Equal(t, 500, cfg.HistoryLimit)
	assert.True(t, cfg.AutoStart)
	assert.Contains(t, cfg.ExcludedPrefixes, "/ip4/127.")
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "peerkeeper.yaml", `
node_id: edge-1
listen_addr: 127.0.0.1:9000
debug: true
keep_alive_interval: 30s
connect_timeout: 2s
backoff:
  variant: capped
  initial: 500ms
  max_interval: 1m
peers:
  - /dns4/a.example.com/tcp/443/wss
  - /ip4/10.0.0.2/tcp/4001/ws
excluded_prefixes: ["/ip4/10."]
history_file: data/history.json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "edge-1", cfg.NodeID)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 30*time.Second, cfg.Timing().KeepAliveInterval)
	assert.Equal(t, 2*time.Second, cfg.Timing().ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.Timing().PingTimeout)
	assert.Len(t, cfg.Peers, 2)
	assert.Equal(t, []string{"/ip4/10."}, cfg.ExcludedPrefixes)
	assert.Equal(t, "data/history.json", cfg.HistoryFile)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, backoff.Capped{InitialBackoff: 500 * time.Millisecond, Ceiling: time.Minute}, policy)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "peerkeeper.toml", `
node_id = "edge-2"
peer_list_url = "https://peers.example.com/list"
ping_timeout = "3s"
auto_start = false

[backoff]
variant = "bounded"
max_retries = 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "edge-2", cfg.NodeID)
	assert.Equal(t, "https://peers.example.com/list", cfg.PeerListURL)
	assert.Equal(t, 3*time.Second, cfg.PingTimeout.Std())
	assert.False(t, cfg.AutoStart)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, backoff.Bounded{InitialBackoff: time.Second, MaxRetries: 4}, policy)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"bad yaml", "c.yaml", "peers: [", "parse config"},
		{"bad duration", "c.yaml", "keep_alive_interval: soon", "parse config"},
		{"unknown variant", "c.yaml", "backoff:\n  variant: linear", "unknown backoff variant"},
		{"negative retries", "c.toml", "[backoff]\nmax_retries = -1", "max_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad_EmptyValuesFallBack(t *testing.T) {
	path := writeFile(t, "c.yaml", "node_id: \"\"\nlisten_addr: \"\"\nhistory_limit: 0\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.NodeID, cfg.NodeID)
	assert.Equal(t, def.ListenAddr, cfg.ListenAddr)
	assert.Equal(t, def.HistoryLimit, cfg.HistoryLimit)
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	assert.Equal(t, 90*time.Second, d.Std())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("90")))
}
