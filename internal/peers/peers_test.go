package peers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerkeeper/internal/models"
)

func TestNormalize(t *testing.T) {
	got, err := Normalize([]string{" /ip4/10.0.0.1/tcp/1/ws", "", "/ip4/10.0.0.2/tcp/1/ws", "/ip4/10.0.0.1/tcp/1/ws "})
	require.NoError(t, err)
	assert.Equal(t, []models.PeerAddress{"/ip4/10.0.0.1/tcp/1/ws", "/ip4/10.0.0.2/tcp/1/ws"}, got)

	_, err = Normalize([]string{" ", ""})
	assert.ErrorIs(t, err, models.ErrNoPeers)
}

func TestStatic(t *testing.T) {
	got, err := Static{"/dns4/a.example.com/tcp/443/wss"}.Peers(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = Static(nil).Peers(context.Background())
	assert.ErrorIs(t, err, models.ErrNoPeers)
}

func TestRemote(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []models.PeerAddress
	}{
		{"array", `["/ip4/10.0.0.1/tcp/1/ws", "/ip4/10.0.0.2/tcp/1/ws"]`, []models.PeerAddress{"/ip4/10.0.0.1/tcp/1/ws", "/ip4/10.0.0.2/tcp/1/ws"}},
		{"object", `{"peers": ["/ip4/10.0.0.3/tcp/1/ws"]}`, []models.PeerAddress{"/ip4/10.0.0.3/tcp/1/ws"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewRemote(srv.URL, "secret", srv.Client()).Peers(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRemote_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/empty":
			_, _ = w.Write([]byte(`[]`))
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL+"/missing", "", nil).Peers(context.Background())
	assert.ErrorContains(t, err, "http 404")

	_, err = NewRemote(srv.URL+"/empty", "", nil).Peers(context.Background())
	assert.ErrorIs(t, err, models.ErrNoPeers)

	_, err = NewRemote(srv.URL+"/garbage", "", nil).Peers(context.Background())
	assert.ErrorContains(t, err, "decode peer list")
}

func TestCombined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["/ip4/10.0.0.2/tcp/1/ws", "/ip4/10.0.0.1/tcp/1/ws"]`))
	}))
	defer srv.Close()

	got, err := Combined(context.Background(),
		Static{"/ip4/10.0.0.1/tcp/1/ws"},
		NewRemote(srv.URL, "", srv.Client()),
	)
	require.NoError(t, err)
	assert.Equal(t, []models.PeerAddress{"/ip4/10.0.0.1/tcp/1/ws", "/ip4/10.0.0.2/tcp/1/ws"}, got)

	got, err = Combined(context.Background(), Static(nil), NewRemote(srv.URL, "", srv.Client()))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = Combined(context.Background(), Static(nil), NewRemote("http://127.0.0.1:1/", "", nil))
	assert.ErrorIs(t, err, models.ErrNoPeers)
	assert.ErrorContains(t, err, "fetch peer list")
}

func TestCombined_SourceFailureKeepsOthers(t *testing.T) {
	got, err := Combined(context.Background(),
		Static{"/ip4/10.0.0.1/tcp/1/ws"},
		NewRemote("http://127.0.0.1:1/", "", nil),
	)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
