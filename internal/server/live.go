package server

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"peerkeeper/internal/models"
)

const (
	livePushInterval = 60 * time.Second
	liveWriteTimeout = 5 * time.Second
	liveSendBuffer   = 8
)

var liveUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// LiveMessage is pushed to websocket clients.
type LiveMessage struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Snapshot    models.Snapshot `json:"snapshot"`
}

// Hub pushes every published snapshot to connected websocket clients and
// refreshes them periodically.
type Hub struct {
	source   StatusSource
	interval time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	clients map[chan models.Snapshot]struct{}
	closed  bool
	done    chan struct{}
}

// NewHub creates a hub reading refresh snapshots from source. A non-positive
// interval uses one minute.
func NewHub(source StatusSource, interval time.Duration, logger *logrus.Entry) *Hub {
	if interval <= 0 {
		interval = livePushInterval
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		source:   source,
		interval: interval,
		log:      logger.WithField("component", "live"),
		clients:  make(map[chan models.Snapshot]struct{}),
		done:     make(chan struct{}),
	}
}

// Publish queues snap for every client. It never blocks; clients that fall
// behind miss the update and catch up on the next one.
func (h *Hub) Publish(snap models.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.subscribe()
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(ch)

	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	h.serve(conn, ch)
}

func (h *Hub) serve(conn *websocket.Conn, updates <-chan models.Snapshot) {
	defer conn.Close()

	if err := writeLive(conn, h.source.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		var snap models.Snapshot
		select {
		case snap = <-updates:
		case <-ticker.C:
			snap = h.source.Snapshot()
		case <-done:
			return
		case <-h.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(liveWriteTimeout))
			return
		}
		if err := writeLive(conn, snap); err != nil {
			return
		}
	}
}

func (h *Hub) subscribe() (chan models.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan models.Snapshot, liveSendBuffer)
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *Hub) unsubscribe(ch chan models.Snapshot) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

func writeLive(conn *websocket.Conn, snap models.Snapshot) error {
	if snap.Peers == nil {
		snap.Peers = []models.PeerEntry{}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return conn.WriteJSON(LiveMessage{GeneratedAt: time.Now().UTC(), Snapshot: snap})
}
