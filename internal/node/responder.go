package node

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var responderUpgrader = websocket.Upgrader{
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

// Responder is the remote side of the transport: it accepts websocket
// sessions and answers pings until the session closes.
type Responder struct {
	log *logrus.Entry

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	served atomic.Int64
}

// NewResponder creates a responder handler.
func NewResponder(logger *logrus.Entry) *Responder {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Responder{
		log:   logger.WithField("component", "responder"),
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the session open.
func (r *Responder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := responderUpgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	remote := req.Header.Get(NodeIDHeader)
	r.track(conn)
	r.served.Add(1)
	r.log.WithFields(logrus.Fields{"remote": req.RemoteAddr, "node": remote}).Debug("session accepted")

	defer func() {
		r.untrack(conn)
		_ = conn.Close()
		r.log.WithField("node", remote).Debug("session closed")
	}()
	// The default ping handler replies with a pong while reads are in progress.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Active returns the number of open sessions.
func (r *Responder) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Served returns the total number of accepted sessions.
func (r *Responder) Served() int64 {
	return r.served.Load()
}

// CloseAll drops every open session, simulating a peer restart.
func (r *Responder) CloseAll() {
	r.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (r *Responder) track(conn *websocket.Conn) {
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()
}

func (r *Responder) untrack(conn *websocket.Conn) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
}
