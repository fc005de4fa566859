package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"peerkeeper/internal/models"
)

const (
	// NodeIDHeader carries the local node identity during the websocket handshake.
	NodeIDHeader = "X-Peerkeeper-Node"
	// PeerIDHeader carries the expected remote identity from the /p2p component.
	PeerIDHeader = "X-Peerkeeper-Peer"

	defaultDialTimeout = 10 * time.Second
	defaultPingTimeout = 10 * time.Second
	closeWriteTimeout  = time.Second
	maxIDLength        = 128
)

// Options configures a WebsocketNode.
type Options struct {
	// ID identifies this node to peers. A random id is used when empty.
	ID string
	// DialTimeout bounds sessions opened implicitly by Ping.
	DialTimeout time.Duration
	// PingTimeout bounds a ping when the caller context has no deadline.
	PingTimeout time.Duration
	Logger      *logrus.Entry
}

// WebsocketNode keeps at most one websocket session per peer.
type WebsocketNode struct {
	id          string
	dialTimeout time.Duration
	pingTimeout time.Duration
	log         *logrus.Entry

	mu       sync.Mutex
	sessions map[models.PeerAddress]*session
	closed   bool
}

// NewWebsocketNode creates a node speaking the websocket transport.
func NewWebsocketNode(opts Options) (*WebsocketNode, error) {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > maxIDLength {
		return nil, fmt.Errorf("node id too long (%d bytes)", len(id))
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &WebsocketNode{
		id:          id,
		dialTimeout: dialTimeout,
		pingTimeout: pingTimeout,
		log:         logger.WithField("component", "node"),
		sessions:    make(map[models.PeerAddress]*session),
	}, nil
}

// ID returns the identity announced to peers.
func (n *WebsocketNode) ID() string {
	return n.id
}

// Ping sends a websocket ping and waits for the matching pong.
func (n *WebsocketNode) Ping(ctx context.Context, peer models.PeerAddress) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sess, err := n.ensure(ctx, peer, n.dialTimeout)
	if err != nil {
		return 0, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.pingTimeout)
		defer cancel()
	}
	deadline, _ := ctx.Deadline()

	nonce := uuid.NewString()
	pong := sess.expect(nonce)
	defer sess.forget(nonce)

	started := time.Now()
	if err := sess.conn.WriteControl(websocket.PingMessage, []byte(nonce), deadline); err != nil {
		n.drop(peer, sess)
		return 0, fmt.Errorf("write ping: %w", err)
	}

	select {
	case <-pong:
		return time.Since(started), nil
	case <-sess.done:
		n.drop(peer, sess)
		return 0, fmt.Errorf("ping %s: %w", peer, ErrNotConnected)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, ErrPingTimeout
		}
		return 0, ctx.Err()
	}
}

// Connect opens a session unless one is already alive.
func (n *WebsocketNode) Connect(ctx context.Context, peer models.PeerAddress, timeout time.Duration) error {
	_, err := n.ensure(ctx, peer, timeout)
	return err
}

// Disconnect sends a close frame and drops the session.
func (n *WebsocketNode) Disconnect(_ context.Context, peer models.PeerAddress) error {
	n.mu.Lock()
	sess, ok := n.sessions[peer]
	if ok {
		delete(n.sessions, peer)
	}
	n.mu.Unlock()

	if !ok {
		return fmt.Errorf("disconnect %s: %w", peer, ErrNotConnected)
	}
	sess.close()
	return nil
}

// Close terminates every session. Further calls fail with ErrClosed.
func (n *WebsocketNode) Close() error {
	n.mu.Lock()
	sessions := n.sessions
	n.sessions = make(map[models.PeerAddress]*session)
	n.closed = true
	n.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
	return nil
}

// Connected reports whether a live session exists for peer.
func (n *WebsocketNode) Connected(peer models.PeerAddress) bool {
	n.mu.Lock()
	sess, ok := n.sessions[peer]
	n.mu.Unlock()
	return ok && sess.alive()
}

func (n *WebsocketNode) ensure(ctx context.Context, peer models.PeerAddress, timeout time.Duration) (*session, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	if sess, ok := n.sessions[peer]; ok && sess.alive() {
		n.mu.Unlock()
		return sess, nil
	}
	n.mu.Unlock()

	sess, err := n.dial(ctx, peer, timeout)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		sess.close()
		return nil, ErrClosed
	}
	if existing, ok := n.sessions[peer]; ok && existing.alive() {
		// A concurrent dial won.
		sess.close()
		return existing, nil
	}
	n.sessions[peer] = sess
	return sess, nil
}

func (n *WebsocketNode) dial(ctx context.Context, peer models.PeerAddress, timeout time.Duration) (*session, error) {
	ep, err := ResolveEndpoint(peer)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = n.dialTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	header := http.Header{}
	header.Set(NodeIDHeader, n.id)
	if ep.PeerID != "" {
		header.Set(PeerIDHeader, ep.PeerID)
	}

	conn, resp, err := dialer.DialContext(dialCtx, ep.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.URL, err)
	}
	n.log.WithField("peer", peer).Debug("session opened")
	return newSession(conn), nil
}

func (n *WebsocketNode) drop(peer models.PeerAddress, sess *session) {
	n.mu.Lock()
	if current, ok := n.sessions[peer]; ok && current == sess {
		delete(n.sessions, peer)
	}
	n.mu.Unlock()
	sess.close()
}

type session struct {
	conn *websocket.Conn
	done chan struct{}

	mu      sync.Mutex
	pending map[string]chan struct{}
}

func newSession(conn *websocket.Conn) *session {
	s := &session{
		conn:    conn,
		done:    make(chan struct{}),
		pending: make(map[string]chan struct{}),
	}
	conn.SetPongHandler(func(data string) error {
		s.resolve(data)
		return nil
	})
	go s.readLoop()
	return s
}

// readLoop drives control frame handling. Data frames are discarded.
func (s *session) readLoop() {
	defer close(s.done)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *session) expect(nonce string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.pending[nonce] = ch
	s.mu.Unlock()
	return ch
}

func (s *session) forget(nonce string) {
	s.mu.Lock()
	delete(s.pending, nonce)
	s.mu.Unlock()
}

func (s *session) resolve(nonce string) {
	s.mu.Lock()
	ch, ok := s.pending[nonce]
	delete(s.pending, nonce)
	s.mu.Unlock()
	if ok {
		ch <- struct{}{}
	}
}

func (s *session) close() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	_ = s.conn.Close()
	<-s.done
}
