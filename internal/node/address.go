package node

import (
	"fmt"
	"net"
	"net/url"

	ma "github.com/multiformats/go-multiaddr"

	"peerkeeper/internal/models"
)

// Endpoint is a websocket dial target resolved from a multiaddress.
type Endpoint struct {
	URL    string
	PeerID string
}

// ResolveEndpoint converts a websocket multiaddress such as
// /dns4/example.com/tcp/443/wss/p2p/<id> into a ws:// or wss:// URL.
func ResolveEndpoint(peer models.PeerAddress) (Endpoint, error) {
	addr, err := ma.NewMultiaddr(string(peer))
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrUnsupportedAddress, err)
	}

	var (
		host   string
		port   string
		scheme string
		tls    bool
	)
	for _, proto := range addr.Protocols() {
		switch proto.Code {
		case ma.P_IP4, ma.P_IP6, ma.P_DNS, ma.P_DNS4, ma.P_DNS6:
			if host == "" {
				host, _ = addr.ValueForProtocol(proto.Code)
			}
		case ma.P_TCP:
			port, _ = addr.ValueForProtocol(ma.P_TCP)
		case ma.P_TLS:
			tls = true
		case ma.P_WS:
			scheme = "ws"
		case ma.P_WSS:
			scheme = "wss"
		}
	}
	if scheme == "ws" && tls {
		scheme = "wss"
	}
	if host == "" || port == "" || scheme == "" {
		return Endpoint{}, fmt.Errorf("%w: %s is not a websocket address", ErrUnsupportedAddress, peer)
	}

	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, port), Path: "/"}
	ep := Endpoint{URL: u.String()}
	if id, err := addr.ValueForProtocol(ma.P_P2P); err == nil {
		ep.PeerID = id
	}
	return ep, nil
}
