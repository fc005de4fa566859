// Package peers resolves the ordered list of peers to supervise.
package peers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"peerkeeper/internal/models"
)

const requestTimeout = 10 * time.Second

// Source yields peer addresses in priority order.
type Source interface {
	Peers(ctx context.Context) ([]models.PeerAddress, error)
}

// Static is a fixed list of addresses.
type Static []string

func (s Static) Peers(context.Context) ([]models.PeerAddress, error) {
	return Normalize(s)
}

// Remote fetches the list from an HTTP endpoint returning either a JSON array
// of strings or an object with a "peers" array.
type Remote struct {
	URL    string
	Token  string
	client *http.Client
}

// NewRemote builds a remote source. A nil client uses a transport with short
// dial and handshake timeouts.
func NewRemote(url, token string, client *http.Client) *Remote {
	if client == nil {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		client = &http.Client{Transport: transport, Timeout: requestTimeout}
	}
	return &Remote{URL: url, Token: token, client: client}
}

func (r *Remote) Peers(ctx context.Context) ([]models.PeerAddress, error) {
	body, err := r.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch peer list: %w", err)
	}

	var list []string
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode peer list: %w", err)
		}
	} else {
		var wrapped struct {
			Peers []string `json:"peers"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode peer list: %w", err)
		}
		list = wrapped.Peers
	}
	return Normalize(list)
}

func (r *Remote) get(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// Combined returns the peers of every source in order. A failing source is
// skipped as long as another one yields peers.
func Combined(ctx context.Context, sources ...Source) ([]models.PeerAddress, error) {
	var (
		raw  []string
		errs []error
	)
	for _, src := range sources {
		list, err := src.Peers(ctx)
		if err != nil && !errors.Is(err, models.ErrNoPeers) {
			errs = append(errs, err)
			continue
		}
		for _, p := range list {
			raw = append(raw, p.String())
		}
	}
	out, err := Normalize(raw)
	if err != nil && len(errs) > 0 {
		return nil, errors.Join(append(errs, err)...)
	}
	return out, err
}

// Normalize trims entries, drops blanks and keeps the first occurrence of
// each address. An empty result is ErrNoPeers.
func Normalize(list []string) ([]models.PeerAddress, error) {
	seen := make(map[string]struct{}, len(list))
	out := make([]models.PeerAddress, 0, len(list))
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, models.PeerAddress(entry))
	}
	if len(out) == 0 {
		return nil, models.ErrNoPeers
	}
	return out, nil
}
