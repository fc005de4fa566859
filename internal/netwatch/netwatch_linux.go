//go:build linux

package netwatch

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// Netlink watches route and link updates. The host is online while a default
// route points at an up, non-loopback link.
type Netlink struct {
	log *logrus.Entry
}

// System returns the platform source.
func System(logger *logrus.Entry) Source {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Netlink{log: logger.WithField("component", "netwatch")}
}

func (n *Netlink) Watch(ctx context.Context) (<-chan bool, error) {
	done := make(chan struct{})
	routes := make(chan netlink.RouteUpdate)
	links := make(chan netlink.LinkUpdate)

	if err := netlink.RouteSubscribe(routes, done); err != nil {
		close(done)
		return nil, fmt.Errorf("subscribe to route updates: %w", err)
	}
	if err := netlink.LinkSubscribe(links, done); err != nil {
		close(done)
		return nil, fmt.Errorf("subscribe to link updates: %w", err)
	}

	online, err := defaultRouteUp()
	if err != nil {
		close(done)
		return nil, err
	}
	n.log.WithField("online", online).Debug("network watch started")

	out := make(chan bool, 1)
	out <- online

	go func() {
		defer close(out)
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-routes:
				if !ok {
					n.log.Warn("route subscription closed")
					return
				}
			case _, ok := <-links:
				if !ok {
					n.log.Warn("link subscription closed")
					return
				}
			}

			now, err := defaultRouteUp()
			if err != nil {
				n.log.WithError(err).Debug("route lookup failed")
				continue
			}
			if now == online {
				continue
			}
			online = now
			select {
			case out <- online:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func defaultRouteUp() (bool, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_ALL)
	if err != nil {
		return false, fmt.Errorf("list routes: %w", err)
	}
	for _, route := range routes {
		if !isDefaultRoute(route) {
			continue
		}
		link, err := netlink.LinkByIndex(route.LinkIndex)
		if err != nil {
			continue
		}
		if linkUsable(link.Attrs()) {
			return true, nil
		}
	}
	return false, nil
}

func isDefaultRoute(route netlink.Route) bool {
	if route.Dst == nil {
		return true
	}
	ones, _ := route.Dst.Mask.Size()
	return ones == 0 && route.Dst.IP.IsUnspecified()
}

func linkUsable(attrs *netlink.LinkAttrs) bool {
	if attrs == nil || attrs.Flags&net.FlagLoopback != 0 {
		return false
	}
	return attrs.Flags&net.FlagUp != 0 || attrs.OperState == netlink.OperUp
}
