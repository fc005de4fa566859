//go:build !linux

package netwatch

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

const pollInterval = 5 * time.Second

// Poll samples the interface table on a fixed interval.
type Poll struct {
	Interval time.Duration
	log      *logrus.Entry
}

// System returns the platform source.
func System(logger *logrus.Entry) Source {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Poll{Interval: pollInterval, log: logger.WithField("component", "netwatch")}
}

func (p *Poll) Watch(ctx context.Context) (<-chan bool, error) {
	online, err := interfacesOnline()
	if err != nil {
		return nil, err
	}
	interval := p.Interval
	if interval <= 0 {
		interval = pollInterval
	}

	out := make(chan bool, 1)
	out <- online

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			now, err := interfacesOnline()
			if err != nil {
				p.log.WithError(err).Debug("interface lookup failed")
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

func interfacesOnline() (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && usableIP(ipnet.IP) {
				return true, nil
			}
		}
	}
	return false, nil
}

// usableIP reports whether ip can reach beyond the local host.
func usableIP(ip net.IP) bool {
	if ip == nil || ip.IsLoopback() || ip.IsUnspecified() {
		return false
	}
	return !ip.IsLinkLocalUnicast() && !ip.IsLinkLocalMulticast()
}
