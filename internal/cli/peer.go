package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/spf13/cobra"

	"peerkeeper/internal/node"
)

var peerListen string

func init() {
	peerCmd.Flags().StringVar(&peerListen, "listen", ":4001", "address to accept websocket sessions on")
	rootCmd.AddCommand(peerCmd)
}

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Run a websocket endpoint that answers pings",
	RunE:  runPeer,
}

func runPeer(cmd *cobra.Command, _ []string) error {
	logger := newLogger(debug, os.Stderr)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", peerListen)
	if err != nil {
		return err
	}
	responder := node.NewResponder(logger.WithField("component", "peer"))
	srv := &http.Server{Handler: responder, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		responder.CloseAll()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", peerAddress(ln.Addr())).Info("peer listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.WithField("served", responder.Served()).Info("peer stopped")
	return nil
}

// peerAddress renders a listener address as the multiaddress peers dial.
func peerAddress(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String()
	}
	ip := tcp.IP
	if ip == nil || ip.IsUnspecified() {
		ip = net.IPv4(127, 0, 0, 1)
	}
	family := "ip4"
	if ip.To4() == nil {
		family = "ip6"
	}
	m, err := ma.NewMultiaddr(fmt.Sprintf("/%s/%s/tcp/%d/ws", family, ip, tcp.Port))
	if err != nil {
		return addr.String()
	}
	return m.String()
}
