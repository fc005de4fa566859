package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"peerkeeper/internal/config"
	"peerkeeper/internal/metrics"
	"peerkeeper/internal/models"
	"peerkeeper/internal/monitor"
	"peerkeeper/internal/netwatch"
	"peerkeeper/internal/node"
	"peerkeeper/internal/peers"
	"peerkeeper/internal/server"
	"peerkeeper/internal/status"
	"peerkeeper/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var runAddr string

func init() {
	runCmd.Flags().StringVar(&runAddr, "addr", "", "address for the HTTP server (overrides config)")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Supervise the configured peers",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Debug = true
	}
	if runAddr != "" {
		cfg.ListenAddr = runAddr
	}

	logger := newLogger(cfg.Debug, os.Stderr)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, netwatch.System(logger.WithField("component", "netwatch")))
	if err != nil {
		return err
	}
	return a.run(ctx)
}

// app holds the wired components of a running supervisor process.
type app struct {
	cfg      config.Config
	log      *logrus.Entry
	clock    clock.Clock
	node     *node.WebsocketNode
	agg      *status.Aggregator
	history  *storage.HistoryStorage
	recorder *storage.Recorder
	registry *monitor.Registry
	bridge   *monitor.NetworkBridge
	hub      *server.Hub
	server   *server.Server
	network  netwatch.Source
}

func newApp(ctx context.Context, cfg config.Config, logger *logrus.Logger, network netwatch.Source) (*app, error) {
	base := logrus.NewEntry(logger).WithField("node", cfg.NodeID)

	list, err := resolvePeers(ctx, cfg)
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, fmt.Errorf("backoff: %w", err)
	}
	history, err := storage.NewHistoryStorage(cfg.HistoryFile, cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("initialise storage: %w", err)
	}
	wsNode, err := node.NewWebsocketNode(node.Options{
		ID:          cfg.NodeID,
		DialTimeout: cfg.PingTimeout.Std(),
		PingTimeout: cfg.PingTimeout.Std(),
		Logger:      base,
	})
	if err != nil {
		return nil, fmt.Errorf("create node: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     base.WithField("component", "app"),
		clock:   clock.New(),
		node:    wsNode,
		agg:     status.NewAggregator(list...),
		history: history,
		network: network,
	}
	a.recorder = storage.NewRecorder(history, a.clock.Now, 0, base)
	a.hub = server.NewHub(a.agg, 0, base)
	a.agg.Subscribe(a.recorder.Record)
	a.agg.Subscribe(metrics.ObserveSnapshot)
	a.agg.Subscribe(a.hub.Publish)
	a.agg.Subscribe(offlineLogger(a.log))

	a.registry, err = monitor.NewRegistry(monitor.RegistryConfig{
		Peers:    list,
		Node:     wsNode,
		Policy:   policy,
		Reporter: a.agg,
		Clock:    a.clock,
		Timing:   cfg.Timing(),
		Logger:   base,
	})
	if err != nil {
		_ = wsNode.Close()
		return nil, err
	}
	a.bridge = monitor.NewNetworkBridge(a.registry, cfg.ExcludedPrefixes, base)

	a.server = server.New(server.Options{
		Addr:         cfg.ListenAddr,
		NodeID:       cfg.NodeID,
		Status:       a.agg,
		Controller:   a.registry,
		Network:      a.bridge,
		History:      history,
		Live:         a.hub,
		HistoryLimit: cfg.HistoryLimit,
		BaseContext:  ctx,
		Logger:       base,
	})
	return a, nil
}

func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.AutoStart {
		if err := a.registry.Start(ctx); err != nil {
			return err
		}
	} else {
		a.log.Info("waiting for POST /api/start")
	}

	g.Go(func() error { return a.recorder.Run(ctx) })
	g.Go(a.server.Run)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.log.WithError(err).Warn("server shutdown")
		}
		return nil
	})

	if a.cfg.NetworkWatch && a.network != nil {
		updates, err := a.network.Watch(ctx)
		if err != nil {
			a.log.WithError(err).Warn("network watch unavailable")
		} else {
			g.Go(func() error {
				a.bridge.Watch(ctx, updates)
				return nil
			})
		}
	}

	err := g.Wait()
	a.registry.Stop()
	_ = a.node.Close()
	a.log.Info("stopped")
	return err
}

func resolvePeers(ctx context.Context, cfg config.Config) ([]models.PeerAddress, error) {
	sources := []peers.Source{peers.Static(cfg.Peers)}
	if cfg.PeerListURL != "" {
		sources = append(sources, peers.NewRemote(cfg.PeerListURL, cfg.PeerListToken, nil))
	}
	list, err := peers.Combined(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("resolve peers: %w", err)
	}
	return list, nil
}

// offlineLogger logs transitions of the global offline flag.
func offlineLogger(log *logrus.Entry) status.Listener {
	known := false
	offline := false
	return func(snap models.Snapshot) {
		if known && snap.Offline == offline {
			return
		}
		known = true
		offline = snap.Offline
		if offline {
			log.Warn("all peers disconnected")
		} else {
			log.WithField("peers", connectedCount(snap)).Info("at least one peer connected")
		}
	}
}

func connectedCount(snap models.Snapshot) int {
	n := 0
	for _, p := range snap.Peers {
		if p.Status.Connected {
			n++
		}
	}
	return n
}
