// Package server exposes connectivity status and control triggers over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"peerkeeper/internal/history"
	"peerkeeper/internal/metrics"
	"peerkeeper/internal/models"
	"peerkeeper/internal/monitor"
	"peerkeeper/internal/storage"
)

const (
	defaultHistoryLimit    = 200
	defaultTimelineMinutes = 60
	maxTimelineMinutes     = 24 * 60
	maxTimelinePoints      = 240
)

// StatusSource provides the current aggregated snapshot.
type StatusSource interface {
	Snapshot() models.Snapshot
}

// Controller starts supervisors and reports their cycle states.
type Controller interface {
	Start(ctx context.Context) error
	Started() bool
	States() []monitor.PeerState
}

// NetworkTrigger restarts peers when told the network is back.
type NetworkTrigger interface {
	Online() int
}

// Options wires the server to the running components. Nil History, Network
// or Live disable the matching endpoints.
type Options struct {
	Addr         string
	NodeID       string
	Status       StatusSource
	Controller   Controller
	Network      NetworkTrigger
	History      *storage.HistoryStorage
	Live         *Hub
	HistoryLimit int
	// BaseContext is handed to Controller.Start by POST /api/start.
	BaseContext context.Context
	Logger      *logrus.Entry
}

// StatusResponse is returned by /api/status.
type StatusResponse struct {
	NodeID      string              `json:"node_id"`
	GeneratedAt time.Time           `json:"generated_at"`
	Started     bool                `json:"started"`
	Snapshot    models.Snapshot     `json:"snapshot"`
	Peers       []monitor.PeerState `json:"peers"`
}

// Server wraps HTTP serving of the status API.
type Server struct {
	opts       Options
	log        *logrus.Entry
	httpServer *http.Server
}

// New creates a configured HTTP server.
func New(opts Options) *Server {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{opts: opts, log: logger.WithField("component", "http")}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	s.log.WithField("addr", s.opts.Addr).Info("http server listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.opts.Live != nil {
		s.opts.Live.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/uptime", s.handleUptime)
		r.Get("/timeline", s.handleTimeline)
		r.Post("/start", s.handleStart)
		r.Post("/network/online", s.handleNetworkOnline)
	})
	if s.opts.Live != nil {
		r.Get("/ws", s.opts.Live.ServeHTTP)
	}
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		NodeID:      s.opts.NodeID,
		GeneratedAt: time.Now().UTC(),
		Peers:       []monitor.PeerState{},
	}
	if s.opts.Status != nil {
		resp.Snapshot = s.opts.Status.Snapshot()
	}
	if resp.Snapshot.Peers == nil {
		resp.Snapshot.Peers = []models.PeerEntry{}
	}
	if s.opts.Controller != nil {
		resp.Started = s.opts.Controller.Started()
		resp.Peers = s.opts.Controller.States()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeJSON(w, http.StatusOK, []models.HistoryEntry{})
		return
	}
	limit := parseLimit(r, s.opts.HistoryLimit)
	writeJSON(w, http.StatusOK, s.opts.History.HistoryN(limit))
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeJSON(w, http.StatusOK, []metrics.PeerUptime{})
		return
	}
	limit := parseLimit(r, s.opts.HistoryLimit)
	summary := metrics.ComputePeerUptime(s.opts.History.HistoryN(limit))
	if summary == nil {
		summary = []metrics.PeerUptime{}
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeJSON(w, http.StatusOK, []models.PeerTimeline{})
		return
	}
	minutes := queryInt(r, "minutes", defaultTimelineMinutes, maxTimelineMinutes)
	points := queryInt(r, "points", history.DefaultTimelinePoints, maxTimelinePoints)

	end := time.Now().UTC()
	start := end.Add(-time.Duration(minutes) * time.Minute)
	timelines := history.BuildPeerTimelines(s.opts.History.History(), start, end, points)
	if timelines == nil {
		timelines = []models.PeerTimeline{}
	}
	writeJSON(w, http.StatusOK, timelines)
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Controller == nil {
		writeError(w, http.StatusServiceUnavailable, "no supervisors configured")
		return
	}
	err := s.opts.Controller.Start(s.opts.BaseContext)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]bool{"started": true})
	case errors.Is(err, monitor.ErrAlreadyStarted), errors.Is(err, monitor.ErrStopped):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.WithError(err).Error("start failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleNetworkOnline(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Network == nil {
		writeError(w, http.StatusServiceUnavailable, "network bridge disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"restarted": s.opts.Network.Online()})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
			"request":  middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

func parseLimit(r *http.Request, fallback int) int {
	if fallback <= 0 {
		return fallback
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}

// queryInt reads a positive integer parameter, clamped to ceiling.
func queryInt(r *http.Request, key string, fallback, ceiling int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || value <= 0 {
		return fallback
	}
	if value > ceiling {
		return ceiling
	}
	return value
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
