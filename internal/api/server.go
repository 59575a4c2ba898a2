// Package api implements the operator-facing HTTP surface: the read-only
// state endpoints, the manual operator actions, component health
// aggregation, Prometheus metrics, and the WebSocket broadcast hub.
// Everything is served from a single pkg/liveserver.Server instance so the
// whole process listens on one port.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opensqt/perpcore/internal/config"
	"github.com/opensqt/perpcore/internal/core"
	"github.com/opensqt/perpcore/internal/supervisor"
	"github.com/opensqt/perpcore/pkg/liveserver"
)

// Server owns the process's one HTTP listener: the live WebSocket hub, the
// read/operator REST routes, and the mounted webhook ingress handler.
type Server struct {
	sup    *supervisor.Supervisor
	cfg    *config.Config
	logger core.ILogger

	health  *HealthManager
	candles *CandleCache
	auth    *apiKeyValidator

	hub  *liveserver.Hub
	live *liveserver.Server

	bridge *broadcaster
}

// New builds the Server and registers every route. webhookHandler is
// mounted directly, so the webhook package stays unaware of the rest of the
// HTTP surface.
func New(sup *supervisor.Supervisor, cfg *config.Config, webhookHandler http.Handler, logger core.ILogger) *Server {
	logger = logger.WithField("component", "api")

	hub := liveserver.NewHub(logger)
	live := liveserver.NewServer(hub, logger, cfg.App.AllowedOrigins)

	s := &Server{
		sup:     sup,
		cfg:     cfg,
		logger:  logger,
		health:  NewHealthManager(logger),
		candles: newCandleCache(sup.Client, logger),
		auth:    newAPIKeyValidator(cfg.App.OperatorAPIKeys, logger),
		hub:     hub,
		live:    live,
	}
	s.bridge = newBroadcaster(sup, hub, logger)

	s.registerHealthChecks()
	s.registerRoutes(webhookHandler)

	return s
}

func (s *Server) registerHealthChecks() {
	s.health.Register("exchange", func() error {
		_, err := s.sup.Client.GetAccountEquity(context.Background())
		return err
	})
	s.health.Register("store", func() error {
		_, err := s.sup.Store.GetRecentOrders(context.Background(), 1)
		return err
	})
	s.health.Register("dispatch", func() error {
		return nil // the dispatcher has no persistent connection of its own to probe
	})
}

func (s *Server) registerRoutes(webhookHandler http.Handler) {
	s.live.Handle("/webhook", webhookHandler)
	s.live.Handle("/webhook/", webhookHandler)

	// /health is left unauthenticated: orchestrators and load balancers probe
	// it without an operator credential.
	s.live.HandleFunc("/health", s.handleHealth)

	s.live.HandleFunc("/positions", s.auth.wrap(s.handlePositions))
	s.live.HandleFunc("/orders", s.auth.wrap(s.handleOrders))
	s.live.HandleFunc("/open-orders", s.auth.wrap(s.handleOpenOrders))
	s.live.HandleFunc("/equity", s.auth.wrap(s.handleEquity))
	s.live.HandleFunc("/account", s.auth.wrap(s.handleAccount))
	s.live.HandleFunc("/candles", s.auth.wrap(s.handleCandles))

	s.live.HandleFunc("/signal", s.auth.wrap(s.handleSignal))
	s.live.HandleFunc("/close/{coin}", s.auth.wrap(s.handleClose))
	s.live.HandleFunc("/cancel/{oid}", s.auth.wrap(s.handleCancel))
	s.live.HandleFunc("/auto-trading", s.auth.wrap(s.handleAutoTrading))
}

// Run starts the candle cache subscriptions, the broadcast bridge, and the
// HTTP/WebSocket listener, blocking until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.candles.Start(ctx, s.cfg.Instruments)
	go s.bridge.run(ctx)

	return s.live.Start(ctx, s.addr())
}

func (s *Server) addr() string {
	return fmt.Sprintf(":%d", s.cfg.App.HTTPPort)
}

// Stop gracefully shuts down the HTTP listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.live.Stop(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
