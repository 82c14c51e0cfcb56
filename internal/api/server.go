// Package api serves the quant HTTP API: watchlist, positions, orders and
// symbol search as JSON, a websocket stream of ticks and order updates, and
// the Prometheus metrics endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"quant/internal/broker"
	"quant/internal/config"
	"quant/internal/engine"
	"quant/internal/eventbus"
	"quant/internal/store"
	"quant/internal/watchlist"
)

// Deps are the components the API reads and mutates. Symbols, Orders and
// Search are optional; the routes that need a missing one answer 503.
type Deps struct {
	Watchlist *watchlist.WatchList
	Broker    broker.Broker
	Bus       *eventbus.Bus
	Risk      *engine.RiskManager
	Symbols   store.SymbolStore
	Orders    store.OrderStore
	Search    store.SymbolSearcher
	Log       *slog.Logger
}

// Server is the main API server.
type Server struct {
	deps Deps
	addr string
	hub  *Hub
	log  *slog.Logger
}

// NewServer creates a Server listening on cfg's host and port.
func NewServer(cfg config.Server, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "api")
	s := &Server{
		deps: deps,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		hub:  NewHub(log),
		log:  log,
	}
	if deps.Bus != nil {
		s.hub.Attach(deps.Bus)
	}
	return s
}

// Hub returns the websocket hub fed by the event bus.
func (s *Server) Hub() *Hub { return s.hub }

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/watchlist", s.handleGetWatchlist)
	mux.HandleFunc("PUT /api/watchlist", s.handleSetWatchlist)
	mux.HandleFunc("PUT /api/watchlist/{symbol}", s.handleAddWatchlist)
	mux.HandleFunc("DELETE /api/watchlist/{symbol}", s.handleRemoveWatchlist)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/orders", s.handleOrders)
	mux.HandleFunc("GET /api/orders/{id}", s.handleOrder)
	mux.HandleFunc("POST /api/orders", s.handlePlaceOrder)
	mux.HandleFunc("DELETE /api/orders", s.handleCancelPending)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(mux)
}

// ListenAndServe runs the hub and the HTTP listener until ctx is cancelled,
// then shuts the listener down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http on %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Detach()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}
