// quant-server runs the market-data feed and order routing behind the HTTP
// API and the gRPC tick stream.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"quant/internal/api"
	"quant/internal/broker"
	"quant/internal/config"
	"quant/internal/engine"
	"quant/internal/eventbus"
	"quant/internal/feed"
	"quant/internal/live"
	"quant/internal/store"
	alpacatransport "quant/internal/transport/alpaca"
	"quant/internal/transport/venue"
	"quant/internal/util"
	"quant/internal/watchlist"
)

var (
	cfgPath      string
	importAssets bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quant-server",
		Short: "Serve the quant HTTP API and gRPC tick stream",
		Args:  cobra.NoArgs,
		RunE:  runServer,
	}

	rootCmd.Flags().StringVar(&cfgPath, "config", config.Path(), "Config file (QUANT_CONFIG)")
	rootCmd.Flags().BoolVar(&importAssets, "import-assets", false, "Load the Alpaca asset list into symbol search before serving")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := util.NewLogger(cfg.Logging)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening sqlite: %w", err)
	}
	defer db.Close()

	if importAssets {
		if !cfg.Alpaca.HasCredentials() {
			return fmt.Errorf("importing assets: %w", config.ErrMissingCredentials)
		}
		trading, _ := alpacatransport.NewClients(cfg.Alpaca)
		n, err := store.ImportAlpacaAssets(ctx, trading, db)
		if err != nil {
			return err
		}
		logger.Info("imported assets", "symbols", n)
	}

	symbols, err := symbolStore(cfg, db, logger)
	if err != nil {
		return err
	}
	watch, err := watchlist.Load(ctx, symbols)
	if err != nil {
		return err
	}
	if watch.Len() == 0 && len(cfg.Watchlist.Symbols) > 0 {
		for _, sym := range cfg.Watchlist.Symbols {
			watch.AddSymbol(sym, decimal.Zero)
		}
		if err := watch.Save(ctx, symbols); err != nil {
			logger.Warn("seeding watchlist failed", "error", err)
		}
	}
	logger.Info("watchlist loaded", "store", cfg.Watchlist.Store, "symbols", watch.Symbols())

	bus := eventbus.New(logger)
	defer watch.Attach(bus).Unsubscribe()

	s, err := venue.NewSession(cfg, bus, watch.LastClose, logger)
	if err != nil {
		return err
	}
	if _, err := s.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer s.Shutdown()

	ledger := broker.NewLedger(watch, bus, logger)
	var b broker.Broker = broker.NewSessionBroker(s, ledger, logger)
	if cfg.Trading.PaperMode && cfg.Session.Transport != venue.Paper {
		// Paper mode against a real venue simulates fills locally.
		b = broker.NewSimulatorBroker(ledger, broker.DefaultSimulatorInterval, logger)
	}
	if _, err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting %s broker: %w", b.Name(), err)
	}
	defer b.Shutdown()

	rec := store.StartOrderRecorder(bus, db, logger, 0)
	defer rec.Close()

	model := live.NewModel()
	defer model.Attach(bus).Unsubscribe()

	f, err := feed.New(cfg.Feed.Source, feed.Deps{
		Bus:       bus,
		Watchlist: watch,
		Session:   s,
		Provider:  feed.NewProvider(cfg, s, logger),
		Calendar:  feed.NewCalendar(cfg, logger),
		Config:    cfg.Feed,
		Log:       logger,
	})
	if err != nil {
		return err
	}
	go func() {
		if err := f.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("feed stopped", "feed", f.Name(), "error", err)
		}
	}()
	logger.Info("feed started", "feed", f.Name(), "broker", b.Name())

	if cfg.Server.GRPCPort > 0 {
		stop, err := serveGRPC(cfg.Server, model, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Watchlist: watch,
		Broker:    b,
		Bus:       bus,
		Risk:      engine.NewRiskManager(cfg.Trading.MaxPositionQty),
		Symbols:   symbols,
		Orders:    db,
		Search:    db,
		Log:       logger,
	})
	return srv.ListenAndServe(ctx)
}

// symbolStore returns where the watchlist is persisted.
func symbolStore(cfg *config.Config, db *store.SQLiteStore, log *slog.Logger) (store.SymbolStore, error) {
	switch cfg.Watchlist.Store {
	case "", "sqlite":
		return db, nil
	case "alpaca":
		if !cfg.Alpaca.HasCredentials() {
			return nil, fmt.Errorf("alpaca watchlist: %w", config.ErrMissingCredentials)
		}
		trading, _ := alpacatransport.NewClients(cfg.Alpaca)
		return store.NewAlpacaWatchlistStore(trading, cfg.Alpaca.WatchlistName, log), nil
	}
	return nil, fmt.Errorf("unknown watchlist store %q", cfg.Watchlist.Store)
}

// serveGRPC starts the tick stream on the gRPC port. The returned func
// stops it, waiting briefly for open streams.
func serveGRPC(cfg config.Server, model *live.Model, log *slog.Logger) (func(), error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.GRPCPort))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	gs := grpc.NewServer()
	live.NewServer(model, log).RegisterGRPC(gs)
	go func() {
		log.Info("grpc server listening", "addr", addr)
		if err := gs.Serve(lis); err != nil {
			log.Error("grpc server stopped", "error", err)
		}
	}()
	return func() {
		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			gs.Stop()
		}
	}, nil
}
