// quant-trader opens one position and manages it from an interactive
// command loop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"quant/internal/broker"
	"quant/internal/config"
	"quant/internal/console"
	"quant/internal/domain"
	"quant/internal/engine"
	"quant/internal/eventbus"
	"quant/internal/feed"
	"quant/internal/store"
	"quant/internal/transport/venue"
	"quant/internal/util"
	"quant/internal/watchlist"
)

var (
	cfgPath   string
	delayOpen bool
	fake      bool
	source    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quant-trader DIRECTION QTY SYMBOL",
		Short: "Open a position and manage it interactively",
		Long: `quant-trader opens a BUY or SELL position and then reads commands from
stdin to reduce, close or inspect it. Type h for the command list.`,
		Args: cobra.ExactArgs(3),
		RunE: runTrader,
	}

	rootCmd.Flags().StringVar(&cfgPath, "config", config.Path(), "Config file (QUANT_CONFIG)")
	rootCmd.Flags().BoolVarP(&delayOpen, "delay", "d", false, "Delay opening the position until the o command")
	rootCmd.Flags().BoolVarP(&fake, "fake", "f", false, "Use the simulated broker")
	rootCmd.Flags().StringVarP(&source, "source", "s", "", "Feed source: live, random or a replay date (default from config)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parsePosition(args []string) (domain.Position, error) {
	dir, err := domain.ParseDirection(args[0])
	if err != nil {
		return domain.Position{}, err
	}
	qty, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return domain.Position{}, fmt.Errorf("%w: %q", engine.ErrInvalidQuantity, args[1])
	}
	return domain.NewPosition(args[2], dir, qty)
}

func runTrader(cmd *cobra.Command, args []string) error {
	pos, err := parsePosition(args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := util.NewLogger(cfg.Logging)
	util.SetDefault(logger)
	if source == "" {
		source = cfg.Feed.Source
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := console.New(os.Stdout)
	bus := eventbus.New(logger)

	watch := watchlist.New(pos.Symbol)
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
	var b broker.Broker
	if fake {
		out.Announce("Using FAKE broker")
		b = broker.NewSimulatorBroker(ledger, broker.DefaultSimulatorInterval, logger)
	} else {
		b = broker.NewSessionBroker(s, ledger, logger)
	}
	out.Announce("Starting the Broker interface")
	if _, err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting %s broker: %w", b.Name(), err)
	}

	if db := openOrderStore(cfg, logger); db != nil {
		defer db.Close()
		rec := store.StartOrderRecorder(bus, db, logger, 0)
		defer rec.Close()
	}

	f, err := feed.New(source, feed.Deps{
		Bus:       bus,
		Watchlist: watch,
		Session:   s,
		Provider:  feed.NewProvider(cfg, s, logger),
		Calendar:  feed.NewCalendar(cfg, logger),
		Config:    cfg.Feed,
		Log:       logger,
	})
	if err != nil {
		_ = b.Shutdown()
		return err
	}
	go func() {
		if err := f.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("feed stopped", "feed", f.Name(), "error", err)
		}
	}()

	opts := []engine.Option{
		engine.WithRiskManager(engine.NewRiskManager(cfg.Trading.MaxPositionQty)),
		engine.WithLogger(logger),
	}
	if d := cfg.Trading.AwaitInterval; d > 0 {
		opts = append(opts, engine.WithAwaitInterval(d))
	}
	t := engine.NewTrader(pos, b, out, opts...)
	t.Attach(bus)

	if !delayOpen {
		if err := t.OpenPosition(ctx); err != nil {
			out.Error("Error opening position: %v", err)
		}
	}

	err = engine.RunCommands(ctx, t, os.Stdin, out)
	if t.Active() {
		// Interrupted or stdin closed: leave the position as it is.
		_ = t.Shutdown(true)
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// openOrderStore opens the SQLite order history, or returns nil when it is
// not configured or cannot be opened.
func openOrderStore(cfg *config.Config, log *slog.Logger) *store.SQLiteStore {
	if cfg.Storage.SQLitePath == "" {
		return nil
	}
	err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755)
	var db *store.SQLiteStore
	if err == nil {
		db, err = store.NewSQLiteStore(cfg.Storage.SQLitePath)
	}
	if err != nil {
		log.Warn("order history disabled", "path", cfg.Storage.SQLitePath, "error", err)
		return nil
	}
	return db
}
