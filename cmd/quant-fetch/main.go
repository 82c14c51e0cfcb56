// quant-fetch prints historical bars for one or more symbols.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"quant/internal/config"
	"quant/internal/console"
	"quant/internal/domain"
	"quant/internal/eventbus"
	"quant/internal/feed"
	"quant/internal/store"
	alpacatransport "quant/internal/transport/alpaca"
	"quant/internal/transport/venue"
	"quant/internal/util"
)

var (
	cfgPath    string
	start      string
	end        string
	resolution string
	source     string
	cache      bool
	condense   int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quant-fetch SYMBOL...",
		Short: "Fetch and print historical bars",
		Long: `quant-fetch requests historical bars for each symbol and prints them,
colouring each close against the previous one. Dates accept YYYY-MM-DD,
"today", "yesterday" or "N days ago".`,
		Args: cobra.MinimumNArgs(1),
		RunE: runFetch,
	}

	rootCmd.Flags().StringVar(&cfgPath, "config", config.Path(), "Config file (QUANT_CONFIG)")
	rootCmd.Flags().StringVar(&start, "start", "yesterday", "Start date")
	rootCmd.Flags().StringVar(&end, "end", "now", "End date")
	rootCmd.Flags().StringVarP(&resolution, "resolution", "r", "1m", "Bar resolution: tick, 5s, 1m, 1d, 1w, 1mo")
	rootCmd.Flags().StringVar(&source, "source", "", "Data source: session or alpaca (default alpaca when credentials are set)")
	rootCmd.Flags().BoolVar(&cache, "cache", false, "Read and write bars through the Parquet cache")
	rootCmd.Flags().IntVar(&condense, "condense", 1, "Merge every N bars into one")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runFetch(cmd *cobra.Command, symbols []string) error {
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := util.NewLogger(cfg.Logging)
	util.SetDefault(logger)

	res, err := domain.ParseResolution(resolution)
	if err != nil {
		return err
	}
	loc := util.NewTradingCalendar().Location()
	now := time.Now()
	from, err := util.ParseDate(start, now, loc)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	to, err := util.ParseDate(end, now, loc)
	if err != nil {
		return fmt.Errorf("--end: %w", err)
	}
	if !to.After(from) {
		return fmt.Errorf("--end %s is not after --start %s", end, start)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}
	if cache {
		p = feed.NewCachedProvider(store.NewParquetStore(cfg.Storage.BarDir), p, logger)
	}

	out := console.New(os.Stdout)
	for _, sym := range symbols {
		req := domain.DataRequest{Symbol: strings.ToUpper(sym), Start: from, End: to, Resolution: res}
		bars, err := p.Fetch(ctx, req)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", req, err)
		}
		data := domain.NewSymbolData(req.Symbol, bars...)
		if condense > 1 {
			data = data.Condense(condense)
		}
		printBars(out, data.Bars())
		logger.Info("fetched bars", "request", req.String(), "bars", data.Len())
	}
	return nil
}

// newProvider returns the provider named by --source.
func newProvider(cfg *config.Config, log *slog.Logger) (feed.Provider, error) {
	src := source
	if src == "" {
		src = "session"
		if cfg.Alpaca.HasCredentials() {
			src = "alpaca"
		}
	}
	switch src {
	case "alpaca":
		if !cfg.Alpaca.HasCredentials() {
			return nil, fmt.Errorf("alpaca source: %w", config.ErrMissingCredentials)
		}
		_, data := alpacatransport.NewClients(cfg.Alpaca)
		return feed.NewAlpacaProvider(data, venue.AlpacaOptions(cfg), log), nil
	case "session":
		s, err := venue.NewSession(cfg, eventbus.New(log), nil, log)
		if err != nil {
			return nil, err
		}
		return feed.NewSessionProvider(s), nil
	}
	return nil, fmt.Errorf("unknown source %q", src)
}

func printBars(out *console.Renderer, bars []domain.Bar) {
	var prevClose, prevRef decimal.Decimal
	for _, b := range bars {
		out.Println(out.Bar(b, prevClose, prevRef))
		prevClose, prevRef = b.Close, b.RefPrice
	}
}
