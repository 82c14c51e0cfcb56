// quant-cli talks to a running quant-server.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"quant/internal/config"
	"quant/internal/console"
	"quant/internal/live"
	"quant/pkg/quant"
)

const version = "0.1.0"

var (
	cfgPath  string
	server   string
	grpcAddr string
	status   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "quant-cli",
		Short:        "Command-line client for quant-server",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.Path(), "Config file (QUANT_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "API base URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc", "", "gRPC address for ticks (default from config)")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(watchlistCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(removeCmd())
	rootCmd.AddCommand(positionsCmd())
	rootCmd.AddCommand(ordersCmd())
	rootCmd.AddCommand(orderCmd("buy"))
	rootCmd.AddCommand(orderCmd("sell"))
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(ticksCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadServer() (config.Server, error) {
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return config.Server{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg.Server, nil
}

func newClient() (*quant.Client, error) {
	if server != "" {
		return quant.NewClient(server), nil
	}
	cfg, err := loadServer()
	if err != nil {
		return nil, err
	}
	return quant.NewClient("http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))), nil
}

// withClient adapts a client call to a cobra RunE with a signal-aware
// context.
func withClient(fn func(ctx context.Context, c *quant.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return fn(ctx, c, args)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("quant-cli version %s\n", version)
		},
	}
}

func watchlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchlist [SYMBOL...]",
		Short: "Show the watchlist, or replace it with the given symbols",
		RunE: withClient(func(ctx context.Context, c *quant.Client, args []string) error {
			var (
				resp quant.WatchlistResponse
				err  error
			)
			if len(args) > 0 {
				resp, err = c.SetWatchlist(ctx, args)
			} else {
				resp, err = c.Watchlist(ctx)
			}
			if err != nil {
				return err
			}
			printBars(resp.Bars)
			return nil
		}),
	}
	return cmd
}

func addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add SYMBOL...",
		Short: "Add symbols to the watchlist",
		Args:  cobra.MinimumNArgs(1),
		RunE: withClient(func(ctx context.Context, c *quant.Client, args []string) error {
			for _, sym := range args {
				if err := c.AddSymbol(ctx, sym); err != nil {
					return fmt.Errorf("adding %s: %w", sym, err)
				}
			}
			return nil
		}),
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove SYMBOL...",
		Short: "Remove symbols from the watchlist",
		Args:  cobra.MinimumNArgs(1),
		RunE: withClient(func(ctx context.Context, c *quant.Client, args []string) error {
			for _, sym := range args {
				if err := c.RemoveSymbol(ctx, sym); err != nil {
					return fmt.Errorf("removing %s: %w", sym, err)
				}
			}
			return nil
		}),
	}
}

func positionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show net positions and P/L",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *quant.Client, _ []string) error {
			resp, err := c.Positions(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SYMBOL\tPOSITION\tP/L")
			for _, p := range resp.Positions {
				fmt.Fprintf(w, "%s\t%s %d\t%s\n", p.Symbol, p.Direction, p.Quantity, console.FormatMoney(p.PnL))
			}
			fmt.Fprintf(w, "TOTAL\t\t%s\n", console.FormatMoney(resp.TotalPnL))
			return w.Flush()
		}),
	}
}

func ordersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders [ID]",
		Short: "List orders, or show one by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: withClient(func(ctx context.Context, c *quant.Client, args []string) error {
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid order id %q", args[0])
				}
				o, err := c.Order(ctx, id)
				if err != nil {
					return err
				}
				printOrders([]quant.Order{o})
				return nil
			}
			orders, err := c.Orders(ctx, status)
			if err != nil {
				return err
			}
			printOrders(orders)
			return nil
		}),
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter: open, filled or history")
	return cmd
}

func orderCmd(direction string) *cobra.Command {
	return &cobra.Command{
		Use:   direction + " QTY SYMBOL",
		Short: "Place a " + direction + " order",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, c *quant.Client, args []string) error {
			qty, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[0])
			}
			o, err := c.PlaceOrder(ctx, quant.OrderRequest{
				Symbol:    strings.ToUpper(args[1]),
				Direction: direction,
				Quantity:  qty,
			})
			if err != nil {
				return err
			}
			printOrders([]quant.Order{o})
			return nil
		}),
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel every pending order",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *quant.Client, _ []string) error {
			return c.CancelPendingOrders(ctx)
		}),
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Search symbols by ticker or company name",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *quant.Client, args []string) error {
			results, err := c.Search(ctx, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Symbol, r.CompanyName, r.Exchange, r.Type)
			}
			return w.Flush()
		}),
	}
}

func ticksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ticks [SYMBOL...]",
		Short: "Stream ticks from the gRPC market-data service",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := grpcAddr
			if addr == "" {
				cfg, err := loadServer()
				if err != nil {
					return err
				}
				addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.GRPCPort))
			}
			for i, sym := range args {
				args[i] = strings.ToUpper(sym)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			model := live.NewModel()
			id, ch := model.Subscribe(256)
			defer model.Unsubscribe(id)

			client, err := live.NewClient(addr, model, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			errCh := make(chan error, 1)
			go func() { errCh <- client.Sync(ctx, args...) }()

			out := console.New(os.Stdout)
			prev := make(map[string]decimal.Decimal)
			for {
				select {
				case err := <-errCh:
					return err
				case b := <-ch:
					out.Println(out.Bar(b, prev[b.Symbol], decimal.Zero))
					prev[b.Symbol] = b.Close
				}
			}
		},
	}
}

func printBars(bars []quant.Bar) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tTIME\tCLOSE\tVOLUME")
	for _, b := range bars {
		at := "-"
		if !b.Time.IsZero() {
			at = b.Time.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", b.Symbol, at, console.FormatNumber(b.Close), b.Volume)
	}
	_ = w.Flush()
}

func printOrders(orders []quant.Order) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tORDER\tSTATUS\tFILLED")
	for _, o := range orders {
		fmt.Fprintf(w, "#%d\t%s %d %s\t%s\t%d @ %s\n",
			o.ID, o.Direction, o.Quantity, o.Symbol, o.Status, o.FilledQuantity, console.FormatNumber(o.FilledAt))
	}
	_ = w.Flush()
}
