package feed

import (
	"log/slog"

	"quant/internal/config"
	"quant/internal/session"
	"quant/internal/store"
	alpacatransport "quant/internal/transport/alpaca"
	"quant/internal/transport/venue"
	"quant/internal/util"
)

// NewProvider returns the historical provider for cfg: Alpaca market data
// when credentials are configured, otherwise the session s. Bars are cached
// as Parquet under the storage bar directory unless it is empty. It returns
// nil when neither source is available.
func NewProvider(cfg *config.Config, s *session.Session, log *slog.Logger) Provider {
	var p Provider
	switch {
	case cfg.Alpaca.HasCredentials():
		_, data := alpacatransport.NewClients(cfg.Alpaca)
		p = NewAlpacaProvider(data, venue.AlpacaOptions(cfg), log)
	case s != nil:
		p = NewSessionProvider(s)
	default:
		return nil
	}
	if cfg.Storage.BarDir == "" {
		return p
	}
	return NewCachedProvider(store.NewParquetStore(cfg.Storage.BarDir), p, log)
}

// NewCalendar returns the Alpaca market calendar when credentials are
// configured and the static NYSE calendar otherwise.
func NewCalendar(cfg *config.Config, log *slog.Logger) TradingDays {
	if !cfg.Alpaca.HasCredentials() {
		return util.NewTradingCalendar()
	}
	trading, _ := alpacatransport.NewClients(cfg.Alpaca)
	return NewAlpacaCalendar(trading, log)
}
