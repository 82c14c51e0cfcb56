// Package venue builds the transport named by the session configuration.
package venue

import (
	"fmt"
	"log/slog"

	"quant/internal/config"
	"quant/internal/eventbus"
	"quant/internal/session"
	"quant/internal/transport"
	alpacatransport "quant/internal/transport/alpaca"
	"quant/internal/transport/paper"
)

const (
	Paper  = "paper"
	Alpaca = "alpaca"
)

// AlpacaOptions maps the configuration onto the Alpaca transport options.
func AlpacaOptions(cfg *config.Config) alpacatransport.Options {
	return alpacatransport.Options{
		Feed:            cfg.Alpaca.Feed,
		PollInterval:    cfg.Session.PollInterval,
		RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
	}
}

// Open returns the transport selected by cfg.Session.Transport. quote prices
// the paper venue's fills and may be nil.
func Open(cfg *config.Config, quote paper.QuoteFunc, log *slog.Logger) (transport.Transport, error) {
	switch cfg.Session.Transport {
	case "", Paper:
		return paper.New(paper.Options{Quote: quote}, log), nil
	case Alpaca:
		if !cfg.Alpaca.HasCredentials() {
			return nil, fmt.Errorf("alpaca transport: %w", config.ErrMissingCredentials)
		}
		trading, data := alpacatransport.NewClients(cfg.Alpaca)
		return alpacatransport.New(trading, data, AlpacaOptions(cfg), log), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Session.Transport)
}

// NewSession opens the configured transport and wraps it in a session
// publishing on bus. The session is not started.
func NewSession(cfg *config.Config, bus *eventbus.Bus, quote paper.QuoteFunc, log *slog.Logger) (*session.Session, error) {
	t, err := Open(cfg, quote, log)
	if err != nil {
		return nil, err
	}
	var opts []session.Option
	if d := cfg.Session.ReadyTimeout; d > 0 {
		opts = append(opts, session.WithReadyTimeout(d))
	}
	if d := cfg.Session.RequestTimeout; d > 0 {
		opts = append(opts, session.WithRequestTimeout(d))
	}
	if base := cfg.Session.RequestBase; base > 0 {
		opts = append(opts, session.WithRequestBase(base))
	}
	if log != nil {
		opts = append(opts, session.WithLogger(log))
	}
	return session.New(t, bus, opts...), nil
}
