package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"quant/internal/domain"
	"quant/internal/session"
	"quant/internal/store"
	alpacatransport "quant/internal/transport/alpaca"
)

// ErrNoData is returned when a provider has no bars for a request.
var ErrNoData = errors.New("no bars returned")

// Provider fetches historical bars.
type Provider interface {
	Fetch(ctx context.Context, req domain.DataRequest) ([]domain.Bar, error)
}

// ---------------------------------------------------------------------------
// SessionProvider: request/response over the brokerage session.
// ---------------------------------------------------------------------------

// SessionProvider fetches bars through a session, starting it for the
// duration of the call when nobody else has.
type SessionProvider struct {
	session *session.Session
}

func NewSessionProvider(s *session.Session) *SessionProvider {
	return &SessionProvider{session: s}
}

func (p *SessionProvider) Fetch(ctx context.Context, req domain.DataRequest) ([]domain.Bar, error) {
	var bars []domain.Bar
	err := session.Exec(ctx, p.session, func(s *session.Session) error {
		data, err := s.HistoricalData(ctx, req)
		if data != nil {
			bars = data.Bars()
		}
		return err
	})
	return bars, err
}

// ---------------------------------------------------------------------------
// AlpacaProvider: Alpaca market-data REST API.
// ---------------------------------------------------------------------------

// AlpacaProvider fetches bars straight from the Alpaca market-data API with
// the transport's rate limiting and retries.
type AlpacaProvider struct {
	t *alpacatransport.Transport
}

func NewAlpacaProvider(data alpacatransport.DataClient, opts alpacatransport.Options, log *slog.Logger) *AlpacaProvider {
	return &AlpacaProvider{t: alpacatransport.New(nil, data, opts, log)}
}

func (p *AlpacaProvider) Fetch(ctx context.Context, req domain.DataRequest) ([]domain.Bar, error) {
	return p.t.Bars(ctx, req)
}

// ---------------------------------------------------------------------------
// CachedProvider: Parquet read-through cache.
// ---------------------------------------------------------------------------

// CachedProvider serves requests from Parquet files and falls back to next
// on a miss, caching what it fetched. Each resolution is cached separately.
type CachedProvider struct {
	store *store.ParquetStore
	next  Provider
	log   *slog.Logger
}

func NewCachedProvider(st *store.ParquetStore, next Provider, log *slog.Logger) *CachedProvider {
	if log == nil {
		log = slog.Default()
	}
	return &CachedProvider{store: st, next: next, log: log.With("component", "bar-cache")}
}

func (p *CachedProvider) Fetch(ctx context.Context, req domain.DataRequest) ([]domain.Bar, error) {
	st := p.store.ForResolution(req.Resolution)
	cached, err := st.ReadBars(ctx, req.Symbol, req.Start, req.End)
	if err != nil {
		p.log.Warn("reading cached bars failed", "request", req.String(), "error", err)
	}
	if len(cached) > 0 {
		p.log.Debug("cache hit", "request", req.String(), "bars", len(cached))
		return cached, nil
	}

	bars, err := p.next.Fetch(ctx, req)
	if err != nil {
		return bars, err
	}
	if len(bars) > 0 {
		if err := st.WriteBars(ctx, bars); err != nil {
			p.log.Warn("caching bars failed", "request", req.String(), "error", err)
		}
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// Price lookup
// ---------------------------------------------------------------------------

// PriceLookup returns a starting price for a symbol that has none yet.
type PriceLookup func(ctx context.Context, symbol string) (decimal.Decimal, error)

// LastDailyClose looks prices up as the most recent daily close served by p.
// The window spans a long weekend.
func LastDailyClose(p Provider, now func() time.Time) PriceLookup {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, symbol string) (decimal.Decimal, error) {
		bars, err := p.Fetch(ctx, domain.LastDays(symbol, 4, domain.Day, now()))
		if err != nil {
			return decimal.Zero, fmt.Errorf("looking up %s: %w", symbol, err)
		}
		if len(bars) == 0 {
			return decimal.Zero, fmt.Errorf("looking up %s: %w", symbol, ErrNoData)
		}
		return bars[len(bars)-1].Close, nil
	}
}
