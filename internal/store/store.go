// Package store defines storage interfaces for the watchlist, orders, symbol
// reference data and cached price bars, with SQLite, Parquet and Alpaca
// implementations.
package store

import (
	"context"
	"errors"
	"time"

	"quant/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrQueryTooShort is returned by symbol search for queries under
	// MinQueryLength characters.
	ErrQueryTooShort = errors.New("search query too short")
)

// MinQueryLength is the shortest accepted symbol search query.
const MinQueryLength = 2

// SymbolStore persists the watchlist's symbol set. Saves replace the whole
// set; the last write wins.
type SymbolStore interface {
	LoadSymbols(ctx context.Context) ([]string, error)
	SaveSymbols(ctx context.Context, symbols []string) error
}

// OrderStore persists order snapshots keyed by broker order id.
type OrderStore interface {
	// SaveOrder inserts the order or replaces the stored snapshot.
	SaveOrder(ctx context.Context, order domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id int64) (domain.Order, error)

	// ListOrders returns all stored orders by ascending id.
	ListOrders(ctx context.Context) ([]domain.Order, error)
}

// SymbolSearcher looks up instruments by ticker or company name.
type SymbolSearcher interface {
	SearchSymbols(ctx context.Context, query string) ([]domain.SymbolInfo, error)
}

// BarStore persists and retrieves price bars.
type BarStore interface {
	// WriteBars persists a batch of bars, merging with what is stored.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for symbol within [start, end].
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}
