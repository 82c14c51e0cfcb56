package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quant/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ SymbolStore = (*SQLiteStore)(nil)
var _ OrderStore = (*SQLiteStore)(nil)
var _ SymbolSearcher = (*SQLiteStore)(nil)

// SQLiteStore implements SymbolStore, OrderStore and SymbolSearcher backed by
// a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// tables it needs and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS watchlist (
  symbol TEXT PRIMARY KEY
);`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id INTEGER PRIMARY KEY,
  symbol TEXT NOT NULL,
  direction INTEGER NOT NULL,
  quantity INTEGER NOT NULL,
  status INTEGER NOT NULL,
  filled_at TEXT NOT NULL,
  filled_quantity INTEGER NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);`,
		`
CREATE TABLE IF NOT EXISTS symbols (
  symbol TEXT PRIMARY KEY,
  shortName TEXT NOT NULL DEFAULT '',
  industryName TEXT NOT NULL DEFAULT '',
  exchange TEXT NOT NULL DEFAULT '',
  quoteType TEXT NOT NULL DEFAULT '',
  rank INTEGER NOT NULL DEFAULT 0
);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// SymbolStore implementation
// ---------------------------------------------------------------------------

// LoadSymbols returns the stored watchlist symbols in sorted order.
func (s *SQLiteStore) LoadSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol FROM watchlist ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// SaveSymbols replaces the stored watchlist in one transaction.
func (s *SQLiteStore) SaveSymbols(ctx context.Context, symbols []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM watchlist`); err != nil {
		return err
	}
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO watchlist(symbol) VALUES (?)`, sym); err != nil {
			return fmt.Errorf("inserting %s: %w", sym, err)
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder upserts the order snapshot. Orders without a broker id cannot be
// stored.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o domain.Order) error {
	if o.ID < 0 {
		return fmt.Errorf("saving order without id: %s", o.Position)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO orders(id, symbol, direction, quantity, status, filled_at, filled_quantity, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  symbol=excluded.symbol,
  direction=excluded.direction,
  quantity=excluded.quantity,
  status=excluded.status,
  filled_at=excluded.filled_at,
  filled_quantity=excluded.filled_quantity,
  updated_at=excluded.updated_at`,
		o.ID, o.Position.Symbol, int(o.Position.Direction), o.Position.Quantity, int(o.Status),
		o.FilledAt.String(), o.FilledQuantity, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, symbol, direction, quantity, status, filled_at, filled_quantity
FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return o, err
}

// ListOrders returns all stored orders by ascending id.
func (s *SQLiteStore) ListOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, symbol, direction, quantity, status, filled_at, filled_quantity
FROM orders ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(sc scanner) (domain.Order, error) {
	var (
		o         domain.Order
		direction int
		status    int
		filledAt  string
	)
	if err := sc.Scan(&o.ID, &o.Position.Symbol, &direction, &o.Position.Quantity, &status, &filledAt, &o.FilledQuantity); err != nil {
		return domain.Order{}, err
	}
	o.Position.Direction = domain.Direction(direction)
	o.Status = domain.OrderStatus(status)
	px, err := decimal.NewFromString(filledAt)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %d filled_at %q: %w", o.ID, filledAt, err)
	}
	o.FilledAt = px
	return o, nil
}

// ---------------------------------------------------------------------------
// SymbolSearcher implementation
// ---------------------------------------------------------------------------

// SearchSymbols matches query against ticker and company name. Dotted
// tickers (share classes, foreign listings) are excluded and results are
// ordered by rank, at most ten.
func (s *SQLiteStore) SearchSymbols(ctx context.Context, query string) ([]domain.SymbolInfo, error) {
	query = strings.TrimSpace(query)
	if len(query) < MinQueryLength {
		return nil, ErrQueryTooShort
	}
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
SELECT symbol, shortName, industryName, exchange, quoteType, rank
FROM symbols
WHERE (symbol LIKE ? OR shortName LIKE ?) AND symbol NOT LIKE '%.%'
ORDER BY rank DESC
LIMIT 10`, like, like)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SymbolInfo
	for rows.Next() {
		var si domain.SymbolInfo
		if err := rows.Scan(&si.Symbol, &si.CompanyName, &si.Industry, &si.Exchange, &si.Type, &si.Rank); err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// UpsertSymbols loads reference data for symbol search.
func (s *SQLiteStore) UpsertSymbols(ctx context.Context, infos []domain.SymbolInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, si := range infos {
		_, err := tx.ExecContext(ctx, `
INSERT INTO symbols(symbol, shortName, industryName, exchange, quoteType, rank)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(symbol) DO UPDATE SET
  shortName=excluded.shortName,
  industryName=excluded.industryName,
  exchange=excluded.exchange,
  quoteType=excluded.quoteType,
  rank=excluded.rank`,
			strings.ToUpper(si.Symbol), si.CompanyName, si.Industry, si.Exchange, si.Type, si.Rank)
		if err != nil {
			return fmt.Errorf("upserting %s: %w", si.Symbol, err)
		}
	}
	return tx.Commit()
}
