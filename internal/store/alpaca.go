package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"quant/internal/domain"
	"quant/internal/util"
)

// Compile-time interface checks.
var _ SymbolStore = (*AlpacaWatchlistStore)(nil)
var _ WatchlistClient = (*alpaca.Client)(nil)
var _ AssetClient = (*alpaca.Client)(nil)

// WatchlistClient is the part of the Alpaca trading API the watchlist store
// uses.
type WatchlistClient interface {
	GetWatchlists() ([]alpaca.Watchlist, error)
	GetWatchlist(watchlistID string) (*alpaca.Watchlist, error)
	CreateWatchlist(req alpaca.CreateWatchlistRequest) (*alpaca.Watchlist, error)
	AddSymbolToWatchlist(watchlistID string, req alpaca.AddSymbolToWatchlistRequest) (*alpaca.Watchlist, error)
	RemoveSymbolFromWatchlist(watchlistID string, req alpaca.RemoveSymbolFromWatchlistRequest) error
}

// AlpacaWatchlistStore keeps the symbol set in a named Alpaca watchlist, so
// the list is shared with the Alpaca dashboard.
type AlpacaWatchlistStore struct {
	client WatchlistClient
	name   string
	log    *slog.Logger

	mu sync.Mutex
	id string
}

// NewAlpacaWatchlistStore creates a store over the watchlist called name.
// The watchlist is created on first use if it does not exist.
func NewAlpacaWatchlistStore(client WatchlistClient, name string, log *slog.Logger) *AlpacaWatchlistStore {
	if log == nil {
		log = slog.Default()
	}
	return &AlpacaWatchlistStore{
		client: client,
		name:   name,
		log:    log.With("component", "alpaca-watchlist"),
	}
}

// watchlistID gets or creates the named watchlist.
func (s *AlpacaWatchlistStore) watchlistID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != "" {
		return s.id, nil
	}

	lists, err := s.client.GetWatchlists()
	if err != nil {
		return "", fmt.Errorf("listing watchlists: %w", err)
	}
	for _, w := range lists {
		if w.Name == s.name {
			s.id = w.ID
			s.log.Info("watchlist found", "id", w.ID, "name", s.name)
			return s.id, nil
		}
	}
	w, err := s.client.CreateWatchlist(alpaca.CreateWatchlistRequest{Name: s.name})
	if err != nil {
		return "", fmt.Errorf("creating watchlist %q: %w", s.name, err)
	}
	s.id = w.ID
	s.log.Info("watchlist created", "id", w.ID, "name", s.name)
	return s.id, nil
}

// LoadSymbols returns the watchlist's symbols in sorted order.
func (s *AlpacaWatchlistStore) LoadSymbols(_ context.Context) ([]string, error) {
	id, err := s.watchlistID()
	if err != nil {
		return nil, err
	}
	// GetWatchlists doesn't include assets; fetch the full watchlist.
	full, err := s.client.GetWatchlist(id)
	if err != nil {
		return nil, fmt.Errorf("getting watchlist %s: %w", id, err)
	}
	out := make([]string, 0, len(full.Assets))
	for _, a := range full.Assets {
		out = append(out, a.Symbol)
	}
	sort.Strings(out)
	return out, nil
}

// SaveSymbols adds and removes symbols until the watchlist matches symbols.
func (s *AlpacaWatchlistStore) SaveSymbols(ctx context.Context, symbols []string) error {
	current, err := s.LoadSymbols(ctx)
	if err != nil {
		return err
	}
	want := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			want = append(want, sym)
		}
	}

	id, err := s.watchlistID()
	if err != nil {
		return err
	}
	added, removed := util.Diff(current, want)
	for _, sym := range removed {
		if err := s.client.RemoveSymbolFromWatchlist(id, alpaca.RemoveSymbolFromWatchlistRequest{Symbol: sym}); err != nil {
			return fmt.Errorf("removing %s: %w", sym, err)
		}
	}
	for _, sym := range added {
		if _, err := s.client.AddSymbolToWatchlist(id, alpaca.AddSymbolToWatchlistRequest{Symbol: sym}); err != nil {
			return fmt.Errorf("adding %s: %w", sym, err)
		}
	}
	if len(added)+len(removed) > 0 {
		s.log.Info("watchlist synced", "added", added, "removed", removed)
	}
	return nil
}

// AssetClient lists the instruments known to Alpaca.
type AssetClient interface {
	GetAssets(req alpaca.GetAssetsRequest) ([]alpaca.Asset, error)
}

// ImportAlpacaAssets loads the active Alpaca assets into the symbol search
// table. Tradable assets rank above the rest. It returns the number of
// symbols written.
func ImportAlpacaAssets(ctx context.Context, client AssetClient, st *SQLiteStore) (int, error) {
	assets, err := client.GetAssets(alpaca.GetAssetsRequest{Status: "active"})
	if err != nil {
		return 0, fmt.Errorf("listing assets: %w", err)
	}
	infos := make([]domain.SymbolInfo, 0, len(assets))
	for _, a := range assets {
		if a.Symbol == "" {
			continue
		}
		si := domain.SymbolInfo{
			Symbol:      a.Symbol,
			CompanyName: a.Name,
			Exchange:    string(a.Exchange),
			Type:        string(a.Class),
		}
		if a.Tradable {
			si.Rank = 1
		}
		infos = append(infos, si)
	}
	if err := st.UpsertSymbols(ctx, infos); err != nil {
		return 0, err
	}
	return len(infos), nil
}
