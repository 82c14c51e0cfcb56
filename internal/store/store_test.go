package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"quant/internal/domain"
	"quant/internal/eventbus"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	day := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	got := ps.barPath("aapl", day)
	want := filepath.Join("/data", "bars", "AAPL", "2024-06-15.parquet")
	if got != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", got, want)
	}

	got = ps.ForResolution(domain.FiveSec).barPath("AAPL", day)
	want = filepath.Join("/data", "5s", "bars", "AAPL", "2024-06-15.parquet")
	if got != want {
		t.Errorf("ForResolution barPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func testBar(symbol string, at time.Time, close float64) domain.Bar {
	px := decimal.NewFromFloat(close)
	return domain.Bar{
		Symbol: symbol, Time: at,
		Open: px, High: px.Add(decimal.NewFromInt(1)), Low: px.Sub(decimal.NewFromInt(1)), Close: px,
		RefPrice: px, Volume: 1000,
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	d1 := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC)
	if err := ps.WriteBars(ctx, []domain.Bar{testBar("AAPL", d1, 185.5), testBar("AAPL", d2, 186)}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	// Rewriting a timestamp replaces the stored bar.
	if err := ps.WriteBars(ctx, []domain.Bar{testBar("AAPL", d2, 190.25)}); err != nil {
		t.Fatalf("WriteBars (merge): %v", err)
	}

	bars, err := ps.ReadBars(ctx, "AAPL", d1.Add(-time.Hour), d2.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(bars))
	}
	if !bars[0].Close.Equal(decimal.NewFromFloat(185.5)) {
		t.Errorf("bars[0].Close = %s, want 185.5", bars[0].Close)
	}
	if !bars[1].Close.Equal(decimal.NewFromFloat(190.25)) {
		t.Errorf("bars[1].Close = %s, want 190.25", bars[1].Close)
	}
	if !bars[0].Time.Equal(d1) {
		t.Errorf("bars[0].Time = %s, want %s", bars[0].Time, d1)
	}

	// The range is inclusive and filters within a day file.
	bars, err = ps.ReadBars(ctx, "AAPL", d2, d2)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 1 {
		t.Errorf("ReadBars single instant returned %d bars, want 1", len(bars))
	}

	syms, err := ps.Symbols()
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	if !reflect.DeepEqual(syms, []string{"AAPL"}) {
		t.Errorf("Symbols = %v, want [AAPL]", syms)
	}
}

func TestParquetStoreReadMissing(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	bars, err := ps.ReadBars(context.Background(), "NONE", time.Now().Add(-48*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 0 {
		t.Errorf("ReadBars returned %d bars for a missing symbol", len(bars))
	}
}

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "quant.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteWatchlist(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	syms, err := s.LoadSymbols(ctx)
	if err != nil {
		t.Fatalf("LoadSymbols: %v", err)
	}
	if len(syms) != 0 {
		t.Errorf("empty store returned %v", syms)
	}

	if err := s.SaveSymbols(ctx, []string{"msft", "AAPL", "aapl", " "}); err != nil {
		t.Fatalf("SaveSymbols: %v", err)
	}
	if err := s.SaveSymbols(ctx, []string{"TSLA", "AAPL"}); err != nil {
		t.Fatalf("SaveSymbols: %v", err)
	}
	syms, err = s.LoadSymbols(ctx)
	if err != nil {
		t.Fatalf("LoadSymbols: %v", err)
	}
	if want := []string{"AAPL", "TSLA"}; !reflect.DeepEqual(syms, want) {
		t.Errorf("LoadSymbols = %v, want %v", syms, want)
	}
}

func TestSQLiteOrders(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	pos := domain.Position{Symbol: "AAPL", Direction: domain.Short, Quantity: 40}
	o := domain.NewOrder(pos).WithID(7).UpdateStatus(domain.OrderPending, domain.NoFill)
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	filled := o.UpdateStatus(domain.OrderFilled, domain.Fill{Price: decimal.RequireFromString("101.25"), Quantity: 40})
	if err := s.SaveOrder(ctx, filled); err != nil {
		t.Fatalf("SaveOrder (update): %v", err)
	}

	got, err := s.GetOrder(ctx, 7)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domain.OrderFilled || got.FilledQuantity != 40 || got.Position != pos {
		t.Errorf("GetOrder = %+v", got)
	}
	if !got.FilledAt.Equal(decimal.RequireFromString("101.25")) {
		t.Errorf("FilledAt = %s, want 101.25", got.FilledAt)
	}

	if _, err := s.GetOrder(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOrder(99) error = %v, want ErrNotFound", err)
	}
	if err := s.SaveOrder(ctx, domain.NewOrder(pos)); err == nil {
		t.Error("SaveOrder accepted an order without id")
	}

	list, err := s.ListOrders(ctx)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(list) != 1 || list[0].ID != 7 {
		t.Errorf("ListOrders = %+v, want one order with id 7", list)
	}
}

func TestSearchSymbols(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	infos := []domain.SymbolInfo{
		{Symbol: "AAPL", CompanyName: "Apple Inc.", Industry: "Consumer Electronics", Exchange: "NASDAQ", Type: "EQUITY", Rank: 100},
		{Symbol: "APLE", CompanyName: "Apple Hospitality REIT", Exchange: "NYSE", Type: "EQUITY", Rank: 10},
		{Symbol: "AAPL.MX", CompanyName: "Apple Inc.", Exchange: "MEX", Type: "EQUITY", Rank: 500},
	}
	for i := 0; i < 12; i++ {
		infos = append(infos, domain.SymbolInfo{Symbol: fmt.Sprintf("ZZ%02d", i), CompanyName: "Zed Corp", Rank: int64(i)})
	}
	if err := s.UpsertSymbols(ctx, infos); err != nil {
		t.Fatalf("UpsertSymbols: %v", err)
	}

	if _, err := s.SearchSymbols(ctx, "a"); !errors.Is(err, ErrQueryTooShort) {
		t.Errorf("SearchSymbols(a) error = %v, want ErrQueryTooShort", err)
	}

	got, err := s.SearchSymbols(ctx, "apple")
	if err != nil {
		t.Fatalf("SearchSymbols: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("SearchSymbols(apple) returned %d results, want 2: %+v", len(got), got)
	}
	if got[0].Symbol != "AAPL" || got[1].Symbol != "APLE" {
		t.Errorf("results not ordered by rank: %s, %s", got[0].Symbol, got[1].Symbol)
	}
	if got[0].Industry != "Consumer Electronics" || got[0].Exchange != "NASDAQ" {
		t.Errorf("SymbolInfo fields not scanned: %+v", got[0])
	}

	got, err = s.SearchSymbols(ctx, "zed")
	if err != nil {
		t.Fatalf("SearchSymbols: %v", err)
	}
	if len(got) != 10 {
		t.Errorf("SearchSymbols(zed) returned %d results, want 10", len(got))
	}
}

func TestOrderRecorder(t *testing.T) {
	s := openSQLite(t)
	bus := eventbus.New(nil)
	r := StartOrderRecorder(bus, s, nil, 8)

	pos := domain.Position{Symbol: "MSFT", Direction: domain.Long, Quantity: 5}
	o := domain.NewOrder(pos).WithID(3).UpdateStatus(domain.OrderSubmitted, domain.NoFill)
	bus.Publish(domain.OrderEvent{Order: o})
	bus.Publish(domain.OrderEvent{Order: domain.NewOrder(pos)}) // no id yet, skipped
	r.Close()
	r.Close()

	got, err := s.GetOrder(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domain.OrderSubmitted {
		t.Errorf("recorded status = %s, want SUBMITTED", got.Status)
	}
	if n := bus.Subscribers(domain.OrderEvent{}); n != 0 {
		t.Errorf("recorder still subscribed: %d", n)
	}
}

// fakeWatchlists is an in-memory stand-in for the Alpaca watchlist API.
type fakeWatchlists struct {
	lists   map[string]*alpaca.Watchlist
	created int
}

func (f *fakeWatchlists) GetWatchlists() ([]alpaca.Watchlist, error) {
	var out []alpaca.Watchlist
	for _, w := range f.lists {
		out = append(out, alpaca.Watchlist{ID: w.ID, Name: w.Name})
	}
	return out, nil
}

func (f *fakeWatchlists) GetWatchlist(id string) (*alpaca.Watchlist, error) {
	w, ok := f.lists[id]
	if !ok {
		return nil, errors.New("no such watchlist")
	}
	return w, nil
}

func (f *fakeWatchlists) CreateWatchlist(req alpaca.CreateWatchlistRequest) (*alpaca.Watchlist, error) {
	f.created++
	w := &alpaca.Watchlist{ID: fmt.Sprintf("wl-%d", f.created), Name: req.Name}
	f.lists[w.ID] = w
	return w, nil
}

func (f *fakeWatchlists) AddSymbolToWatchlist(id string, req alpaca.AddSymbolToWatchlistRequest) (*alpaca.Watchlist, error) {
	w := f.lists[id]
	w.Assets = append(w.Assets, alpaca.Asset{Symbol: req.Symbol})
	return w, nil
}

func (f *fakeWatchlists) RemoveSymbolFromWatchlist(id string, req alpaca.RemoveSymbolFromWatchlistRequest) error {
	w := f.lists[id]
	kept := w.Assets[:0]
	for _, a := range w.Assets {
		if a.Symbol != req.Symbol {
			kept = append(kept, a)
		}
	}
	w.Assets = kept
	return nil
}

func TestAlpacaWatchlistStore(t *testing.T) {
	fake := &fakeWatchlists{lists: make(map[string]*alpaca.Watchlist)}
	s := NewAlpacaWatchlistStore(fake, "quant", nil)
	ctx := context.Background()

	syms, err := s.LoadSymbols(ctx)
	if err != nil {
		t.Fatalf("LoadSymbols: %v", err)
	}
	if len(syms) != 0 || fake.created != 1 {
		t.Fatalf("first load = %v, created = %d", syms, fake.created)
	}

	if err := s.SaveSymbols(ctx, []string{"aapl", "MSFT"}); err != nil {
		t.Fatalf("SaveSymbols: %v", err)
	}
	if err := s.SaveSymbols(ctx, []string{"MSFT", "TSLA"}); err != nil {
		t.Fatalf("SaveSymbols: %v", err)
	}
	syms, err = s.LoadSymbols(ctx)
	if err != nil {
		t.Fatalf("LoadSymbols: %v", err)
	}
	if want := []string{"MSFT", "TSLA"}; !reflect.DeepEqual(syms, want) {
		t.Errorf("LoadSymbols = %v, want %v", syms, want)
	}

	// A second store finds the existing list instead of creating another.
	other := NewAlpacaWatchlistStore(fake, "quant", nil)
	if _, err := other.LoadSymbols(ctx); err != nil {
		t.Fatalf("LoadSymbols: %v", err)
	}
	if fake.created != 1 {
		t.Errorf("watchlist created %d times, want 1", fake.created)
	}
}

type fakeAssets []alpaca.Asset

func (f fakeAssets) GetAssets(alpaca.GetAssetsRequest) ([]alpaca.Asset, error) {
	return f, nil
}

func TestImportAlpacaAssets(t *testing.T) {
	st := openSQLite(t)
	ctx := context.Background()
	assets := fakeAssets{
		{Symbol: "APLE", Name: "Apple Hospitality REIT", Exchange: "NYSE"},
		{Symbol: "AAPL", Name: "Apple Inc. Common Stock", Exchange: "NASDAQ", Tradable: true},
		{Name: "no symbol"},
	}

	n, err := ImportAlpacaAssets(ctx, assets, st)
	if err != nil {
		t.Fatalf("ImportAlpacaAssets: %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d symbols, want 2", n)
	}

	got, err := st.SearchSymbols(ctx, "apple")
	if err != nil {
		t.Fatalf("SearchSymbols: %v", err)
	}
	if len(got) != 2 || got[0].Symbol != "AAPL" || got[0].Exchange != "NASDAQ" {
		t.Errorf("SearchSymbols(apple) = %+v", got)
	}
}
