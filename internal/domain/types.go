// Package domain holds the value types shared across the toolkit: positions,
// orders, price bars, data requests and the events published on the bus.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Price converts a float price to a decimal rounded to cents.
func Price(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

// ---------------------------------------------------------------------------
// Bars
// ---------------------------------------------------------------------------

// Bar is one OHLC observation for a symbol. RefPrice is the reference price
// reported with the bar (volume weighted average).
type Bar struct {
	Symbol   string          `json:"symbol"`
	Time     time.Time       `json:"time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	RefPrice decimal.Decimal `json:"ref_price"`
	Volume   int64           `json:"volume"`
}

// PlaceholderBar is the zero-priced bar used to register interest in symbol.
func PlaceholderBar(symbol string, price decimal.Decimal) Bar {
	return Bar{
		Symbol:   symbol,
		Time:     time.Now(),
		Open:     price,
		High:     price,
		Low:      price,
		Close:    price,
		RefPrice: price,
	}
}

func (b Bar) String() string {
	return fmt.Sprintf("%s %s O%s H%s L%s C%s V%d", b.Time.Format(time.DateTime), b.Symbol,
		b.Open.StringFixed(2), b.High.StringFixed(2), b.Low.StringFixed(2), b.Close.StringFixed(2), b.Volume)
}

// SymbolData is an ordered series of bars for one symbol.
type SymbolData struct {
	Symbol string
	bars   []Bar
}

// NewSymbolData creates an empty series for symbol.
func NewSymbolData(symbol string, bars ...Bar) *SymbolData {
	return &SymbolData{Symbol: symbol, bars: bars}
}

// Append adds a bar to the end of the series.
func (d *SymbolData) Append(b Bar) {
	d.bars = append(d.bars, b)
}

// Bars returns a copy of the series.
func (d *SymbolData) Bars() []Bar {
	out := make([]Bar, len(d.bars))
	copy(out, d.bars)
	return out
}

func (d *SymbolData) Len() int { return len(d.bars) }

// Last returns the most recent bar.
func (d *SymbolData) Last() (Bar, bool) {
	if len(d.bars) == 0 {
		return Bar{}, false
	}
	return d.bars[len(d.bars)-1], true
}

// Condense aggregates every factor consecutive bars into one. The aggregate
// opens at the first bar, closes at the last, spans the extreme high and low,
// averages the reference price and sums the volume.
func (d *SymbolData) Condense(factor int) *SymbolData {
	if factor <= 1 {
		return NewSymbolData(d.Symbol, d.Bars()...)
	}
	out := NewSymbolData(d.Symbol)
	for i := 0; i < len(d.bars); i += factor {
		end := min(i+factor, len(d.bars))
		out.Append(condense(d.bars[i:end]))
	}
	return out
}

func condense(group []Bar) Bar {
	agg := group[0]
	ref := decimal.Zero
	agg.Volume = 0
	for _, b := range group {
		if b.High.GreaterThan(agg.High) {
			agg.High = b.High
		}
		if b.Low.LessThan(agg.Low) {
			agg.Low = b.Low
		}
		ref = ref.Add(b.RefPrice)
		agg.Volume += b.Volume
	}
	agg.Close = group[len(group)-1].Close
	agg.RefPrice = ref.Div(decimal.NewFromInt(int64(len(group)))).Round(2)
	return agg
}

// ---------------------------------------------------------------------------
// Data requests
// ---------------------------------------------------------------------------

// Resolution is a bar width in seconds.
type Resolution int

const (
	Tick    Resolution = 0
	FiveSec Resolution = 5
	Minute  Resolution = 60
	Day     Resolution = 86400
	Week    Resolution = 7 * Day
	Month   Resolution = 30 * Day
)

// Duration returns the nominal bar width.
func (r Resolution) Duration() time.Duration {
	return time.Duration(r) * time.Second
}

// BarSize returns the bar size label used in historical requests.
func (r Resolution) BarSize() string {
	switch r {
	case FiveSec:
		return "5 secs"
	case Minute:
		return "1 min"
	case Day:
		return "1 day"
	case Week:
		return "1 week"
	case Month:
		return "1 month"
	}
	return "tick"
}

func (r Resolution) String() string {
	switch r {
	case Tick:
		return "tick"
	case FiveSec:
		return "5s"
	case Minute:
		return "1m"
	case Day:
		return "1d"
	case Week:
		return "1w"
	case Month:
		return "1mo"
	}
	return fmt.Sprintf("%ds", int(r))
}

// ParseResolution accepts the short labels printed by String.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(s) {
	case "tick":
		return Tick, nil
	case "5s", "5sec", "five_sec":
		return FiveSec, nil
	case "1m", "min", "minute":
		return Minute, nil
	case "1d", "d", "day":
		return Day, nil
	case "1w", "w", "week":
		return Week, nil
	case "1mo", "mo", "month":
		return Month, nil
	}
	return Tick, fmt.Errorf("unknown resolution %q", s)
}

// DataRequest asks for bars of Symbol between Start and End.
type DataRequest struct {
	Symbol     string
	Start      time.Time
	End        time.Time
	Resolution Resolution
}

// LastDays builds a request for the n days ending at now.
func LastDays(symbol string, n int, resolution Resolution, now time.Time) DataRequest {
	return DataRequest{
		Symbol:     strings.ToUpper(symbol),
		Start:      now.AddDate(0, 0, -n),
		End:        now,
		Resolution: resolution,
	}
}

// Days returns the number of calendar days spanned, at least one.
func (r DataRequest) Days() int {
	days := int(r.End.Sub(r.Start).Hours()/24 + 0.999)
	return max(days, 1)
}

func (r DataRequest) String() string {
	return fmt.Sprintf("%s %s..%s %s", r.Symbol, r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly), r.Resolution)
}

// SymbolInfo describes a tradable instrument returned by symbol search.
type SymbolInfo struct {
	Symbol      string `json:"symbol"`
	CompanyName string `json:"company_name"`
	Industry    string `json:"industry"`
	Exchange    string `json:"exchange"`
	Type        string `json:"type"`
	Rank        int64  `json:"rank"`
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// TickEvent carries a new price bar.
type TickEvent struct {
	Bar Bar
}

// OrderEvent carries a new order snapshot after a status change.
type OrderEvent struct {
	Order Order
}
