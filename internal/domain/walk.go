package domain

import (
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// WalkBar produces the next bar of a random walk that opens at prevClose.
// High stays within +1% of the open, low within -1%, close lands between
// them and volume is 300..600.
func WalkBar(rng *rand.Rand, symbol string, prevClose decimal.Decimal, at time.Time) Bar {
	open := prevClose
	high := open.Mul(decimal.NewFromFloat(1 + rng.Float64()*0.01)).Round(2)
	low := open.Mul(decimal.NewFromFloat(1 - rng.Float64()*0.01)).Round(2)
	span := high.Sub(low)
	closePx := low.Add(span.Mul(decimal.NewFromFloat(rng.Float64()))).Round(2)
	ref := high.Add(low).Add(closePx).Div(decimal.NewFromInt(3)).Round(2)
	return Bar{
		Symbol:   symbol,
		Time:     at,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePx,
		RefPrice: ref,
		Volume:   int64(300 + rng.Intn(301)),
	}
}
