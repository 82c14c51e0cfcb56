package live

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	"quant/internal/domain"
)

var errMissingSymbol = errors.New("bar without symbol")

// Bars travel as structpb.Struct. Prices are decimal strings so they
// survive the trip exactly; time is RFC 3339 with nanoseconds.

func barToStruct(b domain.Bar) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"symbol":    structpb.NewStringValue(b.Symbol),
		"time":      structpb.NewStringValue(b.Time.UTC().Format(time.RFC3339Nano)),
		"open":      structpb.NewStringValue(b.Open.String()),
		"high":      structpb.NewStringValue(b.High.String()),
		"low":       structpb.NewStringValue(b.Low.String()),
		"close":     structpb.NewStringValue(b.Close.String()),
		"ref_price": structpb.NewStringValue(b.RefPrice.String()),
		"volume":    structpb.NewNumberValue(float64(b.Volume)),
	}}
}

func structToBar(s *structpb.Struct) (domain.Bar, error) {
	f := s.GetFields()
	str := func(k string) string { return f[k].GetStringValue() }
	num := func(k string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(str(k))
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %s: %w", k, err)
		}
		return d, nil
	}

	b := domain.Bar{Symbol: str("symbol"), Volume: int64(f["volume"].GetNumberValue())}
	if b.Symbol == "" {
		return domain.Bar{}, errMissingSymbol
	}
	t, err := time.Parse(time.RFC3339Nano, str("time"))
	if err != nil {
		return domain.Bar{}, fmt.Errorf("field time: %w", err)
	}
	b.Time = t
	for k, dst := range map[string]*decimal.Decimal{
		"open": &b.Open, "high": &b.High, "low": &b.Low, "close": &b.Close, "ref_price": &b.RefPrice,
	} {
		if *dst, err = num(k); err != nil {
			return domain.Bar{}, err
		}
	}
	return b, nil
}

// symbolsRequest builds the request filter; an empty list means every symbol.
func symbolsRequest(symbols []string) *structpb.Struct {
	vals := make([]*structpb.Value, 0, len(symbols))
	for _, s := range symbols {
		vals = append(vals, structpb.NewStringValue(s))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"symbols": structpb.NewListValue(&structpb.ListValue{Values: vals}),
	}}
}

func requestedSymbols(req *structpb.Struct) []string {
	var out []string
	for _, v := range req.GetFields()["symbols"].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
