package api

import (
	"quant/internal/domain"
	"quant/pkg/quant"
)

func toBar(b domain.Bar) quant.Bar {
	return quant.Bar{
		Symbol:   b.Symbol,
		Time:     b.Time,
		Open:     b.Open,
		High:     b.High,
		Low:      b.Low,
		Close:    b.Close,
		RefPrice: b.RefPrice,
		Volume:   b.Volume,
	}
}

func toOrder(o domain.Order) quant.Order {
	return quant.Order{
		ID:             o.ID,
		Symbol:         o.Position.Symbol,
		Direction:      o.Position.Direction.String(),
		Quantity:       o.Position.Quantity,
		Status:         o.Status.String(),
		FilledQuantity: o.FilledQuantity,
		FilledAt:       o.FilledAt,
	}
}

func toOrders(orders []domain.Order) []quant.Order {
	out := make([]quant.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrder(o))
	}
	return out
}

func toSymbolInfo(s domain.SymbolInfo) quant.SymbolInfo {
	return quant.SymbolInfo{
		Symbol:      s.Symbol,
		CompanyName: s.CompanyName,
		Industry:    s.Industry,
		Exchange:    s.Exchange,
		Type:        s.Type,
		Rank:        s.Rank,
	}
}
