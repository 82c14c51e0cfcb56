package quant

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is the JSON representation of one price bar.
type Bar struct {
	Symbol   string          `json:"symbol"`
	Time     time.Time       `json:"time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	RefPrice decimal.Decimal `json:"refPrice"`
	Volume   int64           `json:"volume"`
}

// WatchlistResponse lists the watched symbols with their latest bars.
type WatchlistResponse struct {
	Symbols []string `json:"symbols"`
	Bars    []Bar    `json:"bars"`
}

// WatchlistRequest replaces the watchlist.
type WatchlistRequest struct {
	Symbols []string `json:"symbols"`
}

// Position is a net position with its profit or loss at the last close.
type Position struct {
	Symbol    string          `json:"symbol"`
	Direction string          `json:"direction"`
	Quantity  int64           `json:"quantity"`
	PnL       decimal.Decimal `json:"pnl"`
}

type PositionsResponse struct {
	Positions []Position      `json:"positions"`
	TotalPnL  decimal.Decimal `json:"totalPnl"`
}

// Order is a snapshot of one order.
type Order struct {
	ID             int64           `json:"id"`
	Symbol         string          `json:"symbol"`
	Direction      string          `json:"direction"`
	Quantity       int64           `json:"quantity"`
	Status         string          `json:"status"`
	FilledQuantity int64           `json:"filledQuantity"`
	FilledAt       decimal.Decimal `json:"filledAt"`
}

type OrdersResponse struct {
	Orders []Order `json:"orders"`
}

// OrderRequest places an order. Direction accepts long, buy, short or sell.
type OrderRequest struct {
	Symbol    string `json:"symbol"`
	Direction string `json:"direction"`
	Quantity  int64  `json:"quantity"`
}

// SymbolInfo is one symbol search result.
type SymbolInfo struct {
	Symbol      string `json:"symbol"`
	CompanyName string `json:"companyName"`
	Industry    string `json:"industry,omitempty"`
	Exchange    string `json:"exchange,omitempty"`
	Type        string `json:"type,omitempty"`
	Rank        int64  `json:"rank"`
}

type SearchResponse struct {
	Query   string       `json:"query"`
	Results []SymbolInfo `json:"results"`
}

// Message types pushed over the websocket stream.
const (
	MessageTick  = "tick"
	MessageOrder = "order"
)

// Message is one websocket push. Exactly one of Bar and Order is set,
// matching Type.
type Message struct {
	Type  string `json:"type"`
	Bar   *Bar   `json:"bar,omitempty"`
	Order *Order `json:"order,omitempty"`
}

// StreamRequest changes the symbols a websocket client receives ticks for.
// Op is "subscribe" or "unsubscribe".
type StreamRequest struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
