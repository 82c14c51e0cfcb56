package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSymbolMismatch is returned when combining positions of different symbols.
var ErrSymbolMismatch = errors.New("positions have different symbols")

// ErrNegativeQuantity is returned when a position is built with a quantity
// below zero. Shorts carry a positive quantity and a Short direction.
var ErrNegativeQuantity = errors.New("position quantity must not be negative")

// Direction is the side of a position. Its value is the sign multiplier used
// in quantity arithmetic.
type Direction int

const (
	Long  Direction = 1
	Short Direction = -1
)

// Sign returns +1 for Long and -1 for Short.
func (d Direction) Sign() int64 {
	if d == Short {
		return -1
	}
	return 1
}

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == Short {
		return Long
	}
	return Short
}

func (d Direction) String() string {
	if d == Short {
		return "SHORT"
	}
	return "LONG"
}

// ParseDirection accepts long/buy and short/sell in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	}
	return Long, fmt.Errorf("unknown direction %q", s)
}

// Position is an immutable holding of Quantity units of Symbol in Direction.
// A zero quantity is neutral.
type Position struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Quantity  int64     `json:"quantity"`
}

// NewPosition upper-cases the symbol and validates the quantity.
func NewPosition(symbol string, d Direction, qty int64) (Position, error) {
	if qty < 0 {
		return Position{}, ErrNegativeQuantity
	}
	if d != Short {
		d = Long
	}
	return Position{Symbol: strings.ToUpper(symbol), Direction: d, Quantity: qty}, nil
}

// Signed returns the quantity multiplied by the direction sign.
func (p Position) Signed() int64 {
	return p.Direction.Sign() * p.Quantity
}

// IsNeutral reports whether the position holds nothing.
func (p Position) IsNeutral() bool {
	return p.Quantity == 0
}

// Reverse flips the direction and keeps the quantity.
func (p Position) Reverse() Position {
	p.Direction = p.Direction.Reverse()
	return p
}

// Add sums the signed quantities of two positions in the same symbol.
func (p Position) Add(other Position) (Position, error) {
	if p.Symbol != other.Symbol {
		return Position{}, fmt.Errorf("%w: %s and %s", ErrSymbolMismatch, p.Symbol, other.Symbol)
	}
	return fromSigned(p.Symbol, p.Signed()+other.Signed()), nil
}

// AddQuantity adds n to the signed quantity, flipping the direction when the
// running total crosses zero.
func (p Position) AddQuantity(n int64) Position {
	return fromSigned(p.Symbol, p.Signed()+n)
}

func (p Position) String() string {
	return fmt.Sprintf("%s %d %s", p.Direction, p.Quantity, p.Symbol)
}

// SumPositions folds positions of one symbol into a single net position.
func SumPositions(symbol string, positions ...Position) (Position, error) {
	total := Position{Symbol: symbol, Direction: Long}
	for _, p := range positions {
		var err error
		if total, err = total.Add(p); err != nil {
			return Position{}, err
		}
	}
	return total, nil
}

func fromSigned(symbol string, signed int64) Position {
	if signed < 0 {
		return Position{Symbol: symbol, Direction: Short, Quantity: -signed}
	}
	return Position{Symbol: symbol, Direction: Long, Quantity: signed}
}
