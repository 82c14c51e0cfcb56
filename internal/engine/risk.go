package engine

import (
	"errors"
	"fmt"

	"quant/internal/domain"
)

var (
	// ErrInvalidQuantity is returned for order quantities below one share.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")

	// ErrExceedsPosition is returned when reducing by more than is held.
	ErrExceedsPosition = errors.New("quantity exceeds current position")

	// ErrPositionLimit is returned when a position is larger than allowed.
	ErrPositionLimit = errors.New("position exceeds size limit")
)

// RiskManager enforces pre-trade rules on position size.
type RiskManager struct {
	maxPositionQty int64
}

// NewRiskManager creates a RiskManager. A maxPositionQty of zero means no
// size limit.
func NewRiskManager(maxPositionQty int64) *RiskManager {
	return &RiskManager{maxPositionQty: maxPositionQty}
}

// CheckOpen validates a position about to be opened.
func (rm *RiskManager) CheckOpen(pos domain.Position) error {
	if pos.Quantity < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, pos.Quantity)
	}
	if rm != nil && rm.maxPositionQty > 0 && pos.Quantity > rm.maxPositionQty {
		return fmt.Errorf("%w: %d > %d", ErrPositionLimit, pos.Quantity, rm.maxPositionQty)
	}
	return nil
}

// CheckReduce validates reducing current by qty shares.
func (rm *RiskManager) CheckReduce(current domain.Position, qty int64) error {
	if qty < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	if qty > current.Quantity {
		return fmt.Errorf("%w: cannot reduce %d with current position only %d", ErrExceedsPosition, qty, current.Quantity)
	}
	return nil
}
