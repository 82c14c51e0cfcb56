package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order. The numeric order of the
// known states is their progression rank.
type OrderStatus int

const (
	OrderUnknown         OrderStatus = -1
	OrderUnposted        OrderStatus = 0
	OrderPending         OrderStatus = 1
	OrderSubmitted       OrderStatus = 2
	OrderPartiallyFilled OrderStatus = 3
	OrderFilled          OrderStatus = 4
	OrderCancelled       OrderStatus = 5
)

// Broker status vocabulary understood by ParseOrderStatus.
const (
	StatusAPIPending      = "ApiPending"
	StatusPendingSubmit   = "PendingSubmit"
	StatusPendingCancel   = "PendingCancel"
	StatusPreSubmitted    = "PreSubmitted"
	StatusSubmitted       = "Submitted"
	StatusPartiallyFilled = "PartiallyFilled"
	StatusFilled          = "Filled"
	StatusCancelled       = "Cancelled"
	StatusAPICancelled    = "ApiCancelled"
	StatusInactive        = "Inactive"
)

// ParseOrderStatus maps a broker status string to an OrderStatus. Strings
// outside the vocabulary map to OrderUnknown.
func ParseOrderStatus(s string) OrderStatus {
	switch s {
	case StatusAPIPending, StatusPendingSubmit, StatusPendingCancel, StatusPreSubmitted:
		return OrderPending
	case StatusSubmitted:
		return OrderSubmitted
	case StatusPartiallyFilled:
		return OrderPartiallyFilled
	case StatusFilled:
		return OrderFilled
	case StatusCancelled, StatusAPICancelled, StatusInactive:
		return OrderCancelled
	}
	return OrderUnknown
}

func (s OrderStatus) String() string {
	switch s {
	case OrderUnposted:
		return "UNPOSTED"
	case OrderPending:
		return "PENDING"
	case OrderSubmitted:
		return "SUBMITTED"
	case OrderPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderFilled:
		return "FILLED"
	case OrderCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// Cancellable reports whether an order in this state may still be cancelled.
func (s OrderStatus) Cancellable() bool {
	return s == OrderUnposted || s == OrderPending
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// Open reports whether the order is live at the broker.
func (s OrderStatus) Open() bool {
	return s == OrderPending || s == OrderSubmitted || s == OrderPartiallyFilled
}

// Fill carries execution details of a status update. Zero fields mean the
// value was not supplied.
type Fill struct {
	Price    decimal.Decimal
	Quantity int64
}

// NoFill is an update without execution details.
var NoFill = Fill{}

// Order is one immutable snapshot of an order. Every status change produces a
// new value.
type Order struct {
	Position       Position        `json:"position"`
	Status         OrderStatus     `json:"status"`
	ID             int64           `json:"order_id"`
	FilledAt       decimal.Decimal `json:"filled_at"`
	FilledQuantity int64           `json:"filled_quantity"`
}

// NewOrder returns an unposted order for pos.
func NewOrder(pos Position) Order {
	return Order{Position: pos, Status: OrderUnposted, ID: -1}
}

// WithID returns a copy carrying the broker-assigned id.
func (o Order) WithID(id int64) Order {
	o.ID = id
	return o
}

// UpdateStatus returns a copy with status replaced and any supplied fill
// fields applied. Unsupplied fields carry over from o.
func (o Order) UpdateStatus(status OrderStatus, fill Fill) Order {
	o.Status = status
	if !fill.Price.IsZero() {
		o.FilledAt = fill.Price
	}
	if fill.Quantity != 0 {
		o.FilledQuantity = fill.Quantity
	}
	return o
}

// Advance applies a broker callback to o. Terminal orders never change and
// known states never move backwards, so duplicated or stale callbacks report
// false. A submitted update that carries a partial quantity is recorded as
// partially filled.
func (o Order) Advance(status OrderStatus, fill Fill) (Order, bool) {
	if o.Status.Terminal() {
		return o, false
	}
	if status == OrderSubmitted && fill.Quantity > 0 && fill.Quantity < o.Position.Quantity {
		status = OrderPartiallyFilled
	}
	if status != OrderUnknown && o.Status != OrderUnknown && status < o.Status {
		return o, false
	}
	next := o.UpdateStatus(status, fill)
	if next.sameState(o) {
		return o, false
	}
	return next, true
}

func (o Order) sameState(other Order) bool {
	return o.Status == other.Status &&
		o.FilledQuantity == other.FilledQuantity &&
		o.FilledAt.Equal(other.FilledAt)
}

// PnL returns the profit or loss of a filled order marked at price.
func (o Order) PnL(price decimal.Decimal) decimal.Decimal {
	if o.Status != OrderFilled {
		return decimal.Zero
	}
	sign := decimal.NewFromInt(o.Position.Direction.Sign())
	return price.Sub(o.FilledAt).Mul(decimal.NewFromInt(o.FilledQuantity)).Mul(sign)
}

// FilledPosition is the part of the position actually executed. A filled
// order without a reported quantity counts in full.
func (o Order) FilledPosition() Position {
	p := o.Position
	switch o.Status {
	case OrderFilled:
		if o.FilledQuantity > 0 {
			p.Quantity = o.FilledQuantity
		}
	case OrderPartiallyFilled:
		p.Quantity = o.FilledQuantity
	default:
		p.Quantity = 0
	}
	return p
}

func (o Order) String() string {
	if o.Status == OrderFilled || o.Status == OrderPartiallyFilled {
		return fmt.Sprintf("#%d %s %s (%d @ %s)", o.ID, o.Position, o.Status, o.FilledQuantity, o.FilledAt.StringFixed(2))
	}
	return fmt.Sprintf("#%d %s %s", o.ID, o.Position, o.Status)
}
