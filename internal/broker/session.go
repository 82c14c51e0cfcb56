package broker

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"quant/internal/domain"
	"quant/internal/session"
)

// Compile-time interface checks.
var (
	_ Broker                = (*SessionBroker)(nil)
	_ session.OrderListener = (*SessionBroker)(nil)
)

// SessionBroker executes orders through a brokerage session and reconciles
// the status callbacks into its ledger.
type SessionBroker struct {
	*Ledger
	session *session.Session
	log     *slog.Logger
}

// NewSessionBroker creates a broker that places orders through s.
func NewSessionBroker(s *session.Session, ledger *Ledger, log *slog.Logger) *SessionBroker {
	if log == nil {
		log = slog.Default()
	}
	return &SessionBroker{
		Ledger:  ledger,
		session: s,
		log:     log.With("component", "broker", "broker", "session"),
	}
}

// Name returns "session".
func (b *SessionBroker) Name() string { return "session" }

func (b *SessionBroker) Start(ctx context.Context) (bool, error) {
	return b.session.Start(ctx)
}

func (b *SessionBroker) Shutdown() error {
	return b.session.Shutdown()
}

// PlaceOrder transmits pos. The returned snapshot is the pending order; later
// states arrive as OrderEvents.
func (b *SessionBroker) PlaceOrder(ctx context.Context, pos domain.Position) (domain.Order, error) {
	if err := b.checkSymbol(pos.Symbol); err != nil {
		return domain.Order{}, err
	}
	return b.session.PlaceOrder(ctx, pos, b)
}

// CancelPendingOrders asks the broker to cancel every order still waiting to
// be submitted.
func (b *SessionBroker) CancelPendingOrders(ctx context.Context) error {
	var errs []error
	for _, o := range b.book.Cancellable() {
		if o.ID < 0 {
			continue
		}
		b.log.Info("cancelling order", "order_id", o.ID)
		if err := b.session.CancelOrder(ctx, o.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OrderPosted records an order the session is about to transmit.
func (b *SessionBroker) OrderPosted(order domain.Order) {
	b.append(order)
}

// OrderStatusChanged folds a status callback into the ledger. Statuses
// outside the broker vocabulary are kept as Unknown.
func (b *SessionBroker) OrderStatusChanged(u session.OrderUpdate) {
	status := domain.ParseOrderStatus(u.Status)
	if status == domain.OrderUnknown {
		b.log.Warn("unrecognised order status", "order_id", u.OrderID, "status", u.Status)
	}
	fill := domain.Fill{Quantity: int64(math.Round(u.Filled))}
	if u.AvgFillPrice > 0 {
		fill.Price = domain.Price(u.AvgFillPrice)
	}
	b.advance(u.OrderID, status, fill)
}
