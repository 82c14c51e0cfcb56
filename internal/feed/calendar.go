package feed

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"quant/internal/util"
)

// Compile-time interface checks.
var (
	_ TradingDays    = (*AlpacaCalendar)(nil)
	_ TradingDays    = (*util.TradingCalendar)(nil)
	_ CalendarClient = (*alpaca.Client)(nil)
)

// CalendarClient is the part of the Alpaca trading API the calendar uses.
type CalendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// AlpacaCalendar answers trading-day questions from the Alpaca market
// calendar and falls back to the static NYSE rules when the API fails.
type AlpacaCalendar struct {
	client   CalendarClient
	fallback *util.TradingCalendar
	log      *slog.Logger
}

func NewAlpacaCalendar(client CalendarClient, log *slog.Logger) *AlpacaCalendar {
	if log == nil {
		log = slog.Default()
	}
	return &AlpacaCalendar{
		client:   client,
		fallback: util.NewTradingCalendar(),
		log:      log.With("component", "calendar"),
	}
}

func (c *AlpacaCalendar) Location() *time.Location { return c.fallback.Location() }

func (c *AlpacaCalendar) IsTradingDay(t time.Time) bool {
	ok, err := c.isTradingDay(t)
	if err != nil {
		c.log.Warn("market calendar unavailable, using static rules", "error", err)
		return c.fallback.IsTradingDay(t)
	}
	return ok
}

func (c *AlpacaCalendar) isTradingDay(t time.Time) (bool, error) {
	day := t.In(c.Location())
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, c.Location())
	days, err := c.client.GetCalendar(alpaca.GetCalendarRequest{Start: start, End: start})
	if err != nil {
		return false, fmt.Errorf("GetCalendar: %w", err)
	}
	want := start.Format(time.DateOnly)
	for _, cd := range days {
		if cd.Date == want {
			return true, nil
		}
	}
	return false, nil
}
