package util

import (
	"time"
	_ "time/tzdata" // embedded zone data for America/New_York
)

// TradingCalendar provides US equity market-hours awareness: the regular
// 9:30-16:00 ET session on weekdays that are not NYSE holidays. Early closes
// are not modeled.
type TradingCalendar struct {
	loc *time.Location
}

// NewTradingCalendar creates a TradingCalendar for the US equity market.
func NewTradingCalendar() *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return &TradingCalendar{loc: loc}
}

// Location returns the exchange time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// Holiday returns the name of the market holiday on t's exchange date.
func (tc *TradingCalendar) Holiday(t time.Time) (string, bool) {
	t = t.In(tc.loc)
	name, ok := holidays(t.Year())[t.Format(time.DateOnly)]
	return name, ok
}

// IsTradingDay reports whether the market has a session on t's exchange date.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	t = t.In(tc.loc)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := tc.Holiday(t)
	return !holiday
}

func (tc *TradingCalendar) session(t time.Time) (open, close time.Time) {
	t = t.In(tc.loc)
	y, m, d := t.Date()
	open = time.Date(y, m, d, 9, 30, 0, 0, tc.loc)
	close = time.Date(y, m, d, 16, 0, 0, 0, tc.loc)
	return open, close
}

// IsMarketOpen returns whether the market is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	if !tc.IsTradingDay(t) {
		return false
	}
	open, close := tc.session(t)
	return !t.Before(open) && t.Before(close)
}

// NextOpen returns the next market open time at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	for day := t.In(tc.loc); ; day = day.AddDate(0, 0, 1) {
		if !tc.IsTradingDay(day) {
			continue
		}
		open, _ := tc.session(day)
		if !open.Before(t) {
			return open
		}
	}
}

// NextClose returns the next market close time at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	for day := t.In(tc.loc); ; day = day.AddDate(0, 0, 1) {
		if !tc.IsTradingDay(day) {
			continue
		}
		_, close := tc.session(day)
		if !close.Before(t) {
			return close
		}
	}
}

// PreviousTradingDay returns the exchange date of the last session before
// t's date.
func (tc *TradingCalendar) PreviousTradingDay(t time.Time) time.Time {
	day := t.In(tc.loc)
	for {
		day = day.AddDate(0, 0, -1)
		if tc.IsTradingDay(day) {
			y, m, d := day.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, tc.loc)
		}
	}
}

// holidays returns the NYSE full-day closures of year keyed by date.
func holidays(year int) map[string]string {
	out := make(map[string]string, 10)
	add := func(d time.Time, name string) { out[d.Format(time.DateOnly)] = name }
	date := func(m time.Month, d int) time.Time { return time.Date(year, m, d, 0, 0, 0, 0, time.UTC) }

	// New Year's Day falling on a Saturday is not observed on the Friday.
	if ny := date(time.January, 1); ny.Weekday() == time.Sunday {
		add(ny.AddDate(0, 0, 1), "New Year's Day")
	} else if ny.Weekday() != time.Saturday {
		add(ny, "New Year's Day")
	}
	add(nthWeekday(year, time.January, time.Monday, 3), "Martin Luther King Jr. Day")
	add(nthWeekday(year, time.February, time.Monday, 3), "Washington's Birthday")
	add(easter(year).AddDate(0, 0, -2), "Good Friday")
	add(lastWeekday(year, time.May, time.Monday), "Memorial Day")
	if year >= 2022 {
		add(observed(date(time.June, 19)), "Juneteenth")
	}
	add(observed(date(time.July, 4)), "Independence Day")
	add(nthWeekday(year, time.September, time.Monday, 1), "Labor Day")
	add(nthWeekday(year, time.November, time.Thursday, 4), "Thanksgiving Day")
	add(observed(date(time.December, 25)), "Christmas Day")
	return out
}

// observed moves a Saturday holiday to Friday and a Sunday one to Monday.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

func nthWeekday(year int, m time.Month, wd time.Weekday, n int) time.Time {
	d := time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, 1)
	}
	return d.AddDate(0, 0, 7*(n-1))
}

func lastWeekday(year int, m time.Month, wd time.Weekday) time.Time {
	d := time.Date(year, m+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// easter computes Easter Sunday with the anonymous Gregorian algorithm.
func easter(year int) time.Time {
	a := year % 19
	b, c := year/100, year%100
	d, e := b/4, b%4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i, k := c/4, c%4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
