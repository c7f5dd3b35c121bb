package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session labels the New York trading session a timestamp falls into.
// Crypto trades around the clock but liquidity does not, so position
// sizing can be scaled per session.
type Session string

const (
	SessionWeekendHoliday Session = "weekend_holiday"
	SessionDeadZone       Session = "dead_zone"
	SessionAsia           Session = "asia_session"
	SessionLondon         Session = "london_session"
	SessionUS             Session = "us_session"
	SessionDefault        Session = "default"
	SessionNoTrade        Session = "no_trade"
)

const (
	daysPerWeek          = 7
	sundayHolidayShift   = 1
	thirdMondayOffset    = 2
	fourthThursdayOffset = 3
)

// SessionSizeConfig maps each session to a trade amount multiplier.
// With EnableNoTradeWindow set, sizing collapses to zero from Friday
// 09:00 NY until Sunday 03:00 NY and on US market holidays.
type SessionSizeConfig struct {
	WeekendHolidayMultiplier decimal.Decimal
	DeadZoneMultiplier       decimal.Decimal
	AsiaMultiplier           decimal.Decimal
	LondonMultiplier         decimal.Decimal
	USMultiplier             decimal.Decimal
	DefaultMultiplier        decimal.Decimal

	EnableNoTradeWindow bool
}

func DefaultSessionSizeConfig() SessionSizeConfig {
	return SessionSizeConfig{
		WeekendHolidayMultiplier: decimal.NewFromFloat(0.15),
		DeadZoneMultiplier:       decimal.NewFromFloat(0.15),
		AsiaMultiplier:           decimal.NewFromFloat(0.75),
		LondonMultiplier:         decimal.NewFromFloat(1.0),
		USMultiplier:             decimal.NewFromFloat(1.25),
		DefaultMultiplier:        decimal.NewFromFloat(0.15),
		EnableNoTradeWindow:      true,
	}
}

// ScaleTradeAmount applies the session multiplier for now to amount
// and reports which session was detected. A zero result means the
// no-trade window is active.
func ScaleTradeAmount(amount decimal.Decimal, now time.Time, cfg SessionSizeConfig) (decimal.Decimal, Session) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, SessionDefault
	}

	et := easternTime(now)

	if cfg.EnableNoTradeWindow && inNoTradeWindow(et) {
		return decimal.Zero, SessionNoTrade
	}

	sess := detectSession(et)
	return amount.Mul(multiplierFor(sess, cfg)), sess
}

func easternTime(t time.Time) time.Time {
	nyLocation, err := time.LoadLocation("America/New_York")
	if err != nil {
		return t.UTC()
	}
	return t.In(nyLocation)
}

// inNoTradeWindow covers Friday 09:00 NY through Sunday 03:00 NY plus
// US market holidays. Sunday during the London session is tradable
// again, holiday or not.
func inNoTradeWindow(t time.Time) bool {
	if t.Weekday() == time.Sunday && isLondonSession(t) {
		return t.Hour() < 3
	}

	if isUSMarketHoliday(t) {
		return true
	}

	h := t.Hour()
	switch t.Weekday() {
	case time.Friday:
		return h >= 9
	case time.Saturday:
		return true
	case time.Sunday:
		return h < 3
	default:
		return false
	}
}

func detectSession(t time.Time) Session {
	if t.Weekday() == time.Sunday && isLondonSession(t) {
		return SessionLondon
	}

	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday || isUSMarketHoliday(t) {
		return SessionWeekendHoliday
	}

	switch {
	case isDeadZone(t):
		return SessionDeadZone
	case isAsiaSession(t):
		return SessionAsia
	case isLondonSession(t):
		return SessionLondon
	case isUSSession(t):
		return SessionUS
	default:
		return SessionDefault
	}
}

func multiplierFor(s Session, cfg SessionSizeConfig) decimal.Decimal {
	switch s {
	case SessionWeekendHoliday:
		return cfg.WeekendHolidayMultiplier
	case SessionDeadZone:
		return cfg.DeadZoneMultiplier
	case SessionAsia:
		return cfg.AsiaMultiplier
	case SessionLondon:
		return cfg.LondonMultiplier
	case SessionUS:
		return cfg.USMultiplier
	default:
		return cfg.DefaultMultiplier
	}
}

// Session boundaries, all in NY local hours.
func isDeadZone(t time.Time) bool {
	return t.Hour() >= 17 && t.Hour() < 20
}

func isAsiaSession(t time.Time) bool {
	return t.Hour() >= 20 || t.Hour() < 3
}

func isLondonSession(t time.Time) bool {
	return t.Hour() >= 3 && t.Hour() < 9
}

func isUSSession(t time.Time) bool {
	return t.Hour() >= 9 && t.Hour() <= 17
}

// isUSMarketHoliday checks t against the observed dates of the eight
// major US market holidays. Sunday holidays shift to the Monday after.
func isUSMarketHoliday(t time.Time) bool {
	year := t.Year()

	newYearsDay := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	if newYearsDay.Weekday() == time.Sunday {
		newYearsDay = newYearsDay.AddDate(0, 0, sundayHolidayShift)
	}

	mlkDay := nthMonday(year, time.January, thirdMondayOffset)
	presidentsDay := nthMonday(year, time.February, thirdMondayOffset)

	memorialDay := time.Date(year, time.May, 31, 0, 0, 0, 0, time.UTC)
	for memorialDay.Weekday() != time.Monday {
		memorialDay = memorialDay.AddDate(0, 0, -1)
	}

	independenceDay := time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC)
	if independenceDay.Weekday() == time.Sunday {
		independenceDay = independenceDay.AddDate(0, 0, sundayHolidayShift)
	}

	laborDay := nthMonday(year, time.September, 0)
	thanksgivingDay := nthThursday(year, time.November, fourthThursdayOffset)

	christmasDay := time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC)
	if christmasDay.Weekday() == time.Sunday {
		christmasDay = christmasDay.AddDate(0, 0, sundayHolidayShift)
	}

	holidays := []time.Time{
		newYearsDay,
		mlkDay,
		presidentsDay,
		memorialDay,
		independenceDay,
		laborDay,
		thanksgivingDay,
		christmasDay,
	}

	for _, d := range holidays {
		if t.Format("2006-01-02") == d.Format("2006-01-02") {
			return true
		}
	}
	return false
}

func nthMonday(year int, month time.Month, weeksAfterFirst int) time.Time {
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := int(time.Monday-firstOfMonth.Weekday()+daysPerWeek) % daysPerWeek
	return firstOfMonth.AddDate(0, 0, offset+weeksAfterFirst*daysPerWeek)
}

func nthThursday(year int, month time.Month, weeksAfterFirst int) time.Time {
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := int(time.Thursday-firstOfMonth.Weekday()+daysPerWeek) % daysPerWeek
	return firstOfMonth.AddDate(0, 0, offset+weeksAfterFirst*daysPerWeek)
}
