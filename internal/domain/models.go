package domain

import "time"

// Side represents the direction of a trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is a known value
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Granularity is the time step of a replay session
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHourly Granularity = "hourly"
	GranularityDaily  Granularity = "daily"
)

// Valid reports whether the granularity is a known value
func (g Granularity) Valid() bool {
	switch g {
	case GranularityMinute, GranularityHourly, GranularityDaily:
		return true
	}
	return false
}

// Step returns the simulated-time duration of one tick
func (g Granularity) Step() time.Duration {
	switch g {
	case GranularityMinute:
		return time.Minute
	case GranularityHourly:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// PeriodsPerYear returns the number of steps in a year at this granularity.
// Crypto markets trade continuously, so a year is 365 full days.
func (g Granularity) PeriodsPerYear() int {
	switch g {
	case GranularityMinute:
		return 365 * 24 * 60
	case GranularityHourly:
		return 365 * 24
	default:
		return 365
	}
}
