// Package daemonblock implements the ipwall daemon's in-memory block
// collection: one BlockRecord per banned IP, ordered by expiry behind a
// single wakeup timer, with the "keep longest / all scheme wins" merge
// semantics from original_source/tools/ipwall/block_info.cpp's
// set_block_limit and keep_longest.
package daemonblock

import "time"

// Named block periods and their durations, reproduced verbatim from
// block_info::set_block_limit. "5min" exists for test purposes only; it
// is accepted but intentionally undocumented, same as upstream.
const (
	period5Min    = 5 * time.Minute
	periodHour    = time.Hour
	periodDay     = 24 * time.Hour
	periodWeek    = 7 * 24 * time.Hour
	periodMonth   = 31 * 24 * time.Hour
	periodYear    = 366 * 24 * time.Hour
	periodForever = 5 * 366 * 24 * time.Hour

	// DefaultPeriod is used both when no period is given and as the
	// fallback for an unrecognized one.
	DefaultPeriod = periodDay
)

var namedPeriods = map[string]time.Duration{
	"5min":    period5Min,
	"hour":    periodHour,
	"day":     periodDay,
	"week":    periodWeek,
	"month":   periodMonth,
	"year":    periodYear,
	"forever": periodForever,
}

// ResolvePeriod maps a period name to an absolute expiry time computed
// from now. recognized is false when period is non-empty but unknown, in
// which case the default (1 day) was used as a fallback, matching the
// original's "keep default of 1 day, but log an error" behavior.
func ResolvePeriod(now time.Time, period string) (until time.Time, recognized bool) {
	if period == "" {
		return now.Add(DefaultPeriod), true
	}
	d, ok := namedPeriods[period]
	if !ok {
		return now.Add(DefaultPeriod), false
	}
	return now.Add(d), true
}
