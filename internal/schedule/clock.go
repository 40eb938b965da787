// Package schedule implements the rebalance clock: cadence string parsing
// and the due-time decision that drives both the in-process scheduler and
// the cron-delegated tick mode.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

var cadenceRe = regexp.MustCompile(`^(\d+)(min|hour|day|week|month)$`)

// unitMinutes maps each cadence unit to its length in minutes. A month is
// approximated as 30 days.
var unitMinutes = map[string]int64{
	"min":   1,
	"hour":  60,
	"day":   60 * 24,
	"week":  60 * 24 * 7,
	"month": 60 * 24 * 30,
}

// Interval parses a cadence string such as "60min" or "1day" into a
// duration. It returns domain.ErrInvalidCadence for anything that does not
// match the <integer><unit> grammar.
func Interval(cadence string) (time.Duration, error) {
	m := cadenceRe.FindStringSubmatch(cadence)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidCadence, cadence)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidCadence, cadence)
	}
	return time.Duration(n*unitMinutes[m[2]]) * time.Minute, nil
}

// IsDue reports whether a strategy last rebalanced at lastRebalance is due
// again at now under the given cadence. The boundary is inclusive: exactly
// cadence minutes elapsed counts as due. A malformed cadence is never due,
// so a bad config can never cause runaway rebalancing.
func IsDue(lastRebalance time.Time, cadence string, now time.Time) bool {
	interval, err := Interval(cadence)
	if err != nil {
		return false
	}
	return now.Sub(lastRebalance) >= interval
}
