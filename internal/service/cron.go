package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseCron parses a cron expression that have 5 fields or a @macro
// return error if it fails
func ParseCron(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, fmt.Errorf("empty cron expression")
	}

	// Macros / @every handled by ParseStandard (it also supports plain 5-field specs).
	if strings.HasPrefix(e, "@") {
		return cron.ParseStandard(e)
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser5.Parse(e)
}

// WaitUntil blocks until the next activation of schedule after now,
// or until ctx is done.
func WaitUntil(ctx context.Context, schedule cron.Schedule, now time.Time) error {
	next := schedule.Next(now)
	if next.IsZero() {
		return errors.New("schedule has no next activation")
	}
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var durationRx = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

var durationUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'h': time.Hour,
	'm': time.Minute,
	's': time.Second,
}

// ParseDuration parses a kill_grace value like 1d2h, 1m30s or 45s. Units must
// go from days to seconds, fractions are not accepted.
func ParseDuration(s string) (time.Duration, error) {
	m := durationRx.FindStringSubmatch(s)
	if s == "" || m == nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	var total time.Duration
	for _, part := range m[1:] {
		if part == "" {
			continue
		}
		unit := durationUnits[part[len(part)-1]]
		n, err := strconv.ParseInt(part[:len(part)-1], 10, 64)
		if err != nil || n > int64(math.MaxInt64/unit) {
			return 0, fmt.Errorf("duration %q out of range", s)
		}
		d := unit * time.Duration(n)
		if total > math.MaxInt64-d {
			return 0, fmt.Errorf("duration %q out of range", s)
		}
		total += d
	}
	return total, nil
}
