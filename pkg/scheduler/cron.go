package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard five-field expressions plus the
// @every/@daily descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextFire computes the first firing of a cron expression after the
// given instant, evaluated in the named IANA timezone (UTC when empty).
func NextFire(expr, timezone string, after time.Time) (time.Time, error) {
	spec, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}

	return spec.Next(after.In(loc)), nil
}

// ValidateCron reports whether expr parses and tz resolves
func ValidateCron(expr, timezone string) error {
	_, err := NextFire(expr, timezone, time.Now())
	return err
}
