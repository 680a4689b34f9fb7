// Package schedule decides whether a workflow's schedule is due. It is pure:
// no I/O, no stored state. Schedules are either standard 5-field cron
// expressions or interval descriptors of the form "every N minutes|hours",
// evaluated with timezone-aware arithmetic so DST transitions neither skip
// nor duplicate fires.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidSchedule = errors.New("invalid schedule expression")

var intervalPattern = regexp.MustCompile(`^every\s+(\d+)\s+(minute|minutes|hour|hours)$`)

// intervalSchedule fires a fixed duration after the previous fire.
type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.every)
}

// Parse resolves a schedule expression and timezone into a cron.Schedule
// and the location it evaluates in. An empty timezone defaults to UTC.
func Parse(spec, timezone string) (cron.Schedule, *time.Location, error) {
	if timezone == "" {
		timezone = "UTC"
	}

	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: unknown timezone %q: %w", ErrInvalidSchedule, timezone, err)
	}

	if matches := intervalPattern.FindStringSubmatch(spec); matches != nil {
		n, err := strconv.Atoi(matches[1])
		if err != nil || n < 1 {
			return nil, nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, spec)
		}

		unit := time.Minute
		if matches[2] == "hour" || matches[2] == "hours" {
			unit = time.Hour
		}

		return intervalSchedule{every: time.Duration(n) * unit}, location, nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	parsed, err := parser.Parse(spec)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, spec, err)
	}

	return parsed, location, nil
}

// Validate reports whether spec and timezone form a usable schedule.
func Validate(spec, timezone string) error {
	_, _, err := Parse(spec, timezone)

	return err
}

// ShouldTrigger reports whether a scheduled fire point exists strictly after
// lastExecution and at or before now. A nil lastExecution means the workflow
// has never run, which is always due. A malformed schedule or unknown
// timezone never triggers. Calling repeatedly without updating lastExecution
// is safe: the answer only flips once the next fire point passes.
func ShouldTrigger(spec, timezone string, lastExecution *time.Time) bool {
	_, due := DueFireAt(spec, timezone, lastExecution, time.Now())

	return due
}

// DueFireAt is ShouldTrigger with an injectable clock. When due, it also
// returns the fire point being claimed: the earliest fire strictly after
// lastExecution, or now truncated to the minute for a first run. The fire
// point identifies the schedule slot in the processing-record ledger.
func DueFireAt(spec, timezone string, lastExecution *time.Time, now time.Time) (time.Time, bool) {
	parsed, location, err := Parse(spec, timezone)
	if err != nil {
		return time.Time{}, false
	}

	now = now.In(location)

	if lastExecution == nil {
		return now.Truncate(time.Minute), true
	}

	next := parsed.Next(lastExecution.In(location))
	if next.IsZero() || next.After(now) {
		return time.Time{}, false
	}

	return next, true
}
