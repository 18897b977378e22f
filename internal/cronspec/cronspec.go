// Package cronspec turns a reminder's local time-of-day plus its schedule's
// recurrence into a fire spec: a one-shot delay, a cron expression with a
// timezone, or nothing. It is pure; the queue decides what to do with the
// result.
package cronspec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"wellbeat/internal/model"
)

// Kind tags a FireSpec.
type Kind int

const (
	// None means the reminder cannot be registered (empty day set).
	None Kind = iota
	// OneShot fires once after Delay.
	OneShot
	// Repeating fires on Expr in Loc until removed.
	Repeating
)

// FireSpec is the outcome of building a reminder's trigger.
type FireSpec struct {
	Kind   Kind
	Delay  time.Duration  // OneShot only
	Expr   Expr           // Repeating only
	Loc    *time.Location // Repeating only
	Reason string         // None only
}

// Expr is a structured five-field cron expression. Validation happens on the
// fields; String is the single place text is produced.
type Expr struct {
	Minute      int
	Hour        int
	DaysOfMonth []int           // empty = "*"
	Weekdays    []model.Weekday // empty = "*"
}

func (e Expr) String() string {
	dom := "*"
	if len(e.DaysOfMonth) > 0 {
		parts := make([]string, len(e.DaysOfMonth))
		for i, d := range e.DaysOfMonth {
			parts[i] = strconv.Itoa(d)
		}
		dom = strings.Join(parts, ",")
	}
	dow := "*"
	if len(e.Weekdays) > 0 {
		parts := make([]string, len(e.Weekdays))
		for i, d := range e.Weekdays {
			parts[i] = string(d)
		}
		dow = strings.Join(parts, ",")
	}
	return fmt.Sprintf("%d %d %s * %s", e.Minute, e.Hour, dom, dow)
}

// minOneShotDelay keeps already-due one-time reminders firing almost
// immediately instead of being rejected for a non-positive delay.
const minOneShotDelay = time.Second

// Build computes the fire spec for a reminder on its schedule.
//
// The reminder time's embedded UTC offset is authoritative: local hour and
// minute come from it, and repeat execution runs in the fixed zone it
// describes. The server's zone is never consulted. The schedule's For value
// plays no role here; every target kind routes through the schedule type.
func Build(r model.Reminder, s model.Schedule, now time.Time) (FireSpec, error) {
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(r.At))
	if err != nil {
		return FireSpec{}, model.BadRequestf("reminder time %q: %v", r.At, err)
	}
	loc := offsetZone(at)
	local := at.In(loc)

	switch s.Type {
	case model.OneTime:
		delay := at.Sub(now)
		if delay < minOneShotDelay {
			delay = minOneShotDelay
		}
		return FireSpec{Kind: OneShot, Delay: delay}, nil

	case model.Daily, model.Habit:
		return FireSpec{
			Kind: Repeating,
			Expr: Expr{Minute: local.Minute(), Hour: local.Hour()},
			Loc:  loc,
		}, nil

	case model.Weekly:
		if len(s.ScheduleDays) == 0 {
			return FireSpec{Kind: None, Reason: "weekly schedule has no days"}, nil
		}
		return FireSpec{
			Kind: Repeating,
			Expr: Expr{Minute: local.Minute(), Hour: local.Hour(), Weekdays: s.ScheduleDays},
			Loc:  loc,
		}, nil

	case model.Monthly:
		if len(s.RepeatPerMonth) == 0 {
			return FireSpec{Kind: None, Reason: "monthly schedule has no days"}, nil
		}
		return FireSpec{
			Kind: Repeating,
			Expr: Expr{Minute: local.Minute(), Hour: local.Hour(), DaysOfMonth: s.RepeatPerMonth},
			Loc:  loc,
		}, nil
	}
	return FireSpec{}, model.BadRequestf("unknown schedule type %q", s.Type)
}

// offsetZone returns a fixed location equivalent to the timestamp's UTC
// offset, named like "UTC+02:00". ISO-8601 offsets carry no IANA name, so the
// fixed zone is the faithful repeat-execution zone.
func offsetZone(t time.Time) *time.Location {
	_, off := t.Zone()
	if off == 0 {
		return time.UTC
	}
	sign := "+"
	o := off
	if o < 0 {
		sign = "-"
		o = -o
	}
	name := fmt.Sprintf("UTC%s%02d:%02d", sign, o/3600, (o%3600)/60)
	return time.FixedZone(name, off)
}

// OffsetSeconds extracts the UTC offset of a fire spec's location, used when
// the queue persists repeatable registrations.
func OffsetSeconds(loc *time.Location) int {
	if loc == nil {
		return 0
	}
	_, off := time.Date(2000, 1, 1, 0, 0, 0, 0, loc).Zone()
	return off
}

// ZoneFromOffset rebuilds the fixed location for a persisted offset.
func ZoneFromOffset(seconds int) *time.Location {
	if seconds == 0 {
		return time.UTC
	}
	t := time.Date(2000, 1, 1, 0, 0, 0, 0, time.FixedZone("", seconds))
	return offsetZone(t)
}
