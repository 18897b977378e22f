package model

import (
	"time"
)

// ScheduleType is the recurrence kind of a schedule.
type ScheduleType string

const (
	OneTime ScheduleType = "ONE_TIME"
	Daily   ScheduleType = "DAILY"
	Weekly  ScheduleType = "WEEKLY"
	Monthly ScheduleType = "MONTHLY"
	Habit   ScheduleType = "HABIT"
)

func (t ScheduleType) Valid() bool {
	switch t {
	case OneTime, Daily, Weekly, Monthly, Habit:
		return true
	}
	return false
}

// ScheduleFor names the kind of activity a schedule is linked to.
// It only influences reminder dispatch, never recurrence or cron construction.
type ScheduleFor string

const (
	ForToolKit     ScheduleFor = "TOOL_KIT"
	ForCheckIn     ScheduleFor = "CHECK_IN"
	ForUserToolkit ScheduleFor = "USER_TOOLKIT"
	ForAppointment ScheduleFor = "APPOINTMENT"
)

func (f ScheduleFor) Valid() bool {
	switch f {
	case ForToolKit, ForCheckIn, ForUserToolkit, ForAppointment:
		return true
	}
	return false
}

// Weekday is a three-letter uppercase weekday token as used in schedule day
// sets and in the day-of-week field of generated cron expressions.
type Weekday string

const (
	Sunday    Weekday = "SUN"
	Monday    Weekday = "MON"
	Tuesday   Weekday = "TUE"
	Wednesday Weekday = "WED"
	Thursday  Weekday = "THU"
	Friday    Weekday = "FRI"
	Saturday  Weekday = "SAT"
)

var weekdayOf = [7]Weekday{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// WeekdayOf maps a time.Weekday onto its token.
func WeekdayOf(d time.Weekday) Weekday { return weekdayOf[int(d)] }

func (w Weekday) Valid() bool {
	for _, d := range weekdayOf {
		if w == d {
			return true
		}
	}
	return false
}

// Schedule is a recurring or one-time commitment linking a user to an activity.
//
// EndDate is a cutoff, not a hard delete: disabling a schedule writes a future
// EndDate and the schedule keeps producing occurrences strictly before it.
type Schedule struct {
	ID             string
	UserID         string
	For            ScheduleFor
	Type           ScheduleType
	StartDate      time.Time
	EndDate        time.Time // zero = no end
	RepeatPerDay   int
	ScheduleDays   []Weekday // WEEKLY only
	RepeatPerMonth []int     // MONTHLY only, day-of-month values
	Disabled       bool
	RepeatDisabled bool
	EntityID       string // linked toolkit/user-toolkit/appointment/challenge
	CreatedBy      string
	UpdatedBy      string
}

// HasEnd reports whether an end cutoff is set.
func (s Schedule) HasEnd() bool { return !s.EndDate.IsZero() }

// EffectivelyDisabled reports whether the schedule must be treated as disabled
// on the given day, regardless of when the Disabled flag was last written.
//
// A HABIT schedule with an end date expires on its own; any other schedule is
// expired only once it was explicitly disabled and the cutoff has passed.
func (s Schedule) EffectivelyDisabled(today time.Time) bool {
	if !s.HasEnd() {
		return false
	}
	if s.Type != Habit && !s.Disabled {
		return false
	}
	return !Day(today).Before(Day(s.EndDate))
}

// Reminder is a user-configured local time-of-day at which a notification
// should fire for a schedule. At keeps the ISO-8601 text verbatim, including
// its UTC offset; the offset is authoritative for cron construction.
type Reminder struct {
	ID         string
	ScheduleID string
	UserID     string
	At         string
	Disabled   bool
}

// Session records that a schedule's linked activity was completed on a date.
// Sessions are written by the completion flows elsewhere and never mutated here.
type Session struct {
	ID         string
	ScheduleID string
	UserID     string
	Date       time.Time
	CreatedAt  time.Time
}

// HabitDay is one entry of a habit program: the plan for day N of the
// schedule, counting from 1 at StartDate.
type HabitDay struct {
	ID         string
	ScheduleID string
	Day        int
	Tools      []HabitTool
}

// HabitTool is a single toolkit assignment inside a HabitDay.
type HabitTool struct {
	ID        string
	ToolkitID string
	Title     string
}

// HabitDayExclusion hides one habit day-plan from one user's agenda going
// forward.
type HabitDayExclusion struct {
	ScheduleID string
	UserID     string
	HabitDayID string
}

// CheckIn, UserAppointment, UserToolkit and Toolkit are the linked entities a
// reminder resolves at fire time. Only the identity and a display title are
// relevant here; their full shapes live with the CRUD features out of scope.

type CheckIn struct {
	ID     string
	UserID string
	Title  string
}

type UserAppointment struct {
	ID     string
	UserID string
	Title  string
}

type UserToolkit struct {
	ID        string
	UserID    string
	ToolkitID string
	Title     string
}

type Toolkit struct {
	ID    string
	Title string
}

// Day truncates a timestamp to its calendar date, dropping the zone by
// rebuilding the date in UTC. All date arithmetic in this repo goes through
// Day so "same day" never depends on the server zone.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const dayLayout = "2006-01-02"

// DayKey formats a date as YYYY-MM-DD, the key used in agenda maps and in
// session/date columns.
func DayKey(t time.Time) string { return Day(t).Format(dayLayout) }

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// DaysBetween returns the whole-day difference to − from (negative when to
// precedes from).
func DaysBetween(from, to time.Time) int {
	return int(Day(to).Sub(Day(from)) / (24 * time.Hour))
}
