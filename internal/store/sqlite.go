package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"wellbeat/internal/model"
	"wellbeat/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- schedules ----

const scheduleCols = `id, user_id, for_kind, stype, start_date, end_date, repeat_per_day,
	schedule_days, repeat_per_month, disabled, repeat_disabled, entity_id, created_by, updated_by`

func (s *sqliteStore) Schedule(ctx context.Context, id string) (model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, model.NotFoundf("schedule %s", id)
	}
	return sc, err
}

func (s *sqliteStore) ActiveSchedule(ctx context.Context, id string) (model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE id = ? AND disabled = 0`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, model.NotFoundf("active schedule %s", id)
	}
	return sc, err
}

func (s *sqliteStore) PutSchedule(ctx context.Context, sc model.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules(`+scheduleCols+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			user_id=excluded.user_id, for_kind=excluded.for_kind, stype=excluded.stype,
			start_date=excluded.start_date, end_date=excluded.end_date,
			repeat_per_day=excluded.repeat_per_day, schedule_days=excluded.schedule_days,
			repeat_per_month=excluded.repeat_per_month, disabled=excluded.disabled,
			repeat_disabled=excluded.repeat_disabled, entity_id=excluded.entity_id,
			updated_by=excluded.updated_by`,
		sc.ID, sc.UserID, string(sc.For), string(sc.Type),
		model.DayKey(sc.StartDate), nullDay(sc.EndDate), sc.RepeatPerDay,
		nullStr(joinWeekdays(sc.ScheduleDays)), nullStr(joinInts(sc.RepeatPerMonth)),
		boolInt(sc.Disabled), boolInt(sc.RepeatDisabled),
		nullStr(sc.EntityID), nullStr(sc.CreatedBy), nullStr(sc.UpdatedBy),
	)
	return err
}

func (s *sqliteStore) DisableSchedule(ctx context.Context, id string, cutoff time.Time, updatedBy string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET disabled = 1, end_date = ?, updated_by = ? WHERE id = ?`,
		model.DayKey(cutoff), nullStr(updatedBy), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFoundf("schedule %s", id)
	}
	return nil
}

func (s *sqliteStore) SchedulesWithSessions(ctx context.Context, userID string, from, to time.Time, filters []model.ScheduleFor) ([]model.ScheduleBundle, error) {
	q := `SELECT ` + scheduleCols + ` FROM schedules
		WHERE user_id = ? AND stype != ? AND start_date <= ?
		  AND (end_date IS NULL OR end_date >= ?)`
	args := []any{userID, string(model.Habit), model.DayKey(to), model.DayKey(from)}
	if len(filters) > 0 {
		marks := make([]string, len(filters))
		for i, f := range filters {
			marks[i] = "?"
			args = append(args, string(f))
		}
		q += ` AND for_kind IN (` + strings.Join(marks, ",") + `)`
	}
	q += ` ORDER BY start_date, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScheduleBundle
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		b, err := s.bundleFor(ctx, sc, from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *sqliteStore) HabitSchedulesWithSessions(ctx context.Context, userID string, from, to time.Time) ([]model.HabitBundle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleCols+` FROM schedules
		WHERE user_id = ? AND stype = ? AND start_date <= ?
		  AND (end_date IS NULL OR end_date >= ?)
		ORDER BY start_date, id`,
		userID, string(model.Habit), model.DayKey(to), model.DayKey(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HabitBundle
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		b, err := s.bundleFor(ctx, sc, from, to)
		if err != nil {
			return nil, err
		}
		hb := model.HabitBundle{ScheduleBundle: b}
		if hb.Days, err = s.habitDays(ctx, sc.ID); err != nil {
			return nil, err
		}
		if hb.Exclusions, err = s.habitExclusions(ctx, sc.ID, userID); err != nil {
			return nil, err
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

func (s *sqliteStore) bundleFor(ctx context.Context, sc model.Schedule, from, to time.Time) (model.ScheduleBundle, error) {
	b := model.ScheduleBundle{Schedule: sc}
	var err error
	if b.Reminders, err = s.RemindersBySchedule(ctx, sc.ID); err != nil {
		return b, err
	}
	// Session windows can reach outside the queried range (ISO week, calendar
	// month), so fetch with a widened window.
	wfrom := model.Day(from).AddDate(0, -1, 0)
	wto := model.Day(to).AddDate(0, 1, 0)
	if b.Sessions, err = s.SessionsBySchedule(ctx, sc.ID, wfrom, wto); err != nil {
		return b, err
	}
	return b, nil
}

// ---- reminders ----

func (s *sqliteStore) Reminder(ctx context.Context, id string) (model.Reminder, error) {
	var r model.Reminder
	var dis int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, schedule_id, user_id, at_time, disabled FROM reminders WHERE id = ?`, id,
	).Scan(&r.ID, &r.ScheduleID, &r.UserID, &r.At, &dis)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reminder{}, model.NotFoundf("reminder %s", id)
	}
	r.Disabled = dis != 0
	return r, err
}

func (s *sqliteStore) RemindersBySchedule(ctx context.Context, scheduleID string) ([]model.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schedule_id, user_id, at_time, disabled FROM reminders WHERE schedule_id = ? ORDER BY at_time, id`,
		scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reminder
	for rows.Next() {
		var r model.Reminder
		var dis int
		if err := rows.Scan(&r.ID, &r.ScheduleID, &r.UserID, &r.At, &dis); err != nil {
			return nil, err
		}
		r.Disabled = dis != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutReminder(ctx context.Context, r model.Reminder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders(id, schedule_id, user_id, at_time, disabled) VALUES(?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			schedule_id=excluded.schedule_id, user_id=excluded.user_id,
			at_time=excluded.at_time, disabled=excluded.disabled`,
		r.ID, r.ScheduleID, r.UserID, r.At, boolInt(r.Disabled))
	return err
}

func (s *sqliteStore) DeleteRemindersBySchedule(ctx context.Context, scheduleID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE schedule_id = ?`, scheduleID)
	return err
}

// ---- sessions ----

func (s *sqliteStore) PutSession(ctx context.Context, sess model.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, schedule_id, user_id, day, created_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.ScheduleID, sess.UserID, model.DayKey(sess.Date),
		sess.CreatedAt.Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) SessionsBySchedule(ctx context.Context, scheduleID string, from, to time.Time) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schedule_id, user_id, day, created_at FROM sessions
		 WHERE schedule_id = ? AND day >= ? AND day <= ? ORDER BY day, id`,
		scheduleID, model.DayKey(from), model.DayKey(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var sess model.Session
		var day, created string
		if err := rows.Scan(&sess.ID, &sess.ScheduleID, &sess.UserID, &day, &created); err != nil {
			return nil, err
		}
		if sess.Date, err = model.ParseDay(day); err != nil {
			return nil, err
		}
		sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ---- habit programs ----

func (s *sqliteStore) PutHabitDay(ctx context.Context, d model.HabitDay) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO habit_days(id, schedule_id, day) VALUES(?,?,?)
		ON CONFLICT(id) DO UPDATE SET schedule_id=excluded.schedule_id, day=excluded.day`,
		d.ID, d.ScheduleID, d.Day); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM habit_tools WHERE habit_day_id = ?`, d.ID); err != nil {
		return err
	}
	for _, tool := range d.Tools {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO habit_tools(id, habit_day_id, toolkit_id, title) VALUES(?,?,?,?)`,
			tool.ID, d.ID, tool.ToolkitID, nullStr(tool.Title)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) ExcludeHabitDay(ctx context.Context, ex model.HabitDayExclusion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO habit_exclusions(schedule_id, user_id, habit_day_id) VALUES(?,?,?)
		ON CONFLICT DO NOTHING`,
		ex.ScheduleID, ex.UserID, ex.HabitDayID)
	return err
}

func (s *sqliteStore) habitDays(ctx context.Context, scheduleID string) ([]model.HabitDay, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schedule_id, day FROM habit_days WHERE schedule_id = ? ORDER BY day`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HabitDay
	for rows.Next() {
		var d model.HabitDay
		if err := rows.Scan(&d.ID, &d.ScheduleID, &d.Day); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		trows, err := s.db.QueryContext(ctx,
			`SELECT id, toolkit_id, COALESCE(title, '') FROM habit_tools WHERE habit_day_id = ? ORDER BY id`,
			out[i].ID)
		if err != nil {
			return nil, err
		}
		for trows.Next() {
			var t model.HabitTool
			if err := trows.Scan(&t.ID, &t.ToolkitID, &t.Title); err != nil {
				trows.Close()
				return nil, err
			}
			out[i].Tools = append(out[i].Tools, t)
		}
		if err := trows.Err(); err != nil {
			trows.Close()
			return nil, err
		}
		trows.Close()
	}
	return out, nil
}

func (s *sqliteStore) habitExclusions(ctx context.Context, scheduleID, userID string) ([]model.HabitDayExclusion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT schedule_id, user_id, habit_day_id FROM habit_exclusions WHERE schedule_id = ? AND user_id = ?`,
		scheduleID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HabitDayExclusion
	for rows.Next() {
		var ex model.HabitDayExclusion
		if err := rows.Scan(&ex.ScheduleID, &ex.UserID, &ex.HabitDayID); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// ---- linked entities ----

func (s *sqliteStore) CheckInBySchedule(ctx context.Context, scheduleID, userID string) (model.CheckIn, error) {
	var c model.CheckIn
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, COALESCE(title, '') FROM checkins WHERE schedule_id = ? AND user_id = ?`,
		scheduleID, userID).Scan(&c.ID, &c.UserID, &c.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CheckIn{}, model.NotFoundf("check-in for schedule %s", scheduleID)
	}
	return c, err
}

func (s *sqliteStore) UserAppointmentBySchedule(ctx context.Context, scheduleID, userID string) (model.UserAppointment, error) {
	var a model.UserAppointment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, COALESCE(title, '') FROM appointments WHERE schedule_id = ? AND user_id = ?`,
		scheduleID, userID).Scan(&a.ID, &a.UserID, &a.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserAppointment{}, model.NotFoundf("appointment for schedule %s", scheduleID)
	}
	return a, err
}

func (s *sqliteStore) UserToolkitBySchedule(ctx context.Context, scheduleID, userID string) (model.UserToolkit, error) {
	var u model.UserToolkit
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, COALESCE(toolkit_id, ''), COALESCE(title, '') FROM user_toolkits WHERE schedule_id = ? AND user_id = ?`,
		scheduleID, userID).Scan(&u.ID, &u.UserID, &u.ToolkitID, &u.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserToolkit{}, model.NotFoundf("user toolkit for schedule %s", scheduleID)
	}
	return u, err
}

func (s *sqliteStore) ToolkitBySchedule(ctx context.Context, scheduleID, userID string) (model.Toolkit, error) {
	var t model.Toolkit
	err := s.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(title, '') FROM toolkits WHERE schedule_id = ?`,
		scheduleID).Scan(&t.ID, &t.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Toolkit{}, model.NotFoundf("toolkit for schedule %s", scheduleID)
	}
	return t, err
}

func (s *sqliteStore) PutCheckIn(ctx context.Context, scheduleID string, c model.CheckIn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkins(id, schedule_id, user_id, title) VALUES(?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET schedule_id=excluded.schedule_id, user_id=excluded.user_id, title=excluded.title`,
		c.ID, scheduleID, c.UserID, nullStr(c.Title))
	return err
}

func (s *sqliteStore) PutUserAppointment(ctx context.Context, scheduleID string, a model.UserAppointment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO appointments(id, schedule_id, user_id, title) VALUES(?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET schedule_id=excluded.schedule_id, user_id=excluded.user_id, title=excluded.title`,
		a.ID, scheduleID, a.UserID, nullStr(a.Title))
	return err
}

func (s *sqliteStore) PutUserToolkit(ctx context.Context, scheduleID string, u model.UserToolkit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_toolkits(id, schedule_id, user_id, toolkit_id, title) VALUES(?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET schedule_id=excluded.schedule_id, user_id=excluded.user_id,
			toolkit_id=excluded.toolkit_id, title=excluded.title`,
		u.ID, scheduleID, u.UserID, nullStr(u.ToolkitID), nullStr(u.Title))
	return err
}

func (s *sqliteStore) PutToolkit(ctx context.Context, scheduleID string, t model.Toolkit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO toolkits(id, schedule_id, title) VALUES(?,?,?)
		ON CONFLICT(id) DO UPDATE SET schedule_id=excluded.schedule_id, title=excluded.title`,
		t.ID, scheduleID, nullStr(t.Title))
	return err
}

// ---- job registry ----

func (s *sqliteStore) PutJob(ctx context.Context, j JobRecord) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	var runAt any
	if !j.RunAt.IsZero() {
		runAt = j.RunAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs(id, kind, repeat, expr, tz_offset, run_at, payload, created_at)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind, repeat=excluded.repeat, expr=excluded.expr,
			tz_offset=excluded.tz_offset, run_at=excluded.run_at, payload=excluded.payload`,
		j.ID, j.Kind, boolInt(j.Repeat), nullStr(j.Expr), j.TZOffset, runAt,
		nullStr(j.Payload), j.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListJobs(ctx context.Context) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, repeat, COALESCE(expr, ''), tz_offset, COALESCE(run_at, ''), COALESCE(payload, ''), created_at
		 FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var j JobRecord
		var rep int
		var runAt, created string
		if err := rows.Scan(&j.ID, &j.Kind, &rep, &j.Expr, &j.TZOffset, &runAt, &j.Payload, &created); err != nil {
			return nil, err
		}
		j.Repeat = rep != 0
		if runAt != "" {
			j.RunAt, _ = time.Parse(time.RFC3339Nano, runAt)
		}
		j.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, j)
	}
	return out, rows.Err()
}

// ---- scan & encode helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (model.Schedule, error) {
	var sc model.Schedule
	var forKind, stype, start string
	var end, days, months, entity, createdBy, updatedBy sql.NullString
	var dis, repDis int
	err := row.Scan(&sc.ID, &sc.UserID, &forKind, &stype, &start, &end, &sc.RepeatPerDay,
		&days, &months, &dis, &repDis, &entity, &createdBy, &updatedBy)
	if err != nil {
		return model.Schedule{}, err
	}
	sc.For = model.ScheduleFor(forKind)
	sc.Type = model.ScheduleType(stype)
	if sc.StartDate, err = model.ParseDay(start); err != nil {
		return model.Schedule{}, err
	}
	if end.Valid && end.String != "" {
		if sc.EndDate, err = model.ParseDay(end.String); err != nil {
			return model.Schedule{}, err
		}
	}
	sc.ScheduleDays = splitWeekdays(days.String)
	if sc.RepeatPerMonth, err = splitInts(months.String); err != nil {
		return model.Schedule{}, err
	}
	sc.Disabled = dis != 0
	sc.RepeatDisabled = repDis != 0
	sc.EntityID = entity.String
	sc.CreatedBy = createdBy.String
	sc.UpdatedBy = updatedBy.String
	return sc, nil
}

func joinWeekdays(days []model.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}

func splitWeekdays(s string) []model.Weekday {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]model.Weekday, 0, len(parts))
	for _, p := range parts {
		out = append(out, model.Weekday(strings.TrimSpace(p)))
	}
	return out
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func splitInts(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullDay(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return model.DayKey(t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
