package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"habitd/internal/model"
	"habitd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
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

// ---- Reminders ----

const reminderCols = `id, owner_id, habit_id, title, message, channel, frequency,
	days_of_week, hour, minute, window_start, window_end, timezone,
	is_active, last_fired_at, created_at, updated_at`

func (s *sqliteStore) CreateReminder(ctx context.Context, r *model.Reminder) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Normalize(now)

	days, err := marshalDays(r.DaysOfWeek)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminders(`+reminderCols+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.OwnerID, nullStr(r.HabitID), r.Title, nullStr(r.Message),
		string(r.Channel), string(r.Frequency), days,
		r.TimeOfDay.Hour, r.TimeOfDay.Minute,
		r.Window.Start.UTC().Format(timeLayout), nullTime(r.Window.End), r.Timezone,
		boolInt(r.IsActive), nullTime(r.LastFiredAt),
		r.CreatedAt.Format(timeLayout), r.UpdatedAt.Format(timeLayout),
	)
	return err
}

func (s *sqliteStore) GetReminder(ctx context.Context, id string) (model.Reminder, error) {
	if s == nil || s.db == nil {
		return model.Reminder{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id)
	return scanReminder(row)
}

func (s *sqliteStore) UpdateReminder(ctx context.Context, r model.Reminder) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	r.Normalize(time.Now().UTC())
	days, err := marshalDays(r.DaysOfWeek)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET habit_id=?, title=?, message=?, channel=?, frequency=?,
		 days_of_week=?, hour=?, minute=?, window_start=?, window_end=?, timezone=?,
		 is_active=?, updated_at=? WHERE id = ?`,
		nullStr(r.HabitID), r.Title, nullStr(r.Message), string(r.Channel), string(r.Frequency),
		days, r.TimeOfDay.Hour, r.TimeOfDay.Minute,
		r.Window.Start.UTC().Format(timeLayout), nullTime(r.Window.End), r.Timezone,
		boolInt(r.IsActive), time.Now().UTC().Format(timeLayout), r.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) ListActiveReminders(ctx context.Context) ([]model.Reminder, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE is_active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetReminderActive(ctx context.Context, id string, active bool) (model.Reminder, error) {
	if s == nil || s.db == nil {
		return model.Reminder{}, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET is_active=?, updated_at=? WHERE id = ?`,
		boolInt(active), time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return model.Reminder{}, err
	}
	if err := requireRow(res); err != nil {
		return model.Reminder{}, err
	}
	return s.GetReminder(ctx, id)
}

func (s *sqliteStore) SetReminderLastFired(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET last_fired_at=?, updated_at=? WHERE id = ?`,
		at.UTC().Format(timeLayout), time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface{ Scan(dest ...any) error }

func scanReminder(row rowScanner) (model.Reminder, error) {
	var (
		r         model.Reminder
		habitID   sql.NullString
		message   sql.NullString
		channel   string
		frequency string
		days      sql.NullString
		winStart  string
		winEnd    sql.NullString
		active    int
		lastFired sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(&r.ID, &r.OwnerID, &habitID, &r.Title, &message, &channel, &frequency,
		&days, &r.TimeOfDay.Hour, &r.TimeOfDay.Minute, &winStart, &winEnd, &r.Timezone,
		&active, &lastFired, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reminder{}, ErrNotFound
	}
	if err != nil {
		return model.Reminder{}, err
	}

	r.HabitID = habitID.String
	r.Message = message.String
	r.Channel = model.Channel(channel)
	r.Frequency = model.Frequency(frequency)
	r.IsActive = active != 0
	if days.Valid && days.String != "" {
		if err := json.Unmarshal([]byte(days.String), &r.DaysOfWeek); err != nil {
			return model.Reminder{}, fmt.Errorf("reminder %s: bad days_of_week: %w", r.ID, err)
		}
	}
	if r.Window.Start, err = time.Parse(timeLayout, winStart); err != nil {
		return model.Reminder{}, fmt.Errorf("reminder %s: bad window_start: %w", r.ID, err)
	}
	if winEnd.Valid {
		t, err := time.Parse(timeLayout, winEnd.String)
		if err != nil {
			return model.Reminder{}, fmt.Errorf("reminder %s: bad window_end: %w", r.ID, err)
		}
		r.Window.End = &t
	}
	if lastFired.Valid {
		t, err := time.Parse(timeLayout, lastFired.String)
		if err != nil {
			return model.Reminder{}, fmt.Errorf("reminder %s: bad last_fired_at: %w", r.ID, err)
		}
		r.LastFiredAt = &t
	}
	if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return model.Reminder{}, err
	}
	if r.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return model.Reminder{}, err
	}
	return r, nil
}

// ---- Users ----

func (s *sqliteStore) CreateUser(ctx context.Context, u *model.User) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, email, name, timezone, created_at) VALUES(?,?,?,?,?)`,
		u.ID, u.Email, nullStr(u.Name), nullStr(u.Timezone), u.CreatedAt.Format(timeLayout),
	)
	return err
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (model.User, error) {
	if s == nil || s.db == nil {
		return model.User{}, ErrDisabled
	}
	var (
		u       model.User
		name    sql.NullString
		tz      sql.NullString
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, timezone, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &name, &tz, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	u.Name = name.String
	u.Timezone = tz.String
	u.CreatedAt, err = time.Parse(timeLayout, created)
	return u, err
}

// ---- Habits ----

func (s *sqliteStore) CreateHabit(ctx context.Context, h *model.Habit) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	now := time.Now().UTC()
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO habits(id, owner_id, name, description, archived, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?)`,
		h.ID, h.OwnerID, h.Name, nullStr(h.Description), boolInt(h.Archived),
		h.CreatedAt.Format(timeLayout), h.UpdatedAt.Format(timeLayout),
	)
	return err
}

func (s *sqliteStore) GetHabit(ctx context.Context, id string) (model.Habit, error) {
	if s == nil || s.db == nil {
		return model.Habit{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, description, archived, created_at, updated_at
		 FROM habits WHERE id = ?`, id)
	return scanHabit(row)
}

func (s *sqliteStore) ListHabits(ctx context.Context, ownerID string) ([]model.Habit, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, description, archived, created_at, updated_at
		 FROM habits WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Habit
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteHabit(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM habits WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanHabit(row rowScanner) (model.Habit, error) {
	var (
		h        model.Habit
		desc     sql.NullString
		archived int
		created  string
		updated  string
	)
	err := row.Scan(&h.ID, &h.OwnerID, &h.Name, &desc, &archived, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Habit{}, ErrNotFound
	}
	if err != nil {
		return model.Habit{}, err
	}
	h.Description = desc.String
	h.Archived = archived != 0
	if h.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return model.Habit{}, err
	}
	h.UpdatedAt, err = time.Parse(timeLayout, updated)
	return h, err
}

// ---- Goals and entries ----

func (s *sqliteStore) CreateGoal(ctx context.Context, g *model.Goal) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO goals(id, habit_id, owner_id, target, period, created_at) VALUES(?,?,?,?,?,?)`,
		g.ID, g.HabitID, g.OwnerID, g.Target, g.Period, g.CreatedAt.Format(timeLayout),
	)
	return err
}

func (s *sqliteStore) ListGoals(ctx context.Context, habitID string) ([]model.Goal, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, habit_id, owner_id, target, period, created_at
		 FROM goals WHERE habit_id = ? ORDER BY created_at`, habitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Goal
	for rows.Next() {
		var g model.Goal
		var created string
		if err := rows.Scan(&g.ID, &g.HabitID, &g.OwnerID, &g.Target, &g.Period, &created); err != nil {
			return nil, err
		}
		if g.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateEntry(ctx context.Context, e *model.Entry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.LoggedAt.IsZero() {
		e.LoggedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries(id, habit_id, owner_id, note, logged_at) VALUES(?,?,?,?,?)`,
		e.ID, e.HabitID, e.OwnerID, nullStr(e.Note), e.LoggedAt.UTC().Format(timeLayout),
	)
	return err
}

func (s *sqliteStore) ListEntries(ctx context.Context, habitID string, since time.Time) ([]model.Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, habit_id, owner_id, note, logged_at
		 FROM entries WHERE habit_id = ? AND logged_at >= ? ORDER BY logged_at`,
		habitID, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Entry
	for rows.Next() {
		var e model.Entry
		var note sql.NullString
		var logged string
		if err := rows.Scan(&e.ID, &e.HabitID, &e.OwnerID, &note, &logged); err != nil {
			return nil, err
		}
		e.Note = note.String
		if e.LoggedAt, err = time.Parse(timeLayout, logged); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- helpers ----

func marshalDays(days []int) (any, error) {
	if len(days) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(days)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}
