package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"habitd/internal/model"
	"habitd/pkg/logx"
)

// Store is the persistence API consumed by the scheduler and the (external)
// routing layer. Create methods assign ids when the caller left them empty.
type Store interface {
	// Reminders.
	CreateReminder(ctx context.Context, r *model.Reminder) error
	GetReminder(ctx context.Context, id string) (model.Reminder, error)
	UpdateReminder(ctx context.Context, r model.Reminder) error
	DeleteReminder(ctx context.Context, id string) error
	ListActiveReminders(ctx context.Context) ([]model.Reminder, error)
	// SetReminderActive flips is_active and returns the updated row.
	SetReminderActive(ctx context.Context, id string, active bool) (model.Reminder, error)
	// SetReminderLastFired records a delivery attempt (success or failure).
	SetReminderLastFired(ctx context.Context, id string, at time.Time) error

	// Users.
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (model.User, error)

	// Habits.
	CreateHabit(ctx context.Context, h *model.Habit) error
	GetHabit(ctx context.Context, id string) (model.Habit, error)
	ListHabits(ctx context.Context, ownerID string) ([]model.Habit, error)
	DeleteHabit(ctx context.Context, id string) error

	// Goals and entries.
	CreateGoal(ctx context.Context, g *model.Goal) error
	ListGoals(ctx context.Context, habitID string) ([]model.Goal, error)
	CreateEntry(ctx context.Context, e *model.Entry) error
	ListEntries(ctx context.Context, habitID string, since time.Time) ([]model.Entry, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
