package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"habitd/internal/model"
)

// Memory is a mutex-guarded in-process store. It backs the "memory" driver
// and the test suites; values are copied on the way in and out so callers
// can't mutate stored state through aliasing.
type Memory struct {
	mu        sync.RWMutex
	users     map[string]model.User
	habits    map[string]model.Habit
	goals     map[string]model.Goal
	entries   map[string]model.Entry
	reminders map[string]model.Reminder
}

func NewMemory() *Memory {
	return &Memory{
		users:     map[string]model.User{},
		habits:    map[string]model.Habit{},
		goals:     map[string]model.Goal{},
		entries:   map[string]model.Entry{},
		reminders: map[string]model.Reminder{},
	}
}

func (m *Memory) Close() error { return nil }

// ---- Reminders ----

func (m *Memory) CreateReminder(_ context.Context, r *model.Reminder) error {
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Normalize(now)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders[r.ID] = copyReminder(*r)
	return nil
}

func (m *Memory) GetReminder(_ context.Context, id string) (model.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reminders[id]
	if !ok {
		return model.Reminder{}, ErrNotFound
	}
	return copyReminder(r), nil
}

func (m *Memory) UpdateReminder(_ context.Context, r model.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.reminders[r.ID]
	if !ok {
		return ErrNotFound
	}
	r.CreatedAt = prev.CreatedAt
	r.LastFiredAt = prev.LastFiredAt
	r.UpdatedAt = time.Now().UTC()
	r.Normalize(r.UpdatedAt)
	m.reminders[r.ID] = copyReminder(r)
	return nil
}

func (m *Memory) DeleteReminder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reminders[id]; !ok {
		return ErrNotFound
	}
	delete(m.reminders, id)
	return nil
}

func (m *Memory) ListActiveReminders(_ context.Context) ([]model.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Reminder
	for _, r := range m.reminders {
		if r.IsActive {
			out = append(out, copyReminder(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetReminderActive(_ context.Context, id string, active bool) (model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return model.Reminder{}, ErrNotFound
	}
	r.IsActive = active
	r.UpdatedAt = time.Now().UTC()
	m.reminders[id] = r
	return copyReminder(r), nil
}

func (m *Memory) SetReminderLastFired(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	r.LastFiredAt = &t
	r.UpdatedAt = time.Now().UTC()
	m.reminders[id] = r
	return nil
}

// ---- Users ----

func (m *Memory) CreateUser(_ context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

// ---- Habits ----

func (m *Memory) CreateHabit(_ context.Context, h *model.Habit) error {
	now := time.Now().UTC()
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now
	m.mu.Lock()
	defer m.mu.Unlock()
	m.habits[h.ID] = *h
	return nil
}

func (m *Memory) GetHabit(_ context.Context, id string) (model.Habit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.habits[id]
	if !ok {
		return model.Habit{}, ErrNotFound
	}
	return h, nil
}

func (m *Memory) ListHabits(_ context.Context, ownerID string) ([]model.Habit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Habit
	for _, h := range m.habits {
		if h.OwnerID == ownerID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteHabit(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.habits[id]; !ok {
		return ErrNotFound
	}
	delete(m.habits, id)
	return nil
}

// ---- Goals and entries ----

func (m *Memory) CreateGoal(_ context.Context, g *model.Goal) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goals[g.ID] = *g
	return nil
}

func (m *Memory) ListGoals(_ context.Context, habitID string) ([]model.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Goal
	for _, g := range m.goals {
		if g.HabitID == habitID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateEntry(_ context.Context, e *model.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.LoggedAt.IsZero() {
		e.LoggedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = *e
	return nil
}

func (m *Memory) ListEntries(_ context.Context, habitID string, since time.Time) ([]model.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Entry
	for _, e := range m.entries {
		if e.HabitID == habitID && !e.LoggedAt.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoggedAt.Before(out[j].LoggedAt) })
	return out, nil
}

func copyReminder(r model.Reminder) model.Reminder {
	cp := r
	cp.DaysOfWeek = append([]int(nil), r.DaysOfWeek...)
	if r.Window.End != nil {
		e := *r.Window.End
		cp.Window.End = &e
	}
	if r.LastFiredAt != nil {
		t := *r.LastFiredAt
		cp.LastFiredAt = &t
	}
	return cp
}
