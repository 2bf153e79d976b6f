package model

import "time"

// User is the owner of habits, goals, entries and reminders.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Habit is a recurring behavior a user tracks.
type Habit struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Goal is a target attached to a habit (e.g. "5 completions per week").
type Goal struct {
	ID        string    `json:"id"`
	HabitID   string    `json:"habit_id"`
	OwnerID   string    `json:"owner_id"`
	Target    int       `json:"target"`
	Period    string    `json:"period"` // "day", "week", "month"
	CreatedAt time.Time `json:"created_at"`
}

// Entry is a single logged completion of a habit.
type Entry struct {
	ID       string    `json:"id"`
	HabitID  string    `json:"habit_id"`
	OwnerID  string    `json:"owner_id"`
	Note     string    `json:"note,omitempty"`
	LoggedAt time.Time `json:"logged_at"`
}
