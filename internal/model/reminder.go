package model

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Channel is the delivery channel a reminder is sent through.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in-app"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp:
		return true
	}
	return false
}

// Frequency describes how a reminder recurs.
type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	// FrequencyCustom currently resolves like weekly (same days_of_week set).
	// It is a distinct value so a divergent rule stays a local change.
	FrequencyCustom Frequency = "custom"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustom:
		return true
	}
	return false
}

// TimeOfDay is a wall-clock time interpreted in the reminder's timezone.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// ActiveWindow bounds the instants during which a reminder may fire.
// End == nil means open-ended.
type ActiveWindow struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

const titleMaxLen = 120

var (
	ErrTitleRequired  = errors.New("title is required")
	ErrTitleTooLong   = fmt.Errorf("title exceeds %d characters", titleMaxLen)
	ErrOwnerRequired  = errors.New("owner id is required")
	ErrBadChannel     = errors.New("unknown channel")
	ErrBadFrequency   = errors.New("unknown frequency")
	ErrBadTimeOfDay   = errors.New("time of day out of range")
	ErrBadDayOfWeek   = errors.New("days_of_week values must be distinct and within 0..6")
	ErrWindowInverted = errors.New("active window end must be after start")
	ErrBadTimezone    = errors.New("unknown timezone")
)

// Reminder is the scheduling unit. It is owned by its creator and may carry a
// weak reference to a habit (no ownership: the habit may be deleted underneath).
type Reminder struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	HabitID string `json:"habit_id,omitempty"`

	Title   string  `json:"title"`
	Message string  `json:"message,omitempty"`
	Channel Channel `json:"channel"`

	Frequency  Frequency    `json:"frequency"`
	DaysOfWeek []int        `json:"days_of_week,omitempty"` // 0=Sunday .. 6=Saturday
	TimeOfDay  TimeOfDay    `json:"time_of_day"`
	Window     ActiveWindow `json:"active_window"`
	Timezone   string       `json:"timezone"` // IANA zone; empty means UTC

	IsActive    bool       `json:"is_active"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the boundary invariants. It does not mutate the reminder;
// call Normalize first for persist-time defaults.
func (r *Reminder) Validate() error {
	if r.OwnerID == "" {
		return ErrOwnerRequired
	}
	if r.Title == "" {
		return ErrTitleRequired
	}
	if utf8.RuneCountInString(r.Title) > titleMaxLen {
		return ErrTitleTooLong
	}
	if !r.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrBadChannel, r.Channel)
	}
	if !r.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrBadFrequency, r.Frequency)
	}
	if !r.TimeOfDay.Valid() {
		return fmt.Errorf("%w: %s", ErrBadTimeOfDay, r.TimeOfDay)
	}
	seen := map[int]bool{}
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 || seen[d] {
			return fmt.Errorf("%w: %d", ErrBadDayOfWeek, d)
		}
		seen[d] = true
	}
	if r.Window.End != nil && !r.Window.End.After(r.Window.Start) {
		return ErrWindowInverted
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return fmt.Errorf("%w: %q", ErrBadTimezone, r.Timezone)
		}
	}
	return nil
}

// Normalize applies persist-time defaults: a weekly reminder with an empty day
// set means all seven days, an empty timezone means UTC, and a zero window
// start defaults to now (creation time).
func (r *Reminder) Normalize(now time.Time) {
	if (r.Frequency == FrequencyWeekly || r.Frequency == FrequencyCustom) && len(r.DaysOfWeek) == 0 {
		r.DaysOfWeek = []int{0, 1, 2, 3, 4, 5, 6}
	}
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	if r.Window.Start.IsZero() {
		r.Window.Start = now
	}
}

// Location resolves the reminder's timezone. Empty or unknown zones
// resolve to UTC.
func (r *Reminder) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FiresOnWeekday reports whether the day-of-week set allows the given weekday.
// An empty set never blocks.
func (r *Reminder) FiresOnWeekday(wd time.Weekday) bool {
	if len(r.DaysOfWeek) == 0 {
		return true
	}
	for _, d := range r.DaysOfWeek {
		if d == int(wd) {
			return true
		}
	}
	return false
}
