// Package transport defines the delivery adapters the notify pipeline routes
// rendered reminders through. Adapters are send-only: this backend never
// receives anything from a delivery channel.
package transport

import (
	"context"
	"time"

	"habitd/internal/model"
)

// Message is a rendered notification, ready for a concrete channel.
type Message struct {
	ReminderID string        `json:"reminder_id"`
	OwnerID    string        `json:"owner_id"`
	HabitID    string        `json:"habit_id,omitempty"`
	Channel    model.Channel `json:"channel"`
	Title      string        `json:"title"`
	Body       string        `json:"body,omitempty"`
	FireAt     time.Time     `json:"fire_at"`
	Test       bool          `json:"test,omitempty"`
}

// Adapter delivers a message over one transport.
//
// Send must return an error rather than panic, and must respect ctx: the
// pipeline applies a bounded per-send timeout so a hung transport cannot
// stall other reminders.
type Adapter interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Render builds the message for a reminder fire.
func Render(r model.Reminder, fireAt time.Time, test bool) Message {
	return Message{
		ReminderID: r.ID,
		OwnerID:    r.OwnerID,
		HabitID:    r.HabitID,
		Channel:    r.Channel,
		Title:      r.Title,
		Body:       r.Message,
		FireAt:     fireAt,
		Test:       test,
	}
}
