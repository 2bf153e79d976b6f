// Package notify delivers rendered reminders through channel transports.
//
// The service wraps raw adapters with the delivery policy: channel routing,
// token-bucket rate limiting, bounded per-send timeout, retry with jittered
// backoff, and a dedup window so a reschedule race cannot double-deliver the
// same fire. Outcomes are returned, never thrown: a failed delivery is data
// for the caller, not a panic.
package notify

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"habitd/internal/model"
)

var (
	ErrNoTransport = errors.New("no transport for channel")
	ErrDuplicate   = errors.New("duplicate delivery suppressed")
)

// Config controls the delivery policy.
type Config struct {
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	return c
}

func (c Config) newLimiter() *rate.Limiter {
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	return rate.NewLimiter(rate.Limit(c.RatePerSec), c.RatePerSec)
}

// SendOptions qualifies a single delivery.
type SendOptions struct {
	// FireAt is the scheduled instant this delivery corresponds to.
	// It keys the dedup window together with the reminder id.
	FireAt time.Time
	// Test marks an operator-triggered test send; it bypasses dedup.
	Test bool
}

// Outcome reports a completed delivery attempt sequence.
type Outcome struct {
	Delivered bool
	Attempts  int
	Took      time.Duration
	Err       error
}

// Sender is the capability the scheduler consumes.
type Sender interface {
	Send(ctx context.Context, r model.Reminder, opts SendOptions) Outcome
}

// HistoryItem is a compact record kept for status reporting.
type HistoryItem struct {
	ReminderID string
	Channel    model.Channel
	At         time.Time
	Delivered  bool
	Attempts   int
	Error      string
}
