package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"habitd/internal/eventbus"
	"habitd/internal/model"
	"habitd/internal/notify"
	"habitd/internal/storage"
	"habitd/pkg/logx"
)

// Reconcile makes the timer state match the reminder: exactly one armed
// timer when a next fire time exists, none otherwise. It is idempotent and
// safe to re-run at any time; re-running with an unchanged reminder re-arms
// the same instant.
func (s *Service) Reconcile(r model.Reminder) {
	at, ok := s.nextFn(r, s.nowFn())
	if !ok {
		if s.reg.Cancel(r.ID) {
			s.publish(eventbus.TypeReminderUnscheduled, r, time.Time{}, nil)
			s.log.Debug("reminder unscheduled", logx.String("reminder_id", r.ID))
		}
		return
	}

	id := r.ID
	fireAt := at
	s.reg.Install(id, fireAt, func() {
		s.enqueue(task{
			name: "fire:" + id,
			run: func(ctx context.Context) error {
				return s.fire(ctx, id, fireAt)
			},
		})
	})
	s.publish(eventbus.TypeReminderScheduled, r, fireAt, nil)
	s.log.Debug("reminder scheduled",
		logx.String("reminder_id", id),
		logx.Time("fire_at", fireAt),
	)
}

// fire runs the delivery pipeline for one armed instant. By the time it runs
// the registry entry is already gone, so it ends by reconciling the reminder
// to arm the next occurrence.
func (s *Service) fire(ctx context.Context, id string, fireAt time.Time) error {
	r, err := s.store.GetReminder(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted between arming and firing.
		return nil
	}
	if err != nil {
		// Storage hiccup: leave it to the next resweep rather than guessing.
		return fmt.Errorf("load reminder: %w", err)
	}
	if !r.IsActive {
		return nil
	}

	out := s.sender.Send(ctx, r, notify.SendOptions{FireAt: fireAt})
	switch {
	case out.Err != nil && !errors.Is(out.Err, notify.ErrDuplicate):
		s.publish(eventbus.TypeReminderFailed, r, fireAt, out.Err)
	case out.Delivered:
		s.publish(eventbus.TypeReminderFired, r, fireAt, nil)
	}

	// Record the attempt whether or not delivery worked, so the recurrence
	// advances: a dead channel must not make the same instant fire in a loop.
	if err := s.store.SetReminderLastFired(ctx, id, fireAt); err != nil {
		s.log.Warn("persist last_fired_at failed",
			logx.String("reminder_id", id), logx.Err(err))
	}

	fresh, err := s.store.GetReminder(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Deleted while the send was in flight; do not re-arm.
		return nil
	case err == nil:
		r = fresh
	}
	if r.LastFiredAt == nil || r.LastFiredAt.Before(fireAt) {
		r.LastFiredAt = &fireAt
	}
	s.Reconcile(r)

	if out.Err != nil && !errors.Is(out.Err, notify.ErrDuplicate) {
		return out.Err
	}
	return nil
}

// OnReminderCreated arms the timer for a freshly persisted reminder.
func (s *Service) OnReminderCreated(r model.Reminder) { s.Reconcile(r) }

// OnReminderUpdated re-derives the timer after any field change. The old
// timer (if any) is replaced atomically by the registry.
func (s *Service) OnReminderUpdated(r model.Reminder) { s.Reconcile(r) }

// OnReminderToggled applies an activation flip. Deactivation disarms the
// timer before returning; reactivation arms the next occurrence.
func (s *Service) OnReminderToggled(r model.Reminder) { s.Reconcile(r) }

// OnReminderDeleted disarms the timer before returning, so a delete
// observed by the caller can never be followed by a fire.
func (s *Service) OnReminderDeleted(id string) {
	if s.reg.Cancel(id) {
		s.publish(eventbus.TypeReminderUnscheduled, model.Reminder{ID: id}, time.Time{}, nil)
		s.log.Debug("reminder unscheduled", logx.String("reminder_id", id))
	}
}

// IsScheduled reports whether the reminder currently has an armed timer.
func (s *Service) IsScheduled(id string) bool { return s.reg.Has(id) }

// NextFireAt returns the armed fire instant, if any.
func (s *Service) NextFireAt(id string) (time.Time, bool) { return s.reg.Due(id) }

// SendTestNow delivers the reminder immediately, bypassing the schedule and
// the dedup window. The send is synchronous; the armed timer is untouched.
func (s *Service) SendTestNow(ctx context.Context, id string) notify.Outcome {
	r, err := s.store.GetReminder(ctx, id)
	if err != nil {
		return notify.Outcome{Err: err}
	}
	return s.sender.Send(ctx, r, notify.SendOptions{FireAt: s.nowFn(), Test: true})
}

// Bootstrap loads every active reminder and reconciles it. One bad row is
// logged and skipped; it must not block boot. It returns the number of
// reminders that ended up with an armed timer.
func (s *Service) Bootstrap(ctx context.Context) (int, error) {
	rs, err := s.store.ListActiveReminders(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active reminders: %w", err)
	}
	armed := 0
	for _, r := range rs {
		if err := r.Validate(); err != nil {
			s.log.Warn("skipping invalid reminder",
				logx.String("reminder_id", r.ID), logx.Err(err))
			continue
		}
		s.Reconcile(r)
		if s.reg.Has(r.ID) {
			armed++
		}
	}
	s.log.Info("bootstrap complete",
		logx.Int("active", len(rs)),
		logx.Int("armed", armed),
	)
	return armed, nil
}

// resweep re-derives the whole schedule from storage. It repairs timers lost
// to transient failures and prunes timers whose reminder is gone or inactive.
// Safe to run concurrently with mutations because Reconcile is idempotent.
func (s *Service) resweep(ctx context.Context) error {
	rs, err := s.store.ListActiveReminders(ctx)
	if err != nil {
		return fmt.Errorf("list active reminders: %w", err)
	}
	active := make(map[string]bool, len(rs))
	for _, r := range rs {
		active[r.ID] = true
		s.Reconcile(r)
	}
	pruned := 0
	for _, id := range s.reg.IDs() {
		if !active[id] {
			s.reg.Cancel(id)
			pruned++
		}
	}
	s.log.Debug("resweep complete",
		logx.Int("active", len(rs)),
		logx.Int("armed", s.reg.Len()),
		logx.Int("pruned", pruned),
	)
	return nil
}

func (s *Service) publish(typ string, r model.Reminder, fireAt time.Time, err error) {
	if s.bus == nil {
		return
	}
	ev := eventbus.ReminderEvent{
		ReminderID: r.ID,
		OwnerID:    r.OwnerID,
		Channel:    string(r.Channel),
		FireAt:     fireAt,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
