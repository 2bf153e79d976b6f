package recurrence

import (
	"testing"
	"time"

	"habitd/internal/model"
)

func baseReminder() model.Reminder {
	return model.Reminder{
		ID:        "r1",
		OwnerID:   "u1",
		Title:     "stretch",
		Channel:   model.ChannelPush,
		Frequency: model.FrequencyDaily,
		TimeOfDay: model.TimeOfDay{Hour: 9, Minute: 0},
		Timezone:  "UTC",
		IsActive:  true,
		Window:    model.ActiveWindow{Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
}

func TestNextFireTimeInactive(t *testing.T) {
	t.Parallel()
	r := baseReminder()
	r.IsActive = false
	if _, ok := NextFireTime(r, time.Now()); ok {
		t.Fatal("inactive reminder must not resolve")
	}
}

func TestNextFireTimeDaily(t *testing.T) {
	t.Parallel()
	r := baseReminder()

	// Before today's slot: fires today.
	now := time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC)
	at, ok := NextFireTime(r, now)
	if !ok {
		t.Fatal("expected a fire time")
	}
	if want := time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC); !at.Equal(want) {
		t.Fatalf("at = %v, want %v", at, want)
	}

	// After today's slot: fires tomorrow.
	now = time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC) // exactly at slot counts as passed
	at, ok = NextFireTime(r, now)
	if !ok {
		t.Fatal("expected a fire time")
	}
	if want := time.Date(2025, 6, 13, 9, 0, 0, 0, time.UTC); !at.Equal(want) {
		t.Fatalf("at = %v, want %v", at, want)
	}
}

func TestNextFireTimeDailyStrictlyIncreasing(t *testing.T) {
	t.Parallel()
	r := baseReminder()
	now := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)

	var prev time.Time
	for i := 0; i < 10; i++ {
		at, ok := NextFireTime(r, now)
		if !ok {
			t.Fatalf("step %d: expected a fire time", i)
		}
		if !at.After(now) {
			t.Fatalf("step %d: %v not after now %v", i, at, now)
		}
		if i > 0 && at.Sub(prev) != 24*time.Hour {
			t.Fatalf("step %d: interval = %v, want 24h", i, at.Sub(prev))
		}
		prev = at
		now = at
	}
}

func TestNextFireTimeDailyTimezone(t *testing.T) {
	t.Parallel()
	r := baseReminder()
	r.Timezone = "Asia/Jakarta" // UTC+7, no DST

	// 09:00 Jakarta == 02:00 UTC.
	now := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)
	at, ok := NextFireTime(r, now)
	if !ok {
		t.Fatal("expected a fire time")
	}
	if want := time.Date(2025, 6, 12, 2, 0, 0, 0, time.UTC); !at.Equal(want) {
		t.Fatalf("at = %v (%v), want %v", at, at.UTC(), want)
	}
}

func TestNextFireTimeWeekly(t *testing.T) {
	t.Parallel()
	r := baseReminder()
	r.Frequency = model.FrequencyWeekly
	r.DaysOfWeek = []int{1, 3, 5} // Mon/Wed/Fri

	// Thursday 2025-06-12 10:00 -> Friday 2025-06-13 09:00.
	now := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	at, ok := NextFireTime(r, now)
	if !ok {
		t.Fatal("expected a fire time")
	}
	want := time.Date(2025, 6, 13, 9, 0, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Fatalf("at = %v, want %v", at, want)
	}
	if at.Weekday() != time.Friday {
		t.Fatalf("weekday = %v, want Friday", at.Weekday())
	}
}

func TestNextFireTimeWeeklyEmptyDaySet(t *testing.T) {
	t.Parallel()
	r := baseReminder()
	r.Frequency = model.FrequencyWeekly
	r.DaysOfWeek = nil // unnormalized input: treated as all days, never blocks

	now := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	at, ok := NextFireTime(r, now)
	if !ok {
		t.Fatal("expected a fire time")
	}
	if want := time.Date(2025, 6, 13, 9, 0, 0, 0, time.UTC); !at.Equal(want) {
		t.Fatalf("at = %v, want %v", at, want)
	}
}

func TestNextFireTimeCustomMatchesWeekly(t *testing.T) {
	t.Parallel()
	w := baseReminder()
	w.Frequency = model.FrequencyWeekly
	w.DaysOfWeek = []int{2, 4}
	c := w
	c.Frequency = model.FrequencyCustom

	now := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	wa, wok := NextFireTime(w, now)
	ca, cok := NextFireTime(c, now)
	if wok != cok || !wa.Equal(ca) {
		t.Fatalf("custom (%v,%v) diverges from weekly (%v,%v)", ca, cok, wa, wok)
	}
}

func TestNextFireTimeOnce(t *testing.T) {
	t.Parallel()
	r := baseReminder()
	r.Frequency = model.FrequencyOnce

	// In the future: fires at the computed instant.
	now := time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC)
	at, ok := NextFireTime(r, now)
	if !ok || !at.Equal(time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("at = %v ok=%v", at, ok)
	}

	// Missed and never fired: fires immediately.
	now = time.Date(2025, 6, 12, 23, 0, 0, 0, time.UTC)
	at, ok = NextFireTime(r, now)
	if !ok {
		t.Fatal("missed one-shot must still fire once")
	}
	if !at.Equal(now) {
		t.Fatalf("at = %v, want now %v", at, now)
	}

	// Already fired: never again.
	fired := now.Add(-time.Hour)
	r.LastFiredAt = &fired
	if _, ok := NextFireTime(r, now); ok {
		t.Fatal("fired one-shot must not resolve again")
	}
}

func TestNextFireTimeMonthlyClampsToMonthEnd(t *testing.T) {
	t.Parallel()
	r := baseReminder()
	r.Frequency = model.FrequencyMonthly
	r.Window.Start = time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	at, ok := NextFireTime(r, now)
	if !ok {
		t.Fatal("expected a fire time")
	}
	// February 2025 has 28 days; the 31st clamps.
	if want := time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC); !at.Equal(want) {
		t.Fatalf("at = %v, want %v", at, want)
	}
}

func TestNextFireTimeMonthlyAdvances(t *testing.T) {
	t.Parallel()
	r := baseReminder()
	r.Frequency = model.FrequencyMonthly
	r.Window.Start = time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	// The 15th already passed this month.
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	at, ok := NextFireTime(r, now)
	if !ok {
		t.Fatal("expected a fire time")
	}
	if want := time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC); !at.Equal(want) {
		t.Fatalf("at = %v, want %v", at, want)
	}
}

func TestNextFireTimeWindow(t *testing.T) {
	t.Parallel()

	t.Run("end before now", func(t *testing.T) {
		t.Parallel()
		for _, freq := range []model.Frequency{
			model.FrequencyOnce, model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly,
		} {
			r := baseReminder()
			r.Frequency = freq
			end := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
			r.Window.End = &end
			now := time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC)
			if _, ok := NextFireTime(r, now); ok {
				t.Fatalf("freq %s: expired window must not resolve", freq)
			}
		}
	})

	t.Run("candidate beyond end", func(t *testing.T) {
		t.Parallel()
		r := baseReminder()
		end := time.Date(2025, 6, 12, 8, 30, 0, 0, time.UTC)
		r.Window.End = &end
		// Window still open, but the 09:00 slot falls past the end.
		now := time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC)
		if _, ok := NextFireTime(r, now); ok {
			t.Fatal("candidate past window end must not resolve")
		}
	})

	t.Run("start in future", func(t *testing.T) {
		t.Parallel()
		r := baseReminder()
		r.Window.Start = time.Date(2025, 7, 1, 15, 0, 0, 0, time.UTC)
		now := time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC)
		at, ok := NextFireTime(r, now)
		if !ok {
			t.Fatal("expected a fire time")
		}
		// 09:00 on the start day precedes the window start, so the first
		// eligible slot is the following day.
		if want := time.Date(2025, 7, 2, 9, 0, 0, 0, time.UTC); !at.Equal(want) {
			t.Fatalf("at = %v, want %v", at, want)
		}
	})
}

func TestNextFireTimeFailsClosed(t *testing.T) {
	t.Parallel()

	r := baseReminder()
	r.TimeOfDay = model.TimeOfDay{Hour: 25, Minute: 0}
	if _, ok := NextFireTime(r, time.Now()); ok {
		t.Fatal("out-of-range hour must not resolve")
	}

	r = baseReminder()
	r.Frequency = model.FrequencyWeekly
	r.DaysOfWeek = []int{9}
	if _, ok := NextFireTime(r, time.Now()); ok {
		t.Fatal("out-of-range weekday must not resolve")
	}
}
