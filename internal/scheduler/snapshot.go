package scheduler

import (
	"sort"
	"time"
)

// ScheduledJob describes one armed timer.
type ScheduledJob struct {
	ReminderID string    `json:"reminder_id"`
	FireAt     time.Time `json:"fire_at"`
}

// Snapshot is a point-in-time view of the scheduler for status reporting.
type Snapshot struct {
	Running  bool           `json:"running"`
	Timezone string         `json:"timezone"`
	Workers  int            `json:"workers"`
	QueueLen int            `json:"queue_len"`
	QueueCap int            `json:"queue_cap"`
	Dropped  uint64         `json:"dropped"`
	Resweep  string         `json:"resweep"`
	Jobs     []ScheduledJob `json:"jobs"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	loc := s.loc
	running := s.stopCh != nil
	q := s.queue
	s.mu.Unlock()

	tz := cfg.Timezone
	if tz == "" && loc != nil {
		tz = loc.String()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	sweep := cfg.Resweep
	if sweep == "" {
		sweep = defaultResweep
	}

	snap := Snapshot{
		Running:  running,
		Timezone: tz,
		Workers:  workers,
		Dropped:  s.dropped.Load(),
		Resweep:  sweep,
		Jobs:     s.reg.Entries(),
	}
	if q != nil {
		snap.QueueLen = len(q)
		snap.QueueCap = cap(q)
	}
	sort.Slice(snap.Jobs, func(i, j int) bool {
		return snap.Jobs[i].FireAt.Before(snap.Jobs[j].FireAt)
	})
	return snap
}
