package scheduler

import (
	"sync"
	"time"
)

// jobRegistry owns the one-shot fire timers, keyed by reminder id.
//
// Invariant: at most one live timer per id. Install replaces the previous
// timer; a replaced timer whose callback already left the runtime queue is
// invalidated through a generation counter, so it becomes a no-op instead
// of a double fire. Generations come from a single monotonic sequence and
// are never reused.
type jobRegistry struct {
	mu     sync.Mutex
	seq    uint64
	timers map[string]*time.Timer
	gens   map[string]uint64
	due    map[string]time.Time
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{
		timers: map[string]*time.Timer{},
		gens:   map[string]uint64{},
		due:    map[string]time.Time{},
	}
}

// Install arms a timer that calls fire once at the given instant, replacing
// any existing timer for the id. An instant in the past fires immediately.
// The registry entry is removed before fire runs, so fire may re-Install.
func (g *jobRegistry) Install(id string, at time.Time, fire func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t, ok := g.timers[id]; ok {
		_ = t.Stop()
	}
	g.seq++
	gen := g.seq
	g.gens[id] = gen
	g.due[id] = at

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	g.timers[id] = time.AfterFunc(delay, func() {
		g.mu.Lock()
		if g.gens[id] != gen {
			// Replaced or cancelled while this callback was in flight.
			g.mu.Unlock()
			return
		}
		delete(g.timers, id)
		delete(g.gens, id)
		delete(g.due, id)
		g.mu.Unlock()
		fire()
	})
}

// Cancel stops and removes the timer for id. It reports whether a timer
// existed. After Cancel returns, the id's pending callback (if any) will
// not fire.
func (g *jobRegistry) Cancel(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.timers[id]
	if !ok {
		return false
	}
	_ = t.Stop()
	delete(g.timers, id)
	delete(g.gens, id)
	delete(g.due, id)
	return true
}

// CancelAll stops every timer. Used on shutdown.
func (g *jobRegistry) CancelAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.timers {
		_ = t.Stop()
	}
	g.timers = map[string]*time.Timer{}
	g.gens = map[string]uint64{}
	g.due = map[string]time.Time{}
}

func (g *jobRegistry) Has(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.timers[id]
	return ok
}

// Due returns the armed fire instant for id.
func (g *jobRegistry) Due(id string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	at, ok := g.due[id]
	return at, ok
}

func (g *jobRegistry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}

// IDs returns the ids with an armed timer, in no particular order.
func (g *jobRegistry) IDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.timers))
	for id := range g.timers {
		ids = append(ids, id)
	}
	return ids
}

// Entries returns a snapshot of the armed timers.
func (g *jobRegistry) Entries() []ScheduledJob {
	g.mu.Lock()
	defer g.mu.Unlock()
	items := make([]ScheduledJob, 0, len(g.due))
	for id, at := range g.due {
		items = append(items, ScheduledJob{ReminderID: id, FireAt: at})
	}
	return items
}
