package notify

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"habitd/internal/model"
	"habitd/internal/transport"
	"habitd/pkg/logx"
)

const historyCap = 300

// Service implements Sender on top of registered transport adapters.
// It is safe for concurrent use; Apply() may run during sends.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	log      logx.Logger
	adapters map[model.Channel]transport.Adapter

	// In-memory dedup cache: key -> suppress until.
	dmu   sync.Mutex
	dedup map[string]time.Time

	// Bounded history for status reporting.
	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:      cfg,
		limiter:  cfg.newLimiter(),
		log:      log,
		adapters: map[model.Channel]transport.Adapter{},
		dedup:    map[string]time.Time{},
	}
}

// Register routes a channel through the given adapter, replacing any
// previous route for that channel.
func (s *Service) Register(ch model.Channel, a transport.Adapter) {
	s.mu.Lock()
	s.adapters[ch] = a
	s.mu.Unlock()
}

// SetRoutes replaces the whole routing table. Channels absent from the new
// table lose their transport; in-flight sends keep the adapter they resolved.
func (s *Service) SetRoutes(routes map[model.Channel]transport.Adapter) {
	m := make(map[model.Channel]transport.Adapter, len(routes))
	for ch, a := range routes {
		m[ch] = a
	}
	s.mu.Lock()
	s.adapters = m
	s.mu.Unlock()
}

// Apply swaps the delivery policy at runtime (hot reload).
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = cfg.newLimiter()
	s.mu.Unlock()
}

// Send delivers one reminder synchronously and reports the outcome.
// It never panics and never returns before the attempt sequence finished
// (or ctx was cancelled).
func (s *Service) Send(ctx context.Context, r model.Reminder, opts SendOptions) Outcome {
	start := time.Now()

	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	adapter := s.adapters[r.Channel]
	s.mu.Unlock()

	out := Outcome{}
	defer func() {
		out.Took = time.Since(start)
		s.record(r, opts, out)
	}()

	if adapter == nil {
		out.Err = fmt.Errorf("%w: %q", ErrNoTransport, r.Channel)
		return out
	}

	if !opts.Test && cfg.DedupWindow > 0 {
		key := dedupKey(r.ID, opts.FireAt)
		if s.suppressed(key, start) {
			// The fire was already delivered within the window; report it as
			// delivered so the caller does not retry, but do nothing.
			out.Delivered = true
			out.Err = ErrDuplicate
			return out
		}
		s.remember(key, start.Add(cfg.DedupWindow), cfg.DedupMaxEntries)
	}

	if err := lim.Wait(ctx); err != nil {
		out.Err = err
		return out
	}

	msg := transport.Render(r, opts.FireAt, opts.Test)
	maxAttempts := 1 + cfg.RetryMax
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.Attempts = attempt

		sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := sendSafe(sctx, adapter, msg)
		cancel()
		if err == nil {
			out.Delivered = true
			out.Err = nil
			s.log.Debug("notification sent",
				logx.String("reminder_id", r.ID),
				logx.String("channel", string(r.Channel)),
				logx.String("transport", adapter.Name()),
				logx.Int("attempts", attempt),
			)
			return out
		}
		out.Err = err

		if attempt >= maxAttempts {
			break
		}
		delay := backoffDelay(cfg, attempt)
		s.log.Debug("notification retry scheduled",
			logx.String("reminder_id", r.ID),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		select {
		case <-ctx.Done():
			out.Err = ctx.Err()
			return out
		case <-time.After(delay):
		}
	}

	s.log.Warn("notification send failed",
		logx.String("reminder_id", r.ID),
		logx.String("channel", string(r.Channel)),
		logx.Int("attempts", out.Attempts),
		logx.Err(out.Err),
	)
	return out
}

// History returns a copy of the recent delivery records, newest last.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// sendSafe shields the pipeline from a panicking adapter.
func sendSafe(ctx context.Context, a transport.Adapter, msg transport.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport %s panicked: %v", a.Name(), r)
		}
	}()
	return a.Send(ctx, msg)
}

func (s *Service) record(r model.Reminder, opts SendOptions, out Outcome) {
	item := HistoryItem{
		ReminderID: r.ID,
		Channel:    r.Channel,
		At:         time.Now(),
		Delivered:  out.Delivered,
		Attempts:   out.Attempts,
	}
	if out.Err != nil {
		item.Error = out.Err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.hmu.Unlock()
}

func (s *Service) suppressed(key string, now time.Time) bool {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	until, ok := s.dedup[key]
	return ok && now.Before(until)
}

func (s *Service) remember(key string, until time.Time, maxEntries int) {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	// Cheap pruning: drop expired entries when the cache is at capacity.
	if len(s.dedup) >= maxEntries {
		now := time.Now()
		for k, u := range s.dedup {
			if now.After(u) {
				delete(s.dedup, k)
			}
		}
	}
	s.dedup[key] = until
}

func dedupKey(id string, fireAt time.Time) string {
	return id + "@" + fireAt.UTC().Format(time.RFC3339)
}

func backoffDelay(cfg Config, retry int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// jitter [0.8, 1.2]
	d = time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*0.2))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}
