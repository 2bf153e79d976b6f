// Package scheduler turns stored reminders into armed one-shot timers and
// runs the fire pipeline when a timer goes off.
//
// The service keeps exactly one timer per reminder id (see jobRegistry) and
// derives every timer from storage through the recurrence resolver, so the
// whole schedule can be rebuilt from scratch at any time: on boot, on a
// mutation, or by the periodic resweep. Fires are executed on a small worker
// pool draining a bounded queue; a slow delivery can delay other fires but
// never wedge the timers themselves.
package scheduler

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"habitd/internal/eventbus"
	"habitd/internal/model"
	"habitd/internal/notify"
	"habitd/internal/recurrence"
	"habitd/internal/storage"
	"habitd/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Workers   int
	QueueSize int

	// Resweep is a cron spec for the periodic full re-derivation of the
	// schedule from storage. Empty means the default; "off" disables it.
	Resweep string

	// Timezone applies to the resweep cron only. Reminders carry their own.
	Timezone string
}

const (
	defaultWorkers   = 2
	defaultQueueSize = 256
	defaultResweep   = "@every 15m"

	// taskTimeout bounds one fire pipeline run end to end. The sender applies
	// its own per-attempt timeout inside this budget.
	taskTimeout = 2 * time.Minute
)

type task struct {
	name string
	run  func(ctx context.Context) error
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	loc *time.Location

	log    logx.Logger
	store  storage.Store
	sender notify.Sender
	bus    eventbus.Bus

	reg    *jobRegistry
	parser cron.Parser
	c      *cron.Cron

	queue     chan task
	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	dropped atomic.Uint64

	// Overridable for tests.
	nowFn  func() time.Time
	nextFn func(model.Reminder, time.Time) (time.Time, bool)
}

func New(cfg Config, store storage.Store, sender notify.Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		store:  store,
		sender: sender,
		bus:    bus,
		reg:    newJobRegistry(),
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		nowFn:  time.Now,
		nextFn: recurrence.NextFireTime,
	}
}

// Apply swaps the config at runtime. A timezone change restarts the resweep
// cron; worker pool and queue size changes take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	oldSweep := s.cfg.Resweep
	s.cfg = cfg

	if s.stopCh == nil {
		return
	}
	if oldTZ != strings.TrimSpace(cfg.Timezone) || oldSweep != cfg.Resweep {
		s.restartCronLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	// If a Stop() is in progress, wait for it to finish so two worker pools
	// cannot coexist after a quick stop/start toggle.
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return // already running
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	size := s.cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	// Fresh queue per run so a stop/start toggle cannot execute stale fires.
	s.queue = make(chan task, size)

	s.loc = s.loadLocationLocked()
	s.startCronLocked()

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in scheduler worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}
	s.log.Info("scheduler started",
		logx.Int("workers", workers),
		logx.Int("queue_size", size),
		logx.String("tz", s.loc.String()),
	)
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	// Disarm all timers; definitions live in storage and come back on boot.
	s.reg.CancelAll()

	// Finish cleanup in background so Stop can return on ctx timeout.
	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// cleanup continues in background
	}
}

func (s *Service) startCronLocked() {
	spec := strings.TrimSpace(s.cfg.Resweep)
	if spec == "" {
		spec = defaultResweep
	}
	if strings.EqualFold(spec, "off") {
		return
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	_, err := s.c.AddFunc(spec, func() {
		s.enqueue(task{name: "resweep", run: s.resweep})
	})
	if err != nil {
		s.log.Error("invalid resweep spec, periodic resweep disabled",
			logx.String("spec", spec), logx.Err(err))
		s.c = nil
		return
	}
	s.c.Start()
	if s.log.Enabled(logx.LevelDebug) {
		if sched, perr := s.parser.Parse(spec); perr == nil {
			s.log.Debug("resweep armed",
				logx.String("spec", spec),
				logx.Time("next", sched.Next(time.Now().In(s.loc))))
		}
	}
}

// restartCronLocked rebuilds the resweep cron after a config change.
// Call with s.mu held.
func (s *Service) restartCronLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	s.loc = s.loadLocationLocked()
	s.startCronLocked()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local",
			logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Debug("scheduler not running, dropping task", logx.String("task", t.name))
		return
	}
	select {
	case q <- t:
	default:
		s.dropped.Add(1)
		s.log.Warn("scheduler queue full, dropping task",
			logx.String("task", t.name),
			logx.Int("queue_len", len(q)),
			logx.Int("queue_cap", cap(q)),
		)
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, taskTimeout)
	err := t.run(runCtx)
	cancel()

	dur := time.Since(start)
	if err != nil {
		s.log.Warn("task failed", logx.String("task", t.name), logx.Duration("dur", dur), logx.Err(err))
		return
	}
	if dur >= 750*time.Millisecond {
		s.log.Info("task completed", logx.String("task", t.name), logx.Duration("dur", dur))
	} else {
		s.log.Debug("task completed", logx.String("task", t.name), logx.Duration("dur", dur))
	}
}
