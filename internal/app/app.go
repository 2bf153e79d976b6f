// Package app wires the habitd components together: configuration, logging,
// storage, delivery transports, the notify pipeline and the scheduler. It is
// the only package that knows about all of them.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"habitd/internal/config"
	"habitd/internal/eventbus"
	"habitd/internal/notify"
	"habitd/internal/scheduler"
	"habitd/internal/storage"
	"habitd/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store
	notif *notify.Service
	sched *scheduler.Service

	mu      sync.Mutex
	cancel  context.CancelFunc
	bgWG    sync.WaitGroup
	started bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	sc, err := mapStorageConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	bus := eventbus.New()

	ncfg, err := mapNotifierConfig(cfg.Notifier)
	if err != nil {
		return nil, err
	}
	notif := notify.New(ncfg, log.With(logx.String("comp", "notify")))
	routes, err := buildRoutes(cfg.Transports, log)
	if err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		log.Warn("no delivery transports configured, reminders will fail to send")
	}
	notif.SetRoutes(routes)

	sched := scheduler.New(mapSchedulerConfig(cfg.Scheduler),
		store, notif, bus, log.With(logx.String("comp", "scheduler")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		notif:   notif,
		sched:   sched,
	}, nil
}

// Scheduler exposes the reminder core for callers that persist a mutation
// and need the timer state to follow it.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Store exposes the durable store.
func (a *App) Store() storage.Store { return a.store }

// Bus exposes the in-process event stream.
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.sched.Start(runCtx)
	if _, err := a.sched.Bootstrap(runCtx); err != nil {
		cancel()
		a.sched.Stop(context.Background())
		return fmt.Errorf("bootstrap: %w", err)
	}

	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("config watcher exited", logx.Err(err))
		}
	}()

	sub := a.cfgm.Subscribe(8)
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	events, unsub := a.bus.Subscribe(128)
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	}()

	a.notifySystemd(runCtx)
	a.started = true
	a.log.Info("habitd started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.cancel()
	a.sched.Stop(ctx)
	a.bgWG.Wait()

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("habitd stopped")
	_ = a.logs.Close()
	a.started = false
	return nil
}

// reloadLoop applies hot-reloadable config sections as the watcher publishes
// new versions. Bursts are coalesced to the latest version.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto apply
				}
			}
		apply:
			a.applyConfig(last, cfg)
			last = cfg
		}
	}
}

func (a *App) applyConfig(old, cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(mapLoggingConfig(cfg.Logging))

	if old != nil && old.Storage != cfg.Storage {
		a.log.Warn("storage config changed, restart required to take effect")
	}

	if ncfg, err := mapNotifierConfig(cfg.Notifier); err != nil {
		// The validator should have rejected this; keep the old policy.
		a.log.Error("notifier config rejected on reload", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if routes, err := buildRoutes(cfg.Transports, a.log); err != nil {
		a.log.Error("transport config rejected on reload", logx.Err(err))
	} else {
		a.notif.SetRoutes(routes)
	}

	a.sched.Apply(mapSchedulerConfig(cfg.Scheduler))
	a.log.Info("config applied")
}

// notifySystemd reports readiness and, when the unit enables a watchdog,
// keeps it fed at half the configured interval.
func (a *App) notifySystemd(ctx context.Context) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify unavailable", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}
