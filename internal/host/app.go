package host

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"cronfunc/internal/alert"
	"cronfunc/internal/appconfig"
	"cronfunc/internal/config"
	"cronfunc/internal/eventbus"
	"cronfunc/internal/function"
	"cronfunc/internal/observability/debugserver"
	"cronfunc/internal/observability/metrics"
	"cronfunc/internal/runtime/supervisor"
	"cronfunc/internal/storage"
	"cronfunc/internal/task/engine"
	"cronfunc/internal/task/scheduler"
	logx "cronfunc/pkg/logx"
	"cronfunc/pkg/systemd"
)

var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrNoStorage       = errors.New("storage is not configured")
)

// App hosts the configured timer functions.
type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	fnLog logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	provider *appconfig.Provider
	engine   *engine.Service
	sched    *scheduler.Service
	metrics  *metrics.Metrics
	debug    *debugserver.Service
	alerts   *alert.Service

	// alertsReady is false when no sender was built at startup
	alertsReady bool

	mu    sync.Mutex
	funcs map[string]function.Definition
}

type Option func(*options)

type options struct {
	log    logx.Logger
	sender alert.Sender
}

// WithLogger logs to l instead of the sinks in the logging config section.
// Logging config reloads are then ignored.
func WithLogger(l logx.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithAlertSender delivers alerts through s instead of the configured
// Telegram chat.
func WithAlertSender(s alert.Sender) Option {
	return func(o *options) { o.sender = s }
}

// New loads the config at cfgPath (empty means defaults) and builds every
// component. Nothing runs until Start.
func New(cfgPath string, boot config.Bootstrap, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var logSvc *logx.Service
	root := o.log
	if root.IsZero() {
		logSvc, root = logx.New(mapLogging(cfg))
	}
	log := root.With(logx.String("comp", "host"))

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	provider, err := appconfig.Build(cfg.AppConfig, boot, root)
	if err != nil {
		closeStore(store)
		return nil, fmt.Errorf("app config: %w", err)
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	engineSvc := engine.New(engCfg, root, bus)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc, root)
	dsCfg, err := mapDebugServerConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	alertCfg, err := mapAlertsConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	sender := o.sender
	if sender == nil && alertCfg.Enabled {
		if tg, ok := mapTelegramConfig(cfg, boot); ok {
			t, err := alert.NewTelegram(tg)
			if err != nil {
				closeStore(store)
				return nil, fmt.Errorf("alerts: %w", err)
			}
			sender = t
		}
	}

	a := &App{
		cfgm:     cfgm,
		log:      log,
		fnLog:    root,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		provider: provider,
		engine:   engineSvc,
		sched:    schedSvc,
		metrics:  metrics.New(engineSvc, bus),
		alerts:   alert.New(alertCfg, sender, root),

		alertsReady: sender != nil,
	}
	a.debug = debugserver.New(dsCfg, debugserver.Handlers{
		Status:  func(context.Context) any { return a.Status() },
		Metrics: a.metrics.Handler(),
	}, root)
	if err := a.syncFunctions(cfg); err != nil {
		closeStore(store)
		return nil, err
	}
	log.Debug("host built",
		logx.Strings("sources", provider.Sources()),
		logx.Strings("functions", a.Functions()),
	)
	return a, nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

// syncFunctions makes the scheduled set match cfg.
func (a *App) syncFunctions(cfg *config.Config) error {
	defs, err := function.Definitions(cfg)
	if err != nil {
		return err
	}
	sdefs := make([]scheduler.Definition, 0, len(defs))
	funcs := make(map[string]function.Definition, len(defs))
	for _, d := range defs {
		fn := a.newFunction(d)
		sdefs = append(sdefs, scheduler.Definition{
			Name:         d.Name,
			Spec:         d.Schedule,
			Timeout:      d.Timeout,
			Opt:          d.Options(),
			Run:          fn.Run,
			RunOnStartup: d.RunOnStartup,
		})
		funcs[d.Name] = d
	}
	if err := a.sched.Sync(sdefs); err != nil {
		return err
	}
	a.mu.Lock()
	a.funcs = funcs
	a.mu.Unlock()
	return nil
}

func (a *App) newFunction(d function.Definition) *function.Function {
	return &function.Function{
		Name:   d.Name,
		Keys:   d.Keys,
		Lookup: a.provider,
		Log:    a.fnLog,
	}
}

// Functions lists hosted function names in sorted order.
func (a *App) Functions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Sorted(maps.Keys(a.funcs))
}

// Done is closed when the host supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.fnLog.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	a.sup.Go0("appconfig", a.provider.Run)

	if a.store != nil {
		// subscribe before anything can fire so startup invocations are recorded
		events, unsub := a.bus.Subscribe(256, storage.RecordedEvents...)
		rec := storage.NewRecorder(a.store, a.fnLog)
		a.sup.Go("storage.recorder", func(c context.Context) error {
			defer unsub()
			return rec.Consume(c, events)
		})
	}

	aevents, aunsub := a.bus.Subscribe(64, alert.SubscribedEvents...)
	// the queue outlives the supervisor so Stop can drain it
	a.alerts.Start(context.WithoutCancel(a.sup.Context()))
	a.sup.Go("alerts", func(c context.Context) error {
		defer aunsub()
		return a.alerts.Consume(c, aevents)
	})

	mevents, munsub := a.bus.Subscribe(256, metrics.ObservedEvents...)
	a.sup.Go("metrics", func(c context.Context) error {
		defer munsub()
		return a.metrics.Consume(c, mevents)
	})

	if a.log.Enabled(logx.LevelDebug) {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	a.engine.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())
	a.debug.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts: keep only the latest config
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", systemd.Watchdog)

	fns := a.Functions()
	if ok, err := systemd.Ready(fmt.Sprintf("%d functions scheduled", len(fns))); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("host started", logx.Strings("functions", fns), logx.Strings("sources", a.provider.Sources()))
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	for _, s := range sections {
		switch s {
		case "storage", "app_config":
			a.log.Warn(s+" config changed; restart required for changes to take effect", logx.String("section", s))
		case "alerts":
			if !reflect.DeepEqual(telegramSection(oldCfg), telegramSection(newCfg)) {
				a.log.Warn("alerts.telegram changed; restart required for changes to take effect")
			}
		}
	}

	if a.logs != nil {
		a.logs.Apply(mapLogging(newCfg))
	}

	if engCfg, err := mapTaskEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, engCfg)
	}

	a.sched.Apply(ctx, mapSchedulerConfig(newCfg))
	if dsCfg, err := mapDebugServerConfig(newCfg); err != nil {
		a.log.Warn("invalid debug_server config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(ctx, dsCfg)
	}
	if alertCfg, err := mapAlertsConfig(newCfg); err != nil {
		a.log.Warn("invalid alerts config; keeping previous", logx.Err(err))
	} else {
		a.alerts.Apply(alertCfg)
		switch {
		case !alertCfg.Enabled:
			a.alerts.Stop(ctx)
		case a.alertsReady:
			a.alerts.Start(context.WithoutCancel(ctx))
		default:
			a.log.Warn("alerts enabled without a sender; restart required for changes to take effect")
		}
	}
	if err := a.syncFunctions(newCfg); err != nil {
		a.log.Warn("invalid functions config; keeping previous", logx.Err(err))
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
	if _, err := systemd.Status("config reloaded"); err != nil {
		a.log.Debug("systemd status failed", logx.Err(err))
	}
}

func telegramSection(cfg *config.Config) *config.TelegramConfig {
	if cfg == nil || cfg.Alerts == nil {
		return nil
	}
	return cfg.Alerts.Telegram
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		closeStore(a.store)
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(string(reason)); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	// triggers first, then running invocations, then the loops that
	// record their outcome
	a.step(ctx, "debugserver", 2*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.sup.Cancel()
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "alerts", 2*time.Second, func(c context.Context) error { a.alerts.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, max(time.Until(dl), 0))
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
