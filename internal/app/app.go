// Package app wires configuration, logging, storage, the push core and the
// HTTP API into one supervised process.
package app

import (
	"context"
	"errors"
	"runtime"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"namingpush/internal/config"
	"namingpush/internal/eventbus"
	"namingpush/internal/httpapi"
	"namingpush/internal/metrics"
	"namingpush/internal/monitor"
	"namingpush/internal/push"
	"namingpush/internal/registry"
	rtsup "namingpush/internal/runtime/supervisor"
	"namingpush/internal/storage"
	"namingpush/internal/subscriber"
	"namingpush/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *registry.Memory
	prom *prometheus.Registry

	store    storage.Store
	recorder *storage.Recorder

	exec  *push.Executor
	exact *push.PushEngine
	fuzzy *push.FuzzyEngine
	subs  *subscriber.Service
	mon   *monitor.Monitor

	// Transport delivers pushes. Defaults to a logging transport.
	transport push.Transport
}

type Option func(*App)

// WithTransport replaces the default logging transport.
func WithTransport(t push.Transport) Option {
	return func(a *App) {
		if t != nil {
			a.transport = t
		}
	}
}

func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LoggerConfig())
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	log = log.With(logx.String("comp", "app"))

	subSettings, err := cfg.SubscriberSettings()
	if err != nil {
		return nil, err
	}
	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", storeCfg.Driver))
	}

	prom := prometheus.NewRegistry()
	prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(prom)

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      eventbus.New(),
		reg:      registry.NewMemory(),
		prom:     prom,
		store:    store,
		recorder: storage.NewRecorder(store, cfg.TraceBuffer(), log.With(logx.String("comp", "traces"))),
	}
	a.transport = logTransport{log: logSvc.Logger().With(logx.String("comp", "transport"))}
	for _, o := range opts {
		o(a)
	}

	a.exec = push.NewExecutor(a.transport, a.recorder, subSettings.Push, logSvc.Logger())
	a.exact = push.NewPushEngine(push.PushEngineDeps{
		Clients: a.reg,
		Index:   a.reg,
		Storage: a.reg,
		Pusher:  a.exec,
		Log:     logSvc.Logger(),
	}, subSettings.Push)
	a.fuzzy = push.NewFuzzyEngine(push.FuzzyEngineDeps{
		Clients: a.reg,
		Watches: a.reg,
		Pusher:  a.exec,
		Log:     logSvc.Logger(),
	}, subSettings.Push)
	a.subs = subscriber.New(subscriber.Deps{
		Bus:     a.bus,
		Clients: a.reg,
		Index:   a.reg,
		Exact:   a.exact,
		Fuzzy:   a.fuzzy,
		Log:     logSvc.Logger(),
	}, subSettings)

	a.mon = monitor.New(logSvc.Logger(),
		monitor.Probe{Name: "pending_push", Value: func() int64 { return int64(a.exact.Size()) }},
		monitor.Probe{Name: "pending_fuzzy", Value: func() int64 { return int64(a.fuzzy.Size()) }},
		monitor.Probe{Name: "events_dropped", Value: func() int64 { return int64(a.bus.Dropped()) }},
		monitor.Probe{Name: "traces_dropped", Value: func() int64 { return int64(a.recorder.Dropped()) }},
		monitor.Probe{Name: "clients", Value: func() int64 { return int64(len(a.reg.ClientIDs())) }},
	)
	return a, nil
}

// Bus is the event bus the registry side publishes to.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Registry is the in-memory registry backing the push core.
func (a *App) Registry() *registry.Memory { return a.reg }

// Subscribers is the subscriber service.
func (a *App) Subscribers() *subscriber.Service { return a.subs }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.sup.GoRestart("traces.persist", a.recorder.Run, rtsup.WithPublishFirstError(true))
	a.subs.Start(a.sup.Context())

	if err := a.mon.Start(cfg.MonitorSpec()); err != nil {
		return err
	}

	if addr := cfg.HTTPAddr(); addr != "" {
		if cfg.HTTP.Pprof {
			applyProfileRates(cfg.HTTP)
		}
		rt, wt := cfg.HTTPTimeouts()
		srv := httpapi.Server{
			Addr: addr,
			Handler: httpapi.NewRouter(httpapi.Deps{
				Registry: a.reg,
				Bus:      a.bus,
				Queries:  a.subs,
				Traces:   a.store,
				Gatherer: a.prom,
				Runtime:  a.sup,
				Profiler: cfg.HTTP.Pprof,
				Log:      a.log,
			}),
			ReadTimeout:  rt,
			WriteTimeout: wt,
			Log:          a.log,
		}
		a.sup.Go("http", srv.Run)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	a.log.Info("namingpush started",
		logx.String("config", a.cfgm.Path()),
		logx.String("http", cfg.HTTPAddr()),
		logx.String("monitor", cfg.MonitorSpec()),
	)
	return nil
}

// reloadLoop applies hot-reloaded configuration. Sections that cannot
// change at runtime are only logged.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
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

			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config change summary", fields...)
			lastApplied = newCfg
			a.apply(newCfg)
		}
	}
}

func (a *App) apply(cfg *config.Config) {
	a.logs.Apply(cfg.LoggerConfig())

	s, err := cfg.SubscriberSettings()
	if err != nil {
		a.log.Warn("push settings not applied", logx.Err(err))
		return
	}
	a.subs.Apply(s)
	a.exec.Apply(s.Push)

	if err := a.mon.Start(cfg.MonitorSpec()); err != nil {
		a.log.Warn("monitor not rescheduled", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.mon.Stop(ctx)
	a.subs.Stop(ctx)

	var err error
	if a.sup != nil {
		// Goroutine failures are reported by Err; only a stop timeout is returned here.
		if serr := a.sup.Stop(ctx); errors.Is(serr, context.DeadlineExceeded) && ctx.Err() != nil {
			err = serr
		}
	}
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	a.log.Info("namingpush stopped", logx.Int("pending", a.subs.PendingTaskCount()))
	_ = a.logs.Close()
	return err
}

// applyProfileRates sets the runtime sampling rates used by the mutex and
// block profiles. Zero keeps the Go default.
func applyProfileRates(c config.HTTPConfig) {
	if c.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(c.MutexProfileFraction)
	}
	if c.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(c.BlockProfileRate)
	}
}
