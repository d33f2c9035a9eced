package delay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"namingpush/internal/metrics"
	rtsup "namingpush/internal/runtime/supervisor"
	"namingpush/pkg/logx"
)

var (
	ErrStopped = errors.New("delay engine stopped")
)

// Config controls one delay engine instance.
type Config struct {
	// Name labels logs and metrics.
	Name string
	// PollInterval is how often the driver scans for ready tasks.
	PollInterval time.Duration
	// Workers is the number of dispatch workers. A key always maps to the same worker.
	Workers int
	// QueueSize is the per-worker dispatch buffer.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "delay"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	return c
}

type dispatch[T Task] struct {
	key  string
	task T
}

// Engine holds at most one pending task per key and fires each one once its
// delay has elapsed.
//
// AddTask and the driver's remove-on-fire are atomic per key. Dispatch is
// concurrent across keys and serialized per key.
type Engine[T Task] struct {
	cfg       Config
	log       logx.Logger
	merge     MergeFunc[T]
	processor Processor[T]
	now       func() time.Time

	tasks *xsync.MapOf[string, T]

	mu     sync.Mutex
	sup    *rtsup.Supervisor
	queues []chan dispatch[T]
}

type Option[T Task] func(*Engine[T])

// WithClock overrides time.Now for the driver.
func WithClock[T Task](now func() time.Time) Option[T] {
	return func(e *Engine[T]) {
		if now != nil {
			e.now = now
		}
	}
}

func New[T Task](cfg Config, merge MergeFunc[T], processor Processor[T], log logx.Logger, opts ...Option[T]) *Engine[T] {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if merge == nil {
		merge = Replace[T]
	}
	e := &Engine[T]{
		cfg:       cfg,
		log:       log.With(logx.String("engine", cfg.Name)),
		merge:     merge,
		processor: processor,
		now:       time.Now,
		tasks:     xsync.NewMapOf[string, T](),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine[T]) Name() string { return e.cfg.Name }

// AddTask stores task under key, merging it into the pending task if one exists.
func (e *Engine[T]) AddTask(key string, task T) {
	merged := false
	e.tasks.Compute(key, func(pending T, loaded bool) (T, bool) {
		if !loaded {
			return task, false
		}
		merged = true
		return e.merge(pending, task), false
	})

	outcome := "stored"
	if merged {
		outcome = "merged"
	}
	metrics.TasksAdded.WithLabelValues(e.cfg.Name, outcome).Inc()
	e.updateGauge()
}

// RemoveTask drops the pending task for key, if any.
func (e *Engine[T]) RemoveTask(key string) (T, bool) {
	t, ok := e.tasks.LoadAndDelete(key)
	if ok {
		e.updateGauge()
	}
	return t, ok
}

// Pending returns the pending task for key without removing it.
func (e *Engine[T]) Pending(key string) (T, bool) {
	return e.tasks.Load(key)
}

// Size reports the number of pending tasks.
func (e *Engine[T]) Size() int { return e.tasks.Size() }

func (e *Engine[T]) updateGauge() {
	metrics.PendingTasks.WithLabelValues(e.cfg.Name).Set(float64(e.tasks.Size()))
}

// Start launches the driver and the dispatch workers. It is idempotent.
func (e *Engine[T]) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.sup != nil {
		e.mu.Unlock()
		return
	}
	e.sup = rtsup.New(ctx, rtsup.WithLogger(e.log))
	e.queues = make([]chan dispatch[T], e.cfg.Workers)
	for i := range e.queues {
		e.queues[i] = make(chan dispatch[T], e.cfg.QueueSize)
	}
	sup := e.sup
	queues := e.queues
	e.mu.Unlock()

	for i, q := range queues {
		q := q
		sup.GoRestart(fmt.Sprintf("%s.worker.%d", e.cfg.Name, i), func(c context.Context) error {
			return e.work(c, q)
		}, rtsup.WithPublishFirstError(true))
	}
	sup.GoRestart(e.cfg.Name+".driver", func(c context.Context) error {
		return e.drive(c, queues)
	}, rtsup.WithPublishFirstError(true))

	e.log.Info("delay engine started",
		logx.Int("workers", len(queues)),
		logx.Duration("poll_interval", e.cfg.PollInterval),
	)
}

// Stop cancels the driver and workers and waits for them until ctx expires.
// Tasks still pending stay in the map, and so do tasks that were taken for
// dispatch but not yet run. A task whose Process was interrupted is not restored.
func (e *Engine[T]) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	sup, queues := e.sup, e.queues
	e.sup = nil
	e.queues = nil
	e.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.log.Warn("delay engine stop", logx.Err(err))
		return
	}
	restored := e.requeue(queues)
	e.log.Info("delay engine stopped", logx.Int("pending", e.Size()), logx.Int("restored", restored))
}

// requeue moves undispatched tasks from the worker queues back into the map.
func (e *Engine[T]) requeue(queues []chan dispatch[T]) int {
	n := 0
	for _, q := range queues {
	drain:
		for {
			select {
			case d := <-q:
				e.restore(d.key, d.task)
				n++
			default:
				break drain
			}
		}
	}
	if n > 0 {
		e.updateGauge()
	}
	return n
}

// restore puts a taken task back under key. A task added since it was taken
// is newer, so it is merged on top.
func (e *Engine[T]) restore(key string, task T) {
	e.tasks.Compute(key, func(pending T, loaded bool) (T, bool) {
		if !loaded {
			return task, false
		}
		return e.merge(task, pending), false
	})
}

func (e *Engine[T]) drive(ctx context.Context, queues []chan dispatch[T]) error {
	tick := time.NewTicker(e.cfg.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			e.processTasks(ctx, queues, e.now())
		}
	}
}

// processTasks removes every task that is ready at now and hands it to its worker.
func (e *Engine[T]) processTasks(ctx context.Context, queues []chan dispatch[T], now time.Time) int {
	var ready []string
	e.tasks.Range(func(key string, task T) bool {
		if task.Timing().Ready(now) {
			ready = append(ready, key)
		}
		return true
	})

	fired := 0
	for _, key := range ready {
		task, ok := e.take(key, now)
		if !ok {
			continue
		}
		q := queues[shard(key, len(queues))]
		select {
		case q <- dispatch[T]{key: key, task: task}:
			fired++
		case <-ctx.Done():
			// Shutting down: keep the task so nothing is lost.
			e.restore(key, task)
			e.updateGauge()
			return fired
		}
	}
	if fired > 0 {
		e.updateGauge()
	}
	return fired
}

// take atomically removes the task for key if it is still ready at now.
// A merge between the scan and take may have pushed it back.
func (e *Engine[T]) take(key string, now time.Time) (T, bool) {
	var (
		taken T
		ok    bool
	)
	e.tasks.Compute(key, func(pending T, loaded bool) (T, bool) {
		if !loaded {
			return pending, true
		}
		if !pending.Timing().Ready(now) {
			return pending, false
		}
		taken, ok = pending, true
		return pending, true
	})
	return taken, ok
}

func shard(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}

func (e *Engine[T]) work(ctx context.Context, q <-chan dispatch[T]) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-q:
			if ctx.Err() != nil {
				e.restore(d.key, d.task)
				return ctx.Err()
			}
			e.run(ctx, d)
		}
	}
}

func (e *Engine[T]) run(ctx context.Context, d dispatch[T]) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("task.panic", logx.String("key", d.key), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		if e.processor == nil {
			return nil
		}
		return e.processor.Process(ctx, d.key, d.task)
	}()

	if err != nil {
		metrics.TasksProcessed.WithLabelValues(e.cfg.Name, "failed").Inc()
		e.log.Warn("task.failed", logx.String("key", d.key), logx.Err(err), logx.Duration("dur", time.Since(start)))
		return
	}
	metrics.TasksProcessed.WithLabelValues(e.cfg.Name, "ok").Inc()
	e.log.Debug("task.completed", logx.String("key", d.key), logx.Duration("dur", time.Since(start)))
}
