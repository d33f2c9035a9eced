package push

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"namingpush/internal/naming"
	"namingpush/internal/push/delay"
	"namingpush/pkg/logx"
)

// FuzzyEngineDeps are the collaborators of FuzzyEngine.
type FuzzyEngineDeps struct {
	Clients naming.ClientRegistry
	Watches naming.FuzzyWatchIndex
	Pusher  Transport
	Log     logx.Logger
}

// FuzzyEngine delivers initial match sets and incremental changes to
// pattern watchers.
type FuzzyEngine struct {
	deps     FuzzyEngineDeps
	log      logx.Logger
	settings atomic.Pointer[Settings]
	engine   *delay.Engine[FuzzyTask]
	now      func() time.Time
}

func NewFuzzyEngine(deps FuzzyEngineDeps, s Settings) *FuzzyEngine {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s = s.WithDefaults()
	f := &FuzzyEngine{deps: deps, log: log.With(logx.String("comp", "push.fuzzy")), now: time.Now}
	f.settings.Store(&s)

	cfg := s.Engine
	cfg.Name = "fuzzy"
	f.engine = delay.New[FuzzyTask](cfg, mergeFuzzyTasks, f, log)
	return f
}

func (f *FuzzyEngine) Start(ctx context.Context) { f.engine.Start(ctx) }
func (f *FuzzyEngine) Stop(ctx context.Context)  { f.engine.Stop(ctx) }

// Size reports pending fuzzy tasks of both kinds.
func (f *FuzzyEngine) Size() int { return f.engine.Size() }

// Pending returns the pending task for key without removing it.
func (f *FuzzyEngine) Pending(key string) (FuzzyTask, bool) { return f.engine.Pending(key) }

// Apply replaces the settings used for tasks created from now on, including
// re-enqueued init remainders.
func (f *FuzzyEngine) Apply(s Settings) {
	s = s.WithDefaults()
	f.settings.Store(&s)
}

func (f *FuzzyEngine) current() Settings { return *f.settings.Load() }

// OnFuzzyWatchInit schedules delivery of matched to clientID for pattern.
// An empty match set still produces one finished notification.
func (f *FuzzyEngine) OnFuzzyWatchInit(clientID, pattern string, matched []naming.Service) error {
	key, err := TaskKey(clientID, pattern)
	if err != nil {
		return fmt.Errorf("fuzzy watch init: %w", err)
	}
	f.engine.AddTask(key, newFuzzyInitTask(clientID, pattern, matched, f.current().schedule(f.now())))
	return nil
}

// OnServiceChanged schedules one change task per watcher currently matching
// svc. It returns the number of tasks added.
func (f *FuzzyEngine) OnServiceChanged(svc naming.Service, kind naming.ChangeKind) int {
	if f.deps.Watches == nil {
		return 0
	}
	if !kind.Valid() {
		kind = naming.ChangeChanged
	}
	sched := f.current().schedule(f.now())
	added := 0
	for _, w := range f.deps.Watches.Watchers(svc) {
		key, err := ChangeTaskKey(w.ClientID, w.Pattern, svc)
		if err != nil {
			f.log.Debug("watcher skipped", logx.String("client", w.ClientID), logx.String("pattern", w.Pattern), logx.Err(err))
			continue
		}
		f.engine.AddTask(key, FuzzyChangeTask{
			Schedule:   sched,
			ClientID:   w.ClientID,
			Pattern:    w.Pattern,
			ServiceKey: svc.Key(),
			Change:     kind,
		})
		added++
	}
	return added
}

// Process executes one fired fuzzy task.
func (f *FuzzyEngine) Process(ctx context.Context, key string, task FuzzyTask) error {
	if f.deps.Pusher == nil {
		return ErrNoTransport
	}
	switch t := task.(type) {
	case FuzzyInitTask:
		return f.processInit(ctx, key, t)
	case FuzzyChangeTask:
		return f.processChange(ctx, t)
	default:
		return nil
	}
}

func (f *FuzzyEngine) clientGone(clientID string) bool {
	if f.deps.Clients == nil || f.deps.Clients.ClientExists(clientID) {
		return false
	}
	f.log.Debug("stale fuzzy watcher dropped", logx.String("client", clientID))
	return true
}

func (f *FuzzyEngine) processInit(ctx context.Context, key string, t FuzzyInitTask) error {
	if f.clientGone(t.ClientID) {
		return nil
	}
	s := f.current()
	batch, rest := t.split(s.FuzzyBatchSize)
	p := FuzzyInitPush{
		Pattern:  t.Pattern,
		Services: batch,
		Batch:    rest.Batches,
		Total:    t.OriginSize,
		Finished: rest.Done(),
	}
	err := f.deps.Pusher.Push(ctx, t.ClientID, p)
	// The remainder goes back even when this batch failed; only the failed
	// batch itself is not resent.
	if !rest.Done() {
		rest.Schedule = s.schedule(f.now())
		f.engine.AddTask(key, rest)
	}
	if err != nil {
		return fmt.Errorf("fuzzy init batch %d for %s: %w", p.Batch, key, err)
	}
	if rest.Done() {
		f.log.Debug("fuzzy init finished",
			logx.String("client", t.ClientID),
			logx.String("pattern", t.Pattern),
			logx.Int("total", t.OriginSize),
			logx.Int("batches", rest.Batches),
		)
	}
	return nil
}

func (f *FuzzyEngine) processChange(ctx context.Context, t FuzzyChangeTask) error {
	if f.clientGone(t.ClientID) {
		return nil
	}
	return f.deps.Pusher.Push(ctx, t.ClientID, FuzzyChangePush{
		Pattern:    t.Pattern,
		ServiceKey: t.ServiceKey,
		Change:     t.Change,
	})
}
