package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"namingpush/internal/naming"
	"namingpush/internal/push/delay"
	"namingpush/pkg/logx"
)

// PushEngineDeps are the collaborators of PushEngine.
type PushEngineDeps struct {
	Clients naming.ClientRegistry
	Index   naming.SubscriberIndex
	Storage naming.ServiceStorage
	// Pusher delivers payloads; usually an *Executor.
	Pusher Transport
	Log    logx.Logger
}

// PushEngine turns service changes and subscriptions into delayed pushes
// to exact-match subscribers.
type PushEngine struct {
	deps     PushEngineDeps
	log      logx.Logger
	settings atomic.Pointer[Settings]
	engine   *delay.Engine[PushDelayTask]
	now      func() time.Time
}

func NewPushEngine(deps PushEngineDeps, s Settings) *PushEngine {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s = s.WithDefaults()
	p := &PushEngine{deps: deps, log: log.With(logx.String("comp", "push.exact")), now: time.Now}
	p.settings.Store(&s)

	cfg := s.Engine
	if cfg.Name == "" {
		cfg.Name = "push"
	}
	p.engine = delay.New[PushDelayTask](cfg, mergePushTasks, p, log)
	return p
}

func (p *PushEngine) Start(ctx context.Context) { p.engine.Start(ctx) }
func (p *PushEngine) Stop(ctx context.Context)  { p.engine.Stop(ctx) }

// Size reports pending push tasks.
func (p *PushEngine) Size() int { return p.engine.Size() }

// Pending returns the pending task for key without removing it.
func (p *PushEngine) Pending(key string) (PushDelayTask, bool) { return p.engine.Pending(key) }

// Apply replaces the settings used for tasks created from now on.
func (p *PushEngine) Apply(s Settings) {
	s = s.WithDefaults()
	p.settings.Store(&s)
}

func (p *PushEngine) current() Settings { return *p.settings.Load() }

// OnServiceChanged schedules a push of svc to all of its subscribers.
func (p *PushEngine) OnServiceChanged(svc naming.Service) {
	task := newServiceTask(svc, p.current().schedule(p.now()))
	p.engine.AddTask(task.Key(), task)
}

// OnClientSubscribed schedules a push of svc to clientID only.
func (p *PushEngine) OnClientSubscribed(svc naming.Service, clientID string) error {
	if strings.TrimSpace(clientID) == "" {
		return fmt.Errorf("%w: client id is blank", ErrInvalidParam)
	}
	task := newClientTask(svc, clientID, p.current().schedule(p.now()))
	p.engine.AddTask(task.Key(), task)
	return nil
}

// Process resolves the targets of task and pushes the service state to each.
// Stale clients and subscriptions are skipped. One failing push does not stop
// the others; failures are summarized in the returned error.
func (p *PushEngine) Process(ctx context.Context, key string, task PushDelayTask) error {
	if p.deps.Pusher == nil {
		return ErrNoTransport
	}
	svc := task.Service
	targets := task.Targets
	if task.PushToAll {
		if p.deps.Index == nil {
			return nil
		}
		targets = p.deps.Index.SubscribedClientIDs(svc)
	}
	if len(targets) == 0 {
		p.log.Debug("push skipped, no subscribers", logx.String("key", key))
		return nil
	}

	info := naming.ServiceInfo{Service: svc}
	if p.deps.Storage != nil {
		if got, ok := p.deps.Storage.ServiceInfo(svc); ok {
			info = got
		}
	}

	var (
		sent int
		errs []error
	)
	for _, id := range targets {
		sub, ok := p.subscription(id, svc)
		if !ok {
			continue
		}
		if err := p.deps.Pusher.Push(ctx, id, ServicePush{Subscriber: sub, Info: info}); err != nil {
			errs = append(errs, fmt.Errorf("client %s: %w", id, err))
			continue
		}
		sent++
	}
	p.log.Debug("push cycle done",
		logx.String("service", svc.Key()),
		logx.Int("sent", sent),
		logx.Int("failed", len(errs)),
	)
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d pushes failed: %w", len(errs), sent+len(errs), errors.Join(errs...))
	}
	return nil
}

func (p *PushEngine) subscription(clientID string, svc naming.Service) (naming.Subscriber, bool) {
	if p.deps.Clients == nil {
		return naming.Subscriber{}, false
	}
	client, ok := p.deps.Clients.Client(clientID)
	if !ok {
		p.log.Debug("stale client skipped", logx.String("client", clientID), logx.String("service", svc.Key()))
		return naming.Subscriber{}, false
	}
	sub, ok := client.Subscription(svc)
	if !ok {
		p.log.Debug("stale subscription skipped", logx.String("client", clientID), logx.String("service", svc.Key()))
		return naming.Subscriber{}, false
	}
	return sub, true
}
