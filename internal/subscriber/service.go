// Package subscriber routes naming events to the push engines and answers
// subscriber queries.
package subscriber

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"namingpush/internal/eventbus"
	"namingpush/internal/metrics"
	"namingpush/internal/naming"
	"namingpush/internal/push"
	rtsup "namingpush/internal/runtime/supervisor"
	"namingpush/pkg/logx"
)

// Deps are the collaborators of Service.
type Deps struct {
	Bus     eventbus.Bus
	Clients naming.ClientRegistry
	Index   naming.SubscriberIndex
	Exact   *push.PushEngine
	Fuzzy   *push.FuzzyEngine
	Log     logx.Logger
}

// Service consumes the event bus and feeds the exact and fuzzy push engines.
type Service struct {
	deps     Deps
	log      logx.Logger
	settings atomic.Pointer[Settings]

	mu    sync.Mutex
	sup   *rtsup.Supervisor
	unsub func()
}

func New(deps Deps, s Settings) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s = s.WithDefaults()
	svc := &Service{deps: deps, log: log.With(logx.String("comp", "subscriber"))}
	svc.settings.Store(&s)
	return svc
}

func (s *Service) current() Settings { return *s.settings.Load() }

// Apply replaces the settings snapshot. Push settings reach the engines and
// only affect tasks created afterwards.
func (s *Service) Apply(cfg Settings) {
	cfg = cfg.WithDefaults()
	s.settings.Store(&cfg)
	if s.deps.Exact != nil {
		s.deps.Exact.Apply(cfg.Push)
	}
	if s.deps.Fuzzy != nil {
		s.deps.Fuzzy.Apply(cfg.Push)
	}
}

// Start launches both engines and the event consumer. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup := s.sup
	var events <-chan eventbus.Event
	if s.deps.Bus != nil {
		events, s.unsub = s.deps.Bus.Subscribe(s.current().EventBuffer)
	}
	s.mu.Unlock()

	if s.deps.Exact != nil {
		s.deps.Exact.Start(sup.Context())
	}
	if s.deps.Fuzzy != nil {
		s.deps.Fuzzy.Start(sup.Context())
	}
	if events != nil {
		sup.Go("events", func(c context.Context) error { return s.consume(c, events) })
	}
	s.log.Info("subscriber service started")
}

// Stop stops the consumer and the engines. Pending tasks are kept.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, unsub := s.sup, s.unsub
	s.sup, s.unsub = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if unsub != nil {
		unsub()
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("event consumer stop", logx.Err(err))
	}
	if s.deps.Exact != nil {
		s.deps.Exact.Stop(ctx)
	}
	if s.deps.Fuzzy != nil {
		s.deps.Fuzzy.Stop(ctx)
	}
	s.log.Info("subscriber service stopped", logx.Int("pending", s.PendingTaskCount()))
}

func (s *Service) consume(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.OnEvent(e); err != nil {
				s.log.Warn("event rejected", logx.String("kind", e.Kind()), logx.Err(err))
			}
		}
	}
}

// OnEvent routes one event to the engines. Kinds push does not handle are ignored.
func (s *Service) OnEvent(e eventbus.Event) error {
	switch ev := e.(type) {
	case eventbus.ServiceChanged:
		metrics.ServiceChangeCount.WithLabelValues(ev.Service.Namespace).Inc()
		if s.deps.Exact != nil {
			s.deps.Exact.OnServiceChanged(ev.Service)
		}
		if s.deps.Fuzzy != nil {
			s.deps.Fuzzy.OnServiceChanged(ev.Service, ev.Change)
		}
		return nil
	case eventbus.ClientSubscribed:
		if s.deps.Exact == nil {
			return nil
		}
		return s.deps.Exact.OnClientSubscribed(ev.Service, ev.ClientID)
	case eventbus.FuzzyWatchInit:
		if s.deps.Fuzzy == nil {
			return nil
		}
		return s.deps.Fuzzy.OnFuzzyWatchInit(ev.ClientID, ev.Pattern, ev.Matched)
	default:
		return nil
	}
}

// PendingTaskCount sums the pending tasks of both engines.
func (s *Service) PendingTaskCount() int {
	n := 0
	if s.deps.Exact != nil {
		n += s.deps.Exact.Size()
	}
	if s.deps.Fuzzy != nil {
		n += s.deps.Fuzzy.Size()
	}
	return n
}

// Subscribers returns the live subscribers of svc. Clients that disappeared
// or dropped the subscription are skipped.
func (s *Service) Subscribers(svc naming.Service) []naming.Subscriber {
	if s.deps.Index == nil || s.deps.Clients == nil {
		return nil
	}
	var out []naming.Subscriber
	for _, id := range s.deps.Index.SubscribedClientIDs(svc) {
		client, ok := s.deps.Clients.Client(id)
		if !ok {
			continue
		}
		sub, ok := client.Subscription(svc)
		if !ok {
			continue
		}
		out = append(out, sub)
	}
	return out
}

// SubscribersByName is Subscribers for a "group@@name" service in namespace.
func (s *Service) SubscribersByName(namespace, groupedName string) []naming.Subscriber {
	return s.Subscribers(naming.ParseGroupedName(namespace, groupedName))
}

// FuzzySubscribersOf is FuzzySubscribers with svc's own grouped name as the pattern.
func (s *Service) FuzzySubscribersOf(svc naming.Service) []naming.Subscriber {
	return s.FuzzySubscribers(svc.Namespace, svc.GroupedName())
}

// FuzzySubscribers returns the subscribers of every subscribed service in
// namespace whose group and name contain the group and name parts of
// groupedPattern. The result is deduplicated and sorted by identity.
func (s *Service) FuzzySubscribers(namespace, groupedPattern string) []naming.Subscriber {
	if s.deps.Index == nil {
		return nil
	}
	groupPart, namePart := naming.SplitGroupedName(groupedPattern)
	match := func(svc naming.Service) bool {
		return svc.Namespace == namespace &&
			strings.Contains(svc.Name, namePart) &&
			strings.Contains(svc.Group, groupPart)
	}

	services := s.deps.Index.SubscribedServices()
	cfg := s.current()
	var matched []naming.Service
	if len(services) > cfg.ParallelScanThreshold && cfg.ScanWorkers > 1 {
		matched = s.scanParallel(services, cfg.ScanWorkers, match)
	} else {
		for _, svc := range services {
			if match(svc) {
				matched = append(matched, svc)
			}
		}
	}

	seen := map[string]struct{}{}
	var out []naming.Subscriber
	for _, svc := range matched {
		for _, sub := range s.Subscribers(svc) {
			id := sub.Identity()
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity() < out[j].Identity() })
	return out
}

// scanParallel splits services into one chunk per worker and filters the
// chunks concurrently.
func (s *Service) scanParallel(services []naming.Service, workers int, match func(naming.Service) bool) []naming.Service {
	if workers > len(services) {
		workers = len(services)
	}
	chunk := (len(services) + workers - 1) / workers
	parts := make([][]naming.Service, workers)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		lo := w * chunk
		hi := min(lo+chunk, len(services))
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			for _, svc := range services[lo:hi] {
				if match(svc) {
					parts[w] = append(parts[w], svc)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []naming.Service
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
