// Package registry is an in-memory implementation of the registry
// collaborators the push core reads from. It backs the standalone binary
// and end-to-end tests.
package registry

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"namingpush/internal/naming"
)

var (
	ErrUnknownClient = errors.New("unknown client")
	ErrBadPattern    = errors.New("bad fuzzy pattern")
)

type watch struct {
	namespace string
	pattern   string
}

type clientState struct {
	id   string
	addr string
	subs map[naming.Service]naming.Subscriber
}

// Memory implements naming.ClientRegistry, naming.SubscriberIndex,
// naming.FuzzyWatchIndex and naming.ServiceStorage.
type Memory struct {
	mu      sync.RWMutex
	clients map[string]*clientState
	index   map[naming.Service]map[string]struct{}
	infos   map[naming.Service]naming.ServiceInfo
	watches map[string]map[watch]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		clients: map[string]*clientState{},
		index:   map[naming.Service]map[string]struct{}{},
		infos:   map[naming.Service]naming.ServiceInfo{},
		watches: map[string]map[watch]struct{}{},
	}
}

// Connect registers a client. Connecting an existing id updates its address.
func (m *Memory) Connect(id, addr string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: blank id", ErrUnknownClient)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[id]; ok {
		c.addr = addr
		return nil
	}
	m.clients[id] = &clientState{id: id, addr: addr, subs: map[naming.Service]naming.Subscriber{}}
	return nil
}

// Disconnect removes a client with its subscriptions and watches.
func (m *Memory) Disconnect(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return
	}
	for svc := range c.subs {
		m.unindex(svc, id)
	}
	delete(m.clients, id)
	delete(m.watches, id)
}

// Subscribe records sub for its service and returns that service.
func (m *Memory) Subscribe(sub naming.Subscriber) (naming.Service, error) {
	svc := naming.ParseGroupedName(sub.Namespace, sub.GroupedName)
	sub.Namespace = svc.Namespace
	sub.GroupedName = svc.GroupedName()

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[sub.ClientID]
	if !ok {
		return svc, fmt.Errorf("%w: %s", ErrUnknownClient, sub.ClientID)
	}
	if sub.Addr == "" {
		sub.Addr = c.addr
	}
	c.subs[svc] = sub
	ids, ok := m.index[svc]
	if !ok {
		ids = map[string]struct{}{}
		m.index[svc] = ids
	}
	ids[sub.ClientID] = struct{}{}
	return svc, nil
}

// Unsubscribe drops the subscription of id to svc.
func (m *Memory) Unsubscribe(id string, svc naming.Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[id]; ok {
		delete(c.subs, svc)
	}
	m.unindex(svc, id)
}

func (m *Memory) unindex(svc naming.Service, id string) {
	ids := m.index[svc]
	delete(ids, id)
	if len(ids) == 0 {
		delete(m.index, svc)
	}
}

// PutService stores the push data of a service. A zero LastRefTime is set to now.
func (m *Memory) PutService(info naming.ServiceInfo) {
	if info.LastRefTime.IsZero() {
		info.LastRefTime = time.Now()
	}
	m.mu.Lock()
	m.infos[info.Service] = info
	m.mu.Unlock()
}

// RemoveService forgets the push data of svc.
func (m *Memory) RemoveService(svc naming.Service) {
	m.mu.Lock()
	delete(m.infos, svc)
	m.mu.Unlock()
}

// Watch registers a fuzzy watch of id on pattern inside namespace and
// returns the services currently matching it.
//
// pattern is a glob (path.Match syntax) matched against "group@@name".
func (m *Memory) Watch(id, namespace, pattern string) ([]naming.Service, error) {
	if namespace == "" {
		namespace = naming.DefaultNamespace
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadPattern, pattern, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	ws, ok := m.watches[id]
	if !ok {
		ws = map[watch]struct{}{}
		m.watches[id] = ws
	}
	w := watch{namespace: namespace, pattern: pattern}
	ws[w] = struct{}{}

	var matched []naming.Service
	for _, svc := range m.knownServicesLocked() {
		if w.matches(svc) {
			matched = append(matched, svc)
		}
	}
	return matched, nil
}

// Unwatch removes one fuzzy watch.
func (m *Memory) Unwatch(id, namespace, pattern string) {
	if namespace == "" {
		namespace = naming.DefaultNamespace
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watches[id], watch{namespace: namespace, pattern: pattern})
}

func (w watch) matches(svc naming.Service) bool {
	if svc.Namespace != w.namespace {
		return false
	}
	ok, _ := path.Match(w.pattern, svc.GroupedName())
	return ok
}

func (m *Memory) knownServicesLocked() []naming.Service {
	seen := make(map[naming.Service]struct{}, len(m.infos)+len(m.index))
	out := make([]naming.Service, 0, len(seen))
	for svc := range m.infos {
		seen[svc] = struct{}{}
		out = append(out, svc)
	}
	for svc := range m.index {
		if _, ok := seen[svc]; !ok {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ClientExists implements naming.ClientRegistry.
func (m *Memory) ClientExists(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[id]
	return ok
}

// Client returns a snapshot of the client's subscriptions.
func (m *Memory) Client(id string) (naming.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, false
	}
	subs := make(map[naming.Service]naming.Subscriber, len(c.subs))
	for k, v := range c.subs {
		subs[k] = v
	}
	return clientView{id: c.id, subs: subs}, true
}

// ClientIDs lists connected clients, sorted.
func (m *Memory) ClientIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.clients))
	for id := range m.clients {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SubscribedClientIDs implements naming.SubscriberIndex.
func (m *Memory) SubscribedClientIDs(svc naming.Service) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.index[svc]
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SubscribedServices implements naming.SubscriberIndex.
func (m *Memory) SubscribedServices() []naming.Service {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]naming.Service, 0, len(m.index))
	for svc := range m.index {
		out = append(out, svc)
	}
	return out
}

// Watchers implements naming.FuzzyWatchIndex.
func (m *Memory) Watchers(svc naming.Service) []naming.FuzzyWatcher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []naming.FuzzyWatcher
	for id, ws := range m.watches {
		for w := range ws {
			if w.matches(svc) {
				out = append(out, naming.FuzzyWatcher{ClientID: id, Pattern: naming.CompletedPattern(w.namespace, w.pattern)})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClientID != out[j].ClientID {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// ServiceInfo implements naming.ServiceStorage.
func (m *Memory) ServiceInfo(svc naming.Service) (naming.ServiceInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.infos[svc]
	return info, ok
}

type clientView struct {
	id   string
	subs map[naming.Service]naming.Subscriber
}

func (c clientView) ID() string { return c.id }

func (c clientView) Subscription(svc naming.Service) (naming.Subscriber, bool) {
	s, ok := c.subs[svc]
	return s, ok
}

var (
	_ naming.ClientRegistry  = (*Memory)(nil)
	_ naming.SubscriberIndex = (*Memory)(nil)
	_ naming.FuzzyWatchIndex = (*Memory)(nil)
	_ naming.ServiceStorage  = (*Memory)(nil)
)
