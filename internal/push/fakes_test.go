package push

import (
	"context"
	"errors"
	"sync"

	"namingpush/internal/naming"
)

type fakeClient struct {
	id   string
	subs map[naming.Service]naming.Subscriber
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Subscription(svc naming.Service) (naming.Subscriber, bool) {
	s, ok := c.subs[svc]
	return s, ok
}

// fakeRegistry implements every read collaborator the engines need.
type fakeRegistry struct {
	mu       sync.Mutex
	clients  map[string]*fakeClient
	index    map[naming.Service][]string
	infos    map[naming.Service]naming.ServiceInfo
	watchers map[naming.Service][]naming.FuzzyWatcher
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		clients:  map[string]*fakeClient{},
		index:    map[naming.Service][]string{},
		infos:    map[naming.Service]naming.ServiceInfo{},
		watchers: map[naming.Service][]naming.FuzzyWatcher{},
	}
}

func (r *fakeRegistry) addClient(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = &fakeClient{id: id, subs: map[naming.Service]naming.Subscriber{}}
}

func (r *fakeRegistry) subscribe(id string, svc naming.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok {
		c.subs[svc] = naming.Subscriber{ClientID: id, Namespace: svc.Namespace, GroupedName: svc.GroupedName()}
	}
	r.index[svc] = append(r.index[svc], id)
}

func (r *fakeRegistry) ClientExists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[id]
	return ok
}

func (r *fakeRegistry) Client(id string) (naming.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, false
	}
	return c, true
}

func (r *fakeRegistry) SubscribedClientIDs(svc naming.Service) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.index[svc]...)
}

func (r *fakeRegistry) SubscribedServices() []naming.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]naming.Service, 0, len(r.index))
	for svc := range r.index {
		out = append(out, svc)
	}
	return out
}

func (r *fakeRegistry) ServiceInfo(svc naming.Service) (naming.ServiceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[svc]
	return info, ok
}

func (r *fakeRegistry) Watchers(svc naming.Service) []naming.FuzzyWatcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]naming.FuzzyWatcher(nil), r.watchers[svc]...)
}

type delivery struct {
	clientID string
	payload  Payload
}

// fakeTransport records deliveries. It fails for clients in failFor and for
// the first failFirst calls.
type fakeTransport struct {
	mu        sync.Mutex
	got       []delivery
	failFor   map[string]bool
	failFirst int
}

var errTransport = errors.New("connection reset")

func (t *fakeTransport) Push(_ context.Context, clientID string, p Payload) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failFor[clientID] {
		return errTransport
	}
	if t.failFirst > 0 {
		t.failFirst--
		return errTransport
	}
	t.got = append(t.got, delivery{clientID: clientID, payload: p})
	return nil
}

func (t *fakeTransport) deliveries() []delivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]delivery(nil), t.got...)
}

func (t *fakeTransport) countFor(clientID string) int {
	n := 0
	for _, d := range t.deliveries() {
		if d.clientID == clientID {
			n++
		}
	}
	return n
}
