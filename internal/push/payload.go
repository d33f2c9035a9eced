package push

import (
	"context"

	"namingpush/internal/naming"
)

// Payload is what a Transport delivers to one client. The set of variants
// is closed: ServicePush, FuzzyInitPush and FuzzyChangePush.
type Payload interface {
	Kind() string
	// Target names what the push is about, for logs and traces.
	Target() string
	payload()
}

// ServicePush carries the current state of a service to one subscriber.
type ServicePush struct {
	Subscriber naming.Subscriber  `json:"subscriber"`
	Info       naming.ServiceInfo `json:"info"`
}

// FuzzyInitPush carries one batch of the initial match set of a fuzzy watch.
// Pattern is the completed pattern; Services are grouped names inside its namespace.
type FuzzyInitPush struct {
	Pattern  string   `json:"pattern"`
	Services []string `json:"services"`
	// Batch is 1-based. Total is the size of the original match set.
	Batch    int  `json:"batch"`
	Total    int  `json:"total"`
	Finished bool `json:"finished"`
}

// FuzzyChangePush tells a watcher that one matching service changed.
type FuzzyChangePush struct {
	Pattern    string            `json:"pattern"`
	ServiceKey string            `json:"service_key"`
	Change     naming.ChangeKind `json:"change"`
}

const (
	KindService     = "service"
	KindFuzzyInit   = "fuzzy_init"
	KindFuzzyChange = "fuzzy_change"
)

func (ServicePush) Kind() string       { return KindService }
func (p ServicePush) Target() string   { return p.Info.Service.Key() }
func (ServicePush) payload()           {}
func (FuzzyInitPush) Kind() string     { return KindFuzzyInit }
func (p FuzzyInitPush) Target() string { return p.Pattern }
func (FuzzyInitPush) payload()         {}
func (FuzzyChangePush) Kind() string   { return KindFuzzyChange }
func (p FuzzyChangePush) Target() string {
	return p.Pattern + TaskKeySeparator + p.ServiceKey
}
func (FuzzyChangePush) payload() {}

// Transport delivers a payload to a connected client. Retries, if any,
// belong to the transport.
type Transport interface {
	Push(ctx context.Context, clientID string, p Payload) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, clientID string, p Payload) error

func (f TransportFunc) Push(ctx context.Context, clientID string, p Payload) error {
	return f(ctx, clientID, p)
}
