package naming

// The push core only reads from the registry. These interfaces are the
// whole surface it needs; internal/registry has in-memory implementations.

// Client is a connected registry client.
type Client interface {
	ID() string
	// Subscription returns the client's subscriber record for svc.
	Subscription(svc Service) (Subscriber, bool)
}

// ClientRegistry looks clients up by id.
type ClientRegistry interface {
	ClientExists(id string) bool
	Client(id string) (Client, bool)
}

// SubscriberIndex is the service -> subscribed clients reverse index.
type SubscriberIndex interface {
	SubscribedClientIDs(svc Service) []string
	SubscribedServices() []Service
}

// FuzzyWatcher is one client watching one pattern.
type FuzzyWatcher struct {
	ClientID string `json:"client_id"`
	// Pattern is the completed pattern, see CompletedPattern.
	Pattern string `json:"pattern"`
}

// FuzzyWatchIndex reports which (client, pattern) pairs currently match a service.
type FuzzyWatchIndex interface {
	Watchers(svc Service) []FuzzyWatcher
}

// ServiceStorage returns the current push data of a service.
type ServiceStorage interface {
	ServiceInfo(svc Service) (ServiceInfo, bool)
}
