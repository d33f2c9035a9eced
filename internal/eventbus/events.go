package eventbus

import (
	"time"

	"namingpush/internal/naming"
)

// Event is a naming-domain signal. The set of kinds is closed: only types in
// this package implement it.
type Event interface {
	// Kind is a short stable name used in logs and metrics.
	Kind() string
	// OccurredAt is the publish time (set by Publish when zero).
	OccurredAt() time.Time

	withTime(t time.Time) Event
}

// ServiceChanged is published when a service's instance set changes.
type ServiceChanged struct {
	Service naming.Service
	Change  naming.ChangeKind
	At      time.Time
}

// ClientSubscribed is published when a client (re)subscribes to a service.
type ClientSubscribed struct {
	Service  naming.Service
	ClientID string
	At       time.Time
}

// FuzzyWatchInit is published when a client registers a pattern watch.
// Pattern is the namespace-qualified pattern (naming.CompletedPattern);
// Matched is the match set at registration time.
type FuzzyWatchInit struct {
	ClientID string
	Pattern  string
	Matched  []naming.Service
	At       time.Time
}

// ServiceMetadataChanged is published on metadata-only updates. Push does not react to it.
type ServiceMetadataChanged struct {
	Service naming.Service
	At      time.Time
}

func (e ServiceChanged) Kind() string         { return "service.changed" }
func (e ClientSubscribed) Kind() string       { return "client.subscribed" }
func (e FuzzyWatchInit) Kind() string         { return "fuzzy_watch.init" }
func (e ServiceMetadataChanged) Kind() string { return "service.metadata_changed" }

func (e ServiceChanged) OccurredAt() time.Time         { return e.At }
func (e ClientSubscribed) OccurredAt() time.Time       { return e.At }
func (e FuzzyWatchInit) OccurredAt() time.Time         { return e.At }
func (e ServiceMetadataChanged) OccurredAt() time.Time { return e.At }

func (e ServiceChanged) withTime(t time.Time) Event         { e.At = t; return e }
func (e ClientSubscribed) withTime(t time.Time) Event       { e.At = t; return e }
func (e FuzzyWatchInit) withTime(t time.Time) Event         { e.At = t; return e }
func (e ServiceMetadataChanged) withTime(t time.Time) Event { e.At = t; return e }
