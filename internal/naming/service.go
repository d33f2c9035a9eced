// Package naming holds the registry domain types shared by the push core
// and the collaborator interfaces it reads from.
package naming

import (
	"strings"
)

const (
	// GroupSeparator joins group and service name in a grouped service name.
	GroupSeparator = "@@"
	// PatternSeparator joins a namespace and a grouped pattern in a completed pattern.
	PatternSeparator = ">>"

	DefaultNamespace = "public"
	DefaultGroup     = "DEFAULT_GROUP"
)

// Service identifies a discoverable service. Equality is by the triple.
type Service struct {
	Namespace string `json:"namespace"`
	Group     string `json:"group"`
	Name      string `json:"name"`
}

// NewService fills empty namespace and group with their defaults.
func NewService(namespace, group, name string) Service {
	if strings.TrimSpace(namespace) == "" {
		namespace = DefaultNamespace
	}
	if strings.TrimSpace(group) == "" {
		group = DefaultGroup
	}
	return Service{Namespace: namespace, Group: group, Name: name}
}

// GroupedName returns "group@@name".
func (s Service) GroupedName() string {
	return s.Group + GroupSeparator + s.Name
}

// Key returns "namespace@@group@@name".
func (s Service) Key() string {
	return s.Namespace + GroupSeparator + s.Group + GroupSeparator + s.Name
}

func (s Service) String() string { return s.Key() }

// SplitGroupedName splits "group@@name". A name without a group falls back to DefaultGroup.
func SplitGroupedName(grouped string) (group, name string) {
	if i := strings.Index(grouped, GroupSeparator); i >= 0 {
		return grouped[:i], grouped[i+len(GroupSeparator):]
	}
	return DefaultGroup, grouped
}

// ParseGroupedName builds a Service from a namespace and "group@@name".
func ParseGroupedName(namespace, grouped string) Service {
	group, name := SplitGroupedName(grouped)
	return NewService(namespace, group, name)
}

// CompletedPattern qualifies a grouped-name pattern with its namespace:
// "namespace>>group@@pattern". A fuzzy watch is identified by it, so one
// pattern watched in two namespaces stays two watches.
func CompletedPattern(namespace, groupedPattern string) string {
	if strings.TrimSpace(namespace) == "" {
		namespace = DefaultNamespace
	}
	return namespace + PatternSeparator + groupedPattern
}

// ChangeKind describes how a service changed for fuzzy watchers.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "ADD_SERVICE"
	ChangeRemoved ChangeKind = "DELETE_SERVICE"
	ChangeChanged ChangeKind = "INSTANCE_CHANGED"
)

// Valid reports whether k is one of the known kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeAdded, ChangeRemoved, ChangeChanged:
		return true
	}
	return false
}
