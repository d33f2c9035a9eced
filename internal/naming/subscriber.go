package naming

import "time"

// Subscriber is one client's interest record in one service.
type Subscriber struct {
	ClientID    string            `json:"client_id"`
	Addr        string            `json:"addr"`
	Agent       string            `json:"agent,omitempty"`
	App         string            `json:"app,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Namespace   string            `json:"namespace"`
	GroupedName string            `json:"service"`
	Cluster     string            `json:"cluster,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Identity is the dedup key of a subscriber inside a result set.
func (s Subscriber) Identity() string {
	return s.ClientID + "|" + s.Namespace + GroupSeparator + s.GroupedName
}

// Instance is a single registered endpoint of a service.
type Instance struct {
	IP       string            `json:"ip"`
	Port     int               `json:"port"`
	Weight   float64           `json:"weight"`
	Healthy  bool              `json:"healthy"`
	Enabled  bool              `json:"enabled"`
	Cluster  string            `json:"cluster,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ServiceInfo is the current state of a service as pushed to subscribers.
type ServiceInfo struct {
	Service     Service    `json:"service"`
	Instances   []Instance `json:"instances"`
	Revision    uint64     `json:"revision"`
	LastRefTime time.Time  `json:"last_ref_time"`
}
