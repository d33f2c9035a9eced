// Package config loads the namingpush configuration file (JSON or YAML),
// applies NAMINGPUSH_* environment overrides and watches the file for
// hot reloads.
package config

// Config is the on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Push       PushConfig       `json:"push"`
	Subscriber SubscriberConfig `json:"subscriber"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	HTTP       HTTPConfig       `json:"http"`
	Monitor    MonitorConfig    `json:"monitor"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	// Format is "pretty" or "json".
	Format string      `json:"format,omitempty"`
	File   LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PushConfig controls both push engines and the push executor.
//
// Defaults (when fields are omitted/zero):
//   - task_delay: "500ms"
//   - max_wait: 10 x task_delay when omitted; "0s" disables the cap
//   - fuzzy_batch_size: 100
//   - timeout: "3s"
//   - rate_per_sec: 0 (unlimited)
//   - workers: 4, poll_interval: "100ms", queue_size: 1024
type PushConfig struct {
	TaskDelay      string  `json:"task_delay"`
	MaxWait        string  `json:"max_wait,omitempty"`
	FuzzyBatchSize int     `json:"fuzzy_batch_size,omitempty"`
	Timeout        string  `json:"timeout,omitempty"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
	RateBurst      int     `json:"rate_burst,omitempty"`

	Workers      int    `json:"workers,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`
}

type SubscriberConfig struct {
	ParallelScanThreshold int `json:"parallel_scan_threshold,omitempty"`
	ScanWorkers           int `json:"scan_workers,omitempty"`
	EventBuffer           int `json:"event_buffer,omitempty"`
}

// StorageConfig controls the optional push trace store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/namingpush" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxTraces   int    `json:"max_traces,omitempty"`   // sqlite
	TraceBuffer int    `json:"trace_buffer,omitempty"`
}

// HTTPConfig controls the operational HTTP API.
type HTTPConfig struct {
	Enabled bool `json:"enabled"`
	// Addr defaults to "127.0.0.1:8849".
	Addr         string `json:"addr,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`

	// Pprof mounts net/http/pprof under /debug on the API listener.
	Pprof                bool `json:"pprof,omitempty"`
	MutexProfileFraction int  `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int  `json:"block_profile_rate,omitempty"`
}

// MonitorConfig controls the periodic performance log.
type MonitorConfig struct {
	Enabled bool `json:"enabled"`
	// Spec is a cron spec; defaults to "@every 1m".
	Spec string `json:"spec,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true, Format: "pretty"},
		Push:    PushConfig{TaskDelay: "500ms"},
		HTTP:    HTTPConfig{Enabled: true, Addr: DefaultHTTPAddr},
		Monitor: MonitorConfig{Enabled: true, Spec: DefaultMonitorSpec},
	}
}

const (
	DefaultHTTPAddr    = "127.0.0.1:8849"
	DefaultMonitorSpec = "@every 1m"
)
