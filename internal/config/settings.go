package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"namingpush/internal/monitor"
	"namingpush/internal/push"
	"namingpush/internal/push/delay"
	"namingpush/internal/storage"
	"namingpush/internal/subscriber"
	"namingpush/pkg/logx"
)

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		Format:  c.Logging.Format,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}

// PushSettings converts the push section, filling defaults.
func (c *Config) PushSettings() (push.Settings, error) {
	p := c.Push
	s := push.DefaultSettings()
	var err error
	if s.PushTaskDelay, err = ParseDurationOrDefault("push.task_delay", p.TaskDelay, push.DefaultPushTaskDelay); err != nil {
		return push.Settings{}, err
	}
	s.MaxWait = 10 * s.PushTaskDelay
	if strings.TrimSpace(p.MaxWait) != "" {
		if s.MaxWait, err = ParseDurationField("push.max_wait", p.MaxWait); err != nil {
			return push.Settings{}, err
		}
	}
	if s.PushTimeout, err = ParseDurationOrDefault("push.timeout", p.Timeout, push.DefaultPushTimeout); err != nil {
		return push.Settings{}, err
	}
	if p.FuzzyBatchSize > 0 {
		s.FuzzyBatchSize = p.FuzzyBatchSize
	}
	if p.RatePerSec < 0 {
		return push.Settings{}, errors.New("push.rate_per_sec must be >= 0")
	}
	s.RateLimit = p.RatePerSec
	s.RateBurst = p.RateBurst

	poll, err := ParseDurationField("push.poll_interval", p.PollInterval)
	if err != nil {
		return push.Settings{}, err
	}
	s.Engine = delay.Config{PollInterval: poll, Workers: p.Workers, QueueSize: p.QueueSize}
	return s.WithDefaults(), nil
}

// SubscriberSettings converts the subscriber section, including push settings.
func (c *Config) SubscriberSettings() (subscriber.Settings, error) {
	ps, err := c.PushSettings()
	if err != nil {
		return subscriber.Settings{}, err
	}
	s := subscriber.DefaultSettings()
	if v := c.Subscriber.ParallelScanThreshold; v > 0 {
		s.ParallelScanThreshold = v
	}
	if v := c.Subscriber.ScanWorkers; v > 0 {
		s.ScanWorkers = v
	}
	if v := c.Subscriber.EventBuffer; v > 0 {
		s.EventBuffer = v
	}
	s.Push = ps
	return s.WithDefaults(), nil
}

// StoreConfig converts the storage section. A missing section or driver
// "none" disables storage.
func (c *Config) StoreConfig() (storage.Config, error) {
	if c.Storage == nil {
		return storage.Config{}, nil
	}
	sc := c.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, nil
	case "file":
		if path == "" {
			return storage.Config{}, errors.New("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, MaxTraces: sc.MaxTraces}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// TraceBuffer is the async trace writer buffer size.
func (c *Config) TraceBuffer() int {
	if c.Storage == nil || c.Storage.TraceBuffer <= 0 {
		return 1024
	}
	return c.Storage.TraceBuffer
}

// MonitorSpec returns the cron spec of the performance log, or "" when disabled.
func (c *Config) MonitorSpec() string {
	if !c.Monitor.Enabled {
		return ""
	}
	if s := strings.TrimSpace(c.Monitor.Spec); s != "" {
		return s
	}
	return DefaultMonitorSpec
}

// Validate checks every section that has a runtime conversion.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, err := c.SubscriberSettings(); err != nil {
		return err
	}
	if _, err := c.StoreConfig(); err != nil {
		return err
	}
	if spec := c.MonitorSpec(); spec != "" {
		if _, err := monitor.Parser.Parse(spec); err != nil {
			return fmt.Errorf("monitor.spec: %w", err)
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "pretty", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	return nil
}

// HTTPTimeouts returns the read and write timeouts of the HTTP server.
func (c *Config) HTTPTimeouts() (read, write time.Duration) {
	read, _ = ParseDurationOrDefault("http.read_timeout", c.HTTP.ReadTimeout, 10*time.Second)
	write, _ = ParseDurationOrDefault("http.write_timeout", c.HTTP.WriteTimeout, 30*time.Second)
	return read, write
}

// HTTPAddr returns the listen address, or "" when the API is disabled.
func (c *Config) HTTPAddr() string {
	if !c.HTTP.Enabled {
		return ""
	}
	if a := strings.TrimSpace(c.HTTP.Addr); a != "" {
		return a
	}
	return DefaultHTTPAddr
}
