package config

import (
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "NAMINGPUSH"

// EnvOverrides are environment variables that win over the file.
// Unset variables leave the file value alone.
type EnvOverrides struct {
	// Env: NAMINGPUSH_LOG_LEVEL
	LogLevel string `envconfig:"LOG_LEVEL"`
	// Env: NAMINGPUSH_LOG_FORMAT (pretty|json)
	LogFormat string `envconfig:"LOG_FORMAT"`
	// Env: NAMINGPUSH_PUSH_TASK_DELAY
	PushTaskDelay string `envconfig:"PUSH_TASK_DELAY"`
	// Env: NAMINGPUSH_PARALLEL_SCAN_THRESHOLD
	ParallelScanThreshold int `envconfig:"PARALLEL_SCAN_THRESHOLD"`
	// Env: NAMINGPUSH_HTTP_ADDR
	HTTPAddr string `envconfig:"HTTP_ADDR"`
	// Env: NAMINGPUSH_STORAGE_DRIVER
	StorageDriver string `envconfig:"STORAGE_DRIVER"`
	// Env: NAMINGPUSH_STORAGE_PATH
	StoragePath string `envconfig:"STORAGE_PATH"`
}

// LoadEnv reads the overrides from the environment.
func LoadEnv() (EnvOverrides, error) {
	var o EnvOverrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return EnvOverrides{}, err
	}
	return o, nil
}

// Apply writes the set overrides into cfg.
func (o EnvOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(o.LogFormat); v != "" {
		cfg.Logging.Format = v
	}
	if v := strings.TrimSpace(o.PushTaskDelay); v != "" {
		cfg.Push.TaskDelay = v
	}
	if o.ParallelScanThreshold > 0 {
		cfg.Subscriber.ParallelScanThreshold = o.ParallelScanThreshold
	}
	if v := strings.TrimSpace(o.HTTPAddr); v != "" {
		cfg.HTTP.Addr = v
	}
	if o.StorageDriver != "" || o.StoragePath != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		if o.StorageDriver != "" {
			cfg.Storage.Driver = o.StorageDriver
		}
		if o.StoragePath != "" {
			cfg.Storage.Path = o.StoragePath
		}
	}
}
