package config

import (
	"reflect"
	"strings"

	"namingpush/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and
// structured attrs describing their new values, for the reload log line.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Push != newCfg.Push {
		changed = append(changed, "push")
		attrs = append(attrs,
			logx.String("push.task_delay", strings.TrimSpace(newCfg.Push.TaskDelay)),
			logx.String("push.max_wait", strings.TrimSpace(newCfg.Push.MaxWait)),
			logx.Int("push.fuzzy_batch_size", newCfg.Push.FuzzyBatchSize),
		)
		if oldCfg.Push.Workers != newCfg.Push.Workers ||
			oldCfg.Push.PollInterval != newCfg.Push.PollInterval ||
			oldCfg.Push.QueueSize != newCfg.Push.QueueSize {
			attrs = append(attrs, logx.Bool("push.engine_restart_required", true))
		}
	}

	if oldCfg.Subscriber != newCfg.Subscriber {
		changed = append(changed, "subscriber")
		attrs = append(attrs, logx.Int("subscriber.parallel_scan_threshold", newCfg.Subscriber.ParallelScanThreshold))
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		attrs = append(attrs, logx.String("storage.driver", driver), logx.Bool("storage.restart_required", true))
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr), logx.Bool("http.restart_required", true))
	}

	if oldCfg.Monitor != newCfg.Monitor {
		changed = append(changed, "monitor")
		attrs = append(attrs, logx.Bool("monitor.enabled", newCfg.Monitor.Enabled), logx.String("monitor.spec", newCfg.Monitor.Spec))
	}

	return changed, attrs
}
