// Package monitor periodically logs the push core's performance counters.
package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"namingpush/pkg/logx"
)

// Parser accepts 5 or 6 field specs and descriptors like "@every 1m".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Probe reads one counter at log time.
type Probe struct {
	Name  string
	Value func() int64
}

// Monitor logs every probe on a cron schedule.
type Monitor struct {
	log    logx.Logger
	probes []Probe

	mu   sync.Mutex
	c    *cron.Cron
	spec string
}

func New(log logx.Logger, probes ...Probe) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{log: log.With(logx.String("comp", "monitor")), probes: probes}
}

// Start schedules the log line. An empty spec leaves the monitor idle.
// Calling Start again replaces the schedule.
func (m *Monitor) Start(spec string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c != nil {
		<-m.c.Stop().Done()
		m.c = nil
	}
	m.spec = spec
	if spec == "" {
		return nil
	}
	c := cron.New(cron.WithParser(Parser), cron.WithChain(cron.Recover(cronLogger{m.log})))
	if _, err := c.AddFunc(spec, m.LogOnce); err != nil {
		return fmt.Errorf("monitor spec %q: %w", spec, err)
	}
	c.Start()
	m.c = c
	m.log.Debug("performance log scheduled", logx.String("spec", spec))
	return nil
}

// Stop cancels the schedule and waits for a running log line, or ctx.
func (m *Monitor) Stop(ctx context.Context) {
	m.mu.Lock()
	c := m.c
	m.c = nil
	m.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Snapshot reads every probe.
func (m *Monitor) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(m.probes))
	for _, p := range m.probes {
		if p.Value != nil {
			out[p.Name] = p.Value()
		}
	}
	return out
}

// LogOnce writes one performance line.
func (m *Monitor) LogOnce() {
	fields := make([]logx.Field, 0, len(m.probes))
	for _, p := range m.probes {
		if p.Value != nil {
			fields = append(fields, logx.Int64(p.Name, p.Value()))
		}
	}
	m.log.Info("performance", fields...)
}

// cronLogger adapts logx to cron.Logger for panic recovery output.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, logx.Any("kv", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, logx.Err(err), logx.Any("kv", keysAndValues))
}
