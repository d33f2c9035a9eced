package subscriber

import (
	"runtime"

	"namingpush/internal/push"
)

// DefaultParallelScanThreshold is the number of subscribed services above
// which FuzzySubscribers fans the scan out over workers.
const DefaultParallelScanThreshold = 100

// DefaultEventBuffer is the bus subscription buffer. The bus drops events
// for a full subscriber, so it is sized for large registration bursts.
const DefaultEventBuffer = 16384

// Settings is an immutable snapshot; Apply swaps the whole value.
type Settings struct {
	ParallelScanThreshold int
	ScanWorkers           int
	// EventBuffer is the bus subscription buffer.
	EventBuffer int
	Push        push.Settings
}

func DefaultSettings() Settings {
	return Settings{
		ParallelScanThreshold: DefaultParallelScanThreshold,
		ScanWorkers:           runtime.GOMAXPROCS(0),
		EventBuffer:           DefaultEventBuffer,
		Push:                  push.DefaultSettings(),
	}
}

func (s Settings) WithDefaults() Settings {
	if s.ParallelScanThreshold <= 0 {
		s.ParallelScanThreshold = DefaultParallelScanThreshold
	}
	if s.ScanWorkers <= 0 {
		s.ScanWorkers = runtime.GOMAXPROCS(0)
	}
	if s.EventBuffer <= 0 {
		s.EventBuffer = DefaultEventBuffer
	}
	s.Push = s.Push.WithDefaults()
	return s
}
