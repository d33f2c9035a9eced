package push

import (
	"time"

	"namingpush/internal/push/delay"
)

// Settings is an immutable snapshot of the push configuration.
// Changing configuration means building a new value.
type Settings struct {
	// PushTaskDelay is how long a task waits after its last merge.
	PushTaskDelay time.Duration
	// MaxWait caps how long merges may postpone a task. 0 disables the cap.
	MaxWait time.Duration
	// FuzzyBatchSize is the number of services per fuzzy init push.
	FuzzyBatchSize int
	// PushTimeout bounds one Transport.Push call. 0 means no timeout.
	PushTimeout time.Duration
	// RateLimit is pushes per second across the executor. 0 disables limiting.
	RateLimit float64
	RateBurst int

	Engine delay.Config
}

const (
	DefaultPushTaskDelay  = 500 * time.Millisecond
	DefaultFuzzyBatchSize = 100
	DefaultPushTimeout    = 3 * time.Second
)

func DefaultSettings() Settings {
	return Settings{
		PushTaskDelay:  DefaultPushTaskDelay,
		MaxWait:        10 * DefaultPushTaskDelay,
		FuzzyBatchSize: DefaultFuzzyBatchSize,
		PushTimeout:    DefaultPushTimeout,
	}
}

// WithDefaults fills unset fields.
func (s Settings) WithDefaults() Settings {
	if s.PushTaskDelay < 0 {
		s.PushTaskDelay = 0
	}
	if s.FuzzyBatchSize <= 0 {
		s.FuzzyBatchSize = DefaultFuzzyBatchSize
	}
	if s.MaxWait < 0 {
		s.MaxWait = 0
	}
	if s.RateLimit > 0 && s.RateBurst <= 0 {
		s.RateBurst = 1
	}
	return s
}

func (s Settings) schedule(now time.Time) delay.Schedule {
	return delay.NewSchedule(now, s.PushTaskDelay, s.MaxWait)
}
