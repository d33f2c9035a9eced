package delay

import (
	"context"
	"time"
)

// Schedule is the timing state every delay task carries.
//
// A task is ready once Delay has elapsed since LastProcess. LastProcess moves
// forward on every merge, so bursts keep postponing the task; MaxWait (when
// > 0) caps that: a task first seen MaxWait ago is ready regardless.
type Schedule struct {
	Delay       time.Duration
	MaxWait     time.Duration
	LastProcess time.Time
	FirstSeen   time.Time
}

func NewSchedule(now time.Time, delay, maxWait time.Duration) Schedule {
	if delay < 0 {
		delay = 0
	}
	return Schedule{Delay: delay, MaxWait: maxWait, LastProcess: now, FirstSeen: now}
}

// Ready reports whether a task with this schedule should fire at now.
func (s Schedule) Ready(now time.Time) bool {
	if now.Sub(s.LastProcess) >= s.Delay {
		return true
	}
	return s.MaxWait > 0 && now.Sub(s.FirstSeen) >= s.MaxWait
}

// Merge returns the schedule of s after it absorbed older: the latest
// LastProcess and the earliest FirstSeen win.
func (s Schedule) Merge(older Schedule) Schedule {
	out := s
	if older.LastProcess.After(out.LastProcess) {
		out.LastProcess = older.LastProcess
	}
	if !older.FirstSeen.IsZero() && (out.FirstSeen.IsZero() || older.FirstSeen.Before(out.FirstSeen)) {
		out.FirstSeen = older.FirstSeen
	}
	return out
}

// Restart returns a fresh schedule with the same delay settings, started at now.
func (s Schedule) Restart(now time.Time) Schedule {
	return NewSchedule(now, s.Delay, s.MaxWait)
}

// Task is anything the engine can hold.
type Task interface {
	Timing() Schedule
}

// MergeFunc combines a pending task with an incoming one for the same key.
// It must not mutate either argument.
type MergeFunc[T Task] func(pending, incoming T) T

// Processor executes a task whose delay has elapsed.
type Processor[T Task] interface {
	Process(ctx context.Context, key string, task T) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc[T Task] func(ctx context.Context, key string, task T) error

func (f ProcessorFunc[T]) Process(ctx context.Context, key string, task T) error {
	return f(ctx, key, task)
}

// Replace is a MergeFunc that keeps only the incoming task.
func Replace[T Task](_ T, incoming T) T { return incoming }
