package storage

import (
	"context"
	"sync/atomic"
	"time"

	"namingpush/pkg/logx"
)

// Recorder writes push traces to a Store off the push path.
// Record never blocks; traces that do not fit the buffer are dropped and counted.
type Recorder struct {
	store   Store
	log     logx.Logger
	ch      chan PushTrace
	dropped atomic.Uint64
}

func NewRecorder(store Store, buffer int, log logx.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 1024
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log, ch: make(chan PushTrace, buffer)}
}

// Record queues t for persistence. A nil Recorder or store discards it.
func (r *Recorder) Record(t PushTrace) {
	if r == nil || r.store == nil {
		return
	}
	select {
	case r.ch <- t:
	default:
		r.dropped.Add(1)
	}
}

// Dropped reports traces discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Run drains queued traces into the store until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	if r == nil || r.store == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return ctx.Err()
		case t := <-r.ch:
			r.write(ctx, t)
		}
	}
}

func (r *Recorder) write(ctx context.Context, t PushTrace) {
	cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	if err := r.store.AppendTrace(cctx, t); err != nil {
		r.log.Debug("push trace write failed", logx.String("trace", t.ID), logx.Err(err))
	}
}

// flush writes whatever is still buffered, best-effort.
func (r *Recorder) flush() {
	for {
		select {
		case t := <-r.ch:
			r.write(context.Background(), t)
		default:
			return
		}
	}
}
