package push

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"namingpush/internal/metrics"
	"namingpush/internal/storage"
	"namingpush/pkg/logx"
)

var ErrNoTransport = errors.New("push transport not configured")

// TraceRecorder receives one trace per push attempt. *storage.Recorder implements it.
type TraceRecorder interface {
	Record(t storage.PushTrace)
}

// Executor sits between the engines and the Transport: it rate limits,
// bounds each push with a timeout, counts results and records traces.
type Executor struct {
	transport Transport
	traces    TraceRecorder
	log       logx.Logger

	mu      sync.Mutex
	timeout time.Duration
	limiter *rate.Limiter
}

func NewExecutor(t Transport, traces TraceRecorder, s Settings, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	x := &Executor{transport: t, traces: traces, log: log.With(logx.String("comp", "push.executor"))}
	x.Apply(s)
	return x
}

// Apply swaps the timeout and limiter. Pushes already waiting keep the old limiter.
func (x *Executor) Apply(s Settings) {
	s = s.WithDefaults()
	var lim *rate.Limiter
	if s.RateLimit > 0 {
		lim = rate.NewLimiter(rate.Limit(s.RateLimit), s.RateBurst)
	}
	x.mu.Lock()
	x.timeout = s.PushTimeout
	x.limiter = lim
	x.mu.Unlock()
}

// Push delivers p to clientID. The returned error is the transport's.
func (x *Executor) Push(ctx context.Context, clientID string, p Payload) error {
	if x.transport == nil {
		return ErrNoTransport
	}
	x.mu.Lock()
	timeout := x.timeout
	lim := x.limiter
	x.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	pctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := x.transport.Push(pctx, clientID, p)
	took := time.Since(start)

	result := "ok"
	if err != nil {
		result = "failed"
	}
	metrics.PushCount.WithLabelValues(p.Kind(), result).Inc()
	metrics.PushDuration.WithLabelValues(p.Kind()).Observe(took.Seconds())

	tr := storage.PushTrace{
		ID:       uuid.NewString(),
		At:       start,
		ClientID: clientID,
		Kind:     p.Kind(),
		Target:   p.Target(),
		OK:       err == nil,
		TookMS:   took.Milliseconds(),
	}
	if err != nil {
		tr.Error = err.Error()
		x.log.Warn("push failed",
			logx.String("trace", tr.ID),
			logx.String("client", clientID),
			logx.String("kind", p.Kind()),
			logx.String("target", p.Target()),
			logx.Err(err),
		)
	} else {
		x.log.Trace("push delivered",
			logx.String("trace", tr.ID),
			logx.String("client", clientID),
			logx.String("kind", p.Kind()),
			logx.Duration("dur", took),
		)
	}
	if x.traces != nil {
		x.traces.Record(tr)
	}
	return err
}
