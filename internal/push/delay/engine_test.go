package delay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"namingpush/pkg/logx"
)

type countTask struct {
	Schedule
	N int
}

func (t countTask) Timing() Schedule { return t.Schedule }

func mergeCount(pending, incoming countTask) countTask {
	return countTask{Schedule: incoming.Schedule.Merge(pending.Schedule), N: pending.N + incoming.N}
}

type recorder struct {
	mu   sync.Mutex
	keys []string
	sum  map[string]int
}

func (r *recorder) Process(_ context.Context, key string, t countTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sum == nil {
		r.sum = map[string]int{}
	}
	r.keys = append(r.keys, key)
	r.sum[key] += t.N
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

func (r *recorder) total(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sum[key]
}

func TestScheduleReady(t *testing.T) {
	t.Parallel()
	t0 := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name  string
		sched Schedule
		at    time.Duration
		want  bool
	}{
		{name: "before delay", sched: NewSchedule(t0, 100*time.Millisecond, 0), at: 99 * time.Millisecond, want: false},
		{name: "at delay", sched: NewSchedule(t0, 100*time.Millisecond, 0), at: 100 * time.Millisecond, want: true},
		{name: "zero delay", sched: NewSchedule(t0, 0, 0), at: 0, want: true},
		{
			name:  "max wait caps merges",
			sched: Schedule{Delay: 100 * time.Millisecond, MaxWait: 300 * time.Millisecond, FirstSeen: t0, LastProcess: t0.Add(250 * time.Millisecond)},
			at:    300 * time.Millisecond,
			want:  true,
		},
		{
			name:  "no max wait keeps postponing",
			sched: Schedule{Delay: 100 * time.Millisecond, FirstSeen: t0, LastProcess: t0.Add(250 * time.Millisecond)},
			at:    300 * time.Millisecond,
			want:  false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.sched.Ready(t0.Add(tt.at)))
		})
	}
}

func TestScheduleMergeKeepsLatestClock(t *testing.T) {
	t.Parallel()
	t0 := time.Unix(1_700_000_000, 0)
	older := NewSchedule(t0, time.Second, 0)
	newer := NewSchedule(t0.Add(300*time.Millisecond), time.Second, 0)

	got := newer.Merge(older)
	assert.Equal(t, t0.Add(300*time.Millisecond), got.LastProcess)
	assert.Equal(t, t0, got.FirstSeen)

	restarted := got.Restart(t0.Add(time.Hour))
	assert.Equal(t, t0.Add(time.Hour), restarted.FirstSeen)
	assert.Equal(t, time.Second, restarted.Delay)
}

func TestAddTaskConcurrentMergesWithoutLoss(t *testing.T) {
	t.Parallel()
	e := New[countTask](Config{Name: "concurrent"}, mergeCount, nil, logx.Nop())

	const producers = 64
	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func() {
			defer wg.Done()
			e.AddTask("svc", countTask{Schedule: NewSchedule(time.Now(), time.Hour, 0), N: 1})
		}()
	}
	wg.Wait()

	require.Equal(t, 1, e.Size())
	pending, ok := e.Pending("svc")
	require.True(t, ok)
	assert.Equal(t, producers, pending.N)
}

func TestDelayRestartsOnMerge(t *testing.T) {
	t.Parallel()
	t0 := time.Unix(1_700_000_000, 0)
	rec := &recorder{}
	e := New[countTask](Config{Name: "reset", PollInterval: time.Hour, Workers: 1}, mergeCount, rec, logx.Nop())
	e.Start(context.Background())
	defer e.Stop(context.Background())

	e.mu.Lock()
	queues := e.queues
	e.mu.Unlock()

	delay := 100 * time.Millisecond
	e.AddTask("svc", countTask{Schedule: NewSchedule(t0, delay, 0), N: 1})
	e.AddTask("svc", countTask{Schedule: NewSchedule(t0.Add(80*time.Millisecond), delay, 0), N: 1})

	ctx := context.Background()
	assert.Zero(t, e.processTasks(ctx, queues, t0.Add(150*time.Millisecond)), "fired before delay since last merge")
	assert.Equal(t, 1, e.Size())

	assert.Equal(t, 1, e.processTasks(ctx, queues, t0.Add(180*time.Millisecond)))
	assert.Zero(t, e.Size())
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, rec.total("svc"))
}

func TestFailingTasksDoNotStopDriver(t *testing.T) {
	t.Parallel()
	var ok sync.Map
	proc := ProcessorFunc[countTask](func(_ context.Context, key string, _ countTask) error {
		switch key {
		case "panics":
			panic("processor exploded")
		case "fails":
			return errors.New("transport down")
		}
		ok.Store(key, true)
		return nil
	})
	e := New[countTask](Config{Name: "failing", PollInterval: 2 * time.Millisecond, Workers: 1}, mergeCount, proc, logx.Nop())
	e.Start(context.Background())
	defer e.Stop(context.Background())

	now := time.Now()
	e.AddTask("panics", countTask{Schedule: NewSchedule(now, 0, 0)})
	e.AddTask("fails", countTask{Schedule: NewSchedule(now, 0, 0)})
	e.AddTask("first", countTask{Schedule: NewSchedule(now, 0, 0)})

	require.Eventually(t, func() bool { _, done := ok.Load("first"); return done }, time.Second, time.Millisecond)

	e.AddTask("second", countTask{Schedule: NewSchedule(time.Now(), 5*time.Millisecond, 0)})
	require.Eventually(t, func() bool { _, done := ok.Load("second"); return done }, time.Second, time.Millisecond)
	assert.Zero(t, e.Size())
}

func TestDispatchSerializedPerKey(t *testing.T) {
	t.Parallel()
	var (
		inflight sync.Map
		overlap  atomic.Bool
		runs     atomic.Int32
	)
	proc := ProcessorFunc[countTask](func(_ context.Context, key string, _ countTask) error {
		v, _ := inflight.LoadOrStore(key, new(atomic.Int32))
		n := v.(*atomic.Int32)
		if n.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(3 * time.Millisecond)
		n.Add(-1)
		runs.Add(1)
		return nil
	})
	e := New[countTask](Config{Name: "serial", PollInterval: time.Millisecond, Workers: 4}, mergeCount, proc, logx.Nop())
	e.Start(context.Background())
	defer e.Stop(context.Background())

	for i := 0; i < 30; i++ {
		e.AddTask(fmt.Sprintf("key-%d", i%3), countTask{Schedule: NewSchedule(time.Now(), 0, 0), N: 1})
		time.Sleep(time.Millisecond)
	}
	require.Eventually(t, func() bool { return e.Size() == 0 && runs.Load() > 0 }, 2*time.Second, time.Millisecond)
	assert.False(t, overlap.Load())
}

func TestStopKeepsPendingTasks(t *testing.T) {
	t.Parallel()
	e := New[countTask](Config{Name: "stop", PollInterval: time.Millisecond}, mergeCount, &recorder{}, logx.Nop())
	e.Start(context.Background())
	e.Start(context.Background())

	e.AddTask("later", countTask{Schedule: NewSchedule(time.Now(), time.Hour, 0), N: 1})
	e.Stop(context.Background())
	e.Stop(context.Background())

	assert.Equal(t, 1, e.Size())
	removed, ok := e.RemoveTask("later")
	require.True(t, ok)
	assert.Equal(t, 1, removed.N)
	assert.Zero(t, e.Size())
}

// blockingProc parks on the first task until the engine stops.
type blockingProc struct {
	started chan string
	ran     atomic.Int32
}

func (p *blockingProc) Process(ctx context.Context, key string, _ countTask) error {
	if p.ran.Add(1) == 1 {
		p.started <- key
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func TestStopRestoresQueuedTasks(t *testing.T) {
	t.Parallel()
	proc := &blockingProc{started: make(chan string, 1)}
	e := New[countTask](Config{Name: "requeue", PollInterval: time.Millisecond, Workers: 1, QueueSize: 8}, mergeCount, proc, logx.Nop())
	e.Start(context.Background())

	now := time.Now()
	for _, key := range []string{"a", "b", "c"} {
		e.AddTask(key, countTask{Schedule: NewSchedule(now, 0, 0), N: 1})
	}
	var inFlight string
	select {
	case inFlight = <-proc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("no task dispatched")
	}
	require.Eventually(t, func() bool { return e.Size() == 0 }, 2*time.Second, time.Millisecond)

	// A newer add for a queued key must survive the restore.
	queued := "a"
	if inFlight == "a" {
		queued = "b"
	}
	e.AddTask(queued, countTask{Schedule: NewSchedule(time.Now(), time.Hour, 0), N: 5})

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e.Stop(stopCtx)

	assert.Equal(t, int32(1), proc.ran.Load())
	assert.Equal(t, 2, e.Size())
	_, ok := e.Pending(inFlight)
	assert.False(t, ok, "interrupted task is not restored")
	merged, ok := e.Pending(queued)
	require.True(t, ok)
	assert.Equal(t, 6, merged.N)
}
