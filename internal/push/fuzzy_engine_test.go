package push

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"namingpush/internal/naming"
	"namingpush/internal/push/delay"
)

func services(n int) []naming.Service {
	out := make([]naming.Service, n)
	for i := range out {
		out[i] = naming.NewService("", "", fmt.Sprintf("app-%03d", i))
	}
	return out
}

func TestMergeFuzzyInitUnionsPending(t *testing.T) {
	t.Parallel()
	t0 := time.Unix(1_700_000_000, 0)
	all := services(4)
	a := newFuzzyInitTask("c1", "app*", all[:3], delay.NewSchedule(t0, time.Second, 0))
	b := newFuzzyInitTask("c1", "app*", []naming.Service{all[2], all[3], all[3]}, delay.NewSchedule(t0.Add(time.Second), time.Second, 0))
	assert.Equal(t, 2, b.OriginSize)

	got, ok := mergeFuzzyTasks(a, b).(FuzzyInitTask)
	require.True(t, ok)
	assert.Len(t, got.Pending, 4)
	assert.Equal(t, 3, got.OriginSize)
	assert.Equal(t, t0.Add(time.Second), got.LastProcess)
	assert.Len(t, a.Pending, 3, "merge must not mutate its inputs")
}

func TestFuzzyInitPendingHoldsGroupedNames(t *testing.T) {
	t.Parallel()
	task := newFuzzyInitTask("c1", "public>>*@@app*", []naming.Service{
		naming.NewService("", "billing", "app-b"),
		naming.NewService("", "", "app-a"),
	}, delay.Schedule{})
	assert.Equal(t, []string{"DEFAULT_GROUP@@app-a", "billing@@app-b"}, task.Pending)
}

func TestMergeFuzzyChangeKeepsLatestKind(t *testing.T) {
	t.Parallel()
	t0 := time.Unix(1_700_000_000, 0)
	a := FuzzyChangeTask{Schedule: delay.NewSchedule(t0, time.Second, 0), ClientID: "c1", Change: naming.ChangeAdded}
	b := FuzzyChangeTask{Schedule: delay.NewSchedule(t0.Add(time.Second), time.Second, 0), ClientID: "c1", Change: naming.ChangeRemoved}
	got := mergeFuzzyTasks(a, b).(FuzzyChangeTask)
	assert.Equal(t, naming.ChangeRemoved, got.Change)
	assert.Equal(t, t0, got.FirstSeen)

	// Mismatched kinds keep the incoming task.
	assert.Equal(t, FuzzyTask(b), mergeFuzzyTasks(FuzzyInitTask{}, b))
}

func TestFuzzyInitValidation(t *testing.T) {
	t.Parallel()
	f := NewFuzzyEngine(FuzzyEngineDeps{Pusher: &fakeTransport{}}, testSettings(time.Hour))
	assert.ErrorIs(t, f.OnFuzzyWatchInit("", "app*", nil), ErrInvalidParam)
	assert.ErrorIs(t, f.OnFuzzyWatchInit("c1", " ", nil), ErrInvalidParam)
	assert.ErrorIs(t, f.OnFuzzyWatchInit("c1", "a$b", nil), ErrInvalidParam)
	assert.Zero(t, f.Size())
}

func TestFuzzyInitDeliversInBatches(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistry()
	reg.addClient("C1")
	tr := &fakeTransport{}
	s := testSettings(5 * time.Millisecond)
	s.FuzzyBatchSize = 100
	f := NewFuzzyEngine(FuzzyEngineDeps{Clients: reg, Watches: reg, Pusher: tr}, s)
	f.Start(context.Background())
	defer f.Stop(context.Background())

	require.NoError(t, f.OnFuzzyWatchInit("C1", "app*", services(250)))

	require.Eventually(t, func() bool { return len(tr.deliveries()) == 3 && f.Size() == 0 }, 2*time.Second, time.Millisecond)

	var sizes []int
	seen := map[string]bool{}
	for i, d := range tr.deliveries() {
		p, ok := d.payload.(FuzzyInitPush)
		require.True(t, ok)
		assert.Equal(t, i+1, p.Batch)
		assert.Equal(t, 250, p.Total)
		assert.Equal(t, i == 2, p.Finished)
		sizes = append(sizes, len(p.Services))
		for _, k := range p.Services {
			assert.False(t, seen[k], "service %s delivered twice", k)
			seen[k] = true
		}
	}
	assert.Equal(t, []int{100, 100, 50}, sizes)
	assert.Len(t, seen, 250)
}

func TestFuzzyInitEmptyMatchSendsFinished(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistry()
	reg.addClient("c1")
	tr := &fakeTransport{}
	f := NewFuzzyEngine(FuzzyEngineDeps{Clients: reg, Pusher: tr}, testSettings(0))

	require.NoError(t, f.OnFuzzyWatchInit("c1", "none*", nil))
	key, _ := TaskKey("c1", "none*")
	task, ok := f.engine.RemoveTask(key)
	require.True(t, ok)
	require.NoError(t, f.Process(context.Background(), key, task))

	got := tr.deliveries()
	require.Len(t, got, 1)
	p := got[0].payload.(FuzzyInitPush)
	assert.True(t, p.Finished)
	assert.Empty(t, p.Services)
	assert.Zero(t, f.Size())
}

func TestFuzzyStaleClientDropped(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistry()
	tr := &fakeTransport{}
	f := NewFuzzyEngine(FuzzyEngineDeps{Clients: reg, Pusher: tr}, testSettings(0))

	task := newFuzzyInitTask("ghost", "app*", services(3), delay.Schedule{})
	require.NoError(t, f.Process(context.Background(), "ghost$app*", task))
	require.NoError(t, f.Process(context.Background(), "ghost$app*$x", FuzzyChangeTask{ClientID: "ghost"}))
	assert.Empty(t, tr.deliveries())
	assert.Zero(t, f.Size())
}

func TestFuzzyServiceChangedFansOutToWatchers(t *testing.T) {
	t.Parallel()
	svc := naming.NewService("", "", "app-1")
	reg := newFakeRegistry()
	reg.addClient("c1")
	reg.addClient("c2")
	reg.watchers[svc] = []naming.FuzzyWatcher{
		{ClientID: "c1", Pattern: "app*"},
		{ClientID: "c2", Pattern: "app*"},
		{ClientID: "c2", Pattern: "*-1"},
		{ClientID: "", Pattern: "bad"},
	}
	tr := &fakeTransport{}
	f := NewFuzzyEngine(FuzzyEngineDeps{Clients: reg, Watches: reg, Pusher: tr}, testSettings(time.Hour))

	assert.Equal(t, 3, f.OnServiceChanged(svc, naming.ChangeAdded))
	assert.Equal(t, 3, f.OnServiceChanged(svc, naming.ChangeRemoved))
	assert.Equal(t, 3, f.Size())

	key, err := ChangeTaskKey("c2", "*-1", svc)
	require.NoError(t, err)
	task, ok := f.engine.RemoveTask(key)
	require.True(t, ok)
	require.NoError(t, f.Process(context.Background(), key, task))

	got := tr.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].clientID)
	assert.Equal(t, FuzzyChangePush{Pattern: "*-1", ServiceKey: svc.Key(), Change: naming.ChangeRemoved}, got[0].payload)
}

func TestFuzzyInitFailedBatchIsNotRetried(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistry()
	reg.addClient("c1")
	tr := &fakeTransport{failFor: map[string]bool{"c1": true}}
	s := testSettings(time.Hour)
	s.FuzzyBatchSize = 2
	f := NewFuzzyEngine(FuzzyEngineDeps{Clients: reg, Pusher: tr}, s)

	key, err := TaskKey("c1", "public>>app*")
	require.NoError(t, err)
	err = f.Process(context.Background(), key, newFuzzyInitTask("c1", "public>>app*", services(5), delay.Schedule{}))
	assert.ErrorIs(t, err, errTransport)

	require.Equal(t, 1, f.Size())
	rest, ok := f.Pending(key)
	require.True(t, ok)
	remaining := rest.(FuzzyInitTask)
	assert.Len(t, remaining.Pending, 3)
	assert.Equal(t, 1, remaining.Batches)
	assert.Equal(t, 5, remaining.OriginSize)
}

func TestFuzzyInitContinuesAfterFailedBatch(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistry()
	reg.addClient("c1")
	tr := &fakeTransport{failFirst: 1}
	s := testSettings(time.Hour)
	s.FuzzyBatchSize = 2
	f := NewFuzzyEngine(FuzzyEngineDeps{Clients: reg, Pusher: tr}, s)

	key, err := TaskKey("c1", "public>>app*")
	require.NoError(t, err)
	var task FuzzyTask = newFuzzyInitTask("c1", "public>>app*", services(5), delay.Schedule{})
	assert.ErrorIs(t, f.Process(context.Background(), key, task), errTransport)

	for f.Size() > 0 {
		next, ok := f.engine.RemoveTask(key)
		require.True(t, ok)
		require.NoError(t, f.Process(context.Background(), key, next))
	}

	got := tr.deliveries()
	require.Len(t, got, 2)
	first, last := got[0].payload.(FuzzyInitPush), got[1].payload.(FuzzyInitPush)
	assert.Equal(t, 2, first.Batch)
	assert.Len(t, first.Services, 2)
	assert.False(t, first.Finished)
	assert.Equal(t, 3, last.Batch)
	assert.Len(t, last.Services, 1)
	assert.True(t, last.Finished)
	assert.Equal(t, 5, last.Total)
}
