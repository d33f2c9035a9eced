package push

import (
	"namingpush/internal/naming"
	"namingpush/internal/push/delay"
)

// FuzzyTask is held by the fuzzy engine: a FuzzyInitTask or a FuzzyChangeTask.
type FuzzyTask interface {
	delay.Task
	fuzzyTask()
}

// FuzzyInitTask delivers the initial match set of one (client, pattern) watch.
type FuzzyInitTask struct {
	delay.Schedule
	ClientID string
	Pattern  string
	// Pending holds the grouped names not yet delivered, sorted and unique.
	Pending []string
	// OriginSize is the size of the match set when the watch was created.
	OriginSize int
	// Batches is how many batches have been delivered so far.
	Batches int
}

// FuzzyChangeTask tells one watcher that one matching service changed.
type FuzzyChangeTask struct {
	delay.Schedule
	ClientID   string
	Pattern    string
	ServiceKey string
	Change     naming.ChangeKind
}

func (t FuzzyInitTask) Timing() delay.Schedule   { return t.Schedule }
func (FuzzyInitTask) fuzzyTask()                 {}
func (t FuzzyChangeTask) Timing() delay.Schedule { return t.Schedule }
func (FuzzyChangeTask) fuzzyTask()               {}

// Done reports whether every matched service has been delivered.
func (t FuzzyInitTask) Done() bool { return len(t.Pending) == 0 }

func newFuzzyInitTask(clientID, pattern string, matched []naming.Service, sched delay.Schedule) FuzzyInitTask {
	keys := make([]string, 0, len(matched))
	for _, svc := range matched {
		keys = append(keys, svc.GroupedName())
	}
	keys = unionSorted(keys, nil)
	return FuzzyInitTask{
		Schedule:   sched,
		ClientID:   clientID,
		Pattern:    pattern,
		Pending:    keys,
		OriginSize: len(keys),
	}
}

// split cuts the next batch off t. rest keeps t's bookkeeping with the
// remaining services.
func (t FuzzyInitTask) split(size int) (batch []string, rest FuzzyInitTask) {
	if size <= 0 || size > len(t.Pending) {
		size = len(t.Pending)
	}
	rest = t
	batch = t.Pending[:size:size]
	rest.Pending = append([]string(nil), t.Pending[size:]...)
	rest.Batches = t.Batches + 1
	return batch, rest
}

func mergeFuzzyInit(pending, incoming FuzzyInitTask) FuzzyInitTask {
	out := incoming
	out.Schedule = incoming.Schedule.Merge(pending.Schedule)
	out.Pending = unionSorted(pending.Pending, incoming.Pending)
	out.OriginSize = max(pending.OriginSize, incoming.OriginSize)
	out.Batches = max(pending.Batches, incoming.Batches)
	return out
}

func mergeFuzzyChange(pending, incoming FuzzyChangeTask) FuzzyChangeTask {
	out := incoming
	out.Schedule = incoming.Schedule.Merge(pending.Schedule)
	return out
}

// mergeFuzzyTasks merges tasks of the same kind. Keys never mix kinds, so a
// mismatch simply keeps the incoming task.
func mergeFuzzyTasks(pending, incoming FuzzyTask) FuzzyTask {
	switch in := incoming.(type) {
	case FuzzyInitTask:
		if old, ok := pending.(FuzzyInitTask); ok {
			return mergeFuzzyInit(old, in)
		}
	case FuzzyChangeTask:
		if old, ok := pending.(FuzzyChangeTask); ok {
			return mergeFuzzyChange(old, in)
		}
	}
	return incoming
}
