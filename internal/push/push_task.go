package push

import (
	"sort"

	"namingpush/internal/naming"
	"namingpush/internal/push/delay"
)

// PushDelayTask pushes the current state of Service either to every
// subscriber (PushToAll) or to the clients in Targets.
type PushDelayTask struct {
	delay.Schedule
	Service   naming.Service
	PushToAll bool
	// Targets is sorted and has no duplicates. Ignored when PushToAll.
	Targets []string
}

func (t PushDelayTask) Timing() delay.Schedule { return t.Schedule }

// Key is the merge key of the task.
func (t PushDelayTask) Key() string {
	if t.PushToAll || len(t.Targets) != 1 {
		return ServiceTaskKey(t.Service)
	}
	return ClientTaskKey(t.Service, t.Targets[0])
}

func newServiceTask(svc naming.Service, sched delay.Schedule) PushDelayTask {
	return PushDelayTask{Schedule: sched, Service: svc, PushToAll: true}
}

func newClientTask(svc naming.Service, clientID string, sched delay.Schedule) PushDelayTask {
	return PushDelayTask{Schedule: sched, Service: svc, Targets: []string{clientID}}
}

// mergePushTasks collapses two tasks for the same key. A service-wide side
// wins over client targets; the delay clock follows the latest task.
func mergePushTasks(pending, incoming PushDelayTask) PushDelayTask {
	out := PushDelayTask{
		Schedule: incoming.Schedule.Merge(pending.Schedule),
		Service:  incoming.Service,
	}
	if pending.PushToAll || incoming.PushToAll {
		out.PushToAll = true
		return out
	}
	out.Targets = unionSorted(pending.Targets, incoming.Targets)
	return out
}

// unionSorted returns the sorted, deduplicated union of a and b in a new slice.
func unionSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range [][]string{a, b} {
		for _, v := range s {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
