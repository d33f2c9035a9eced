// Package metrics declares the Prometheus collectors of the push core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "namingpush"

var ServiceChangeCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "naming",
	Name:      "service_changes_total",
	Help:      "Service changed events received, by namespace.",
}, []string{"namespace"})

var PendingTasks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "delay_engine",
	Name:      "pending_tasks",
	Help:      "Tasks waiting for their delay to elapse.",
}, []string{"engine"})

var TasksAdded = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "delay_engine",
	Name:      "tasks_added_total",
	Help:      "Tasks added, by outcome (stored or merged).",
}, []string{"engine", "outcome"})

var TasksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "delay_engine",
	Name:      "tasks_processed_total",
	Help:      "Tasks dispatched to their processor, by result.",
}, []string{"engine", "result"})

var PushCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "push",
	Name:      "pushes_total",
	Help:      "Pushes handed to the transport, by payload kind and result.",
}, []string{"kind", "result"})

var PushDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "push",
	Name:      "push_duration_seconds",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
}, []string{"kind"})

var registerOnce sync.Once

// Register adds every collector to reg once. Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			ServiceChangeCount,
			PendingTasks,
			TasksAdded,
			TasksProcessed,
			PushCount,
			PushDuration,
		)
	})
}
