// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orchestron"

type Collector struct {
	dispatches          *prometheus.CounterVec
	results             *prometheus.CounterVec
	workflowTransitions *prometheus.CounterVec
	slotsInUse          prometheus.Gauge
	slotWait            prometheus.Histogram
	actionDuration      *prometheus.HistogramVec
	activations         *prometheus.CounterVec
}

// NewCollector registers every collector on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Total number of actions dispatched to workers",
			},
			[]string{"app", "action"},
		),
		results: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_results_total",
				Help:      "Total number of final action results by status",
			},
			[]string{"app", "action", "status"},
		),
		workflowTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_transitions_total",
				Help:      "Total number of accepted workflow status transitions",
			},
			[]string{"to"},
		),
		slotsInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_slots_in_use",
				Help:      "Number of worker slots currently executing an action",
			},
		),
		slotWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_slot_wait_seconds",
				Help:      "Time a dispatch waited for a worker slot",
				Buckets:   prometheus.DefBuckets,
			},
		),
		actionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Action execution duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300},
			},
			[]string{"app", "action"},
		),
		activations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_activations_total",
				Help:      "Total number of scheduler activations",
			},
			[]string{"task"},
		),
	}
}

// Nop returns a collector bound to a private registry.
func Nop() *Collector {
	return NewCollector(prometheus.NewRegistry())
}

func (c *Collector) Dispatched(app, action string) {
	c.dispatches.WithLabelValues(app, action).Inc()
}

func (c *Collector) Result(app, action, status string) {
	c.results.WithLabelValues(app, action, status).Inc()
}

func (c *Collector) WorkflowTransition(to string) {
	c.workflowTransitions.WithLabelValues(to).Inc()
}

func (c *Collector) SlotAcquired(waited time.Duration) {
	c.slotsInUse.Inc()
	c.slotWait.Observe(waited.Seconds())
}

func (c *Collector) SlotReleased() {
	c.slotsInUse.Dec()
}

func (c *Collector) ActionDuration(app, action string, duration time.Duration) {
	c.actionDuration.WithLabelValues(app, action).Observe(duration.Seconds())
}

func (c *Collector) Activation(task string) {
	c.activations.WithLabelValues(task).Inc()
}
