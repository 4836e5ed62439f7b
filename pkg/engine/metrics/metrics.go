// Package metrics is an optional Prometheus seam around execution,
// adapted from the teacher's pkg/metrics package-level collectors. Unlike
// the teacher, vectors live on an instance so multiple engines in one
// process can register independent Collectors instead of colliding on
// global metric names.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is the optional metrics seam; a nil *Collector is safe to call
// through (every method no-ops), mirroring the nil-safety of lifecycle
// hooks elsewhere in the engine.
type Collector struct {
	transitionsTotal  *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	timeoutsTotal     *prometheus.CounterVec
	lockAcquireTotal  *prometheus.CounterVec
	stateDuration     *prometheus.HistogramVec
}

// New registers a fresh set of vectors on reg and returns a Collector bound
// to them.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmesh_transitions_total",
			Help: "Total number of state transitions recorded.",
		}, []string{"workflow", "from", "to", "status"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmesh_retries_total",
			Help: "Total number of state handler retry attempts.",
		}, []string{"workflow", "state"}),
		timeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmesh_timeouts_total",
			Help: "Total number of state handler invocations that timed out.",
		}, []string{"workflow", "state"}),
		lockAcquireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmesh_lock_acquisitions_total",
			Help: "Total number of concurrency-lock acquisition attempts.",
		}, []string{"workflow", "mode", "result"}),
		stateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowmesh_state_duration_seconds",
			Help:    "State handler invocation duration in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"workflow", "state"}),
	}
	reg.MustRegister(c.transitionsTotal, c.retriesTotal, c.timeoutsTotal, c.lockAcquireTotal, c.stateDuration)
	return c
}

func (c *Collector) RecordTransition(workflow, from, to, status string) {
	if c == nil {
		return
	}
	c.transitionsTotal.WithLabelValues(workflow, from, to, status).Inc()
}

func (c *Collector) RecordRetry(workflow, state string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(workflow, state).Inc()
}

func (c *Collector) RecordTimeout(workflow, state string) {
	if c == nil {
		return
	}
	c.timeoutsTotal.WithLabelValues(workflow, state).Inc()
}

func (c *Collector) RecordLockAcquisition(workflow, mode, result string) {
	if c == nil {
		return
	}
	c.lockAcquireTotal.WithLabelValues(workflow, mode, result).Inc()
}

func (c *Collector) RecordStateDuration(workflow, state string, d time.Duration) {
	if c == nil {
		return
	}
	c.stateDuration.WithLabelValues(workflow, state).Observe(d.Seconds())
}
