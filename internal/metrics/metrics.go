// Package metrics exposes the ramdisk's capacity and operation counters as
// Prometheus collectors, the same telemetry library gcsfuse wires for its
// own mount instrumentation. It is entirely optional: cmd/ramdisk only
// serves it when --metrics-addr is set, and a nil *Reporter is safe to call
// into from every ramfs operation regardless.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reporter owns a private Prometheus registry for the ramdisk's gauges and
// counters.
type Reporter struct {
	registry   *prometheus.Registry
	freeBytes  prometheus.Gauge
	nodesTotal prometheus.Gauge
	operations *prometheus.CounterVec
}

// New constructs a Reporter with all collectors registered.
func New() *Reporter {
	r := &Reporter{
		registry: prometheus.NewRegistry(),
		freeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ramdisk_free_bytes",
			Help: "Bytes remaining in the capacity accountant's budget.",
		}),
		nodesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ramdisk_nodes_total",
			Help: "Number of live nodes (files and directories) in the tree.",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ramdisk_operations_total",
			Help: "Filesystem operations processed, by operation and result.",
		}, []string{"op", "result"}),
	}

	r.registry.MustRegister(r.freeBytes, r.nodesTotal, r.operations)
	return r
}

// SetFree records the Capacity Accountant's current free-byte balance.
func (r *Reporter) SetFree(n int64) {
	if r == nil {
		return
	}
	r.freeBytes.Set(float64(n))
}

// SetNodes records the current live node count.
func (r *Reporter) SetNodes(n int) {
	if r == nil {
		return
	}
	r.nodesTotal.Set(float64(n))
}

// ObserveOp increments the operation counter for op, labeled by whether err
// was nil.
func (r *Reporter) ObserveOp(op string, err error) {
	if r == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	r.operations.WithLabelValues(op, result).Inc()
}

// Handler returns an http.Handler serving this Reporter's collectors in the
// Prometheus exposition format.
func (r *Reporter) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
