// Package daemonmetrics exposes the ipwall daemon's counters on a
// loopback Prometheus endpoint, the way grimm-is-glacic's
// internal/metrics.Registry wraps a promauto-built set of collectors
// behind a singleton accessor and a handful of Record*/Update* helpers.
// The spec's non-goals exclude NAT/routing semantics, not observability,
// so this ambient concern is carried regardless.
package daemonmetrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds every metric the daemon exports.
type Registry struct {
	ActiveBlocks     prometheus.Gauge
	BlocksTotal      *prometheus.CounterVec
	UnblocksTotal    *prometheus.CounterVec
	ExpirationsTotal prometheus.Counter
	BusMessagesTotal *prometheus.CounterVec
	BusPeers         prometheus.Gauge
	ApplyDuration    prometheus.Histogram
	ApplyErrors      *prometheus.CounterVec
}

// Get returns the process-wide metrics registry, creating it on first use.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.ActiveBlocks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ipwall_active_blocks",
		Help: "Number of IP addresses currently banned",
	})

	r.BlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipwall_blocks_total",
		Help: "Total IPWALL_BLOCK messages processed",
	}, []string{"scheme"})

	r.UnblocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipwall_unblocks_total",
		Help: "Total IPWALL_UNBLOCK messages processed",
	}, []string{"scheme"})

	r.ExpirationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipwall_expirations_total",
		Help: "Total bans that reached their expiry and were lifted",
	})

	r.BusMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipwall_bus_messages_total",
		Help: "Total bus messages received, by command",
	}, []string{"command"})

	r.BusPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ipwall_bus_peers",
		Help: "Number of connected bus peers",
	})

	r.ApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ipwall_apply_duration_seconds",
		Help:    "Time to apply one block/unblock to the firewall",
		Buckets: prometheus.DefBuckets,
	})

	r.ApplyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipwall_apply_errors_total",
		Help: "Total failures applying a block/unblock to the firewall",
	}, []string{"op"})

	return r
}

// RecordBlock increments the block/active-block counters for one scheme.
func (r *Registry) RecordBlock(scheme string) {
	r.BlocksTotal.WithLabelValues(scheme).Inc()
	r.ActiveBlocks.Inc()
}

// RecordUnblock increments the unblock counter and decrements the active
// block gauge for one scheme.
func (r *Registry) RecordUnblock(scheme string) {
	r.UnblocksTotal.WithLabelValues(scheme).Inc()
	r.ActiveBlocks.Dec()
}

// RecordExpiration records a ban lifted by the wakeup timer rather than
// an explicit IPWALL_UNBLOCK.
func (r *Registry) RecordExpiration() {
	r.ExpirationsTotal.Inc()
	r.ActiveBlocks.Dec()
}

// RecordBusMessage records one inbound bus message.
func (r *Registry) RecordBusMessage(command string) {
	r.BusMessagesTotal.WithLabelValues(command).Inc()
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
