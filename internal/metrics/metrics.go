// Package metrics exposes Prometheus counters/gauges/histograms for
// the pipeline's error taxonomy (framing, ordering, routing,
// backpressure) and for ack latency.
//
// Grounded on the teacher's ws/metrics.go: same registration style
// (package-level prometheus.New*), same naming convention
// (snake_case, component-prefixed, _total suffix on counters).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramingErrors counts dropped messages/packets per stage and
	// reason, per the spec's "count and drop the offending message;
	// never abort the stage."
	FramingErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvcore_framing_errors_total",
		Help: "Total framing errors encountered, by stage and reason",
	}, []string{"stage", "reason"})

	// OrderingViolations counts duplicate/regressed MessageIds and
	// prefix regressions, logged-counted-ignored per the spec.
	OrderingViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvcore_ordering_violations_total",
		Help: "Total ordering violations (duplicate id, prefix regression), by stage",
	}, []string{"stage", "kind"})

	// RoutingViolations counts release-build hash/partition mismatches
	// that would have tripped the debug assertion.
	RoutingViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvcore_routing_violations_total",
		Help: "Total routing violations observed in release mode (ignored, not applied)",
	}, []string{"partition"})

	// BackpressureSpins counts iterations spent spinning on a full
	// ring, a proxy for sustained overload (spec §7's "delayed acks
	// under sustained overload").
	BackpressureSpins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvcore_backpressure_spins_total",
		Help: "Total spin iterations waiting for ring capacity, by stage and ring",
	}, []string{"stage", "ring"})

	// AckLatency measures time from a message's arrival at Parse to
	// its ack leaving Apply.
	AckLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kvcore_ack_latency_seconds",
		Help:    "Latency from packet parse to ack emission",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"partition"})

	// ShardKeys tracks live key counts per partition.
	ShardKeys = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kvcore_shard_keys",
		Help: "Current number of keys held by each partition's shard",
	}, []string{"partition"})

	// PrefixLag tracks, per client, how far the latest applied prefix
	// trails the highest MessageId Order has emitted.
	PrefixLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kvcore_prefix_lag",
		Help: "Messages emitted by Order but not yet covered by the latest applied prefix",
	}, []string{"client"})
)

func init() {
	prometheus.MustRegister(
		FramingErrors,
		OrderingViolations,
		RoutingViolations,
		BackpressureSpins,
		AckLatency,
		ShardKeys,
		PrefixLag,
	)
}

// Handler returns the HTTP handler Prometheus should scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}
