// Package metrics registers the Prometheus collectors exposed on the ops
// listener. All metrics live under the "teamarr" namespace.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec // status: success|failed
	RunDuration      prometheus.Histogram
	MatchesTotal     *prometheus.CounterVec // method
	MatchFailures    *prometheus.CounterVec // reason
	ProviderRequests *prometheus.CounterVec // provider, outcome: ok|error|rate_limited
	RateLimitWait    prometheus.Counter     // seconds spent waiting on provider limits
	CacheHits        *prometheus.CounterVec // kind: success|failed|user_corrected
	ManagedChannels  *prometheus.GaugeVec   // group
	ChannelsCreated  prometheus.Counter
	ChannelsDeleted  *prometheus.CounterVec // reason
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamarr", Name: "runs_total",
			Help: "Generation runs by terminal status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "teamarr", Name: "run_duration_seconds",
			Help:    "Wall-clock duration of a full generation run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		MatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamarr", Name: "matches_total",
			Help: "Stream matches by method tier.",
		}, []string{"method"}),
		MatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamarr", Name: "match_failures_total",
			Help: "Unmatched streams by reason.",
		}, []string{"reason"}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamarr", Name: "provider_requests_total",
			Help: "Upstream data provider requests.",
		}, []string{"provider", "outcome"}),
		RateLimitWait: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamarr", Name: "rate_limit_wait_seconds_total",
			Help: "Cumulative seconds spent blocked on provider rate limits.",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamarr", Name: "match_cache_hits_total",
			Help: "Stream match cache hits by entry kind.",
		}, []string{"kind"}),
		ManagedChannels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "teamarr", Name: "managed_channels",
			Help: "Active managed channels per group.",
		}, []string{"group"}),
		ChannelsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamarr", Name: "channels_created_total",
			Help: "Managed channels created in the aggregator.",
		}),
		ChannelsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamarr", Name: "channels_deleted_total",
			Help: "Managed channels retired, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.RunsTotal, m.RunDuration, m.MatchesTotal, m.MatchFailures,
		m.ProviderRequests, m.RateLimitWait, m.CacheHits,
		m.ManagedChannels, m.ChannelsCreated, m.ChannelsDeleted,
	)
	return m
}

// Nop returns a Metrics backed by an unregistered registry. Used in tests and
// in code paths that run before the ops listener is up.
func Nop() *Metrics {
	return New()
}
