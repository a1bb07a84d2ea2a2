package rtd

import "github.com/prometheus/client_golang/prometheus"

const (
	statusOK      = "ok"
	statusError   = "error"
	statusSkipped = "skipped"

	sourceInline   = "inline"
	sourceProvider = "provider"
)

// Metrics holds the provider's Prometheus metrics.
type Metrics struct {
	Fetches        *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	ConfigMerges   *prometheus.CounterVec
	TargetingCalls prometheus.Counter
}

// NewMetrics creates the provider metrics and registers them with reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "adloox_rtd",
				Name:      "fetches_total",
				Help:      "Classification fetches by outcome",
			},
			[]string{"status"},
		),
		FetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "adloox_rtd",
				Name:      "fetch_duration_seconds",
				Help:      "Classification fetch duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		ConfigMerges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "adloox_rtd",
				Name:      "config_merges_total",
				Help:      "Account identity merges by source",
			},
			[]string{"source"},
		),
		TargetingCalls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "adloox_rtd",
				Name:      "targeting_calls_total",
				Help:      "Targeting resolution calls",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.Fetches, m.FetchDuration, m.ConfigMerges, m.TargetingCalls)
	}
	return m
}
