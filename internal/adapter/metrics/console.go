package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConsoleMetrics records session coordinator outcomes. It satisfies session.Recorder.
type ConsoleMetrics struct {
	SignIns       *prometheus.CounterVec
	Swaps         *prometheus.CounterVec
	ViewerFetches *prometheus.CounterVec
	Toasts        *prometheus.CounterVec
	ActiveTabs    prometheus.Gauge
	EvictedTabs   prometheus.Counter
	Confirmation  *prometheus.CounterVec
}

func NewConsoleMetrics(reg prometheus.Registerer) *ConsoleMetrics {
	m := &ConsoleMetrics{
		SignIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sign_ins_total",
			Help:      "Total number of sign-in attempts, by outcome.",
		}, []string{"outcome"}),
		Swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_swaps_total",
			Help:      "Total number of impersonate/unimpersonate exchanges, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ViewerFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "viewer_fetches_total",
			Help:      "Total number of viewer fetches, by outcome.",
		}, []string{"outcome"}),
		Toasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toasts_published_total",
			Help:      "Total number of toasts published, by kind.",
		}, []string{"kind"}),
		ActiveTabs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tabs",
			Help:      "Number of tab contexts held in memory.",
		}),
		EvictedTabs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_tabs_total",
			Help:      "Total number of idle tab contexts evicted.",
		}),
		Confirmation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialog_results_total",
			Help:      "Total number of confirmation dialogs resolved, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.SignIns, m.Swaps, m.ViewerFetches, m.Toasts, m.ActiveTabs, m.EvictedTabs, m.Confirmation)
	return m
}

func (m *ConsoleMetrics) SignIn(outcome string) {
	m.SignIns.WithLabelValues(outcome).Inc()
}

func (m *ConsoleMetrics) Swap(kind, outcome string) {
	m.Swaps.WithLabelValues(kind, outcome).Inc()
}

func (m *ConsoleMetrics) ViewerFetch(outcome string) {
	m.ViewerFetches.WithLabelValues(outcome).Inc()
}
