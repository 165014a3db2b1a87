package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds search counters shared by every run of a process.
// Register it once, then hand each run its own Collector.
type PrometheusMetrics struct {
	iterations   *prometheus.CounterVec
	nodes        *prometheus.CounterVec
	rolloutSteps *prometheus.HistogramVec
	stopped      *prometheus.CounterVec
}

func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		iterations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finsim_search_iterations_total",
			Help: "Completed select/expand/simulate/backpropagate cycles",
		}, []string{"tolerance"}),
		nodes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finsim_search_nodes_created_total",
			Help: "Nodes added to search trees",
		}, []string{"tolerance"}),
		rolloutSteps: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finsim_search_rollout_steps",
			Help:    "Random-walk steps taken per rollout",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}, []string{"tolerance"}),
		stopped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finsim_search_stopped_total",
			Help: "Runs cancelled before reaching their iteration cap",
		}, []string{"tolerance"}),
	}
}

// Collector returns a per-run collector that also feeds the shared counters.
func (p *PrometheusMetrics) Collector(tolerance string) Collector {
	return &promCollector{
		Collector:    NewCollector(),
		iterations:   p.iterations.WithLabelValues(tolerance),
		nodes:        p.nodes.WithLabelValues(tolerance),
		rolloutSteps: p.rolloutSteps.WithLabelValues(tolerance),
		stopped:      p.stopped.WithLabelValues(tolerance),
	}
}

type promCollector struct {
	Collector
	iterations   prometheus.Counter
	nodes        prometheus.Counter
	rolloutSteps prometheus.Observer
	stopped      prometheus.Counter
}

func (m *promCollector) AddIteration() {
	m.Collector.AddIteration()
	m.iterations.Inc()
}

func (m *promCollector) AddRollout(steps int) {
	m.Collector.AddRollout(steps)
	m.rolloutSteps.Observe(float64(steps))
}

func (m *promCollector) AddNode() {
	m.Collector.AddNode()
	m.nodes.Inc()
}

func (m *promCollector) SetStopped(value bool) {
	m.Collector.SetStopped(value)
	if value {
		m.stopped.Inc()
	}
}
