// Package metrics exposes simulator counters in Prometheus format
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moroshma/mqsim/internal/domain/entity"
)

// Stub match outcomes
const (
	ResultMatched = "matched"
	ResultNoMatch = "no_match"
	ResultError   = "error"
)

// QueueLister is anything that can report its queues
type QueueLister interface {
	ListQueues() []entity.QueueInfo
}

// Metrics holds the simulator collectors and their registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal *prometheus.CounterVec
	stubResults     *prometheus.CounterVec
	responseLatency *prometheus.HistogramVec

	mu     sync.Mutex
	depths map[string]*depthCollector
}

// New creates a registry with process, Go runtime and simulator collectors
func New() *Metrics {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqsim_operations_total",
		Help: "Operations executed, by operation and status code",
	}, []string{"operation", "status_code"})

	stubResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqsim_stub_results_total",
		Help: "Inbound imposter messages by match outcome",
	}, []string{"imposter", "result"})

	responseLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mqsim_response_duration_seconds",
		Help:    "Time from consuming a request message to producing its response",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
	}, []string{"imposter"})

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		operationsTotal,
		stubResults,
		responseLatency,
	)

	return &Metrics{
		registry:        registry,
		operationsTotal: operationsTotal,
		stubResults:     stubResults,
		responseLatency: responseLatency,
		depths:          make(map[string]*depthCollector),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterQueues exports the depth of every queue of lister under the
// given queue manager label
func (m *Metrics) RegisterQueues(manager string, lister QueueLister) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.depths[manager]; exists {
		return nil
	}
	c := newDepthCollector(manager, lister)
	if err := m.registry.Register(c); err != nil {
		return err
	}
	m.depths[manager] = c
	return nil
}

// UnregisterQueues stops exporting the queues of a queue manager
func (m *Metrics) UnregisterQueues(manager string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, exists := m.depths[manager]; exists {
		m.registry.Unregister(c)
		delete(m.depths, manager)
	}
}

// ObserveOperation counts one executed operation
func (m *Metrics) ObserveOperation(operation string, statusCode int) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
}

// ObserveStub counts one imposter message and its processing time
func (m *Metrics) ObserveStub(imposter, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stubResults.WithLabelValues(imposter, result).Inc()
	m.responseLatency.WithLabelValues(imposter).Observe(elapsed.Seconds())
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// depthCollector reads queue depths at scrape time
type depthCollector struct {
	manager  string
	lister   QueueLister
	depth    *prometheus.Desc
	maxDepth *prometheus.Desc
}

func newDepthCollector(manager string, lister QueueLister) *depthCollector {
	constLabels := prometheus.Labels{"queue_manager": manager}
	return &depthCollector{
		manager: manager,
		lister:  lister,
		depth: prometheus.NewDesc("mqsim_queue_depth",
			"Messages currently in the queue", []string{"queue"}, constLabels),
		maxDepth: prometheus.NewDesc("mqsim_queue_max_depth",
			"Queue capacity", []string{"queue"}, constLabels),
	}
}

func (c *depthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
	ch <- c.maxDepth
}

func (c *depthCollector) Collect(ch chan<- prometheus.Metric) {
	for _, q := range c.lister.ListQueues() {
		ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(q.CurrentDepth), q.Name)
		ch <- prometheus.MustNewConstMetric(c.maxDepth, prometheus.GaugeValue, float64(q.MaxDepth), q.Name)
	}
}
