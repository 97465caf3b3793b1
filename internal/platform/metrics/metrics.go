package metrics

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medterm/masterdata/internal/platform/worker"
)

// Metrics holds the Prometheus collectors for the master engine. Each
// instance owns its registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	RecordWrites     *prometheus.CounterVec
	DegradedWrites   *prometheus.CounterVec
	RecordsCreated   *prometheus.CounterVec
	LegacyResolved   *prometheus.CounterVec
	LegacyPromotions *prometheus.CounterVec
	CacheRequests    *prometheus.CounterVec
	ListDuration     *prometheus.HistogramVec
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RecordWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_record_writes_total",
			Help: "Master record writes by taxonomy type",
		}, []string{"type"}),
		DegradedWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_degraded_writes_total",
			Help: "Writes where one of the two stores failed, by failing store",
		}, []string{"type", "store"}),
		RecordsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_records_created_total",
			Help: "Master records minted by getOrCreate",
		}, []string{"type"}),
		LegacyResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_legacy_resolved_total",
			Help: "Legacy key resolutions by the step that answered",
		}, []string{"step"}),
		LegacyPromotions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_legacy_promotions_total",
			Help: "Legacy payloads promoted to stable ids",
		}, []string{"type"}),
		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_list_cache_requests_total",
			Help: "List cache lookups by result",
		}, []string{"result"}),
		ListDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "masterdata_list_duration_seconds",
			Help:    "Duration of listByType including cache lookups",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"source"}),
	}
}

// The helpers below are nil-safe so components can run without metrics.

func (m *Metrics) IncWrite(typ string) {
	if m != nil {
		m.RecordWrites.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) IncDegraded(typ, store string) {
	if m != nil {
		m.DegradedWrites.WithLabelValues(typ, store).Inc()
	}
}

func (m *Metrics) IncCreated(typ string) {
	if m != nil {
		m.RecordsCreated.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) IncResolved(step string) {
	if m != nil {
		m.LegacyResolved.WithLabelValues(step).Inc()
	}
}

func (m *Metrics) IncPromotion(typ string) {
	if m != nil {
		m.LegacyPromotions.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) IncCache(result string) {
	if m != nil {
		m.CacheRequests.WithLabelValues(result).Inc()
	}
}

// ObserveList records a list call. Call with time.Now() at the start.
func (m *Metrics) ObserveList(source string, start time.Time) {
	if m == nil {
		return
	}
	m.ListDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

// RegisterQueue exposes the background queue counters.
func (m *Metrics) RegisterQueue(name string, stats func() worker.Stats) {
	labels := prometheus.Labels{"queue": name}
	f := promauto.With(m.registry)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "masterdata_queue_depth", Help: "Tasks waiting in the background queue", ConstLabels: labels,
	}, func() float64 { return float64(stats().Queued) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "masterdata_queue_processed_total", Help: "Background tasks completed", ConstLabels: labels,
	}, func() float64 { return float64(stats().Processed) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "masterdata_queue_failed_total", Help: "Background tasks that failed", ConstLabels: labels,
	}, func() float64 { return float64(stats().Failed) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "masterdata_queue_overflow_total", Help: "Tasks refused because the queue was full", ConstLabels: labels,
	}, func() float64 { return float64(stats().Overflow) })
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return echo.WrapHandler(h)
}

// Gatherer exposes the underlying registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
