package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus mirrors emitted metrics into a dedicated registry:
//
//	coinview_fetch_success_total{source}
//	coinview_fetch_errors_total{source,kind}
//	coinview_refresh_dropped_total{trigger}
//	coinview_rate_limited_total{source}
//	coinview_fetch_duration_seconds{source}
//	coinview_snapshot_records{source}
//	coinview_archive_total{source,result}
type Prometheus struct {
	registry     *prometheus.Registry
	fetchSuccess *prometheus.CounterVec
	fetchErrors  *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	rateLimited  *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	records      *prometheus.GaugeVec
	archive      *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		fetchSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinview_fetch_success_total",
			Help: "Number of market snapshots fetched successfully",
		}, []string{"source"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinview_fetch_errors_total",
			Help: "Number of failed market fetches by notice kind",
		}, []string{"source", "kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinview_refresh_dropped_total",
			Help: "Refresh triggers ignored while a fetch was in flight",
		}, []string{"trigger"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinview_rate_limited_total",
			Help: "Rate limit responses received from a source",
		}, []string{"source"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coinview_fetch_duration_seconds",
			Help:    "Duration of market fetches",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coinview_snapshot_records",
			Help: "Records in the latest snapshot",
		}, []string{"source"}),
		archive: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinview_archive_total",
			Help: "Snapshot archive attempts by result",
		}, []string{"source", "result"}),
	}

	p.registry.MustRegister(
		p.fetchSuccess, p.fetchErrors, p.dropped, p.rateLimited,
		p.duration, p.records, p.archive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Handle is a MetricHandler.
func (p *Prometheus) Handle(m Metric) {
	value, ok := toFloat64(m.Value)
	if !ok {
		return
	}
	source := stringField(m.Fields, "source")

	switch m.Name {
	case MetricFetchSuccess:
		p.fetchSuccess.WithLabelValues(source).Add(value)
	case MetricFetchError:
		p.fetchErrors.WithLabelValues(source, stringField(m.Fields, "kind")).Add(value)
	case MetricRefreshDropped:
		p.dropped.WithLabelValues(stringField(m.Fields, "trigger")).Add(value)
	case MetricRateLimitExceeded:
		p.rateLimited.WithLabelValues(source).Add(value)
	case MetricFetchDuration:
		p.duration.WithLabelValues(source).Observe(value)
	case MetricSnapshotRecords:
		p.records.WithLabelValues(source).Set(value)
	case MetricArchiveWritten:
		p.archive.WithLabelValues(source, "written").Add(value)
	case MetricArchiveDropped:
		p.archive.WithLabelValues(source, "dropped").Add(value)
	}
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
