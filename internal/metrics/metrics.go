// Package metrics holds the Prometheus collectors of the datalogger on a
// private registry, served at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "datalogger"

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	uploadsTotal     *prometheus.CounterVec
	uploadBytes      prometheus.Counter
	rendersTotal     *prometheus.CounterVec
	listingTruncated prometheus.Counter
	channelValue     *prometheus.GaugeVec
	readErrors       prometheus.Counter
	rowsWritten      prometheus.Counter
	logFilesOpened   prometheus.Counter
	wsClients        prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "sessions_total",
			Help:      "Upload sessions by result",
		}, []string{"result"}),

		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Payload bytes written by uploads",
		}),

		rendersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "documents_total",
			Help:      "Rendered template documents by name and result",
		}, []string{"document", "result"}),

		listingTruncated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "listing_truncated_total",
			Help:      "File listings cut short at the size limit",
		}),

		channelValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "channel_value",
			Help:      "Latest scaled value per analog channel",
		}, []string{"channel"}),

		readErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "read_errors_total",
			Help:      "Failed channel reads",
		}),

		rowsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "rows_written_total",
			Help:      "CSV rows appended to log files",
		}),

		logFilesOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "log_files_opened_total",
			Help:      "Log files created",
		}),

		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected live-readings WebSocket clients",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) ObserveUpload(result string, written int64) {
	m.uploadsTotal.WithLabelValues(result).Inc()
	if written > 0 {
		m.uploadBytes.Add(float64(written))
	}
}

func (m *Metrics) ObserveRender(document string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.rendersTotal.WithLabelValues(document, result).Inc()
}

func (m *Metrics) ListingTruncated() { m.listingTruncated.Inc() }

func (m *Metrics) WSConnected()    { m.wsClients.Inc() }
func (m *Metrics) WSDisconnected() { m.wsClients.Dec() }

// Sample, ReadError, RowWritten and LogFileOpened make Metrics a sampler
// observer.
func (m *Metrics) Sample(values [8]float64) {
	for i, v := range values {
		m.channelValue.WithLabelValues(strconv.Itoa(i)).Set(v)
	}
}

func (m *Metrics) ReadError()           { m.readErrors.Inc() }
func (m *Metrics) RowWritten()          { m.rowsWritten.Inc() }
func (m *Metrics) LogFileOpened(string) { m.logFilesOpened.Inc() }
