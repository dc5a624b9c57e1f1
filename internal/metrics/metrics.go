// Package metrics exposes Prometheus instruments for the live-session core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "consult"

// Recorder satisfies consult.Metrics and invoice.Metrics.
type Recorder struct {
	registry *prometheus.Registry

	requestsCreated *prometheus.CounterVec
	sessionsStarted *prometheus.CounterVec
	sessionsEnded   *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	ticks           *prometheus.CounterVec
	invoices        *prometheus.CounterVec
}

// New builds a Recorder on its own registry, with Go and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requestsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_created_total",
			Help:      "Consultation requests created, by modality.",
		}, []string{"modality"}),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions started, by modality.",
		}, []string{"modality"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions ended, by modality and reason.",
		}, []string{"modality", "reason"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently metered by this process.",
		}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meter_ticks_total",
			Help:      "Metering ticks, by result.",
		}, []string{"result"}),
		invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoices_total",
			Help:      "Invoice jobs finished, by result.",
		}, []string{"result"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requestsCreated,
		r.sessionsStarted,
		r.sessionsEnded,
		r.activeSessions,
		r.ticks,
		r.invoices,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) RequestCreated(modality string) {
	r.requestsCreated.WithLabelValues(modality).Inc()
}

func (r *Recorder) SessionStarted(modality string) {
	r.sessionsStarted.WithLabelValues(modality).Inc()
	r.activeSessions.Inc()
}

func (r *Recorder) SessionEnded(modality, reason string) {
	r.sessionsEnded.WithLabelValues(modality, reason).Inc()
	r.activeSessions.Dec()
}

func (r *Recorder) Tick(result string) { r.ticks.WithLabelValues(result).Inc() }

func (r *Recorder) InvoiceGenerated() { r.invoices.WithLabelValues("attached").Inc() }
func (r *Recorder) InvoiceFailed()    { r.invoices.WithLabelValues("failed").Inc() }
