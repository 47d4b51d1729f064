package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	documentsTotal       prometheus.Counter
	transcriptCharsTotal prometheus.Counter
	renderedBytesTotal   prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	return &metrics{
		registry: registry,
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_worker_jobs_total",
			Help: "Total conversion jobs by final status.",
		}, []string{"status"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_worker_job_duration_seconds",
			Help:    "Total processing duration for each conversion job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docflow_worker_active_jobs",
			Help: "Current number of active conversion jobs in the worker.",
		}),
		documentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "docflow_worker_documents_total",
			Help: "Total documents produced by the worker.",
		}),
		transcriptCharsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "docflow_usage_transcript_chars_total",
			Help: "Total transcript characters processed across successful jobs.",
		}),
		renderedBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "docflow_usage_rendered_bytes_total",
			Help: "Total rendered document bytes across successful jobs.",
		}),
		computeTimeMSTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "docflow_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
	}
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
