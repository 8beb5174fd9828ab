package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	predictions *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	dispatches  *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	runningJobs prometheus.Gauge
	stuckJobs   prometheus.Gauge
}

// New registers the collectors on reg; nil means the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpulse_errors_total",
				Help: "Errors by kind",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coinpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpulse_predictions_total",
				Help: "Per-model prediction outcomes",
			},
			[]string{"model", "outcome"},
		),
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpulse_alert_evaluations_total",
				Help: "Alert evaluations by resulting status",
			},
			[]string{"status"},
		),
		dispatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpulse_dispatch_total",
				Help: "Dispatch gate decisions and delivery results",
			},
			[]string{"result"},
		),
		jobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpulse_jobs_total",
				Help: "Finished jobs by type and status",
			},
			[]string{"type", "status"},
		),
		jobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coinpulse_job_duration_seconds",
				Help:    "Job wall time",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"type"},
		),
		runningJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "coinpulse_jobs_running",
			Help: "Jobs currently running in this worker",
		}),
		stuckJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "coinpulse_jobs_stuck",
			Help: "Running jobs without a progress update past the stuck threshold",
		}),
	}
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordPrediction(model, outcome string) {
	r.predictions.WithLabelValues(model, outcome).Inc()
}

func (r *Recorder) RecordAlert(status string) {
	r.alerts.WithLabelValues(status).Inc()
}

func (r *Recorder) RecordDispatch(result string) {
	r.dispatches.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordJob(jobType, status string, seconds float64) {
	r.jobs.WithLabelValues(jobType, status).Inc()
	r.jobDuration.WithLabelValues(jobType).Observe(seconds)
}

func (r *Recorder) SetRunningJobs(n int) { r.runningJobs.Set(float64(n)) }

func (r *Recorder) SetStuckJobs(n int) { r.stuckJobs.Set(float64(n)) }

// Nop discards everything. Used where metrics are optional.
type Nop struct{}

func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordPrediction(string, string) {}
func (Nop) RecordAlert(string) {}
func (Nop) RecordDispatch(string) {}
func (Nop) RecordJob(string, string, float64) {}
func (Nop) SetRunningJobs(int) {}
func (Nop) SetStuckJobs(int) {}
