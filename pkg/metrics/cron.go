package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cron run results.
const (
	CronResultSuccess = "success"
	CronResultFailure = "failure"
	// CronResultSkipped means another worker held the job's lease.
	CronResultSkipped = "skipped"
)

// CronJobMetrics tracks the storefront's scheduled jobs (payment polling,
// unpaid order expiry, outbox retention).
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// NewCronJobMetrics registers the cron job metrics on the provided registerer.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cron_job_runs_total",
		Help: "Scheduled job runs partitioned by job and result.",
	}, []string{"job", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cron_job_duration_seconds",
		Help:    "Duration of executed scheduled jobs in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"job"})
	lastSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cron_job_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run per job.",
	}, []string{"job"})
	reg.MustRegister(runs, duration, lastSuccess)
	return &CronJobMetrics{runs: runs, duration: duration, lastSuccess: lastSuccess}
}

// ObserveRun records an executed run. at is when it finished.
func (c *CronJobMetrics) ObserveRun(job, result string, elapsed time.Duration, at time.Time) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.runs.WithLabelValues(job, result).Inc()
	c.duration.WithLabelValues(job).Observe(elapsed.Seconds())
	if result == CronResultSuccess {
		c.lastSuccess.WithLabelValues(job).Set(float64(at.Unix()))
	}
}

// IncSkipped counts a cycle where the job's lease was held elsewhere.
func (c *CronJobMetrics) IncSkipped(job string) {
	if c == nil || c.runs == nil {
		return
	}
	c.runs.WithLabelValues(normalizeLabel(job), CronResultSkipped).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
