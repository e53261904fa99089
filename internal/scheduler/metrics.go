package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gend",
			Subsystem: "scheduler",
			Name:      "submissions_total",
			Help:      "Accepted job submissions",
		},
		[]string{"modality"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gend",
			Subsystem: "scheduler",
			Name:      "jobs_total",
			Help:      "Finished jobs by terminal state",
		},
		[]string{"modality", "state"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gend",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Jobs waiting for a model's execution slot",
		},
		[]string{"model"},
	)

	runningJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gend",
			Subsystem: "scheduler",
			Name:      "running",
			Help:      "Whether a model's execution slot is busy (0 or 1)",
		},
		[]string{"model"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gend",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Wall time from job start to terminal state",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"modality"},
	)

	storeWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gend",
			Subsystem: "scheduler",
			Name:      "store_write_failures_total",
			Help:      "Job store writes that failed after retries",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		submissionsTotal,
		jobsTotal,
		queueDepth,
		runningJobs,
		jobDuration,
		storeWriteFailures,
	)
}
