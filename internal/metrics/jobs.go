package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portrait",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "远端任务执行次数，按类型与结果划分。",
		},
		[]string{"kind", "outcome"},
	)

	jobRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "portrait",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "从发起连接到任务结束的耗时（秒）。",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120, 180},
		},
		[]string{"kind"},
	)

	jobProgressFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portrait",
			Subsystem: "jobs",
			Name:      "progress_frames_total",
			Help:      "收到的非终止进度帧数量。",
		},
		[]string{"kind"},
	)

	jobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "portrait",
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "当前打开中的任务连接数量。",
		},
		[]string{"kind"},
	)
)

// JobStarted marks a job connection as open and returns the func that marks it done.
func JobStarted(kind string) func() {
	g := jobsInFlight.WithLabelValues(kind)
	g.Inc()
	return g.Dec
}

// ObserveJob records one settled job.
func ObserveJob(kind, outcome string, elapsed time.Duration) {
	jobRunsTotal.WithLabelValues(kind, outcome).Inc()
	jobRunDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveProgress counts one progress frame.
func ObserveProgress(kind string) {
	jobProgressFrames.WithLabelValues(kind).Inc()
}
