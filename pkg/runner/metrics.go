package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stepflow/engine/pkg/workflow"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepflow_runner_runs_total",
			Help: "Workflow runs reaching a terminal status, by workflow and status",
		},
		[]string{"workflow_id", "status"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "stepflow_runner_run_duration_seconds",
			Help: "Wall-clock duration of a Sync run or an Async worker job from start to its first terminal or halted status",
		},
		[]string{"workflow_id"},
	)

	queuePending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stepflow_runner_queue_pending",
			Help: "Jobs enqueued by the Async runner that no Worker has dequeued yet",
		},
		[]string{"workflow_id"},
	)
)

func recordRun(workflowID string, status workflow.Status, elapsed time.Duration) {
	runsTotal.WithLabelValues(workflowID, string(status)).Inc()
	runDuration.WithLabelValues(workflowID).Observe(elapsed.Seconds())
}
