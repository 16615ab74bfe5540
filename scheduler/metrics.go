package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ducks/llmux/stepresult"
	"github.com/ducks/llmux/workflow"
)

// Registry is a dedicated prometheus registry for step metrics, rather
// than prometheus.DefaultRegisterer, so these metrics can be gathered apart
// from whatever else registers against the global default. No CLI command
// gathers or exposes it.
var Registry = prometheus.NewRegistry()

var (
	stepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llmux_step_duration_seconds",
		Help:    "Wall-clock duration of a single step execution, by step type and outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type", "outcome"})

	stepOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llmux_step_outcomes_total",
		Help: "Count of completed steps by type and outcome.",
	}, []string{"type", "outcome"})
)

func init() {
	Registry.MustRegister(stepDuration, stepOutcomes)
}

func outcomeOf(res *stepresult.StepResult) string {
	switch {
	case res.Cancelled:
		return "cancelled"
	case res.Blocked:
		return "blocked"
	case res.Skipped:
		return "skipped"
	case res.Failed:
		return "failed"
	default:
		return "success"
	}
}

func recordStepMetrics(step *workflow.Step, res *stepresult.StepResult, duration time.Duration) {
	outcome := outcomeOf(res)
	stepDuration.WithLabelValues(string(step.Type), outcome).Observe(duration.Seconds())
	stepOutcomes.WithLabelValues(string(step.Type), outcome).Inc()
}
