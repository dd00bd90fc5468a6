package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	TasksExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenario_tasks_total",
		Help: "Total number of executed tasks, labelled by kind and status.",
	}, []string{"kind", "status"})

	NodeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenario_node_requests_total",
		Help: "Total number of node API requests, labelled by operation and status.",
	}, []string{"op", "status"})

	AssertionPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenario_assertion_polls_total",
		Help: "Total number of assertion poll attempts.",
	})

	AssertionWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scenario_assertion_wait_seconds",
		Help:    "Time spent waiting for an assertion to become satisfied.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenario_runs_total",
		Help: "Total number of scenario runs, labelled by verdict.",
	}, []string{"verdict"})
)

// Push sends all default-registry metrics to a push gateway. Used once at the
// end of a run; CI deployments scrape the gateway rather than the runner.
func Push(addr, job string) error {
	return push.New(addr, job).Gatherer(prometheus.DefaultGatherer).Push()
}
