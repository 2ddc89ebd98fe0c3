package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Registry holds every collector exposed on /metrics
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		AgentSteps, AgentRuns, AgentActions, PlannerDuration,
		SearchRequests, SearchDuration, SearchCandidates,
	)
}

// AgentSteps counts recorded steps by planner response type
var AgentSteps = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "digitwin_agent_steps_total",
		Help: "Agent steps recorded, by planner response type.",
	},
	[]string{"type"},
)

// AgentRuns counts finished runs by outcome
var AgentRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "digitwin_agent_runs_total",
		Help: "Agent runs finished, by outcome.",
	},
	[]string{"outcome"}, // completed | stopped | errored | exhausted
)

// AgentActions counts executed actions by name and result
var AgentActions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "digitwin_agent_actions_total",
		Help: "UI actions executed, by action name and success.",
	},
	[]string{"name", "success"},
)

// PlannerDuration observes planning service latency
var PlannerDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "digitwin_planner_duration_seconds",
		Help:    "Planning service call latency.",
		Buckets: prometheus.DefBuckets,
	},
)

// SearchRequests counts search requests by HTTP status
var SearchRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "digitwin_search_requests_total",
		Help: "Similarity search requests, by response status.",
	},
	[]string{"status"},
)

// SearchDuration observes end-to-end search latency
var SearchDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "digitwin_search_duration_seconds",
		Help:    "Similarity search latency including the embedding call.",
		Buckets: prometheus.DefBuckets,
	},
)

// SearchCandidates observes how many chunks each search scanned
var SearchCandidates = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "digitwin_search_candidates",
		Help:    "Chunks scanned per search.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	},
)

// WriteText writes all registered metrics in the prometheus text format
func WriteText(w io.Writer) error {
	families, err := Registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// TextContentType is the content type matching WriteText output
func TextContentType() string {
	return string(expfmt.NewFormat(expfmt.TypeTextPlain))
}
