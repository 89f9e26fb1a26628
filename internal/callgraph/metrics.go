package callgraph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("bytegraph.callgraph")

var (
	// callSitesTotal counts call sites by outcome: resolved, unresolved,
	// not_found, memo_hit.
	callSitesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bytegraph_callgraph_call_sites_total",
		Help: "Call sites examined by outcome",
	}, []string{"result"})

	// functionsExpanded counts callables inserted into a record, by kind.
	functionsExpanded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bytegraph_callgraph_functions_total",
		Help: "Callables added to the function record by kind",
	}, []string{"kind"})

	buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bytegraph_callgraph_build_duration_seconds",
		Help:    "Duration of one call graph build",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)
