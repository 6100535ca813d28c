package target

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// debugEvents tracks debug events by kind
	debugEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bs3mem_debug_events_total",
			Help: "Debug events received from the target, by kind",
		},
		[]string{"kind"},
	)

	// breakpointLatency tracks how long the target stays suspended per trap
	breakpointLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bs3mem_breakpoint_handle_seconds",
			Help:    "Time spent handling a breakpoint trap while the target is suspended",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
	)

	// breakpointHits tracks hits per breakpoint site
	breakpointHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bs3mem_breakpoint_hits_total",
			Help: "Breakpoint hits by site",
		},
		[]string{"site"},
	)
)
