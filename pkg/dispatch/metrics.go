package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queueDepth tracks callbacks waiting for the worker
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bs3mem_dispatch_queue_depth",
			Help: "Callbacks waiting for the dispatch worker",
		},
		[]string{"queue"},
	)

	// callbacks tracks finished callbacks by outcome
	callbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bs3mem_dispatch_callbacks_total",
			Help: "Dispatched callbacks by queue and status",
		},
		[]string{"queue", "status"},
	)
)
