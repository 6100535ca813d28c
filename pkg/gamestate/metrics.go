package gamestate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// conveyorBatches tracks materialized conveyor batches by outcome
	conveyorBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bs3mem_conveyor_batches_total",
			Help: "Conveyor batches offered to the state, by result",
		},
		[]string{"result"},
	)
)
