// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lockerfleet",
		Name:      "command_outcomes_total",
		Help:      "Total dispatched commands by type and outcome",
	}, []string{"command_type", "outcome"})

	commandQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lockerfleet",
		Name:      "command_queue_depth",
		Help:      "Pending commands per kiosk",
	}, []string{"kiosk_id"})
)

// RecordCommandOutcome increments the command counter for a completed
// or failed dispatch.
func RecordCommandOutcome(commandType, outcome string) {
	commandOutcomesTotal.WithLabelValues(commandType, outcome).Inc()
}

// SetCommandQueueDepth records the current pending-command count for a kiosk.
func SetCommandQueueDepth(kioskID string, depth float64) {
	commandQueueDepth.WithLabelValues(kioskID).Set(depth)
}
