// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lockerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lockerfleet",
	Name:      "locker_transitions_total",
	Help:      "Total locker status transitions by from/to state",
}, []string{"from", "to"})

// RecordLockerTransition increments the transition counter for a
// completed Free/Reserved/Owned/Blocked state change.
func RecordLockerTransition(from, to string) {
	lockerTransitionsTotal.WithLabelValues(from, to).Inc()
}
