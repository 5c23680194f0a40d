// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rfidScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lockerfleet",
	Name:      "rfid_scans_total",
	Help:      "Total RFID scan attempts by outcome/reason",
}, []string{"outcome"})

// RecordRFIDScan increments the scan counter by outcome (a FailureReason
// string, or "success").
func RecordRFIDScan(outcome string) {
	rfidScansTotal.WithLabelValues(outcome).Inc()
}
