// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var kioskOnline = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "lockerfleet",
	Name:      "kiosk_online",
	Help:      "1 if the kiosk's last heartbeat is within offline_threshold, else 0",
}, []string{"kiosk_id"})

// SetKioskOnline records a kiosk's online/offline state.
func SetKioskOnline(kioskID string, online bool) {
	v := 0.0
	if online {
		v = 1.0
	}
	kioskOnline.WithLabelValues(kioskID).Set(v)
}
