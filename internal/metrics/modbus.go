// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	modbusCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lockerfleet",
		Name:      "modbus_commands_total",
		Help:      "Total Modbus frame transmissions by result",
	}, []string{"result"})

	modbusErrorRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lockerfleet",
		Name:      "modbus_error_rate",
		Help:      "Modbus error rate percent over the trailing 100 commands",
	})
)

// RecordModbusCommand increments the Modbus command counter by result
// ("success"/"failure"), feeding the controller's health() diagnostics.
func RecordModbusCommand(result string) {
	modbusCommandsTotal.WithLabelValues(result).Inc()
}

// RecordModbusErrorRate sets the current trailing error-rate gauge.
func RecordModbusErrorRate(percent float64) {
	modbusErrorRate.Set(percent)
}
