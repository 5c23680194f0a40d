// SPDX-License-Identifier: MIT

// Package transport provides the RS-485 serial port used by the Modbus
// controller, grounded on seedhammer-seedhammer's mjolnir/driver.go (the
// pack's only real github.com/tarm/serial usage): open-by-device-name,
// baud rate, a bounded read/write timeout. A fake in-memory transport
// backs the controller's unit tests.
package transport

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is the minimal interface the Modbus controller needs from a
// serial connection. *serial.Port and *Fake both satisfy it.
type Port interface {
	io.ReadWriteCloser
}

// Config mirrors modbus.port/baudrate/timeout_ms.
type Config struct {
	Device   string
	BaudRate int
	Timeout  time.Duration
}

// Open opens the RS-485 serial device at 8N1, the default framing for
// the relay-card bus.
func Open(cfg Config) (Port, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("transport: no serial device configured")
	}
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = 9600
	}
	sc := &serial.Config{
		Name:        cfg.Device,
		Baud:        baud,
		ReadTimeout: cfg.Timeout,
	}
	port, err := serial.OpenPort(sc)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Device, err)
	}
	return port, nil
}
