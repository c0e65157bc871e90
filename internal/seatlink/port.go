package seatlink

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the seat controller firmware.
const DefaultBaudRate = 115200

// OpenPort opens the serial device at path. 8 data bits, no parity, one
// stop bit.
func OpenPort(path string, baudRate int) (Porter, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return port, nil
}
