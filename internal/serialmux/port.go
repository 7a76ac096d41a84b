package serialmux

import (
	"io"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real scanner hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// PortFactory opens serial ports. It lets the CLI and tests choose between
// real devices and in-memory ports.
type PortFactory interface {
	// Open opens the serial port at path with the given options.
	Open(path string, opts PortOptions) (SerialPorter, error)
}
