package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// RealPortFactory opens hardware ports through go.bug.st/serial.
type RealPortFactory struct{}

// Open implements PortFactory.
func (RealPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return port, nil
}

// OpenSerialMux opens path with factory and wraps the port in a SerialMux.
func OpenSerialMux(factory PortFactory, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	port, err := factory.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port), nil
}
