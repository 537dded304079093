package adapter

import (
	"context"
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the radios' USB serial console
const DefaultBaudRate = 115200

// SerialScanner lists local serial ports
type SerialScanner struct {
	list func() ([]string, error)
}

// NewSerialScanner creates a scanner backed by the OS port list
func NewSerialScanner() *SerialScanner {
	return &SerialScanner{list: serial.GetPortsList}
}

// Name returns the scanner name
func (s *SerialScanner) Name() string {
	return "serial"
}

// Scan returns the port names currently present
func (s *SerialScanner) Scan(ctx context.Context) ([]string, error) {
	ports, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// SerialPortChecker proves a serial port can be opened
type SerialPortChecker struct {
	mode *serial.Mode
	open func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerialPortChecker creates a checker that opens ports at baudRate.
// A non-positive baudRate selects DefaultBaudRate.
func NewSerialPortChecker(baudRate int) *SerialPortChecker {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &SerialPortChecker{
		mode: &serial.Mode{BaudRate: baudRate},
		open: serial.Open,
	}
}

// Check opens and immediately closes port
func (c *SerialPortChecker) Check(ctx context.Context, port string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := c.open(port, c.mode)
	if err != nil {
		return err
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("close %s: %w", port, err)
	}
	return nil
}
