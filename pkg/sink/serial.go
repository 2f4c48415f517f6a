package sink

import (
	"fmt"
	"time"

	"github.com/tarm/serial"

	"firestige.xyz/pktcraft/pkg/core"
)

const DefaultBaud = 115200

// Serial is a byte port on a serial line, the transport SLIP frames over.
type Serial struct {
	device string
	port   *serial.Port
}

// OpenSerial opens device at the given baud rate (0 selects DefaultBaud).
func OpenSerial(device string, baud int) (*Serial, error) {
	if device == "" {
		return nil, fmt.Errorf("serial: device is required: %w", core.ErrConfigInvalid)
	}
	if baud <= 0 {
		baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: time.Second,
	})
	if err != nil {
		return nil, core.NewSinkError("serial open "+device, err)
	}
	return &Serial{device: device, port: port}, nil
}

func (s *Serial) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	if err != nil {
		return n, core.NewSinkError("serial write "+s.device, err)
	}
	return n, nil
}

// Flush discards data written but not yet transmitted.
func (s *Serial) Flush() error {
	if err := s.port.Flush(); err != nil {
		return core.NewSinkError("serial flush "+s.device, err)
	}
	return nil
}

func (s *Serial) Close() error {
	if err := s.port.Close(); err != nil {
		return core.NewSinkError("serial close "+s.device, err)
	}
	return nil
}
