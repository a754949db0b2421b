// Package serialport wraps go.bug.st/serial with the testability seam and
// 8N1-no-flow-control defaults the router's endpoints need, and exposes
// glob-filtered device enumeration for the discovery agent.
package serialport

import (
	"time"

	"go.bug.st/serial"
)

// Port abstracts go.bug.st/serial.Port for testability, mirroring the
// teacher's internal/serial.Port seam (openSerialPort is swapped out in
// tests via a package-level function variable, not an interface mock
// framework).
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// Open is a package-level variable (not a plain func) so tests can
// substitute a fake, following the teacher's openSerialPort idiom. The read
// timeout bounds how long a reader goroutine's blocking Read call can hold
// up context-cancellation checks, mirroring the teacher's
// internal/serial.Open(name, baud, readTimeout) signature.
var Open = func(name string, baud int, readTimeout time.Duration) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if readTimeout > 0 {
		if err := p.SetReadTimeout(readTimeout); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	return p, nil
}
