// Package transport holds the transmit-side abstractions shared by every
// endpoint kind: a generic frame sink and the single-goroutine-funnel
// asynchronous transmitter (AsyncTx) built on top of it.
package transport

import "github.com/K4HVH/mav-lite/internal/mavlink"

// FrameSink is a generic MAVLink frame transmission target: a serial port
// write, a TCP connection write, anything that can accept one raw frame at
// a time and report whether it succeeded.
type FrameSink interface {
	SendFrame(mavlink.Frame) error
}
