package endpoint

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/K4HVH/mav-lite/internal/logging"
	"github.com/K4HVH/mav-lite/internal/mavlink"
	"github.com/K4HVH/mav-lite/internal/metrics"
	"github.com/K4HVH/mav-lite/internal/serialport"
	"github.com/K4HVH/mav-lite/internal/transport"
)

const serialReadBufSize = 4096

// notifyTimeout bounds how long a status-publish call may block the
// connected/disconnected notification it's attached to; publishing is
// best-effort and must never hold up endpoint teardown.
const notifyTimeout = 2 * time.Second

// Dispatcher is the subset of *dispatcher.Dispatcher an endpoint needs.
// Declared here (rather than importing the dispatcher package) to avoid an
// import cycle: dispatcher imports endpoint for the registry's element type.
type Dispatcher interface {
	Ingest(src *Endpoint, fr mavlink.Frame)
}

// Notifier mirrors an endpoint's connected/disconnected transitions to an
// external observer (internal/statuspub's Redis publisher, in practice). A
// nil Notifier is valid and simply means no one is listening.
type Notifier interface {
	PublishEndpointState(ctx context.Context, name, state string)
}

func notify(pub Notifier, name, state string) {
	if pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	pub.PublishEndpointState(ctx, name, state)
}

// RunSerial drives one UART endpoint's reader and writer loops until ctx is
// cancelled or the port reports a fatal error (e.g. device unplugged). It
// does not reconnect itself; the caller (supervisor or discovery agent)
// observes termination via Done and decides whether to retry. This mirrors
// the teacher's serial RX loop (cmd/can-server/backend_serial.go) generalized
// from a single fixed device to one of N registered endpoints, and its
// TXWriter generalized onto the shared transport.AsyncTx.
func RunSerial(ctx context.Context, ep *Endpoint, port serialport.Port, disp Dispatcher, pub Notifier) <-chan struct{} {
	done := make(chan struct{})
	notify(pub, ep.Name, "connected")
	go func() {
		<-done
		notify(pub, ep.Name, "disconnected")
	}()

	tx := transport.NewAsyncTx(ctx, cap(ep.Out), func(fr mavlink.Frame) error {
		_, err := port.Write(fr.Raw)
		return err
	}, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialRead)
			logging.ForModule("serial").Warn("serial_write_error", "endpoint_id", ep.ID, "name", ep.Name, "error", err)
		},
	})

	go func() {
		defer close(done)
		defer tx.Close()
		for {
			select {
			case fr, ok := <-ep.Out:
				if !ok {
					return
				}
				_ = tx.SendFrame(fr)
			case <-ep.Closed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		parser := mavlink.NewParser()
		buf := make([]byte, serialReadBufSize)
		for {
			select {
			case <-ctx.Done():
				ep.Close()
				return
			case <-ep.Closed:
				return
			default:
			}
			n, err := port.Read(buf)
			if n > 0 {
				parser.Feed(buf[:n])
				for {
					fr, ok := parser.Next()
					if !ok {
						break
					}
					disp.Ingest(ep, fr)
				}
			}
			if err != nil {
				if ctx.Err() != nil {
					ep.Close()
					return
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					continue
				}
				metrics.IncError(metrics.ErrSerialRead)
				logging.ForModule("serial").Warn("serial_read_error", "endpoint_id", ep.ID, "name", ep.Name, "error", err)
				ep.Close()
				return
			}
		}
	}()

	return done
}
