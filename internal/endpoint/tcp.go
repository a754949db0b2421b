package endpoint

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/K4HVH/mav-lite/internal/logging"
	"github.com/K4HVH/mav-lite/internal/mavlink"
	"github.com/K4HVH/mav-lite/internal/metrics"
	"github.com/K4HVH/mav-lite/internal/transport"
)

const tcpReadBufSize = 4096

// RunTCP drives one TCP endpoint's reader and writer loops until ctx is
// cancelled or the connection errors out. Like RunSerial, it never
// reconnects itself: a GCS client that drops is simply unregistered, and a
// new TCP Endpoint is created if and when it reconnects through the
// listener's accept loop. Generalizes the teacher's server/reader.go and
// server/writer.go, dropping the cannelloni handshake and batched encoder
// since MAVLink frames are read and written directly.
func RunTCP(ctx context.Context, ep *Endpoint, conn net.Conn, disp Dispatcher, pub Notifier) <-chan struct{} {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	done := make(chan struct{})
	notify(pub, ep.Name, "connected")
	go func() {
		<-done
		notify(pub, ep.Name, "disconnected")
	}()

	tx := transport.NewAsyncTx(ctx, cap(ep.Out), func(fr mavlink.Frame) error {
		_, err := conn.Write(fr.Raw)
		return err
	}, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrTCPWrite)
			logging.ForModule("tcp").Warn("tcp_write_error", "endpoint_id", ep.ID, "name", ep.Name, "error", err)
		},
	})

	go func() {
		defer close(done)
		defer tx.Close()
		defer func() { _ = conn.Close() }()
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
		defer ep.Close()
		parser := mavlink.NewParser()
		buf := make([]byte, tcpReadBufSize)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := conn.Read(buf)
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
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				metrics.IncError(metrics.ErrTCPRead)
				logging.ForModule("tcp").Warn("tcp_read_error", "endpoint_id", ep.ID, "name", ep.Name, "error", err)
				return
			}
		}
	}()

	return done
}
