// Package supervisor owns the reconnect lifecycle of statically-configured
// UART endpoints and the process-wide graceful shutdown sequence.
// Generalizes the teacher's serial RX-loop backoff
// (cmd/can-server/backend_serial.go, cmd/can-server/backend_consts.go) from
// a single fixed device to any number of configured paths, and its
// Server.Shutdown drain-then-force-close shape
// (internal/server/server.go) to the dispatcher's full endpoint set.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/K4HVH/mav-lite/internal/dispatcher"
	"github.com/K4HVH/mav-lite/internal/endpoint"
	"github.com/K4HVH/mav-lite/internal/logging"
	"github.com/K4HVH/mav-lite/internal/metrics"
	"github.com/K4HVH/mav-lite/internal/routing"
	"github.com/K4HVH/mav-lite/internal/serialport"
)

const (
	backoffMin = time.Second
	backoffMax = 30 * time.Second
)

// sleepFn is the reconnect backoff's sleep seam, overridden in tests to
// observe backoff progression without waiting in real time (mirrors the
// teacher's sleepFn in cmd/can-server/backend_serial.go).
var sleepFn = time.Sleep

// StaticUART is one [[uart]] table entry from configuration.
type StaticUART struct {
	Path string
	Baud int
	Name string
}

// Supervisor reconnects statically-configured UART paths with exponential
// backoff (reset whenever a connection is successfully opened) and drains
// the dispatcher's endpoints on shutdown.
type Supervisor struct {
	Dispatcher    *dispatcher.Dispatcher
	OutBufSize    int
	ReadTimeout   time.Duration
	DrainDeadline time.Duration
	// StatusPub, if set, is notified of every static UART's connect and
	// disconnect transitions.
	StatusPub endpoint.Notifier

	wg sync.WaitGroup
}

// New returns a Supervisor wired to disp.
func New(disp *dispatcher.Dispatcher, outBufSize int, readTimeout, drainDeadline time.Duration) *Supervisor {
	return &Supervisor{
		Dispatcher:    disp,
		OutBufSize:    outBufSize,
		ReadTimeout:   readTimeout,
		DrainDeadline: drainDeadline,
	}
}

// StartStaticUARTs launches one reconnect loop per configured path and
// returns immediately; loops run until ctx is cancelled.
func (s *Supervisor) StartStaticUARTs(ctx context.Context, paths []StaticUART) {
	for _, p := range paths {
		s.wg.Add(1)
		go func(p StaticUART) {
			defer s.wg.Done()
			s.runStatic(ctx, p)
		}(p)
	}
}

func (s *Supervisor) runStatic(ctx context.Context, cfg StaticUART) {
	backoff := backoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		port, err := serialport.Open(cfg.Path, cfg.Baud, s.ReadTimeout)
		if err != nil {
			metrics.IncReconnectAttempt(cfg.Path)
			metrics.IncError(metrics.ErrSerialOpen)
			logging.ForModule("serial").Warn("uart_open_failed", "path", cfg.Path, "name", cfg.Name, "error", err, "backoff", backoff)
			sleepFn(backoff)
			select {
			case <-ctx.Done():
				return
			default:
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}

		backoff = backoffMin
		ep := s.Dispatcher.Register(routing.KindUART, cfg.Name, s.OutBufSize)
		logging.ForModule("serial").Info("uart_connected", "path", cfg.Path, "name", cfg.Name, "endpoint_id", ep.ID)

		done := endpoint.RunSerial(ctx, ep, port, s.Dispatcher, s.StatusPub)
		<-done

		s.Dispatcher.Unregister(ep)
		_ = port.Close()
		logging.ForModule("serial").Warn("uart_disconnected", "path", cfg.Path, "name", cfg.Name, "endpoint_id", ep.ID)
	}
}

// Shutdown waits up to DrainDeadline for every registered endpoint's
// outbound queue to empty before returning, giving in-flight frames a
// chance to reach their destination before the process exits. It does not
// itself close anything; callers close listeners/cancel contexts first so
// no new frames are enqueued during the drain window. After the drain it
// waits up to a further DrainDeadline for the static-UART reconnect loops
// to exit.
func (s *Supervisor) Shutdown(ctx context.Context) {
	deadline := time.Now().Add(s.DrainDeadline)
	for time.Now().Before(deadline) {
		if s.allQueuesDrained() {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(s.DrainDeadline):
	}
}

func (s *Supervisor) allQueuesDrained() bool {
	for _, ep := range s.Dispatcher.Snapshot() {
		if ep.QueueDepth() > 0 {
			return false
		}
	}
	return true
}
