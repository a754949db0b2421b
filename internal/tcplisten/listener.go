// Package tcplisten implements the router's TCP listening side: accepting
// GCS client connections, registering each as an Endpoint with the
// dispatcher, and enforcing the configured client ceiling. Generalizes the
// teacher's internal/server package (minus the cannelloni handshake: spec's
// TCP surface has none) down to just the accept loop, since per-connection
// I/O now lives in internal/endpoint.
package tcplisten

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/K4HVH/mav-lite/internal/dispatcher"
	"github.com/K4HVH/mav-lite/internal/endpoint"
	"github.com/K4HVH/mav-lite/internal/logging"
	"github.com/K4HVH/mav-lite/internal/metrics"
	"github.com/K4HVH/mav-lite/internal/routing"
)

var (
	ErrListen = errors.New("tcp listen")
	ErrAccept = errors.New("tcp accept")
)

// Listener accepts TCP clients and registers each as a dispatcher Endpoint.
type Listener struct {
	Dispatcher *dispatcher.Dispatcher
	MaxClients int
	OutBufSize int
	// StatusPub, if set, is notified of every client's connect and
	// disconnect transitions.
	StatusPub endpoint.Notifier

	mu       sync.Mutex
	ln       net.Listener
	addr     string
	readyCh  chan struct{}
	readyOne sync.Once
	wg       sync.WaitGroup
}

// New returns a Listener wired to disp. maxClients <= 0 means unlimited.
func New(disp *dispatcher.Dispatcher, maxClients, outBufSize int) *Listener {
	return &Listener{
		Dispatcher: disp,
		MaxClients: maxClients,
		OutBufSize: outBufSize,
		readyCh:    make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.
func (l *Listener) Ready() <-chan struct{} { return l.readyCh }

// Addr returns the bound address (empty until Ready fires).
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

// Serve binds bindAddr and accepts connections until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context, bindAddr string) error {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(metrics.ErrTCPListen)
		return wrap
	}
	l.mu.Lock()
	l.ln = ln
	l.addr = ln.Addr().String()
	l.mu.Unlock()
	l.readyOne.Do(func() { close(l.readyCh) })
	logging.ForModule("tcp").Info("tcp_listen", "addr", l.addr)

	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) {
				time.Sleep(200 * time.Millisecond)
				continue
			}
			wrap := fmt.Errorf("%w: %v", ErrAccept, err)
			metrics.IncError(metrics.ErrTCPAccept)
			return wrap
		}

		if l.MaxClients > 0 && l.Dispatcher.CountKind(routing.KindTCP) >= l.MaxClients {
			metrics.IncTCPClientRejected()
			logging.ForModule("tcp").Warn("tcp_client_reject_max", "max_clients", l.MaxClients, "remote", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		ep := l.Dispatcher.Register(routing.KindTCP, conn.RemoteAddr().String(), l.OutBufSize)
		ep.Conn = conn
		logging.ForModule("tcp").Info("tcp_client_connected", "endpoint_id", ep.ID, "remote", conn.RemoteAddr().String())
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			done := endpoint.RunTCP(ctx, ep, conn, l.Dispatcher, l.StatusPub)
			<-done
			l.Dispatcher.Unregister(ep)
			logging.ForModule("tcp").Info("tcp_client_disconnected", "endpoint_id", ep.ID)
		}()
	}
}

// Shutdown closes the listener and waits (up to the caller's context
// deadline) for all accepted connections' goroutines to finish.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	done := make(chan struct{})
	go func() { l.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
