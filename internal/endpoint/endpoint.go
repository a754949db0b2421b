// Package endpoint defines the router's notion of a connected peer: the
// bounded outbound queue, liveness signaling, and per-endpoint learned-sysid
// bookkeeping shared by every transport (TCP client, UART device).
package endpoint

import (
	"net"
	"sync"

	"github.com/K4HVH/mav-lite/internal/mavlink"
	"github.com/K4HVH/mav-lite/internal/routing"
)

// DefaultOutBuf is the default capacity of an endpoint's outbound queue
// (spec: 256 frames).
const DefaultOutBuf = 256

// Endpoint is a registered peer of the dispatcher: a bounded outbound queue
// plus the bookkeeping the dispatcher needs to fan frames in and out of it.
// Analogous to the teacher's hub.Client, generalized with an ID, a Kind, a
// human-facing name, and a per-endpoint learned-sysid set (the teacher's
// Hub has no sysid concept since CAN has no equivalent addressing).
type Endpoint struct {
	ID   routing.EndpointID
	Kind routing.Kind
	Name string

	// Conn is set for TCP endpoints only, giving diagnostic code (netinfo)
	// a handle to sample connection health. Nil for UART endpoints.
	Conn net.Conn

	Out       chan mavlink.Frame
	Closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sysids  map[uint8]struct{}
	aliveFn func() bool
}

// New allocates an Endpoint with a bounded outbound queue of bufSize frames
// (DefaultOutBuf if bufSize <= 0).
func New(id routing.EndpointID, kind routing.Kind, name string, bufSize int) *Endpoint {
	if bufSize <= 0 {
		bufSize = DefaultOutBuf
	}
	return &Endpoint{
		ID:     id,
		Kind:   kind,
		Name:   name,
		Out:    make(chan mavlink.Frame, bufSize),
		Closed: make(chan struct{}),
		sysids: make(map[uint8]struct{}),
	}
}

// Close signals the endpoint is going away; idempotent.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() { close(e.Closed) })
}

// Alive reports whether the endpoint has not yet been closed.
func (e *Endpoint) Alive() bool {
	select {
	case <-e.Closed:
		return false
	default:
		return true
	}
}

// LearnSysid records that this endpoint has sent traffic as sysid. Returns
// true if this is the first time this endpoint has claimed that sysid.
func (e *Endpoint) LearnSysid(sysid uint8) bool {
	if sysid == 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sysids[sysid]; ok {
		return false
	}
	e.sysids[sysid] = struct{}{}
	return true
}

// LearnedSysids returns a snapshot of sysids this endpoint has sent as.
func (e *Endpoint) LearnedSysids() []uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint8, 0, len(e.sysids))
	for s := range e.sysids {
		out = append(out, s)
	}
	return out
}

// Enqueue attempts a non-blocking send of fr to the endpoint's outbound
// queue. Returns false if the queue is full (caller counts/logs the drop).
func (e *Endpoint) Enqueue(fr mavlink.Frame) bool {
	select {
	case e.Out <- fr:
		return true
	default:
		return false
	}
}

// QueueDepth reports the number of frames currently buffered for send.
func (e *Endpoint) QueueDepth() int { return len(e.Out) }
