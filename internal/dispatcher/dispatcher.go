// Package dispatcher implements the router's central fan-out: every decoded
// frame from every endpoint passes through here, gets attributed to its
// source sysid, and is broadcast to every other endpoint the routing policy
// and the source/destination kinds permit.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/K4HVH/mav-lite/internal/endpoint"
	"github.com/K4HVH/mav-lite/internal/logging"
	"github.com/K4HVH/mav-lite/internal/mavlink"
	"github.com/K4HVH/mav-lite/internal/metrics"
	"github.com/K4HVH/mav-lite/internal/routing"
)

// sysidNotifyTimeout bounds the best-effort status publish fired when a new
// sysid is learned on an endpoint, so a slow publisher never stalls the
// dispatch hot path.
const sysidNotifyTimeout = 2 * time.Second

// dropWarnInterval bounds how often a single endpoint's queue-full
// condition is logged, so a permanently wedged client doesn't flood logs.
const dropWarnInterval = time.Second

// Dispatcher owns the endpoint registry and the sysid ownership table. It
// is the only component that mutates either, so nothing downstream needs a
// lock on the hot path beyond the registry's own map guard (the design's
// idealized single-goroutine-funnel, implemented here with a mutex the way
// the teacher's Hub guards its client map).
type Dispatcher struct {
	policy routing.Policy
	sysids *routing.SysidTable
	// StatusPub, if set, is notified whenever an endpoint learns a new
	// sysid.
	StatusPub endpoint.Notifier

	mu        sync.RWMutex
	endpoints map[routing.EndpointID]*endpoint.Endpoint
	nextID    uint64

	lastDropWarnMu sync.Mutex
	lastDropWarn   map[routing.EndpointID]time.Time
}

// New creates a Dispatcher enforcing policy.
func New(policy routing.Policy) *Dispatcher {
	return &Dispatcher{
		policy:       policy,
		sysids:       routing.NewSysidTable(),
		endpoints:    make(map[routing.EndpointID]*endpoint.Endpoint),
		lastDropWarn: make(map[routing.EndpointID]time.Time),
	}
}

// Register allocates a dense EndpointID and adds ep to the registry. ep.ID
// is set before return.
func (d *Dispatcher) Register(kind routing.Kind, name string, outBuf int) *endpoint.Endpoint {
	id := routing.EndpointID(atomic.AddUint64(&d.nextID, 1))
	ep := endpoint.New(id, kind, name, outBuf)
	d.mu.Lock()
	d.endpoints[id] = ep
	n := len(d.endpoints)
	d.mu.Unlock()
	metrics.SetActiveEndpoints(n)
	logging.ForModule("dispatcher").Info("endpoint_registered", "id", id, "kind", kind.String(), "name", name)
	return ep
}

// Unregister removes ep from the registry, purges its learned sysids, and
// closes it. Safe to call more than once.
func (d *Dispatcher) Unregister(ep *endpoint.Endpoint) {
	d.mu.Lock()
	_, existed := d.endpoints[ep.ID]
	delete(d.endpoints, ep.ID)
	n := len(d.endpoints)
	d.mu.Unlock()
	if !existed {
		return
	}
	d.sysids.Purge(ep.ID)
	ep.Close()
	metrics.SetActiveEndpoints(n)
	metrics.SetSysidTableSize(d.sysids.Len())
	logging.ForModule("dispatcher").Info("endpoint_unregistered", "id", ep.ID, "kind", ep.Kind.String(), "name", ep.Name)
}

// Snapshot returns every currently registered endpoint.
func (d *Dispatcher) Snapshot() []*endpoint.Endpoint {
	d.mu.RLock()
	out := make([]*endpoint.Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		out = append(out, ep)
	}
	d.mu.RUnlock()
	return out
}

// Count returns the number of registered endpoints, optionally filtered by
// kind when a filter is supplied via CountKind.
func (d *Dispatcher) Count() int {
	d.mu.RLock()
	n := len(d.endpoints)
	d.mu.RUnlock()
	return n
}

// CountKind returns the number of registered endpoints of the given kind.
func (d *Dispatcher) CountKind(k routing.Kind) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, ep := range d.endpoints {
		if ep.Kind == k {
			n++
		}
	}
	return n
}

// Ingest is called by every endpoint's reader loop with a frame it just
// decoded. It learns the source sysid (if nonzero) and fans the frame out
// to every other registered endpoint the policy permits, never back to the
// source (no-loopback).
func (d *Dispatcher) Ingest(src *endpoint.Endpoint, fr mavlink.Frame) {
	metrics.IncRx(src.Kind)
	if fr.Header.SysID != 0 {
		learned := src.LearnSysid(fr.Header.SysID)
		d.sysids.Learn(fr.Header.SysID, src.ID)
		if learned {
			metrics.SetSysidTableSize(d.sysids.Len())
			if d.StatusPub != nil {
				ctx, cancel := context.WithTimeout(context.Background(), sysidNotifyTimeout)
				d.StatusPub.PublishEndpointState(ctx, src.Name, "sysid_learned")
				cancel()
			}
		}
	}

	// Raw aliases the source endpoint's parser buffer; copy before handing
	// it to other goroutines' queues so it survives past the next Feed.
	raw := make([]byte, len(fr.Raw))
	copy(raw, fr.Raw)
	out := mavlink.Frame{Header: fr.Header, Raw: raw}

	dests := d.Snapshot()
	fanout := 0
	for _, dst := range dests {
		if dst.ID == src.ID {
			continue
		}
		if !d.policy.Allows(src.Kind, dst.Kind) {
			continue
		}
		fanout++
		if !dst.Enqueue(out) {
			d.warnDrop(dst)
			metrics.IncDispatchDrop(dst.Kind)
		}
	}
	metrics.SetFanout(fanout)
}

// warnDrop logs a queue-full condition for ep, rate-limited to at most once
// per dropWarnInterval per endpoint so a wedged client can't flood logs.
func (d *Dispatcher) warnDrop(ep *endpoint.Endpoint) {
	now := time.Now()
	d.lastDropWarnMu.Lock()
	last, ok := d.lastDropWarn[ep.ID]
	due := !ok || now.Sub(last) >= dropWarnInterval
	if due {
		d.lastDropWarn[ep.ID] = now
	}
	d.lastDropWarnMu.Unlock()
	if due {
		logging.ForModule("dispatcher").Warn("outbound_queue_full", "endpoint_id", ep.ID, "kind", ep.Kind.String(), "name", ep.Name, "depth", ep.QueueDepth())
	}
}

// SysidOwner exposes the current believed owner of sysid for diagnostics
// and status publication.
func (d *Dispatcher) SysidOwner(sysid uint8) (routing.EndpointID, bool) {
	return d.sysids.Owner(sysid)
}

// SysidSnapshot exposes the full sysid table for diagnostics.
func (d *Dispatcher) SysidSnapshot() map[uint8]routing.EndpointID {
	return d.sysids.Snapshot()
}
