// Package discovery implements the Discovery Agent: periodic rescanning of
// serial device paths matching a glob pattern, per-path probing for
// decodable MAVLink traffic, and the Unseen/Probing/Adopted/Rejected state
// machine that decides whether a candidate path becomes a live endpoint.
// Generalized from the teacher's single fixed serial backend
// (cmd/can-server/backend_serial.go) to N independently tracked candidate
// paths, with the same backoff-state-machine shape as
// cmd/can-server/backend_backoff_test.go reused for per-path rejection
// cooldown instead of read-error backoff.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/K4HVH/mav-lite/internal/dispatcher"
	"github.com/K4HVH/mav-lite/internal/endpoint"
	"github.com/K4HVH/mav-lite/internal/logging"
	"github.com/K4HVH/mav-lite/internal/mavlink"
	"github.com/K4HVH/mav-lite/internal/metrics"
	"github.com/K4HVH/mav-lite/internal/routing"
	"github.com/K4HVH/mav-lite/internal/serialport"
	"github.com/rs/xid"
)

// Kind enumerates the Discovery Agent's per-path state.
type Kind int

const (
	Unseen Kind = iota
	Probing
	Adopted
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Probing:
		return "probing"
	case Adopted:
		return "adopted"
	case Rejected:
		return "rejected"
	default:
		return "unseen"
	}
}

// State is the Discovery Agent's record for one candidate path.
type State struct {
	Kind       Kind
	Deadline   time.Time // Probing: when the detection window expires
	RejectedAt time.Time // Rejected: when the rescan cooldown expires
	EndpointID routing.EndpointID
}

const probeReadChunk = 256

// discoveryNotifyTimeout bounds a best-effort status publish so it never
// holds up the probe/adopt/reject state machine.
const discoveryNotifyTimeout = 2 * time.Second

// StatusPublisher mirrors discovery-state transitions (and the endpoint
// state transitions of adopted endpoints) to an external observer. A nil
// StatusPublisher is valid and simply means no one is listening.
type StatusPublisher interface {
	endpoint.Notifier
	PublishDiscoveryState(ctx context.Context, path, state string)
}

// Agent owns the per-path discovery state machine. Not safe for concurrent
// use from outside its own goroutines beyond the exported accessor methods,
// which take the internal lock.
type Agent struct {
	Dispatcher       *dispatcher.Dispatcher
	Pattern          string
	Baud             int
	DetectionTimeout time.Duration
	RescanInterval   time.Duration
	OutBufSize       int
	// StaticPaths are paths already owned by statically-configured
	// endpoints; the agent never probes or adopts them (Open Question
	// resolution: static config and discovery are additive, and a path
	// already owned by a live endpoint — static or discovered — is
	// skipped).
	StaticPaths map[string]struct{}
	// StatusPub, if set, is notified of every probe's adoption/rejection.
	StatusPub StatusPublisher

	mu       sync.Mutex
	states   map[string]*State
	owned    map[string]*endpoint.Endpoint
	inFlight map[string]struct{}
}

// New returns an Agent ready to Run.
func New(disp *dispatcher.Dispatcher, pattern string, baud int, detectionTimeout, rescanInterval time.Duration, outBufSize int, staticPaths map[string]struct{}) *Agent {
	if staticPaths == nil {
		staticPaths = map[string]struct{}{}
	}
	return &Agent{
		Dispatcher:       disp,
		Pattern:          pattern,
		Baud:             baud,
		DetectionTimeout: detectionTimeout,
		RescanInterval:   rescanInterval,
		OutBufSize:       outBufSize,
		StaticPaths:      staticPaths,
		states:           make(map[string]*State),
		owned:            make(map[string]*endpoint.Endpoint),
		inFlight:         make(map[string]struct{}),
	}
}

// Run rescans candidate paths every RescanInterval until ctx is cancelled,
// probing newly seen paths immediately on the first tick.
func (a *Agent) Run(ctx context.Context) {
	a.rescan(ctx)
	t := time.NewTicker(a.RescanInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.rescan(ctx)
		}
	}
}

// State returns a copy of the current state for path, for diagnostics.
func (a *Agent) State(path string) (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[path]
	if !ok {
		return State{}, false
	}
	return *st, true
}

func (a *Agent) notifyDiscovery(path, state string) {
	if a.StatusPub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), discoveryNotifyTimeout)
	defer cancel()
	a.StatusPub.PublishDiscoveryState(ctx, path, state)
}

func (a *Agent) rescan(ctx context.Context) {
	candidates, err := serialport.ListPorts()
	if err != nil {
		logging.ForModule("discovery").Warn("discovery_list_ports_failed", "error", err)
		return
	}
	candidates = serialport.MatchPattern(candidates, a.Pattern)
	now := time.Now()

	for _, path := range candidates {
		if _, static := a.StaticPaths[path]; static {
			continue
		}

		a.mu.Lock()
		if ep, ok := a.owned[path]; ok {
			if ep.Alive() {
				a.mu.Unlock()
				continue
			}
			// The endpoint we adopted died; return to Unseen so the next
			// tick re-probes it (spec: Adopted returns to Unseen on
			// endpoint death).
			delete(a.owned, path)
			delete(a.states, path)
		}

		if _, inFlight := a.inFlight[path]; inFlight {
			a.mu.Unlock()
			continue
		}

		st, ok := a.states[path]
		if !ok {
			st = &State{Kind: Unseen}
			a.states[path] = st
		}
		switch st.Kind {
		case Probing:
			a.mu.Unlock()
			continue
		case Rejected:
			if now.Before(st.RejectedAt) {
				a.mu.Unlock()
				continue
			}
			st.Kind = Unseen
		}

		a.inFlight[path] = struct{}{}
		a.mu.Unlock()

		go a.probe(ctx, path)
	}
}

// probe opens path, listens for up to DetectionTimeout for one decodable
// MAVLink frame, and transitions the path's state to Adopted or Rejected.
func (a *Agent) probe(ctx context.Context, path string) {
	defer func() {
		a.mu.Lock()
		delete(a.inFlight, path)
		a.mu.Unlock()
	}()

	probeID := xid.New().String()
	a.setState(path, &State{Kind: Probing, Deadline: time.Now().Add(a.DetectionTimeout)})

	readTimeout := a.DetectionTimeout
	if readTimeout <= 0 {
		readTimeout = time.Second
	}
	port, err := serialport.Open(path, a.Baud, readTimeout)
	if err != nil {
		metrics.IncError(metrics.ErrSerialOpen)
		logging.ForModule("discovery").Debug("discovery_probe_open_failed", "probe_id", probeID, "path", path, "error", err)
		a.reject(path)
		return
	}

	parser := mavlink.NewParser()
	deadline := time.Now().Add(a.DetectionTimeout)
	buf := make([]byte, probeReadChunk)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			_ = port.Close()
			return
		default:
		}
		n, _ := port.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
			if _, ok := parser.Next(); ok {
				a.adopt(path, port, probeID)
				return
			}
		}
	}
	_ = port.Close()
	logging.ForModule("discovery").Debug("discovery_probe_timed_out", "probe_id", probeID, "path", path)
	a.reject(path)
}

// adopt registers path as a live endpoint. A path adopted without a
// configured friendly name gets one synthesized from its probe's
// correlation ID, so logs and metrics can distinguish two UARTs sharing a
// generic device path pattern across reconnects.
func (a *Agent) adopt(path string, port serialport.Port, probeID string) {
	ep := a.Dispatcher.Register(routing.KindUART, path+"-"+probeID, a.OutBufSize)
	a.setState(path, &State{Kind: Adopted, EndpointID: ep.ID})
	a.mu.Lock()
	a.owned[path] = ep
	a.mu.Unlock()
	metrics.IncDiscoveryAdoption()
	logging.ForModule("discovery").Info("discovery_adopted", "probe_id", probeID, "path", path, "endpoint_id", ep.ID)
	a.notifyDiscovery(path, "adopted")

	go func() {
		done := endpoint.RunSerial(context.Background(), ep, port, a.Dispatcher, a.StatusPub)
		<-done
		a.Dispatcher.Unregister(ep)
		_ = port.Close()
		logging.ForModule("discovery").Info("discovery_endpoint_lost", "path", path, "endpoint_id", ep.ID)
	}()
}

func (a *Agent) reject(path string) {
	a.setState(path, &State{Kind: Rejected, RejectedAt: time.Now().Add(a.RescanInterval)})
	metrics.IncDiscoveryRejection()
	logging.ForModule("discovery").Debug("discovery_rejected", "path", path)
	a.notifyDiscovery(path, "rejected")
}

func (a *Agent) setState(path string, st *State) {
	a.mu.Lock()
	a.states[path] = st
	a.mu.Unlock()
}
