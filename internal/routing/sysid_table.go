package routing

import "sync"

// EndpointID is the dense integer identity assigned to an endpoint at
// registration. It is never reused for the lifetime of the process.
type EndpointID uint64

// SysidTable maps a MAVLink system ID to the endpoint currently believed to
// own it. Ownership is last-writer-wins: whichever endpoint most recently
// sent a frame with that sysid is the owner, which is what lets a vehicle's
// telemetry stream migrate from one UART path to another (or from UART to
// a bridging TCP link) without operator intervention. sysid 0 (broadcast /
// unset) is never recorded, matching MAVLink convention.
//
// Owned solely by the dispatcher; guarded by a mutex rather than the
// single-goroutine-funnel the design doc describes, mirroring how the
// teacher's Hub protects its client map.
type SysidTable struct {
	mu    sync.RWMutex
	table map[uint8]EndpointID
}

// NewSysidTable returns an empty table.
func NewSysidTable() *SysidTable {
	return &SysidTable{table: make(map[uint8]EndpointID)}
}

// Learn records that sysid is currently owned by ep, overwriting any prior
// owner. A sysid of 0 is ignored.
func (t *SysidTable) Learn(sysid uint8, ep EndpointID) {
	if sysid == 0 {
		return
	}
	t.mu.Lock()
	t.table[sysid] = ep
	t.mu.Unlock()
}

// Owner returns the endpoint currently believed to own sysid, if any.
func (t *SysidTable) Owner(sysid uint8) (EndpointID, bool) {
	if sysid == 0 {
		return 0, false
	}
	t.mu.RLock()
	ep, ok := t.table[sysid]
	t.mu.RUnlock()
	return ep, ok
}

// Purge removes every sysid owned by ep, called when ep dies so stale
// entries don't silently misroute frames to a dead endpoint's slot.
func (t *SysidTable) Purge(ep EndpointID) {
	t.mu.Lock()
	for sysid, owner := range t.table {
		if owner == ep {
			delete(t.table, sysid)
		}
	}
	t.mu.Unlock()
}

// Len reports the number of sysids currently tracked (for metrics).
func (t *SysidTable) Len() int {
	t.mu.RLock()
	n := len(t.table)
	t.mu.RUnlock()
	return n
}

// Snapshot returns a copy of the table for diagnostics (status publication).
func (t *SysidTable) Snapshot() map[uint8]EndpointID {
	t.mu.RLock()
	out := make(map[uint8]EndpointID, len(t.table))
	for k, v := range t.table {
		out[k] = v
	}
	t.mu.RUnlock()
	return out
}
