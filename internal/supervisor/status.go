// Package supervisor implements the Supervisor (C6) that owns the set of
// Tunnel Workers as isolated OS processes, and the Status Registry (C7)
// that both the Supervisor and the introspection endpoint read from.
package supervisor

import (
	"net"
	"sync"
	"time"
)

// TunnelStatus is the per-tunnel counters exposed by the Status Registry.
type TunnelStatus struct {
	StartedTimes int   `json:"started_times"`
	LastStart    int64 `json:"last_start"` // UNIX seconds
}

// Status is the process-wide Status Registry (C7): a thread-safe map from
// tunnel name to its start counters, plus the supervisor's own creation
// time and the host's MAC address (informational only — device
// authorization against it is out of scope here, see spec's Non-goals).
//
// Go's sync.Mutex is not reentrant, unlike the lock this type is modeled
// on. Every exported method takes the lock directly and never calls
// another exported method while holding it; unexported helpers suffixed
// Locked assume the lock is already held and must never be called
// otherwise.
type Status struct {
	mu         sync.Mutex
	data       map[string]*TunnelStatus
	createdAt  time.Time
	macAddress string
}

// NewStatus constructs a Status Registry, stamping its creation time and
// discovering a local MAC address for the snapshot's mac_address field.
func NewStatus() *Status {
	return &Status{
		data:       make(map[string]*TunnelStatus),
		createdAt:  time.Now(),
		macAddress: discoverMACAddress(),
	}
}

// StartTunnel records that tunnelName was just (re)started: increments its
// started_times counter and stamps last_start to now.
func (s *Status) StartTunnel(tunnelName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTunnelLocked(tunnelName)
}

func (s *Status) startTunnelLocked(tunnelName string) {
	st, ok := s.data[tunnelName]
	if !ok {
		st = &TunnelStatus{}
		s.data[tunnelName] = st
	}
	st.StartedTimes++
	st.LastStart = time.Now().Unix()
}

// Snapshot is the JSON-serializable view returned by GET /status.
type Snapshot struct {
	CreatedAt  int64                    `json:"created_at"`
	MACAddress string                   `json:"mac_address"`
	StatusData map[string]TunnelStatus `json:"status_data"`
}

// ToDict returns a point-in-time copy of the registry, safe to serialize
// without holding the registry's lock afterward.
func (s *Status) ToDict() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toDictLocked()
}

func (s *Status) toDictLocked() Snapshot {
	out := make(map[string]TunnelStatus, len(s.data))
	for name, st := range s.data {
		out[name] = *st
	}
	return Snapshot{
		CreatedAt:  s.createdAt.Unix(),
		MACAddress: s.macAddress,
		StatusData: out,
	}
}

// discoverMACAddress returns the first non-empty hardware address among the
// host's network interfaces, or "" if none is found.
func discoverMACAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}
