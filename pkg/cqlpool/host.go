package cqlpool

import "sync"

// HostDistance tags how far a host is from the driver, and drives pool
// sizing (spec.md §3/§6).
type HostDistance int

const (
	// HostDistanceLocal marks a host in the driver's own datacenter.
	HostDistanceLocal HostDistance = iota
	// HostDistanceRemote marks a host outside the driver's datacenter.
	HostDistanceRemote
)

func (d HostDistance) String() string {
	if d == HostDistanceRemote {
		return "remote"
	}
	return "local"
}

// Host identifies a single cluster node by Address. Hosts are handled as
// *Host and compared by pointer; there is no address-based equality or
// hashing, so two Hosts built for the same address are distinct. Construct
// one Host per address and reuse it.
type Host struct {
	// Address is the host's opaque network identity (e.g. "10.0.0.1:9042").
	Address string

	Datacenter string
	Rack       string

	monitor *HealthMonitor

	mu                 sync.Mutex
	reconnectionHandle *ReconnectionHandler
}

// NewHost creates a Host with a fresh HealthMonitor driven by the policy
// convictionFactory produces.
func NewHost(address string, convictionFactory ConvictionPolicyFactory) *Host {
	h := &Host{Address: address}
	h.monitor = newHealthMonitor(h, convictionFactory())
	return h
}

// SetLocationInfo records the host's datacenter/rack.
func (h *Host) SetLocationInfo(datacenter, rack string) {
	h.Datacenter = datacenter
	h.Rack = rack
}

// Monitor returns the host's HealthMonitor.
func (h *Host) Monitor() *HealthMonitor { return h.monitor }

// GetAndSetReconnectionHandler atomically installs newHandler as the host's
// current reconnection handler and returns whatever handler was previously
// installed (or nil). Callers must Cancel the returned handler to avoid
// two handlers racing to reconnect the same host.
func (h *Host) GetAndSetReconnectionHandler(newHandler *ReconnectionHandler) *ReconnectionHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.reconnectionHandle
	h.reconnectionHandle = newHandler
	return old
}

// CurrentReconnectionHandler returns the host's current reconnection
// handler, or nil if none is active.
func (h *Host) CurrentReconnectionHandler() *ReconnectionHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reconnectionHandle
}
