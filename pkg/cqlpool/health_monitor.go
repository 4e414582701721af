package cqlpool

import "sync"

// HealthListener observes a host's up/down transitions. A Session/Cluster
// is the typical listener. Implementations must not block for long and
// must not call back into the HealthMonitor that is notifying them.
type HealthListener interface {
	OnUp(host *Host)
	OnDown(host *Host)
}

// listenerHandle is the explicit registration token returned by Register,
// standing in for the source's weak references (spec.md §9): since Go has
// no weak references, listeners must Unregister explicitly at teardown
// rather than relying on GC to drop stale entries.
type listenerHandle struct {
	listener HealthListener
}

// HealthMonitor tracks a single host's is-up state and fans out up/down
// events to registered listeners.
type HealthMonitor struct {
	host *Host

	mu        sync.Mutex
	policy    ConvictionPolicy
	isUp      bool
	listeners map[*listenerHandle]struct{}
}

// newHealthMonitor constructs a HealthMonitor bound to host, defaulting to
// up, per spec.md §3.
func newHealthMonitor(host *Host, policy ConvictionPolicy) *HealthMonitor {
	return &HealthMonitor{
		host:      host,
		policy:    policy,
		isUp:      true,
		listeners: make(map[*listenerHandle]struct{}),
	}
}

// Register adds listener and returns a handle for later Unregister calls.
func (m *HealthMonitor) Register(listener HealthListener) *listenerHandle {
	h := &listenerHandle{listener: listener}
	m.mu.Lock()
	m.listeners[h] = struct{}{}
	m.mu.Unlock()
	return h
}

// Unregister removes a previously registered listener. Callers (typically
// a Cluster/Session shutting down) must call this explicitly since Go has
// no weak references to do it implicitly.
func (m *HealthMonitor) Unregister(h *listenerHandle) {
	m.mu.Lock()
	delete(m.listeners, h)
	m.mu.Unlock()
}

// IsUp reports the last-known up/down state.
func (m *HealthMonitor) IsUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isUp
}

func (m *HealthMonitor) snapshotListeners() []HealthListener {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HealthListener, 0, len(m.listeners))
	for h := range m.listeners {
		out = append(out, h.listener)
	}
	return out
}

// SetDown flips is_up to false *before* notifying listeners, then notifies
// OnDown on each. This ordering (flip-then-notify) is intentional per
// spec.md §4.1 and is the mirror image of Reset's notify-then-flip.
func (m *HealthMonitor) SetDown() {
	m.mu.Lock()
	m.isUp = false
	m.mu.Unlock()

	for _, l := range m.snapshotListeners() {
		notifyListener(func() { l.OnDown(m.host) })
	}
}

// Reset clears the conviction policy, notifies OnUp on each listener, and
// only then flips is_up to true. Listeners may therefore observe
// is_up == false during their OnUp callback; this asymmetry is preserved
// from the source so is_up can be used as a "new state" sentinel only in
// the down direction (spec.md §4.1).
func (m *HealthMonitor) Reset() {
	m.policy.Reset()

	for _, l := range m.snapshotListeners() {
		notifyListener(func() { l.OnUp(m.host) })
	}

	m.mu.Lock()
	m.isUp = true
	m.mu.Unlock()
}

// SignalConnectionFailure delegates to the conviction policy and, if the
// host is now convicted, transitions it down. It returns whether the host
// was convicted by this failure.
func (m *HealthMonitor) SignalConnectionFailure(err error) bool {
	convicted := m.policy.AddFailure(err)
	if convicted {
		m.SetDown()
	}
	return convicted
}

// notifyListener runs fn, swallowing and logging any panic so that one
// misbehaving listener cannot prevent the others from being notified nor
// corrupt monitor state (spec.md §4.1's failure semantics).
func notifyListener(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			defaultLogger.Error("health listener panicked", "panic", r)
		}
	}()
	fn()
}

var defaultLogger = NewLogger(LoggingConfig{Level: "info", Format: "text"})
