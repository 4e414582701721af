package cqlpool

import (
	"errors"
	"sync"
	"time"
)

// Scheduler runs a callable after a delay. It is the single point where a
// ReconnectionHandler touches wall-clock time, so tests can substitute a
// deterministic implementation.
type Scheduler interface {
	// Schedule arranges for fn to run after delay elapses. Scheduling never
	// fails synchronously; fn is always eventually invoked unless the
	// process exits first.
	Schedule(delay time.Duration, fn func())
}

// TimerScheduler is a Scheduler backed by time.AfterFunc.
type TimerScheduler struct{}

// Schedule implements Scheduler.
func (TimerScheduler) Schedule(delay time.Duration, fn func()) {
	time.AfterFunc(delay, fn)
}

// reconnectionState is the state machine from spec.md §4.2.
type reconnectionState int

const (
	reconnectionInitial reconnectionState = iota
	reconnectionScheduled
	reconnectionRunning
	reconnectionSucceeded
	reconnectionGaveUp
	reconnectionCancelled
)

// ReconnectionHandler drives the retry loop that re-establishes a
// connection to a host that has gone down. It is created stopped; Start
// schedules the first attempt; each tick either succeeds, gives up, or
// reschedules itself via Schedule.Next.
type ReconnectionHandler struct {
	scheduler Scheduler
	schedule  Schedule

	// TryReconnect attempts to open a fresh connection to the host. The
	// host-specific construction (NewHostReconnectionHandler) binds this to
	// cluster.connection_factory(host.Address).
	TryReconnect func() (Connection, error)

	// OnReconnection is invoked with the freshly opened connection on
	// success, before the completion callback. The host-specific
	// construction binds this to host.Monitor().Reset.
	OnReconnection func(Connection)

	// OnException decides whether to keep retrying after a failed attempt.
	// The default implementation (see defaultOnException) gives up iff err
	// is an authentication failure.
	OnException func(err error, nextDelay time.Duration) bool

	// OnComplete is the completion callback, invoked at most once: on
	// success (after OnReconnection), and when a tick finds the handler
	// cancelled (terminal no-op). On give-up it is NOT invoked (spec.md
	// §4.2 step 4).
	OnComplete func()

	// Metrics, if non-nil, is incremented on every attempt and on every
	// success. It is optional so a handler built without an owning pool's
	// metrics (tests, for instance) doesn't need a throwaway tracker.
	Metrics *PoolMetrics

	mu            sync.Mutex
	state         reconnectionState
	completeOnce  sync.Once
	attemptsTotal int
}

// NewReconnectionHandler builds a handler ready for Start. tryReconnect and
// onReconnection must be non-nil; onComplete may be nil. OnException is set
// to the default policy (retry unless the error is an authentication
// failure); callers may replace the field before Start.
func NewReconnectionHandler(scheduler Scheduler, schedule Schedule, tryReconnect func() (Connection, error), onReconnection func(Connection), onComplete func()) *ReconnectionHandler {
	h := &ReconnectionHandler{
		scheduler:      scheduler,
		schedule:       schedule,
		TryReconnect:   tryReconnect,
		OnReconnection: onReconnection,
		OnComplete:     onComplete,
		state:          reconnectionInitial,
	}
	h.OnException = h.defaultOnException
	return h
}

// NewHostReconnectionHandler builds a handler for reconnecting to host,
// using connectionFactory to open the connection and resetting the host's
// monitor on success. onComplete is typically the step that reinstates the
// host's pool; it is owned by the caller (spec.md §2: the reinstatement
// step is performed by the session, external to this package). metrics may
// be nil.
func NewHostReconnectionHandler(host *Host, scheduler Scheduler, schedule Schedule, connectionFactory func(address string) (Connection, error), metrics *PoolMetrics, onComplete func(conn Connection, err error)) *ReconnectionHandler {
	var h *ReconnectionHandler
	h = NewReconnectionHandler(
		scheduler,
		schedule,
		func() (Connection, error) { return connectionFactory(host.Address) },
		func(conn Connection) { host.Monitor().Reset() },
		nil,
	)
	h.Metrics = metrics
	var lastConn Connection
	h.OnComplete = func() { onComplete(lastConn, nil) }
	wrapped := h.TryReconnect
	h.TryReconnect = func() (Connection, error) {
		conn, err := wrapped()
		if err == nil {
			lastConn = conn
		}
		return conn, err
	}
	return h
}

// defaultOnException returns false (give up) iff err is an authentication
// failure; otherwise it keeps retrying, per spec.md §4.2.
func (h *ReconnectionHandler) defaultOnException(err error, _ time.Duration) bool {
	return !errors.Is(err, ErrAuthentication)
}

// Start schedules the first reconnection attempt. If the handler has
// already been cancelled, Start is a no-op.
func (h *ReconnectionHandler) Start() {
	h.mu.Lock()
	if h.state == reconnectionCancelled {
		h.mu.Unlock()
		return
	}
	h.state = reconnectionScheduled
	delay := h.schedule.Next()
	h.mu.Unlock()

	h.scheduler.Schedule(delay, h.tick)
}

// tick is the scheduled unit of work. It is never called concurrently with
// itself by a correct Scheduler, but Cancel may run concurrently with it.
func (h *ReconnectionHandler) tick() {
	h.mu.Lock()
	if h.state == reconnectionCancelled {
		h.mu.Unlock()
		h.complete()
		return
	}
	h.state = reconnectionRunning
	h.mu.Unlock()

	h.attemptsTotal++
	if h.Metrics != nil {
		h.Metrics.ReconnectAttempts.Add(1)
	}
	conn, err := h.TryReconnect()
	if err == nil {
		if h.Metrics != nil {
			h.Metrics.ReconnectSuccesses.Add(1)
		}
		h.OnReconnection(conn)
		h.mu.Lock()
		h.state = reconnectionSucceeded
		h.mu.Unlock()
		h.complete()
		return
	}

	h.mu.Lock()
	if h.state == reconnectionCancelled {
		h.mu.Unlock()
		h.complete()
		return
	}
	nextDelay := h.schedule.Next()
	keepGoing := h.OnException(err, nextDelay)
	if !keepGoing {
		h.state = reconnectionGaveUp
		h.mu.Unlock()
		// spec.md §4.2 step 4: give-up does NOT invoke the completion
		// callback.
		return
	}
	h.state = reconnectionScheduled
	h.mu.Unlock()

	h.scheduler.Schedule(nextDelay, h.tick)
}

// Cancel marks the handler terminal. A tick already in flight still
// completes, but tick's own cancellation check suppresses any further
// rescheduling (spec.md §9's resolution of the source's cancellation
// ambiguity: cancellation is terminal, not a fallthrough).
//
// Cancel itself never invokes the completion callback: only tick does, and
// only once it actually runs. If Cancel is called before Start, Start is a
// no-op, no tick ever runs and OnComplete is never invoked. If Cancel is
// called after Start but before the scheduled tick fires, that tick still
// runs: it makes no reconnection attempt and invokes OnComplete once.
func (h *ReconnectionHandler) Cancel() {
	h.mu.Lock()
	h.state = reconnectionCancelled
	h.mu.Unlock()
}

// complete invokes OnComplete exactly once across the handler's lifetime.
func (h *ReconnectionHandler) complete() {
	h.completeOnce.Do(func() {
		if h.OnComplete != nil {
			h.OnComplete()
		}
	})
}

// State reports the handler's current state, for tests and introspection.
func (h *ReconnectionHandler) State() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case reconnectionInitial:
		return "initial"
	case reconnectionScheduled:
		return "scheduled"
	case reconnectionRunning:
		return "running"
	case reconnectionSucceeded:
		return "succeeded"
	case reconnectionGaveUp:
		return "gave_up"
	case reconnectionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
