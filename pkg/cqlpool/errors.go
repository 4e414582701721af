package cqlpool

import "errors"

// Sentinel errors surfaced to callers of HostConnectionPool. Wrap with
// fmt.Errorf("...: %w", err) at call sites; compare with errors.Is.
var (
	// ErrPoolShutdown is returned by BorrowConnection and from within the
	// wait path once the pool has been shut down.
	ErrPoolShutdown = errors.New("cqlpool: pool shutdown")

	// ErrNoConnectionsAvailable is returned when a borrow's timeout expires
	// before a stream can be claimed.
	ErrNoConnectionsAvailable = errors.New("cqlpool: no connections available")

	// ErrBusyConnection is reserved for callers that inspect per-connection
	// saturation directly; the pool itself never returns it.
	ErrBusyConnection = errors.New("cqlpool: connection busy")

	// ErrConnection marks a network-layer open or I/O failure. It is fed to
	// ConvictionPolicy.AddFailure and may lead to host conviction.
	ErrConnection = errors.New("cqlpool: connection error")

	// ErrAuthentication marks a terminal, non-convicting failure: the
	// ReconnectionHandler gives up, but the host is not marked down by it.
	ErrAuthentication = errors.New("cqlpool: authentication error")
)
