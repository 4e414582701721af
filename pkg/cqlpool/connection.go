package cqlpool

import "context"

// Connection is the external collaborator HostConnectionPool manages. The
// wire protocol framing and the object's internals are out of scope for
// this module (spec.md §1); the pool only ever touches the operations
// below. A concrete implementation lives in package netconn.
type Connection interface {
	// TryBorrow atomically checks in-flight < MaxStreamPerConnection and,
	// if so, increments it and reports true. It is the Go-idiomatic
	// collapsing of spec.md §4.3.2 step 5's "acquire conn.lock; test
	// in_flight < MAX_STREAM_PER_CONNECTION" into one call on the
	// connection's own internal lock.
	TryBorrow() bool

	// Return releases one previously granted stream slot and reports the
	// resulting in-flight count. Every TryBorrow that returns true must be
	// matched by exactly one Return.
	Return() int

	// InFlight reports a snapshot of the current in-flight count.
	InFlight() int

	// IsDefunct reports whether the connection has been marked unusable
	// after an I/O failure.
	IsDefunct() bool

	// LastError returns the error that marked the connection defunct, if
	// any error has been recorded.
	LastError() error

	// SetKeyspace idempotently switches the connection's active keyspace.
	// The pool calls this on every successful borrow (spec.md §4.3.2).
	SetKeyspace(ctx context.Context, keyspace string) error

	// Close closes the connection. Close must be idempotent: the pool may
	// reach a given connection through more than one closing path (trash
	// drain, replace, shutdown) but guarantees only one of them wins the
	// race to actually call Close's underlying teardown.
	Close() error
}

// ConnectionFactory synchronously opens a new Connection to address. A nil
// error and non-nil Connection indicates success; a non-nil error should
// be (or wrap) ErrConnection or ErrAuthentication so that callers can
// distinguish a host-wide failure from a non-convicting auth failure.
type ConnectionFactory func(ctx context.Context, address string) (Connection, error)
