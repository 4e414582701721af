package cqlpool

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// Session is the surface HostConnectionPool needs from its owning
// Session/Cluster: per-host-distance sizing thresholds, a synchronous
// connection opener, a fire-and-forget task executor, and the active
// keyspace (spec.md §6's "Config read from Cluster").
type Session interface {
	CoreConnectionsPerHost(d HostDistance) int
	MaxConnectionsPerHost(d HostDistance) int
	MaxRequestsPerConnection(d HostDistance) int
	MinRequestsPerConnection(d HostDistance) int
	Connect(ctx context.Context, address string) (Connection, error)
	Submit(task func())
	Keyspace() string
}

// DefaultSession is a Session backed by a Config and a sourcegraph/conc
// worker pool (bounded only when NewDefaultSession is given a positive
// maxGoroutines) standing in for the "shared thread-pool
// submit primitive" spec.md §6 asks the Cluster to provide. Using conc
// instead of a bare `go func(){...}()` gives submitted tasks panic
// recovery: a panicking connection-creation task cannot take down the
// process, matching the "submit is infallible" reading documented in
// DESIGN.md's open-question #2.
type DefaultSession struct {
	cfg      *Config
	factory  ConnectionFactory
	keyspace string
	executor *pool.Pool
}

// NewDefaultSession builds a Session. maxGoroutines bounds the number of
// concurrently running background tasks (connection creation/replacement);
// 0 means unbounded.
func NewDefaultSession(cfg *Config, factory ConnectionFactory, keyspace string, maxGoroutines int) *DefaultSession {
	p := pool.New()
	if maxGoroutines > 0 {
		p = p.WithMaxGoroutines(maxGoroutines)
	}
	return &DefaultSession{cfg: cfg, factory: factory, keyspace: keyspace, executor: p}
}

// CoreConnectionsPerHost implements Session.
func (s *DefaultSession) CoreConnectionsPerHost(d HostDistance) int {
	core, _ := s.cfg.Pool.PerHostDistance(d)
	return core
}

// MaxConnectionsPerHost implements Session.
func (s *DefaultSession) MaxConnectionsPerHost(d HostDistance) int {
	_, max := s.cfg.Pool.PerHostDistance(d)
	return max
}

// MaxRequestsPerConnection implements Session.
func (s *DefaultSession) MaxRequestsPerConnection(HostDistance) int {
	return s.cfg.Pool.MaxRequestsPerConnection
}

// MinRequestsPerConnection implements Session.
func (s *DefaultSession) MinRequestsPerConnection(HostDistance) int {
	return s.cfg.Pool.MinRequestsPerConnection
}

// Connect implements Session.
func (s *DefaultSession) Connect(ctx context.Context, address string) (Connection, error) {
	return s.factory(ctx, address)
}

// Submit implements Session, handing task to the shared conc pool.
func (s *DefaultSession) Submit(task func()) {
	s.executor.Go(task)
}

// Keyspace implements Session.
func (s *DefaultSession) Keyspace() string { return s.keyspace }

// Wait blocks until every submitted task has completed. Used by tests and
// by orderly shutdown to make sure no background creation task is still
// touching a pool that is about to be discarded.
func (s *DefaultSession) Wait() {
	s.executor.Wait()
}
