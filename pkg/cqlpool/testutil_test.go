package cqlpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeConnection is a minimal in-memory Connection for tests. It tracks
// in-flight streams with an atomic counter and lets tests force it defunct.
type fakeConnection struct {
	id int

	inFlight atomic.Int32
	maxFlows int32

	mu       sync.Mutex
	defunct  bool
	lastErr  error
	closed   bool
	closeErr error

	keyspaces []string
}

func newFakeConnection(id int, maxFlows int32) *fakeConnection {
	return &fakeConnection{id: id, maxFlows: maxFlows}
}

func (c *fakeConnection) TryBorrow() bool {
	for {
		cur := c.inFlight.Load()
		if cur >= c.maxFlows {
			return false
		}
		if c.inFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (c *fakeConnection) Return() int {
	return int(c.inFlight.Add(-1))
}

func (c *fakeConnection) InFlight() int {
	return int(c.inFlight.Load())
}

func (c *fakeConnection) IsDefunct() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defunct
}

func (c *fakeConnection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *fakeConnection) markDefunct(err error) {
	c.mu.Lock()
	c.defunct = true
	c.lastErr = err
	c.mu.Unlock()
}

func (c *fakeConnection) SetKeyspace(_ context.Context, keyspace string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyspaces = append(c.keyspaces, keyspace)
	return nil
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.closeErr
}

func (c *fakeConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeSession is an in-memory Session for pool tests: it hands out
// fakeConnections, runs each submitted task on a new goroutine unless
// configured to defer them, and exposes fixed sizing thresholds.
type fakeSession struct {
	mu           sync.Mutex
	nextID       int
	core         int
	max          int
	maxReqs      int
	minReqs      int
	keyspace     string
	connectErr   error
	connectHook  func(address string) (Connection, error)
	deferSubmits bool
	pending      []func()
}

func newFakeSession(core, max, maxReqs, minReqs int) *fakeSession {
	return &fakeSession{core: core, max: max, maxReqs: maxReqs, minReqs: minReqs}
}

func (s *fakeSession) CoreConnectionsPerHost(HostDistance) int   { return s.core }
func (s *fakeSession) MaxConnectionsPerHost(HostDistance) int    { return s.max }
func (s *fakeSession) MaxRequestsPerConnection(HostDistance) int { return s.maxReqs }
func (s *fakeSession) MinRequestsPerConnection(HostDistance) int { return s.minReqs }
func (s *fakeSession) Keyspace() string                          { return s.keyspace }

func (s *fakeSession) Connect(ctx context.Context, address string) (Connection, error) {
	s.mu.Lock()
	hook := s.connectHook
	err := s.connectErr
	s.nextID++
	id := s.nextID
	maxReqs := int32(s.maxReqs)
	s.mu.Unlock()

	if hook != nil {
		return hook(address)
	}
	if err != nil {
		return nil, err
	}
	return newFakeConnection(id, maxReqs), nil
}

// Submit runs task asynchronously, mirroring the production executor's
// fire-and-forget contract: callers holding HostConnectionPool's lock must
// not block waiting for a submitted task to finish. Running it inline here
// would self-deadlock against a caller that submitted while holding that
// same lock.
func (s *fakeSession) Submit(task func()) {
	s.mu.Lock()
	if s.deferSubmits {
		s.pending = append(s.pending, task)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	go task()
}

// runPending executes tasks queued while deferSubmits was true.
func (s *fakeSession) runPending() {
	s.mu.Lock()
	tasks := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, t := range tasks {
		t()
	}
}

// waitUntil polls cond every few milliseconds until it reports true or
// timeout elapses, for assertions against the fakeSession's asynchronous
// background tasks.
func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
