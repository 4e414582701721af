// Package netconn is a reference implementation of cqlpool.Connection over
// a plain TCP socket, multiplexing many concurrent streams the way the
// teacher's transport_multiplexed.go multiplexes RPC calls over one Unix
// socket: one reader goroutine demultiplexes frames by stream id into
// per-request response channels.
package netconn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arcbound/cqlpool/internal/wire"
	"github.com/arcbound/cqlpool/pkg/cqlpool"
)

// DialTimeout bounds how long Dial waits for the TCP handshake.
const DialTimeout = 5 * time.Second

// ConnectOptions configures Dial.
type ConnectOptions struct {
	// AuthSecret, if non-empty, causes Dial to run the HMAC
	// challenge-response handshake before the connection is usable.
	AuthSecret []byte
	// Codec selects the wire encoding for query bodies. Defaults to JSON.
	Codec CodecType
}

type pendingQuery struct {
	resultCh chan *wire.Frame
	errCh    chan error
	timer    *time.Timer
}

// Connection is a cqlpool.Connection backed by one TCP socket to a cluster
// node, with up to cqlpool.MaxStreamPerConnection requests multiplexed
// concurrently over it.
type Connection struct {
	address string
	conn    net.Conn
	codec   Codec

	writeMu sync.Mutex
	writer  *wire.Writer

	streamCounter atomic.Uint64
	inFlight      atomic.Int32

	mu      sync.Mutex
	pending map[uint64]*pendingQuery

	defunct  atomic.Bool
	errMu    sync.Mutex
	lastErr  error

	closeOnce sync.Once
	closeCh   chan struct{}
	readerWg  sync.WaitGroup
}

// Dial opens a TCP connection to address, optionally authenticating, and
// starts the background reader that demultiplexes responses.
func Dial(ctx context.Context, address string, opts ConnectOptions) (*Connection, error) {
	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", cqlpool.ErrConnection, address, err)
	}

	if len(opts.AuthSecret) > 0 {
		auth := NewHMACAuthenticator(opts.AuthSecret)
		if err := auth.Authenticate(conn); err != nil {
			conn.Close()
			return nil, err
		}
	}

	codec, err := NewCodec(opts.Codec)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Connection{
		address: address,
		conn:    conn,
		codec:   codec,
		writer:  wire.NewWriter(conn),
		pending: make(map[uint64]*pendingQuery),
		closeCh: make(chan struct{}),
	}

	c.readerWg.Add(1)
	go c.readLoop()

	if err := c.startup(ctx); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// startup negotiates the connection the way a driver does before issuing
// any query: send OpStartup with the codec's name and the CQL version it
// speaks, and require an OpReady back.
func (c *Connection) startup(ctx context.Context) error {
	payload, err := c.codec.Marshal(&StartupOptions{CQLVersion: "3.0.0", Codec: c.codec.Name()})
	if err != nil {
		return fmt.Errorf("%w: marshal startup options: %v", cqlpool.ErrConnection, err)
	}

	frame, err := c.roundTrip(ctx, wire.OpStartup, payload)
	if err != nil {
		return err
	}

	var ready Ready
	if err := c.codec.Unmarshal(frame.Payload, &ready); err != nil {
		return fmt.Errorf("%w: unmarshal startup response: %v", cqlpool.ErrConnection, err)
	}
	if !ready.OK {
		return fmt.Errorf("%w: node rejected startup options", cqlpool.ErrConnection)
	}
	return nil
}

// TryBorrow implements cqlpool.Connection.
func (c *Connection) TryBorrow() bool {
	for {
		cur := c.inFlight.Load()
		if cur >= cqlpool.MaxStreamPerConnection {
			return false
		}
		if c.inFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Return implements cqlpool.Connection.
func (c *Connection) Return() int {
	return int(c.inFlight.Add(-1))
}

// InFlight implements cqlpool.Connection.
func (c *Connection) InFlight() int {
	return int(c.inFlight.Load())
}

// IsDefunct implements cqlpool.Connection.
func (c *Connection) IsDefunct() bool {
	return c.defunct.Load()
}

// LastError implements cqlpool.Connection.
func (c *Connection) LastError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

func (c *Connection) markDefunct(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
	c.defunct.Store(true)
}

// SetKeyspace implements cqlpool.Connection, issuing a query that switches
// the connection's active keyspace.
func (c *Connection) SetKeyspace(ctx context.Context, keyspace string) error {
	if keyspace == "" {
		return nil
	}
	result, err := c.executeQuery(ctx, "USE "+keyspace)
	if err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("%w: USE %s: %s", cqlpool.ErrConnection, keyspace, result.Error)
	}
	return nil
}

// executeQuery marshals cql into a QueryRequest via the connection's codec,
// round-trips an OpQuery frame, and decodes the OpResult response body.
func (c *Connection) executeQuery(ctx context.Context, cql string) (*QueryResult, error) {
	payload, err := c.codec.Marshal(&QueryRequest{CQL: cql})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal query: %v", cqlpool.ErrConnection, err)
	}

	frame, err := c.roundTrip(ctx, wire.OpQuery, payload)
	if err != nil {
		return nil, err
	}

	var result QueryResult
	if err := c.codec.Unmarshal(frame.Payload, &result); err != nil {
		return nil, fmt.Errorf("%w: unmarshal query result: %v", cqlpool.ErrConnection, err)
	}
	return &result, nil
}

// Close implements cqlpool.Connection. It is idempotent.
func (c *Connection) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		closeErr = c.conn.Close()
		c.readerWg.Wait()

		c.mu.Lock()
		for id, p := range c.pending {
			select {
			case p.errCh <- fmt.Errorf("%w: connection closed", cqlpool.ErrConnection):
			default:
			}
			p.timer.Stop()
			delete(c.pending, id)
		}
		c.mu.Unlock()
	})
	return closeErr
}

// roundTrip sends one frame and waits for its matching response, timing
// out against ctx's deadline (or 30s if ctx carries none).
func (c *Connection) roundTrip(ctx context.Context, opcode wire.Opcode, payload []byte) (*wire.Frame, error) {
	if c.defunct.Load() {
		return nil, fmt.Errorf("%w: connection is defunct", cqlpool.ErrConnection)
	}

	streamID := c.streamCounter.Add(1)
	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	pending := &pendingQuery{
		resultCh: make(chan *wire.Frame, 1),
		errCh:    make(chan error, 1),
		timer:    time.NewTimer(timeout),
	}

	c.mu.Lock()
	c.pending[streamID] = pending
	c.mu.Unlock()

	defer func() {
		pending.timer.Stop()
		c.mu.Lock()
		delete(c.pending, streamID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.writer.WriteFrame(wire.NewFrame(streamID, opcode, payload))
	c.writeMu.Unlock()
	if err != nil {
		c.markDefunct(err)
		return nil, fmt.Errorf("%w: write frame: %v", cqlpool.ErrConnection, err)
	}

	select {
	case resp := <-pending.resultCh:
		return resp, nil
	case err := <-pending.errCh:
		return nil, err
	case <-pending.timer.C:
		return nil, fmt.Errorf("%w: request timed out after %v", cqlpool.ErrConnection, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop demultiplexes incoming frames by stream id, delivering each to
// the goroutine blocked in roundTrip. A read error defuncts the connection
// and fails every outstanding request.
func (c *Connection) readLoop() {
	defer c.readerWg.Done()
	reader := wire.NewReader(c.conn)

	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			select {
			case <-c.closeCh:
				return // expected on Close
			default:
			}
			c.handleReadError(err)
			return
		}

		if frame.Header.Opcode == wire.OpError {
			c.deliverError(frame.Header.StreamID, fmt.Errorf("%w: %s", cqlpool.ErrConnection, string(frame.Payload)))
			continue
		}

		c.mu.Lock()
		p, ok := c.pending[frame.Header.StreamID]
		c.mu.Unlock()
		if !ok {
			continue // response for a request we've already given up on
		}

		select {
		case p.resultCh <- frame:
		case <-p.timer.C:
		}
	}
}

func (c *Connection) deliverError(streamID uint64, err error) {
	c.mu.Lock()
	p, ok := c.pending[streamID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case p.errCh <- err:
	default:
	}
}

func (c *Connection) handleReadError(err error) {
	c.markDefunct(fmt.Errorf("%w: %v", cqlpool.ErrConnection, err))

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]*pendingQuery)
	c.mu.Unlock()

	for _, p := range pending {
		select {
		case p.errCh <- c.LastError():
		default:
		}
		p.timer.Stop()
	}
}
